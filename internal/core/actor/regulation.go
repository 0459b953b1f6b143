package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/battery-regulator/internal/config"
	"github.com/berfenger/battery-regulator/internal/core/domain"
	"github.com/berfenger/battery-regulator/internal/core/port"
	"github.com/berfenger/battery-regulator/internal/core/service"
	. "github.com/berfenger/battery-regulator/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	READING_REQUEST_TIMEOUT = 1 * time.Second
	// extra time granted to the actuator actor on top of the actuator timeout
	DISPATCH_REPLY_MARGIN = 1 * time.Second
)

// RegulationActor runs the regulation loop. It owns the previous decision, so every access to it
// goes through the actor mailbox.
type RegulationActor struct {
	ActorWithStates
	scheduler     *scheduler.TimerScheduler
	readingsActor *actor.PID
	actuatorActor *actor.PID
	eventStream   *eventstream.EventStream
	engine        port.RegulationEngine
	policy        service.DispatchPolicy
	now           func() time.Time

	interval         time.Duration
	retryDelay       time.Duration
	retryMaxAttempts int
	dispatchTimeout  time.Duration

	enabled        bool
	current        domain.Decision
	batteryPowerW  int
	lastModeChange time.Time
	lastAcked      *domain.Decision
	lastAckedAt    time.Time
	cycleId        string
	sampling       bool
	cycles         uint64
	skipped        uint64
	lastError      string

	dispatch dispatchState

	logger *zap.Logger
}

// dispatchState tracks the single command allowed in flight and its retries.
type dispatchState struct {
	inFlight    bool
	inFlightCmd domain.Decision
	pending     bool
	retryCmd    *domain.Decision
	attempts    int
	cancelRetry scheduler.CancelFunc
	cancelTick  scheduler.CancelFunc
}

type regulationTick struct {
}

type dispatchRetryTick struct {
}

func NewRegulationActor(cfg *config.Config, engine port.RegulationEngine, readingsActor, actuatorActor *actor.PID,
	eventStream *eventstream.EventStream, logger *zap.Logger) *RegulationActor {
	now := time.Now
	act := &RegulationActor{
		readingsActor: readingsActor,
		actuatorActor: actuatorActor,
		eventStream:   eventStream,
		engine:        engine,
		policy: service.DispatchPolicy{
			ModeChangeCooldown: cfg.Regulation.ModeChangeCooldown(),
			CommandDuration:    cfg.Regulation.CommandDuration(),
		},
		now:              now,
		interval:         cfg.Regulation.Interval(),
		retryDelay:       cfg.Regulation.RetryDelay(),
		retryMaxAttempts: int(cfg.Regulation.RetryMaxAttempts),
		dispatchTimeout:  cfg.Actuator.Timeout() + DISPATCH_REPLY_MARGIN,
		enabled:          cfg.Regulation.Enabled,
		current:          domain.AutoDecision("startup"),
		lastModeChange:   now(),
		logger:           ActorLogger(domain.ACTOR_ID_REGULATION, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(RegStartingState{
		actor: act,
	})
	return act
}

// WithClock replaces the time source. It also resets the last mode change time.
func (state *RegulationActor) WithClock(now func() time.Time) *RegulationActor {
	state.now = now
	state.lastModeChange = now()
	return state
}

func (state *RegulationActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type RegStartingState struct {
	ActorState
	actor *RegulationActor
}

func (state RegStartingState) Name() string {
	return "starting"
}

func (state RegStartingState) Receive(ctx actor.Context) {
	switch ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("regulation@starting started", zap.Duration("interval", state.actor.interval),
			zap.Bool("enabled", state.actor.enabled))
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx.ActorSystem().Root)
		state.actor.dispatch.cancelTick = state.actor.scheduler.SendRepeatedly(state.actor.interval, state.actor.interval,
			ctx.Self(), regulationTick{})
		state.actor.publish(domain.RegulationEnabledEvent{Enabled: state.actor.enabled})
		state.actor.Become(RegRunningState{
			actor: state.actor,
		})
	case *actor.Restarting:
		state.actor.stopTimers()
	default:
	}
}

// Running state

type RegRunningState struct {
	ActorState
	actor *RegulationActor
}

func (state RegRunningState) Name() string {
	return "running"
}

func (state RegRunningState) Receive(ctx actor.Context) {
	a := state.actor
	switch msg := ctx.Message().(type) {
	case regulationTick:
		a.onTick(ctx)
	case domain.GetReadingResponse:
		a.onReading(ctx, msg)
	case domain.BatteryCommandResponse:
		a.onCommandResponse(ctx, msg)
	case dispatchRetryTick:
		a.onRetry(ctx)
	case domain.SetRegulationEnabledRequest:
		a.logger.Info("regulation@running SetRegulationEnabledRequest", zap.Bool("enabled", msg.Enabled))
		if a.enabled != msg.Enabled {
			a.enabled = msg.Enabled
			a.publish(domain.RegulationEnabledEvent{Enabled: msg.Enabled})
			a.dispatchLatest(ctx)
		}
		ForRequest(msg).Respond(ctx, domain.SetRegulationEnabledResponse{Enabled: a.enabled})
	case domain.GetRegulationStateRequest:
		ForRequest(msg).Respond(ctx, domain.GetRegulationStateResponse{State: a.snapshot()})
	case domain.ActorHealthRequest:
		a.logger.Debug("regulation@running ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_REGULATION,
			Healthy: true,
			State:   a.current.Mode.String(),
		})
	case *actor.Stopping:
		a.stopTimers()
	case *actor.Restarting:
		a.stopTimers()
	default:
		a.logger.Debug("regulation@running recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *RegulationActor) onTick(ctx actor.Context) {
	if state.sampling {
		state.logger.Warn("regulation@running previous cycle still sampling, tick dropped", zap.String("cycle", state.cycleId))
		return
	}
	state.cycleId = uuid.NewString()[:8]
	state.sampling = true
	state.cycles++
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.readingsActor, domain.GetReadingRequest{}, READING_REQUEST_TIMEOUT), func(err error) any {
		return domain.GetReadingResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
		}
	})
}

func (state *RegulationActor) onReading(ctx actor.Context, msg domain.GetReadingResponse) {
	state.sampling = false
	log := state.logger.With(zap.String("cycle", state.cycleId))

	if msg.HasResponseError() {
		state.skipped++
		state.lastError = msg.GetResponseError().Error()
		log.Warn("regulation@running cycle skipped", zap.Error(msg.GetResponseError()))
		state.publish(domain.CycleSkippedEvent{Error: msg.GetResponseError()})
		return
	}

	now := state.now()
	prev := state.current
	next := state.engine.Decide(msg.Reading, prev)
	adopted, suppressed := state.policy.Admit(next, prev, state.lastModeChange, now)
	if adopted.Mode != prev.Mode {
		state.lastModeChange = now
	}
	state.current = adopted
	state.batteryPowerW = service.SignedBatteryPower(prev.Mode, msg.Reading.BatteryPowerW)

	log.Info("regulation@running decision",
		zap.Stringer("mode", adopted.Mode), zap.Int("power_w", adopted.PowerW),
		zap.Int("target_soc", adopted.TargetSoC), zap.Int("reserve_soc", adopted.ReserveSoC),
		zap.Float64("grid_w", msg.Reading.GridPowerW), zap.Float64("soc", msg.Reading.BatterySoC),
		zap.Bool("suppressed", suppressed), zap.String("reason", adopted.Reason))

	state.publish(domain.DecisionEvent{
		Decision:      adopted,
		BatteryPowerW: state.batteryPowerW,
	})
	state.dispatchLatest(ctx)
}

// desired is the command the battery should be running now.
func (state *RegulationActor) desired() domain.Decision {
	if !state.enabled {
		return domain.AutoDecision("regulation disabled")
	}
	return state.current
}

// dispatchLatest sends the latest desired command unless it is already acknowledged. A command in
// flight defers it until completion. A pending retry of the same command is left to run, a
// pending retry of another command is superseded.
func (state *RegulationActor) dispatchLatest(ctx actor.Context) {
	d := &state.dispatch
	if d.inFlight {
		d.pending = true
		return
	}
	desired := state.desired()
	if !state.policy.NeedsDispatch(desired, state.lastAcked, state.lastAckedAt, state.now()) {
		state.cancelRetry()
		return
	}
	if d.retryCmd != nil {
		if desired.SameCommand(*d.retryCmd) {
			return
		}
		state.logger.Debug("regulation@running retry superseded", zap.String("cycle", state.cycleId),
			zap.Stringer("mode", desired.Mode), zap.Int("power_w", desired.PowerW))
		state.cancelRetry()
	}
	state.send(ctx, desired)
}

func (state *RegulationActor) send(ctx actor.Context, cmd domain.Decision) {
	d := &state.dispatch
	d.inFlight = true
	d.inFlightCmd = cmd
	state.logger.Debug("regulation@running dispatch", zap.String("cycle", state.cycleId),
		zap.Stringer("mode", cmd.Mode), zap.Int("power_w", cmd.PowerW), zap.Int("attempt", d.attempts))
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actuatorActor, domain.BatteryCommandRequest{
		Mode:     cmd.Mode,
		PowerW:   cmd.PowerW,
		Duration: state.policy.CommandDuration,
	}, state.dispatchTimeout), func(err error) any {
		return domain.BatteryCommandResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: err,
			},
			Mode:   cmd.Mode,
			PowerW: cmd.PowerW,
		}
	})
}

func (state *RegulationActor) onCommandResponse(ctx actor.Context, msg domain.BatteryCommandResponse) {
	d := &state.dispatch
	if !d.inFlight {
		state.logger.Debug("regulation@running unexpected BatteryCommandResponse")
		return
	}
	d.inFlight = false
	cmd := d.inFlightCmd

	state.publish(domain.DispatchResultEvent{
		Mode:    cmd.Mode,
		PowerW:  cmd.PowerW,
		Attempt: d.attempts,
		Error:   msg.GetResponseError(),
	})

	if msg.HasResponseError() {
		d.attempts++
		state.lastError = msg.GetResponseError().Error()
		if state.retryMaxAttempts == 0 || d.attempts <= state.retryMaxAttempts {
			state.logger.Warn("regulation@running dispatch failed, retrying", zap.String("cycle", state.cycleId),
				zap.Int("attempt", d.attempts), zap.Duration("delay", state.retryDelay), zap.Error(msg.GetResponseError()))
			d.retryCmd = &cmd
			d.cancelRetry = state.scheduler.SendOnce(state.retryDelay, ctx.Self(), dispatchRetryTick{})
		} else {
			state.logger.Error("regulation@running dispatch failed, giving up until next cycle", zap.String("cycle", state.cycleId),
				zap.Int("attempts", d.attempts), zap.Error(msg.GetResponseError()))
			d.attempts = 0
		}
	} else {
		acked := cmd
		state.lastAcked = &acked
		state.lastAckedAt = state.now()
		d.attempts = 0
		state.logger.Debug("regulation@running dispatch acknowledged", zap.String("cycle", state.cycleId),
			zap.Stringer("mode", cmd.Mode), zap.Int("power_w", cmd.PowerW))
	}

	if d.pending {
		d.pending = false
		state.dispatchLatest(ctx)
	}
}

// onRetry re-reads the latest decision, so a retry never resends a stale command.
func (state *RegulationActor) onRetry(ctx actor.Context) {
	d := &state.dispatch
	d.cancelRetry = nil
	d.retryCmd = nil
	if d.inFlight {
		d.pending = true
		return
	}
	desired := state.desired()
	if !state.policy.NeedsDispatch(desired, state.lastAcked, state.lastAckedAt, state.now()) {
		d.attempts = 0
		return
	}
	state.send(ctx, desired)
}

func (state *RegulationActor) cancelRetry() {
	d := &state.dispatch
	if d.cancelRetry != nil {
		d.cancelRetry()
		d.cancelRetry = nil
	}
	d.retryCmd = nil
	d.attempts = 0
}

func (state *RegulationActor) stopTimers() {
	state.cancelRetry()
	if state.dispatch.cancelTick != nil {
		state.dispatch.cancelTick()
		state.dispatch.cancelTick = nil
	}
}

func (state *RegulationActor) snapshot() domain.RegulationState {
	s := domain.RegulationState{
		Enabled:          state.enabled,
		Decision:         state.current,
		BatteryPowerW:    state.batteryPowerW,
		LastCommandTime:  state.lastAckedAt,
		DispatchInFlight: state.dispatch.inFlight,
		Cycles:           state.cycles,
		SkippedCycles:    state.skipped,
		LastError:        state.lastError,
	}
	if state.lastAcked != nil {
		acked := *state.lastAcked
		s.LastCommand = &acked
	}
	return s
}

func (state *RegulationActor) publish(evt any) {
	if state.eventStream != nil {
		state.eventStream.Publish(evt)
	}
}
