package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/battery-regulator/internal/core/domain"
	"github.com/berfenger/battery-regulator/internal/core/port"
	"github.com/berfenger/battery-regulator/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/logger"
	"go.uber.org/zap"
)

// ActuatorActor serialises the calls to a BatteryActuator. Each call runs in a background
// task bounded by timeout, and requests received meanwhile are stashed.
type ActuatorActor struct {
	behavior actor.Behavior
	stash    *actorutil.Stash
	actuator port.BatteryActuator
	timeout  time.Duration
	logger   *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

func NewActuatorActor(actuator port.BatteryActuator, timeout time.Duration, logger *zap.Logger) *ActuatorActor {
	act := &ActuatorActor{
		actuator: actuator,
		timeout:  timeout,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_ACTUATOR, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *ActuatorActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *ActuatorActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("actuator@starting started")
		if lc, ok := state.actuator.(port.ActuatorLifecycle); ok {
			if err := lc.Open(); err != nil {
				state.logger.Error("actuator@starting open error", zap.Error(err))
				panic(err)
			}
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.close()
	default:
		state.logger.Debug("actuator@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *ActuatorActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("actuator@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_ACTUATOR,
			Healthy: true,
			State:   "idle",
		})
	case domain.BatteryCommandRequest:
		state.logger.Debug("actuator@default BatteryCommandRequest", zap.Stringer("mode", msg.Mode), zap.Int("power_w", msg.PowerW))
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTaskNoError(ctx, func() *domain.BatteryCommandResponse {
			resp := state.execute(msg)
			return &resp
		}), mapTaskResult[domain.BatteryCommandResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.BatteryCommandResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
					Mode:   msg.Mode,
					PowerW: msg.PowerW,
				},
				replyTo: sender,
			}
		}).WithTimeout(state.timeout).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingActuator)
	case *actor.Restarting:
		state.close()
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("actuator@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *ActuatorActor) WaitingActuator(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("actuator@waiting backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.message)
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.close()
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("actuator@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *ActuatorActor) execute(req domain.BatteryCommandRequest) domain.BatteryCommandResponse {
	cctx, cancel := context.WithTimeout(context.Background(), state.timeout)
	defer cancel()

	var err error
	if req.Mode == domain.ModeAuto {
		err = state.actuator.SetAuto(cctx)
	} else {
		err = state.actuator.SetPower(cctx, req.PowerW, req.Duration)
	}
	if err != nil {
		logger.Error(err)
	}
	return domain.BatteryCommandResponse{
		ActorResponseMixIn: domain.ActorResponseMixIn{
			ResponseError: err,
		},
		Mode:   req.Mode,
		PowerW: req.PowerW,
	}
}

func (state *ActuatorActor) close() {
	if lc, ok := state.actuator.(port.ActuatorLifecycle); ok {
		if err := lc.Close(); err != nil {
			state.logger.Warn("actuator: close error", zap.Error(err))
		}
	}
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}

// ActorPublisher publishes raw messages through the MQTT actor.
type ActorPublisher struct {
	root    *actor.RootContext
	pid     *actor.PID
	timeout time.Duration
}

func NewActorPublisher(root *actor.RootContext, mqttActor *actor.PID, timeout time.Duration) *ActorPublisher {
	return &ActorPublisher{
		root:    root,
		pid:     mqttActor,
		timeout: timeout,
	}
}

func (p *ActorPublisher) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	timeout := p.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}
	res, err := p.root.RequestFuture(p.pid, domain.PublishMessageRequest{
		Topic:   topic,
		Payload: string(payload),
		Retain:  retain,
	}, timeout).Result()
	if err != nil {
		return err
	}
	resp, ok := res.(domain.PublishMessageResponse)
	if !ok {
		return errors.New("unexpected publish response")
	}
	return resp.GetResponseError()
}

// ensure interface compliance
var _ port.MessagePublisher = (*ActorPublisher)(nil)
