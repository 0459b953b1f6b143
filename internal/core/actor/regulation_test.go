package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	adactor "github.com/berfenger/battery-regulator/internal/adapter/actor"
	"github.com/berfenger/battery-regulator/internal/config"
	"github.com/berfenger/battery-regulator/internal/core/domain"
	"github.com/berfenger/battery-regulator/internal/core/service"
	"github.com/berfenger/battery-regulator/internal/util"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errBatteryOffline = errors.New("battery offline")

type actuatorCall struct {
	auto   bool
	powerW int
}

type recordingActuator struct {
	mu    sync.Mutex
	calls []actuatorCall
	err   error
}

func (a *recordingActuator) SetPower(ctx context.Context, powerW int, duration time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, actuatorCall{powerW: powerW})
	return a.err
}

func (a *recordingActuator) SetAuto(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, actuatorCall{auto: true})
	return a.err
}

func (a *recordingActuator) setErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.err = err
}

func (a *recordingActuator) Calls() []actuatorCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]actuatorCall(nil), a.calls...)
}

type stubReadings struct {
	mu      sync.Mutex
	reading domain.Reading
	err     error
}

func (s *stubReadings) set(r domain.Reading, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reading = r
	s.err = err
}

func (s *stubReadings) Receive(ctx actor.Context) {
	switch ctx.Message().(type) {
	case domain.GetReadingRequest:
		s.mu.Lock()
		defer s.mu.Unlock()
		ctx.Respond(domain.GetReadingResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{
				ResponseError: s.err,
			},
			Reading: s.reading,
		})
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []any
}

func (r *eventRecorder) record(evt any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) decisions() []domain.DecisionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.DecisionEvent
	for _, e := range r.events {
		if d, ok := e.(domain.DecisionEvent); ok {
			out = append(out, d)
		}
	}
	return out
}

func (r *eventRecorder) count(match func(any) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if match(e) {
			n++
		}
	}
	return n
}

func isSkipped(e any) bool {
	_, ok := e.(domain.CycleSkippedEvent)
	return ok
}

func isFailedDispatch(e any) bool {
	d, ok := e.(domain.DispatchResultEvent)
	return ok && d.Error != nil
}

type regulationHarness struct {
	t        *testing.T
	system   *actor.ActorSystem
	pid      *actor.PID
	readings *stubReadings
	actuator *recordingActuator
	clock    *fakeClock
	events   *eventRecorder
}

func newRegulationHarness(t *testing.T, mutate func(cfg *config.Config)) *regulationHarness {
	cfg := util.LoadTestConfig()
	// ticks are sent by the tests
	cfg.Regulation.IntervalMillis = uint32(time.Hour.Milliseconds())
	cfg.Regulation.ModeChangeCooldownMillis = 0
	cfg.Regulation.RetryDelayMillis = 50
	if mutate != nil {
		mutate(&cfg)
	}
	logger := zap.Must(zap.NewDevelopment())

	h := &regulationHarness{
		t:        t,
		system:   actor.NewActorSystem(),
		readings: &stubReadings{},
		actuator: &recordingActuator{},
		clock:    &fakeClock{now: time.Date(2024, 6, 1, 14, 0, 0, 0, time.Local)},
		events:   &eventRecorder{},
	}
	es := eventstream.NewEventStream()
	es.Subscribe(h.events.record)

	root := h.system.Root
	readingsPID := root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return h.readings
	}))
	actuatorPID := root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewActuatorActor(h.actuator, cfg.Actuator.Timeout(), logger)
	}))
	engine := service.NewRegulationEngine(cfg.Regulation.Settings())
	h.pid = root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewRegulationActor(&cfg, engine, readingsPID, actuatorPID, es, logger).WithClock(h.clock.Now)
	}))
	t.Cleanup(h.system.Shutdown)
	return h
}

func (h *regulationHarness) setReading(grid, solar, soc, battery float64) {
	h.readings.set(domain.Reading{
		GridPowerW:               grid,
		SolarPowerW:              solar,
		BatterySoC:               soc,
		BatteryPowerW:            battery,
		SolarForecastTodayWh:     5000,
		SolarForecastRemainingWh: 2000,
		Time:                     h.clock.Now(),
	}, nil)
}

// tick runs one cycle and waits until its decision is published.
func (h *regulationHarness) tick() {
	n := len(h.events.decisions())
	h.system.Root.Send(h.pid, regulationTick{})
	require.Eventually(h.t, func() bool {
		return len(h.events.decisions()) > n
	}, 2*time.Second, 10*time.Millisecond)
}

func (h *regulationHarness) state() domain.RegulationState {
	res, err := h.system.Root.RequestFuture(h.pid, domain.GetRegulationStateRequest{}, time.Second).Result()
	require.NoError(h.t, err)
	resp, ok := res.(domain.GetRegulationStateResponse)
	require.True(h.t, ok)
	return resp.State
}

func (h *regulationHarness) waitIdle() {
	require.Eventually(h.t, func() bool {
		return !h.state().DispatchInFlight
	}, 2*time.Second, 10*time.Millisecond)
}

func (h *regulationHarness) waitCalls(n int) {
	require.Eventually(h.t, func() bool {
		return len(h.actuator.Calls()) >= n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRegulationDispatchesOnChangeOnly(t *testing.T) {
	h := newRegulationHarness(t, nil)

	h.setReading(-443, 559, 52, 0)
	h.tick()
	h.waitCalls(1)
	h.waitIdle()
	assert.Equal(t, []actuatorCall{{powerW: -343}}, h.actuator.Calls())

	// same command, nothing to send
	h.tick()
	h.waitIdle()
	assert.Len(t, h.actuator.Calls(), 1)

	h.setReading(0, 0, 52, 343)
	h.tick()
	h.waitCalls(2)
	h.waitIdle()
	assert.Equal(t, []actuatorCall{{powerW: -343}, {auto: true}}, h.actuator.Calls())

	state := h.state()
	assert.Equal(t, domain.ModeAuto, state.Decision.Mode)
	require.NotNil(t, state.LastCommand)
	assert.Equal(t, domain.ModeAuto, state.LastCommand.Mode)
	assert.Equal(t, uint64(3), state.Cycles)
}

func TestRegulationPublishesSignedBatteryPower(t *testing.T) {
	h := newRegulationHarness(t, nil)

	h.setReading(-443, 559, 52, 0)
	h.tick()
	h.waitIdle()

	h.setReading(-443, 559, 52, 8)
	h.tick()

	decisions := h.events.decisions()
	require.Len(t, decisions, 2)
	last := decisions[1]
	assert.Equal(t, -8, last.BatteryPowerW)
	assert.Equal(t, domain.ModeChargeSurplus, last.Decision.Mode)
	assert.Equal(t, -351, last.Decision.PowerW)
}

func TestRegulationSkipsCycleWithoutReading(t *testing.T) {
	h := newRegulationHarness(t, nil)

	h.readings.set(domain.Reading{}, domain.ErrReadingUnavailable)
	h.system.Root.Send(h.pid, regulationTick{})
	require.Eventually(t, func() bool {
		return h.events.count(isSkipped) == 1
	}, 2*time.Second, 10*time.Millisecond)

	state := h.state()
	assert.Equal(t, uint64(1), state.SkippedCycles)
	assert.Equal(t, domain.ModeAuto, state.Decision.Mode)
	assert.Contains(t, state.LastError, "reading unavailable")
	assert.Empty(t, h.events.decisions())
	assert.Empty(t, h.actuator.Calls())
}

func TestRegulationRetriesFailedDispatch(t *testing.T) {
	h := newRegulationHarness(t, func(cfg *config.Config) {
		cfg.Regulation.RetryDelayMillis = 200
	})

	h.actuator.setErr(errBatteryOffline)
	h.setReading(-443, 559, 52, 0)
	h.tick()
	require.Eventually(t, func() bool {
		return h.events.count(isFailedDispatch) == 1
	}, 2*time.Second, 10*time.Millisecond)

	h.actuator.setErr(nil)
	h.waitCalls(2)
	h.waitIdle()

	assert.Equal(t, []actuatorCall{{powerW: -343}, {powerW: -343}}, h.actuator.Calls())
	state := h.state()
	require.NotNil(t, state.LastCommand)
	assert.Equal(t, -343, state.LastCommand.PowerW)
	assert.Equal(t, "battery offline", state.LastError)
}

func TestRegulationRetrySupersededByNewDecision(t *testing.T) {
	h := newRegulationHarness(t, func(cfg *config.Config) {
		cfg.Regulation.RetryDelayMillis = 300
	})

	h.actuator.setErr(errBatteryOffline)
	h.setReading(-443, 559, 52, 0)
	h.tick()
	require.Eventually(t, func() bool {
		return h.events.count(isFailedDispatch) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// surplus is gone before the retry fires
	h.actuator.setErr(nil)
	h.setReading(0, 0, 52, 343)
	h.tick()
	h.waitCalls(2)
	h.waitIdle()

	// the stale surplus command is never sent again
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, []actuatorCall{{powerW: -343}, {auto: true}}, h.actuator.Calls())
}

func TestRegulationGivesUpAfterMaxAttempts(t *testing.T) {
	h := newRegulationHarness(t, func(cfg *config.Config) {
		cfg.Regulation.RetryMaxAttempts = 2
		cfg.Regulation.RetryDelayMillis = 20
	})

	h.actuator.setErr(errBatteryOffline)
	h.setReading(-443, 559, 52, 0)
	h.tick()
	require.Eventually(t, func() bool {
		return h.events.count(isFailedDispatch) == 3
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	assert.Len(t, h.actuator.Calls(), 3)
	assert.Nil(t, h.state().LastCommand)

	// the next cycle dispatches again
	h.actuator.setErr(nil)
	h.tick()
	h.waitCalls(4)
	h.waitIdle()
	require.NotNil(t, h.state().LastCommand)
}

func TestRegulationKeepalive(t *testing.T) {
	h := newRegulationHarness(t, nil)

	h.setReading(-443, 559, 52, 0)
	h.tick()
	h.waitCalls(1)
	h.waitIdle()

	h.clock.Advance(10 * time.Second)
	h.tick()
	h.waitIdle()
	assert.Len(t, h.actuator.Calls(), 1)

	// half of the 60s command duration elapsed since the acknowledgement
	h.clock.Advance(20 * time.Second)
	h.tick()
	h.waitCalls(2)
	h.waitIdle()
	assert.Equal(t, []actuatorCall{{powerW: -343}, {powerW: -343}}, h.actuator.Calls())
}

func TestRegulationModeChangeCooldown(t *testing.T) {
	h := newRegulationHarness(t, func(cfg *config.Config) {
		cfg.Regulation.ModeChangeCooldownMillis = 30000
	})

	// startup counts as a mode change
	h.setReading(-443, 559, 52, 0)
	h.tick()
	decisions := h.events.decisions()
	assert.Equal(t, domain.ModeAuto, decisions[0].Decision.Mode)
	assert.Contains(t, decisions[0].Decision.Reason, "cooldown")

	h.clock.Advance(30 * time.Second)
	h.setReading(-443, 559, 52, 0)
	h.tick()
	h.waitCalls(2)
	h.waitIdle()
	decisions = h.events.decisions()
	assert.Equal(t, domain.ModeChargeSurplus, decisions[1].Decision.Mode)
	assert.Equal(t, []actuatorCall{{auto: true}, {powerW: -343}}, h.actuator.Calls())
}

func TestRegulationEnableSwitch(t *testing.T) {
	h := newRegulationHarness(t, func(cfg *config.Config) {
		cfg.Regulation.Enabled = false
	})

	h.setReading(-443, 559, 52, 0)
	h.tick()
	h.waitCalls(1)
	h.waitIdle()

	// decisions are still computed while the battery is left in auto
	assert.Equal(t, domain.ModeChargeSurplus, h.events.decisions()[0].Decision.Mode)
	assert.Equal(t, []actuatorCall{{auto: true}}, h.actuator.Calls())

	res, err := h.system.Root.RequestFuture(h.pid, domain.SetRegulationEnabledRequest{Enabled: true}, time.Second).Result()
	require.NoError(t, err)
	resp, ok := res.(domain.SetRegulationEnabledResponse)
	require.True(t, ok)
	assert.True(t, resp.Enabled)

	h.waitCalls(2)
	h.waitIdle()
	assert.Equal(t, []actuatorCall{{auto: true}, {powerW: -343}}, h.actuator.Calls())
	assert.True(t, h.state().Enabled)
	assert.Equal(t, 2, h.events.count(func(e any) bool {
		_, ok := e.(domain.RegulationEnabledEvent)
		return ok
	}))
}
