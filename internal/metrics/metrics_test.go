package metrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/berfenger/battery-regulator/internal/core/domain"

	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveDecision(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.Observe(domain.DecisionEvent{
		Decision: domain.Decision{
			Mode:       domain.ModeChargeSurplus,
			PowerW:     -351,
			TargetSoC:  37,
			ReserveSoC: 10,
		},
		BatteryPowerW: -8,
	})

	assert.Equal(t, 37.0, testutil.ToFloat64(m.targetSoC))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.reserveSoC))
	assert.Equal(t, -351.0, testutil.ToFloat64(m.commandedPower))
	assert.Equal(t, -8.0, testutil.ToFloat64(m.batteryPower))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mode.WithLabelValues("charge_surplus")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.mode.WithLabelValues("auto")))
}

func TestObserveCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.Observe(domain.CycleSkippedEvent{Error: domain.ErrReadingUnavailable})
	m.Observe(domain.DispatchResultEvent{Mode: domain.ModeDischarge, PowerW: 130, Error: errors.New("timeout")})
	m.Observe(domain.DispatchResultEvent{Mode: domain.ModeDischarge, PowerW: 130, Attempt: 1})
	m.Observe(domain.RegulationEnabledEvent{Enabled: true})
	m.Observe("ignored")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.skipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatches.WithLabelValues(resultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatches.WithLabelValues(resultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.regulationEnabled))
}

func TestSubscribe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	es := eventstream.NewEventStream()
	sub := m.Subscribe(es)
	defer es.Unsubscribe(sub)

	es.Publish(domain.CycleSkippedEvent{})

	expected := `
# HELP battreg_skipped_cycles_total Total cycles skipped for lack of a valid reading
# TYPE battreg_skipped_cycles_total counter
battreg_skipped_cycles_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "battreg_skipped_cycles_total"))
}
