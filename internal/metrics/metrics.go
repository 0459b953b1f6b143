package metrics

import (
	"github.com/berfenger/battery-regulator/internal/core/domain"

	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "battreg_"

	resultSuccess = "success"
	resultError   = "error"
)

var modes = []domain.Mode{
	domain.ModeAuto,
	domain.ModeChargeOffPeak,
	domain.ModeChargeSurplus,
	domain.ModeDischarge,
}

// Metrics exposes the regulation events as Prometheus series.
type Metrics struct {
	targetSoC         prometheus.Gauge
	reserveSoC        prometheus.Gauge
	commandedPower    prometheus.Gauge
	batteryPower      prometheus.Gauge
	mode              *prometheus.GaugeVec
	regulationEnabled prometheus.Gauge

	cycles     prometheus.Counter
	skipped    prometheus.Counter
	dispatches *prometheus.CounterVec
	retries    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		targetSoC: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "target_soc_percent",
			Help: "Battery state of charge targeted by off-peak charging",
		}),
		reserveSoC: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "reserve_soc_percent",
			Help: "Battery state of charge kept in reserve for the evening",
		}),
		commandedPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "commanded_power_watts",
			Help: "Last commanded battery power, negative when charging",
		}),
		batteryPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "battery_power_watts",
			Help: "Measured battery power, negative when charging",
		}),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricPrefix + "mode",
			Help: "Current regulation mode, 1 for the active mode",
		}, []string{"mode"}),
		regulationEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "regulation_enabled",
			Help: "1 when battery commands are sent",
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "cycles_total",
			Help: "Total completed regulation cycles",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "skipped_cycles_total",
			Help: "Total cycles skipped for lack of a valid reading",
		}),
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "dispatches_total",
			Help: "Total battery commands by result",
		}, []string{"result"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "dispatch_retries_total",
			Help: "Total battery command retries",
		}),
	}
	reg.MustRegister(m.targetSoC, m.reserveSoC, m.commandedPower, m.batteryPower, m.mode,
		m.regulationEnabled, m.cycles, m.skipped, m.dispatches, m.retries)
	for _, mode := range modes {
		m.mode.WithLabelValues(mode.String()).Set(0)
	}
	m.mode.WithLabelValues(domain.ModeAuto.String()).Set(1)
	m.dispatches.WithLabelValues(resultSuccess)
	m.dispatches.WithLabelValues(resultError)
	return m
}

// Observe updates the series from a regulation event. Other values are ignored.
func (m *Metrics) Observe(evt any) {
	switch e := evt.(type) {
	case domain.DecisionEvent:
		m.cycles.Inc()
		m.targetSoC.Set(float64(e.Decision.TargetSoC))
		m.reserveSoC.Set(float64(e.Decision.ReserveSoC))
		m.commandedPower.Set(float64(e.Decision.PowerW))
		m.batteryPower.Set(float64(e.BatteryPowerW))
		for _, mode := range modes {
			value := 0.0
			if mode == e.Decision.Mode {
				value = 1
			}
			m.mode.WithLabelValues(mode.String()).Set(value)
		}
	case domain.CycleSkippedEvent:
		m.skipped.Inc()
	case domain.DispatchResultEvent:
		if e.Attempt > 0 {
			m.retries.Inc()
		}
		if e.Error != nil {
			m.dispatches.WithLabelValues(resultError).Inc()
		} else {
			m.dispatches.WithLabelValues(resultSuccess).Inc()
		}
	case domain.RegulationEnabledEvent:
		if e.Enabled {
			m.regulationEnabled.Set(1)
		} else {
			m.regulationEnabled.Set(0)
		}
	}
}

// Subscribe feeds m from the actor system event stream.
func (m *Metrics) Subscribe(es *eventstream.EventStream) *eventstream.Subscription {
	return es.Subscribe(m.Observe)
}
