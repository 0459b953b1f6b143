package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/berfenger/battery-regulator/internal/core/domain"
	"github.com/berfenger/battery-regulator/internal/util"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMaster struct {
	mu      sync.Mutex
	healthy bool
	state   domain.RegulationState
}

func (m *fakeMaster) Receive(ctx actor.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{Id: domain.ACTOR_ID_MASTER, Healthy: m.healthy})
	case domain.GetRegulationStateRequest:
		ctx.Respond(domain.GetRegulationStateResponse{State: m.state})
	case domain.SetRegulationEnabledRequest:
		m.state.Enabled = msg.Enabled
		ctx.Respond(domain.SetRegulationEnabledResponse{Enabled: msg.Enabled})
	}
}

func newTestHandler(t *testing.T, master *fakeMaster) http.Handler {
	as := actor.NewActorSystem()
	t.Cleanup(as.Shutdown)
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return master
	}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGauge(prometheus.GaugeOpts{Name: "battreg_target_soc_percent", Help: "target"}))
	return NewServer(util.LoadTestConfig(), as.Root, pid, reg).Handler
}

func serve(handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	master := &fakeMaster{healthy: true}
	handler := newTestHandler(t, master)

	rec := serve(handler, http.MethodGet, "/healthcheck", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "health_check: OK", rec.Body.String())

	master.mu.Lock()
	master.healthy = false
	master.mu.Unlock()
	rec = serve(handler, http.MethodGet, "/healthcheck", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStateRoute(t *testing.T) {
	acked := domain.Decision{Mode: domain.ModeChargeSurplus, PowerW: -351}
	handler := newTestHandler(t, &fakeMaster{state: domain.RegulationState{
		Enabled: true,
		Decision: domain.Decision{
			Mode:       domain.ModeChargeSurplus,
			PowerW:     -351,
			TargetSoC:  37,
			ReserveSoC: 10,
			Reason:     "solar surplus",
		},
		BatteryPowerW: -8,
		LastCommand:   &acked,
		Cycles:        4,
	}})

	rec := serve(handler, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["enabled"])
	assert.Equal(t, -8.0, body["battery_power_w"])
	decision := body["decision"].(map[string]any)
	assert.Equal(t, "charge_surplus", decision["mode"])
	assert.Equal(t, -351.0, decision["power_w"])
	assert.Equal(t, 37.0, decision["target_soc"])
	assert.Equal(t, 10.0, decision["reserve_soc"])
}

func TestRegulationSwitchRoute(t *testing.T) {
	master := &fakeMaster{state: domain.RegulationState{Enabled: true}}
	handler := newTestHandler(t, master)

	rec := serve(handler, http.MethodPut, "/api/regulation", `{"enabled": false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"enabled": false}`, rec.Body.String())
	master.mu.Lock()
	assert.False(t, master.state.Enabled)
	master.mu.Unlock()

	rec = serve(handler, http.MethodPut, "/api/regulation", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(handler, http.MethodPut, "/api/regulation", `{"enabled": "maybe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	handler := newTestHandler(t, &fakeMaster{})

	rec := serve(handler, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "battreg_target_soc_percent 0")
}
