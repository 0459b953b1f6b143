package battery

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/berfenger/battery-regulator/internal/config"
	"github.com/berfenger/battery-regulator/pkg/sunspec_modbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type published struct {
	topic   string
	payload []byte
	retain  bool
}

type recordingPublisher struct {
	messages []published
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload []byte, retain bool) error {
	p.messages = append(p.messages, published{topic: topic, payload: payload, retain: retain})
	return p.err
}

func TestStorageParams(t *testing.T) {

	charge := StorageParams(-1500, time.Minute)
	assert.Equal(t, int32(1500), charge.MinChargePowerWatt)
	assert.Equal(t, int32(1500), charge.MaxChargePowerWatt)
	assert.Equal(t, int32(-1), charge.MinDischargePowerWatt)
	assert.Equal(t, uint32(60), charge.RevertTimeSeconds)

	discharge := StorageParams(300, 90*time.Second)
	assert.Equal(t, int32(300), discharge.MinDischargePowerWatt)
	assert.Equal(t, int32(-1), discharge.MinChargePowerWatt)
	assert.Equal(t, uint32(90), discharge.RevertTimeSeconds)

	hold := StorageParams(0, time.Minute)
	assert.Equal(t, int32(0), hold.MaxChargePowerWatt)
	assert.Equal(t, int32(0), hold.MaxDischargePowerWatt)
}

func TestSunSpecActuator(t *testing.T) {

	storage := sunspec_modbus.CreateTestStorageController()
	act := NewSunSpecActuator(storage, zap.NewNop())
	require.NoError(t, act.Open())
	defer act.Close()

	ctx := context.Background()
	require.NoError(t, act.SetPower(ctx, -800, time.Minute))
	last, ok := storage.LastParams()
	require.True(t, ok)
	assert.Equal(t, int32(800), last.MinChargePowerWatt)

	require.NoError(t, act.SetAuto(ctx))
	assert.Equal(t, 1, storage.Disabled)

	storage.Err = errors.New("modbus: timeout")
	assert.Error(t, act.SetPower(ctx, 100, time.Minute))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, act.SetAuto(cancelled), context.Canceled)
}

func TestMQTTActuator(t *testing.T) {

	pub := &recordingPublisher{}
	act := NewMQTTActuator(config.MQTTActuatorConfig{
		DeviceId:         "battery_1",
		PassiveModeTopic: "marstek/battery_1/passive/set",
		AutoModeTopic:    "marstek/battery_1/auto/press",
	}, pub, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, act.SetPower(ctx, -351, time.Minute))
	require.NoError(t, act.SetAuto(ctx))

	require.Len(t, pub.messages, 2)
	assert.Equal(t, "marstek/battery_1/passive/set", pub.messages[0].topic)
	var cmd map[string]any
	require.NoError(t, json.Unmarshal(pub.messages[0].payload, &cmd))
	assert.Equal(t, "battery_1", cmd["device_id"])
	assert.EqualValues(t, -351, cmd["power"])
	assert.EqualValues(t, 60, cmd["duration"])

	assert.Equal(t, "marstek/battery_1/auto/press", pub.messages[1].topic)
	assert.Equal(t, MQTT_PAYLOAD_PRESS, string(pub.messages[1].payload))

	pub.err = errors.New("broker down")
	assert.Error(t, act.SetAuto(ctx))
}

func TestDryRunActuator(t *testing.T) {

	act := NewDryRunActuator(zap.NewNop())
	assert.NoError(t, act.SetPower(context.Background(), 500, time.Minute))
	assert.NoError(t, act.SetAuto(context.Background()))
}
