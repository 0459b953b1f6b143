package battery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/berfenger/battery-regulator/internal/config"
	"github.com/berfenger/battery-regulator/internal/core/port"

	"go.uber.org/zap"
)

const MQTT_PAYLOAD_PRESS = "PRESS"

// MQTTActuator drives a battery exposing a passive mode command and an auto mode button over MQTT.
type MQTTActuator struct {
	cfg       config.MQTTActuatorConfig
	publisher port.MessagePublisher
	logger    *zap.Logger
}

type passiveModeCommand struct {
	DeviceId string `json:"device_id"`
	Power    int    `json:"power"`
	Duration int    `json:"duration"`
}

func NewMQTTActuator(cfg config.MQTTActuatorConfig, publisher port.MessagePublisher, logger *zap.Logger) *MQTTActuator {
	return &MQTTActuator{
		cfg:       cfg,
		publisher: publisher,
		logger:    logger.With(zap.String("actuator", "mqtt")),
	}
}

func (a *MQTTActuator) SetPower(ctx context.Context, powerW int, duration time.Duration) error {
	payload, err := json.Marshal(passiveModeCommand{
		DeviceId: a.cfg.DeviceId,
		Power:    powerW,
		Duration: int(duration.Seconds()),
	})
	if err != nil {
		return err
	}
	a.logger.Debug("mqtt actuator: passive mode", zap.ByteString("payload", payload))
	return a.publisher.Publish(ctx, a.cfg.PassiveModeTopic, payload, false)
}

func (a *MQTTActuator) SetAuto(ctx context.Context) error {
	a.logger.Debug("mqtt actuator: auto mode")
	return a.publisher.Publish(ctx, a.cfg.AutoModeTopic, []byte(MQTT_PAYLOAD_PRESS), false)
}

// ensure interface compliance
var _ port.BatteryActuator = (*MQTTActuator)(nil)
