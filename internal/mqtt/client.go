package mqtt

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/berfenger/battery-regulator/internal/config"
	"github.com/berfenger/battery-regulator/internal/core/domain"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	MQTT_PAYLOAD_ONLINE  = "online"
	MQTT_PAYLOAD_OFFLINE = "offline"
	MQTT_PAYLOAD_ON      = "on"
	MQTT_PAYLOAD_OFF     = "off"
)

func OptsFromConfig(cfg *config.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
	opts.SetClientID(fmt.Sprintf("battreg_%s", uuid.NewString()[:8]))
	if cfg.MQTT.Username != "" && cfg.MQTT.Password != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	opts.WillEnabled = true
	opts.WillPayload = []byte(MQTT_PAYLOAD_OFFLINE)
	opts.WillRetained = true
	opts.WillTopic = bridgeStateTopic(cfg.MQTT.BaseTopic)
	opts.WillQos = 0

	return opts
}

func CreateMQTTClient(cfg *config.Config, opts *mqtt.ClientOptions, onConnectHandler func(client mqtt.Client),
	onConnectionLostHandler func(mqtt.Client, error)) *MQTTClient {
	if onConnectHandler != nil {
		opts.OnConnect = onConnectHandler
	}
	if onConnectionLostHandler != nil {
		opts.OnConnectionLost = onConnectionLostHandler
	}
	return &MQTTClient{
		client:              mqtt.NewClient(opts),
		cfg:                 cfg.MQTT,
		sensorTopics:        SensorTopics(cfg.Sensors),
		switchCommandRegexp: switchCommandExtractor(cfg.MQTT.BaseTopic),
	}
}

type MQTTClient struct {
	client              mqtt.Client
	cfg                 config.MQTTConfig
	sensorTopics        map[string]domain.ReadingField
	switchCommandRegexp *regexp.Regexp
}

type ParsedMQTTCommand struct {
	DeviceId string
	Command  string
	Payload  string
}

// SensorTopics maps every configured sensor topic to the Reading field it feeds.
func SensorTopics(cfg config.SensorsConfig) map[string]domain.ReadingField {
	topics := map[string]domain.ReadingField{}
	add := func(topic string, field domain.ReadingField) {
		if topic != "" {
			topics[topic] = field
		}
	}
	add(cfg.GridPowerTopic, domain.FIELD_GRID_POWER)
	add(cfg.SolarPowerTopic, domain.FIELD_SOLAR_POWER)
	add(cfg.BatterySoCTopic, domain.FIELD_BATTERY_SOC)
	add(cfg.BatteryPowerTopic, domain.FIELD_BATTERY_POWER)
	add(cfg.OffPeakTopic, domain.FIELD_OFF_PEAK)
	add(cfg.SolarForecastTodayTopic, domain.FIELD_SOLAR_FORECAST_TODAY)
	add(cfg.SolarForecastRemainingTopic, domain.FIELD_SOLAR_FORECAST_REMAINING)
	add(cfg.TierTopic, domain.FIELD_TIER)
	return topics
}

func (c *MQTTClient) baseTopic() string {
	return c.cfg.BaseTopic
}

func (c *MQTTClient) BridgeStateTopic() string {
	return bridgeStateTopic(c.baseTopic())
}

func (c *MQTTClient) SensorStateTopic(sensorId string) string {
	return fmt.Sprintf("%s/sensor/%s/state", c.baseTopic(), sensorId)
}

func (c *MQTTClient) BinarySensorStateTopic(sensorId string) string {
	return fmt.Sprintf("%s/binary_sensor/%s/state", c.baseTopic(), sensorId)
}

func (c *MQTTClient) SwitchStateTopic(switchId string) string {
	return fmt.Sprintf("%s/switch/%s/state", c.baseTopic(), switchId)
}

func (c *MQTTClient) SwitchCommandTopic(switchId string) string {
	return fmt.Sprintf("%s/switch/%s/command", c.baseTopic(), switchId)
}

func (c *MQTTClient) HADiscoveryTopic() string {
	return c.cfg.HADiscoveryTopic
}

func (c *MQTTClient) ParseMQTTCommand(msg mqtt.Message) (*ParsedMQTTCommand, error) {
	return c.parseSwitchCommand(msg.Topic(), msg.Payload())
}

func (c *MQTTClient) parseSwitchCommand(topic string, payload []byte) (*ParsedMQTTCommand, error) {
	matches := c.switchCommandRegexp.FindAllStringSubmatch(topic, 1)
	if len(matches) == 0 {
		return nil, errors.New("invalid command")
	}
	if len(matches[0]) != 2 {
		return nil, errors.New("invalid switch command")
	}
	return &ParsedMQTTCommand{
		DeviceId: matches[0][1],
		Command:  "switch",
		Payload:  string(payload),
	}, nil
}

// SensorField resolves the Reading field fed by topic.
func (c *MQTTClient) SensorField(topic string) (domain.ReadingField, bool) {
	field, ok := c.sensorTopics[topic]
	return field, ok
}

func (c *MQTTClient) Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration) {
	token := c.client.Publish(topic, qos, retain, payload)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT publish timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	token := c.client.Subscribe(topic, qos, handler)
	waitToken(token, "subscribe", continuation, timeout)
}

func (c *MQTTClient) SubscribeToCommandTopic(handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	c.Subscribe(c.commandTopic(), 1, handler, continuation, timeout)
}

// SubscribeToSensorTopics subscribes to every configured sensor topic with a single request.
// The handler receives the Reading field and the raw payload.
func (c *MQTTClient) SubscribeToSensorTopics(handler func(domain.ReadingField, string), continuation func(error), timeout time.Duration) {
	filters := make(map[string]byte, len(c.sensorTopics))
	for topic := range c.sensorTopics {
		filters[topic] = 0
	}
	token := c.client.SubscribeMultiple(filters, func(_ mqtt.Client, m mqtt.Message) {
		if field, ok := c.SensorField(m.Topic()); ok {
			handler(field, string(m.Payload()))
		}
	})
	waitToken(token, "subscribe", continuation, timeout)
}

func (c *MQTTClient) Connect(continuation func(error), timeout time.Duration) {
	token := c.client.Connect()
	waitToken(token, "connect", continuation, timeout)
}

func (c *MQTTClient) Disconnect(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds()))
}

func (c *MQTTClient) commandTopic() string {
	return fmt.Sprintf("%s/switch/+/command", c.baseTopic())
}

func waitToken(token mqtt.Token, op string, continuation func(error), timeout time.Duration) {
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(fmt.Errorf("MQTT %s timed out", op))
		} else {
			continuation(token.Error())
		}
	}()
}

func switchCommandExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf("^%s/switch/([a-zA-Z0-9_]+)/command$", regexp.QuoteMeta(baseTopic)))
}

func bridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}
