package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	ACTUATOR_SUNSPEC = "sunspec"
	ACTUATOR_MQTT    = "mqtt"
	ACTUATOR_DRY_RUN = "dryrun"
)

type Config struct {
	LogLevel   zapcore.Level
	Timezone   string           `mapstructure:"timezone"`
	Regulation RegulationConfig `mapstructure:"regulation"`
	Sensors    SensorsConfig    `mapstructure:"sensors"`
	Actuator   ActuatorConfig   `mapstructure:"actuator"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Port       uint             `mapstructure:"port"`
	HttpLog    bool             `mapstructure:"http_log"`
}

type RegulationConfig struct {
	Enabled                  bool   `mapstructure:"enabled"`
	BatteryCapacityWh        uint32 `mapstructure:"battery_capacity_wh"`
	BaseLoadW                uint32 `mapstructure:"base_load_w"`
	OffPeakChargeRateW       uint32 `mapstructure:"off_peak_charge_rate_w"`
	MaxChargeRateW           uint32 `mapstructure:"max_charge_rate_w"`
	MaxDischargeRateW        uint32 `mapstructure:"max_discharge_rate_w"`
	SurplusThresholdW        uint32 `mapstructure:"surplus_threshold_w"`
	MaxSurplusSoC            uint32 `mapstructure:"max_surplus_soc"`
	MinDischargePowerW       uint32 `mapstructure:"min_discharge_power_w"`
	OffPeakWindowStartHour   uint32 `mapstructure:"off_peak_window_start_hour"`
	OffPeakWindowEndHour     uint32 `mapstructure:"off_peak_window_end_hour"`
	OffPeakTariffStartHour   uint32 `mapstructure:"off_peak_tariff_start_hour"`
	IntervalMillis           uint32 `mapstructure:"interval_millis"`
	ModeChangeCooldownMillis uint32 `mapstructure:"mode_change_cooldown_millis"`
	RetryDelayMillis         uint32 `mapstructure:"retry_delay_millis"`
	RetryMaxAttempts         uint32 `mapstructure:"retry_max_attempts"`
	CommandDurationSeconds   uint32 `mapstructure:"command_duration_seconds"`
}

type SensorsConfig struct {
	GridPowerTopic              string `mapstructure:"grid_power_topic"`
	SolarPowerTopic             string `mapstructure:"solar_power_topic"`
	BatterySoCTopic             string `mapstructure:"battery_soc_topic"`
	BatteryPowerTopic           string `mapstructure:"battery_power_topic"`
	OffPeakTopic                string `mapstructure:"off_peak_topic"`
	SolarForecastTodayTopic     string `mapstructure:"solar_forecast_today_topic"`
	SolarForecastRemainingTopic string `mapstructure:"solar_forecast_remaining_topic"`
	TierTopic                   string `mapstructure:"tier_topic"`
	ForecastUnit                string `mapstructure:"forecast_unit"`
	MaxAgeMillis                uint32 `mapstructure:"max_age_millis"`
}

type ActuatorConfig struct {
	Type          string             `mapstructure:"type"`
	TimeoutMillis uint32             `mapstructure:"timeout_millis"`
	SunSpec       SunSpecConfig      `mapstructure:"sunspec"`
	MQTT          MQTTActuatorConfig `mapstructure:"mqtt"`
}

type SunSpecConfig struct {
	Host   string
	Port   uint
	UnitId uint `mapstructure:"unit_id"`
}

type MQTTActuatorConfig struct {
	DeviceId         string `mapstructure:"device_id"`
	PassiveModeTopic string `mapstructure:"passive_mode_topic"`
	AutoModeTopic    string `mapstructure:"auto_mode_topic"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func (c RegulationConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMillis) * time.Millisecond
}

func (c RegulationConfig) ModeChangeCooldown() time.Duration {
	return time.Duration(c.ModeChangeCooldownMillis) * time.Millisecond
}

func (c RegulationConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMillis) * time.Millisecond
}

func (c RegulationConfig) CommandDuration() time.Duration {
	return time.Duration(c.CommandDurationSeconds) * time.Second
}

func (c SensorsConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeMillis) * time.Millisecond
}

// ForecastScale converts forecast payloads to Wh.
func (c SensorsConfig) ForecastScale() float64 {
	if strings.EqualFold(c.ForecastUnit, "wh") {
		return 1
	}
	return 1000
}

func (c ActuatorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

// Location resolves the timezone used to evaluate tariff hours.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

// Validate checks the bounds that do not depend on the regulation rules.
func (c Config) Validate() error {
	if c.Regulation.IntervalMillis < 1000 {
		return errors.New("config param regulation.interval_millis should be >= 1000")
	}
	if c.Regulation.RetryDelayMillis < 100 {
		return errors.New("config param regulation.retry_delay_millis should be >= 100")
	}
	if c.Regulation.CommandDurationSeconds == 0 {
		return errors.New("config param regulation.command_duration_seconds should be > 0")
	}
	if c.Regulation.CommandDuration() <= c.Regulation.Interval() {
		return errors.New("config param regulation.command_duration_seconds must be longer than the regulation interval")
	}
	if c.Actuator.TimeoutMillis < 100 {
		return errors.New("config param actuator.timeout_millis should be >= 100")
	}
	unit := strings.ToLower(c.Sensors.ForecastUnit)
	if unit != "kwh" && unit != "wh" {
		return fmt.Errorf("config param sensors.forecast_unit must be kwh or wh, got %q", c.Sensors.ForecastUnit)
	}
	required := map[string]string{
		"sensors.grid_power_topic":               c.Sensors.GridPowerTopic,
		"sensors.solar_power_topic":              c.Sensors.SolarPowerTopic,
		"sensors.battery_soc_topic":              c.Sensors.BatterySoCTopic,
		"sensors.battery_power_topic":            c.Sensors.BatteryPowerTopic,
		"sensors.off_peak_topic":                 c.Sensors.OffPeakTopic,
		"sensors.solar_forecast_today_topic":     c.Sensors.SolarForecastTodayTopic,
		"sensors.solar_forecast_remaining_topic": c.Sensors.SolarForecastRemainingTopic,
	}
	for key, topic := range required {
		if topic == "" {
			return fmt.Errorf("config param %s is required", key)
		}
	}
	switch c.Actuator.Type {
	case ACTUATOR_SUNSPEC:
		if c.Actuator.SunSpec.Host == "" {
			return errors.New("config param actuator.sunspec.host is required")
		}
	case ACTUATOR_MQTT:
		if c.Actuator.MQTT.PassiveModeTopic == "" || c.Actuator.MQTT.AutoModeTopic == "" {
			return errors.New("config params actuator.mqtt.passive_mode_topic and actuator.mqtt.auto_mode_topic are required")
		}
	case ACTUATOR_DRY_RUN:
	default:
		return fmt.Errorf("config param actuator.type must be one of %s, %s, %s", ACTUATOR_SUNSPEC, ACTUATOR_MQTT, ACTUATOR_DRY_RUN)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("config param timezone: %w", err)
	}
	return nil
}
