package config

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/berfenger/battery-regulator/internal/core/domain"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Load reads the configuration from defaults, BATTREG_* environment variables and the
// optional YAML file named by CONFIG_FILE, then checks it.
func Load() (*Config, error) {

	// alias PORT => BATTREG_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("BATTREG_PORT", port)
	}

	v := viper.New()
	setConfigDefaults(v)

	v.SetEnvPrefix("battreg")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			v.SetConfigFile(cfgFile)

			if err := v.ReadInConfig(); err != nil {
				return nil, err
			}
		}
	}

	var cfg Config

	err := v.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch v.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Regulation.Settings().Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "warn")
	v.SetDefault("timezone", "Local")
	v.SetDefault("port", 8080)
	v.SetDefault("http_log", false)

	v.SetDefault("mqtt.host", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.ha_discovery_enable", false)
	v.SetDefault("mqtt.base_topic", "battreg")
	v.SetDefault("mqtt.ha_discovery_topic", "homeassistant")

	v.SetDefault("regulation.enabled", true)
	v.SetDefault("regulation.battery_capacity_wh", 5120)
	v.SetDefault("regulation.base_load_w", 400)
	v.SetDefault("regulation.off_peak_charge_rate_w", 1500)
	v.SetDefault("regulation.max_charge_rate_w", 2500)
	v.SetDefault("regulation.max_discharge_rate_w", 2500)
	v.SetDefault("regulation.surplus_threshold_w", 100)
	v.SetDefault("regulation.max_surplus_soc", 95)
	v.SetDefault("regulation.min_discharge_power_w", 50)
	v.SetDefault("regulation.off_peak_window_start_hour", 2)
	v.SetDefault("regulation.off_peak_window_end_hour", 6)
	v.SetDefault("regulation.off_peak_tariff_start_hour", 22)
	v.SetDefault("regulation.interval_millis", 15000)
	v.SetDefault("regulation.mode_change_cooldown_millis", 30000)
	v.SetDefault("regulation.retry_delay_millis", 5000)
	v.SetDefault("regulation.retry_max_attempts", 3)
	v.SetDefault("regulation.command_duration_seconds", 60)

	v.SetDefault("sensors.grid_power_topic", "")
	v.SetDefault("sensors.solar_power_topic", "")
	v.SetDefault("sensors.battery_soc_topic", "")
	v.SetDefault("sensors.battery_power_topic", "")
	v.SetDefault("sensors.off_peak_topic", "")
	v.SetDefault("sensors.solar_forecast_today_topic", "")
	v.SetDefault("sensors.solar_forecast_remaining_topic", "")
	v.SetDefault("sensors.tier_topic", "")
	v.SetDefault("sensors.forecast_unit", "kwh")
	v.SetDefault("sensors.max_age_millis", 120000)

	v.SetDefault("actuator.type", ACTUATOR_DRY_RUN)
	v.SetDefault("actuator.timeout_millis", 5000)
	v.SetDefault("actuator.sunspec.host", "")
	v.SetDefault("actuator.sunspec.port", 502)
	v.SetDefault("actuator.sunspec.unit_id", 1)
	v.SetDefault("actuator.mqtt.device_id", "")
	v.SetDefault("actuator.mqtt.passive_mode_topic", "")
	v.SetDefault("actuator.mqtt.auto_mode_topic", "")
}

// Settings maps the regulation section to the decision engine settings.
func (c RegulationConfig) Settings() domain.RegulationSettings {
	return domain.RegulationSettings{
		BatteryCapacityWh:      int(c.BatteryCapacityWh),
		BaseLoadW:              int(c.BaseLoadW),
		OffPeakChargeRateW:     int(c.OffPeakChargeRateW),
		MaxChargeRateW:         int(c.MaxChargeRateW),
		MaxDischargeRateW:      int(c.MaxDischargeRateW),
		SurplusThresholdW:      int(c.SurplusThresholdW),
		MaxSurplusSoC:          int(c.MaxSurplusSoC),
		MinDischargePowerW:     int(c.MinDischargePowerW),
		OffPeakWindowStartHour: int(c.OffPeakWindowStartHour),
		OffPeakWindowEndHour:   int(c.OffPeakWindowEndHour),
		OffPeakTariffStartHour: int(c.OffPeakTariffStartHour),
	}
}

// SafePrint logs the configuration without credentials.
func SafePrint(cfg Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
