package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func writeConfigFile(t *testing.T, content map[string]any) {
	data, err := yaml.Marshal(content)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	t.Setenv("CONFIG_FILE", path)
}

func sensorTopics() map[string]any {
	return map[string]any{
		"grid_power_topic":               "home/grid/power",
		"solar_power_topic":              "home/solar/power",
		"battery_soc_topic":              "home/battery/soc",
		"battery_power_topic":            "home/battery/power",
		"off_peak_topic":                 "home/tariff/off_peak",
		"solar_forecast_today_topic":     "home/forecast/today",
		"solar_forecast_remaining_topic": "home/forecast/remaining",
	}
}

func TestLoadDefaultsFromFile(t *testing.T) {
	require := require.New(t)

	writeConfigFile(t, map[string]any{
		"log_level": "debug",
		"sensors":   sensorTopics(),
		"mqtt":      map[string]any{"base_topic": "Battreg_Test"},
	})

	cfg, err := Load()
	require.NoError(err)
	require.Equal(zap.DebugLevel, cfg.LogLevel)
	require.Equal("battreg_test", cfg.MQTT.BaseTopic)
	require.Equal(ACTUATOR_DRY_RUN, cfg.Actuator.Type)
	require.Equal(15*time.Second, cfg.Regulation.Interval())
	require.Equal(30*time.Second, cfg.Regulation.ModeChangeCooldown())
	require.Equal(5*time.Second, cfg.Regulation.RetryDelay())
	require.Equal(uint32(3), cfg.Regulation.RetryMaxAttempts)
	require.True(cfg.Regulation.Enabled)
	require.Equal(1000.0, cfg.Sensors.ForecastScale())

	s := cfg.Regulation.Settings()
	require.Equal(5120, s.BatteryCapacityWh)
	require.Equal(400, s.BaseLoadW)
	require.Equal(1500, s.OffPeakChargeRateW)
	require.Equal(2, s.OffPeakWindowStartHour)
	require.Equal(6, s.OffPeakWindowEndHour)
	require.Equal(22, s.OffPeakTariffStartHour)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	require := require.New(t)

	writeConfigFile(t, map[string]any{
		"sensors": sensorTopics(),
		"regulation": map[string]any{
			"base_load_w": 350,
		},
	})
	t.Setenv("BATTREG_REGULATION_BASE_LOAD_W", "500")
	t.Setenv("BATTREG_PORT", "9090")

	cfg, err := Load()
	require.NoError(err)
	require.Equal(uint32(500), cfg.Regulation.BaseLoadW)
	require.Equal(uint(9090), cfg.Port)
}

func TestLoadRejectsInvalidRegulation(t *testing.T) {
	require := require.New(t)

	writeConfigFile(t, map[string]any{
		"sensors": sensorTopics(),
		"regulation": map[string]any{
			"max_charge_rate_w":   80,
			"surplus_threshold_w": 100,
		},
	})
	_, err := Load()
	require.Error(err)
}

func TestLoadRequiresSensorTopics(t *testing.T) {
	require := require.New(t)

	writeConfigFile(t, map[string]any{"log_level": "info"})
	_, err := Load()
	require.ErrorContains(err, "sensors.")
}

func TestValidateActuator(t *testing.T) {
	require := require.New(t)

	writeConfigFile(t, map[string]any{"sensors": sensorTopics()})
	cfg, err := Load()
	require.NoError(err)

	c := *cfg
	c.Actuator.Type = "modbus"
	require.Error(c.Validate())

	c.Actuator.Type = ACTUATOR_SUNSPEC
	require.Error(c.Validate(), "host is required")
	c.Actuator.SunSpec.Host = "192.168.1.20"
	require.NoError(c.Validate())

	c.Actuator.Type = ACTUATOR_MQTT
	require.Error(c.Validate())
	c.Actuator.MQTT.PassiveModeTopic = "marstek/passive"
	c.Actuator.MQTT.AutoModeTopic = "marstek/auto"
	require.NoError(c.Validate())

	c.Regulation.CommandDurationSeconds = 10
	require.Error(c.Validate(), "duration shorter than interval")

	c.Regulation.CommandDurationSeconds = 60
	c.Timezone = "Mars/Olympus"
	require.Error(c.Validate())
}

func TestCheckMQTTTopic(t *testing.T) {
	require := require.New(t)

	topic, err := CheckMQTTTopic("HomeAssistant")
	require.NoError(err)
	require.Equal("homeassistant", topic)

	_, err = CheckMQTTTopic("home/assistant")
	require.Error(err)
}
