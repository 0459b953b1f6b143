package util

import (
	"github.com/berfenger/battery-regulator/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Timezone: "Local",
		Regulation: config.RegulationConfig{
			Enabled:                  true,
			BatteryCapacityWh:        5120,
			BaseLoadW:                400,
			OffPeakChargeRateW:       1500,
			MaxChargeRateW:           2500,
			MaxDischargeRateW:        2500,
			SurplusThresholdW:        100,
			MaxSurplusSoC:            95,
			MinDischargePowerW:       50,
			OffPeakWindowStartHour:   2,
			OffPeakWindowEndHour:     6,
			OffPeakTariffStartHour:   22,
			IntervalMillis:           15000,
			ModeChangeCooldownMillis: 30000,
			RetryDelayMillis:         5000,
			RetryMaxAttempts:         3,
			CommandDurationSeconds:   60,
		},
		Sensors: config.SensorsConfig{
			GridPowerTopic:              "home/grid/power",
			SolarPowerTopic:             "home/solar/power",
			BatterySoCTopic:             "home/battery/soc",
			BatteryPowerTopic:           "home/battery/power",
			OffPeakTopic:                "home/tariff/off_peak",
			SolarForecastTodayTopic:     "home/forecast/today",
			SolarForecastRemainingTopic: "home/forecast/remaining",
			TierTopic:                   "home/tariff/tier",
			ForecastUnit:                "kwh",
			MaxAgeMillis:                120000,
		},
		Actuator: config.ActuatorConfig{
			Type:          config.ACTUATOR_DRY_RUN,
			TimeoutMillis: 1000,
		},
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "battreg",
			HADiscoveryTopic: "homeassistant",
		},
		Port: 8080,
	}
}
