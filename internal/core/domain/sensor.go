package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

// ReadingField identifies one input of a Reading, each fed by its own MQTT topic.
type ReadingField string

const (
	FIELD_GRID_POWER               ReadingField = "grid_power"
	FIELD_SOLAR_POWER              ReadingField = "solar_power"
	FIELD_BATTERY_SOC              ReadingField = "battery_soc"
	FIELD_BATTERY_POWER            ReadingField = "battery_power"
	FIELD_OFF_PEAK                 ReadingField = "off_peak"
	FIELD_SOLAR_FORECAST_TODAY     ReadingField = "solar_forecast_today"
	FIELD_SOLAR_FORECAST_REMAINING ReadingField = "solar_forecast_remaining"
	FIELD_TIER                     ReadingField = "tier"
)

const (
	SENSOR_ID_BRIDGE_STATE      = "bridge"
	SENSOR_ID_TARGET_SOC        = "target_soc"
	SENSOR_ID_RESERVE_SOC       = "reserve_soc"
	SENSOR_ID_REGULATION_MODE   = "regulation_mode"
	SENSOR_ID_COMMANDED_POWER   = "commanded_power"
	SENSOR_ID_BATTERY_POWER     = "battery_power"
	SENSOR_ID_REGULATION_REASON = "regulation_reason"
	SWITCH_ID_REGULATION        = "regulation_enabled"
	STATE_CLASS_MEASUREMENT     = "measurement"
	DEVICE_CLASS_BATTERY        = "battery"
	DEVICE_CLASS_POWER          = "power"
	DEVICE_CLASS_ENUM           = "enum"
	DEVICE_CLASS_CONNECTIVITY   = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC     = "diagnostic"
	SENSOR_TYPE_SENSOR          = "sensor"
	SENSOR_TYPE_BINARY          = "binary_sensor"
)

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("battreg_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "Battery Regulator",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Battery Regulator %s", md5HashShort(baseTopic)),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	}}
}

func RegulationSensors(device Device) []GenericSensor {

	var sensors []GenericSensor

	// Target SoC
	sensors = append(sensors, GenericSensor{
		Device:            device,
		Id:                SENSOR_ID_TARGET_SOC,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Target SoC",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_BATTERY,
		UnitOfMeasurement: "%",
		Icon:              "mdi:battery-arrow-up",
		UniqueId:          uniqueId(device.Id, SENSOR_ID_TARGET_SOC),
	})

	// Reserve SoC
	sensors = append(sensors, GenericSensor{
		Device:            device,
		Id:                SENSOR_ID_RESERVE_SOC,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Reserve SoC",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_BATTERY,
		UnitOfMeasurement: "%",
		Icon:              "mdi:battery-lock",
		UniqueId:          uniqueId(device.Id, SENSOR_ID_RESERVE_SOC),
	})

	// Mode
	sensors = append(sensors, GenericSensor{
		Device:      device,
		Id:          SENSOR_ID_REGULATION_MODE,
		SensorType:  SENSOR_TYPE_SENSOR,
		Name:        "Regulation mode",
		DeviceClass: DEVICE_CLASS_ENUM,
		Icon:        "mdi:state-machine",
		UniqueId:    uniqueId(device.Id, SENSOR_ID_REGULATION_MODE),
	})

	// Commanded power
	sensors = append(sensors, GenericSensor{
		Device:            device,
		Id:                SENSOR_ID_COMMANDED_POWER,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Commanded power",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		UniqueId:          uniqueId(device.Id, SENSOR_ID_COMMANDED_POWER),
	})

	// Signed battery power
	sensors = append(sensors, GenericSensor{
		Device:            device,
		Id:                SENSOR_ID_BATTERY_POWER,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              "Battery power",
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_POWER,
		UnitOfMeasurement: "W",
		Icon:              "mdi:home-battery",
		UniqueId:          uniqueId(device.Id, SENSOR_ID_BATTERY_POWER),
	})

	sensors = append(sensors, GenericSensor{
		Device:           device,
		Id:               SENSOR_ID_REGULATION_REASON,
		SensorType:       SENSOR_TYPE_SENSOR,
		Name:             "Regulation reason",
		EntityCategory:   ENTITY_CLASS_DIAGNOSTIC,
		EnabledByDefault: optionalBool(false),
		UniqueId:         uniqueId(device.Id, SENSOR_ID_REGULATION_REASON),
	})

	return sensors
}

func RegulationSwitches(device Device) []GenericSwitch {
	return []GenericSwitch{{
		Device:   device,
		Id:       SWITCH_ID_REGULATION,
		Name:     "Battery regulation",
		UniqueId: uniqueId(device.Id, SWITCH_ID_REGULATION),
		Icon:     "mdi:battery-sync",
	}}
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}
