package domain

import "fmt"

type SensorUpdateEventMixIn struct {
	Id string
}

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

type SwitchSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type TextSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value string
}

type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

// Regulation events published on the actor system event stream.

// DecisionEvent is emitted once per completed cycle.
type DecisionEvent struct {
	Decision      Decision
	BatteryPowerW int
}

type CycleSkippedEvent struct {
	Error error
}

// DispatchResultEvent reports the outcome of one actuator call. Attempt is 0 for the
// first try of a command and counts retries after that.
type DispatchResultEvent struct {
	Mode    Mode
	PowerW  int
	Attempt int
	Error   error
}

type RegulationEnabledEvent struct {
	Enabled bool
}

// DecisionSensorUpdates maps a completed cycle to the published sensor states.
func DecisionSensorUpdates(evt DecisionEvent) []SensorUpdateEvent {
	d := evt.Decision
	return []SensorUpdateEvent{
		FloatSensorUpdateEvent{SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: SENSOR_ID_TARGET_SOC}, Value: float64(d.TargetSoC)},
		FloatSensorUpdateEvent{SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: SENSOR_ID_RESERVE_SOC}, Value: float64(d.ReserveSoC)},
		TextSensorUpdateEvent{SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: SENSOR_ID_REGULATION_MODE}, Value: d.Mode.String()},
		FloatSensorUpdateEvent{SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: SENSOR_ID_COMMANDED_POWER}, Value: float64(d.PowerW)},
		FloatSensorUpdateEvent{SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: SENSOR_ID_BATTERY_POWER}, Value: float64(evt.BatteryPowerW)},
		TextSensorUpdateEvent{SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: SENSOR_ID_REGULATION_REASON}, Value: d.Reason},
	}
}

func RegulationSwitchUpdate(enabled bool) SensorUpdateEvent {
	return SwitchSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: SWITCH_ID_REGULATION},
		Value:                  enabled,
	}
}
