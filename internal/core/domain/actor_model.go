package domain

import "time"

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_READINGS     = "readings"
	ACTOR_ID_REGULATION   = "regulation"
	ACTOR_ID_ACTUATOR     = "actuator"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

// Readings

type SensorSampleReceived struct {
	Field   ReadingField
	Payload string
}

type GetReadingRequest struct {
	ActorRequestMixIn
}

type GetReadingResponse struct {
	ActorResponseMixIn
	Reading Reading
}

// Actuator

type BatteryCommandRequest struct {
	ActorRequestMixIn
	Mode     Mode
	PowerW   int
	Duration time.Duration
}

type BatteryCommandResponse struct {
	ActorResponseMixIn
	Mode   Mode
	PowerW int
}

// Regulation

type SetRegulationEnabledRequest struct {
	ActorRequestMixIn
	Enabled bool
}

type SetRegulationEnabledResponse struct {
	ActorResponseMixIn
	Enabled bool
}

type GetRegulationStateRequest struct {
	ActorRequestMixIn
}

type GetRegulationStateResponse struct {
	ActorResponseMixIn
	State RegulationState
}

type RegulationState struct {
	Enabled          bool      `json:"enabled"`
	Decision         Decision  `json:"decision"`
	BatteryPowerW    int       `json:"battery_power_w"`
	LastCommand      *Decision `json:"last_command,omitempty"`
	LastCommandTime  time.Time `json:"last_command_time,omitempty"`
	DispatchInFlight bool      `json:"dispatch_in_flight"`
	Cycles           uint64    `json:"cycles"`
	SkippedCycles    uint64    `json:"skipped_cycles"`
	LastError        string    `json:"last_error,omitempty"`
}

// MQTT

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors  []GenericSensor
	Switches []GenericSwitch
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

// Health

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
