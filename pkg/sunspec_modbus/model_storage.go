package sunspec_modbus

import (
	"fmt"
)

// storage states
const (
	StorageChargeStatusOff         = 1
	StorageChargeStatusEmpty       = 2
	StorageChargeStatusDischarging = 3
	StorageChargeStatusCharging    = 4
	StorageChargeStatusFull        = 5
	StorageChargeStatusHolding     = 6
	StorageChargeStatusTest        = 7
)

func StorageChargeStatusToString(storage uint16) string {
	switch storage {
	case StorageChargeStatusOff:
		return "off"
	case StorageChargeStatusEmpty:
		return "empty"
	case StorageChargeStatusDischarging:
		return "discharging"
	case StorageChargeStatusCharging:
		return "charging"
	case StorageChargeStatusFull:
		return "full"
	case StorageChargeStatusHolding:
		return "holding"
	case StorageChargeStatusTest:
		return "test"
	default:
		return fmt.Sprintf("unknown(%d)", storage)
	}
}

type StorageInfo struct {
	Manufacturer       string
	Model              string
	Version            string
	Serial             string
	MaxChargeRateWatt  uint32
	StorageControlable bool
}

type StorageState struct {
	StateOfCharge   float64
	ChargeStatus    uint16
	ChargeStatusStr string
}

// StorageControlParams describes a storage command in watts. -1 leaves a limit uncontrolled.
// A min charge power forces charging, a min discharge power forces discharging.
type StorageControlParams struct {
	MinChargePowerWatt    int32
	MaxChargePowerWatt    int32
	MinDischargePowerWatt int32
	MaxDischargePowerWatt int32
	RevertTimeSeconds     uint32
}

func UncontrolledStorageParams() StorageControlParams {
	return StorageControlParams{
		MinChargePowerWatt:    -1,
		MaxChargePowerWatt:    -1,
		MinDischargePowerWatt: -1,
		MaxDischargePowerWatt: -1,
	}
}

// StorageController drives the SunSpec storage block (model 124) of an inverter.
type StorageController interface {
	Open() error
	Close() error
	GetInfo() (*StorageInfo, error)
	GetStorageState() (*StorageState, error)
	SetStorageControl(params StorageControlParams) error
	DisableStorageControl() error
}
