package battery

import (
	"context"
	"time"

	"github.com/berfenger/battery-regulator/internal/core/port"
	"github.com/berfenger/battery-regulator/pkg/sunspec_modbus"

	"go.uber.org/zap"
)

// SunSpecActuator commands the storage block of a SunSpec inverter.
type SunSpecActuator struct {
	storage sunspec_modbus.StorageController
	logger  *zap.Logger
}

func NewSunSpecActuator(storage sunspec_modbus.StorageController, logger *zap.Logger) *SunSpecActuator {
	return &SunSpecActuator{
		storage: storage,
		logger:  logger.With(zap.String("actuator", "sunspec")),
	}
}

func (a *SunSpecActuator) Open() error {
	if err := a.storage.Open(); err != nil {
		return err
	}
	info, err := a.storage.GetInfo()
	if err != nil {
		return err
	}
	a.logger.Info("sunspec storage found", zap.String("manufacturer", info.Manufacturer),
		zap.String("model", info.Model), zap.Uint32("max_rate_w", info.MaxChargeRateWatt))
	return nil
}

func (a *SunSpecActuator) Close() error {
	return a.storage.Close()
}

func (a *SunSpecActuator) SetPower(ctx context.Context, powerW int, duration time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.storage.SetStorageControl(StorageParams(powerW, duration))
}

func (a *SunSpecActuator) SetAuto(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.storage.DisableStorageControl()
}

// StorageParams translates a signed power command to storage limits. Negative power forces
// charging, positive power forces discharging and 0 holds the battery idle.
func StorageParams(powerW int, duration time.Duration) sunspec_modbus.StorageControlParams {
	params := sunspec_modbus.UncontrolledStorageParams()
	params.RevertTimeSeconds = uint32(duration.Seconds())
	switch {
	case powerW < 0:
		params.MinChargePowerWatt = int32(-powerW)
		params.MaxChargePowerWatt = int32(-powerW)
	case powerW > 0:
		params.MinDischargePowerWatt = int32(powerW)
		params.MaxDischargePowerWatt = int32(powerW)
	default:
		params.MaxChargePowerWatt = 0
		params.MaxDischargePowerWatt = 0
	}
	return params
}

// ensure interface compliance
var (
	_ port.BatteryActuator   = (*SunSpecActuator)(nil)
	_ port.ActuatorLifecycle = (*SunSpecActuator)(nil)
)
