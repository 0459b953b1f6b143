package battery

import (
	"context"
	"time"

	"github.com/berfenger/battery-regulator/internal/core/port"

	"go.uber.org/zap"
)

// DryRunActuator only logs the commands it receives.
type DryRunActuator struct {
	logger *zap.Logger
}

func NewDryRunActuator(logger *zap.Logger) *DryRunActuator {
	return &DryRunActuator{
		logger: logger.With(zap.String("actuator", "dryrun")),
	}
}

func (a *DryRunActuator) SetPower(ctx context.Context, powerW int, duration time.Duration) error {
	a.logger.Info("dry run: set power", zap.Int("power_w", powerW), zap.Duration("duration", duration))
	return ctx.Err()
}

func (a *DryRunActuator) SetAuto(ctx context.Context) error {
	a.logger.Info("dry run: set auto")
	return ctx.Err()
}

// ensure interface compliance
var _ port.BatteryActuator = (*DryRunActuator)(nil)
