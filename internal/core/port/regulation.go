package port

import (
	"context"
	"time"

	"github.com/berfenger/battery-regulator/internal/core/domain"
)

// BatteryActuator sends commands to a battery.
type BatteryActuator interface {
	// SetPower charges (negative) or discharges (positive) at powerW. The battery reverts to
	// its own logic once duration elapses without a new command.
	SetPower(ctx context.Context, powerW int, duration time.Duration) error
	// SetAuto hands control back to the battery.
	SetAuto(ctx context.Context) error
}

// ActuatorLifecycle is implemented by actuators holding a connection.
type ActuatorLifecycle interface {
	Open() error
	Close() error
}

type RegulationEngine interface {
	Decide(reading domain.Reading, prev domain.Decision) domain.Decision
}

// MessagePublisher publishes a raw message to a broker topic.
type MessagePublisher interface {
	Publish(ctx context.Context, topic string, payload []byte, retain bool) error
}
