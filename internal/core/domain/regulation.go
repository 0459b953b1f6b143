package domain

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrReadingUnavailable = errors.New("reading unavailable")
	ErrInvalidReading     = errors.New("invalid reading")
	ErrInvalidSettings    = errors.New("invalid regulation settings")
)

// Mode is the operating mode commanded to the battery.
type Mode int

const (
	ModeAuto Mode = iota
	ModeChargeOffPeak
	ModeChargeSurplus
	ModeDischarge
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeChargeOffPeak:
		return "charge_off_peak"
	case ModeChargeSurplus:
		return "charge_surplus"
	case ModeDischarge:
		return "discharge"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// IsCharging reports whether the battery draws power in this mode.
func (m Mode) IsCharging() bool {
	return m == ModeChargeOffPeak || m == ModeChargeSurplus
}

// Tier is the day-ahead price category.
type Tier int

const (
	TierNone Tier = iota
	TierCheap
	TierExpensive
)

func (t Tier) String() string {
	switch t {
	case TierCheap:
		return "cheap"
	case TierExpensive:
		return "expensive"
	default:
		return "none"
	}
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ParseTier maps tariff color names (Tempo style) and plain names to a Tier.
// Unknown values map to TierNone.
func ParseTier(value string) Tier {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "bleu", "blue", "cheap":
		return TierCheap
	case "blanc", "white", "rouge", "red", "expensive":
		return TierExpensive
	default:
		return TierNone
	}
}

// Reading is the sensor snapshot used by one regulation cycle.
type Reading struct {
	GridPowerW               float64
	SolarPowerW              float64
	BatterySoC               float64
	BatteryPowerW            float64 // magnitude, the sensor carries no sign
	OffPeak                  bool
	SolarForecastTodayWh     float64
	SolarForecastRemainingWh float64
	Tier                     Tier
	Time                     time.Time
}

func (r Reading) Validate() error {
	values := []struct {
		name  string
		value float64
	}{
		{"grid power", r.GridPowerW},
		{"solar power", r.SolarPowerW},
		{"battery soc", r.BatterySoC},
		{"battery power", r.BatteryPowerW},
		{"solar forecast today", r.SolarForecastTodayWh},
		{"solar forecast remaining", r.SolarForecastRemainingWh},
	}
	for _, v := range values {
		if math.IsNaN(v.value) || math.IsInf(v.value, 0) {
			return fmt.Errorf("%w: %s is not a finite number", ErrInvalidReading, v.name)
		}
	}
	if r.BatterySoC < 0 || r.BatterySoC > 100 {
		return fmt.Errorf("%w: battery soc %.1f out of range", ErrInvalidReading, r.BatterySoC)
	}
	if r.SolarPowerW < 0 {
		return fmt.Errorf("%w: negative solar power", ErrInvalidReading)
	}
	if r.BatteryPowerW < 0 {
		return fmt.Errorf("%w: negative battery power magnitude", ErrInvalidReading)
	}
	if r.SolarForecastTodayWh < 0 || r.SolarForecastRemainingWh < 0 {
		return fmt.Errorf("%w: negative solar forecast", ErrInvalidReading)
	}
	if r.Time.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidReading)
	}
	return nil
}

// Decision is the outcome of one regulation cycle.
// PowerW is negative when charging, positive when discharging and 0 in auto.
type Decision struct {
	Mode       Mode      `json:"mode"`
	PowerW     int       `json:"power_w"`
	TargetSoC  int       `json:"target_soc"`
	ReserveSoC int       `json:"reserve_soc"`
	Reason     string    `json:"reason"`
	Time       time.Time `json:"time"`
}

func AutoDecision(reason string) Decision {
	return Decision{
		Mode:   ModeAuto,
		Reason: reason,
	}
}

// SameCommand reports whether both decisions translate into the same actuator command.
func (d Decision) SameCommand(other Decision) bool {
	return d.Mode == other.Mode && d.PowerW == other.PowerW
}

// RegulationSettings are the tunables of the decision engine.
type RegulationSettings struct {
	BatteryCapacityWh      int
	BaseLoadW              int
	OffPeakChargeRateW     int
	MaxChargeRateW         int
	MaxDischargeRateW      int
	SurplusThresholdW      int
	MaxSurplusSoC          int
	MinDischargePowerW     int
	OffPeakWindowStartHour int
	OffPeakWindowEndHour   int
	OffPeakTariffStartHour int
}

func DefaultRegulationSettings() RegulationSettings {
	return RegulationSettings{
		BatteryCapacityWh:      5120,
		BaseLoadW:              400,
		OffPeakChargeRateW:     1500,
		MaxChargeRateW:         2500,
		MaxDischargeRateW:      2500,
		SurplusThresholdW:      100,
		MaxSurplusSoC:          95,
		MinDischargePowerW:     50,
		OffPeakWindowStartHour: 2,
		OffPeakWindowEndHour:   6,
		OffPeakTariffStartHour: 22,
	}
}

func (s RegulationSettings) Validate() error {
	switch {
	case s.BatteryCapacityWh <= 0:
		return fmt.Errorf("%w: battery capacity must be > 0", ErrInvalidSettings)
	case s.BaseLoadW < 0:
		return fmt.Errorf("%w: base load must be >= 0", ErrInvalidSettings)
	case s.SurplusThresholdW < 0:
		return fmt.Errorf("%w: surplus threshold must be >= 0", ErrInvalidSettings)
	case s.MaxChargeRateW < s.SurplusThresholdW:
		return fmt.Errorf("%w: max charge rate (%d) must be >= surplus threshold (%d)", ErrInvalidSettings, s.MaxChargeRateW, s.SurplusThresholdW)
	case s.OffPeakChargeRateW <= 0 || s.OffPeakChargeRateW > s.MaxChargeRateW:
		return fmt.Errorf("%w: off-peak charge rate must be in (0, max charge rate]", ErrInvalidSettings)
	case s.MinDischargePowerW < 0:
		return fmt.Errorf("%w: min discharge power must be >= 0", ErrInvalidSettings)
	case s.MaxDischargeRateW < s.MinDischargePowerW:
		return fmt.Errorf("%w: max discharge rate (%d) must be >= min discharge power (%d)", ErrInvalidSettings, s.MaxDischargeRateW, s.MinDischargePowerW)
	case s.MaxSurplusSoC <= 0 || s.MaxSurplusSoC > 100:
		return fmt.Errorf("%w: max surplus soc must be in (0, 100]", ErrInvalidSettings)
	case !validHour(s.OffPeakWindowStartHour) || !validHour(s.OffPeakWindowEndHour) || !validHour(s.OffPeakTariffStartHour):
		return fmt.Errorf("%w: hours must be in [0, 23]", ErrInvalidSettings)
	case s.OffPeakWindowStartHour == s.OffPeakWindowEndHour:
		return fmt.Errorf("%w: off-peak charge window is empty", ErrInvalidSettings)
	}
	return nil
}

// InOffPeakWindow reports whether t falls in the off-peak charging window.
// A window with start > end wraps around midnight.
func (s RegulationSettings) InOffPeakWindow(t time.Time) bool {
	h := t.Hour()
	if s.OffPeakWindowStartHour < s.OffPeakWindowEndHour {
		return h >= s.OffPeakWindowStartHour && h < s.OffPeakWindowEndHour
	}
	return h >= s.OffPeakWindowStartHour || h < s.OffPeakWindowEndHour
}

func validHour(h int) bool {
	return h >= 0 && h <= 23
}
