package service

import (
	"fmt"
	"math"

	"github.com/berfenger/battery-regulator/internal/core/domain"
	"github.com/berfenger/battery-regulator/internal/core/port"
)

const (
	// residual export kept while charging from surplus so the grid never turns to import
	SURPLUS_EXPORT_MARGIN_W = 100
	// residual import kept while discharging so the battery never feeds the grid
	DISCHARGE_IMPORT_MARGIN_W = 20
	// grid power above which surplus charging stops
	SURPLUS_STOP_GRID_W = -50
)

type Setpoints struct {
	TargetSoC  int
	ReserveSoC int
}

func ComputeSetpoints(r domain.Reading, s domain.RegulationSettings) Setpoints {
	return Setpoints{
		TargetSoC:  TargetSoC(r.SolarForecastTodayWh, r.Tier),
		ReserveSoC: ReserveSoC(r.OffPeak, r.Time, s.BatteryCapacityWh, s.BaseLoadW, r.SolarForecastRemainingWh, s.OffPeakTariffStartHour),
	}
}

// SignedBatteryPower restores the sign of the battery power magnitude from the mode
// the battery was last commanded to: negative when charging, positive when discharging.
func SignedBatteryPower(mode domain.Mode, magnitudeW float64) int {
	p := int(math.Round(math.Abs(magnitudeW)))
	switch {
	case mode.IsCharging():
		return -p
	case mode == domain.ModeDischarge:
		return p
	default:
		return 0
	}
}

// Decide computes the setpoints for r and evaluates the regulation rules against the
// previous decision. It has no side effects.
func Decide(r domain.Reading, prev domain.Decision, s domain.RegulationSettings) domain.Decision {
	return Evaluate(r, prev.Mode, ComputeSetpoints(r, s), s)
}

// Evaluate applies the ordered regulation rules. The first matching rule wins.
func Evaluate(r domain.Reading, prev domain.Mode, sp Setpoints, s domain.RegulationSettings) domain.Decision {
	d := evaluate(r, prev, sp, s)
	d.TargetSoC = sp.TargetSoC
	d.ReserveSoC = sp.ReserveSoC
	d.Time = r.Time
	return d
}

func evaluate(r domain.Reading, prev domain.Mode, sp Setpoints, s domain.RegulationSettings) domain.Decision {
	soc := r.BatterySoC
	grid := r.GridPowerW
	battery := float64(SignedBatteryPower(prev, r.BatteryPowerW))
	threshold := float64(s.SurplusThresholdW)

	// off-peak charge
	if r.OffPeak && s.InOffPeakWindow(r.Time) && soc < float64(sp.TargetSoC) {
		return domain.Decision{
			Mode:   domain.ModeChargeOffPeak,
			PowerW: -s.OffPeakChargeRateW,
			Reason: fmt.Sprintf("off-peak charge: soc %.0f%% < target %d%%", soc, sp.TargetSoC),
		}
	}

	if prev == domain.ModeChargeOffPeak && soc >= float64(sp.TargetSoC) {
		return domain.AutoDecision(fmt.Sprintf("off-peak target reached: soc %.0f%% >= %d%%", soc, sp.TargetSoC))
	}

	// surplus charge, once started it continues until the stop threshold
	exporting := grid < -threshold || (prev == domain.ModeChargeSurplus && grid < SURPLUS_STOP_GRID_W)
	if exporting && r.SolarPowerW > threshold && soc < float64(s.MaxSurplusSoC) {
		power := clampInt(int(math.Round(grid+battery+SURPLUS_EXPORT_MARGIN_W)), -s.MaxChargeRateW, -s.SurplusThresholdW)
		return domain.Decision{
			Mode:   domain.ModeChargeSurplus,
			PowerW: power,
			Reason: fmt.Sprintf("solar surplus: grid %.0fW, solar %.0fW", grid, r.SolarPowerW),
		}
	}

	// discharge
	dischargeAllowed := !r.OffPeak && soc > float64(sp.ReserveSoC) &&
		(grid > DISCHARGE_IMPORT_MARGIN_W || prev == domain.ModeDischarge)
	if dischargeAllowed {
		power := clampInt(int(math.Round(grid+battery-DISCHARGE_IMPORT_MARGIN_W)), 0, s.MaxDischargeRateW)
		if power >= s.MinDischargePowerW {
			return domain.Decision{
				Mode:   domain.ModeDischarge,
				PowerW: power,
				Reason: fmt.Sprintf("peak discharge: grid %.0fW, soc %.0f%% > reserve %d%%", grid, soc, sp.ReserveSoC),
			}
		}
	}

	if prev == domain.ModeChargeSurplus && grid >= SURPLUS_STOP_GRID_W {
		return domain.AutoDecision(fmt.Sprintf("surplus gone: grid %.0fW", grid))
	}

	if prev == domain.ModeDischarge && !dischargeAllowed {
		return domain.AutoDecision(fmt.Sprintf("discharge stopped: soc %.0f%%, reserve %d%%", soc, sp.ReserveSoC))
	}

	if prev == domain.ModeChargeOffPeak && !r.OffPeak {
		return domain.AutoDecision("off-peak period ended")
	}

	return domain.AutoDecision("idle")
}

type DefaultRegulationEngine struct {
	Settings domain.RegulationSettings
}

func NewRegulationEngine(settings domain.RegulationSettings) *DefaultRegulationEngine {
	return &DefaultRegulationEngine{Settings: settings}
}

func (e *DefaultRegulationEngine) Decide(reading domain.Reading, prev domain.Decision) domain.Decision {
	return Decide(reading, prev, e.Settings)
}

// ensure interface compliance
var _ port.RegulationEngine = (*DefaultRegulationEngine)(nil)
