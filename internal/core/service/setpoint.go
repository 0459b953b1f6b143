package service

import (
	"math"
	"time"

	"github.com/berfenger/battery-regulator/internal/core/domain"
)

const (
	RESERVE_SOC_FLOOR = 10
)

// TargetSoC is the state of charge to reach by the end of the off-peak charging window.
// A sunny forecast lowers it, leaving room for solar charging during the day.
func TargetSoC(forecastTodayWh float64, tier domain.Tier) int {
	kwh := forecastTodayWh / 1000
	var target float64
	switch tier {
	case domain.TierExpensive:
		target = math.Max(100-2*kwh, 60)
	case domain.TierCheap:
		target = math.Max(60-2.5*kwh, 20)
	default:
		target = math.Max(80-3*kwh, 20)
	}
	return clampInt(int(math.Round(target)), 0, 100)
}

// ReserveSoC is the state of charge kept to feed the base load until the next off-peak period,
// minus what the remaining solar production is expected to cover.
func ReserveSoC(offPeak bool, now time.Time, capacityWh, baseLoadW int, solarRemainingWh float64, offPeakStartHour int) int {
	if offPeak || capacityWh <= 0 {
		return RESERVE_SOC_FLOOR
	}
	energyWh := HoursUntil(now, offPeakStartHour)*float64(baseLoadW) - solarRemainingWh
	reserve := int(math.Round(energyWh / float64(capacityWh) * 100))
	return clampInt(reserve, RESERVE_SOC_FLOOR, 100)
}

// HoursUntil returns the fractional hours from now to the next occurrence of hour:00,
// wrapping past midnight. It is 0 exactly at hour:00.
func HoursUntil(now time.Time, hour int) float64 {
	current := float64(now.Hour()) + float64(now.Minute())/60 + float64(now.Second())/3600
	delta := float64(hour) - current
	if delta < 0 {
		delta += 24
	}
	return delta
}

func clampInt(value, lower, upper int) int {
	return max(lower, min(upper, value))
}
