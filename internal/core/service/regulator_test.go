package service

import (
	"math/rand"
	"testing"
	"time"

	"github.com/berfenger/battery-regulator/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var settings = domain.DefaultRegulationSettings()

// reading generator: grid, solar, soc, battery magnitude
func genReading(grid, solar, soc, battery float64) domain.Reading {
	return domain.Reading{
		GridPowerW:               grid,
		SolarPowerW:              solar,
		BatterySoC:               soc,
		BatteryPowerW:            battery,
		SolarForecastTodayWh:     5000,
		SolarForecastRemainingWh: 2000,
		Time:                     at(14, 0),
	}
}

var rd = genReading

func sp(target, reserve int) Setpoints {
	return Setpoints{TargetSoC: target, ReserveSoC: reserve}
}

func TestScenarioOffPeakChargeStart(t *testing.T) {
	require := require.New(t)

	r := rd(300, 0, 40, 0)
	r.OffPeak = true
	r.Time = at(3, 0)
	d := Evaluate(r, domain.ModeAuto, sp(65, 10), settings)
	require.Equal(domain.ModeChargeOffPeak, d.Mode)
	require.Equal(-1500, d.PowerW)
	require.Equal(65, d.TargetSoC)
}

func TestScenarioOffPeakChargeStop(t *testing.T) {
	require := require.New(t)

	r := rd(300, 0, 70, 1500)
	r.OffPeak = true
	r.Time = at(4, 0)
	d := Evaluate(r, domain.ModeChargeOffPeak, sp(65, 10), settings)
	require.Equal(domain.ModeAuto, d.Mode)
	require.Equal(0, d.PowerW)
}

func TestScenarioSurplusCharge(t *testing.T) {
	require := require.New(t)

	d := Evaluate(rd(-200, 300, 50, 100), domain.ModeChargeSurplus, sp(65, 23), settings)
	require.Equal(domain.ModeChargeSurplus, d.Mode)
	require.Equal(-200, d.PowerW)
}

func TestScenarioPeakDischarge(t *testing.T) {
	require := require.New(t)

	d := Evaluate(rd(150, 0, 50, 0), domain.ModeAuto, sp(65, 23), settings)
	require.Equal(domain.ModeDischarge, d.Mode)
	require.Equal(130, d.PowerW)
	require.Equal(23, d.ReserveSoC)
}

func TestLiveSnapshotSurplus(t *testing.T) {
	assert := assert.New(t)

	r := rd(-443, 559, 52, 8)

	fromSurplus := Evaluate(r, domain.ModeChargeSurplus, sp(65, 10), settings)
	assert.Equal(domain.ModeChargeSurplus, fromSurplus.Mode)
	assert.Equal(-351, fromSurplus.PowerW)

	fromAuto := Evaluate(r, domain.ModeAuto, sp(65, 10), settings)
	assert.Equal(domain.ModeChargeSurplus, fromAuto.Mode)
	assert.Equal(-343, fromAuto.PowerW)
}

func TestSurplusDuringOffPeakOutsideWindow(t *testing.T) {
	require := require.New(t)

	r := rd(-500, 600, 50, 0)
	r.OffPeak = true
	r.Time = at(22, 0)
	d := Decide(r, domain.AutoDecision(""), settings)
	require.Equal(domain.ModeChargeSurplus, d.Mode)
	require.Equal(-400, d.PowerW)
	require.Equal(RESERVE_SOC_FLOOR, d.ReserveSoC)
}

func TestSurplusStopsAboveMaxSoC(t *testing.T) {
	require := require.New(t)

	d := Evaluate(rd(-800, 1200, 96, 500), domain.ModeChargeSurplus, sp(65, 10), settings)
	require.Equal(domain.ModeAuto, d.Mode)
}

func TestSurplusStop(t *testing.T) {
	require := require.New(t)

	d := Evaluate(rd(-40, 400, 50, 300), domain.ModeChargeSurplus, sp(65, 10), settings)
	require.Equal(domain.ModeAuto, d.Mode)
	require.Equal(0, d.PowerW)
}

func TestSurplusHysteresis(t *testing.T) {
	require := require.New(t)

	mode := domain.ModeChargeSurplus
	for i := 0; i < 20; i++ {
		grid := -150.0
		if i%2 == 1 {
			grid = -80
		}
		d := Evaluate(rd(grid, 800, 50, 400), mode, sp(65, 10), settings)
		require.Equal(domain.ModeChargeSurplus, d.Mode, "cycle %d, grid %.0f", i, grid)
		mode = d.Mode
	}

	// without a running surplus charge -80W of export is not enough to start
	d := Evaluate(rd(-80, 800, 50, 0), domain.ModeAuto, sp(65, 10), settings)
	require.Equal(domain.ModeAuto, d.Mode)
}

func TestDischargeContinuesBelowStartThreshold(t *testing.T) {
	require := require.New(t)

	// grid at 10W does not start a discharge but keeps a running one
	d := Evaluate(rd(10, 0, 50, 300), domain.ModeDischarge, sp(65, 23), settings)
	require.Equal(domain.ModeDischarge, d.Mode)
	require.Equal(290, d.PowerW)

	d = Evaluate(rd(10, 0, 50, 0), domain.ModeAuto, sp(65, 23), settings)
	require.Equal(domain.ModeAuto, d.Mode)
}

func TestDischargeStopsAtReserve(t *testing.T) {
	require := require.New(t)

	d := Evaluate(rd(400, 0, 23, 300), domain.ModeDischarge, sp(65, 23), settings)
	require.Equal(domain.ModeAuto, d.Mode)
}

func TestNegligibleDischargeIsNotCommanded(t *testing.T) {
	require := require.New(t)

	// candidate 60-20 = 40W < 50W
	d := Evaluate(rd(60, 0, 50, 0), domain.ModeAuto, sp(65, 23), settings)
	require.Equal(domain.ModeAuto, d.Mode)
	require.Equal(0, d.PowerW)
}

func TestNoDischargeDuringOffPeak(t *testing.T) {
	require := require.New(t)

	r := rd(800, 0, 90, 0)
	r.OffPeak = true
	r.Time = at(23, 0)
	d := Evaluate(r, domain.ModeAuto, sp(65, 10), settings)
	require.Equal(domain.ModeAuto, d.Mode)
}

func TestOffPeakChargeEndsWithPeak(t *testing.T) {
	require := require.New(t)

	d := Evaluate(rd(1600, 0, 40, 1500), domain.ModeChargeOffPeak, sp(65, 50), settings)
	require.Equal(domain.ModeAuto, d.Mode)
	require.Equal("off-peak period ended", d.Reason)
}

func TestWrappingWindow(t *testing.T) {
	require := require.New(t)

	s := settings
	s.OffPeakWindowStartHour = 23
	s.OffPeakWindowEndHour = 5

	r := rd(300, 0, 30, 0)
	r.OffPeak = true
	for _, h := range []int{23, 0, 4} {
		r.Time = at(h, 30)
		require.Equal(domain.ModeChargeOffPeak, Evaluate(r, domain.ModeAuto, sp(65, 10), s).Mode, "hour %d", h)
	}
	r.Time = at(5, 0)
	require.Equal(domain.ModeAuto, Evaluate(r, domain.ModeAuto, sp(65, 10), s).Mode)
}

func TestSignedBatteryPower(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(-300, SignedBatteryPower(domain.ModeChargeSurplus, 300))
	assert.Equal(-1500, SignedBatteryPower(domain.ModeChargeOffPeak, 1500))
	assert.Equal(300, SignedBatteryPower(domain.ModeDischarge, 300))
	assert.Equal(300, SignedBatteryPower(domain.ModeDischarge, -300))
	assert.Equal(0, SignedBatteryPower(domain.ModeAuto, 300))
}

func randomReading(rnd *rand.Rand) domain.Reading {
	r := domain.Reading{
		GridPowerW:               rnd.Float64()*8000 - 4000,
		SolarPowerW:              rnd.Float64() * 5000,
		BatterySoC:               rnd.Float64() * 100,
		BatteryPowerW:            rnd.Float64() * 3000,
		OffPeak:                  rnd.Intn(2) == 0,
		SolarForecastTodayWh:     rnd.Float64() * 40000,
		SolarForecastRemainingWh: rnd.Float64() * 20000,
		Tier:                     domain.Tier(rnd.Intn(3)),
		Time:                     at(rnd.Intn(24), rnd.Intn(60)),
	}
	return r
}

func TestDecisionInvariants(t *testing.T) {
	require := require.New(t)

	rnd := rand.New(rand.NewSource(1))
	modes := []domain.Mode{domain.ModeAuto, domain.ModeChargeOffPeak, domain.ModeChargeSurplus, domain.ModeDischarge}

	for i := 0; i < 20000; i++ {
		r := randomReading(rnd)
		require.NoError(r.Validate())
		prev := domain.Decision{Mode: modes[rnd.Intn(len(modes))]}

		d := Decide(r, prev, settings)

		// purity
		require.Equal(d, Decide(r, prev, settings))

		switch d.Mode {
		case domain.ModeAuto:
			require.Equal(0, d.PowerW)
		case domain.ModeChargeOffPeak:
			require.Equal(-settings.OffPeakChargeRateW, d.PowerW)
		case domain.ModeChargeSurplus:
			require.GreaterOrEqual(d.PowerW, -settings.MaxChargeRateW)
			require.LessOrEqual(d.PowerW, -settings.SurplusThresholdW)
		case domain.ModeDischarge:
			require.GreaterOrEqual(d.PowerW, settings.MinDischargePowerW)
			require.LessOrEqual(d.PowerW, settings.MaxDischargeRateW)
		}
		require.GreaterOrEqual(d.TargetSoC, 20)
		require.LessOrEqual(d.TargetSoC, 100)
		require.GreaterOrEqual(d.ReserveSoC, RESERVE_SOC_FLOOR)
		require.LessOrEqual(d.ReserveSoC, 100)
		require.Equal(r.Time, d.Time)
	}
}

func TestEngineUsesSettings(t *testing.T) {
	require := require.New(t)

	s := settings
	s.OffPeakChargeRateW = 800
	engine := NewRegulationEngine(s)

	r := rd(300, 0, 10, 0)
	r.OffPeak = true
	r.Time = time.Date(2024, time.January, 3, 3, 15, 0, 0, time.Local)
	d := engine.Decide(r, domain.AutoDecision(""))
	require.Equal(domain.ModeChargeOffPeak, d.Mode)
	require.Equal(-800, d.PowerW)
}
