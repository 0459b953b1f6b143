package service

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/berfenger/battery-regulator/internal/core/domain"
)

type sensorSample struct {
	payload string
	at      time.Time
}

// ReadingAssembler keeps the latest raw sample of every sensor and builds a Reading from them.
// It is not safe for concurrent use.
type ReadingAssembler struct {
	maxAge        time.Duration
	forecastScale float64
	samples       map[domain.ReadingField]sensorSample
}

// NewReadingAssembler creates an assembler. Samples older than maxAge are rejected, 0 disables
// the check. Forecast payloads are multiplied by forecastScale to get Wh.
func NewReadingAssembler(maxAge time.Duration, forecastScale float64) *ReadingAssembler {
	return &ReadingAssembler{
		maxAge:        maxAge,
		forecastScale: forecastScale,
		samples:       make(map[domain.ReadingField]sensorSample),
	}
}

func (a *ReadingAssembler) Update(field domain.ReadingField, payload string, at time.Time) {
	a.samples[field] = sensorSample{payload: strings.TrimSpace(payload), at: at}
}

// Assemble builds a validated Reading at now. Any missing, stale or unparsable required sample
// returns an error wrapping domain.ErrReadingUnavailable. The tier is optional.
func (a *ReadingAssembler) Assemble(now time.Time) (domain.Reading, error) {
	var (
		r   domain.Reading
		err error
	)
	if r.GridPowerW, err = a.number(domain.FIELD_GRID_POWER, now); err != nil {
		return r, err
	}
	if r.SolarPowerW, err = a.number(domain.FIELD_SOLAR_POWER, now); err != nil {
		return r, err
	}
	if r.BatterySoC, err = a.number(domain.FIELD_BATTERY_SOC, now); err != nil {
		return r, err
	}
	if r.BatteryPowerW, err = a.number(domain.FIELD_BATTERY_POWER, now); err != nil {
		return r, err
	}
	r.BatteryPowerW = math.Abs(r.BatteryPowerW)
	if r.SolarForecastTodayWh, err = a.number(domain.FIELD_SOLAR_FORECAST_TODAY, now); err != nil {
		return r, err
	}
	r.SolarForecastTodayWh *= a.forecastScale
	if r.SolarForecastRemainingWh, err = a.number(domain.FIELD_SOLAR_FORECAST_REMAINING, now); err != nil {
		return r, err
	}
	r.SolarForecastRemainingWh *= a.forecastScale

	offPeak, err := a.sample(domain.FIELD_OFF_PEAK, now)
	if err != nil {
		return r, err
	}
	if r.OffPeak, err = parseFlag(offPeak); err != nil {
		return r, fmt.Errorf("%w: %s: %v", domain.ErrReadingUnavailable, domain.FIELD_OFF_PEAK, err)
	}

	if tier, err := a.sample(domain.FIELD_TIER, now); err == nil {
		r.Tier = domain.ParseTier(tier)
	}

	r.Time = now
	return r, r.Validate()
}

func (a *ReadingAssembler) sample(field domain.ReadingField, now time.Time) (string, error) {
	s, ok := a.samples[field]
	if !ok {
		return "", fmt.Errorf("%w: %s: no sample received", domain.ErrReadingUnavailable, field)
	}
	if a.maxAge > 0 && now.Sub(s.at) > a.maxAge {
		return "", fmt.Errorf("%w: %s: sample is %s old", domain.ErrReadingUnavailable, field, now.Sub(s.at).Truncate(time.Second))
	}
	switch strings.ToLower(s.payload) {
	case "", "unavailable", "unknown", "none", "null":
		return "", fmt.Errorf("%w: %s: state is %q", domain.ErrReadingUnavailable, field, s.payload)
	}
	return s.payload, nil
}

func (a *ReadingAssembler) number(field domain.ReadingField, now time.Time) (float64, error) {
	payload, err := a.sample(field, now)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseFloat(payload, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrReadingUnavailable, field, err)
	}
	return value, nil
}

func parseFlag(payload string) (bool, error) {
	switch strings.ToLower(payload) {
	case "on", "true", "1", "yes", "hc":
		return true, nil
	case "off", "false", "0", "no", "hp":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean state: %q", payload)
}
