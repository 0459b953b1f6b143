package service

import (
	"fmt"
	"time"

	"github.com/berfenger/battery-regulator/internal/core/domain"
)

// DispatchPolicy decides which decision the loop adopts and when a command must be sent.
type DispatchPolicy struct {
	// minimum time between two mode changes, 0 disables the cooldown
	ModeChangeCooldown time.Duration
	// how long the battery holds a commanded power before reverting to auto
	CommandDuration time.Duration
}

// Admit applies the mode change cooldown to next. When the mode change is suppressed the
// previous mode and power are held with fresh setpoints, and suppressed is true.
func (p DispatchPolicy) Admit(next, current domain.Decision, lastModeChange, now time.Time) (adopted domain.Decision, suppressed bool) {
	if next.Mode == current.Mode || p.ModeChangeCooldown <= 0 {
		return next, false
	}
	elapsed := now.Sub(lastModeChange)
	if elapsed >= p.ModeChangeCooldown {
		return next, false
	}
	held := current
	held.TargetSoC = next.TargetSoC
	held.ReserveSoC = next.ReserveSoC
	held.Time = next.Time
	held.Reason = fmt.Sprintf("cooldown (%s -> %s blocked %ds: %s)", current.Mode, next.Mode,
		int((p.ModeChangeCooldown - elapsed).Seconds()), next.Reason)
	return held, true
}

// NeedsDispatch reports whether desired must be sent to the battery given the last
// acknowledged command. A non-auto command is refreshed at half its duration so the
// battery does not revert it while it is still wanted.
func (p DispatchPolicy) NeedsDispatch(desired domain.Decision, lastAcked *domain.Decision, lastAckedAt, now time.Time) bool {
	if lastAcked == nil || !desired.SameCommand(*lastAcked) {
		return true
	}
	if desired.Mode == domain.ModeAuto || p.CommandDuration <= 0 {
		return false
	}
	return now.Sub(lastAckedAt) >= p.CommandDuration/2
}
