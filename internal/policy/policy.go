// Package policy holds the pure rules of app usage policies: mode decoding,
// validation, trigger conditions, and the set of system surfaces that never
// count as a foreground app.
package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

// DefaultTickInterval is the polling period of the engine (about 1 Hz).
const DefaultTickInterval = time.Second

// DefaultResetPeriod is the length of a launch-count window.
const DefaultResetPeriod = 24 * time.Hour

// Validate checks a policy record. Invalid records are dropped at load time.
func Validate(p domain.AppPolicy) error {
	if strings.TrimSpace(p.PackageID) == "" {
		return fmt.Errorf("packageId is required")
	}
	if p.TimeLimitSeconds < 0 {
		return fmt.Errorf("timeLimitSeconds must be >= 0, got %d", p.TimeLimitSeconds)
	}
	if p.MaxOpens < 0 {
		return fmt.Errorf("maxOpens must be >= 0, got %d", p.MaxOpens)
	}
	if p.CurrentOpens < 0 {
		return fmt.Errorf("currentOpens must be >= 0, got %d", p.CurrentOpens)
	}
	return nil
}

// ElapsedReached reports whether a time-based limit has been crossed.
// A zero limit never triggers.
func ElapsedReached(p domain.AppPolicy, start, now time.Time) bool {
	if p.TimeLimitSeconds <= 0 {
		return false
	}
	return now.Sub(start) >= p.TimeLimit()
}

// LaunchLimitReached reports whether the launch limit has been reached.
// The limit-reaching open itself triggers (>=).
func LaunchLimitReached(p domain.AppPolicy) bool {
	return p.MaxOpens > 0 && p.CurrentOpens >= p.MaxOpens
}

// Message returns the text shown on the intervention.
func Message(p domain.AppPolicy) string {
	name := p.DisplayName
	if name == "" {
		name = p.PackageID
	}
	switch p.Mode {
	case domain.ModeLaunchLimit:
		return fmt.Sprintf("%s exceeded open limit (%d/%d)", name, p.CurrentOpens, p.MaxOpens)
	case domain.ModePasswordProtected:
		if p.Password != "" {
			return fmt.Sprintf("%s is locked. Enter the password to continue.", name)
		}
		return fmt.Sprintf("Time's up for %s", name)
	default:
		return fmt.Sprintf("Time's up for %s", name)
	}
}
