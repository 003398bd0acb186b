// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// Mode is the enforcement mode of a policy.
// Decoded once at the store boundary; all internal logic switches on it.
type Mode int

const (
	ModeTimeLimit Mode = iota
	ModeLaunchLimit
	ModePasswordProtected
	ModeConstantOverlay
)

// AppPolicy is the enforcement configuration for one target application.
type AppPolicy struct {
	PackageID        string
	DisplayName      string
	Mode             Mode
	TimeLimitSeconds int
	MaxOpens         int
	CurrentOpens     int
	Password         string // empty disables password enforcement
}

// TimeLimit returns the configured limit as a duration.
func (p AppPolicy) TimeLimit() time.Duration {
	return time.Duration(p.TimeLimitSeconds) * time.Second
}

// RequiresPassword reports whether interventions for this policy can only be
// cleared with the password.
func (p AppPolicy) RequiresPassword() bool {
	return p.Mode == ModePasswordProtected && p.Password != ""
}

// Corner is where the presenter places the dismiss button.
type Corner int

const (
	CornerTopLeft Corner = iota
	CornerTopRight
	CornerBottomLeft
	CornerBottomRight
)

// Intervention is the blocking overlay request handed to the presenter.
type Intervention struct {
	ID               string
	PackageID        string
	DisplayName      string
	Mode             Mode
	Message          string
	RequiresPassword bool
	DismissCorner    Corner
	PresentedAt      time.Time
}

// DaemonRole identifies the type of daemon process.
type DaemonRole string

const (
	RoleEngine   DaemonRole = "engine"
	RoleGuardian DaemonRole = "guardian"
)

// Daemon represents a running daemon process.
type Daemon struct {
	PID        int
	Role       DaemonRole
	Name       string
	StartedAt  time.Time
	AppVersion string
}

// RegistryEntry stores the state of both daemons for mutual discovery.
// Persisted to a file for cross-process communication.
type RegistryEntry struct {
	Version       int    `json:"version"`
	EnginePID     int    `json:"engine_pid"`
	EngineName    string `json:"engine_name"`
	GuardianPID   int    `json:"guardian_pid"`
	GuardianName  string `json:"guardian_name"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	Mode          string `json:"mode,omitempty"` // "user" or "system"
	AppVersion    string `json:"app_version,omitempty"`
}

// TickResult captures what happened during a single evaluation pass.
type TickResult struct {
	At              time.Time
	Foreground      string
	Policies        int
	LaunchesCounted int
	Presented       *Intervention // set when an intervention was presented this tick
	Suppressed      bool          // target skipped because its intervention is pending
	Skipped         bool          // foreground unknown or unavailable; no state change
	Errors          []error
	DurationMs      int64
}

// String returns the persisted token for the mode.
func (m Mode) String() string {
	switch m {
	case ModeTimeLimit:
		return "time_limit"
	case ModeLaunchLimit:
		return "launch_limit"
	case ModePasswordProtected:
		return "password_protected"
	case ModeConstantOverlay:
		return "constant_overlay"
	default:
		return "unknown"
	}
}
