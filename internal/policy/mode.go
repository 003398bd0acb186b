package policy

import (
	"strings"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

// legacyModes maps the numbered display strings written by older settings
// screens ("Mode 1 (Time Limit)", "Mode 2", ...) to modes.
var legacyModes = map[string]domain.Mode{
	"mode 1": domain.ModeTimeLimit,
	"mode 2": domain.ModeLaunchLimit,
	"mode 3": domain.ModePasswordProtected,
	"mode 4": domain.ModeConstantOverlay,
}

// ParseMode decodes a stored mode token.
// Unknown tokens return ModeTimeLimit and ok=false so callers can log them.
func ParseMode(token string) (mode domain.Mode, ok bool) {
	t := strings.ToLower(strings.TrimSpace(token))
	switch t {
	case "time_limit", "timelimit", "time":
		return domain.ModeTimeLimit, true
	case "launch_limit", "launchlimit", "launch":
		return domain.ModeLaunchLimit, true
	case "password_protected", "passwordprotected", "password":
		return domain.ModePasswordProtected, true
	case "constant_overlay", "constantoverlay", "overlay":
		return domain.ModeConstantOverlay, true
	}

	// Legacy: "Mode N" optionally followed by a parenthesised label.
	if i := strings.Index(t, "("); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	if m, found := legacyModes[t]; found {
		return m, true
	}
	return domain.ModeTimeLimit, false
}

// Modes returns all modes in declaration order (for CLI help and validation).
func Modes() []domain.Mode {
	return []domain.Mode{
		domain.ModeTimeLimit,
		domain.ModeLaunchLimit,
		domain.ModePasswordProtected,
		domain.ModeConstantOverlay,
	}
}
