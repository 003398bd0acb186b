package policy

import "strings"

// DefaultSystemSurfaces are launcher/system-shell identifiers that hosts
// report as "foreground" while the user is really on the home screen.
var DefaultSystemSurfaces = []string{
	// Android launchers and shell
	"com.android.systemui",
	"com.android.launcher",
	"com.android.launcher3",
	"com.google.android.apps.nexuslauncher",
	"com.sec.android.app.launcher",
	"com.miui.home",
	"com.huawei.android.launcher",
	"com.oppo.launcher",
	"net.oneplus.launcher",
	// Desktop shells
	"com.apple.finder",
	"com.apple.dock",
	"loginwindow",
	"gnome-shell",
	"plasmashell",
	"explorer.exe",
}

// Surfaces matches foreground identifiers that must never match a policy.
type Surfaces struct {
	exact    map[string]bool
	prefixes []string
}

// NewSurfaces builds a matcher. Entries ending in "*" match by prefix.
func NewSurfaces(ids ...string) *Surfaces {
	s := &Surfaces{exact: make(map[string]bool, len(ids))}
	for _, id := range ids {
		id = strings.ToLower(strings.TrimSpace(id))
		if id == "" {
			continue
		}
		if strings.HasSuffix(id, "*") {
			s.prefixes = append(s.prefixes, strings.TrimSuffix(id, "*"))
			continue
		}
		s.exact[id] = true
	}
	return s
}

// DefaultSurfaces returns a matcher over DefaultSystemSurfaces plus extra entries.
func DefaultSurfaces(extra ...string) *Surfaces {
	return NewSurfaces(append(append([]string{}, DefaultSystemSurfaces...), extra...)...)
}

// IsSystem reports whether pkg is a launcher or system-shell surface.
func (s *Surfaces) IsSystem(pkg string) bool {
	if s == nil {
		return false
	}
	p := strings.ToLower(strings.TrimSpace(pkg))
	if s.exact[p] {
		return true
	}
	for _, prefix := range s.prefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}
