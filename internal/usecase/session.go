package usecase

import "time"

// session is the process-local monitoring state. It is never persisted; after a
// restart every timer starts over from the first observed tick.
type session struct {
	current      string    // last non-system foreground package
	start        time.Time // when current became foreground
	inBackground bool      // last observation was a launcher/system surface

	// overlayTimers are ConstantOverlay baselines. They survive switches
	// between apps and are cleared only when the device goes to the background.
	overlayTimers map[string]time.Time

	// unlocked marks password-locked packages opened with the correct password.
	// Cleared as soon as the package leaves the foreground.
	unlocked map[string]bool
}

func newSession() *session {
	return &session{
		overlayTimers: make(map[string]time.Time),
		unlocked:      make(map[string]bool),
	}
}

// observe records a non-system foreground package. It reports whether the
// foreground changed, which restarts the shared session timer.
func (s *session) observe(pkg string, now time.Time) bool {
	s.inBackground = false
	if pkg == s.current {
		return false
	}
	s.current = pkg
	s.start = now
	for id := range s.unlocked {
		delete(s.unlocked, id)
	}
	return true
}

// background records a launcher/system surface. It does not touch the shared
// session timer, but every tracked target counts as having left the foreground.
func (s *session) background() {
	s.inBackground = true
	for id := range s.overlayTimers {
		delete(s.overlayTimers, id)
	}
	for id := range s.unlocked {
		delete(s.unlocked, id)
	}
}

// overlayStart returns the ConstantOverlay baseline for pkg, starting it at now.
func (s *session) overlayStart(pkg string, now time.Time) time.Time {
	start, ok := s.overlayTimers[pkg]
	if !ok {
		start = now
		s.overlayTimers[pkg] = start
	}
	return start
}

// restart resets every timer of pkg to now.
func (s *session) restart(pkg string, now time.Time) {
	if s.current == pkg {
		s.start = now
	}
	if _, ok := s.overlayTimers[pkg]; ok {
		s.overlayTimers[pkg] = now
	}
}

// prune drops timers of packages that are no longer monitored.
func (s *session) prune(monitored func(string) bool) []string {
	var removed []string
	for id := range s.overlayTimers {
		if !monitored(id) {
			delete(s.overlayTimers, id)
			removed = append(removed, id)
		}
	}
	for id := range s.unlocked {
		if !monitored(id) {
			delete(s.unlocked, id)
		}
	}
	return removed
}
