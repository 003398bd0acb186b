package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

// defaultForegroundHistory bounds the transition log kept for launch counting.
const defaultForegroundHistory = 4096

// ForegroundSource samples the focused package on demand.
type ForegroundSource interface {
	Sample(ctx context.Context) (pkg string, ok bool, err error)
}

type foregroundEvent struct {
	pkg string
	at  time.Time
}

// ForegroundTracker implements domain.ForegroundObserver. Transitions arrive
// either from the host (Record, via the control API) or from an optional
// ForegroundSource polled on every CurrentForeground call.
//
// The first observation after construction is a baseline: the package was
// already in front when the engine started, so it is not a launch. Event
// times are kept at millisecond precision, the precision of stored markers.
type ForegroundTracker struct {
	mu      sync.Mutex
	current string
	seen    bool
	known   bool
	events  []foregroundEvent
	limit   int
	source  ForegroundSource
	now     func() time.Time
}

// NewForegroundTracker creates a tracker. source may be nil.
func NewForegroundTracker(source ForegroundSource) *ForegroundTracker {
	return NewForegroundTrackerWithClock(source, time.Now)
}

// NewForegroundTrackerWithClock creates a tracker that stamps polled samples
// with now.
func NewForegroundTrackerWithClock(source ForegroundSource, now func() time.Time) *ForegroundTracker {
	return &ForegroundTracker{
		limit:  defaultForegroundHistory,
		source: source,
		now:    now,
	}
}

// Record notes that pkg owns the foreground as of at. Repeating the current
// package is not a transition. An empty pkg marks the foreground unknown
// until the next report; the last package is kept, so reporting it again
// afterwards is not a launch.
func (t *ForegroundTracker) Record(pkg string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if pkg == "" {
		t.known = false
		return
	}
	t.known = true
	if !t.seen {
		t.seen = true
		t.current = pkg
		return
	}
	if t.current == pkg {
		return
	}
	t.current = pkg
	t.events = append(t.events, foregroundEvent{pkg: pkg, at: at.Truncate(time.Millisecond)})
	if len(t.events) > t.limit {
		t.events = append([]foregroundEvent(nil), t.events[len(t.events)-t.limit:]...)
	}
}

// CurrentForeground returns the latest known foreground package. A source
// sample that cannot tell reports unknown for this call only.
func (t *ForegroundTracker) CurrentForeground(ctx context.Context) (string, bool, error) {
	if t.source != nil {
		pkg, ok, err := t.source.Sample(ctx)
		if err != nil {
			return "", false, err
		}
		if !ok {
			return "", false, nil
		}
		t.Record(pkg, t.now())
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.known {
		return "", false, nil
	}
	return t.current, true, nil
}

// ForegroundEventsSince returns transitions to pkg in a later millisecond
// than since, oldest first.
func (t *ForegroundTracker) ForegroundEventsSince(ctx context.Context, pkg string, since time.Time) ([]time.Time, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	floor := since.UnixMilli()
	var out []time.Time
	for _, ev := range t.events {
		if ev.pkg == pkg && ev.at.UnixMilli() > floor {
			out = append(out, ev.at)
		}
	}
	return out, nil
}

var _ domain.ForegroundObserver = (*ForegroundTracker)(nil)

// CommandSource runs a command that prints the focused window's PID (or a
// package name) and resolves PIDs to process names.
type CommandSource struct {
	argv   []string
	runner CommandRunner
	pm     domain.ProcessManager
}

// NewCommandSource creates a source from argv, e.g.
// ["xdotool", "getactivewindow", "getwindowpid"].
func NewCommandSource(argv []string, runner CommandRunner, pm domain.ProcessManager) *CommandSource {
	if runner == nil {
		runner = &RealCommandRunner{}
	}
	return &CommandSource{argv: append([]string(nil), argv...), runner: runner, pm: pm}
}

// Sample runs the command once.
func (s *CommandSource) Sample(ctx context.Context) (string, bool, error) {
	if len(s.argv) == 0 {
		return "", false, nil
	}
	out, err := s.runner.Output(ctx, s.argv[0], s.argv[1:]...)
	if err != nil {
		// No focused window is a normal state for most of these tools.
		return "", false, nil
	}
	value := strings.TrimSpace(string(out))
	if value == "" {
		return "", false, nil
	}

	pid, err := strconv.Atoi(value)
	if err != nil {
		return value, true, nil
	}
	if s.pm == nil {
		return "", false, fmt.Errorf("foreground command printed pid %d but no process manager is set", pid)
	}
	name, err := s.pm.NameOf(pid)
	if err != nil {
		return "", false, nil // Process exited between sample and lookup
	}
	return name, true, nil
}

var _ ForegroundSource = (*CommandSource)(nil)
