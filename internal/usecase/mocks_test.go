package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

var errStoreDown = errors.New("store unavailable")

// memStore implements domain.PolicyStore in memory. Times are kept in whole
// milliseconds, like the persistent stores.
type memStore struct {
	mu        sync.Mutex
	policies  []domain.AppPolicy
	lastReset time.Time
	markers   map[string]time.Time
	loadErr   error
	commitErr error
	commits   int
}

func newMemStore(policies ...domain.AppPolicy) *memStore {
	return &memStore{
		policies: append([]domain.AppPolicy(nil), policies...),
		markers:  make(map[string]time.Time),
	}
}

func (m *memStore) Load() ([]domain.AppPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]domain.AppPolicy(nil), m.policies...), nil
}

func (m *memStore) SaveAll(policies []domain.AppPolicy) error {
	return m.Commit(domain.Commit{Policies: policies})
}

func (m *memStore) LastResetTime() (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReset, nil
}

func (m *memStore) SetLastResetTime(t time.Time) error {
	return m.Commit(domain.Commit{LastReset: &t})
}

func (m *memStore) LastLaunchEvent(packageID string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.markers[packageID], nil
}

func (m *memStore) SetLastLaunchEvent(packageID string, t time.Time) error {
	return m.Commit(domain.Commit{LaunchMarkers: map[string]time.Time{packageID: t}})
}

func (m *memStore) Commit(c domain.Commit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	m.commits++
	if c.Policies != nil {
		m.policies = append([]domain.AppPolicy(nil), c.Policies...)
	}
	if c.LastReset != nil {
		m.lastReset = c.LastReset.Truncate(time.Millisecond)
	}
	for id, at := range c.LaunchMarkers {
		m.markers[id] = at.Truncate(time.Millisecond)
	}
	return nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) get(packageID string) domain.AppPolicy {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.policies {
		if p.PackageID == packageID {
			return p
		}
	}
	return domain.AppPolicy{}
}

func (m *memStore) set(policies ...domain.AppPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies = append([]domain.AppPolicy(nil), policies...)
}

// fakeObserver implements domain.ForegroundObserver with scripted values.
type fakeObserver struct {
	pkg    string
	ok     bool
	err    error
	events map[string][]time.Time
}

func newFakeObserver() *fakeObserver {
	return &fakeObserver{events: make(map[string][]time.Time)}
}

func (o *fakeObserver) foreground(pkg string) {
	o.pkg = pkg
	o.ok = pkg != ""
}

func (o *fakeObserver) launch(pkg string, at time.Time) {
	o.events[pkg] = append(o.events[pkg], at)
	sort.Slice(o.events[pkg], func(i, j int) bool { return o.events[pkg][i].Before(o.events[pkg][j]) })
}

func (o *fakeObserver) CurrentForeground(ctx context.Context) (string, bool, error) {
	return o.pkg, o.ok, o.err
}

func (o *fakeObserver) ForegroundEventsSince(ctx context.Context, pkg string, since time.Time) ([]time.Time, error) {
	var out []time.Time
	for _, at := range o.events[pkg] {
		if at.UnixMilli() > since.UnixMilli() {
			out = append(out, at)
		}
	}
	return out, nil
}

// recordingPresenter implements domain.InterventionPresenter.
type recordingPresenter struct {
	presented []domain.Intervention
	current   *domain.Intervention
	dismissed int
	err       error
}

func (p *recordingPresenter) Present(iv domain.Intervention) error {
	if p.err != nil {
		return p.err
	}
	if p.current != nil {
		return nil
	}
	p.presented = append(p.presented, iv)
	p.current = &iv
	return nil
}

func (p *recordingPresenter) Dismiss() error {
	p.dismissed++
	p.current = nil
	return nil
}

// recordingOpener implements domain.ManagementOpener.
type recordingOpener struct {
	opened []string
}

func (o *recordingOpener) OpenManagement(packageID string) error {
	o.opened = append(o.opened, packageID)
	return nil
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
