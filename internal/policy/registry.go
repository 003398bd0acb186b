package policy

import "github.com/eliteGoblin/focusd/app_limit/internal/domain"

// Set is an in-memory working copy of the stored policies, keyed by package.
// It is rebuilt from the store on every tick and never cached across ticks.
type Set struct {
	policies map[string]*domain.AppPolicy
	order    []string // preserves stored order
}

// NewSet indexes policies by package. Later duplicates replace earlier ones.
func NewSet(policies []domain.AppPolicy) *Set {
	s := &Set{
		policies: make(map[string]*domain.AppPolicy, len(policies)),
	}
	for _, p := range policies {
		s.Upsert(p)
	}
	return s
}

// Upsert adds or replaces a policy.
func (s *Set) Upsert(p domain.AppPolicy) {
	if _, ok := s.policies[p.PackageID]; !ok {
		s.order = append(s.order, p.PackageID)
	}
	cp := p
	s.policies[p.PackageID] = &cp
}

// Get returns a mutable pointer to the policy for a package.
func (s *Set) Get(packageID string) (*domain.AppPolicy, bool) {
	p, ok := s.policies[packageID]
	return p, ok
}

// Remove deletes a policy. It reports whether one was present.
func (s *Set) Remove(packageID string) bool {
	if _, ok := s.policies[packageID]; !ok {
		return false
	}
	delete(s.policies, packageID)
	for i, id := range s.order {
		if id == packageID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Has reports whether a package is monitored.
func (s *Set) Has(packageID string) bool {
	_, ok := s.policies[packageID]
	return ok
}

// Len returns the number of policies.
func (s *Set) Len() int {
	return len(s.order)
}

// All returns copies of all policies in stored order, ready to be saved.
func (s *Set) All() []domain.AppPolicy {
	result := make([]domain.AppPolicy, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, *s.policies[id])
	}
	return result
}

// ByMode returns the packages of all policies with the given mode.
func (s *Set) ByMode(mode domain.Mode) []string {
	var ids []string
	for _, id := range s.order {
		if s.policies[id].Mode == mode {
			ids = append(ids, id)
		}
	}
	return ids
}
