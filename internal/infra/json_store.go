package infra

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

// JSONStore implements domain.PolicyStore on a single JSON document shared
// with the management UI. Keys it does not own are preserved on write.
type JSONStore struct {
	path   string
	logger *zap.Logger
}

// NewJSONStore creates a store backed by the document at path.
func NewJSONStore(path string, logger *zap.Logger) *JSONStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONStore{path: path, logger: logger}
}

// Path returns the document location.
func (s *JSONStore) Path() string {
	return s.path
}

// Load returns all well-formed policies.
func (s *JSONStore) Load() ([]domain.AppPolicy, error) {
	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	policies, err := decodePolicies(doc[keySelectedApps], s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", keySelectedApps, err)
	}
	return policies, nil
}

// SaveAll replaces the policy collection.
func (s *JSONStore) SaveAll(policies []domain.AppPolicy) error {
	if policies == nil {
		policies = []domain.AppPolicy{}
	}
	return s.Commit(domain.Commit{Policies: policies})
}

// LastResetTime returns the last daily reset, zero if never.
func (s *JSONStore) LastResetTime() (time.Time, error) {
	doc, err := s.read()
	if err != nil {
		return time.Time{}, err
	}
	var ms int64
	if raw, ok := doc[keyLastResetTime]; ok {
		if err := json.Unmarshal(raw, &ms); err != nil {
			return time.Time{}, fmt.Errorf("failed to decode %s: %w", keyLastResetTime, err)
		}
	}
	return fromMillis(ms), nil
}

// SetLastResetTime stores the last daily reset.
func (s *JSONStore) SetLastResetTime(t time.Time) error {
	return s.Commit(domain.Commit{LastReset: &t})
}

// LastLaunchEvent returns the launch marker for a package.
func (s *JSONStore) LastLaunchEvent(packageID string) (time.Time, error) {
	doc, err := s.read()
	if err != nil {
		return time.Time{}, err
	}
	markers, err := decodeMarkers(doc)
	if err != nil {
		return time.Time{}, err
	}
	return fromMillis(markers[packageID]), nil
}

// SetLastLaunchEvent stores the launch marker for a package.
func (s *JSONStore) SetLastLaunchEvent(packageID string, t time.Time) error {
	return s.Commit(domain.Commit{LaunchMarkers: map[string]time.Time{packageID: t}})
}

// Commit applies policies and markers in one locked read-modify-write.
func (s *JSONStore) Commit(c domain.Commit) error {
	return withFileLock(s.path, func() error {
		doc, err := s.read()
		if err != nil {
			// Never clobber a document we could not parse.
			return err
		}

		if c.Policies != nil {
			data, err := encodePolicies(c.Policies)
			if err != nil {
				return err
			}
			doc[keySelectedApps] = data
		}
		if c.LastReset != nil {
			data, _ := json.Marshal(toMillis(*c.LastReset))
			doc[keyLastResetTime] = data
		}
		if len(c.LaunchMarkers) > 0 {
			markers, err := decodeMarkers(doc)
			if err != nil {
				return err
			}
			for pkg, t := range c.LaunchMarkers {
				markers[pkg] = toMillis(t)
			}
			data, err := json.Marshal(markers)
			if err != nil {
				return err
			}
			doc[keyLastLaunchEvent] = data
		}

		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return err
		}
		return atomicWriteFile(s.path, data)
	})
}

// Close is a no-op; the document is opened per operation.
func (s *JSONStore) Close() error {
	return nil
}

// read returns the raw document; a missing file is an empty document.
func (s *JSONStore) read() (map[string]json.RawMessage, error) {
	doc := make(map[string]json.RawMessage)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("corrupt policy store %s: %w", s.path, err)
	}
	return doc, nil
}

func decodeMarkers(doc map[string]json.RawMessage) (map[string]int64, error) {
	markers := make(map[string]int64)
	raw, ok := doc[keyLastLaunchEvent]
	if !ok {
		return markers, nil
	}
	if err := json.Unmarshal(raw, &markers); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", keyLastLaunchEvent, err)
	}
	if markers == nil {
		markers = make(map[string]int64)
	}
	return markers, nil
}

var _ domain.PolicyStore = (*JSONStore)(nil)
