package infra

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

var (
	bucketPrefs   = []byte("prefs")
	bucketMarkers = []byte(keyLastLaunchEvent)
)

// BoltStore implements domain.PolicyStore on a bbolt file. The database is
// opened per operation because bbolt holds an exclusive file lock while open
// and the CLI shares the file with the running engine.
type BoltStore struct {
	path    string
	timeout time.Duration
	logger  *zap.Logger
}

// NewBoltStore creates a store backed by the bbolt file at path.
func NewBoltStore(path string, logger *zap.Logger) *BoltStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BoltStore{path: path, timeout: 2 * time.Second, logger: logger}
}

// Load returns all well-formed policies.
func (s *BoltStore) Load() ([]domain.AppPolicy, error) {
	var data []byte
	err := s.view(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketPrefs); b != nil {
			data = append([]byte(nil), b.Get([]byte(keySelectedApps))...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	policies, err := decodePolicies(data, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", keySelectedApps, err)
	}
	return policies, nil
}

// SaveAll replaces the policy collection.
func (s *BoltStore) SaveAll(policies []domain.AppPolicy) error {
	if policies == nil {
		policies = []domain.AppPolicy{}
	}
	return s.Commit(domain.Commit{Policies: policies})
}

// LastResetTime returns the last daily reset, zero if never.
func (s *BoltStore) LastResetTime() (time.Time, error) {
	var ms int64
	err := s.view(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketPrefs)
		if b == nil {
			return nil
		}
		var err error
		ms, err = parseMillis(b.Get([]byte(keyLastResetTime)))
		return err
	})
	return fromMillis(ms), err
}

// SetLastResetTime stores the last daily reset.
func (s *BoltStore) SetLastResetTime(t time.Time) error {
	return s.Commit(domain.Commit{LastReset: &t})
}

// LastLaunchEvent returns the launch marker for a package.
func (s *BoltStore) LastLaunchEvent(packageID string) (time.Time, error) {
	var ms int64
	err := s.view(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMarkers)
		if b == nil {
			return nil
		}
		var err error
		ms, err = parseMillis(b.Get([]byte(packageID)))
		return err
	})
	return fromMillis(ms), err
}

// SetLastLaunchEvent stores the launch marker for a package.
func (s *BoltStore) SetLastLaunchEvent(packageID string, t time.Time) error {
	return s.Commit(domain.Commit{LaunchMarkers: map[string]time.Time{packageID: t}})
}

// Commit applies policies and markers in one bbolt transaction.
func (s *BoltStore) Commit(c domain.Commit) error {
	var encoded []byte
	if c.Policies != nil {
		var err error
		if encoded, err = encodePolicies(c.Policies); err != nil {
			return err
		}
	}

	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		prefs, err := tx.CreateBucketIfNotExists(bucketPrefs)
		if err != nil {
			return err
		}
		if encoded != nil {
			if err := prefs.Put([]byte(keySelectedApps), encoded); err != nil {
				return err
			}
		}
		if c.LastReset != nil {
			if err := prefs.Put([]byte(keyLastResetTime), formatMillis(*c.LastReset)); err != nil {
				return err
			}
		}
		if len(c.LaunchMarkers) == 0 {
			return nil
		}
		markers, err := tx.CreateBucketIfNotExists(bucketMarkers)
		if err != nil {
			return err
		}
		for pkg, t := range c.LaunchMarkers {
			if err := markers.Put([]byte(pkg), formatMillis(t)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close is a no-op; the file is opened per operation.
func (s *BoltStore) Close() error {
	return nil
}

func (s *BoltStore) open() (*bolt.DB, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: s.timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open policy store %s: %w", s.path, err)
	}
	return db, nil
}

// view runs fn in a read transaction; a missing file reads as empty.
func (s *BoltStore) view(fn func(tx *bolt.Tx) error) error {
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: s.timeout, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("failed to open policy store %s: %w", s.path, err)
	}
	defer db.Close()
	return db.View(fn)
}

func formatMillis(t time.Time) []byte {
	return []byte(strconv.FormatInt(toMillis(t), 10))
}

func parseMillis(v []byte) (int64, error) {
	if len(v) == 0 {
		return 0, nil
	}
	return strconv.ParseInt(string(v), 10, 64)
}

var _ domain.PolicyStore = (*BoltStore)(nil)
