package infra

import (
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
	"github.com/eliteGoblin/focusd/app_limit/internal/policy"
)

// Document keys shared with the management UI.
const (
	keySelectedApps    = "selectedApps"
	keyLastResetTime   = "lastResetTime"
	keyLastLaunchEvent = "lastLaunchEvent"
)

// policyRecord is the stored form of a domain.AppPolicy.
type policyRecord struct {
	PackageID        string `json:"packageId"`
	DisplayName      string `json:"displayName,omitempty"`
	TimeLimitSeconds int    `json:"timeLimitSeconds"`
	Mode             string `json:"mode"`
	MaxOpens         int    `json:"maxOpens"`
	CurrentOpens     int    `json:"currentOpens"`
	Password         string `json:"password,omitempty"`
}

func toRecord(p domain.AppPolicy) policyRecord {
	return policyRecord{
		PackageID:        p.PackageID,
		DisplayName:      p.DisplayName,
		TimeLimitSeconds: p.TimeLimitSeconds,
		Mode:             p.Mode.String(),
		MaxOpens:         p.MaxOpens,
		CurrentOpens:     p.CurrentOpens,
		Password:         p.Password,
	}
}

// fromRecord converts and validates a record. Unknown modes fall back to
// time_limit with a warning.
func fromRecord(r policyRecord, logger *zap.Logger) (domain.AppPolicy, error) {
	mode, ok := policy.ParseMode(r.Mode)
	if !ok {
		logger.Warn("unknown policy mode, treating as time_limit",
			zap.String("package", r.PackageID),
			zap.String("mode", r.Mode))
	}
	p := domain.AppPolicy{
		PackageID:        r.PackageID,
		DisplayName:      r.DisplayName,
		Mode:             mode,
		TimeLimitSeconds: r.TimeLimitSeconds,
		MaxOpens:         r.MaxOpens,
		CurrentOpens:     r.CurrentOpens,
		Password:         r.Password,
	}
	if err := policy.Validate(p); err != nil {
		return domain.AppPolicy{}, err
	}
	return p, nil
}

// encodePolicies renders the stored array form.
func encodePolicies(policies []domain.AppPolicy) ([]byte, error) {
	records := make([]policyRecord, 0, len(policies))
	for _, p := range policies {
		records = append(records, toRecord(p))
	}
	return json.Marshal(records)
}

// decodePolicies decodes each array element on its own so one malformed
// record does not hide the rest.
func decodePolicies(data []byte, logger *zap.Logger) ([]domain.AppPolicy, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	policies := make([]domain.AppPolicy, 0, len(raw))
	for i, item := range raw {
		var rec policyRecord
		if err := json.Unmarshal(item, &rec); err != nil {
			logger.Warn("skipping malformed policy record", zap.Int("index", i), zap.Error(err))
			continue
		}
		p, err := fromRecord(rec, logger)
		if err != nil {
			logger.Warn("skipping invalid policy record", zap.Int("index", i), zap.Error(err))
			continue
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// Timestamps are stored as Unix milliseconds; 0 means never.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
