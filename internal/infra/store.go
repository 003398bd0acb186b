package infra

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_limit/internal/config"
	"github.com/eliteGoblin/focusd/app_limit/internal/domain"
)

// OpenPolicyStore opens the store backend selected in cfg.
func OpenPolicyStore(cfg *config.Config, logger *zap.Logger) (domain.PolicyStore, error) {
	path := cfg.StorePath()
	switch cfg.Store.Backend {
	case config.StoreJSON, "":
		return NewJSONStore(path, logger), nil
	case config.StoreBolt:
		return NewBoltStore(path, logger), nil
	case config.StoreSQLite:
		store, err := OpenSQLiteStore(path, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
