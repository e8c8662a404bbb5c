package collections

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/tenant-service/tenant-service/internal/config"
)

// NewFromConfig builds the store selected by collections.backend.
// registryDB is shared with the metadata registry when the backend is postgres.
func NewFromConfig(cfg config.CollectionsConfig, registryDB *sqlx.DB) (Store, error) {
	switch cfg.Backend {
	case "postgres":
		if registryDB == nil {
			return nil, fmt.Errorf("postgres collection backend requires a database connection")
		}
		return NewSQLStore(registryDB, PostgresDialect), nil
	case "sqlite":
		return OpenSQLite(cfg.SQLite.Path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported collections backend: %s", cfg.Backend)
	}
}
