package pubsub

import (
	"context"
	"strings"

	"github.com/seuros/solid-mcp-go/config"
	"github.com/seuros/solid-mcp-go/mcperr"
	"github.com/seuros/solid-mcp-go/store"
	"github.com/seuros/solid-mcp-go/store/postgres"
	"github.com/seuros/solid-mcp-go/store/sqlite"
)

// openStore selects and constructs the backend named by cfg.StoreURL,
// exactly the prefix dispatch documented in spec §6. The embedded backend
// assumes its schema was provisioned externally unless autoMigrateSQLite
// is set, per spec §4.1.
func openStore(ctx context.Context, cfg *config.Config, autoMigrateSQLite bool) (store.Store, error) {
	switch {
	case cfg.IsPostgres():
		return postgres.New(ctx, cfg.StoreURL)
	case cfg.IsSQLite():
		s, err := sqlite.New(sqliteDSN(cfg.StoreURL))
		if err != nil {
			return nil, err
		}
		if autoMigrateSQLite {
			if err := s.Migrate(ctx); err != nil {
				s.Close()
				return nil, err
			}
		}
		return s, nil
	default:
		return nil, mcperr.NewConfigError("unsupported store URL: %s", cfg.StoreURL)
	}
}

// sqliteDSN strips the sqlite:// or sqlite: scheme prefix, if present, so
// the remainder can be handed straight to the driver as a file path (or
// :memory:). A bare path/suffix-matched URL (e.g. "./data.db") is passed
// through unchanged.
func sqliteDSN(storeURL string) string {
	if rest, ok := strings.CutPrefix(storeURL, "sqlite://"); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(storeURL, "sqlite:"); ok {
		return rest
	}
	return storeURL
}
