// Package sheets opens the dashboard sheet store selected by configuration.
package sheets

import (
	"context"
	"fmt"

	"logistics/internal/config"
	"logistics/internal/infra/sheets/memory"
	"logistics/internal/infra/sheets/postgres"
	"logistics/internal/infra/sheets/sqlite"
	"logistics/pkg/domain"
)

// Drivers understood by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open returns the sheet store for cfg. For sqlite the DSN is a file path;
// for postgres it is a connection URL.
func Open(ctx context.Context, cfg config.Sheets) (domain.SheetStore, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		return memory.NewStore(), nil
	case DriverSQLite:
		return sqlite.NewStore(ctx, cfg.DSN)
	case DriverPostgres:
		return postgres.NewStore(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown sheets driver %q", cfg.Driver)
	}
}
