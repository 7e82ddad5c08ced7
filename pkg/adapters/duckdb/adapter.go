// Package duckdb provides a DuckDB database adapter for gridsql.
package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"

	"github.com/marcboeker/go-duckdb"

	"github.com/leapstack-labs/gridsql/pkg/adapter"
	dialect "github.com/leapstack-labs/gridsql/pkg/dialects/duckdb"
)

// Adapter implements the adapter.Adapter interface for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new DuckDB adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	return &Adapter{BaseSQLAdapter: adapter.NewBase(dialect.DuckDB, logger)}
}

// Connect establishes a connection to DuckDB.
// Use ":memory:" (or an empty path) for an in-memory database.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	params, err := parseParams(cfg.Params)
	if err != nil {
		return err
	}
	path := cfg.Path
	if path == ":memory:" {
		path = ""
	}

	sets := params.setStatements()
	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		for _, stmt := range sets {
			if _, err := execer.ExecContext(context.Background(), stmt, nil); err != nil {
				return fmt.Errorf("failed to apply setting (%s): %w", stmt, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := a.Attach(ctx, sql.OpenDB(connector), cfg); err != nil {
		return err
	}
	if err := a.prepare(ctx, params); err != nil {
		_ = a.Close()
		a.Pool = nil
		return err
	}
	return nil
}

// prepare loads the extensions and creates the secrets.
func (a *Adapter) prepare(ctx context.Context, p *Params) error {
	for _, ext := range p.Extensions {
		a.Logger.Debug("loading duckdb extension", slog.String("extension", ext))
		if err := a.Exec(ctx, fmt.Sprintf("INSTALL %s; LOAD %s", ext, ext)); err != nil {
			return fmt.Errorf("failed to load extension %s: %w", ext, err)
		}
	}
	for _, s := range p.Secrets {
		if err := a.Exec(ctx, buildCreateSecretSQL(s)); err != nil {
			return fmt.Errorf("failed to create %s secret: %w", s.Type, err)
		}
	}
	return nil
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
