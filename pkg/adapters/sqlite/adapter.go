// Package sqlite provides a SQLite database adapter for gridsql.
//
// The pure Go modernc.org/sqlite driver is used. Importing this package
// also registers the REGEXP, GS_REGEX_EXTRACT and GS_REGEX_REPLACE
// functions the SQLite operator table compiles regex formulas to.
package sqlite

import (
	"context"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/gridsql/pkg/adapter"
	"github.com/leapstack-labs/gridsql/pkg/dialects/sqlite"
)

// Adapter implements the adapter.Adapter interface for SQLite.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new SQLite adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	return &Adapter{BaseSQLAdapter: adapter.NewBase(sqlite.SQLite, logger)}
}

// Connect opens the database file at cfg.Path.
// Use ":memory:" (or an empty path) for an in-memory database.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	if err := a.Open(ctx, "sqlite", buildDSN(cfg), cfg); err != nil {
		return err
	}
	if isMemory(cfg.Path) {
		// every connection of an in-memory database is a separate database
		a.Pool.SetMaxOpenConns(1)
	}
	return nil
}

// buildDSN appends the configured pragmas to the path, in key order.
func buildDSN(cfg adapter.Config) string {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	if len(cfg.Options) == 0 {
		return path
	}
	var pragmas []string
	for _, k := range sortedKeys(cfg.Options) {
		pragmas = append(pragmas, "_pragma="+k+"("+cfg.Options[k]+")")
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(path, "file:") && !isMemory(path) {
		path = "file:" + path
	}
	return path + sep + strings.Join(pragmas, "&")
}

func isMemory(path string) bool {
	return path == "" || path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
