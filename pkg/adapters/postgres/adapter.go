// Package postgres provides a PostgreSQL database adapter for gridsql.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver

	"github.com/leapstack-labs/gridsql/pkg/adapter"
	"github.com/leapstack-labs/gridsql/pkg/dialects/postgres"
)

// Adapter implements the adapter.Adapter interface for PostgreSQL.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new PostgreSQL adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	return &Adapter{BaseSQLAdapter: adapter.NewBase(postgres.Postgres, logger)}
}

// Connect establishes a connection to PostgreSQL.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	a.Logger.Debug("connecting to postgres", slog.String("host", cfg.Host), slog.String("database", cfg.Database))
	return a.Open(ctx, "pgx", buildPostgresDSN(cfg), cfg)
}

// buildPostgresDSN constructs a PostgreSQL connection string.
//
// Statements are sent with the simple protocol: compiled formulas bind
// untyped placeholders whose types the extended protocol cannot infer.
func buildPostgresDSN(cfg adapter.Config) string {
	// Build key=value format: host=localhost port=5432 user=postgres ...
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	opts := map[string]string{
		"sslmode":                 "disable",
		"default_query_exec_mode": "simple_protocol",
	}
	for k, v := range cfg.Options {
		opts[k] = v
	}
	if cfg.Schema != "" {
		opts["search_path"] = cfg.Schema
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s", host, port, quote(cfg.Database))
	if cfg.Username != "" {
		dsn += fmt.Sprintf(" user=%s", quote(cfg.Username))
	}
	if cfg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", quote(cfg.Password))
	}

	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		dsn += fmt.Sprintf(" %s=%s", k, quote(opts[k]))
	}
	return dsn
}

// quote single-quotes values containing spaces or quotes.
func quote(v string) string {
	needs := v == ""
	for _, r := range v {
		if r == ' ' || r == '\'' || r == '\\' {
			needs = true
			break
		}
	}
	if !needs {
		return v
	}
	out := []rune{'\''}
	for _, r := range v {
		if r == '\'' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(append(out, '\''))
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
