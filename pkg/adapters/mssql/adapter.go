// Package mssql provides a Microsoft SQL Server database adapter for gridsql.
package mssql

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"strconv"

	_ "github.com/microsoft/go-mssqldb" // sqlserver driver

	"github.com/leapstack-labs/gridsql/pkg/adapter"
	dialect "github.com/leapstack-labs/gridsql/pkg/dialects/mssql"
)

// Adapter implements the adapter.Adapter interface for SQL Server.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new SQL Server adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	return &Adapter{BaseSQLAdapter: adapter.NewBase(dialect.MSSQL, logger)}
}

// Connect establishes a connection to SQL Server.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	a.Logger.Debug("connecting to mssql", slog.String("host", cfg.Host), slog.String("database", cfg.Database))
	return a.Open(ctx, "sqlserver", buildMSSQLDSN(cfg), cfg)
}

// buildMSSQLDSN constructs a sqlserver:// URL.
func buildMSSQLDSN(cfg adapter.Config) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 1433
	}

	q := url.Values{}
	if cfg.Database != "" {
		q.Set("database", cfg.Database)
	}
	for k, v := range cfg.Options {
		q.Set(k, v)
	}
	u := &url.URL{
		Scheme:   "sqlserver",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		RawQuery: q.Encode(),
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	return u.String()
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
