// Package mysql provides a MySQL and MariaDB database adapter for gridsql.
package mysql

import (
	"context"
	"log/slog"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"

	"github.com/leapstack-labs/gridsql/pkg/adapter"
	dialect "github.com/leapstack-labs/gridsql/pkg/dialects/mysql"
)

// Adapter implements the adapter.Adapter interface for MySQL.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new MySQL adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	return &Adapter{BaseSQLAdapter: adapter.NewBase(dialect.MySQL, logger)}
}

// Connect establishes a connection to MySQL.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	a.Logger.Debug("connecting to mysql", slog.String("host", cfg.Host), slog.String("database", cfg.Database))
	return a.Open(ctx, "mysql", buildMySQLDSN(cfg), cfg)
}

// buildMySQLDSN constructs a go-sql-driver DSN. Options become connection
// parameters.
func buildMySQLDSN(cfg adapter.Config) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 3306
	}

	c := mysql.NewConfig()
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	c.User = cfg.Username
	c.Passwd = cfg.Password
	c.DBName = cfg.Database
	c.ParseTime = true
	if len(cfg.Options) > 0 {
		c.Params = make(map[string]string, len(cfg.Options))
		for k, v := range cfg.Options {
			c.Params[k] = v
		}
	}
	return c.FormatDSN()
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
