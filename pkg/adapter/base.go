package adapter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/dialect"
)

// ErrNotConnected is returned by adapters used before Connect.
var ErrNotConnected = errors.New("database connection not established")

// BaseSQLAdapter provides common database/sql functionality for adapters.
// Embed it in concrete adapters to get Close, DB, Exec, Query and Dialect.
type BaseSQLAdapter struct {
	Pool      *sql.DB
	Cfg       core.AdapterConfig
	Logger    *slog.Logger
	Operators dialect.Operators
}

// NewBase returns a base for the dialect d. A nil logger discards.
func NewBase(d dialect.Operators, logger *slog.Logger) BaseSQLAdapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return BaseSQLAdapter{Logger: logger, Operators: d}
}

// Open opens a pool for driver and attaches it.
func (b *BaseSQLAdapter) Open(ctx context.Context, driver, dsn string, cfg core.AdapterConfig) error {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("failed to open %s connection: %w", driver, err)
	}
	return b.Attach(ctx, db, cfg)
}

// Attach applies the pool settings found in cfg.Params to db, pings it and
// makes it the adapter's pool. db is closed on failure.
func (b *BaseSQLAdapter) Attach(ctx context.Context, db *sql.DB, cfg core.AdapterConfig) error {
	pool, err := ParsePool(cfg.Params)
	if err != nil {
		_ = db.Close()
		return err
	}
	pool.apply(db)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping %s: %w", b.engine(), err)
	}
	b.logger().Debug("connected", slog.String("engine", b.engine()), slog.String("database", cfg.Database))
	b.Pool = db
	b.Cfg = cfg
	return nil
}

// Close closes the database connection.
func (b *BaseSQLAdapter) Close() error {
	if b.Pool == nil {
		return nil
	}
	b.logger().Debug("closing database connection")
	return b.Pool.Close()
}

// DB returns the connection pool, or nil before Connect.
func (b *BaseSQLAdapter) DB() *sql.DB {
	return b.Pool
}

// Exec executes a SQL statement that doesn't return rows.
func (b *BaseSQLAdapter) Exec(ctx context.Context, sqlStr string, args ...any) error {
	if b.Pool == nil {
		return ErrNotConnected
	}
	if _, err := b.Pool.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

// Query executes a SQL statement that returns rows.
func (b *BaseSQLAdapter) Query(ctx context.Context, sqlStr string, args ...any) (*core.Rows, error) {
	if b.Pool == nil {
		return nil, ErrNotConnected
	}
	//nolint:rowserrcheck // rows.Err() must be checked by caller after iteration completes
	rows, err := b.Pool.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	return &core.Rows{Rows: rows}, nil
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLAdapter) IsConnected() bool {
	return b.Pool != nil
}

// Dialect returns the operator table of the adapter's engine.
func (b *BaseSQLAdapter) Dialect() dialect.Operators {
	return b.Operators
}

// DialectConfig returns the static configuration of the adapter's engine.
func (b *BaseSQLAdapter) DialectConfig() *core.DialectConfig {
	if b.Operators == nil {
		return nil
	}
	return b.Operators.Config()
}

func (b *BaseSQLAdapter) engine() string {
	if b.Operators == nil {
		return "database"
	}
	return b.Operators.Engine().String()
}

func (b *BaseSQLAdapter) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return b.Logger
}

// Pool holds the connection pool settings shared by every adapter.
// Parsed from Config.Params using mapstructure; unknown keys are left to
// the engine-specific params.
type Pool struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ParsePool decodes the pool settings of params.
func ParsePool(params map[string]any) (*Pool, error) {
	p := &Pool{}
	if len(params) == 0 {
		return p, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           p,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create params decoder: %w", err)
	}
	if err := dec.Decode(params); err != nil {
		return nil, fmt.Errorf("failed to parse pool params: %w", err)
	}
	return p, nil
}

func (p *Pool) apply(db *sql.DB) {
	if p.MaxOpenConns > 0 {
		db.SetMaxOpenConns(p.MaxOpenConns)
	}
	if p.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.MaxIdleConns)
	}
	if p.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(p.ConnMaxLifetime)
	}
}
