// Package config loads gridsql configuration.
//
// Values are layered with koanf: defaults, then gridsql.yaml, then GRIDSQL_
// environment variables, then explicitly set command-line flags. The result
// is validated with struct tags before it is returned.
package config

import (
	"time"

	"github.com/leapstack-labs/gridsql/pkg/core"
)

// Config holds all gridsql configuration.
type Config struct {
	// Target is the database formulas are compiled for and links are
	// written to.
	Target *core.AdapterConfig `koanf:"target" validate:"required"`

	Catalog CatalogConfig `koanf:"catalog"`
	Compile CompileConfig `koanf:"compile"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`

	// Environment selects an entry of Environments whose target is merged
	// over Target.
	Environment  string               `koanf:"environment"`
	Environments map[string]EnvConfig `koanf:"environments"`

	// ProjectRoot is the directory relative paths are resolved against.
	ProjectRoot string `koanf:"-"`
}

// EnvConfig holds environment-specific overrides.
type EnvConfig struct {
	Target *core.AdapterConfig `koanf:"target"`
}

// CatalogConfig locates the table metadata.
type CatalogConfig struct {
	// Schema is a YAML schema file describing tables and columns.
	Schema string `koanf:"schema"`
	// State is the SQLite metadata store holding formula errors and the
	// link audit outbox.
	State string `koanf:"state" validate:"required"`
	// CacheSize is the freecache size in bytes; zero disables caching.
	CacheSize int `koanf:"cache_size" validate:"gte=0"`
	// CacheTTL bounds how long cached metadata is served.
	CacheTTL time.Duration `koanf:"cache_ttl" validate:"gte=0"`
	// StrictOneToOne rejects OneToOne columns whose ownership flags
	// contradict their descriptors.
	StrictOneToOne bool `koanf:"strict_one_to_one"`
}

// CompileConfig sets compile defaults.
type CompileConfig struct {
	Validate   bool   `koanf:"validate"`
	TableAlias string `koanf:"table_alias"`
	// Concurrency bounds the columns validated at once.
	Concurrency int `koanf:"concurrency" validate:"gte=1,lte=64"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Listen
// disables it.
type MetricsConfig struct {
	Listen string `koanf:"listen" validate:"omitempty,hostname_port"`
}
