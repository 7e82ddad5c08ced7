package config

import "time"

// Default configuration values.
const (
	ConfigFileName    = "gridsql.yaml"
	ConfigFileNameAlt = "gridsql.yml"
	EnvPrefix         = "GRIDSQL_"

	DefaultStateFile   = ".gridsql/state.db"
	DefaultCacheSize   = 8 * 1024 * 1024
	DefaultCacheTTL    = 5 * time.Minute
	DefaultConcurrency = 4
	DefaultLogLevel    = "warn"
	DefaultLogFormat   = "text"
)

func defaults() map[string]any {
	return map[string]any{
		"target.type":         "sqlite",
		"catalog.state":       DefaultStateFile,
		"catalog.cache_size":  DefaultCacheSize,
		"catalog.cache_ttl":   DefaultCacheTTL.String(),
		"compile.concurrency": DefaultConcurrency,
		"log.level":           DefaultLogLevel,
		"log.format":          DefaultLogFormat,
	}
}

// defaultPorts are filled in for network targets without a port.
var defaultPorts = map[string]int{
	"postgres": 5432,
	"mysql":    3306,
	"mssql":    1433,
}
