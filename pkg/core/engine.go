package core

import (
	"fmt"
	"strings"
)

// Engine identifies a supported SQL database engine.
type Engine int

const (
	// EngineUnknown is the zero value and never registered.
	EngineUnknown Engine = iota
	// EnginePostgres is PostgreSQL.
	EnginePostgres
	// EngineMySQL is MySQL / MariaDB.
	EngineMySQL
	// EngineSQLite is SQLite 3.
	EngineSQLite
	// EngineMSSQL is Microsoft SQL Server.
	EngineMSSQL
	// EngineDuckDB is the columnar warehouse engine.
	EngineDuckDB
)

// Engines lists every supported engine in a stable order.
var Engines = []Engine{EnginePostgres, EngineMySQL, EngineSQLite, EngineMSSQL, EngineDuckDB}

// String returns the canonical engine name.
func (e Engine) String() string {
	switch e {
	case EnginePostgres:
		return "postgres"
	case EngineMySQL:
		return "mysql"
	case EngineSQLite:
		return "sqlite"
	case EngineMSSQL:
		return "mssql"
	case EngineDuckDB:
		return "duckdb"
	default:
		return "unknown"
	}
}

// ParseEngine maps a name (or common alias) to an Engine.
func ParseEngine(name string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pg":
		return EnginePostgres, nil
	case "mysql", "mysql2", "mariadb":
		return EngineMySQL, nil
	case "sqlite", "sqlite3":
		return EngineSQLite, nil
	case "mssql", "sqlserver":
		return EngineMSSQL, nil
	case "duckdb":
		return EngineDuckDB, nil
	default:
		return EngineUnknown, fmt.Errorf("unknown engine %q", name)
	}
}
