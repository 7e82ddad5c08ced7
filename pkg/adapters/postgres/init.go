// Package postgres provides a PostgreSQL database adapter for gridsql.
//
// This file registers the PostgreSQL adapter with the adapter registry.
// Import this package with a blank identifier to register the adapter:
//
//	import _ "github.com/leapstack-labs/gridsql/pkg/adapters/postgres"
package postgres

import (
	"log/slog"

	"github.com/leapstack-labs/gridsql/pkg/adapter"
	"github.com/leapstack-labs/gridsql/pkg/core"
)

func init() {
	adapter.Register(core.EnginePostgres, func(l *slog.Logger) adapter.Adapter { return New(l) })
}
