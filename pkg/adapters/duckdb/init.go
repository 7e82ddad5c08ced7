package duckdb

import (
	"log/slog"

	"github.com/leapstack-labs/gridsql/pkg/adapter"
	"github.com/leapstack-labs/gridsql/pkg/core"
)

func init() {
	adapter.Register(core.EngineDuckDB, func(l *slog.Logger) adapter.Adapter { return New(l) })
}
