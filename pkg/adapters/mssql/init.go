package mssql

import (
	"log/slog"

	"github.com/leapstack-labs/gridsql/pkg/adapter"
	"github.com/leapstack-labs/gridsql/pkg/core"
)

func init() {
	adapter.Register(core.EngineMSSQL, func(l *slog.Logger) adapter.Adapter { return New(l) })
}
