package sqlite

import (
	"log/slog"

	"github.com/leapstack-labs/gridsql/pkg/adapter"
	"github.com/leapstack-labs/gridsql/pkg/core"
)

func init() {
	if err := registerFunctions(); err != nil {
		panic(err)
	}
	adapter.Register(core.EngineSQLite, func(l *slog.Logger) adapter.Adapter { return New(l) })
}
