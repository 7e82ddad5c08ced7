// Package adapter connects gridsql to a database engine.
//
// Concrete adapters live in pkg/adapters/ and register themselves from
// their init functions; import them with a blank identifier:
//
//	import _ "github.com/leapstack-labs/gridsql/pkg/adapters/postgres"
package adapter

import (
	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/dialect"
)

type (
	// Config is an alias for core.AdapterConfig.
	Config = core.AdapterConfig

	// Rows is an alias for core.Rows.
	Rows = core.Rows
)

// Adapter is a connection to one engine together with the operator table
// formulas are compiled against for it.
type Adapter interface {
	core.Adapter

	// Dialect returns the operator table of the adapter's engine.
	Dialect() dialect.Operators
}
