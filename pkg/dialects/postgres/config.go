// Package postgres provides the PostgreSQL operator table.
// This package is pure Go with no database driver dependencies.
package postgres

import "github.com/leapstack-labs/gridsql/pkg/core"

// Config is the PostgreSQL dialect configuration.
// This is pure data - accessible by both Adapter and compiler.
var Config = &core.DialectConfig{
	Name:          "postgres",
	Engine:        core.EnginePostgres,
	DefaultSchema: "public",
	Placeholder:   core.PlaceholderDollar,
	Limit:         core.LimitOffset,
	Identifiers: core.IdentifierConfig{
		Quote:         `"`,
		QuoteEnd:      `"`,
		Escape:        `""`,
		Normalization: core.NormLowercase, // Postgres normalizes unquoted to lowercase
	},

	NativeBoolean: true,

	TextType:    "TEXT",
	FloatType:   "DOUBLE PRECISION",
	IntegerType: "BIGINT",
}
