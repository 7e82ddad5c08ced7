// Package duckdb provides the DuckDB operator table.
// This package is pure Go with no database driver dependencies.
package duckdb

import "github.com/leapstack-labs/gridsql/pkg/core"

// Config is the DuckDB dialect configuration.
// This is pure data - accessible by both Adapter and compiler.
var Config = &core.DialectConfig{
	Name:          "duckdb",
	Engine:        core.EngineDuckDB,
	DefaultSchema: "main",
	Placeholder:   core.PlaceholderQuestion,
	Limit:         core.LimitOffset,
	Identifiers: core.IdentifierConfig{
		Quote:         `"`,
		QuoteEnd:      `"`,
		Escape:        `""`,
		Normalization: core.NormCaseInsensitive,
	},

	NativeBoolean: true,

	TextType:    "VARCHAR",
	FloatType:   "DOUBLE",
	IntegerType: "BIGINT",
}
