// Package mysql provides the MySQL operator table.
// This package is pure Go with no database driver dependencies.
package mysql

import "github.com/leapstack-labs/gridsql/pkg/core"

// Config is the MySQL dialect configuration.
var Config = &core.DialectConfig{
	Name:          "mysql",
	Engine:        core.EngineMySQL,
	DefaultSchema: "",
	Placeholder:   core.PlaceholderQuestion,
	Limit:         core.LimitOffset,
	Identifiers: core.IdentifierConfig{
		Quote:         "`",
		QuoteEnd:      "`",
		Escape:        "``",
		Normalization: core.NormCaseSensitive,
	},

	// Comparisons are selectable but evaluate to 1/0, so they are
	// materialized with CASE like the engines without booleans.
	NativeBoolean:        false,
	ConcatPropagatesNull: true,

	TextType:    "CHAR",
	FloatType:   "DOUBLE",
	IntegerType: "SIGNED",
}
