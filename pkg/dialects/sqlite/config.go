// Package sqlite provides the SQLite operator table.
// This package is pure Go with no database driver dependencies; the
// REGEXP and GS_REGEX_* functions it emits are registered by
// pkg/adapters/sqlite.
package sqlite

import "github.com/leapstack-labs/gridsql/pkg/core"

// Config is the SQLite dialect configuration.
var Config = &core.DialectConfig{
	Name:          "sqlite",
	Engine:        core.EngineSQLite,
	DefaultSchema: "main",
	Placeholder:   core.PlaceholderQuestion,
	Limit:         core.LimitOffset,
	Identifiers: core.IdentifierConfig{
		Quote:         `"`,
		QuoteEnd:      `"`,
		Escape:        `""`,
		Normalization: core.NormCaseInsensitive,
	},

	NativeBoolean:  true,
	ConcatOperator: true,
	WrapUnionArms:  true, // compound SELECT arms cannot carry LIMIT

	TextType:    "TEXT",
	FloatType:   "REAL",
	IntegerType: "INTEGER",
}
