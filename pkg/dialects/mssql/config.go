// Package mssql provides the Microsoft SQL Server operator table.
// This package is pure Go with no database driver dependencies.
package mssql

import "github.com/leapstack-labs/gridsql/pkg/core"

// Config is the SQL Server dialect configuration.
var Config = &core.DialectConfig{
	Name:          "mssql",
	Engine:        core.EngineMSSQL,
	DefaultSchema: "dbo",
	Placeholder:   core.PlaceholderAtP,
	Limit:         core.OffsetFetch,
	Identifiers: core.IdentifierConfig{
		Quote:         "[",
		QuoteEnd:      "]",
		Escape:        "]]",
		Normalization: core.NormCaseInsensitive,
	},

	// No boolean type: conditions are only valid in WHERE/CASE.
	NativeBoolean: false,
	WrapUnionArms: true,

	TextType:    "NVARCHAR(MAX)",
	FloatType:   "FLOAT",
	IntegerType: "BIGINT",
}
