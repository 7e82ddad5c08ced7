package core

// DialectConfig holds the static configuration for a SQL dialect.
//
// It is pure data. Function tables and boolean handling live in
// pkg/dialect.Dialect, which embeds this config.
type DialectConfig struct {
	// Name is the dialect identifier (e.g., "duckdb", "postgres")
	Name string

	// Engine is the enum key the dialect registers under.
	Engine Engine

	// Identifiers defines quoting and normalization rules
	Identifiers IdentifierConfig

	// DefaultSchema is the default schema name ("main" for DuckDB, "public" for Postgres)
	DefaultSchema string

	// Placeholder defines how query parameters are formatted
	Placeholder PlaceholderStyle

	// Limit selects LIMIT/OFFSET or OFFSET/FETCH pagination.
	Limit LimitStyle

	// NativeBoolean is true when a comparison can be selected as a value
	// and true/false literals exist.
	NativeBoolean bool

	// ConcatOperator is true when string concatenation is emitted with ||.
	ConcatOperator bool

	// ConcatPropagatesNull is true when CONCAT() returns NULL for any NULL argument.
	ConcatPropagatesNull bool

	// WrapUnionArms wraps every UNION ALL arm in SELECT * FROM (...) instead
	// of parentheses.
	WrapUnionArms bool

	// Cast targets used by the STRING/FLOAT/INT conversions.
	TextType    string
	FloatType   string
	IntegerType string
}

// NormalizationStrategy defines how unquoted identifiers are normalized.
type NormalizationStrategy int

const (
	// NormLowercase normalizes unquoted identifiers to lowercase (default SQL behavior).
	NormLowercase NormalizationStrategy = iota
	// NormUppercase normalizes unquoted identifiers to uppercase.
	NormUppercase
	// NormCaseSensitive preserves identifier case exactly (MySQL).
	NormCaseSensitive
	// NormCaseInsensitive normalizes to lowercase for comparison (MSSQL, DuckDB).
	NormCaseInsensitive
)

// PlaceholderStyle defines how query parameters are formatted.
type PlaceholderStyle int

const (
	// PlaceholderQuestion uses ? for all parameters (DuckDB, MySQL, SQLite).
	PlaceholderQuestion PlaceholderStyle = iota
	// PlaceholderDollar uses $1, $2, etc. for parameters (PostgreSQL).
	PlaceholderDollar
	// PlaceholderAtP uses @p1, @p2, etc. for parameters (SQL Server).
	PlaceholderAtP
)

// LimitStyle defines how row limits are rendered.
type LimitStyle int

const (
	// LimitOffset renders LIMIT n OFFSET m.
	LimitOffset LimitStyle = iota
	// OffsetFetch renders OFFSET m ROWS FETCH NEXT n ROWS ONLY.
	OffsetFetch
)

// IdentifierConfig defines how identifiers are quoted and normalized.
type IdentifierConfig struct {
	Quote         string                // Quote character: ", `, [
	QuoteEnd      string                // End quote character (usually same as Quote, ] for [)
	Escape        string                // Escape sequence: "", ``, ]]
	Normalization NormalizationStrategy // How to normalize unquoted identifiers
}
