// Package dialect provides the per-engine operator tables used to lower
// formula functions and operators into SQL.
//
// A Dialect is pure configuration plus handler maps; concrete engines are
// defined and registered from pkg/dialects/*/ packages.
package dialect

import (
	"sort"
	"strings"

	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/formula"
	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

// Hook types for engine-specific SQL shapes.
type (
	// ConcatFunc joins text expressions, treating NULL as ''.
	ConcatFunc func(args []sqlb.Expr) sqlb.Expr
	// ExtremeFunc is a null-safe LEAST/GREATEST.
	ExtremeFunc func(greatest bool, args []sqlb.Expr) sqlb.Expr
	// UTCFunc normalises a stored timestamp to UTC.
	UTCFunc func(col sqlb.Expr, physicalType string) sqlb.Expr
	// ExprFunc rewrites a single expression.
	ExprFunc func(e sqlb.Expr) sqlb.Expr
)

// Dialect represents a SQL dialect configuration.
type Dialect struct {
	Name        string
	Identifiers core.IdentifierConfig

	// Database-specific settings
	DefaultSchema string                // Default schema name ("main" for DuckDB, "public" for Postgres)
	Placeholder   core.PlaceholderStyle // How to format query parameters

	config *core.DialectConfig

	functions map[string]Function // upper-cased name -> handler
	aliases   map[string]string   // upper-cased name -> engine function name

	concat      ConcatFunc
	extreme     ExtremeFunc
	utc         UTCFunc
	jsonValue   ExprFunc
	groupConcat ExprFunc
}

// Engine returns the enum key of the dialect.
func (d *Dialect) Engine() core.Engine {
	return d.config.Engine
}

// Config returns the pure data configuration for this dialect.
func (d *Dialect) Config() *core.DialectConfig {
	return d.config
}

// Function returns the handler for a function name. Aliases resolve to a
// plain rename of the call.
func (d *Dialect) Function(name string) (Function, bool) {
	upper := strings.ToUpper(name)
	if fn, ok := d.functions[upper]; ok {
		return fn, true
	}
	if target, ok := d.aliases[upper]; ok {
		return Rename(target), true
	}
	return nil, false
}

// Functions returns the sorted names of every mapped function.
func (d *Dialect) Functions() []string {
	names := make([]string, 0, len(d.functions)+len(d.aliases))
	for n := range d.functions {
		names = append(names, n)
	}
	for n := range d.aliases {
		if _, dup := d.functions[n]; !dup {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// NormalizeName normalizes an identifier according to dialect rules.
func (d *Dialect) NormalizeName(name string) string {
	switch d.Identifiers.Normalization {
	case core.NormUppercase:
		return strings.ToUpper(name)
	case core.NormCaseSensitive:
		return name
	default:
		return strings.ToLower(name)
	}
}

// QuoteIdentifier quotes an identifier using the dialect's quote characters.
func (d *Dialect) QuoteIdentifier(name string) string {
	// Escape any existing quote end characters in the name (e.g., ] -> ]])
	escaped := strings.ReplaceAll(name, d.Identifiers.QuoteEnd, d.Identifiers.Escape)
	return d.Identifiers.Quote + escaped + d.Identifiers.QuoteEnd
}

// PlaceholderStyle returns how bindings are numbered.
func (d *Dialect) PlaceholderStyle() core.PlaceholderStyle {
	return d.Placeholder
}

// LimitStyle returns how pagination is rendered.
func (d *Dialect) LimitStyle() core.LimitStyle {
	return d.config.Limit
}

// Materialize turns a condition into a boolean value.
func (d *Dialect) Materialize(pred sqlb.Expr) sqlb.Expr {
	if d.config.NativeBoolean {
		return sqlb.Template("(CASE WHEN {} THEN true ELSE false END)", pred)
	}
	return sqlb.Template("CASE WHEN {} THEN 1 ELSE 0 END", pred)
}

// Value returns a selectable expression.
func (d *Dialect) Value(v Value) sqlb.Expr {
	if v.Predicate {
		return d.Materialize(v.Expr)
	}
	return v.Expr
}

// Truthy turns a value into a condition following the formula truthiness
// rules: NULL is false, 0 is false, '' is false.
func (d *Dialect) Truthy(v Value) sqlb.Expr {
	if v.Predicate {
		return v.Expr
	}
	switch v.Type {
	case formula.Boolean:
		if d.config.NativeBoolean {
			return v.Expr
		}
		return sqlb.Template("({}) = 1", v.Expr)
	case formula.Numeric:
		return sqlb.Template("({} IS NOT NULL AND {} <> 0)", v.Expr, v.Expr)
	case formula.String:
		return sqlb.Template("({} IS NOT NULL AND {} <> '')", v.Expr, v.Expr)
	default:
		return sqlb.Template("{} IS NOT NULL", v.Expr)
	}
}

// Blank returns the "is blank" condition (or its negation).
func (d *Dialect) Blank(v Value, negate bool) sqlb.Expr {
	e := d.Value(v)
	switch v.Type {
	case formula.String:
		if negate {
			return sqlb.Template("({} IS NOT NULL AND {} <> '')", e, e)
		}
		return sqlb.Template("({} IS NULL OR {} = '')", e, e)
	case formula.Unknown:
		text := d.Cast(Value{Expr: e}, formula.String).Expr
		if negate {
			return sqlb.Template("({} IS NOT NULL AND {} <> '')", e, text)
		}
		return sqlb.Template("({} IS NULL OR {} = '')", e, text)
	default:
		if negate {
			return sqlb.Template("{} IS NOT NULL", e)
		}
		return sqlb.Template("{} IS NULL", e)
	}
}

// Cast converts v to text, float or boolean.
func (d *Dialect) Cast(v Value, to formula.DataType) Value {
	switch to {
	case formula.String:
		return Value{Expr: sqlb.Template("CAST({} AS "+d.config.TextType+")", d.Value(v)), Type: formula.String}
	case formula.Numeric:
		return Value{Expr: sqlb.Template("CAST({} AS "+d.config.FloatType+")", d.Value(v)), Type: formula.Numeric}
	case formula.Boolean:
		if v.Type == formula.Boolean || v.Predicate {
			return v
		}
		return Value{Expr: d.Truthy(v), Type: formula.Boolean, Predicate: true}
	default:
		return v
	}
}

// BooleanLiteral renders true/false.
func (d *Dialect) BooleanLiteral(b bool) sqlb.Expr {
	switch {
	case d.config.NativeBoolean && b:
		return sqlb.Raw("true")
	case d.config.NativeBoolean:
		return sqlb.Raw("false")
	case b:
		return sqlb.Raw("1")
	default:
		return sqlb.Raw("0")
	}
}

// Concat joins text expressions; NULL operands behave as ''.
func (d *Dialect) Concat(args []sqlb.Expr) sqlb.Expr {
	return d.concat(args)
}

// Extreme is a null-safe LEAST (greatest=false) or GREATEST.
func (d *Dialect) Extreme(greatest bool, args []sqlb.Expr) sqlb.Expr {
	if len(args) == 1 {
		return args[0]
	}
	return d.extreme(greatest, args)
}

// UTC normalises a stored timestamp to UTC.
func (d *Dialect) UTC(col sqlb.Expr, physicalType string) sqlb.Expr {
	return d.utc(col, physicalType)
}

// JSONValue extracts the "$.value" member of a JSON text column.
func (d *Dialect) JSONValue(col sqlb.Expr) sqlb.Expr {
	return d.jsonValue(col)
}

// Aggregate wraps e in a rollup aggregate.
func (d *Dialect) Aggregate(fn string, e sqlb.Expr) (sqlb.Expr, error) {
	switch strings.ToLower(fn) {
	case "count":
		return sqlb.Fn("COUNT", e), nil
	case "min":
		return sqlb.Fn("MIN", e), nil
	case "max":
		return sqlb.Fn("MAX", e), nil
	case "sum":
		return sqlb.Fn("SUM", e), nil
	case "avg":
		return sqlb.Fn("AVG", e), nil
	case "countdistinct":
		return sqlb.Template("COUNT(DISTINCT {})", e), nil
	case "sumdistinct":
		return sqlb.Template("SUM(DISTINCT {})", e), nil
	case "avgdistinct":
		return sqlb.Template("AVG(DISTINCT {})", e), nil
	case "concat", "group_concat":
		return d.groupConcat(e), nil
	default:
		return sqlb.Expr{}, Unsupported(d.Engine(), "rollup function "+fn)
	}
}

// WrapUnionArm prepares one arm of a UNION ALL so it may carry its own
// ORDER BY and pagination.
func (d *Dialect) WrapUnionArm(q sqlb.Expr, alias string) sqlb.Expr {
	if d.config.WrapUnionArms {
		return sqlb.Template("SELECT * FROM ({}) AS "+d.QuoteIdentifier(alias), q)
	}
	return sqlb.Paren(q)
}

// Builder provides a fluent API for constructing dialects.
type Builder struct {
	dialect *Dialect
}

// New creates a dialect builder from a DialectConfig.
// Defaults: native CONCAT (or || when ConcatOperator is set), coalescing
// LEAST/GREATEST, no timezone conversion, JSON via JSON_VALUE, STRING_AGG.
func New(cfg *core.DialectConfig) *Builder {
	d := &Dialect{
		Name:          cfg.Name,
		Identifiers:   cfg.Identifiers,
		DefaultSchema: cfg.DefaultSchema,
		Placeholder:   cfg.Placeholder,
		config:        cfg,
		functions:     make(map[string]Function),
		aliases:       make(map[string]string),
	}
	d.concat = defaultConcat(cfg)
	d.extreme = CoalescingExtreme
	d.utc = func(col sqlb.Expr, _ string) sqlb.Expr { return col }
	d.jsonValue = func(col sqlb.Expr) sqlb.Expr { return sqlb.Template("JSON_VALUE({}, '$.value')", col) }
	d.groupConcat = func(e sqlb.Expr) sqlb.Expr {
		return sqlb.Template("STRING_AGG(CAST({} AS "+cfg.TextType+"), ',')", e)
	}
	return &Builder{dialect: d}
}

// Functions adds (or overrides) function handlers. Later calls win.
func (b *Builder) Functions(fns ...map[string]Function) *Builder {
	for _, m := range fns {
		for name, fn := range m {
			b.dialect.functions[strings.ToUpper(name)] = fn
		}
	}
	return b
}

// Aliases adds plain name substitutions (e.g. LEN -> LENGTH).
func (b *Builder) Aliases(m map[string]string) *Builder {
	for from, to := range m {
		b.dialect.aliases[strings.ToUpper(from)] = to
	}
	return b
}

// Concat overrides string concatenation.
func (b *Builder) Concat(fn ConcatFunc) *Builder {
	b.dialect.concat = fn
	return b
}

// Extreme overrides null-safe LEAST/GREATEST.
func (b *Builder) Extreme(fn ExtremeFunc) *Builder {
	b.dialect.extreme = fn
	return b
}

// UTC overrides timestamp normalisation.
func (b *Builder) UTC(fn UTCFunc) *Builder {
	b.dialect.utc = fn
	return b
}

// JSONValue overrides JSON $.value extraction.
func (b *Builder) JSONValue(fn ExprFunc) *Builder {
	b.dialect.jsonValue = fn
	return b
}

// GroupConcat overrides the string aggregate used for array-valued lookups.
func (b *Builder) GroupConcat(fn ExprFunc) *Builder {
	b.dialect.groupConcat = fn
	return b
}

// Build returns the configured dialect.
func (b *Builder) Build() *Dialect {
	return b.dialect
}

func defaultConcat(cfg *core.DialectConfig) ConcatFunc {
	return func(args []sqlb.Expr) sqlb.Expr {
		switch {
		case cfg.ConcatOperator:
			parts := make([]sqlb.Expr, len(args))
			for i, a := range args {
				parts[i] = sqlb.Template("COALESCE({}, '')", a)
			}
			return sqlb.Paren(sqlb.Join(" || ", parts...))
		case cfg.ConcatPropagatesNull:
			parts := make([]sqlb.Expr, len(args))
			for i, a := range args {
				parts[i] = sqlb.Template("COALESCE({}, '')", a)
			}
			return sqlb.Fn("CONCAT", parts...)
		default:
			if len(args) == 1 {
				// CONCAT needs two arguments on some engines
				return sqlb.Fn("CONCAT", args[0], sqlb.Raw("''"))
			}
			return sqlb.Fn("CONCAT", args...)
		}
	}
}

// CoalescingExtreme emulates a NULL-ignoring LEAST/GREATEST on engines whose
// versions return NULL when any argument is NULL: every argument is
// coalesced with the others so NULL only results when all are NULL.
func CoalescingExtreme(greatest bool, args []sqlb.Expr) sqlb.Expr {
	return coalescingExtreme("LEAST", "GREATEST", greatest, args)
}

// CoalescingExtremeNamed is CoalescingExtreme with custom function names.
func CoalescingExtremeNamed(least, greatest string) ExtremeFunc {
	return func(g bool, args []sqlb.Expr) sqlb.Expr {
		return coalescingExtreme(least, greatest, g, args)
	}
}

func coalescingExtreme(least, greatest string, g bool, args []sqlb.Expr) sqlb.Expr {
	name := least
	if g {
		name = greatest
	}
	wrapped := make([]sqlb.Expr, len(args))
	for i := range args {
		ordered := make([]sqlb.Expr, 0, len(args))
		ordered = append(ordered, args[i])
		for j := range args {
			if j != i {
				ordered = append(ordered, args[j])
			}
		}
		wrapped[i] = sqlb.Fn("COALESCE", ordered...)
	}
	return sqlb.Fn(name, wrapped...)
}
