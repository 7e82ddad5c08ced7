package dialect

import (
	"fmt"

	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/formula"
	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

// Value is a compiled formula fragment.
type Value struct {
	Expr sqlb.Expr
	Type formula.DataType
	// Predicate marks a raw SQL condition (e.g. a = b) that has not been
	// turned into a selectable value yet.
	Predicate bool
}

// Compiler is the part of the expression compiler visible to function handlers.
type Compiler interface {
	// Arg compiles argument i of call in value context.
	Arg(call *formula.Call, i int) (Value, error)
	// Args compiles every argument of call in value context.
	Args(call *formula.Call) ([]Value, error)
	// Cond compiles argument i of call as a SQL condition.
	Cond(call *formula.Call, i int) (sqlb.Expr, error)
	// Dialect returns the active operator table.
	Dialect() Operators
	// RecordID returns the qualified primary key of the compiling table.
	RecordID() (sqlb.Expr, error)
}

// Function lowers one formula function call.
type Function func(c Compiler, call *formula.Call) (Value, error)

// Operators is the per-engine operator table consumed by the compiler and
// the relation resolver. *Dialect is the only implementation; one value is
// registered per engine.
type Operators interface {
	Engine() core.Engine
	Config() *core.DialectConfig

	// Function returns the handler for an upper-cased function name.
	Function(name string) (Function, bool)

	QuoteIdentifier(name string) string
	PlaceholderStyle() core.PlaceholderStyle
	LimitStyle() core.LimitStyle

	// Materialize turns a condition into a selectable boolean value.
	Materialize(pred sqlb.Expr) sqlb.Expr
	// Truthy turns any value into a condition.
	Truthy(v Value) sqlb.Expr
	// Blank is the "is blank" condition: NULL, or '' for text.
	Blank(v Value, negate bool) sqlb.Expr
	// Value returns a selectable expression for v.
	Value(v Value) sqlb.Expr
	// Cast converts e to text, numeric (float) or boolean.
	Cast(v Value, to formula.DataType) Value
	BooleanLiteral(b bool) sqlb.Expr

	Concat(args []sqlb.Expr) sqlb.Expr
	Extreme(greatest bool, args []sqlb.Expr) sqlb.Expr
	UTC(col sqlb.Expr, physicalType string) sqlb.Expr
	JSONValue(col sqlb.Expr) sqlb.Expr
	Aggregate(fn string, e sqlb.Expr) (sqlb.Expr, error)
	WrapUnionArm(q sqlb.Expr, alias string) sqlb.Expr
}

var _ Operators = (*Dialect)(nil)

// Errorf builds a compile error for a malformed call.
func Errorf(format string, args ...any) error {
	return &core.CompileError{Msg: fmt.Sprintf(format, args...)}
}

// Unsupported builds the error for a construct with no implementation on engine e.
func Unsupported(e core.Engine, construct string) error {
	return &core.UnsupportedError{Engine: e, Construct: construct}
}
