// Package formula defines the parsed formula tree consumed by the compiler.
//
// Trees are produced by an external parser and persisted as JSON next to the
// column definition; Decode turns that JSON back into typed nodes.
package formula

import "strings"

// DataType is the inferred scalar type of a node.
type DataType int

const (
	// Unknown means the parser could not infer a type.
	Unknown DataType = iota
	// Numeric values.
	Numeric
	// String values.
	String
	// Boolean values.
	Boolean
	// Date covers date and datetime values.
	Date
	// Null is the type of the NULL literal and BLANK().
	Null
)

// String returns the lower-case type name.
func (t DataType) String() string {
	switch t {
	case Numeric:
		return "numeric"
	case String:
		return "string"
	case Boolean:
		return "boolean"
	case Date:
		return "date"
	case Null:
		return "null"
	default:
		return "unknown"
	}
}

// ParseDataType is the inverse of DataType.String.
func ParseDataType(s string) DataType {
	switch strings.ToLower(s) {
	case "numeric", "number":
		return Numeric
	case "string", "text":
		return String
	case "boolean", "bool":
		return Boolean
	case "date", "datetime":
		return Date
	case "null":
		return Null
	default:
		return Unknown
	}
}

// Node is one of *Literal, *Identifier, *Unary, *Binary or *Call.
type Node interface {
	Type() DataType
	node()
}

// Literal is a constant. Value is nil, string, float64 or bool.
type Literal struct {
	Value    any
	DataType DataType
}

// Identifier references a column of the compiling table by id.
type Identifier struct {
	Name     string
	DataType DataType
}

// Unary is a prefix operator: -, + or !.
type Unary struct {
	Op       string
	Operand  Node
	DataType DataType
}

// Binary is an infix operator.
type Binary struct {
	Op       string
	Left     Node
	Right    Node
	DataType DataType
}

// Call is a function call. CastString marks calls whose result must be text.
type Call struct {
	Name       string
	Args       []Node
	DataType   DataType
	CastString bool
}

func (n *Literal) Type() DataType    { return n.DataType }
func (n *Identifier) Type() DataType { return n.DataType }
func (n *Unary) Type() DataType      { return n.DataType }
func (n *Binary) Type() DataType     { return n.DataType }
func (n *Call) Type() DataType       { return n.DataType }

func (*Literal) node()    {}
func (*Identifier) node() {}
func (*Unary) node()      {}
func (*Binary) node()     {}
func (*Call) node()       {}

// Upper returns the upper-cased callee name.
func (n *Call) Upper() string {
	return strings.ToUpper(n.Name)
}

// IsCall reports whether n is a call to name (case-insensitive).
func IsCall(n Node, name string) bool {
	c, ok := n.(*Call)
	return ok && strings.EqualFold(c.Name, name)
}

// IsEmptyString reports whether n is the literal "".
func IsEmptyString(n Node) bool {
	l, ok := n.(*Literal)
	if !ok {
		return false
	}
	s, ok := l.Value.(string)
	return ok && s == ""
}

// References returns the distinct identifier names in n, in first-seen order.
func References(n Node) []string {
	seen := make(map[string]struct{})
	var out []string
	var walk func(Node)
	walk = func(n Node) {
		switch v := n.(type) {
		case *Identifier:
			if _, ok := seen[v.Name]; !ok {
				seen[v.Name] = struct{}{}
				out = append(out, v.Name)
			}
		case *Unary:
			walk(v.Operand)
		case *Binary:
			walk(v.Left)
			walk(v.Right)
		case *Call:
			for _, a := range v.Args {
				walk(a)
			}
		}
	}
	walk(n)
	return out
}

// Constructors keep tests and programmatic callers short.

// Lit returns a literal, inferring its data type from the Go value.
func Lit(v any) *Literal {
	l := &Literal{Value: v}
	switch x := v.(type) {
	case nil:
		l.DataType = Null
	case string:
		l.DataType = String
	case bool:
		l.DataType = Boolean
	case int:
		l.Value = float64(x)
		l.DataType = Numeric
	case int64:
		l.Value = float64(x)
		l.DataType = Numeric
	case float64:
		l.DataType = Numeric
	}
	return l
}

// Ident returns an identifier node.
func Ident(name string, t DataType) *Identifier {
	return &Identifier{Name: name, DataType: t}
}

// Fn returns a call node.
func Fn(name string, t DataType, args ...Node) *Call {
	return &Call{Name: name, Args: args, DataType: t}
}

// Bin returns a binary node.
func Bin(op string, t DataType, left, right Node) *Binary {
	return &Binary{Op: op, Left: left, Right: right, DataType: t}
}

// Un returns a unary node.
func Un(op string, t DataType, operand Node) *Unary {
	return &Unary{Op: op, Operand: operand, DataType: t}
}
