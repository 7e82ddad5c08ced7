package formula

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedTree is returned when persisted JSON does not describe a node.
var ErrMalformedTree = errors.New("malformed formula tree")

// wireNode is the persisted shape of a node.
type wireNode struct {
	Kind     string          `json:"kind"`
	DataType string          `json:"dataType,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Name     string          `json:"name,omitempty"`
	Op       string          `json:"op,omitempty"`
	Operand  *wireNode       `json:"operand,omitempty"`
	Left     *wireNode       `json:"left,omitempty"`
	Right    *wireNode       `json:"right,omitempty"`
	Args     []*wireNode     `json:"args,omitempty"`
	Cast     string          `json:"cast,omitempty"`
}

// Decode parses a persisted tree.
func Decode(data []byte) (Node, error) {
	var w wireNode
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTree, err)
	}
	return w.toNode()
}

// Encode serialises a tree into its persisted form.
func Encode(n Node) ([]byte, error) {
	w, err := fromNode(n)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (w *wireNode) toNode() (Node, error) {
	if w == nil {
		return nil, fmt.Errorf("%w: missing node", ErrMalformedTree)
	}
	dt := ParseDataType(w.DataType)
	switch w.Kind {
	case "literal":
		var v any
		if len(w.Value) > 0 {
			if err := json.Unmarshal(w.Value, &v); err != nil {
				return nil, fmt.Errorf("%w: literal value: %w", ErrMalformedTree, err)
			}
		}
		l := Lit(v)
		if dt != Unknown {
			l.DataType = dt
		}
		return l, nil
	case "identifier":
		if w.Name == "" {
			return nil, fmt.Errorf("%w: identifier without name", ErrMalformedTree)
		}
		return &Identifier{Name: w.Name, DataType: dt}, nil
	case "unary":
		operand, err := w.Operand.toNode()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: w.Op, Operand: operand, DataType: dt}, nil
	case "binary":
		left, err := w.Left.toNode()
		if err != nil {
			return nil, err
		}
		right, err := w.Right.toNode()
		if err != nil {
			return nil, err
		}
		return &Binary{Op: w.Op, Left: left, Right: right, DataType: dt}, nil
	case "call":
		if w.Name == "" {
			return nil, fmt.Errorf("%w: call without name", ErrMalformedTree)
		}
		args := make([]Node, 0, len(w.Args))
		for _, a := range w.Args {
			n, err := a.toNode()
			if err != nil {
				return nil, err
			}
			args = append(args, n)
		}
		return &Call{Name: w.Name, Args: args, DataType: dt, CastString: w.Cast == "string"}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformedTree, w.Kind)
	}
}

func fromNode(n Node) (*wireNode, error) {
	switch v := n.(type) {
	case *Literal:
		raw, err := json.Marshal(v.Value)
		if err != nil {
			return nil, err
		}
		return &wireNode{Kind: "literal", Value: raw, DataType: v.DataType.String()}, nil
	case *Identifier:
		return &wireNode{Kind: "identifier", Name: v.Name, DataType: v.DataType.String()}, nil
	case *Unary:
		operand, err := fromNode(v.Operand)
		if err != nil {
			return nil, err
		}
		return &wireNode{Kind: "unary", Op: v.Op, Operand: operand, DataType: v.DataType.String()}, nil
	case *Binary:
		left, err := fromNode(v.Left)
		if err != nil {
			return nil, err
		}
		right, err := fromNode(v.Right)
		if err != nil {
			return nil, err
		}
		return &wireNode{Kind: "binary", Op: v.Op, Left: left, Right: right, DataType: v.DataType.String()}, nil
	case *Call:
		w := &wireNode{Kind: "call", Name: v.Name, DataType: v.DataType.String()}
		if v.CastString {
			w.Cast = "string"
		}
		for _, a := range v.Args {
			an, err := fromNode(a)
			if err != nil {
				return nil, err
			}
			w.Args = append(w.Args, an)
		}
		return w, nil
	default:
		return nil, fmt.Errorf("%w: unsupported node %T", ErrMalformedTree, n)
	}
}
