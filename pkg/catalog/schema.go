package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/formula"
)

// Schema is the on-disk description of a base.
//
//	base_id: b1
//	users:
//	  - {id: u1, email: ada@example.com}
//	tables:
//	  - id: t_orders
//	    name: orders
//	    columns:
//	      - {id: c_id, name: id, uidt: ID, pk: true}
//	      - id: c_label
//	        uidt: Formula
//	        formula:
//	          tree: {kind: call, name: CONCAT, args: [...]}
type Schema struct {
	BaseID string        `yaml:"base_id"`
	Users  []core.User   `yaml:"users"`
	Tables []*core.Table `yaml:"tables" validate:"dive"`
}

// formulaTrees mirrors Schema down to the formula trees, which core types
// keep as JSON.
type formulaTrees struct {
	Tables []struct {
		Columns []struct {
			ID      string `yaml:"id"`
			Formula *struct {
				Tree any `yaml:"tree"`
			} `yaml:"formula"`
		} `yaml:"columns"`
	} `yaml:"tables"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadSchemaFile reads a schema file into a new Memory catalog.
func LoadSchemaFile(path string) (*Memory, *Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read schema %s: %w", path, err)
	}
	m, s, err := LoadSchema(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load schema %s: %w", path, err)
	}
	return m, s, nil
}

// LoadSchema decodes and validates a YAML schema.
func LoadSchema(r io.Reader) (*Memory, *Schema, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, err
	}
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	if err := attachTrees(data, &s); err != nil {
		return nil, nil, err
	}
	if err := validate.Struct(&s); err != nil {
		return nil, nil, fmt.Errorf("invalid schema: %w", err)
	}

	m := NewMemory()
	for _, t := range s.Tables {
		for _, c := range t.Columns {
			if c.Name == "" && !c.IsVirtual() {
				c.Name = c.ID
			}
		}
		if t.BaseID == "" {
			t.BaseID = s.BaseID
		}
		m.Add(t)
	}
	m.SetUsers(s.BaseID, s.Users)
	return m, &s, nil
}

// attachTrees re-encodes each formula tree as JSON and checks that it
// decodes.
func attachTrees(data []byte, s *Schema) error {
	var trees formulaTrees
	if err := yaml.Unmarshal(data, &trees); err != nil {
		return fmt.Errorf("failed to parse formula trees: %w", err)
	}
	for i, t := range trees.Tables {
		if i >= len(s.Tables) {
			break
		}
		for j, c := range t.Columns {
			if c.Formula == nil || c.Formula.Tree == nil || j >= len(s.Tables[i].Columns) {
				continue
			}
			col := s.Tables[i].Columns[j]
			raw, err := json.Marshal(c.Formula.Tree)
			if err != nil {
				return fmt.Errorf("column %s: failed to encode formula tree: %w", c.ID, err)
			}
			if _, err := formula.Decode(raw); err != nil {
				return fmt.Errorf("column %s: %w", c.ID, err)
			}
			if col.Formula == nil {
				col.Formula = &core.FormulaDescriptor{}
			}
			col.Formula.Tree = raw
		}
	}
	return nil
}
