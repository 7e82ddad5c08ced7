package core

import (
	"context"
	"encoding/json"
)

// UIType is the user-facing column type tag. It decides how a column is
// compiled when referenced from a formula or a lookup.
type UIType string

// Column UI types.
const (
	UIID                  UIType = "ID"
	UIForeignKey          UIType = "ForeignKey"
	UISingleLineText      UIType = "SingleLineText"
	UILongText            UIType = "LongText"
	UIEmail               UIType = "Email"
	UIURL                 UIType = "URL"
	UIPhoneNumber         UIType = "PhoneNumber"
	UINumber              UIType = "Number"
	UIDecimal             UIType = "Decimal"
	UICurrency            UIType = "Currency"
	UIPercent             UIType = "Percent"
	UIDuration            UIType = "Duration"
	UIRating              UIType = "Rating"
	UICheckbox            UIType = "Checkbox"
	UIDate                UIType = "Date"
	UIDateTime            UIType = "DateTime"
	UITime                UIType = "Time"
	UIYear                UIType = "Year"
	UISingleSelect        UIType = "SingleSelect"
	UIMultiSelect         UIType = "MultiSelect"
	UIAttachment          UIType = "Attachment"
	UIJSON                UIType = "JSON"
	UIFormula             UIType = "Formula"
	UIButton              UIType = "Button"
	UILookup              UIType = "Lookup"
	UIRollup              UIType = "Rollup"
	UILinkToAnotherRecord UIType = "LinkToAnotherRecord"
	UILinks               UIType = "Links"
	UIUser                UIType = "User"
	UICreatedBy           UIType = "CreatedBy"
	UILastModifiedBy      UIType = "LastModifiedBy"
	UICreatedTime         UIType = "CreatedTime"
	UILastModifiedTime    UIType = "LastModifiedTime"
	UIQrCode              UIType = "QrCode"
	UIBarcode             UIType = "Barcode"
)

// Category is the closed set of compilation strategies a column can take.
type Category int

const (
	// CategoryScalar columns resolve to their physical column.
	CategoryScalar Category = iota
	// CategoryFormula covers Formula and Button columns.
	CategoryFormula
	// CategoryLookup columns read through one or more relation hops.
	CategoryLookup
	// CategoryLink covers LinkToAnotherRecord columns (display value of the far side).
	CategoryLink
	// CategoryRollup covers Rollup and Links (count) columns.
	CategoryRollup
	// CategoryUser covers User, CreatedBy and LastModifiedBy.
	CategoryUser
	// CategoryTimestamp covers CreatedTime, LastModifiedTime and DateTime.
	CategoryTimestamp
	// CategoryAIText is a LongText column holding a JSON {"value": ...} payload.
	CategoryAIText
	// CategoryCode covers QrCode and Barcode columns.
	CategoryCode
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryScalar:
		return "scalar"
	case CategoryFormula:
		return "formula"
	case CategoryLookup:
		return "lookup"
	case CategoryLink:
		return "link"
	case CategoryRollup:
		return "rollup"
	case CategoryUser:
		return "user"
	case CategoryTimestamp:
		return "timestamp"
	case CategoryAIText:
		return "ai-text"
	case CategoryCode:
		return "code"
	default:
		return "unknown"
	}
}

// RelationKind is the kind of a relation between two tables.
type RelationKind string

// Relation kinds.
const (
	BelongsTo  RelationKind = "bt"
	HasMany    RelationKind = "hm"
	ManyToMany RelationKind = "mm"
	OneToOne   RelationKind = "oo"
)

// Reverse returns the kind seen from the other endpoint.
func (k RelationKind) Reverse() RelationKind {
	switch k {
	case BelongsTo:
		return HasMany
	case HasMany:
		return BelongsTo
	default:
		return k
	}
}

// IsArray reports whether the kind yields 0..n far rows per near row.
func (k RelationKind) IsArray() bool {
	return k == HasMany || k == ManyToMany
}

// Table is a user table as known to the catalog.
type Table struct {
	ID      string    `json:"id" yaml:"id" msgpack:"id" validate:"required"`
	BaseID  string    `json:"base_id" yaml:"base_id" msgpack:"base_id"`
	Title   string    `json:"title" yaml:"title" msgpack:"title"`
	Name    string    `json:"name" yaml:"name" msgpack:"name" validate:"required"`
	Columns []*Column `json:"columns" yaml:"columns" msgpack:"columns" validate:"dive"`
}

// PrimaryKey returns the first primary key column, or nil.
func (t *Table) PrimaryKey() *Column {
	for _, c := range t.Columns {
		if c.PK {
			return c
		}
	}
	return nil
}

// DisplayValue returns the display-value column, falling back to the primary key.
func (t *Table) DisplayValue() *Column {
	for _, c := range t.Columns {
		if c.PV {
			return c
		}
	}
	return t.PrimaryKey()
}

// Column returns the column with the given id, or nil.
func (t *Table) Column(id string) *Column {
	for _, c := range t.Columns {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// LastModifiedColumn returns the system LastModifiedTime column, or nil.
func (t *Table) LastModifiedColumn() *Column {
	for _, c := range t.Columns {
		if c.UIType == UILastModifiedTime {
			return c
		}
	}
	return nil
}

// ColumnMeta holds flags stored alongside a column.
type ColumnMeta struct {
	// BT marks the owning side of a OneToOne pair (the side holding the FK).
	BT bool `json:"bt,omitempty" yaml:"bt,omitempty" msgpack:"bt,omitempty"`
	// AI marks a LongText column whose payload is JSON with a "value" key.
	AI bool `json:"ai,omitempty" yaml:"ai,omitempty" msgpack:"ai,omitempty"`
}

// Column is a column of a Table.
type Column struct {
	ID       string     `json:"id" yaml:"id" msgpack:"id" validate:"required"`
	TableID  string     `json:"table_id" yaml:"table_id" msgpack:"table_id"`
	Title    string     `json:"title" yaml:"title" msgpack:"title"`
	Name     string     `json:"name" yaml:"name" msgpack:"name"`
	UIType   UIType     `json:"uidt" yaml:"uidt" msgpack:"uidt" validate:"required"`
	DataType string     `json:"dt,omitempty" yaml:"dt,omitempty" msgpack:"dt,omitempty"`
	PK       bool       `json:"pk,omitempty" yaml:"pk,omitempty" msgpack:"pk,omitempty"`
	PV       bool       `json:"pv,omitempty" yaml:"pv,omitempty" msgpack:"pv,omitempty"`
	System   bool       `json:"system,omitempty" yaml:"system,omitempty" msgpack:"system,omitempty"`
	Meta     ColumnMeta `json:"meta" yaml:"meta" msgpack:"meta"`

	Relation *RelationDescriptor `json:"relation,omitempty" yaml:"relation,omitempty" msgpack:"relation,omitempty"`
	Lookup   *LookupDescriptor   `json:"lookup,omitempty" yaml:"lookup,omitempty" msgpack:"lookup,omitempty"`
	Rollup   *RollupDescriptor   `json:"rollup,omitempty" yaml:"rollup,omitempty" msgpack:"rollup,omitempty"`
	Formula  *FormulaDescriptor  `json:"formula,omitempty" yaml:"formula,omitempty" msgpack:"formula,omitempty"`
	Code     *CodeDescriptor     `json:"code,omitempty" yaml:"code,omitempty" msgpack:"code,omitempty"`
}

// Category maps the column's UI type onto its compilation strategy.
func (c *Column) Category() Category {
	switch c.UIType {
	case UIFormula, UIButton:
		return CategoryFormula
	case UILookup:
		return CategoryLookup
	case UILinkToAnotherRecord:
		return CategoryLink
	case UIRollup, UILinks:
		return CategoryRollup
	case UIUser, UICreatedBy, UILastModifiedBy:
		return CategoryUser
	case UICreatedTime, UILastModifiedTime, UIDateTime:
		return CategoryTimestamp
	case UIQrCode, UIBarcode:
		return CategoryCode
	case UILongText:
		if c.Meta.AI {
			return CategoryAIText
		}
		return CategoryScalar
	default:
		return CategoryScalar
	}
}

// IsVirtual reports whether the column has no physical storage of its own.
func (c *Column) IsVirtual() bool {
	switch c.Category() {
	case CategoryFormula, CategoryLookup, CategoryLink, CategoryRollup, CategoryCode:
		return true
	default:
		return false
	}
}

// RelationDescriptor describes a LinkToAnotherRecord / Links column.
type RelationDescriptor struct {
	Kind           RelationKind `json:"type" yaml:"type" msgpack:"type" validate:"required,oneof=bt hm mm oo"`
	ChildTableID   string       `json:"child_table_id" yaml:"child_table_id" msgpack:"child_table_id" validate:"required"`
	ChildColumnID  string       `json:"child_column_id" yaml:"child_column_id" msgpack:"child_column_id" validate:"required"`
	ParentTableID  string       `json:"parent_table_id" yaml:"parent_table_id" msgpack:"parent_table_id" validate:"required"`
	ParentColumnID string       `json:"parent_column_id" yaml:"parent_column_id" msgpack:"parent_column_id" validate:"required"`

	JunctionTableID        string `json:"mm_table_id,omitempty" yaml:"mm_table_id,omitempty" msgpack:"mm_table_id,omitempty" validate:"required_if=Kind mm"`
	JunctionChildColumnID  string `json:"mm_child_column_id,omitempty" yaml:"mm_child_column_id,omitempty" msgpack:"mm_child_column_id,omitempty" validate:"required_if=Kind mm"`
	JunctionParentColumnID string `json:"mm_parent_column_id,omitempty" yaml:"mm_parent_column_id,omitempty" msgpack:"mm_parent_column_id,omitempty" validate:"required_if=Kind mm"`
}

// LookupDescriptor describes a Lookup column.
type LookupDescriptor struct {
	RelationColumnID string `json:"relation_column_id" yaml:"relation_column_id" msgpack:"relation_column_id" validate:"required"`
	TargetColumnID   string `json:"target_column_id" yaml:"target_column_id" msgpack:"target_column_id" validate:"required"`
}

// RollupDescriptor describes a Rollup column.
type RollupDescriptor struct {
	RelationColumnID string `json:"relation_column_id" yaml:"relation_column_id" msgpack:"relation_column_id" validate:"required"`
	TargetColumnID   string `json:"target_column_id" yaml:"target_column_id" msgpack:"target_column_id" validate:"required"`
	Function         string `json:"function" yaml:"function" msgpack:"function" validate:"required"`
}

// FormulaDescriptor holds the persisted parsed tree of a Formula or Button column.
type FormulaDescriptor struct {
	Tree  json.RawMessage `json:"tree" yaml:"-" msgpack:"tree"`
	Error string          `json:"error,omitempty" yaml:"error,omitempty" msgpack:"error,omitempty"`
}

// CodeDescriptor points a QrCode/Barcode column at the column it encodes.
type CodeDescriptor struct {
	ValueColumnID string `json:"value_column_id" yaml:"value_column_id" msgpack:"value_column_id" validate:"required"`
}

// User is an entry of a base's user roster.
type User struct {
	ID          string `json:"id" yaml:"id" msgpack:"id"`
	Email       string `json:"email" yaml:"email" msgpack:"email"`
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty" msgpack:"display_name,omitempty"`
}

// Catalog answers metadata questions about tables and columns.
// Implementations may be slow; callers are free to cache. A missing entity
// is reported as a nil result with a nil error.
type Catalog interface {
	Table(ctx context.Context, id string) (*Table, error)
	Columns(ctx context.Context, tableID string) ([]*Column, error)
	Column(ctx context.Context, id string) (*Column, error)
	RelationDescriptor(ctx context.Context, columnID string) (*RelationDescriptor, error)
	LookupDescriptor(ctx context.Context, columnID string) (*LookupDescriptor, error)
}

// FormulaErrorSink persists the error state of a formula column.
// An empty message clears it.
type FormulaErrorSink interface {
	SetFormulaError(ctx context.Context, columnID, msg string) error
}

// UserRoster lists the users of a base.
type UserRoster interface {
	ListUsers(ctx context.Context, baseID string) ([]User, error)
}
