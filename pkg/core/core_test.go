package core_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/gridsql/pkg/core"
)

func TestParseEngine(t *testing.T) {
	tests := []struct {
		in      string
		want    core.Engine
		wantErr bool
	}{
		{"postgres", core.EnginePostgres, false},
		{"PG", core.EnginePostgres, false},
		{"mysql2", core.EngineMySQL, false},
		{"sqlite3", core.EngineSQLite, false},
		{"sqlserver", core.EngineMSSQL, false},
		{" duckdb ", core.EngineDuckDB, false},
		{"oracle", core.EngineUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := core.ParseEngine(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParse(t, got.String()))
		})
	}
}

func mustParse(t *testing.T, s string) core.Engine {
	t.Helper()
	e, err := core.ParseEngine(s)
	require.NoError(t, err)
	return e
}

func TestColumnCategory(t *testing.T) {
	tests := []struct {
		col  core.Column
		want core.Category
	}{
		{core.Column{UIType: core.UIFormula}, core.CategoryFormula},
		{core.Column{UIType: core.UIButton}, core.CategoryFormula},
		{core.Column{UIType: core.UILookup}, core.CategoryLookup},
		{core.Column{UIType: core.UILinkToAnotherRecord}, core.CategoryLink},
		{core.Column{UIType: core.UILinks}, core.CategoryRollup},
		{core.Column{UIType: core.UIRollup}, core.CategoryRollup},
		{core.Column{UIType: core.UICreatedBy}, core.CategoryUser},
		{core.Column{UIType: core.UILastModifiedTime}, core.CategoryTimestamp},
		{core.Column{UIType: core.UIDateTime}, core.CategoryTimestamp},
		{core.Column{UIType: core.UIBarcode}, core.CategoryCode},
		{core.Column{UIType: core.UILongText}, core.CategoryScalar},
		{core.Column{UIType: core.UILongText, Meta: core.ColumnMeta{AI: true}}, core.CategoryAIText},
		{core.Column{UIType: core.UINumber}, core.CategoryScalar},
	}
	for _, tt := range tests {
		t.Run(string(tt.col.UIType)+"/"+tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.col.Category())
		})
	}
}

func TestTableHelpers(t *testing.T) {
	tbl := &core.Table{
		ID: "t1",
		Columns: []*core.Column{
			{ID: "id", UIType: core.UIID, PK: true},
			{ID: "title", UIType: core.UISingleLineText},
			{ID: "updated", UIType: core.UILastModifiedTime},
		},
	}
	assert.Equal(t, "id", tbl.DisplayValue().ID, "falls back to pk")
	assert.Equal(t, "updated", tbl.LastModifiedColumn().ID)
	assert.Nil(t, tbl.Column("missing"))

	tbl.Columns[1].PV = true
	assert.Equal(t, "title", tbl.DisplayValue().ID)
}

func TestRelationKindReverse(t *testing.T) {
	assert.Equal(t, core.HasMany, core.BelongsTo.Reverse())
	assert.Equal(t, core.BelongsTo, core.HasMany.Reverse())
	assert.Equal(t, core.ManyToMany, core.ManyToMany.Reverse())
	assert.True(t, core.ManyToMany.IsArray())
	assert.False(t, core.BelongsTo.IsArray())
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("syntax error at or near")
	tests := []struct {
		name     string
		err      error
		sentinel error
		contains string
	}{
		{"circular", &core.CircularReferenceError{ColumnID: "a", Chain: []string{"a", "b"}}, core.ErrFormulaCircularReference, "a -> b -> a"},
		{"compile", &core.CompileError{ColumnID: "f", Err: cause}, core.ErrFormulaCompile, "syntax error"},
		{"unsupported", &core.UnsupportedError{Engine: core.EngineMSSQL, Construct: "REGEX_MATCH"}, core.ErrUnsupportedDialectOperation, "REGEX_MATCH is not supported on mssql"},
		{"endpoint", &core.EndpointNotFoundError{ColumnID: "c", What: "parent table"}, core.ErrRelationEndpointNotFound, "parent table"},
		{"record", &core.RecordNotFoundError{Table: "orders", IDs: []string{"1", "2"}}, core.ErrRecordNotFound, "1, 2"},
		{"unprocessable", &core.UnprocessableError{ColumnID: "c", Reason: "too many ids"}, core.ErrUnprocessableRelationRequest, "too many ids"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("failed to do thing: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.Contains(t, wrapped.Error(), tt.contains)
		})
	}

	var ce *core.CompileError
	require.ErrorAs(t, fmt.Errorf("x: %w", &core.CompileError{Err: cause}), &ce)
	assert.ErrorIs(t, ce, cause)
}
