// Package compiler lowers parsed formula trees into dialect-specific SQL
// expressions.
//
// A Compiler is safe for concurrent use. Each top-level call runs a pass
// with its own alias counter and memo table, so a column referenced many
// times within one expression (or one row selection) is compiled once.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/dialect"
	"github.com/leapstack-labs/gridsql/pkg/formula"
	"github.com/leapstack-labs/gridsql/pkg/relation"
	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

// Observer is notified after every top-level compile.
type Observer interface {
	CompileDone(engine core.Engine, elapsed time.Duration, err error)
}

// Compiler compiles formulas for one engine against one catalog.
type Compiler struct {
	catalog  core.Catalog
	dialect  dialect.Operators
	relation *relation.Resolver

	users    core.UserRoster
	sink     core.FormulaErrorSink
	querier  core.Querier
	logger   *slog.Logger
	tracer   trace.Tracer
	observer Observer

	relationOpts []relation.Option
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithUsers sets the roster used to render User columns as emails.
func WithUsers(u core.UserRoster) Option {
	return func(c *Compiler) { c.users = u }
}

// WithErrorSink sets where validate mode persists formula errors.
func WithErrorSink(s core.FormulaErrorSink) Option {
	return func(c *Compiler) { c.sink = s }
}

// WithQuerier sets the connection used by validate mode.
func WithQuerier(q core.Querier) Option {
	return func(c *Compiler) { c.querier = q }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Compiler) { c.logger = l }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(c *Compiler) { c.tracer = t }
}

// WithObserver sets the compile observer.
func WithObserver(o Observer) Option {
	return func(c *Compiler) { c.observer = o }
}

// WithRelationOptions passes options to the relation resolver.
func WithRelationOptions(opts ...relation.Option) Option {
	return func(c *Compiler) { c.relationOpts = append(c.relationOpts, opts...) }
}

// New creates a compiler.
func New(cat core.Catalog, d dialect.Operators, opts ...Option) *Compiler {
	c := &Compiler{
		catalog: cat,
		dialect: d,
		logger:  slog.New(slog.DiscardHandler),
		tracer:  otel.Tracer("github.com/leapstack-labs/gridsql/pkg/compiler"),
	}
	for _, opt := range opts {
		opt(c)
	}
	relOpts := append([]relation.Option{relation.WithLogger(c.logger)}, c.relationOpts...)
	c.relation = relation.New(cat, d, relOpts...)
	return c
}

// Dialect returns the operator table in use.
func (c *Compiler) Dialect() dialect.Operators {
	return c.dialect
}

// Relations returns the relation resolver sharing this compiler's catalog.
func (c *Compiler) Relations() *relation.Resolver {
	return c.relation
}

// Options controls a top-level compile.
type Options struct {
	// Validate dry-runs the compiled expression against the querier.
	Validate bool
	// TableAlias qualifies the compiling table's columns.
	TableAlias string
	// ColumnID is the formula column being compiled, if any. It seeds the
	// parent set and receives the persisted error state in validate mode.
	ColumnID string
}

// CompileFormula compiles tree in the scope of table into a selectable
// expression.
func (c *Compiler) CompileFormula(ctx context.Context, table *core.Table, tree formula.Node, opts Options) (sqlb.Expr, error) {
	ctx, span := c.tracer.Start(ctx, "compiler.CompileFormula", trace.WithAttributes(
		attribute.String("engine", c.dialect.Engine().String()),
		attribute.String("table", table.ID),
		attribute.String("column", opts.ColumnID),
		attribute.Bool("validate", opts.Validate),
	))
	defer span.End()
	start := time.Now()

	expr, err := c.compileFormula(ctx, table, tree, opts)
	c.done(span, start, err)
	return expr, err
}

// CompileColumn compiles a persisted Formula or Button column.
func (c *Compiler) CompileColumn(ctx context.Context, col *core.Column, opts Options) (sqlb.Expr, error) {
	if col.Category() != core.CategoryFormula {
		return sqlb.Expr{}, &core.CompileError{ColumnID: col.ID, Msg: "not a formula column"}
	}
	table, err := c.catalog.Table(ctx, col.TableID)
	if err != nil {
		return sqlb.Expr{}, fmt.Errorf("failed to load table %s: %w", col.TableID, err)
	}
	if table == nil {
		return sqlb.Expr{}, &core.CompileError{ColumnID: col.ID, Msg: "table " + col.TableID + " not found"}
	}
	opts.ColumnID = col.ID
	tree, err := decodeTree(col)
	if err != nil {
		if opts.Validate {
			return sqlb.Expr{}, c.persist(ctx, opts.ColumnID, err)
		}
		return sqlb.Expr{}, err
	}
	return c.CompileFormula(ctx, table, tree, opts)
}

func (c *Compiler) compileFormula(ctx context.Context, table *core.Table, tree formula.Node, opts Options) (sqlb.Expr, error) {
	p := c.newPass(ctx)
	sc := newScope(table, opts.TableAlias)
	if opts.ColumnID != "" {
		sc = sc.push(opts.ColumnID)
	}

	v, err := p.compile(sc, tree, frame{})
	if err != nil {
		err = attachColumn(err, opts.ColumnID)
		if opts.Validate {
			return sqlb.Expr{}, c.persist(ctx, opts.ColumnID, err)
		}
		return sqlb.Expr{}, err
	}
	expr := c.dialect.Value(v)

	if opts.Validate {
		if err := c.dryRun(ctx, sc.ref, expr); err != nil {
			err = &core.CompileError{ColumnID: opts.ColumnID, Msg: "dry run failed", Err: err}
			return sqlb.Expr{}, c.persist(ctx, opts.ColumnID, err)
		}
		if err := c.persist(ctx, opts.ColumnID, nil); err != nil {
			return sqlb.Expr{}, err
		}
	}
	return expr, nil
}

// Selection is the select list of a full row read.
type Selection struct {
	// Source is the FROM item the columns are qualified against.
	Source sqlb.Expr
	// Columns holds one aliased expression per table column.
	Columns []sqlb.Expr
	// Broken maps the ids of columns that failed to compile (and were
	// selected as NULL) to their error.
	Broken map[string]error
}

// Query returns a SELECT over the selection.
func (s *Selection) Query() *sqlb.Select {
	return sqlb.From(s.Source).Columns(s.Columns...)
}

// SelectColumns compiles every column of table in one pass. Columns whose
// formula is broken are selected as NULL and reported in Selection.Broken;
// metadata and driver errors abort the selection.
func (c *Compiler) SelectColumns(ctx context.Context, table *core.Table, opts Options) (*Selection, error) {
	ctx, span := c.tracer.Start(ctx, "compiler.SelectColumns", trace.WithAttributes(
		attribute.String("engine", c.dialect.Engine().String()),
		attribute.String("table", table.ID),
	))
	defer span.End()
	start := time.Now()

	sel, err := c.selectColumns(ctx, table, opts)
	c.done(span, start, err)
	return sel, err
}

func (c *Compiler) selectColumns(ctx context.Context, table *core.Table, opts Options) (*Selection, error) {
	p := c.newPass(ctx)
	sc := newScope(table, opts.TableAlias)
	sel := &Selection{
		Source: sc.ref.Source(c.dialect),
		Broken: make(map[string]error),
	}
	for _, col := range table.Columns {
		alias := sqlb.Ident(c.dialect, selectAlias(col))
		v, err := p.value(sc, col)
		if err != nil {
			if !isFormulaFailure(err) {
				return nil, fmt.Errorf("failed to compile column %s: %w", col.ID, err)
			}
			c.logger.Warn("selecting broken column as NULL",
				slog.String("table", table.ID),
				slog.String("column", col.ID),
				slog.String("error", err.Error()))
			sel.Broken[col.ID] = err
			sel.Columns = append(sel.Columns, sqlb.As(sqlb.Null(), alias))
			continue
		}
		sel.Columns = append(sel.Columns, sqlb.As(c.dialect.Value(v), alias))
	}
	return sel, nil
}

func (c *Compiler) done(span trace.Span, start time.Time, err error) {
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	if c.observer != nil {
		c.observer.CompileDone(c.dialect.Engine(), elapsed, err)
	}
}

func selectAlias(col *core.Column) string {
	switch {
	case col.Name != "":
		return col.Name
	case col.Title != "":
		return col.Title
	default:
		return col.ID
	}
}

func isFormulaFailure(err error) bool {
	return errors.Is(err, core.ErrFormulaCompile) ||
		errors.Is(err, core.ErrFormulaCircularReference) ||
		errors.Is(err, core.ErrUnsupportedDialectOperation)
}

// attachColumn fills in the column id of a compile error raised by a
// function handler, which does not know which column it is compiling.
func attachColumn(err error, columnID string) error {
	var ce *core.CompileError
	if columnID != "" && errors.As(err, &ce) && ce.ColumnID == "" {
		ce.ColumnID = columnID
	}
	return err
}

func decodeTree(col *core.Column) (formula.Node, error) {
	if col.Formula == nil || len(col.Formula.Tree) == 0 {
		return nil, &core.CompileError{ColumnID: col.ID, Msg: "formula has no parsed tree"}
	}
	tree, err := formula.Decode(col.Formula.Tree)
	if err != nil {
		return nil, &core.CompileError{ColumnID: col.ID, Msg: "failed to decode formula tree", Err: err}
	}
	return tree, nil
}
