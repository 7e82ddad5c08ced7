// Package links links and unlinks records through relation columns.
//
// Every request runs in a single transaction: the near record and the far
// ids are validated, the foreign keys or junction rows are written, and the
// last-modified columns of both endpoints are bumped. Audit events are
// returned to the caller together with deferred effects that must only run
// once the transaction has committed.
package links

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/dialect"
	"github.com/leapstack-labs/gridsql/pkg/relation"
)

// DB starts transactions. *sql.DB satisfies it.
type DB interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Observer is notified after every mutation.
type Observer interface {
	LinkDone(op Op, kind core.RelationKind, elapsed time.Duration, err error)
}

// Request names the relation column, the record owning it and the records
// to link or unlink.
type Request struct {
	ColumnID string
	NearID   string
	FarIDs   []string
	// User is recorded on the audit events.
	User string
}

// Engine applies link mutations.
type Engine struct {
	catalog  core.Catalog
	dialect  dialect.Operators
	db       DB
	resolver *relation.Resolver

	hooks    []Hook
	logger   *slog.Logger
	tracer   trace.Tracer
	observer Observer
	now      func() time.Time
	newID    func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithHook registers a hook run as an effect after commit.
func WithHook(h Hook) Option {
	return func(e *Engine) { e.hooks = append(e.hooks, h) }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithObserver sets the mutation observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// WithClock sets the clock used for last-modified values and events.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine writing through db.
func New(cat core.Catalog, d dialect.Operators, db DB, opts ...Option) *Engine {
	e := &Engine{
		catalog: cat,
		dialect: d,
		db:      db,
		logger:  slog.New(slog.DiscardHandler),
		tracer:  otel.Tracer("github.com/leapstack-labs/gridsql/pkg/links"),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resolver = relation.New(cat, d, relation.WithLogger(e.logger))
	return e
}

// Link links the far records to the near record.
func (e *Engine) Link(ctx context.Context, req Request) (*Result, error) {
	return e.run(ctx, OpLink, req)
}

// Unlink removes the links between the near record and the far records.
func (e *Engine) Unlink(ctx context.Context, req Request) (*Result, error) {
	return e.run(ctx, OpUnlink, req)
}

func (e *Engine) run(ctx context.Context, op Op, req Request) (res *Result, err error) {
	ctx, span := e.tracer.Start(ctx, "links."+string(op), trace.WithAttributes(
		attribute.String("engine", e.dialect.Engine().String()),
		attribute.String("column", req.ColumnID),
		attribute.Int("far_ids", len(req.FarIDs)),
	))
	defer span.End()
	start := time.Now()
	var kind core.RelationKind
	defer func() { e.done(span, op, kind, start, err) }()

	col, err := e.column(ctx, req.ColumnID)
	if err != nil {
		return nil, err
	}
	ep, err := e.resolver.Endpoints(ctx, col)
	if err != nil {
		return nil, err
	}
	kind = ep.Declared

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	m := &mutation{
		q:   tx,
		d:   e.dialect,
		ep:  ep,
		op:  op,
		req: req,
		now: e.now(),
	}
	linked, err := m.apply(ctx)
	if err != nil {
		return nil, err
	}
	res = &Result{logger: e.logger}
	res.Events, err = e.events(ctx, ep, op, req, m.now, linked)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit %s: %w", op, err)
	}

	if len(res.Events) > 0 {
		for _, h := range e.hooks {
			events := res.Events
			res.Effects = append(res.Effects, func(ctx context.Context) error {
				return h.AfterLink(ctx, events)
			})
		}
	}
	e.logger.Debug("applied link mutation",
		slog.String("op", string(op)),
		slog.String("column", col.ID),
		slog.String("kind", string(kind)),
		slog.String("near", req.NearID),
		slog.Int("changed", len(linked)))
	return res, nil
}

func (e *Engine) column(ctx context.Context, id string) (*core.Column, error) {
	col, err := e.catalog.Column(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load column %s: %w", id, err)
	}
	if col == nil {
		return nil, &core.EndpointNotFoundError{ColumnID: id, What: "column"}
	}
	if !isRelation(col) {
		return nil, &core.UnprocessableError{ColumnID: id, Reason: "not a relation column"}
	}
	return col, nil
}

// events builds one event per far id from the near side and, when the
// endpoints differ, one from the far side.
func (e *Engine) events(ctx context.Context, ep *relation.Endpoints, op Op, req Request, at time.Time, farIDs []string) ([]AuditEvent, error) {
	if len(farIDs) == 0 {
		return nil, nil
	}
	reverse := ""
	if !ep.SameTable() {
		rc, err := e.reverseColumn(ctx, ep)
		if err != nil {
			return nil, err
		}
		if rc != nil {
			reverse = rc.ID
		}
	}

	var out []AuditEvent
	for _, id := range farIDs {
		out = append(out, AuditEvent{
			ID: e.newID(), Op: op, Kind: ep.Declared, User: req.User, At: at,
			TableID: ep.Near.ID, ColumnID: ep.Column.ID, RowID: req.NearID,
			RefTableID: ep.Far.ID, RefColumnID: reverse, RefRowID: id,
		})
		if ep.SameTable() {
			continue
		}
		out = append(out, AuditEvent{
			ID: e.newID(), Op: op, Kind: ep.Declared.Reverse(), User: req.User, At: at,
			TableID: ep.Far.ID, ColumnID: reverse, RowID: id,
			RefTableID: ep.Near.ID, RefColumnID: ep.Column.ID, RefRowID: req.NearID,
		})
	}
	return out, nil
}

// reverseColumn finds the relation column of the far table describing the
// same relation, preferring LinkToAnotherRecord over Links. It returns nil
// when there is none.
func (e *Engine) reverseColumn(ctx context.Context, ep *relation.Endpoints) (*core.Column, error) {
	own, err := e.resolver.Descriptor(ctx, ep.Column)
	if err != nil {
		return nil, err
	}
	var fallback *core.Column
	for _, c := range ep.Far.Columns {
		if !isRelation(c) {
			continue
		}
		desc, err := e.resolver.Descriptor(ctx, c)
		if err != nil {
			return nil, err
		}
		if !sameRelation(own, desc) {
			continue
		}
		if c.UIType == core.UILinkToAnotherRecord {
			return c, nil
		}
		if fallback == nil {
			fallback = c
		}
	}
	return fallback, nil
}

func isRelation(c *core.Column) bool {
	return c.UIType == core.UILinkToAnotherRecord || c.UIType == core.UILinks
}

func sameRelation(a, b *core.RelationDescriptor) bool {
	if a.JunctionTableID != b.JunctionTableID {
		return false
	}
	return (a.ChildColumnID == b.ChildColumnID && a.ParentColumnID == b.ParentColumnID) ||
		(a.ChildColumnID == b.ParentColumnID && a.ParentColumnID == b.ChildColumnID)
}

func (e *Engine) done(span trace.Span, op Op, kind core.RelationKind, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	if e.observer != nil {
		e.observer.LinkDone(op, kind, time.Since(start), err)
	}
}
