package links

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/leapstack-labs/gridsql/pkg/core"
)

// Op is a link mutation.
type Op string

// Link operations.
const (
	OpLink   Op = "link"
	OpUnlink Op = "unlink"
)

// AuditEvent describes one linked or unlinked pair from one endpoint's
// perspective.
type AuditEvent struct {
	ID          string            `json:"id"`
	Op          Op                `json:"op"`
	TableID     string            `json:"table_id"`
	ColumnID    string            `json:"column_id,omitempty"`
	RowID       string            `json:"row_id"`
	RefTableID  string            `json:"ref_table_id"`
	RefColumnID string            `json:"ref_column_id,omitempty"`
	RefRowID    string            `json:"ref_row_id"`
	Kind        core.RelationKind `json:"kind"`
	User        string            `json:"user,omitempty"`
	At          time.Time         `json:"at"`
}

// Effect is work deferred until the mutation has committed.
type Effect func(ctx context.Context) error

// Hook receives the audit events of every committed mutation.
type Hook interface {
	AfterLink(ctx context.Context, events []AuditEvent) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, events []AuditEvent) error

// AfterLink implements Hook.
func (f HookFunc) AfterLink(ctx context.Context, events []AuditEvent) error {
	return f(ctx, events)
}

// Result is the outcome of a committed mutation.
type Result struct {
	Events  []AuditEvent
	Effects []Effect

	logger *slog.Logger
}

// Commit runs the deferred effects in order. A failing effect does not stop
// the others; the failures are logged and returned joined.
func (r *Result) Commit(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var errs []error
	for i, eff := range r.Effects {
		if err := eff(ctx); err != nil {
			if r.logger != nil {
				r.logger.Error("link effect failed", slog.Int("effect", i), slog.String("error", err.Error()))
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
