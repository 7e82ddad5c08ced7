package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/gridsql/pkg/relation"
	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

// DryRunAlias is the column alias of the validation query.
const DryRunAlias = "__dry_run_alias"

// ErrNoQuerier is returned by validate mode when no querier is configured.
var ErrNoQuerier = errors.New("validation requires a querier")

// dryRun executes SELECT expr FROM table with a one-row limit and drains
// the result so that errors raised while evaluating rows surface too.
func (c *Compiler) dryRun(ctx context.Context, ref relation.Ref, expr sqlb.Expr) error {
	if c.querier == nil {
		return ErrNoQuerier
	}
	d := c.dialect
	q := sqlb.From(ref.Source(d)).
		Columns(sqlb.As(expr, sqlb.Ident(d, DryRunAlias))).
		Limit(1).
		Build(d.LimitStyle())
	query, args := sqlb.Render(q, d.PlaceholderStyle())

	rows, err := c.querier.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

// persist records the outcome of a validation on the column and returns
// cause. A nil cause clears the stored error.
func (c *Compiler) persist(ctx context.Context, columnID string, cause error) error {
	if columnID == "" || c.sink == nil {
		return cause
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := c.sink.SetFormulaError(ctx, columnID, msg); err != nil {
		c.logger.Error("failed to persist formula state",
			slog.String("column", columnID),
			slog.String("error", err.Error()))
		return errors.Join(cause, fmt.Errorf("failed to persist formula state of %s: %w", columnID, err))
	}
	c.logger.Debug("validated formula", slog.String("column", columnID), slog.Bool("ok", cause == nil))
	return cause
}
