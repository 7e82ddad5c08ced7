package state

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/gridsql/pkg/core"
)

// SetFormulaError records msg for the column; an empty msg clears it.
func (s *SQLiteStore) SetFormulaError(ctx context.Context, columnID, msg string) error {
	if s.db == nil {
		return ErrNotOpened
	}
	if msg == "" {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM formula_errors WHERE column_id = ?`, columnID); err != nil {
			return fmt.Errorf("failed to clear formula error of %s: %w", columnID, err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO formula_errors (column_id, message, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (column_id) DO UPDATE SET message = excluded.message, updated_at = excluded.updated_at`,
		columnID, msg, s.now())
	if err != nil {
		return fmt.Errorf("failed to record formula error of %s: %w", columnID, err)
	}
	return nil
}

// FormulaErrors returns the recorded messages keyed by column id.
func (s *SQLiteStore) FormulaErrors(ctx context.Context) (map[string]string, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}
	rows, err := s.db.QueryContext(ctx, `SELECT column_id, message FROM formula_errors`)
	if err != nil {
		return nil, fmt.Errorf("failed to list formula errors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]string)
	for rows.Next() {
		var id, msg string
		if err := rows.Scan(&id, &msg); err != nil {
			return nil, fmt.Errorf("failed to scan formula error: %w", err)
		}
		out[id] = msg
	}
	return out, rows.Err()
}

// Overlay copies the recorded errors onto sink, typically an in-memory
// catalog loaded from a schema file. Columns the sink rejects (removed or
// no longer formulas) are skipped.
func (s *SQLiteStore) Overlay(ctx context.Context, sink core.FormulaErrorSink) error {
	errs, err := s.FormulaErrors(ctx)
	if err != nil {
		return err
	}
	for id, msg := range errs {
		if err := sink.SetFormulaError(ctx, id, msg); err != nil {
			s.logger.Debug("skipping stale formula error", slog.String("column", id), slog.String("error", err.Error()))
		}
	}
	return nil
}

// Tee returns a sink writing to every sink in order and stopping at the
// first failure.
func Tee(sinks ...core.FormulaErrorSink) core.FormulaErrorSink {
	return tee(sinks)
}

type tee []core.FormulaErrorSink

func (t tee) SetFormulaError(ctx context.Context, columnID, msg string) error {
	for _, s := range t {
		if err := s.SetFormulaError(ctx, columnID, msg); err != nil {
			return err
		}
	}
	return nil
}
