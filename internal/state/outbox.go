package state

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/links"
)

// AfterLink implements links.Hook by appending the events to the audit
// outbox. Events already present are ignored.
func (s *SQLiteStore) AfterLink(ctx context.Context, events []links.AuditEvent) (err error) {
	if s.db == nil {
		return ErrNotOpened
	}
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO link_audit (id, op, kind, table_id, column_id, row_id, ref_table_id, ref_column_id, ref_row_id, user_id, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare audit insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range events {
		if _, err = stmt.ExecContext(ctx, e.ID, string(e.Op), string(e.Kind), e.TableID, e.ColumnID, e.RowID,
			e.RefTableID, e.RefColumnID, e.RefRowID, e.User, e.At.UTC()); err != nil {
			return fmt.Errorf("failed to record audit event %s: %w", e.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit events: %w", err)
	}
	s.logger.Debug("recorded link audit events", slog.Int("count", len(events)))
	return nil
}

// Pending returns up to limit undelivered events, oldest first.
func (s *SQLiteStore) Pending(ctx context.Context, limit int) ([]links.AuditEvent, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, op, kind, table_id, column_id, row_id, ref_table_id, ref_column_id, ref_row_id, user_id, at
		FROM link_audit WHERE delivered_at IS NULL ORDER BY at, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []links.AuditEvent
	for rows.Next() {
		var (
			e        links.AuditEvent
			op, kind string
		)
		if err := rows.Scan(&e.ID, &op, &kind, &e.TableID, &e.ColumnID, &e.RowID,
			&e.RefTableID, &e.RefColumnID, &e.RefRowID, &e.User, &e.At); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.At = e.At.UTC()
		e.Op = links.Op(op)
		e.Kind = core.RelationKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkDelivered flags events as delivered so Pending no longer returns them.
func (s *SQLiteStore) MarkDelivered(ctx context.Context, ids ...string) error {
	if s.db == nil {
		return ErrNotOpened
	}
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, s.now())
	for _, id := range ids {
		args = append(args, id)
	}
	q := `UPDATE link_audit SET delivered_at = ? WHERE id IN (?` + strings.Repeat(", ?", len(ids)-1) + `)`
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("failed to mark audit events delivered: %w", err)
	}
	return nil
}

var _ links.Hook = (*SQLiteStore)(nil)
