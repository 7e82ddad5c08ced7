package state

import (
	"context"
	"fmt"

	"github.com/leapstack-labs/gridsql/pkg/core"
)

// ListUsers implements core.UserRoster, ordered by id.
func (s *SQLiteStore) ListUsers(ctx context.Context, baseID string) ([]core.User, error) {
	if s.db == nil {
		return nil, ErrNotOpened
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, email, display_name FROM users WHERE base_id = ? ORDER BY id`, baseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list users of %s: %w", baseID, err)
	}
	defer func() { _ = rows.Close() }()

	var users []core.User
	for rows.Next() {
		var u core.User
		if err := rows.Scan(&u.ID, &u.Email, &u.DisplayName); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// PutUsers replaces the users of a base.
func (s *SQLiteStore) PutUsers(ctx context.Context, baseID string, users []core.User) (err error) {
	if s.db == nil {
		return ErrNotOpened
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

	if _, err = tx.ExecContext(ctx, `DELETE FROM users WHERE base_id = ?`, baseID); err != nil {
		return fmt.Errorf("failed to clear users of %s: %w", baseID, err)
	}
	for _, u := range users {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO users (base_id, id, email, display_name) VALUES (?, ?, ?, ?)`,
			baseID, u.ID, u.Email, u.DisplayName); err != nil {
			return fmt.Errorf("failed to insert user %s: %w", u.ID, err)
		}
	}
	return tx.Commit()
}
