package session

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// PGStore keeps the token mapping in Postgres. SaveAll keeps the same
// whole-store checkpoint semantics as the file backend: the table is
// rewritten in one transaction.
type PGStore struct {
	db *sqlx.DB
}

// NewPGStore wraps an established database connection.
func NewPGStore(db *sqlx.DB) *PGStore {
	return &PGStore{db: db}
}

type sessionRow struct {
	UserID int64  `db:"user_id"`
	Token  string `db:"session"`
}

// SaveAll replaces the persisted mapping with tokens.
func (s *PGStore) SaveAll(ctx context.Context, tokens map[int64]string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_sessions`); err != nil {
		return fmt.Errorf("session: clear store: %w", err)
	}
	for userID, token := range tokens {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_sessions (user_id, session, updated_at) VALUES ($1, $2, now())`,
			userID, token,
		); err != nil {
			return fmt.Errorf("session: insert %d: %w", userID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("session: commit: %w", err)
	}
	return nil
}

// LoadAll reads every persisted session token.
func (s *PGStore) LoadAll(ctx context.Context) (map[int64]string, error) {
	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT user_id, session FROM user_sessions`); err != nil {
		return nil, fmt.Errorf("session: load store: %w", err)
	}
	tokens := make(map[int64]string, len(rows))
	for _, row := range rows {
		tokens[row.UserID] = row.Token
	}
	return tokens, nil
}
