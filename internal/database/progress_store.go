package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ProgressStore keeps one encoded progress document per learner in SQL.
type ProgressStore struct {
	db      *sql.DB
	dialect string
}

func NewProgressStore(db *sql.DB, dialect string) *ProgressStore {
	return &ProgressStore{db: db, dialect: dialect}
}

// Load returns nil data when the learner has no row yet.
func (s *ProgressStore) Load(ctx context.Context, userID int64) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT data FROM user_progress WHERE user_id = ?`), userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load progress for user %d: %w", userID, err)
	}
	return data, nil
}

// Save replaces the learner's document.
func (s *ProgressStore) Save(ctx context.Context, userID int64, data []byte) error {
	query := `INSERT INTO user_progress (user_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`
	now := time.Now().UTC()
	var updatedAt interface{} = now
	if s.dialect == SQLite {
		updatedAt = now.Format(time.RFC3339)
	}
	if _, err := s.db.ExecContext(ctx, s.rebind(query), userID, string(data), updatedAt); err != nil {
		return fmt.Errorf("save progress for user %d: %w", userID, err)
	}
	return nil
}

// UserIDs lists every learner with a stored document.
func (s *ProgressStore) UserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM user_progress ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// rebind turns ? placeholders into $n for postgres.
func (s *ProgressStore) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, fmt.Sprintf("$%d", n)...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}
