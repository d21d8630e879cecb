package tutor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/academia-ai/tutor/internal/infra/llm"
	"github.com/academia-ai/tutor/internal/infra/sqlite"
)

const storedTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLStore keeps sessions in the tutor_session and session_message tables.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SQLStore) stamp() string { return s.now().UTC().Format(storedTimeLayout) }

func (s *SQLStore) LoadSession(ctx context.Context, id string) (SessionState, error) {
	st := SessionState{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT provider, model FROM tutor_session WHERE id = ?`, id,
	).Scan(&st.Provider, &st.Model)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionState{}, ErrSessionNotFound
	}
	if err != nil {
		return SessionState{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM session_message WHERE session_id = ? ORDER BY id`, id)
	if err != nil {
		return SessionState{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var m llm.Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return SessionState{}, err
		}
		st.History = append(st.History, m)
	}
	return st, rows.Err()
}

func (s *SQLStore) CreateSession(ctx context.Context, st SessionState) error {
	now := s.stamp()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tutor_session (id, provider, model, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		st.ID, st.Provider, st.Model, now, now)
	return err
}

func (s *SQLStore) UpdateTarget(ctx context.Context, id, provider, model string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tutor_session SET provider = ?, model = ?, updated_at = ? WHERE id = ?`,
		provider, model, s.stamp(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLStore) AppendMessages(ctx context.Context, id string, msgs []llm.Message) error {
	now := s.stamp()
	return sqlite.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO session_message (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, m := range msgs {
			if _, err := stmt.ExecContext(ctx, id, m.Role, m.Content, now); err != nil {
				return fmt.Errorf("message %d: %w", i, err)
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE tutor_session SET updated_at = ? WHERE id = ?`, now, id)
		return err
	})
}

func (s *SQLStore) ClearHistory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_message WHERE session_id = ?`, id)
	return err
}
