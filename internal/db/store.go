package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"empathy/internal/domain"
)

var ErrSessionNotFound = errors.New("session not found")

// Store is the Postgres turn archive.
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_turn_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
			turn_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			emotion TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session_id ON turns(session_id, id);`,
	}
	for _, q := range queries {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// AppendTurns writes a committed turn pair in one transaction.
func (s *Store) AppendTurns(ctx context.Context, sessionID, turnID string, turns []domain.Turn) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO sessions(session_id)
		VALUES ($1)
		ON CONFLICT (session_id)
		DO UPDATE SET last_turn_at=NOW();
	`, sessionID); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, t := range turns {
		batch.Queue(`
			INSERT INTO turns(session_id, turn_id, role, content, emotion, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, sessionID, turnID, string(t.Role), t.Text, string(t.Emotion), t.At)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RecentTurns returns the newest limit turns, oldest first.
func (s *Store) RecentTurns(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT role, content, emotion, created_at
		FROM (
			SELECT id, role, content, emotion, created_at
			FROM turns
			WHERE session_id=$1
			ORDER BY id DESC
			LIMIT $2
		) t
		ORDER BY id ASC
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	turns := make([]domain.Turn, 0, limit)
	for rows.Next() {
		var role, emotion string
		var t domain.Turn
		if err := rows.Scan(&role, &t.Text, &emotion, &t.At); err != nil {
			return nil, err
		}
		t.Role = domain.Role(role)
		t.Emotion = domain.Emotion(emotion)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return turns, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE session_id=$1`, sessionID)
	return err
}

// SessionTurnCount reports how many turns are archived for a session.
func (s *Store) SessionTurnCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(t.id)
		FROM sessions s LEFT JOIN turns t ON t.session_id = s.session_id
		WHERE s.session_id=$1
		GROUP BY s.session_id
	`, sessionID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrSessionNotFound
	}
	return n, err
}
