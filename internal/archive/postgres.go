package archive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists panel transcripts in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS panel_turns (
			id TEXT PRIMARY KEY,
			external_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			speaker_id TEXT NOT NULL,
			speaker_name TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			text TEXT NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_panel_turns_external_seq ON panel_turns (external_id, seq);`,
		`CREATE TABLE IF NOT EXISTS panel_sessions (
			external_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init archive schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveTurn(ctx context.Context, record TurnRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO panel_turns (id, external_id, session_id, seq, speaker_id, speaker_name, kind, text, duration_ms, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT (id) DO NOTHING`,
		record.ID,
		record.ExternalID,
		record.SessionID,
		record.Seq,
		record.SpeakerID,
		record.SpeakerName,
		record.Kind,
		record.Text,
		record.DurationMS,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveStatus(ctx context.Context, externalID, status string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO panel_sessions (external_id, status, updated_at)
		 VALUES ($1,$2,now())
		 ON CONFLICT (external_id) DO UPDATE SET status=EXCLUDED.status, updated_at=now()`,
		externalID, status,
	)
	if err != nil {
		return fmt.Errorf("upsert session status: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentTurns(ctx context.Context, externalID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, external_id, session_id, seq, speaker_id, speaker_name, kind, text, duration_ms, created_at
		   FROM panel_turns WHERE external_id=$1 ORDER BY seq DESC LIMIT $2`,
		externalID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	out := make([]TurnRecord, 0, limit)
	for rows.Next() {
		var rec TurnRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.ExternalID,
			&rec.SessionID,
			&rec.Seq,
			&rec.SpeakerID,
			&rec.SpeakerName,
			&rec.Kind,
			&rec.Text,
			&rec.DurationMS,
			&rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}

	// Rows come newest-first; callers expect speaking order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
