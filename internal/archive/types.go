package archive

import (
	"context"
	"time"
)

// TurnRecord is one durable transcript row, keyed by the session's external
// identifier.
type TurnRecord struct {
	ID          string    `json:"id"`
	ExternalID  string    `json:"external_id"`
	SessionID   string    `json:"session_id"`
	Seq         int       `json:"seq"`
	SpeakerID   string    `json:"speaker_id"`
	SpeakerName string    `json:"speaker_name"`
	Kind        string    `json:"kind"`
	Text        string    `json:"text"`
	DurationMS  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists transcripts and session status. It is strictly downstream
// of scheduling: callers invoke it best-effort and its failures never feed
// back into scheduler state.
type Store interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
	SaveStatus(ctx context.Context, externalID, status string) error
	RecentTurns(ctx context.Context, externalID string, limit int) ([]TurnRecord, error)
	Close() error
}
