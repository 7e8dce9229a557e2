package session

import (
	"sync"
	"time"
)

type Status string

const (
	StatusPrepared Status = "prepared"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusEnded    Status = "ended"
	StatusError    Status = "error"
)

type TurnKind string

const (
	TurnPersona TurnKind = "persona"
	TurnUser    TurnKind = "user"
)

// UserSpeakerID is the sentinel speaker identifier for audience turns.
const UserSpeakerID = "user"

// Turn is one atomic transcript contribution. Entries are append-only and
// never mutated or reordered; Seq is monotonic within a session.
type Turn struct {
	Seq         int           `json:"seq"`
	SpeakerID   string        `json:"speaker_id"`
	SpeakerName string        `json:"speaker_name"`
	Kind        TurnKind      `json:"kind"`
	Text        string        `json:"text"`
	Duration    time.Duration `json:"-"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Budget bounds a session's lifetime by wall clock and turn count. Fixed at
// creation.
type Budget struct {
	MaxDuration time.Duration `json:"max_duration"`
	MaxTurns    int           `json:"max_turns"`
}

// Session is one live panel discussion. The embedded mutex serializes all
// mutation: the scheduler holds it for the whole of a turn production,
// including the generation and synthesis calls, so lifecycle requests
// arriving mid-production wait for the in-flight attempt to finish.
type Session struct {
	sync.Mutex

	ID    string
	Topic string
	// ExternalID correlates the session with a durable transcript record.
	// Opaque here; passed through to the archive, never interpreted.
	ExternalID string

	Status        Status
	Budget        Budget
	Transcript    []Turn
	LastSpeakerID string
	TurnCount     int

	CreatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time

	timer    *time.Timer
	timerGen uint64
}

// ArmTimer schedules fn and cancels any previously pending timer, preserving
// the at-most-one-pending-timer invariant. The caller must hold the session
// lock; fn runs with the lock held and only if the timer is still current
// when it fires.
func (s *Session) ArmTimer(d time.Duration, fn func()) {
	s.cancelTimerLocked()
	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(d, func() {
		s.Lock()
		defer s.Unlock()
		if s.timerGen != gen || s.timer == nil {
			return
		}
		s.timer = nil
		fn()
	})
}

// CancelTimer stops the pending timer if any. Idempotent: cancelling an
// already-fired or already-cancelled timer is a no-op. The caller must hold
// the session lock.
func (s *Session) CancelTimer() {
	s.cancelTimerLocked()
}

func (s *Session) cancelTimerLocked() {
	s.timerGen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// TimerPending reports whether a production timer is armed. The caller must
// hold the session lock.
func (s *Session) TimerPending() bool {
	return s.timer != nil
}

// Append records a turn and returns it with its sequence number assigned.
// The caller must hold the session lock.
func (s *Session) Append(speakerID, speakerName string, kind TurnKind, text string, d time.Duration) Turn {
	t := Turn{
		Seq:         len(s.Transcript) + 1,
		SpeakerID:   speakerID,
		SpeakerName: speakerName,
		Kind:        kind,
		Text:        text,
		Duration:    d,
		CreatedAt:   time.Now().UTC(),
	}
	s.Transcript = append(s.Transcript, t)
	s.TurnCount++
	s.LastSpeakerID = speakerID
	return t
}

// RecentWindow returns up to limit of the most recent transcript entries.
// The caller must hold the session lock.
func (s *Session) RecentWindow(limit int) []Turn {
	if limit <= 0 || len(s.Transcript) == 0 {
		return nil
	}
	start := len(s.Transcript) - limit
	if start < 0 {
		start = 0
	}
	out := make([]Turn, len(s.Transcript)-start)
	copy(out, s.Transcript[start:])
	return out
}

// Elapsed reports time since the session became active. Zero before start.
// The caller must hold the session lock.
func (s *Session) Elapsed(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return now.Sub(s.StartedAt)
}

// BudgetExhausted reports whether either ceiling has been reached. The caller
// must hold the session lock.
func (s *Session) BudgetExhausted(now time.Time) bool {
	if s.TurnCount >= s.Budget.MaxTurns {
		return true
	}
	if !s.StartedAt.IsZero() && s.Elapsed(now) >= s.Budget.MaxDuration {
		return true
	}
	return false
}

// Snapshot is an immutable view of a session for status queries and events.
type Snapshot struct {
	ID            string    `json:"session_id"`
	Topic         string    `json:"topic"`
	ExternalID    string    `json:"external_id,omitempty"`
	Status        Status    `json:"status"`
	TurnCount     int       `json:"turn_count"`
	MaxTurns      int       `json:"max_turns"`
	MaxDurationMS int64     `json:"max_duration_ms"`
	ElapsedMS     int64     `json:"elapsed_ms"`
	LastSpeakerID string    `json:"last_speaker_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// SnapshotLocked builds a snapshot. The caller must hold the session lock.
func (s *Session) SnapshotLocked() Snapshot {
	return Snapshot{
		ID:            s.ID,
		Topic:         s.Topic,
		ExternalID:    s.ExternalID,
		Status:        s.Status,
		TurnCount:     s.TurnCount,
		MaxTurns:      s.Budget.MaxTurns,
		MaxDurationMS: s.Budget.MaxDuration.Milliseconds(),
		ElapsedMS:     s.Elapsed(time.Now().UTC()).Milliseconds(),
		LastSpeakerID: s.LastSpeakerID,
		CreatedAt:     s.CreatedAt,
	}
}

// Snapshot acquires the session lock and builds a snapshot.
func (s *Session) Snapshot() Snapshot {
	s.Lock()
	defer s.Unlock()
	return s.SnapshotLocked()
}
