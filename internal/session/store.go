package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrExists   = errors.New("session already exists")
)

// Store is the in-memory registry of live sessions. It owns lookup and
// lifetime only; all business mutation happens through the scheduler while
// holding the individual session's lock.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	retention time.Duration
}

// NewStore creates a store. Ended sessions are retained for the given grace
// period before the janitor removes them, so late status queries still
// resolve.
func NewStore(retention time.Duration) *Store {
	if retention <= 0 {
		retention = time.Minute
	}
	return &Store{
		sessions:  make(map[string]*Session),
		retention: retention,
	}
}

// Create registers a new session in the prepared state. The identifier is
// externally supplied and must be unique.
func (st *Store) Create(id, topic, externalID string, budget Budget) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; ok {
		return nil, ErrExists
	}
	s := &Session{
		ID:         id,
		Topic:      topic,
		ExternalID: externalID,
		Status:     StatusPrepared,
		Budget:     budget,
		CreatedAt:  time.Now().UTC(),
	}
	st.sessions[id] = s
	return s, nil
}

func (st *Store) Get(id string) (*Session, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete removes a session. Idempotent.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// List returns snapshots of all tracked sessions.
func (st *Store) List() []Snapshot {
	st.mu.RLock()
	live := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		live = append(live, s)
	}
	st.mu.RUnlock()

	out := make([]Snapshot, 0, len(live))
	for _, s := range live {
		out = append(out, s.Snapshot())
	}
	return out
}

func (st *Store) ActiveCount() int {
	st.mu.RLock()
	live := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		live = append(live, s)
	}
	st.mu.RUnlock()

	count := 0
	for _, s := range live {
		if s.Snapshot().Status == StatusActive {
			count++
		}
	}
	return count
}

// StartJanitor sweeps ended sessions whose grace period has elapsed.
func (st *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				st.sweepEnded()
			}
		}
	}()
}

func (st *Store) sweepEnded() {
	now := time.Now().UTC()

	st.mu.RLock()
	live := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		live = append(live, s)
	}
	st.mu.RUnlock()

	var expired []string
	for _, s := range live {
		s.Lock()
		done := (s.Status == StatusEnded || s.Status == StatusError) &&
			!s.EndedAt.IsZero() && now.Sub(s.EndedAt) >= st.retention
		s.Unlock()
		if done {
			expired = append(expired, s.ID)
		}
	}

	if len(expired) == 0 {
		return
	}
	st.mu.Lock()
	for _, id := range expired {
		delete(st.sessions, id)
	}
	st.mu.Unlock()
}
