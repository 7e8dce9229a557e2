package archive

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is the in-process archive for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	turns    map[string][]TurnRecord
	statuses map[string]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		turns:    make(map[string][]TurnRecord),
		statuses: make(map[string]string),
	}
}

func (s *InMemoryStore) SaveTurn(_ context.Context, record TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.turns[record.ExternalID] = append(s.turns[record.ExternalID], record)
	return nil
}

func (s *InMemoryStore) SaveStatus(_ context.Context, externalID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[externalID] = status
	return nil
}

func (s *InMemoryStore) RecentTurns(_ context.Context, externalID string, limit int) ([]TurnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[externalID]
	if len(arr) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]TurnRecord, 0, limit)
	for i := len(arr) - limit; i < len(arr); i++ {
		out = append(out, arr[i])
	}
	return out, nil
}

// Status is a test hook to observe the last recorded status.
func (s *InMemoryStore) Status(externalID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statuses[externalID]
}

func (s *InMemoryStore) Close() error { return nil }
