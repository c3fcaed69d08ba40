package quota

import (
	"context"
	"sync"
	"time"
)

type dayKey struct {
	userID string
	day    string
}

// MemoryStore keeps counters in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	data map[dayKey]int
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[dayKey]int)}
}

// Consume increments the counter when it is below limit.
func (s *MemoryStore) Consume(ctx context.Context, userID string, day time.Time, limit int) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	key := dayKey{userID: userID, day: day.UTC().Format(time.DateOnly)}

	s.mu.Lock()
	defer s.mu.Unlock()
	count := s.data[key]
	if count >= limit {
		return Outcome{Applied: false, Count: count}, nil
	}
	count++
	s.data[key] = count
	return Outcome{Applied: true, Count: count}, nil
}

// Count returns the counter for the day.
func (s *MemoryStore) Count(ctx context.Context, userID string, day time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[dayKey{userID: userID, day: day.UTC().Format(time.DateOnly)}], nil
}

var _ Store = (*MemoryStore)(nil)
