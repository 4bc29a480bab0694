package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryCounterStore: contador in-process con el mismo contrato que redis.
// Para tests y despliegues de un solo proceso.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*memCounter

	// now inyectable para tests
	now func() time.Time
}

type memCounter struct {
	count     int64
	expiresAt time.Time
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		counters: make(map[string]*memCounter),
		now:      time.Now,
	}
}

func (s *MemoryCounterStore) Touch(_ context.Context, counterKey string, cost time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c := s.counters[counterKey]
	if c == nil || !c.expiresAt.After(now) {
		// expirado ⇒ arranca de cero
		c = &memCounter{expiresAt: now}
		s.counters[counterKey] = c
	}
	c.count++
	c.expiresAt = c.expiresAt.Add(cost)
	return c.count, c.expiresAt.Sub(now), nil
}
