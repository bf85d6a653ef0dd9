package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type claim struct {
	token     string
	alertID   string
	at        time.Time
	confirmed bool
}

// MemoryStore keeps claims in process. Suitable for tests and single-instance runs.
type MemoryStore struct {
	mu     sync.Mutex
	claims map[Key][]claim
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{claims: make(map[Key][]claim)}
}

func (s *MemoryStore) Claim(_ context.Context, key Key, alertID string, now, since time.Time) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := s.claims[key][:0]
	for _, c := range s.claims[key] {
		if !c.at.Before(since) {
			live = append(live, c)
		}
	}
	s.claims[key] = live
	if len(live) > 0 {
		return "", false, nil
	}

	token := uuid.NewString()
	s.claims[key] = append(live, claim{token: token, alertID: alertID, at: now})
	return token, true, nil
}

func (s *MemoryStore) Confirm(_ context.Context, key Key, token, _ string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.claims[key] {
		if s.claims[key][i].token == token {
			s.claims[key][i].confirmed = true
			s.claims[key][i].at = at
		}
	}
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key Key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.claims[key][:0]
	for _, c := range s.claims[key] {
		if c.token != token {
			kept = append(kept, c)
		}
	}
	s.claims[key] = kept
	return nil
}

func (s *MemoryStore) CountSent(_ context.Context, key Key, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.claims[key] {
		if c.confirmed && !c.at.Before(since) {
			n++
		}
	}
	return n, nil
}
