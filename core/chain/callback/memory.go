package callback

import (
	"context"
	"sync"

	"github.com/m3rciful/chainbot/core/metrics"
)

type storedContent struct {
	userID  int64
	payload string
}

// MemoryStore is an in-process Store. Contents do not survive restarts.
// References come from one counter shared by all users.
type MemoryStore struct {
	mu         sync.Mutex
	maxPerUser int
	last       int64
	entries    map[int64]storedContent
	// order holds each user's live references, oldest first.
	order map[int64][]int64
}

// NewMemoryStore returns a store keeping at most maxPerUser payloads per user;
// a negative value disables the cap and zero is raised to one.
func NewMemoryStore(maxPerUser int) *MemoryStore {
	return &MemoryStore{
		maxPerUser: normalizeCap(maxPerUser),
		entries:    make(map[int64]storedContent),
		order:      make(map[int64][]int64),
	}
}

func (s *MemoryStore) Put(_ context.Context, userID int64, payload string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last++
	ref := s.last
	s.entries[ref] = storedContent{userID: userID, payload: payload}
	refs := append(s.order[userID], ref)

	evicted := 0
	if s.maxPerUser >= 0 {
		for len(refs) > s.maxPerUser {
			delete(s.entries, refs[0])
			refs = refs[1:]
			evicted++
		}
	}
	s.order[userID] = refs
	if evicted > 0 {
		metrics.CallbackEvictions.Add(float64(evicted))
	}
	return ref, nil
}

// Get returns the payload only when ref belongs to userID.
func (s *MemoryStore) Get(_ context.Context, userID, ref int64) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[ref]
	if !ok || e.userID != userID {
		return "", false, nil
	}
	return e.payload, true, nil
}

// Len reports how many payloads are stored for userID.
func (s *MemoryStore) Len(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order[userID])
}
