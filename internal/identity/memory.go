package identity

import (
	"context"
	"sync"
	"time"
)

type memChallenge struct {
	rec      ChallengeRecord
	attempts int
}

// MemoryChallenges is a process-local ChallengeStore.
type MemoryChallenges struct {
	mu   sync.Mutex
	recs map[string]*memChallenge
	now  func() time.Time
}

func NewMemoryChallenges() *MemoryChallenges {
	return &MemoryChallenges{recs: make(map[string]*memChallenge), now: time.Now}
}

func (s *MemoryChallenges) Save(_ context.Context, id string, rec ChallengeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[id] = &memChallenge{rec: rec}
	return nil
}

func (s *MemoryChallenges) Load(_ context.Context, id string) (ChallengeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.liveLocked(id)
	if !ok {
		return ChallengeRecord{}, ErrChallengeNotFound
	}
	return c.rec, nil
}

func (s *MemoryChallenges) RecordAttempt(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.liveLocked(id)
	if !ok {
		return 0, ErrChallengeNotFound
	}
	c.attempts++
	return c.attempts, nil
}

func (s *MemoryChallenges) Consume(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.recs[id]
	delete(s.recs, id)
	return ok, nil
}

func (s *MemoryChallenges) liveLocked(id string) (*memChallenge, bool) {
	c, ok := s.recs[id]
	if !ok {
		return nil, false
	}
	if !s.now().Before(c.rec.ExpiresAt) {
		delete(s.recs, id)
		return nil, false
	}
	return c, true
}

// MemoryRevocations is a process-local RevocationStore.
type MemoryRevocations struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemoryRevocations() *MemoryRevocations {
	return &MemoryRevocations{revoked: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryRevocations) Revoke(_ context.Context, tokenID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[tokenID] = until
	return nil
}

func (s *MemoryRevocations) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.revoked[tokenID]
	if !ok {
		return false, nil
	}
	if !s.now().Before(until) {
		delete(s.revoked, tokenID)
		return false, nil
	}
	return true, nil
}

type memRedirect struct {
	target  string
	expires time.Time
}

// MemoryRedirects is a process-local RedirectStore.
type MemoryRedirects struct {
	mu      sync.Mutex
	targets map[string]memRedirect
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryRedirects(ttl time.Duration) *MemoryRedirects {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MemoryRedirects{targets: make(map[string]memRedirect), ttl: ttl, now: time.Now}
}

func (s *MemoryRedirects) Remember(_ context.Context, state, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[state] = memRedirect{target: target, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *MemoryRedirects) Consume(_ context.Context, state string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.targets[state]
	delete(s.targets, state)
	if !ok || !s.now().Before(r.expires) {
		return "", false, nil
	}
	return r.target, true, nil
}
