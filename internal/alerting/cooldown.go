package alerting

import (
	"context"
	"strings"
	"sync"
	"time"
)

// CooldownStore records when a (rule, suppression key) pair may fire again.
//
// Acquire is an atomic check-and-set: it returns true and records an entry
// expiring at at+ttl when no unexpired entry exists, and false otherwise.
type CooldownStore interface {
	Acquire(ctx context.Context, key string, ttl time.Duration, at time.Time) (bool, error)
}

// CooldownKey builds the store key for a rule and suppression key.
func CooldownKey(ruleID, suppressionKey string) string {
	return "cooldown:" + ruleID + ":" + suppressionKey
}

// MemoryCooldownStore is a process-local CooldownStore. Entries are lost on
// restart, which only causes a burst of duplicate alerts.
type MemoryCooldownStore struct {
	mu        sync.Mutex
	cooldowns map[string]cooldownEntry
	now       func() time.Time
}

// cooldownEntry expires in event time but is swept in local time, so a
// camera whose clock lags the server keeps its suppression for the full ttl.
type cooldownEntry struct {
	expiresAt time.Time
	sweepAt   time.Time
}

// NewMemoryCooldownStore creates an empty in-memory cooldown store.
func NewMemoryCooldownStore() *MemoryCooldownStore {
	return newMemoryCooldownStore(time.Now)
}

func newMemoryCooldownStore(now func() time.Time) *MemoryCooldownStore {
	return &MemoryCooldownStore{
		cooldowns: make(map[string]cooldownEntry),
		now:       now,
	}
}

// Acquire implements CooldownStore.
func (s *MemoryCooldownStore) Acquire(_ context.Context, key string, ttl time.Duration, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.cooldowns[key]; ok && at.Before(e.expiresAt) {
		return false, nil
	}
	s.cooldowns[key] = cooldownEntry{
		expiresAt: at.Add(ttl),
		sweepAt:   s.now().Add(ttl),
	}
	return true, nil
}

// Remaining returns the time left on a key's cooldown.
func (s *MemoryCooldownStore) Remaining(key string, now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.cooldowns[key]
	if !ok {
		return 0
	}
	if remaining := e.expiresAt.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}

// Clear removes every cooldown belonging to a rule.
func (s *MemoryCooldownStore) Clear(ruleID string) {
	prefix := CooldownKey(ruleID, "")

	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.cooldowns {
		if strings.HasPrefix(key, prefix) {
			delete(s.cooldowns, key)
		}
	}
}

// Len returns the number of tracked entries, expired or not.
func (s *MemoryCooldownStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cooldowns)
}

// Sweep drops entries whose ttl has elapsed on the local clock by now.
func (s *MemoryCooldownStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.cooldowns {
		if !now.Before(e.sweepAt) {
			delete(s.cooldowns, key)
			removed++
		}
	}
	return removed
}

// Run sweeps expired entries every interval until ctx is done.
func (s *MemoryCooldownStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}
