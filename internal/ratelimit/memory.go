package ratelimit

import (
	"context"
	"sync"
	"time"
)

type counter struct {
	count     int64
	expiresAt time.Time
}

// Memory is an in-process Limiter. Counters for past windows are evicted
// by a background sweep until Close is called.
type Memory struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time

	stop chan struct{}
	once sync.Once
}

// NewMemory creates an in-memory limiter that sweeps expired counters every
// cleanupInterval.
func NewMemory(cleanupInterval time.Duration) *Memory {
	m := newMemory(time.Now)
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	go m.cleanupLoop(cleanupInterval)
	return m
}

func newMemory(now func() time.Time) *Memory {
	return &Memory{
		counters: make(map[string]*counter),
		now:      now,
		stop:     make(chan struct{}),
	}
}

// Allow increments the counter for clientID in the current window.
func (m *Memory) Allow(_ context.Context, clientID string, max int, window time.Duration) (Result, error) {
	now := m.now()
	key := Key(clientID, now, window)

	m.mu.Lock()
	c, ok := m.counters[key]
	if !ok || !now.Before(c.expiresAt) {
		c = &counter{expiresAt: now.Add(window)}
		m.counters[key] = c
	}
	c.count++
	count := c.count
	m.mu.Unlock()

	return result(count, max, window), nil
}

// Len returns the number of live counters.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counters)
}

// Close stops the cleanup goroutine.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.stop) })
	return nil
}

func (m *Memory) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

// cleanup removes expired counters.
func (m *Memory) cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, c := range m.counters {
		if !now.Before(c.expiresAt) {
			delete(m.counters, key)
			removed++
		}
	}
	return removed
}
