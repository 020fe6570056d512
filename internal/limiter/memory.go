package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	budget       *rate.Limiter
	blockedUntil time.Time
}

// Memory is an in-process limiter: each key gets a token bucket of maxFails
// failures refilled over window; an empty bucket blocks the key for blockFor.
type Memory struct {
	mu       sync.Mutex
	keys     map[string]*entry
	every    rate.Limit
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

// NewMemory constructs an in-memory limiter.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	if maxFails <= 0 {
		maxFails = 5
	}
	return &Memory{
		keys:     map[string]*entry{},
		every:    rate.Every(window / time.Duration(maxFails)),
		maxFails: maxFails,
		blockFor: blockFor,
		now:      time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.keys[key]
	if !ok {
		return true, 0, nil
	}
	if now := m.now(); e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

func (m *Memory) Success(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.keys, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Failure(_ context.Context, key string) (bool, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	e, ok := m.keys[key]
	if !ok {
		e = &entry{budget: rate.NewLimiter(m.every, m.maxFails)}
		m.keys[key] = e
	}
	e.budget.AllowN(now, 1)
	if e.budget.TokensAt(now) >= 1 {
		return false, 0, nil
	}
	e.blockedUntil = now.Add(m.blockFor)
	return true, m.blockFor, nil
}

// Prune drops keys whose block expired and whose budget refilled.
func (m *Memory) Prune(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var n int64
	for k, e := range m.keys {
		if !e.blockedUntil.After(now) && e.budget.TokensAt(now) >= float64(m.maxFails) {
			delete(m.keys, k)
			n++
		}
	}
	return n, nil
}
