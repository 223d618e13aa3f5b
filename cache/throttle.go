package cache

import (
	"context"
	"sync"
	"time"
)

// Throttled forwards the first append of every key and then every N-th one.
// Everything else passes straight through to the wrapped store.
type Throttled struct {
	Store
	every int

	mu     sync.Mutex
	counts map[string]int
}

func NewThrottled(s Store, every int) *Throttled {
	return &Throttled{Store: s, every: every, counts: make(map[string]int)}
}

func (t *Throttled) Append(ctx context.Context, key string, at time.Time, value float64) error {
	if t.every <= 1 {
		return t.Store.Append(ctx, key, at, value)
	}

	t.mu.Lock()
	n := t.counts[key]
	t.counts[key] = n + 1
	t.mu.Unlock()

	if n%t.every != 0 {
		return nil
	}
	return t.Store.Append(ctx, key, at, value)
}
