package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store guarded by a reader-writer lock.
type Memory struct {
	mu     sync.RWMutex
	series map[string][]Point
	docs   map[string][]byte

	initMu sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{
		series: make(map[string][]Point),
		docs:   make(map[string][]byte),
	}
}

func (m *Memory) Series(_ context.Context, key string) (*Series, error) {
	m.mu.RLock()
	points, ok := m.series[key]
	snapshot := append([]Point(nil), points...)
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &Series{points: snapshot}, nil
}

func (m *Memory) Append(_ context.Context, key string, at time.Time, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	points := m.series[key]
	i := sort.Search(len(points), func(i int) bool { return !points[i].At.Before(at) })
	switch {
	case i < len(points) && points[i].At.Equal(at):
		points[i].Value = value
	case i == len(points):
		points = append(points, Point{At: at, Value: value})
	default:
		points = append(points, Point{})
		copy(points[i+1:], points[i:])
		points[i] = Point{At: at, Value: value}
	}
	m.series[key] = points
	return nil
}

func (m *Memory) Load(_ context.Context, key string, dst any) error {
	m.mu.RLock()
	data, ok := m.docs[key]
	m.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return decode(data, dst)
}

func (m *Memory) Save(_ context.Context, key string, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.docs[key] = data
	m.mu.Unlock()
	return nil
}

func (m *Memory) GetOrInit(ctx context.Context, key string, dst any, init func() (any, error)) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	err := m.Load(ctx, key, dst)
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	v, err := init()
	if err != nil {
		return err
	}
	if err := m.Save(ctx, key, v); err != nil {
		return err
	}
	return m.Load(ctx, key, dst)
}
