// Package cache persists smile parameter histories and template documents.
// The engine receives a Store by injection; there is no process-wide cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bcdannyboy/volsmile/calendar"
	"github.com/xhhuango/json"
)

var ErrNotFound = errors.New("cache: key not found")

// Store is a key-value store of historical series and JSON documents.
type Store interface {
	// Series returns a snapshot of the series stored under key.
	Series(ctx context.Context, key string) (*Series, error)
	// Append records value at the given time, replacing any value already
	// stored for that exact time.
	Append(ctx context.Context, key string, at time.Time, value float64) error
	// Load decodes the document stored under key into dst.
	Load(ctx context.Context, key string, dst any) error
	Save(ctx context.Context, key string, v any) error
	// GetOrInit loads the document under key into dst, storing the value
	// returned by init first if the key is missing. The read and the
	// possible write happen under one lock.
	GetOrInit(ctx context.Context, key string, dst any, init func() (any, error)) error
}

// Key identifies the cached state of one smile.
func Key(symbol string, expiry time.Time, model calendar.Model, rescaled bool) string {
	return fmt.Sprintf("%s:%s:%s:%t", symbol, expiry.Format("2006-01-02"), model, rescaled)
}

// Point is one observation of a series.
type Point struct {
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

// Series is an immutable, time-ordered snapshot. Stores hand out copies, so
// a Series can be read while the store keeps appending.
type Series struct {
	points []Point
}

// NewSeries sorts points by time; for equal times the later entry wins.
func NewSeries(points ...Point) *Series {
	ps := append([]Point(nil), points...)
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].At.Before(ps[j].At) })
	out := ps[:0]
	for _, p := range ps {
		if n := len(out); n > 0 && out[n-1].At.Equal(p.At) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	return &Series{points: out}
}

func (s *Series) Len() int { return len(s.points) }

func (s *Series) Points() []Point { return append([]Point(nil), s.points...) }

func (s *Series) Last() (Point, bool) {
	if len(s.points) == 0 {
		return Point{}, false
	}
	return s.points[len(s.points)-1], true
}

// At repeats the last value known at or before t.
func (s *Series) At(t time.Time) (float64, bool) {
	i := sort.Search(len(s.points), func(i int) bool { return s.points[i].At.After(t) })
	if i == 0 {
		return 0, false
	}
	return s.points[i-1].Value, true
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return data, nil
}

func decode(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return nil
}
