package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bcdannyboy/volsmile/calendar"
	"github.com/redis/go-redis/v9"
)

type doc struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

func stores(t *testing.T) map[string]Store {
	t.Helper()

	lite, err := NewSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { lite.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"sqlite": lite,
		"redis":  NewRedis(client, "test:", 0),
	}
}

func TestKey(t *testing.T) {
	expiry := time.Date(2024, 3, 15, 16, 0, 0, 0, time.UTC)
	got := Key("SPY", expiry, calendar.TradingTime, true)
	want := "SPY:2024-03-15:" + calendar.TradingTime.String() + ":true"
	if got != want {
		t.Errorf("Key = %q, want %q", got, want)
	}
}

func TestSeriesAt(t *testing.T) {
	t0 := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	s := NewSeries(
		Point{At: t0.Add(2 * time.Hour), Value: 3},
		Point{At: t0, Value: 1},
		Point{At: t0.Add(time.Hour), Value: 2},
		Point{At: t0.Add(time.Hour), Value: 2.5},
	)

	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
	tests := []struct {
		at     time.Time
		want   float64
		wantOK bool
	}{
		{t0.Add(-time.Minute), 0, false},
		{t0, 1, true},
		{t0.Add(90 * time.Minute), 2.5, true},
		{t0.Add(48 * time.Hour), 3, true},
	}
	for _, tt := range tests {
		got, ok := s.At(tt.at)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("At(%v) = %v, %v; want %v, %v", tt.at, got, ok, tt.want, tt.wantOK)
		}
	}
	if last, _ := s.Last(); last.Value != 3 {
		t.Errorf("Last = %v, want 3", last.Value)
	}
}

func TestStores(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := store.Series(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Series(missing) err = %v, want ErrNotFound", err)
			}
			var d doc
			if err := store.Load(ctx, "missing", &d); !errors.Is(err, ErrNotFound) {
				t.Errorf("Load(missing) err = %v, want ErrNotFound", err)
			}

			for i, v := range []float64{0.2, 0.25, 0.3} {
				if err := store.Append(ctx, "atm", t0.Add(time.Duration(2-i)*time.Hour), v); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}
			if err := store.Append(ctx, "atm", t0, 0.35); err != nil {
				t.Fatalf("Append overwrite: %v", err)
			}

			s, err := store.Series(ctx, "atm")
			if err != nil {
				t.Fatalf("Series: %v", err)
			}
			points := s.Points()
			if len(points) != 3 {
				t.Fatalf("got %d points, want 3", len(points))
			}
			want := []float64{0.35, 0.25, 0.2}
			for i, p := range points {
				if p.Value != want[i] {
					t.Errorf("point %d = %v, want %v", i, p.Value, want[i])
				}
				if i > 0 && !p.At.After(points[i-1].At) {
					t.Errorf("points not ordered at %d", i)
				}
			}

			in := doc{Name: "template", Values: []float64{1, 1.1, 1.2}}
			if err := store.Save(ctx, "doc", in); err != nil {
				t.Fatalf("Save: %v", err)
			}
			var out doc
			if err := store.Load(ctx, "doc", &out); err != nil {
				t.Fatalf("Load: %v", err)
			}
			if out.Name != in.Name || len(out.Values) != len(in.Values) {
				t.Errorf("Load = %+v, want %+v", out, in)
			}
		})
	}
}

func TestGetOrInitSeedsOnce(t *testing.T) {
	ctx := context.Background()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var (
				mu    sync.Mutex
				calls int
				wg    sync.WaitGroup
			)
			results := make([]doc, 8)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					err := store.GetOrInit(ctx, "seeded", &results[i], func() (any, error) {
						mu.Lock()
						calls++
						n := calls
						mu.Unlock()
						return doc{Name: fmt.Sprintf("seed-%d", n)}, nil
					})
					if err != nil {
						t.Errorf("GetOrInit: %v", err)
					}
				}(i)
			}
			wg.Wait()

			if calls != 1 {
				t.Errorf("init called %d times, want 1", calls)
			}
			for i, r := range results {
				if r.Name != "seed-1" {
					t.Errorf("result %d = %q, want seed-1", i, r.Name)
				}
			}
		})
	}
}

func TestGetOrInitPropagatesInitError(t *testing.T) {
	store := NewMemory()
	boom := errors.New("boom")
	var d doc
	err := store.GetOrInit(context.Background(), "k", &d, func() (any, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if err := store.Load(context.Background(), "k", &d); !errors.Is(err, ErrNotFound) {
		t.Errorf("failed init must not store a document, got %v", err)
	}
}

func TestMemorySeriesIsSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	t0 := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	store.Append(ctx, "k", t0, 1)

	s, err := store.Series(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 100; i++ {
			store.Append(ctx, "k", t0.Add(time.Duration(i)*time.Minute), float64(i))
		}
	}()
	for i := 0; i < 100; i++ {
		if v, ok := s.At(t0.Add(time.Hour)); !ok || v != 1 {
			t.Fatalf("snapshot changed: %v %v", v, ok)
		}
	}
	wg.Wait()

	if s.Len() != 1 {
		t.Errorf("snapshot Len = %d, want 1", s.Len())
	}
}

func TestThrottled(t *testing.T) {
	ctx := context.Background()
	inner := NewMemory()
	store := NewThrottled(inner, 3)
	t0 := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		if err := store.Append(ctx, "k", t0.Add(time.Duration(i)*time.Minute), float64(i)); err != nil {
			t.Fatal(err)
		}
	}
	store.Append(ctx, "other", t0, 42)

	s, err := inner.Series(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	var got []float64
	for _, p := range s.Points() {
		got = append(got, p.Value)
	}
	want := []float64{0, 3, 6}
	if len(got) != len(want) {
		t.Fatalf("forwarded %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("forwarded %v, want %v", got, want)
			break
		}
	}
	if _, err := inner.Series(ctx, "other"); err != nil {
		t.Errorf("first append of a new key must be forwarded: %v", err)
	}
}
