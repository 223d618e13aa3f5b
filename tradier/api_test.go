package tradier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const chainJSON = `{"options":{"option":[
 {"symbol":"SPY240621P00095000","strike":95,"option_type":"put","bid":1.1,"ask":1.2,"bidsize":10,"asksize":12,"bid_date":1710000000000,"ask_date":1710000001000},
 {"symbol":"SPY240621C00095000","strike":95,"option_type":"call","bid":6.1,"ask":6.3,"bidsize":5,"asksize":7},
 {"symbol":"SPY240621C00100000","strike":100,"option_type":"call","bid":3.0,"ask":3.2},
 {"symbol":"SPY240621P00090000","strike":90,"option_type":"put","bid":0,"ask":0.55}
]}}`

func testServer(t *testing.T) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/markets/quotes", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Query().Get("symbols") != "SPY" {
			http.Error(w, "unknown symbol", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"quotes":{"quote":{"symbol":"SPY","last":100.5,"bid":100.4,"ask":100.6}}}`))
	})
	mux.HandleFunc("/v1/markets/options/expirations", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"expirations":{"expiration":[{"date":"2024-06-21"},{"date":"2024-05-17"}]}}`))
	})
	mux.HandleFunc("/v1/markets/options/chains", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("expiration") != "2024-06-21" {
			w.Write([]byte(`{"options":null}`))
			return
		}
		w.Write([]byte(chainJSON))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient("secret")
	c.BaseURL = srv.URL
	c.Location = time.UTC
	return c
}

func TestUnderlying(t *testing.T) {
	c := testServer(t)
	price, err := c.Underlying(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("Underlying: %v", err)
	}
	if price != 100.5 {
		t.Errorf("price = %v, want 100.5", price)
	}
	if _, err := c.Underlying(context.Background(), "QQQ"); err == nil {
		t.Error("expected an error for a non-200 response")
	}
}

func TestExpirations(t *testing.T) {
	c := testServer(t)
	exps, err := c.Expirations(context.Background(), "SPY")
	if err != nil {
		t.Fatalf("Expirations: %v", err)
	}
	want := []time.Time{
		time.Date(2024, 5, 17, 16, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 21, 16, 0, 0, 0, time.UTC),
	}
	if len(exps) != len(want) {
		t.Fatalf("got %v, want %v", exps, want)
	}
	for i := range want {
		if !exps[i].Equal(want[i]) {
			t.Errorf("expiration %d = %v, want %v", i, exps[i], want[i])
		}
	}
}

func TestStrikeQuotes(t *testing.T) {
	c := testServer(t)
	expiry := time.Date(2024, 6, 21, 16, 0, 0, 0, time.UTC)
	quotes, err := c.StrikeQuotes(context.Background(), "SPY", expiry)
	if err != nil {
		t.Fatalf("StrikeQuotes: %v", err)
	}
	if len(quotes) != 3 {
		t.Fatalf("got %d strikes, want 3", len(quotes))
	}
	if quotes[0].Strike != 90 || quotes[1].Strike != 95 || quotes[2].Strike != 100 {
		t.Errorf("strikes not sorted: %+v", quotes)
	}

	k90 := quotes[0]
	if k90.Put.HasBid() || !k90.Put.HasAsk() || k90.Call.HasAsk() {
		t.Errorf("90 strike = %+v", k90)
	}

	k95 := quotes[1]
	if k95.Put.Bid != 1.1 || k95.Put.AskSize != 12 || k95.Call.Ask != 6.3 {
		t.Errorf("95 strike = %+v", k95)
	}
	if want := time.UnixMilli(1710000001000).UTC(); !k95.Put.LastUpdate().Equal(want) {
		t.Errorf("LastUpdate = %v, want %v", k95.Put.LastUpdate(), want)
	}
	if !k95.Call.BidTime.IsZero() {
		t.Errorf("missing bid_date must stay zero, got %v", k95.Call.BidTime)
	}

	empty, err := c.StrikeQuotes(context.Background(), "SPY", expiry.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("StrikeQuotes: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no strikes, got %+v", empty)
	}
}

func TestContextCancelled(t *testing.T) {
	c := testServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.GetQuote(ctx, "SPY"); err == nil {
		t.Error("expected an error for a cancelled context")
	}
}
