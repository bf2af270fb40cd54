package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"droc_go/internal/infra"
)

func TestPollerUpdatesCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ref := r.URL.Query().Get("ref")
		fmt.Fprintf(w, `{"ref":%q,"price":"1000.50"}`, ref)
	}))
	defer srv.Close()

	cache := NewCache(time.Minute)
	p := NewPoller(PollerConfig{URL: srv.URL, Refs: []string{"SOL-USDC", "ETH-USDC"}, Precision: 2}, cache, nil, nil)
	p.PollOnce(context.Background())

	for _, ref := range []string{"SOL-USDC", "ETH-USDC"} {
		price, err := cache.Price(context.Background(), ref)
		if err != nil || price != 100050 {
			t.Errorf("%s: %d, %v", ref, price, err)
		}
	}
}

func TestPollerRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"price":"42"}`))
	}))
	defer srv.Close()

	cache := NewCache(0)
	p := NewPoller(PollerConfig{
		URL:     srv.URL,
		Refs:    []string{"X"},
		Backoff: infra.Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond},
	}, cache, nil, nil)
	p.PollOnce(context.Background())

	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if price, err := cache.Price(context.Background(), "X"); err != nil || price != 42 {
		t.Errorf("price = %d, %v", price, err)
	}
}

func TestPollerDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	m := &infra.Metrics{}
	p := NewPoller(PollerConfig{
		URL:     srv.URL,
		Refs:    []string{"X"},
		Backoff: infra.Backoff{Base: time.Millisecond, Max: time.Millisecond},
	}, NewCache(0), m, nil)
	p.PollOnce(context.Background())

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if m.Snapshot().OracleFailures != 1 {
		t.Errorf("oracle failures = %d", m.Snapshot().OracleFailures)
	}
}
