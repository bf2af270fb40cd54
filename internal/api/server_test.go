package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"droc_go/internal/clock"
	"droc_go/internal/domain"
	"droc_go/internal/infra"
	"droc_go/internal/lifecycle"
	"droc_go/internal/oracle"
	"droc_go/internal/pricing"
	"droc_go/internal/store"
	"droc_go/internal/token"
	"droc_go/pkg/quant"
)

type testServer struct {
	ctl   *lifecycle.Controller
	clock *clock.Manual
	book  *token.Book
	h     http.Handler
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	ctx := context.Background()
	ts := &testServer{clock: clock.NewManual(100), book: token.NewBook()}

	if err := ts.book.OpenAccount(ctx, "rewards:pool", "engine"); err != nil {
		t.Fatal(err)
	}
	if err := ts.book.Mint("rewards:pool", 1_000_000_000); err != nil {
		t.Fatal(err)
	}
	if err := ts.book.Mint("maker-1", 100_000_000); err != nil {
		t.Fatal(err)
	}

	pe, err := pricing.New(pricing.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	ts.ctl, err = lifecycle.New(lifecycle.DefaultConfig(), lifecycle.Deps{
		Repo:    store.NewMemory(),
		Tokens:  ts.book,
		Pricing: pe,
		Oracle:  oracle.NewStatic(map[string]quant.Ticks{"SOL-USDC": 1000}),
		Clock:   ts.clock,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ts.ctl.InitializeVault(ctx, "main", "engine"); err != nil {
		t.Fatal(err)
	}

	if opts.Metrics == nil {
		opts.Metrics = &infra.Metrics{}
	}
	ts.h = NewRouter(ts.ctl, opts)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.h.ServeHTTP(rec, req)

	out := map[string]interface{}{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func errorCode(body map[string]interface{}) string {
	e, _ := body["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}

func (ts *testServer) createMarket(t *testing.T) {
	t.Helper()
	rec, _ := ts.do(t, http.MethodPost, "/v1/markets", map[string]string{
		"market_id": "SOL-USDC", "base_asset": "SOL", "quote_asset": "USDC", "oracle": "SOL-USDC",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create market status = %d: %s", rec.Code, rec.Body.String())
	}
}

func (ts *testServer) submit(t *testing.T, jit bool) string {
	t.Helper()
	rec, body := ts.do(t, http.MethodPost, "/v1/drocs", map[string]interface{}{
		"maker": "maker-1", "market_id": "SOL-USDC", "side": "bid", "price": 1000,
		"size": 10, "expiry_duration": 50, "collateral": 10_000_000, "jit_enabled": jit,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit status = %d: %s", rec.Code, rec.Body.String())
	}
	c, _ := body["commitment"].(map[string]interface{})
	id, _ := c["commitment_id"].(string)
	if id == "" {
		t.Fatalf("submit returned no id: %v", body)
	}
	return id
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec, body := ts.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("health = %d %v", rec.Code, body)
	}
	if body["slot"] != float64(100) {
		t.Errorf("slot = %v", body["slot"])
	}
}

func TestSubmitMatchLifecycle(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.createMarket(t)
	id := ts.submit(t, false)

	rec, body := ts.do(t, http.MethodGet, "/v1/drocs/"+id, nil)
	if rec.Code != http.StatusOK || body["status"] != "live" || body["state"] != "OPEN" {
		t.Fatalf("get live = %d %v", rec.Code, body)
	}

	rec, body = ts.do(t, http.MethodPost, "/v1/drocs/"+id+"/match", map[string]interface{}{"taker": "taker-1", "taker_size": 4})
	if rec.Code != http.StatusOK || body["remaining"] != float64(6) || body["completed"] != false {
		t.Fatalf("partial match = %d %v", rec.Code, body)
	}

	rec, body = ts.do(t, http.MethodPost, "/v1/drocs/"+id+"/match", map[string]interface{}{"taker": "taker-1", "taker_size": 7})
	if rec.Code != http.StatusBadRequest || errorCode(body) != "size_too_large" {
		t.Fatalf("oversized match = %d %v", rec.Code, body)
	}

	rec, body = ts.do(t, http.MethodPost, "/v1/drocs/"+id+"/match", map[string]interface{}{"taker": "taker-1", "taker_size": 6})
	if rec.Code != http.StatusOK || body["completed"] != true || body["collateral_released"] != float64(10_000_000) {
		t.Fatalf("final match = %d %v", rec.Code, body)
	}

	rec, body = ts.do(t, http.MethodGet, "/v1/drocs/"+id, nil)
	if rec.Code != http.StatusOK || body["status"] != "settled" {
		t.Fatalf("get settled = %d %v", rec.Code, body)
	}

	rec, body = ts.do(t, http.MethodGet, "/v1/vaults/main", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get vault = %d %v", rec.Code, body)
	}
	cons, _ := body["conservation"].(map[string]interface{})
	if cons["balanced"] != true {
		t.Errorf("conservation = %v", cons)
	}
}

func TestSubmitErrors(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.createMarket(t)

	tests := []struct {
		name   string
		body   map[string]interface{}
		status int
		code   string
	}{
		{
			name:   "low collateral",
			body:   map[string]interface{}{"maker": "maker-1", "market_id": "SOL-USDC", "side": "bid", "price": 1000, "size": 1, "expiry_duration": 10, "collateral": 1},
			status: http.StatusBadRequest,
			code:   "insufficient_collateral",
		},
		{
			name:   "price outside band",
			body:   map[string]interface{}{"maker": "maker-1", "market_id": "SOL-USDC", "side": "ask", "price": 1011, "size": 1, "expiry_duration": 10, "collateral": 10_000_000},
			status: http.StatusBadRequest,
			code:   "invalid_price",
		},
		{
			name:   "bad side",
			body:   map[string]interface{}{"maker": "maker-1", "market_id": "SOL-USDC", "side": "both", "price": 1000, "size": 1, "expiry_duration": 10, "collateral": 10_000_000},
			status: http.StatusBadRequest,
			code:   "invalid_side",
		},
		{
			name:   "unknown market",
			body:   map[string]interface{}{"maker": "maker-1", "market_id": "BTC-USDC", "side": "bid", "price": 1000, "size": 1, "expiry_duration": 10, "collateral": 10_000_000},
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "unfunded maker",
			body:   map[string]interface{}{"maker": "nobody", "market_id": "SOL-USDC", "side": "bid", "price": 1000, "size": 1, "expiry_duration": 10, "collateral": 10_000_000},
			status: http.StatusPaymentRequired,
			code:   "transfer_failed",
		},
		{
			name:   "unknown field",
			body:   map[string]interface{}{"maker": "maker-1", "colour": "red"},
			status: http.StatusBadRequest,
			code:   "bad_request",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := ts.do(t, http.MethodPost, "/v1/drocs", tt.body)
			if rec.Code != tt.status || errorCode(body) != tt.code {
				t.Errorf("got %d %q, want %d %q (%s)", rec.Code, errorCode(body), tt.status, tt.code, rec.Body.String())
			}
		})
	}
}

func TestJITFlow(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.createMarket(t)
	id := ts.submit(t, true)

	rec, body := ts.do(t, http.MethodPost, "/v1/drocs/"+id+"/match", map[string]interface{}{"taker": "taker-1", "taker_size": 5})
	if rec.Code != http.StatusAccepted || body["deferred"] != true {
		t.Fatalf("deferred match = %d %v", rec.Code, body)
	}

	rec, body = ts.do(t, http.MethodPost, "/v1/drocs/"+id+"/jit", map[string]interface{}{"accept": true, "adjusted_price": 1005})
	if rec.Code != http.StatusOK || body["accepted"] != true || body["price"] != float64(1005) {
		t.Fatalf("jit accept = %d %v", rec.Code, body)
	}

	rec, body = ts.do(t, http.MethodPost, "/v1/drocs/"+id+"/jit", map[string]interface{}{"accept": true})
	if rec.Code != http.StatusBadRequest || errorCode(body) != "no_pending_jit_match" {
		t.Errorf("confirm without pending = %d %v", rec.Code, body)
	}
}

func TestPruneAndRewards(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.createMarket(t)
	id := ts.submit(t, false)

	rec, body := ts.do(t, http.MethodPost, "/v1/drocs/"+id+"/rewards", nil)
	if rec.Code != http.StatusOK || body["amount"] != float64(50) {
		t.Fatalf("live reward = %d %v", rec.Code, body)
	}

	ts.clock.Advance(50)
	rec, body = ts.do(t, http.MethodPost, "/v1/drocs/"+id+"/match", map[string]interface{}{"taker": "taker-1", "taker_size": 1})
	if rec.Code != http.StatusConflict || errorCode(body) != "order_expired" {
		t.Fatalf("expired match = %d %v", rec.Code, body)
	}

	rec, body = ts.do(t, http.MethodPost, "/v1/drocs/prune", map[string]interface{}{
		"targets": []map[string]string{{"commitment_id": id}, {"commitment_id": "droc-missing"}},
	})
	if rec.Code != http.StatusOK || body["count"] != float64(1) {
		t.Fatalf("prune = %d %v", rec.Code, body)
	}
	skipped, _ := body["skipped"].([]interface{})
	if len(skipped) != 1 {
		t.Errorf("skipped = %v", body["skipped"])
	}

	rec, body = ts.do(t, http.MethodGet, "/v1/rewards/maker-1", nil)
	if rec.Code != http.StatusOK || body["balance"] != float64(50) {
		t.Errorf("reward account = %d %v", rec.Code, body)
	}
}

func TestMarketBounds(t *testing.T) {
	ts := newTestServer(t, Options{})
	ts.createMarket(t)

	rec, body := ts.do(t, http.MethodGet, "/v1/markets/SOL-USDC", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get market = %d %v", rec.Code, body)
	}
	if body["min_price"] != float64(990) || body["max_price"] != float64(1010) || body["oracle_price"] != float64(1000) {
		t.Errorf("bounds = %v", body)
	}

	rec, _ = ts.do(t, http.MethodGet, "/v1/markets/ETH-USDC", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown market status = %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, Options{RateLimit: 1, Burst: 1, Timeout: time.Second})

	rec, _ := ts.do(t, http.MethodGet, "/v1/vaults/main", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request = %d", rec.Code)
	}
	rec, body := ts.do(t, http.MethodGet, "/v1/vaults/main", nil)
	if rec.Code != http.StatusTooManyRequests || errorCode(body) != "rate_limited" {
		t.Errorf("second request = %d %v", rec.Code, body)
	}

	// health is outside the limited group
	if rec, _ := ts.do(t, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health = %d", rec.Code)
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidSize, http.StatusBadRequest},
		{domain.ErrJITWindowElapsed, http.StatusConflict},
		{domain.ErrAlreadyExists, http.StatusConflict},
		{domain.ErrOracleUnavailable, http.StatusPaymentRequired},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrUnauthorized, http.StatusForbidden},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusOf(tt.err); got != tt.want {
			t.Errorf("statusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
