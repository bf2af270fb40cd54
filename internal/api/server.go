// Package api exposes the commitment engine over HTTP JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"droc_go/internal/domain"
	"droc_go/internal/engine"
	"droc_go/internal/infra"
	"droc_go/internal/lifecycle"
	"droc_go/pkg/quant"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBodyBytes = 1 << 20

// Engine is the controller surface the API drives.
type Engine interface {
	InitializeMarket(ctx context.Context, m domain.Market) (*domain.Market, error)
	InitializeVault(ctx context.Context, id, authority string) (*domain.Vault, error)
	Deposit(ctx context.Context, vaultID, depositor string, amount quant.Amount) (*domain.Vault, error)
	Submit(ctx context.Context, req lifecycle.SubmitRequest) (string, error)
	Match(ctx context.Context, id, taker string, takerSize quant.Units) (lifecycle.MatchOutcome, error)
	JitConfirm(ctx context.Context, id string, adjustedPrice *quant.Ticks, accept bool) (lifecycle.JITOutcome, error)
	PruneExpired(ctx context.Context, targets []lifecycle.PruneTarget) (lifecycle.PruneReport, error)
	DistributeRewards(ctx context.Context, id string) (lifecycle.RewardOutcome, error)

	Commitment(ctx context.Context, id string) (*domain.RestingCommitment, error)
	Settlement(ctx context.Context, id string) (*domain.Settlement, error)
	Market(ctx context.Context, id string) (*domain.Market, error)
	Vault(ctx context.Context, id string) (*domain.Vault, error)
	RewardAccount(ctx context.Context, maker string) (*domain.RewardAccount, error)
	CheckConservation(ctx context.Context, vaultID string) (lifecycle.ConservationReport, error)
	Bounds(ctx context.Context, marketID string) (oracle, lo, hi quant.Ticks, err error)
	Now() domain.Now
}

// StatsProvider reports journal statistics.
type StatsProvider interface {
	Stats() engine.Stats
}

// Options configures the router.
type Options struct {
	RateLimit float64
	Burst     int
	Timeout   time.Duration
	Metrics   *infra.Metrics
	Exporter  http.Handler // serves /metrics when set
	Journal   StatsProvider
	Logger    *slog.Logger
}

type server struct {
	eng     Engine
	journal StatsProvider
	logger  *slog.Logger
	started time.Time
}

// NewRouter builds the HTTP handler.
func NewRouter(eng Engine, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "api"))
	if opts.Metrics == nil {
		opts.Metrics = &infra.Metrics{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	s := &server{eng: eng, journal: opts.Journal, logger: logger, started: time.Now()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(LoggingMiddleware(logger))
	r.Use(ConnectionsMiddleware(opts.Metrics))

	r.Get("/health", s.health)
	if opts.Exporter != nil {
		r.Method(http.MethodGet, "/metrics", opts.Exporter)
	}

	r.Route("/v1", func(r chi.Router) {
		if opts.RateLimit > 0 {
			r.Use(RateLimitMiddleware(opts.RateLimit, opts.Burst))
		}
		r.Use(middleware.Timeout(opts.Timeout))

		r.Post("/markets", s.initializeMarket)
		r.Get("/markets/{id}", s.getMarket)

		r.Post("/vaults", s.initializeVault)
		r.Get("/vaults/{id}", s.getVault)
		r.Post("/vaults/{id}/deposits", s.deposit)

		r.Post("/drocs", s.submit)
		r.Post("/drocs/prune", s.prune)
		r.Get("/drocs/{id}", s.getCommitment)
		r.Post("/drocs/{id}/match", s.match)
		r.Post("/drocs/{id}/jit", s.jitConfirm)
		r.Post("/drocs/{id}/rewards", s.distributeRewards)

		r.Get("/rewards/{maker}", s.getRewardAccount)
		r.Get("/journal/stats", s.journalStats)
	})
	return r
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	now := s.eng.Now()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"slot":       now.Slot,
		"uptime_sec": int64(time.Since(s.started).Seconds()),
	})
}

type marketRequest struct {
	MarketID   string `json:"market_id"`
	BaseAsset  string `json:"base_asset"`
	QuoteAsset string `json:"quote_asset"`
	Oracle     string `json:"oracle"`
}

func (s *server) initializeMarket(w http.ResponseWriter, r *http.Request) {
	var req marketRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := s.eng.InitializeMarket(r.Context(), domain.Market{
		ID:         req.MarketID,
		BaseAsset:  req.BaseAsset,
		QuoteAsset: req.QuoteAsset,
		Oracle:     req.Oracle,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

type marketView struct {
	*domain.Market
	OraclePrice *quant.Ticks `json:"oracle_price,omitempty"`
	MinPrice    *quant.Ticks `json:"min_price,omitempty"`
	MaxPrice    *quant.Ticks `json:"max_price,omitempty"`
}

func (s *server) getMarket(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	m, err := s.eng.Market(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	view := marketView{Market: m}
	// an unavailable oracle still yields the static market record
	if o, lo, hi, err := s.eng.Bounds(r.Context(), id); err == nil {
		view.OraclePrice, view.MinPrice, view.MaxPrice = &o, &lo, &hi
	}
	writeJSON(w, http.StatusOK, view)
}

type vaultRequest struct {
	VaultID   string `json:"vault_id"`
	Authority string `json:"authority"`
}

func (s *server) initializeVault(w http.ResponseWriter, r *http.Request) {
	var req vaultRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := s.eng.InitializeVault(r.Context(), req.VaultID, req.Authority)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

type vaultView struct {
	*domain.Vault
	Conservation lifecycle.ConservationReport `json:"conservation"`
}

func (s *server) getVault(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	v, err := s.eng.Vault(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	rep, err := s.eng.CheckConservation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vaultView{Vault: v, Conservation: rep})
}

type depositRequest struct {
	Depositor string       `json:"depositor"`
	Amount    quant.Amount `json:"amount"`
}

func (s *server) deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := s.eng.Deposit(r.Context(), chi.URLParam(r, "id"), req.Depositor, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type submitRequest struct {
	Maker          string       `json:"maker"`
	MarketID       string       `json:"market_id"`
	Side           string       `json:"side"`
	Price          quant.Ticks  `json:"price"`
	Size           quant.Units  `json:"size"`
	ExpiryDuration quant.Slot   `json:"expiry_duration"`
	Collateral     quant.Amount `json:"collateral"`
	JITEnabled     bool         `json:"jit_enabled"`
}

func (s *server) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decode(w, r, &req) {
		return
	}
	// unknown sides pass through so the controller reports them in its own order
	side, err := domain.ParseSide(req.Side)
	if err != nil {
		side = domain.Side(req.Side)
	}
	id, err := s.eng.Submit(r.Context(), lifecycle.SubmitRequest{
		Maker:          req.Maker,
		MarketID:       req.MarketID,
		Side:           side,
		Price:          req.Price,
		Size:           req.Size,
		ExpiryDuration: req.ExpiryDuration,
		Collateral:     req.Collateral,
		JITEnabled:     req.JITEnabled,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := s.eng.Commitment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, commitmentView{Status: "live", State: c.State(s.eng.Now().Slot), Commitment: c})
}

type commitmentView struct {
	Status     string                    `json:"status"` // live | settled
	State      domain.State              `json:"state,omitempty"`
	Commitment *domain.RestingCommitment `json:"commitment,omitempty"`
	Settlement *domain.Settlement        `json:"settlement,omitempty"`
}

func (s *server) getCommitment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.eng.Commitment(r.Context(), id)
	if err == nil {
		writeJSON(w, http.StatusOK, commitmentView{Status: "live", State: c.State(s.eng.Now().Slot), Commitment: c})
		return
	}
	if !errors.Is(err, domain.ErrNotFound) {
		writeError(w, err)
		return
	}
	st, err := s.eng.Settlement(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commitmentView{Status: "settled", Settlement: st})
}

type matchRequest struct {
	Taker     string      `json:"taker"`
	TakerSize quant.Units `json:"taker_size"`
}

func (s *server) match(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := s.eng.Match(r.Context(), chi.URLParam(r, "id"), req.Taker, req.TakerSize)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if out.Deferred {
		status = http.StatusAccepted
	}
	writeJSON(w, status, out)
}

type jitRequest struct {
	Accept        bool         `json:"accept"`
	AdjustedPrice *quant.Ticks `json:"adjusted_price,omitempty"`
}

func (s *server) jitConfirm(w http.ResponseWriter, r *http.Request) {
	var req jitRequest
	if !decode(w, r, &req) {
		return
	}
	out, err := s.eng.JitConfirm(r.Context(), chi.URLParam(r, "id"), req.AdjustedPrice, req.Accept)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type pruneRequest struct {
	Targets []lifecycle.PruneTarget `json:"targets"`
}

func (s *server) prune(w http.ResponseWriter, r *http.Request) {
	var req pruneRequest
	if !decode(w, r, &req) {
		return
	}
	rep, err := s.eng.PruneExpired(r.Context(), req.Targets)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Count int `json:"count"`
		lifecycle.PruneReport
	}{rep.Count(), rep})
}

func (s *server) distributeRewards(w http.ResponseWriter, r *http.Request) {
	out, err := s.eng.DistributeRewards(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) getRewardAccount(w http.ResponseWriter, r *http.Request) {
	acct, err := s.eng.RewardAccount(r.Context(), chi.URLParam(r, "maker"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *server) journalStats(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: errorDetail{Code: "not_found", Message: "journal disabled"}})
		return
	}
	writeJSON(w, http.StatusOK, s.journal.Stats())
}
