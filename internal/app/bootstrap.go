package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"droc_go/internal/api"
	"droc_go/internal/clock"
	"droc_go/internal/domain"
	"droc_go/internal/engine"
	"droc_go/internal/infra"
	"droc_go/internal/infra/redisstream"
	infrastorage "droc_go/internal/infra/storage"
	"droc_go/internal/lifecycle"
	"droc_go/internal/oracle"
	"droc_go/internal/pricing"
	"droc_go/internal/storage"
	"droc_go/internal/store"
	"droc_go/internal/token"
	"droc_go/pkg/quant"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const bookMetaKey = "token.book"

// Bootstrap orchestrates the engine startup sequence.
type Bootstrap struct {
	ConfigPath string

	Config     *infra.Config
	Logger     *slog.Logger
	Metrics    *infra.Metrics
	Journal    *storage.EventStore
	Book       *token.Book
	Sequencer  *engine.Sequencer
	Controller *lifecycle.Controller

	oracle    domain.Oracle
	poller    *oracle.Poller
	feed      *oracle.Feed
	publisher *redisstream.Publisher
	sweeper   *lifecycle.Sweeper
	server    *http.Server

	closers []func() error
	unlock  func()
}

// NewBootstrap creates a new Bootstrap instance. An empty path runs on defaults.
func NewBootstrap(configPath string) *Bootstrap {
	return &Bootstrap{ConfigPath: configPath}
}

// Initialize wires every component without starting background work.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(b.ConfigPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	// 2. Setup Logger
	b.Logger = infra.NewLogger(cfg)
	slog.SetDefault(b.Logger)
	slog.Info("🚀 Bootstrapping DROC engine...", slog.String("version", cfg.App.Version))
	b.Metrics = infra.GlobalMetrics

	// 3. Single-instance lock over the data directory
	workDir := infra.GetWorkspaceDir()
	if cfg.Storage.Driver == "sqlite" {
		unlock, err := infra.CreateLockFile(workDir)
		if err != nil {
			return err
		}
		b.unlock = unlock
	}

	// 4. State repository
	repo, err := b.openRepository(workDir)
	if err != nil {
		return err
	}
	slog.Info("✅ State store ready", slog.String("driver", cfg.Storage.Driver))

	// 5. Event journal
	if path := infra.ResolveDataPath(workDir, cfg.Storage.JournalPath); path != "" {
		journal, err := storage.NewEventStore(path)
		if err != nil {
			return err
		}
		b.Journal = journal
		b.closers = append(b.closers, journal.Close)
		slog.Info("✅ Event journal ready", slog.String("path", path))
	}

	// 6. Token book
	if err := b.loadBook(ctx); err != nil {
		return err
	}

	// 7. Oracle
	if err := b.setupOracle(); err != nil {
		return err
	}

	// 8. Sequencer and subscribers
	var journal engine.Journal
	if b.Journal != nil {
		journal = b.Journal
	}
	b.Sequencer = engine.NewSequencer(cfg.Engine.InboxSize, journal, b.Metrics, b.Logger)
	if err := b.Sequencer.Restore(ctx); err != nil {
		return err
	}
	b.Sequencer.Subscribe(engine.LogSubscriber{Logger: b.Logger})
	if cfg.Redis.Enabled {
		pub, err := redisstream.New(redisstream.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
			MaxLen:   cfg.Redis.MaxLen,
		}, b.Logger)
		if err != nil {
			return err
		}
		b.publisher = pub
		b.closers = append(b.closers, pub.Close)
		b.Sequencer.Subscribe(pub)
		slog.Info("✅ Redis stream publisher connected", slog.String("stream", cfg.Redis.Stream))
	}

	// 9. Controller
	pe, err := pricing.New(pricing.Config{
		BandBps:       cfg.Pricing.BandBps,
		Scale:         cfg.Pricing.Scale,
		RatePerPeriod: quant.Amount(cfg.Pricing.RewardRate.IntPart()),
	})
	if err != nil {
		return &domain.ConfigError{Field: "pricing", Err: err}
	}

	slotDuration := time.Duration(cfg.Engine.SlotDurationMS) * time.Millisecond
	ctl, err := lifecycle.New(lifecycle.ConfigFrom(cfg), lifecycle.Deps{
		Repo:    repo,
		Tokens:  b.Book,
		Pricing: pe,
		Oracle:  b.oracle,
		Clock:   clock.NewSystem(time.Unix(cfg.Engine.GenesisUnix, 0), slotDuration),
		Events:  b.Sequencer,
		Metrics: b.Metrics,
		Logger:  b.Logger,
	})
	if err != nil {
		return err
	}
	b.Controller = ctl

	if err := b.ensureVault(ctx); err != nil {
		return err
	}
	live, err := ctl.SyncLiveGauge(ctx)
	if err != nil {
		return err
	}
	slog.Info("✅ Lifecycle controller ready", slog.Int64("live_commitments", live))

	// 10. Sweeper
	if cfg.Sweeper.Enabled {
		var meta lifecycle.Metadata
		if b.Journal != nil {
			meta = b.Journal
		}
		b.sweeper = lifecycle.NewSweeper(ctl, time.Duration(cfg.Sweeper.IntervalSec)*time.Second,
			cfg.Sweeper.BatchSize, meta, b.Logger)
	}

	// 11. HTTP API
	registry := prometheus.NewRegistry()
	if err := registry.Register(infra.NewPrometheusCollector(b.Metrics)); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	opts := api.Options{
		RateLimit: cfg.API.RateLimit,
		Burst:     cfg.API.Burst,
		Timeout:   time.Duration(cfg.API.TimeoutSec) * time.Second,
		Metrics:   b.Metrics,
		Exporter:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Journal:   b.Sequencer,
		Logger:    b.Logger,
	}
	b.server = &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           api.NewRouter(ctl, opts),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

func (b *Bootstrap) openRepository(workDir string) (domain.Repository, error) {
	switch b.Config.Storage.Driver {
	case "memory":
		return store.NewMemory(), nil
	default:
		path := infra.ResolveDataPath(workDir, b.Config.Storage.StatePath)
		repo, err := infrastorage.Open(path)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, repo.Close)
		return repo, nil
	}
}

// loadBook restores the token book saved by the previous run, or mints the
// configured faucet grants on first start.
func (b *Bootstrap) loadBook(ctx context.Context) error {
	b.Book = token.NewBook()
	cfg := b.Config

	if b.Journal != nil {
		raw, err := b.Journal.GetMetadata(ctx, bookMetaKey)
		if err != nil {
			return fmt.Errorf("load token book: %w", err)
		}
		if raw != "" {
			var accounts []token.Account
			if err := json.Unmarshal([]byte(raw), &accounts); err != nil {
				return fmt.Errorf("decode token book: %w", err)
			}
			if err := b.Book.Restore(accounts); err != nil {
				return fmt.Errorf("restore token book: %w", err)
			}
			slog.Info("✅ Token book restored", slog.Int("accounts", len(accounts)))
			return nil
		}
	}

	if err := b.Book.OpenAccount(ctx, cfg.Engine.RewardsPool, cfg.Engine.RewardsAuthority); err != nil {
		return err
	}
	accts := make([]string, 0, len(cfg.Engine.Faucet))
	for acct := range cfg.Engine.Faucet {
		accts = append(accts, acct)
	}
	sort.Strings(accts)
	for _, acct := range accts {
		if err := b.Book.Mint(acct, quant.Amount(cfg.Engine.Faucet[acct])); err != nil {
			return fmt.Errorf("faucet %s: %w", acct, err)
		}
	}
	slog.Info("✅ Token book seeded", slog.Int("grants", len(accts)))
	return nil
}

// saveBook persists the token book next to the journal.
func (b *Bootstrap) saveBook(ctx context.Context) error {
	if b.Journal == nil || b.Book == nil {
		return nil
	}
	raw, err := json.Marshal(b.Book.Snapshot())
	if err != nil {
		return err
	}
	return b.Journal.UpsertMetadata(ctx, bookMetaKey, string(raw), time.Now().UnixMicro())
}

func (b *Bootstrap) setupOracle() error {
	cfg := b.Config
	switch cfg.Oracle.Mode {
	case "poll", "feed":
		cache := oracle.NewCache(time.Duration(cfg.Oracle.MaxStaleSec) * time.Second)
		if cfg.Oracle.Mode == "poll" {
			b.poller = oracle.NewPoller(oracle.PollerConfig{
				URL:       cfg.Oracle.PollURL,
				Refs:      cfg.Oracle.Refs,
				Precision: cfg.Oracle.Precision,
				Interval:  time.Duration(cfg.Oracle.PollIntervalSec) * time.Second,
			}, cache, b.Metrics, b.Logger)
		} else {
			b.feed = oracle.NewFeed(oracle.FeedConfig{
				URL:       cfg.Oracle.FeedURL,
				Refs:      cfg.Oracle.Refs,
				Precision: cfg.Oracle.Precision,
			}, cache, b.Metrics, b.Logger)
		}
		b.oracle = cache
	default:
		static, err := oracle.ParseStatic(cfg.Oracle.Static, cfg.Oracle.Precision)
		if err != nil {
			return &domain.ConfigError{Field: "oracle.static", Err: err}
		}
		b.oracle = static
	}
	slog.Info("✅ Oracle configured", slog.String("mode", cfg.Oracle.Mode))
	return nil
}

// ensureVault creates the configured vault on first start.
func (b *Bootstrap) ensureVault(ctx context.Context) error {
	cfg := b.Config.Engine
	_, err := b.Controller.Vault(ctx, cfg.VaultID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if _, err := b.Controller.InitializeVault(ctx, cfg.VaultID, cfg.Authority); err != nil {
		return err
	}
	slog.Info("✅ Vault initialized", slog.String("vault_id", cfg.VaultID))
	return nil
}

// Run starts background workers and serves the API until ctx is done.
func (b *Bootstrap) Run(ctx context.Context) error {
	seqDone := make(chan struct{})
	go func() {
		defer close(seqDone)
		b.Sequencer.Run(ctx)
	}()
	slog.InfoContext(ctx, "✅ Sequencer started")

	if b.poller != nil {
		b.poller.Start(ctx)
		defer b.poller.Stop()
		slog.InfoContext(ctx, "✅ Oracle poller started", slog.Int("refs", len(b.Config.Oracle.Refs)))
	}
	if b.feed != nil {
		b.feed.Connect(ctx)
		defer b.feed.Disconnect()
		slog.InfoContext(ctx, "✅ Oracle feed connecting", slog.String("url", b.Config.Oracle.FeedURL))
	}
	if b.sweeper != nil {
		go b.sweeper.Run(ctx)
		slog.InfoContext(ctx, "✅ Sweeper started")
	}

	errCh := make(chan error, 1)
	go func() {
		if err := b.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slog.InfoContext(ctx, "✨ DROC engine fully operational", slog.String("addr", b.Config.API.Addr))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		slog.Error("❌ API server failed", slog.Any("error", runErr))
	}

	slog.Info("👋 Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("API shutdown incomplete", slog.Any("error", err))
	}

	// The sequencer drains its inbox once ctx is cancelled.
	if ctx.Err() != nil {
		<-seqDone
	}
	if err := b.saveBook(shutdownCtx); err != nil {
		slog.Error("Failed to persist token book", slog.Any("error", err))
	}
	return runErr
}

// Close releases stores and the instance lock.
func (b *Bootstrap) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			slog.Warn("Close failed", slog.Any("error", err))
		}
	}
	b.closers = nil
	if b.unlock != nil {
		b.unlock()
		b.unlock = nil
	}
}
