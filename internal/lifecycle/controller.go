// Package lifecycle drives resting commitments from submission to settlement.
//
// Every operation runs under a single writer lock inside one store unit of
// work. State writes are staged first and token transfers execute last, so a
// failed transfer leaves no partial state behind. Events are emitted only
// after the unit commits.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"droc_go/internal/domain"
	"droc_go/internal/event"
	"droc_go/internal/infra"
	"droc_go/internal/pricing"
	"droc_go/internal/vault"
	"droc_go/pkg/quant"
)

const commitmentSequence = "commitment"

// Config holds the engine parameters the controller enforces.
type Config struct {
	VaultID          string       // collateral vault every commitment locks into
	Authority        string       // signer of the collateral vault
	RewardsPool      string       // token account rewards are paid from
	RewardsAuthority string       // signer of the rewards pool
	MinCollateral    quant.Amount // smallest accepted collateral
	MaxExpiry        quant.Slot   // longest accepted expiry duration
	JITWindow        quant.Slot   // slots a maker has to confirm a JIT match
}

// DefaultConfig mirrors infra.DefaultConfig.
func DefaultConfig() Config {
	return Config{
		VaultID:          "main",
		Authority:        "engine",
		RewardsPool:      "rewards:pool",
		RewardsAuthority: "engine",
		MinCollateral:    10_000_000,
		MaxExpiry:        1_000_000,
		JITWindow:        5,
	}
}

// ConfigFrom maps the process configuration onto controller parameters.
func ConfigFrom(cfg *infra.Config) Config {
	return Config{
		VaultID:          cfg.Engine.VaultID,
		Authority:        cfg.Engine.Authority,
		RewardsPool:      cfg.Engine.RewardsPool,
		RewardsAuthority: cfg.Engine.RewardsAuthority,
		MinCollateral:    quant.Amount(cfg.Engine.MinCollateral),
		MaxExpiry:        quant.Slot(cfg.Engine.MaxExpirySlots),
		JITWindow:        quant.Slot(cfg.Engine.JITWindowSlots),
	}
}

// Deps are the collaborators of a Controller. Events, Metrics and Logger are optional.
type Deps struct {
	Repo    domain.Repository
	Tokens  domain.TokenTransfer
	Pricing *pricing.Engine
	Oracle  domain.Oracle
	Clock   domain.Clock
	Events  domain.EventSink
	Metrics *infra.Metrics
	Logger  *slog.Logger
}

// Controller serializes every commitment state transition.
type Controller struct {
	mu sync.Mutex

	cfg     Config
	repo    domain.Repository
	ledger  *vault.Ledger
	tokens  domain.TokenTransfer
	pricing *pricing.Engine
	oracle  domain.Oracle
	clock   domain.Clock
	events  domain.EventSink
	metrics *infra.Metrics
	logger  *slog.Logger
	auth    vault.Capability
}

// New validates deps and builds a controller.
func New(cfg Config, deps Deps) (*Controller, error) {
	switch {
	case deps.Repo == nil:
		return nil, errors.New("lifecycle: repository is required")
	case deps.Tokens == nil:
		return nil, errors.New("lifecycle: token transfer is required")
	case deps.Pricing == nil:
		return nil, errors.New("lifecycle: pricing engine is required")
	case deps.Oracle == nil:
		return nil, errors.New("lifecycle: oracle is required")
	case deps.Clock == nil:
		return nil, errors.New("lifecycle: clock is required")
	}
	batcher, ok := deps.Tokens.(domain.BatchTransferer)
	if !ok {
		return nil, fmt.Errorf("lifecycle: token primitive %T cannot apply transfers all-or-nothing", deps.Tokens)
	}
	if cfg.VaultID == "" || cfg.Authority == "" {
		return nil, fmt.Errorf("lifecycle: %w: vault id and authority are required", domain.ErrInvalidVault)
	}
	if cfg.MinCollateral <= 0 || cfg.MaxExpiry <= 0 || cfg.JITWindow <= 0 {
		return nil, fmt.Errorf("lifecycle: min collateral, max expiry and jit window must be positive")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = &infra.Metrics{}
	}
	events := deps.Events
	if events == nil {
		events = discard{}
	}

	return &Controller{
		cfg:     cfg,
		repo:    deps.Repo,
		ledger:  vault.NewLedger(batcher),
		tokens:  deps.Tokens,
		pricing: deps.Pricing,
		oracle:  deps.Oracle,
		clock:   deps.Clock,
		events:  events,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "lifecycle")),
		auth:    vault.NewCapability(cfg.Authority),
	}, nil
}

type discard struct{}

func (discard) Emit(event.Event) {}

// Config returns the enforced parameters.
func (c *Controller) Config() Config { return c.cfg }

// unit is the state of one in-flight operation.
type unit struct {
	tx     domain.Tx
	plan   *vault.Plan
	now    domain.Now
	events []event.Event
}

func (u *unit) base() event.BaseEvent {
	return event.NewBase(u.now.Slot, u.now.Wall)
}

func (u *unit) emit(ev event.Event) {
	u.events = append(u.events, ev)
}

// atomic runs fn as one serialized unit of work and publishes its events
// after commit.
func (c *Controller) atomic(ctx context.Context, op string, fn func(u *unit) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	var u *unit
	moved := false

	err := c.repo.Atomic(ctx, func(tx domain.Tx) error {
		u = &unit{tx: tx, plan: &vault.Plan{}, now: now}
		if err := fn(u); err != nil {
			return err
		}
		if err := c.ledger.Execute(ctx, u.plan); err != nil {
			return err
		}
		moved = len(u.plan.Transfers()) > 0
		return nil
	})
	if err != nil {
		if moved {
			// value left escrow but the state that records it did not persist
			panic(fmt.Sprintf("SETTLEMENT_COMMIT_FAILURE: %s at slot %d: %v", op, now.Slot, err))
		}
		c.metrics.RecordError()
		c.logger.Debug("Operation rejected",
			slog.String("op", op),
			slog.Int64("slot", int64(now.Slot)),
			slog.Any("error", err))
		return err
	}

	for _, ev := range u.events {
		c.events.Emit(ev)
	}
	return nil
}

// SyncLiveGauge resets the live-commitment gauge from the store. Call once
// after restart; operations keep it current afterwards.
func (c *Controller) SyncLiveGauge(ctx context.Context) (int64, error) {
	var n int64
	err := c.repo.View(ctx, func(tx domain.Tx) error {
		var err error
		n, err = tx.CountCommitments()
		return err
	})
	if err != nil {
		return 0, err
	}
	c.metrics.SetLiveCommitments(n)
	return n, nil
}

// oraclePrice looks up the reference price of a market. Any failure is
// fatal to the calling operation.
func (c *Controller) oraclePrice(ctx context.Context, m *domain.Market) (quant.Ticks, error) {
	p, err := c.oracle.Price(ctx, m.Oracle)
	if err != nil {
		c.metrics.RecordOracleFailure()
		if errors.Is(err, domain.ErrOracleUnavailable) {
			return 0, fmt.Errorf("market %s: %w", m.ID, err)
		}
		return 0, fmt.Errorf("market %s: %w: %w", m.ID, domain.ErrOracleUnavailable, err)
	}
	if p <= 0 {
		c.metrics.RecordOracleFailure()
		return 0, fmt.Errorf("market %s: %w: non-positive price %d", m.ID, domain.ErrOracleUnavailable, p)
	}
	return p, nil
}

func (c *Controller) marketPrice(ctx context.Context, tx domain.Tx, marketID string) (*domain.Market, quant.Ticks, error) {
	m, err := tx.Market(marketID)
	if err != nil {
		return nil, 0, fmt.Errorf("market %s: %w", marketID, err)
	}
	p, err := c.oraclePrice(ctx, m)
	if err != nil {
		return nil, 0, err
	}
	return m, p, nil
}

// InitializeMarket registers an immutable market.
func (c *Controller) InitializeMarket(ctx context.Context, m domain.Market) (*domain.Market, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	var out *domain.Market
	err := c.atomic(ctx, "initialize_market", func(u *unit) error {
		if _, err := u.tx.Market(m.ID); err == nil {
			return fmt.Errorf("market %s: %w", m.ID, domain.ErrAlreadyExists)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		m.CreatedSlot = u.now.Slot
		if err := u.tx.PutMarket(&m); err != nil {
			return fmt.Errorf("put market: %w", err)
		}
		out = &m
		u.emit(&event.MarketInitializedEvent{
			BaseEvent:  u.base(),
			MarketID:   m.ID,
			BaseAsset:  m.BaseAsset,
			QuoteAsset: m.QuoteAsset,
			Oracle:     m.Oracle,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("Market initialized", slog.String("market", m.ID), slog.String("oracle", m.Oracle))
	return out, nil
}

// InitializeVault creates an empty vault and its escrow account.
func (c *Controller) InitializeVault(ctx context.Context, id, authority string) (*domain.Vault, error) {
	var out *domain.Vault
	err := c.atomic(ctx, "initialize_vault", func(u *unit) error {
		v, err := c.ledger.Initialize(u.tx, id, authority, u.plan)
		if err != nil {
			return err
		}
		out = v
		u.emit(&event.VaultInitializedEvent{BaseEvent: u.base(), VaultID: id, Authority: authority})
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("Vault initialized", slog.String("vault", id), slog.String("authority", authority))
	return out, nil
}

// Deposit moves depositor funds into a vault's escrow.
func (c *Controller) Deposit(ctx context.Context, vaultID, depositor string, amount quant.Amount) (*domain.Vault, error) {
	var out *domain.Vault
	err := c.atomic(ctx, "deposit", func(u *unit) error {
		v, err := c.ledger.Deposit(u.tx, vaultID, depositor, amount, u.plan)
		if err != nil {
			return err
		}
		out = v
		u.emit(&event.DepositEvent{
			BaseEvent:     u.base(),
			VaultID:       vaultID,
			Depositor:     depositor,
			Amount:        amount,
			TotalDeposits: v.TotalDeposits,
		})
		return nil
	})
	return out, err
}

// Commitment returns a live commitment.
func (c *Controller) Commitment(ctx context.Context, id string) (*domain.RestingCommitment, error) {
	var out *domain.RestingCommitment
	err := c.repo.View(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.Commitment(id)
		return err
	})
	return out, err
}

// Settlement returns the tombstone of a destroyed commitment.
func (c *Controller) Settlement(ctx context.Context, id string) (*domain.Settlement, error) {
	var out *domain.Settlement
	err := c.repo.View(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.Settlement(id)
		return err
	})
	return out, err
}

func (c *Controller) Market(ctx context.Context, id string) (*domain.Market, error) {
	var out *domain.Market
	err := c.repo.View(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.Market(id)
		return err
	})
	return out, err
}

func (c *Controller) Vault(ctx context.Context, id string) (*domain.Vault, error) {
	var out *domain.Vault
	err := c.repo.View(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.Vault(id)
		return err
	})
	return out, err
}

// RewardAccount returns the accrued rewards of maker.
func (c *Controller) RewardAccount(ctx context.Context, maker string) (*domain.RewardAccount, error) {
	var out *domain.RewardAccount
	err := c.repo.View(ctx, func(tx domain.Tx) error {
		var err error
		out, err = tx.RewardAccount(maker)
		return err
	})
	return out, err
}

// Now returns the controller's clock reading.
func (c *Controller) Now() domain.Now { return c.clock.Now() }

// Bounds returns the accepted price range at the current oracle price of a market.
func (c *Controller) Bounds(ctx context.Context, marketID string) (oracle, lo, hi quant.Ticks, err error) {
	m, err := c.Market(ctx, marketID)
	if err != nil {
		return 0, 0, 0, err
	}
	oracle, err = c.oraclePrice(ctx, m)
	if err != nil {
		return 0, 0, 0, err
	}
	lo, hi = c.pricing.Bounds(oracle)
	return oracle, lo, hi, nil
}
