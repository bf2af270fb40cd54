package pricing

import (
	"fmt"
	"math"

	"droc_go/internal/domain"
	"droc_go/pkg/quant"

	"github.com/shopspring/decimal"
)

// Config holds the band and reward parameters.
type Config struct {
	BandBps       int64        // allowed deviation from the oracle, inclusive
	Scale         int64        // spread scale of the reward formula
	RatePerPeriod quant.Amount // reward per slot of remaining duration
}

// DefaultConfig is a 1% band with the standard reward scale.
func DefaultConfig() Config {
	return Config{BandBps: 100, Scale: quant.RewardScale, RatePerPeriod: 1}
}

// Engine validates prices against the oracle band and computes rewards.
// All arithmetic is integer; results are bit-identical across platforms.
type Engine struct {
	cfg Config
}

// New validates cfg and creates an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.BandBps < 0 || cfg.BandBps >= quant.BpsDenominator {
		return nil, fmt.Errorf("band_bps must be in [0, %d): %d", quant.BpsDenominator, cfg.BandBps)
	}
	if cfg.Scale <= 0 {
		return nil, fmt.Errorf("scale must be positive: %d", cfg.Scale)
	}
	if cfg.RatePerPeriod < 0 {
		return nil, fmt.Errorf("rate_per_period must be non-negative: %d", cfg.RatePerPeriod)
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns the engine parameters.
func (e *Engine) Config() Config { return e.cfg }

var bpsDenom = decimal.NewFromInt(quant.BpsDenominator)

// ValidatePrice fails with ErrInvalidPrice when price lies outside
// [oracle*(1-band), oracle*(1+band)]. Both edges are accepted.
func (e *Engine) ValidatePrice(price, oracle quant.Ticks) error {
	if price <= 0 {
		return fmt.Errorf("%w: price %d must be positive", domain.ErrInvalidPrice, price)
	}
	if oracle <= 0 {
		return fmt.Errorf("%w: oracle price %d must be positive", domain.ErrInvalidPrice, oracle)
	}

	scaled := decimal.NewFromInt(int64(price)).Mul(bpsDenom)
	o := decimal.NewFromInt(int64(oracle))
	lo := o.Mul(decimal.NewFromInt(quant.BpsDenominator - e.cfg.BandBps))
	hi := o.Mul(decimal.NewFromInt(quant.BpsDenominator + e.cfg.BandBps))

	if scaled.LessThan(lo) || scaled.GreaterThan(hi) {
		l, h := e.Bounds(oracle)
		return fmt.Errorf("%w: %d outside [%d, %d] (oracle %d, band %d bps)",
			domain.ErrInvalidPrice, price, l, h, oracle, e.cfg.BandBps)
	}
	return nil
}

// Bounds returns the smallest and largest integer prices accepted at oracle.
func (e *Engine) Bounds(oracle quant.Ticks) (lo, hi quant.Ticks) {
	o := decimal.NewFromInt(int64(oracle))
	l := o.Mul(decimal.NewFromInt(quant.BpsDenominator - e.cfg.BandBps)).Div(bpsDenom).Ceil()
	h := o.Mul(decimal.NewFromInt(quant.BpsDenominator + e.cfg.BandBps)).Div(bpsDenom).Floor()
	return quant.Ticks(clampInt64(l)), quant.Ticks(clampInt64(h))
}

// RewardInput carries the terms of one reward computation.
type RewardInput struct {
	Price         quant.Ticks
	Size          quant.Units // recorded for audit, not weighted
	Expiry        quant.Slot
	Now           quant.Slot
	Oracle        quant.Ticks
	RatePerPeriod quant.Amount
}

// ComputeReward evaluates
//
//	rate * max(0, expiry-now) * (SCALE - clamp(|price-oracle|, 0, SCALE)) / SCALE
//
// truncating toward zero. Results beyond int64 fail with ErrRewardOverflow.
func (e *Engine) ComputeReward(in RewardInput) (quant.Amount, error) {
	if in.RatePerPeriod < 0 {
		return 0, fmt.Errorf("%w: negative rate %d", domain.ErrInvalidAmount, in.RatePerPeriod)
	}

	remaining := decimal.NewFromInt(int64(in.Expiry)).Sub(decimal.NewFromInt(int64(in.Now)))
	if !remaining.IsPositive() {
		return 0, nil
	}

	scale := decimal.NewFromInt(e.cfg.Scale)
	spread := decimal.NewFromInt(int64(in.Price)).Sub(decimal.NewFromInt(int64(in.Oracle))).Abs()
	if spread.GreaterThan(scale) {
		spread = scale
	}

	num := decimal.NewFromInt(int64(in.RatePerPeriod)).Mul(remaining).Mul(scale.Sub(spread))
	q, _ := num.QuoRem(scale, 0)
	if q.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("%w: %s", domain.ErrRewardOverflow, q.String())
	}
	return quant.Amount(q.IntPart()), nil
}

// Reward computes the reward of c at now using the configured rate.
func (e *Engine) Reward(c *domain.RestingCommitment, now quant.Slot, oracle quant.Ticks) (quant.Amount, error) {
	return e.ComputeReward(RewardInput{
		Price:         c.Price,
		Size:          c.Size,
		Expiry:        c.Expiry,
		Now:           now,
		Oracle:        oracle,
		RatePerPeriod: e.cfg.RatePerPeriod,
	})
}

func clampInt64(d decimal.Decimal) int64 {
	if d.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return math.MaxInt64
	}
	if d.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return math.MinInt64
	}
	return d.IntPart()
}
