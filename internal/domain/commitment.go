package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"droc_go/pkg/quant"
	"droc_go/pkg/safe"
)

// Side is the book side of a resting commitment.
type Side string

const (
	SideBid Side = "BID"
	SideAsk Side = "ASK"
)

// ParseSide accepts "bid"/"ask" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBid:
		return SideBid, nil
	case SideAsk:
		return SideAsk, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSide, s)
}

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == SideBid || s == SideAsk }

// State is the derived lifecycle state of a live commitment.
type State string

const (
	StateOpen            State = "OPEN"
	StatePartiallyFilled State = "PARTIALLY_FILLED"
	StateExpired         State = "EXPIRED"
)

// PendingMatch is a taker's proposed fill awaiting the maker's JIT decision.
type PendingMatch struct {
	Taker    string      `json:"taker"`
	Size     quant.Units `json:"size"`
	Deadline quant.Slot  `json:"deadline"`
}

// Stale reports whether the confirmation window closed before now.
func (p *PendingMatch) Stale(now quant.Slot) bool {
	return now > p.Deadline
}

// RestingCommitment is one maker's collateral-backed resting order (a DROC).
type RestingCommitment struct {
	ID               string        `json:"commitment_id"`
	Maker            string        `json:"maker"`
	MarketID         string        `json:"market_id"`
	VaultID          string        `json:"vault_id"`
	Side             Side          `json:"side"`
	Price            quant.Ticks   `json:"price"`
	Size             quant.Units   `json:"size"`
	OriginalSize     quant.Units   `json:"original_size"`
	Expiry           quant.Slot    `json:"expiry"`
	CollateralLocked quant.Amount  `json:"collateral_locked"`
	JITEnabled       bool          `json:"jit_enabled"`
	Pending          *PendingMatch `json:"pending,omitempty"`
	CreatedSlot      quant.Slot    `json:"created_slot"`

	// LastRewardSlot is the slot of the latest live reward payout. Only
	// meaningful when Rewarded is set.
	Rewarded       bool       `json:"rewarded,omitempty"`
	LastRewardSlot quant.Slot `json:"last_reward_slot,omitempty"`

	// Version is bumped by the store on every successful write.
	Version uint64 `json:"version"`
}

// Expired reports whether the commitment can no longer be matched at now.
func (c *RestingCommitment) Expired(now quant.Slot) bool {
	return c.Expiry <= now
}

// State derives the lifecycle state at now.
func (c *RestingCommitment) State(now quant.Slot) State {
	switch {
	case c.Expired(now):
		return StateExpired
	case c.Size < c.OriginalSize:
		return StatePartiallyFilled
	default:
		return StateOpen
	}
}

// RewardedAt reports whether a live reward was already paid at now.
func (c *RestingCommitment) RewardedAt(now quant.Slot) bool {
	return c.Rewarded && c.LastRewardSlot == now
}

// JITPending reports whether a confirmation request is outstanding at now.
func (c *RestingCommitment) JITPending(now quant.Slot) bool {
	return c.Pending != nil && !c.Pending.Stale(now)
}

// Fill decrements the remaining size and reports whether it reached zero.
// Panics on a fill larger than the remaining size; callers validate first.
func (c *RestingCommitment) Fill(qty quant.Units) bool {
	if qty <= 0 || qty > c.Size {
		panic(fmt.Sprintf("COMMITMENT_FILL_OUT_OF_RANGE: %s fill %d, remaining %d", c.ID, qty, c.Size))
	}
	c.Size = quant.Units(safe.SafeSub(int64(c.Size), int64(qty)))
	return c.Size == 0
}

// VerifyInvariant checks that the record is internally consistent.
func (c *RestingCommitment) VerifyInvariant() {
	if c.Size < 0 {
		panic(fmt.Sprintf("COMMITMENT_INVARIANT_NEGATIVE_SIZE: %s = %d", c.ID, c.Size))
	}
	if c.Size > c.OriginalSize {
		panic(fmt.Sprintf("COMMITMENT_INVARIANT_SIZE_EXCEEDS_ORIGINAL: %s size=%d, original=%d",
			c.ID, c.Size, c.OriginalSize))
	}
	if c.CollateralLocked < 0 {
		panic(fmt.Sprintf("COMMITMENT_INVARIANT_NEGATIVE_COLLATERAL: %s = %d", c.ID, c.CollateralLocked))
	}
	if c.Pending != nil {
		if !c.JITEnabled {
			panic(fmt.Sprintf("COMMITMENT_INVARIANT_PENDING_WITHOUT_JIT: %s", c.ID))
		}
		if c.Pending.Size <= 0 || c.Pending.Size > c.Size {
			panic(fmt.Sprintf("COMMITMENT_INVARIANT_PENDING_SIZE: %s pending=%d, size=%d",
				c.ID, c.Pending.Size, c.Size))
		}
	}
}

// Clone returns a deep copy.
func (c *RestingCommitment) Clone() *RestingCommitment {
	cp := *c
	if c.Pending != nil {
		p := *c.Pending
		cp.Pending = &p
	}
	return &cp
}

// NewCommitmentID derives a collision-free id from a persisted counter and the maker.
func NewCommitmentID(seq uint64, maker string) string {
	h := sha256.Sum256([]byte(maker))
	return fmt.Sprintf("droc-%016x-%s", seq, hex.EncodeToString(h[:4]))
}

// Outcome is how a commitment left the live set.
type Outcome string

const (
	OutcomeFilled Outcome = "FILLED"
	OutcomePruned Outcome = "PRUNED"
)

// Settlement is the tombstone of a destroyed commitment. Its presence
// prevents the id from ever becoming live again.
type Settlement struct {
	CommitmentID       string       `gorm:"primaryKey" json:"commitment_id"`
	Maker              string       `gorm:"index" json:"maker"`
	MarketID           string       `json:"market_id"`
	Price              quant.Ticks  `json:"price"`
	OriginalSize       quant.Units  `json:"original_size"`
	Expiry             quant.Slot   `json:"expiry"`
	Outcome            Outcome      `json:"outcome"`
	SettledSlot        quant.Slot   `json:"settled_slot"`
	CollateralReturned quant.Amount `json:"collateral_returned"`
	RewardPaid         bool         `json:"reward_paid"`
	RewardAmount       quant.Amount `json:"reward_amount"`
}

// SettlementOf builds the tombstone for c at slot.
func SettlementOf(c *RestingCommitment, outcome Outcome, slot quant.Slot) *Settlement {
	return &Settlement{
		CommitmentID:       c.ID,
		Maker:              c.Maker,
		MarketID:           c.MarketID,
		Price:              c.Price,
		OriginalSize:       c.OriginalSize,
		Expiry:             c.Expiry,
		Outcome:            outcome,
		SettledSlot:        slot,
		CollateralReturned: c.CollateralLocked,
	}
}

// RewardAccount accrues a maker's distributed rewards.
type RewardAccount struct {
	Maker       string       `gorm:"primaryKey" json:"maker"`
	Balance     quant.Amount `json:"balance"`
	UpdatedSlot quant.Slot   `json:"updated_slot"`
}

// Credit adds a non-negative amount. Panics on negative input or overflow.
func (r *RewardAccount) Credit(amount quant.Amount, slot quant.Slot) {
	if amount < 0 {
		panic(fmt.Sprintf("REWARD_NEGATIVE_CREDIT: %s amount %d", r.Maker, amount))
	}
	r.Balance = quant.Amount(safe.SafeAdd(int64(r.Balance), int64(amount)))
	r.UpdatedSlot = slot
}
