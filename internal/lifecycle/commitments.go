package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"droc_go/internal/domain"
	"droc_go/internal/event"
	"droc_go/pkg/quant"
	"droc_go/pkg/safe"
)

// SubmitRequest describes a new resting commitment.
type SubmitRequest struct {
	Maker          string
	MarketID       string
	Side           domain.Side
	Price          quant.Ticks
	Size           quant.Units
	ExpiryDuration quant.Slot // slots from now
	Collateral     quant.Amount
	JITEnabled     bool
}

func (c *Controller) validateSubmit(req SubmitRequest) error {
	if req.Collateral < c.cfg.MinCollateral {
		return fmt.Errorf("%w: %d below minimum %d", domain.ErrInsufficientCollateral, req.Collateral, c.cfg.MinCollateral)
	}
	if req.Size <= 0 {
		return fmt.Errorf("%w: %d", domain.ErrInvalidSize, req.Size)
	}
	if req.ExpiryDuration <= 0 || req.ExpiryDuration > c.cfg.MaxExpiry {
		return fmt.Errorf("%w: duration %d not in (0, %d]", domain.ErrInvalidExpiry, req.ExpiryDuration, c.cfg.MaxExpiry)
	}
	if !req.Side.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidSide, req.Side)
	}
	if req.Maker == "" {
		return fmt.Errorf("%w: missing maker", domain.ErrUnauthorized)
	}
	return nil
}

// Submit validates and locks collateral for a new commitment and returns its id.
func (c *Controller) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if err := c.validateSubmit(req); err != nil {
		c.metrics.RecordError()
		return "", err
	}

	var id string
	err := c.atomic(ctx, "submit", func(u *unit) error {
		m, oracle, err := c.marketPrice(ctx, u.tx, req.MarketID)
		if err != nil {
			return err
		}
		if err := c.pricing.ValidatePrice(req.Price, oracle); err != nil {
			return err
		}

		v, err := u.tx.Vault(c.cfg.VaultID)
		if err != nil {
			return fmt.Errorf("collateral vault %s: %w", c.cfg.VaultID, err)
		}
		if err := c.ledger.Lock(u.tx, v, req.Maker, req.Collateral, u.plan); err != nil {
			return err
		}

		seq, err := u.tx.NextSequence(commitmentSequence)
		if err != nil {
			return fmt.Errorf("commitment sequence: %w", err)
		}
		rc := &domain.RestingCommitment{
			ID:               domain.NewCommitmentID(seq, req.Maker),
			Maker:            req.Maker,
			MarketID:         m.ID,
			VaultID:          v.ID,
			Side:             req.Side,
			Price:            req.Price,
			Size:             req.Size,
			OriginalSize:     req.Size,
			Expiry:           quant.Slot(safe.SafeAdd(int64(u.now.Slot), int64(req.ExpiryDuration))),
			CollateralLocked: req.Collateral,
			JITEnabled:       req.JITEnabled,
			CreatedSlot:      u.now.Slot,
		}
		rc.VerifyInvariant()
		if err := u.tx.PutCommitment(rc); err != nil {
			return fmt.Errorf("put commitment: %w", err)
		}
		id = rc.ID

		u.emit(&event.SubmitEvent{
			BaseEvent:    u.base(),
			CommitmentID: rc.ID,
			Maker:        rc.Maker,
			MarketID:     rc.MarketID,
			Side:         string(rc.Side),
			Price:        rc.Price,
			Size:         rc.Size,
			Expiry:       rc.Expiry,
			Collateral:   rc.CollateralLocked,
			JITEnabled:   rc.JITEnabled,
			OraclePrice:  oracle,
		})
		return nil
	})
	if err != nil {
		return "", err
	}

	c.metrics.RecordSubmit()
	c.logger.Info("Commitment submitted",
		slog.String("id", id),
		slog.String("maker", req.Maker),
		slog.String("market", req.MarketID),
		slog.Int64("price", int64(req.Price)),
		slog.Int64("size", int64(req.Size)),
		slog.Bool("jit", req.JITEnabled))
	return id, nil
}

// MatchOutcome reports what a match did.
type MatchOutcome struct {
	CommitmentID string `json:"commitment_id"`

	// Deferred is set when the maker must confirm within Deadline.
	Deferred bool       `json:"deferred"`
	Deadline quant.Slot `json:"deadline,omitempty"`

	FillResult
}

// FillResult is the effect of settling a quantity against a commitment.
type FillResult struct {
	Filled             quant.Units  `json:"filled"`
	Price              quant.Ticks  `json:"price"`
	Remaining          quant.Units  `json:"remaining"`
	Completed          bool         `json:"completed"`
	CollateralReleased quant.Amount `json:"collateral_released"`
}

// Match applies a taker's fill. JIT-enabled commitments record a pending
// request instead and wait for JitConfirm.
func (c *Controller) Match(ctx context.Context, id, taker string, takerSize quant.Units) (MatchOutcome, error) {
	var out MatchOutcome
	err := c.atomic(ctx, "match", func(u *unit) error {
		rc, err := u.tx.Commitment(id)
		if err != nil {
			return err
		}
		if rc.Expired(u.now.Slot) {
			return fmt.Errorf("%w: %s expired at slot %d", domain.ErrOrderExpired, id, rc.Expiry)
		}
		if takerSize <= 0 {
			return fmt.Errorf("%w: taker size %d", domain.ErrInvalidSize, takerSize)
		}
		if takerSize > rc.Size {
			return fmt.Errorf("%w: taker size %d, remaining %d", domain.ErrSizeTooLarge, takerSize, rc.Size)
		}
		if taker == "" {
			return fmt.Errorf("%w: missing taker", domain.ErrUnauthorized)
		}
		out.CommitmentID = id

		if rc.JITEnabled {
			if rc.JITPending(u.now.Slot) {
				return fmt.Errorf("%w: %s awaits confirmation until slot %d", domain.ErrJITPending, id, rc.Pending.Deadline)
			}
			deadline := quant.Slot(safe.SafeAdd(int64(u.now.Slot), int64(c.cfg.JITWindow)))
			rc.Pending = &domain.PendingMatch{Taker: taker, Size: takerSize, Deadline: deadline}
			rc.VerifyInvariant()
			if err := u.tx.PutCommitment(rc); err != nil {
				return fmt.Errorf("put commitment: %w", err)
			}
			out.Deferred = true
			out.Deadline = deadline
			out.Price = rc.Price
			out.Remaining = rc.Size

			u.emit(&event.MatchEvent{BaseEvent: u.base(), CommitmentID: id, Taker: taker, Size: takerSize, Deferred: true})
			u.emit(&event.JITRequestEvent{
				BaseEvent:    u.base(),
				CommitmentID: id,
				Maker:        rc.Maker,
				Taker:        taker,
				Size:         takerSize,
				Deadline:     deadline,
			})
			return nil
		}

		u.emit(&event.MatchEvent{BaseEvent: u.base(), CommitmentID: id, Taker: taker, Size: takerSize})
		res, err := c.fill(u, rc, taker, takerSize)
		if err != nil {
			return err
		}
		out.FillResult = res
		return nil
	})
	if err != nil {
		return MatchOutcome{}, err
	}

	c.metrics.RecordMatch()
	if out.Deferred {
		c.metrics.RecordJITRequest()
		c.logger.Info("JIT confirmation requested",
			slog.String("id", id),
			slog.String("taker", taker),
			slog.Int64("size", int64(takerSize)),
			slog.Int64("deadline", int64(out.Deadline)))
	} else {
		c.metrics.RecordFill(out.Completed)
	}
	return out, nil
}

// fill settles qty at the commitment's price. A fill that exhausts the size
// releases the full collateral to the maker and destroys the commitment.
func (c *Controller) fill(u *unit, rc *domain.RestingCommitment, taker string, qty quant.Units) (FillResult, error) {
	completed := rc.Fill(qty)
	rc.Pending = nil
	res := FillResult{Filled: qty, Price: rc.Price, Remaining: rc.Size, Completed: completed}

	if completed {
		released, err := c.destroy(u, rc, domain.OutcomeFilled)
		if err != nil {
			return FillResult{}, err
		}
		res.CollateralReleased = released
	} else {
		rc.VerifyInvariant()
		if err := u.tx.PutCommitment(rc); err != nil {
			return FillResult{}, fmt.Errorf("put commitment: %w", err)
		}
	}

	u.emit(&event.FillEvent{
		BaseEvent:          u.base(),
		CommitmentID:       rc.ID,
		Taker:              taker,
		Size:               qty,
		Price:              rc.Price,
		Remaining:          rc.Size,
		Completed:          completed,
		CollateralReleased: res.CollateralReleased,
	})
	return res, nil
}

// destroy releases the locked collateral to the maker, deletes the live
// record and writes its settlement.
func (c *Controller) destroy(u *unit, rc *domain.RestingCommitment, outcome domain.Outcome) (quant.Amount, error) {
	v, err := u.tx.Vault(rc.VaultID)
	if err != nil {
		return 0, fmt.Errorf("vault %s: %w", rc.VaultID, err)
	}
	if err := c.ledger.Release(u.tx, c.auth, v, rc.Maker, rc.CollateralLocked, u.plan); err != nil {
		return 0, err
	}
	if err := u.tx.DeleteCommitment(rc.ID); err != nil {
		return 0, fmt.Errorf("delete commitment: %w", err)
	}
	if err := u.tx.PutSettlement(domain.SettlementOf(rc, outcome, u.now.Slot)); err != nil {
		return 0, fmt.Errorf("put settlement: %w", err)
	}
	return rc.CollateralLocked, nil
}

// JITOutcome reports the maker's decision on a pending match.
type JITOutcome struct {
	CommitmentID string `json:"commitment_id"`
	Accepted     bool   `json:"accepted"`
	Taker        string `json:"taker"`

	FillResult
}

// JitConfirm accepts or rejects the pending match of a JIT commitment.
// On accept the adjusted price, or the original when nil, must sit inside the
// oracle band; it becomes the commitment price and exactly the pending size fills.
func (c *Controller) JitConfirm(ctx context.Context, id string, adjustedPrice *quant.Ticks, accept bool) (JITOutcome, error) {
	var out JITOutcome
	err := c.atomic(ctx, "jit_confirm", func(u *unit) error {
		rc, err := u.tx.Commitment(id)
		if err != nil {
			return err
		}
		if rc.Expired(u.now.Slot) {
			return fmt.Errorf("%w: %s expired at slot %d", domain.ErrOrderExpired, id, rc.Expiry)
		}
		if !rc.JITEnabled {
			return fmt.Errorf("%w: %s", domain.ErrJITNotEnabled, id)
		}
		if rc.Pending == nil {
			return fmt.Errorf("%w: %s", domain.ErrNoPendingMatch, id)
		}
		if rc.Pending.Stale(u.now.Slot) {
			return fmt.Errorf("%w: deadline %d, now %d", domain.ErrJITWindowElapsed, rc.Pending.Deadline, u.now.Slot)
		}

		pending := *rc.Pending
		out.CommitmentID = id
		out.Taker = pending.Taker

		if !accept {
			rc.Pending = nil
			if err := u.tx.PutCommitment(rc); err != nil {
				return fmt.Errorf("put commitment: %w", err)
			}
			out.Price = rc.Price
			out.Remaining = rc.Size
			u.emit(&event.JITRejectEvent{BaseEvent: u.base(), CommitmentID: id, Taker: pending.Taker, Size: pending.Size})
			return nil
		}

		price := rc.Price
		if adjustedPrice != nil {
			price = *adjustedPrice
		}
		_, oracle, err := c.marketPrice(ctx, u.tx, rc.MarketID)
		if err != nil {
			return err
		}
		if err := c.pricing.ValidatePrice(price, oracle); err != nil {
			return err
		}
		rc.Price = price
		out.Accepted = true

		u.emit(&event.JITConfirmEvent{BaseEvent: u.base(), CommitmentID: id, Taker: pending.Taker, Size: pending.Size, Price: price})
		res, err := c.fill(u, rc, pending.Taker, pending.Size)
		if err != nil {
			return err
		}
		out.FillResult = res
		return nil
	})
	if err != nil {
		return JITOutcome{}, err
	}

	if out.Accepted {
		c.metrics.RecordJITConfirm()
		c.metrics.RecordFill(out.Completed)
	} else {
		c.metrics.RecordJITReject()
	}
	c.logger.Info("JIT decision",
		slog.String("id", id),
		slog.Bool("accepted", out.Accepted),
		slog.Int64("filled", int64(out.Filled)),
		slog.Bool("completed", out.Completed))
	return out, nil
}
