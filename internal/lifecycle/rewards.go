package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"droc_go/internal/domain"
	"droc_go/internal/event"
	"droc_go/internal/pricing"
	"droc_go/pkg/quant"
)

// RewardOutcome reports a reward distribution.
type RewardOutcome struct {
	CommitmentID string       `json:"commitment_id"`
	Maker        string       `json:"maker"`
	Amount       quant.Amount `json:"amount"`
	Balance      quant.Amount `json:"balance"`

	// Final is set for settled commitments, which are paid at most once.
	Final bool `json:"final"`

	// AlreadyPaid is set when an earlier call already paid: ever, for a
	// settled commitment, or in the current slot for a live one. A live
	// repeat reports a zero Amount.
	AlreadyPaid bool `json:"already_paid,omitempty"`
}

// DistributeRewards pays the maker of id from the rewards pool.
//
// A live commitment earns its full remaining-duration reward at the current
// slot, at most once per slot. Calls in later slots pay again, so callers
// that poll should space their calls accordingly. A settled commitment earns
// its reward as of its settlement slot, once; later calls return the
// recorded amount without paying.
func (c *Controller) DistributeRewards(ctx context.Context, id string) (RewardOutcome, error) {
	var out RewardOutcome
	err := c.atomic(ctx, "distribute_rewards", func(u *unit) error {
		rc, err := u.tx.Commitment(id)
		switch {
		case err == nil:
			out = RewardOutcome{CommitmentID: id, Maker: rc.Maker}
			if rc.RewardedAt(u.now.Slot) {
				out.AlreadyPaid = true
				acct, err := c.rewardAccount(u.tx, rc.Maker)
				if err != nil {
					return err
				}
				out.Balance = acct.Balance
				return nil
			}

			_, oracle, err := c.marketPrice(ctx, u.tx, rc.MarketID)
			if err != nil {
				return err
			}
			amount, err := c.pricing.Reward(rc, u.now.Slot, oracle)
			if err != nil {
				return err
			}
			rc.Rewarded = true
			rc.LastRewardSlot = u.now.Slot
			if err := u.tx.PutCommitment(rc); err != nil {
				return fmt.Errorf("put commitment: %w", err)
			}
			out.Amount = amount
		case errors.Is(err, domain.ErrNotFound):
			s, err := u.tx.Settlement(id)
			if err != nil {
				return err
			}
			out = RewardOutcome{CommitmentID: id, Maker: s.Maker, Final: true}
			if s.RewardPaid {
				out.Amount = s.RewardAmount
				out.AlreadyPaid = true
				acct, err := c.rewardAccount(u.tx, s.Maker)
				if err != nil {
					return err
				}
				out.Balance = acct.Balance
				return nil
			}

			_, oracle, err := c.marketPrice(ctx, u.tx, s.MarketID)
			if err != nil {
				return err
			}
			amount, err := c.pricing.ComputeReward(pricing.RewardInput{
				Price:         s.Price,
				Size:          s.OriginalSize,
				Expiry:        s.Expiry,
				Now:           s.SettledSlot,
				Oracle:        oracle,
				RatePerPeriod: c.pricing.Config().RatePerPeriod,
			})
			if err != nil {
				return err
			}
			s.RewardPaid = true
			s.RewardAmount = amount
			if err := u.tx.PutSettlement(s); err != nil {
				return fmt.Errorf("put settlement: %w", err)
			}
			out.Amount = amount
		default:
			return err
		}

		acct, err := c.rewardAccount(u.tx, out.Maker)
		if err != nil {
			return err
		}
		acct.Credit(out.Amount, u.now.Slot)
		if err := u.tx.PutRewardAccount(acct); err != nil {
			return fmt.Errorf("put reward account: %w", err)
		}
		out.Balance = acct.Balance

		if out.Amount > 0 {
			u.plan.Add(domain.Transfer{
				From:      c.cfg.RewardsPool,
				To:        out.Maker,
				Authority: c.cfg.RewardsAuthority,
				Amount:    out.Amount,
			})
		}
		u.emit(&event.RewardDistributedEvent{
			BaseEvent:    u.base(),
			CommitmentID: id,
			Maker:        out.Maker,
			Amount:       out.Amount,
			Balance:      out.Balance,
			Final:        out.Final,
		})
		return nil
	})
	if err != nil {
		return RewardOutcome{}, err
	}

	if !out.AlreadyPaid {
		c.metrics.RecordReward(int64(out.Amount))
		c.logger.Info("Reward distributed",
			slog.String("id", id),
			slog.String("maker", out.Maker),
			slog.Int64("amount", int64(out.Amount)),
			slog.Bool("final", out.Final))
	}
	return out, nil
}

func (c *Controller) rewardAccount(tx domain.Tx, maker string) (*domain.RewardAccount, error) {
	acct, err := tx.RewardAccount(maker)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.RewardAccount{Maker: maker}, nil
	}
	return acct, err
}
