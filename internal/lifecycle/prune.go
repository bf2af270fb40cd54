package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"droc_go/internal/domain"
	"droc_go/internal/event"
	"droc_go/pkg/quant"
)

// PruneTarget names an expired commitment and the account its collateral
// returns to. An empty Destination means the maker.
type PruneTarget struct {
	CommitmentID string `json:"commitment_id"`
	Destination  string `json:"destination,omitempty"`
}

// Skip reasons.
const (
	SkipNotFound     = "not_found"
	SkipLive         = "live"
	SkipUnauthorized = "unauthorized"
)

// Pruned is one destroyed commitment.
type Pruned struct {
	CommitmentID       string       `json:"commitment_id"`
	Maker              string       `json:"maker"`
	CollateralReleased quant.Amount `json:"collateral_released"`
}

// Skipped is one target left untouched.
type Skipped struct {
	CommitmentID string `json:"commitment_id"`
	Reason       string `json:"reason"`
}

// PruneReport lists what a prune batch did.
type PruneReport struct {
	Pruned  []Pruned  `json:"pruned"`
	Skipped []Skipped `json:"skipped,omitempty"`
}

// Count returns the number of pruned commitments.
func (r PruneReport) Count() int { return len(r.Pruned) }

// Released sums the collateral returned by the batch.
func (r PruneReport) Released() quant.Amount {
	var sum quant.Amount
	for _, p := range r.Pruned {
		sum += p.CollateralReleased
	}
	return sum
}

// PruneExpired destroys every expired target and returns its collateral to
// the maker. Missing or already-pruned ids and live commitments are skipped,
// so pruning twice never releases twice. The batch is all-or-nothing.
func (c *Controller) PruneExpired(ctx context.Context, targets []PruneTarget) (PruneReport, error) {
	var report PruneReport
	if len(targets) == 0 {
		return report, nil
	}
	err := c.atomic(ctx, "prune", func(u *unit) error {
		var err error
		report, err = c.prune(u, targets)
		return err
	})
	if err != nil {
		return PruneReport{}, err
	}
	c.recordPrune(report)
	return report, nil
}

// SweepExpired prunes up to limit expired commitments, oldest expiry first,
// returning collateral to their makers.
func (c *Controller) SweepExpired(ctx context.Context, limit int) (PruneReport, error) {
	var report PruneReport
	err := c.atomic(ctx, "sweep", func(u *unit) error {
		expired, err := u.tx.ListExpired(u.now.Slot, limit)
		if err != nil {
			return fmt.Errorf("list expired: %w", err)
		}
		targets := make([]PruneTarget, len(expired))
		for i, rc := range expired {
			targets[i] = PruneTarget{CommitmentID: rc.ID}
		}
		report, err = c.prune(u, targets)
		return err
	})
	if err != nil {
		return PruneReport{}, err
	}
	c.recordPrune(report)
	return report, nil
}

func (c *Controller) prune(u *unit, targets []PruneTarget) (PruneReport, error) {
	var report PruneReport
	for _, t := range targets {
		rc, err := u.tx.Commitment(t.CommitmentID)
		if errors.Is(err, domain.ErrNotFound) {
			report.Skipped = append(report.Skipped, Skipped{t.CommitmentID, SkipNotFound})
			continue
		}
		if err != nil {
			return PruneReport{}, err
		}
		if !rc.Expired(u.now.Slot) {
			report.Skipped = append(report.Skipped, Skipped{t.CommitmentID, SkipLive})
			continue
		}
		if t.Destination != "" && t.Destination != rc.Maker {
			report.Skipped = append(report.Skipped, Skipped{t.CommitmentID, SkipUnauthorized})
			continue
		}

		released, err := c.destroy(u, rc, domain.OutcomePruned)
		if err != nil {
			return PruneReport{}, err
		}
		report.Pruned = append(report.Pruned, Pruned{CommitmentID: rc.ID, Maker: rc.Maker, CollateralReleased: released})
		u.emit(&event.PruneEvent{
			BaseEvent:          u.base(),
			CommitmentID:       rc.ID,
			Maker:              rc.Maker,
			CollateralReleased: released,
		})
	}
	return report, nil
}

func (c *Controller) recordPrune(r PruneReport) {
	if r.Count() == 0 {
		return
	}
	c.metrics.RecordPrune(r.Count())
	c.logger.Info("Expired commitments pruned",
		slog.Int("count", r.Count()),
		slog.Int("skipped", len(r.Skipped)),
		slog.Int64("released", int64(r.Released())))
}
