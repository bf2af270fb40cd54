package lifecycle

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

const sweeperMetaKey = "sweeper.last_slot"

// Metadata persists small key/value markers between runs.
type Metadata interface {
	GetMetadata(ctx context.Context, key string) (string, error)
	UpsertMetadata(ctx context.Context, key, value string, ts int64) error
}

// Sweeper prunes expired commitments in the background so collateral does
// not wait for an explicit prune request.
type Sweeper struct {
	ctl      *Controller
	interval time.Duration
	batch    int
	meta     Metadata
	logger   *slog.Logger
}

// NewSweeper creates a sweeper. meta may be nil.
func NewSweeper(ctl *Controller, interval time.Duration, batch int, meta Metadata, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if batch <= 0 {
		batch = 256
	}
	return &Sweeper{
		ctl:      ctl,
		interval: interval,
		batch:    batch,
		meta:     meta,
		logger:   logger.With(slog.String("component", "sweeper")),
	}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.meta != nil {
		if last, err := s.meta.GetMetadata(ctx, sweeperMetaKey); err == nil && last != "" {
			s.logger.Info("Sweeper resuming", slog.String("last_slot", last))
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("Sweep failed", slog.Any("error", err))
			}
		}
	}
}

// SweepOnce prunes batches until no expired commitment remains and returns
// how many were pruned.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		report, err := s.ctl.SweepExpired(ctx, s.batch)
		if err != nil {
			return total, err
		}
		total += report.Count()
		if report.Count() < s.batch {
			break
		}
	}

	if s.meta != nil {
		now := s.ctl.Now()
		slot := strconv.FormatInt(int64(now.Slot), 10)
		if err := s.meta.UpsertMetadata(ctx, sweeperMetaKey, slot, now.Wall.UnixMicro()); err != nil {
			return total, err
		}
	}
	return total, nil
}
