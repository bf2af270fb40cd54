package lifecycle

import (
	"errors"
	"testing"

	"droc_go/internal/domain"
	"droc_go/pkg/quant"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestLifecycleProperties drives random operation sequences and checks after
// every step that escrow is conserved, collateral leaves escrow at most once
// per commitment, and sizes stay within [0, original].
func TestLifecycleProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t)
		mustMint(t, f.book, "lp", 1_000_000)
		f.supply = f.book.Total()

		var ids []string
		locked := map[string]quant.Amount{}
		released := map[string]int{}

		release := func(id string, amount quant.Amount) {
			if amount == 0 {
				return
			}
			released[id]++
			require.Equal(rt, 1, released[id], "collateral of %s released twice", id)
			require.Equal(rt, locked[id], amount, "partial release of %s", id)
		}

		steps := rapid.IntRange(1, 60).Draw(rt, "steps").(int)
		for i := 0; i < steps; i++ {
			var err error
			switch rapid.IntRange(0, 6).Draw(rt, "op").(int) {
			case 0:
				req := request(func(r *SubmitRequest) {
					r.Price = quant.Ticks(rapid.IntRange(985, 1015).Draw(rt, "price").(int))
					r.Size = quant.Units(rapid.IntRange(0, 50).Draw(rt, "size").(int))
					r.ExpiryDuration = quant.Slot(rapid.IntRange(1, 20).Draw(rt, "duration").(int))
					r.Collateral = quant.Amount(rapid.Int64Range(9_000_000, 20_000_000).Draw(rt, "collateral").(int64))
					r.JITEnabled = rapid.Bool().Draw(rt, "jit").(bool)
				})
				var id string
				id, err = f.ctl.Submit(f.ctx, req)
				if err == nil {
					ids = append(ids, id)
					locked[id] = req.Collateral
				}

			case 1:
				if len(ids) == 0 {
					continue
				}
				id := rapid.SampledFrom(ids).Draw(rt, "match_id").(string)
				size := quant.Units(rapid.IntRange(-1, 60).Draw(rt, "taker_size").(int))
				before, lookupErr := f.ctl.Commitment(f.ctx, id)

				var out MatchOutcome
				out, err = f.ctl.Match(f.ctx, id, taker, size)
				if err == nil {
					release(id, out.CollateralReleased)
				}
				if errors.Is(err, domain.ErrSizeTooLarge) {
					require.NoError(rt, lookupErr)
					after, _ := f.ctl.Commitment(f.ctx, id)
					require.Equal(rt, before, after, "rejected match mutated %s", id)
				}

			case 2:
				if len(ids) == 0 {
					continue
				}
				id := rapid.SampledFrom(ids).Draw(rt, "jit_id").(string)
				var adjusted *quant.Ticks
				if rapid.Bool().Draw(rt, "adjust").(bool) {
					p := quant.Ticks(rapid.IntRange(985, 1015).Draw(rt, "adjusted").(int))
					adjusted = &p
				}
				var out JITOutcome
				out, err = f.ctl.JitConfirm(f.ctx, id, adjusted, rapid.Bool().Draw(rt, "accept").(bool))
				if err == nil {
					release(id, out.CollateralReleased)
				}

			case 3:
				f.clock.Advance(quant.Slot(rapid.IntRange(0, 6).Draw(rt, "advance").(int)))

			case 4:
				var targets []PruneTarget
				for _, id := range ids {
					if rapid.Bool().Draw(rt, "prune_pick").(bool) {
						targets = append(targets, PruneTarget{CommitmentID: id})
					}
				}
				var rep PruneReport
				rep, err = f.ctl.PruneExpired(f.ctx, targets)
				for _, p := range rep.Pruned {
					release(p.CommitmentID, p.CollateralReleased)
				}

			case 5:
				if len(ids) == 0 {
					continue
				}
				_, err = f.ctl.DistributeRewards(f.ctx, rapid.SampledFrom(ids).Draw(rt, "reward_id").(string))

			case 6:
				_, err = f.ctl.Deposit(f.ctx, "main", "lp", quant.Amount(rapid.IntRange(0, 1000).Draw(rt, "deposit").(int)))
			}

			if err != nil {
				require.NotEqual(rt, domain.KindInternal, domain.KindOf(err), "unclassified error: %v", err)
			}

			r, cerr := f.ctl.CheckConservation(f.ctx, "main")
			require.NoError(rt, cerr)
			require.True(rt, r.Balanced, "conservation broken: %+v", r)
			require.Equal(rt, f.supply, f.book.Total())

			for _, id := range ids {
				c, err := f.ctl.Commitment(f.ctx, id)
				if errors.Is(err, domain.ErrNotFound) {
					continue
				}
				require.NoError(rt, err)
				require.GreaterOrEqual(rt, int64(c.Size), int64(0))
				require.LessOrEqual(rt, int64(c.Size), int64(c.OriginalSize))
				require.Equal(rt, locked[id], c.CollateralLocked)
			}
		}
	})
}
