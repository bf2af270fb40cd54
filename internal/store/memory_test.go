package store

import (
	"context"
	"errors"
	"testing"

	"droc_go/internal/domain"
)

func TestMemory_AtomicRollback(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	boom := errors.New("boom")

	err := m.Atomic(ctx, func(tx domain.Tx) error {
		if err := tx.PutVault(domain.NewVault("main", "engine")); err != nil {
			return err
		}
		if _, err := tx.Vault("main"); err != nil {
			t.Errorf("staged write not visible inside tx: %v", err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Atomic err = %v", err)
	}

	_ = m.View(ctx, func(tx domain.Tx) error {
		if _, err := tx.Vault("main"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("rolled back vault visible: %v", err)
		}
		return nil
	})
}

func TestMemory_CommitmentVersioning(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	c := &domain.RestingCommitment{ID: "droc-1", Maker: "alice", Size: 10, OriginalSize: 10, Expiry: 5}

	if err := m.Atomic(ctx, func(tx domain.Tx) error { return tx.PutCommitment(c) }); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if c.Version != 1 {
		t.Fatalf("Version = %d, want 1", c.Version)
	}

	t.Run("duplicate insert", func(t *testing.T) {
		dup := &domain.RestingCommitment{ID: "droc-1"}
		err := m.Atomic(ctx, func(tx domain.Tx) error { return tx.PutCommitment(dup) })
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Errorf("err = %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("stale update", func(t *testing.T) {
		stale := c.Clone()
		fresh := c.Clone()
		if err := m.Atomic(ctx, func(tx domain.Tx) error { return tx.PutCommitment(fresh) }); err != nil {
			t.Fatalf("fresh update: %v", err)
		}
		err := m.Atomic(ctx, func(tx domain.Tx) error { return tx.PutCommitment(stale) })
		if !errors.Is(err, domain.ErrConcurrentModification) || !domain.IsRetriable(err) {
			t.Errorf("err = %v, want retriable ErrConcurrentModification", err)
		}
	})

	t.Run("no resurrection after settlement", func(t *testing.T) {
		err := m.Atomic(ctx, func(tx domain.Tx) error {
			cur, err := tx.Commitment("droc-1")
			if err != nil {
				return err
			}
			if err := tx.DeleteCommitment(cur.ID); err != nil {
				return err
			}
			return tx.PutSettlement(domain.SettlementOf(cur, domain.OutcomePruned, 6))
		})
		if err != nil {
			t.Fatalf("settle: %v", err)
		}
		again := &domain.RestingCommitment{ID: "droc-1"}
		err = m.Atomic(ctx, func(tx domain.Tx) error { return tx.PutCommitment(again) })
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Errorf("err = %v, want ErrAlreadyExists", err)
		}
	})
}

func TestMemory_ListExpiredAndLocked(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	err := m.Atomic(ctx, func(tx domain.Tx) error {
		for _, c := range []*domain.RestingCommitment{
			{ID: "b", VaultID: "main", Expiry: 10, CollateralLocked: 100},
			{ID: "a", VaultID: "main", Expiry: 10, CollateralLocked: 200},
			{ID: "c", VaultID: "main", Expiry: 5, CollateralLocked: 300},
			{ID: "d", VaultID: "other", Expiry: 50, CollateralLocked: 400},
		} {
			if err := tx.PutCommitment(c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	_ = m.View(ctx, func(tx domain.Tx) error {
		got, _ := tx.ListExpired(10, 0)
		if len(got) != 3 || got[0].ID != "c" || got[1].ID != "a" || got[2].ID != "b" {
			t.Errorf("ListExpired order wrong: %v", ids(got))
		}
		got, _ = tx.ListExpired(10, 1)
		if len(got) != 1 {
			t.Errorf("limit ignored: %v", ids(got))
		}
		locked, _ := tx.LockedCollateral("main")
		if locked != 600 {
			t.Errorf("LockedCollateral = %d, want 600", locked)
		}
		if err := tx.PutVault(domain.NewVault("x", "y")); err == nil {
			t.Error("write succeeded in read-only view")
		}
		return nil
	})
}

func TestMemory_NextSequence(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var first, second uint64
	_ = m.Atomic(ctx, func(tx domain.Tx) error {
		first, _ = tx.NextSequence("commitment")
		second, _ = tx.NextSequence("commitment")
		return nil
	})
	_ = m.Atomic(ctx, func(tx domain.Tx) error {
		_, _ = tx.NextSequence("commitment")
		return errors.New("rollback")
	})
	var third uint64
	_ = m.Atomic(ctx, func(tx domain.Tx) error {
		third, _ = tx.NextSequence("commitment")
		return nil
	})

	if first != 1 || second != 2 || third != 3 {
		t.Errorf("sequence = %d, %d, %d; want 1, 2, 3", first, second, third)
	}
}

func ids(cs []*domain.RestingCommitment) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}
