package domain

import (
	"strings"
	"testing"
)

func TestVault_Accounting(t *testing.T) {
	v := NewVault("main", "engine")

	v.Credit("alice", 1_000)
	v.Credit("bob", 500)
	v.Credit("alice", 250)
	v.Lock(10_000_000)
	v.VerifyInvariant()

	if got := v.DepositorIDs(); len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Errorf("DepositorIDs = %v", got)
	}
	if v.Depositors["alice"] != 1_250 {
		t.Errorf("alice contribution = %d, want 1250", v.Depositors["alice"])
	}
	if v.TotalDeposits != 1_750 {
		t.Errorf("TotalDeposits = %d, want 1750", v.TotalDeposits)
	}
	if v.EscrowBalance != 10_001_750 {
		t.Errorf("EscrowBalance = %d", v.EscrowBalance)
	}

	v.Release(10_000_000)
	v.VerifyInvariant()
	if v.LockedCollateral != 0 || v.EscrowBalance != 1_750 {
		t.Errorf("after release: locked=%d escrow=%d", v.LockedCollateral, v.EscrowBalance)
	}
}

func TestVault_ReleaseExceedsLocked(t *testing.T) {
	v := NewVault("main", "engine")
	v.Lock(100)

	defer func() {
		r := recover()
		if r == nil || !strings.Contains(r.(string), "VAULT_RELEASE_EXCEEDS_LOCKED") {
			t.Errorf("unexpected panic: %v", r)
		}
	}()
	v.Release(101)
}

func TestVault_VerifyInvariant(t *testing.T) {
	t.Run("deposit sum mismatch", func(t *testing.T) {
		v := NewVault("main", "engine")
		v.Credit("alice", 10)
		v.TotalDeposits = 11
		v.EscrowBalance = 11
		assertPanics(t, "VAULT_INVARIANT_DEPOSIT_SUM", v.VerifyInvariant)
	})

	t.Run("conservation", func(t *testing.T) {
		v := NewVault("main", "engine")
		v.Lock(10)
		v.EscrowBalance = 9
		assertPanics(t, "VAULT_INVARIANT_CONSERVATION", v.VerifyInvariant)
	})
}

func TestVault_Clone(t *testing.T) {
	v := NewVault("main", "engine")
	v.Credit("alice", 10)
	cp := v.Clone()
	cp.Credit("bob", 5)
	if v.HasDepositor("bob") {
		t.Error("Clone shares the depositor set")
	}
	if v.EscrowAccount() != "vault:main" {
		t.Errorf("EscrowAccount = %s", v.EscrowAccount())
	}
}

func assertPanics(t *testing.T, want string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic containing %s", want)
		}
		if !strings.Contains(r.(string), want) {
			t.Errorf("panic = %v, want %s", r, want)
		}
	}()
	fn()
}
