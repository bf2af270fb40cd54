package domain

import (
	"fmt"
	"sort"

	"droc_go/pkg/quant"
	"droc_go/pkg/safe"
)

// Vault is a pooled escrow backing maker collateral and depositor funds.
// Withdrawals are not modeled, so EscrowBalance only moves through
// deposits, collateral locks and collateral releases.
type Vault struct {
	ID               string                  `json:"vault_id"`
	Authority        string                  `json:"authority"`
	TotalDeposits    quant.Amount            `json:"total_deposits"`
	EscrowBalance    quant.Amount            `json:"escrow_balance"`
	LockedCollateral quant.Amount            `json:"locked_collateral"`
	Depositors       map[string]quant.Amount `json:"depositors"`
}

// NewVault creates an empty vault.
func NewVault(id, authority string) *Vault {
	return &Vault{
		ID:         id,
		Authority:  authority,
		Depositors: make(map[string]quant.Amount),
	}
}

// EscrowAccount is the token account holding this vault's funds.
func (v *Vault) EscrowAccount() string {
	return "vault:" + v.ID
}

// HasDepositor reports set membership.
func (v *Vault) HasDepositor(id string) bool {
	_, ok := v.Depositors[id]
	return ok
}

// DepositorIDs returns the depositor set in sorted order.
func (v *Vault) DepositorIDs() []string {
	ids := make([]string, 0, len(v.Depositors))
	for id := range v.Depositors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Credit records a deposit. Membership is idempotent.
func (v *Vault) Credit(depositor string, amount quant.Amount) {
	if amount <= 0 {
		panic(fmt.Sprintf("VAULT_NONPOSITIVE_DEPOSIT: %s amount %d", v.ID, amount))
	}
	if v.Depositors == nil {
		v.Depositors = make(map[string]quant.Amount)
	}
	v.Depositors[depositor] = quant.Amount(safe.SafeAdd(int64(v.Depositors[depositor]), int64(amount)))
	v.TotalDeposits = quant.Amount(safe.SafeAdd(int64(v.TotalDeposits), int64(amount)))
	v.EscrowBalance = quant.Amount(safe.SafeAdd(int64(v.EscrowBalance), int64(amount)))
}

// Lock records collateral moved into escrow.
func (v *Vault) Lock(amount quant.Amount) {
	if amount <= 0 {
		panic(fmt.Sprintf("VAULT_NONPOSITIVE_LOCK: %s amount %d", v.ID, amount))
	}
	v.LockedCollateral = quant.Amount(safe.SafeAdd(int64(v.LockedCollateral), int64(amount)))
	v.EscrowBalance = quant.Amount(safe.SafeAdd(int64(v.EscrowBalance), int64(amount)))
}

// Release records collateral moved out of escrow.
func (v *Vault) Release(amount quant.Amount) {
	if amount > v.LockedCollateral {
		panic(fmt.Sprintf("VAULT_RELEASE_EXCEEDS_LOCKED: %s release %d, locked %d",
			v.ID, amount, v.LockedCollateral))
	}
	v.LockedCollateral = quant.Amount(safe.SafeSub(int64(v.LockedCollateral), int64(amount)))
	v.EscrowBalance = quant.Amount(safe.SafeSub(int64(v.EscrowBalance), int64(amount)))
}

// VerifyInvariant checks the vault's accounting identities.
// Call this after any state change to ensure data integrity.
func (v *Vault) VerifyInvariant() {
	if v.TotalDeposits < 0 || v.EscrowBalance < 0 || v.LockedCollateral < 0 {
		panic(fmt.Sprintf("VAULT_INVARIANT_NEGATIVE: %s deposits=%d escrow=%d locked=%d",
			v.ID, v.TotalDeposits, v.EscrowBalance, v.LockedCollateral))
	}

	var sum int64
	for _, c := range v.Depositors {
		sum = safe.SafeAdd(sum, int64(c))
	}
	if quant.Amount(sum) != v.TotalDeposits {
		panic(fmt.Sprintf("VAULT_INVARIANT_DEPOSIT_SUM: %s contributions=%d, total=%d",
			v.ID, sum, v.TotalDeposits))
	}

	if safe.SafeAdd(int64(v.LockedCollateral), int64(v.TotalDeposits)) != int64(v.EscrowBalance) {
		panic(fmt.Sprintf("VAULT_INVARIANT_CONSERVATION: %s escrow=%d, locked=%d, deposits=%d",
			v.ID, v.EscrowBalance, v.LockedCollateral, v.TotalDeposits))
	}
}

// Clone returns a deep copy.
func (v *Vault) Clone() *Vault {
	cp := *v
	cp.Depositors = make(map[string]quant.Amount, len(v.Depositors))
	for k, a := range v.Depositors {
		cp.Depositors[k] = a
	}
	return &cp
}
