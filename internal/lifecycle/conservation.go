package lifecycle

import (
	"context"

	"droc_go/internal/domain"
	"droc_go/pkg/quant"
)

// balanceReader is implemented by token primitives that expose balances.
type balanceReader interface {
	Balance(id string) quant.Amount
}

// ConservationReport compares a vault's books with its live commitments and,
// when readable, the escrow token balance.
type ConservationReport struct {
	VaultID             string        `json:"vault_id"`
	TotalDeposits       quant.Amount  `json:"total_deposits"`
	EscrowBalance       quant.Amount  `json:"escrow_balance"`
	LockedCollateral    quant.Amount  `json:"locked_collateral"`
	CommittedCollateral quant.Amount  `json:"committed_collateral"` // sum over live commitments
	TokenBalance        *quant.Amount `json:"token_balance,omitempty"`
	Balanced            bool          `json:"balanced"`
}

// CheckConservation verifies escrow == locked + deposits, that locked equals
// the collateral of live commitments, and that the escrow account holds
// exactly the booked escrow.
func (c *Controller) CheckConservation(ctx context.Context, vaultID string) (ConservationReport, error) {
	var r ConservationReport
	err := c.repo.View(ctx, func(tx domain.Tx) error {
		v, err := tx.Vault(vaultID)
		if err != nil {
			return err
		}
		committed, err := tx.LockedCollateral(vaultID)
		if err != nil {
			return err
		}
		r = ConservationReport{
			VaultID:             v.ID,
			TotalDeposits:       v.TotalDeposits,
			EscrowBalance:       v.EscrowBalance,
			LockedCollateral:    v.LockedCollateral,
			CommittedCollateral: committed,
		}
		r.Balanced = v.EscrowBalance == v.LockedCollateral+v.TotalDeposits &&
			v.LockedCollateral == committed
		if br, ok := c.tokens.(balanceReader); ok {
			bal := br.Balance(v.EscrowAccount())
			r.TokenBalance = &bal
			r.Balanced = r.Balanced && bal == v.EscrowBalance
		}
		return nil
	})
	return r, err
}
