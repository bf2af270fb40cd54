package vault

import (
	"context"
	"errors"
	"fmt"

	"droc_go/internal/domain"
	"droc_go/pkg/quant"
)

// Capability proves the holder may sign for a vault's escrow account.
// Only code constructed with the vault authority can mint one.
type Capability struct {
	signer string
}

// NewCapability binds a capability to signer.
func NewCapability(signer string) Capability {
	return Capability{signer: signer}
}

// Signer returns the identity the capability signs as.
func (c Capability) Signer() string { return c.signer }

// Plan collects the external side effects of one unit of work. They are
// applied after every state write has been staged.
type Plan struct {
	opens     []domain.Transfer // From=account, Authority=owner
	transfers []domain.Transfer
}

// Transfers returns the staged transfers.
func (p *Plan) Transfers() []domain.Transfer { return p.transfers }

// Empty reports whether nothing is staged.
func (p *Plan) Empty() bool { return len(p.opens) == 0 && len(p.transfers) == 0 }

func (p *Plan) open(account, owner string) {
	p.opens = append(p.opens, domain.Transfer{From: account, Authority: owner})
}

// Add stages a transfer.
func (p *Plan) Add(t domain.Transfer) {
	p.transfers = append(p.transfers, t)
}

// Ledger performs vault accounting inside a store transaction.
type Ledger struct {
	tokens domain.BatchTransferer
}

// NewLedger creates a ledger moving funds through tokens. A plan's transfers
// are always submitted as a single batch so a failing leg moves nothing.
func NewLedger(tokens domain.BatchTransferer) *Ledger {
	return &Ledger{tokens: tokens}
}

// Initialize creates an empty vault owned by authority.
func (l *Ledger) Initialize(tx domain.Tx, id, authority string, plan *Plan) (*domain.Vault, error) {
	if id == "" || authority == "" {
		return nil, fmt.Errorf("%w: id and authority are required", domain.ErrInvalidVault)
	}
	if _, err := tx.Vault(id); err == nil {
		return nil, fmt.Errorf("vault %s: %w", id, domain.ErrAlreadyExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	v := domain.NewVault(id, authority)
	if err := tx.PutVault(v); err != nil {
		return nil, fmt.Errorf("put vault: %w", err)
	}
	plan.open(v.EscrowAccount(), authority)
	return v, nil
}

// Deposit moves amount from the depositor into escrow and records the
// contribution. Depositor membership has set semantics.
func (l *Ledger) Deposit(tx domain.Tx, vaultID, depositor string, amount quant.Amount, plan *Plan) (*domain.Vault, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: deposit %d", domain.ErrInvalidAmount, amount)
	}
	if depositor == "" {
		return nil, fmt.Errorf("%w: empty depositor", domain.ErrInvalidAmount)
	}
	v, err := tx.Vault(vaultID)
	if err != nil {
		return nil, fmt.Errorf("vault %s: %w", vaultID, err)
	}

	v.Credit(depositor, amount)
	v.VerifyInvariant()
	if err := tx.PutVault(v); err != nil {
		return nil, fmt.Errorf("put vault: %w", err)
	}
	plan.Add(domain.Transfer{From: depositor, To: v.EscrowAccount(), Authority: depositor, Amount: amount})
	return v, nil
}

// Lock moves collateral from an external account into escrow.
func (l *Ledger) Lock(tx domain.Tx, v *domain.Vault, from string, amount quant.Amount, plan *Plan) error {
	if amount <= 0 {
		return fmt.Errorf("%w: lock %d", domain.ErrInvalidAmount, amount)
	}
	v.Lock(amount)
	v.VerifyInvariant()
	if err := tx.PutVault(v); err != nil {
		return fmt.Errorf("put vault: %w", err)
	}
	plan.Add(domain.Transfer{From: from, To: v.EscrowAccount(), Authority: from, Amount: amount})
	return nil
}

// Release moves collateral out of escrow to an external account. The
// capability must sign as the vault authority.
func (l *Ledger) Release(tx domain.Tx, auth Capability, v *domain.Vault, to string, amount quant.Amount, plan *Plan) error {
	if auth.Signer() != v.Authority {
		return fmt.Errorf("%w: %q cannot sign for vault %s", domain.ErrUnauthorized, auth.Signer(), v.ID)
	}
	if amount < 0 {
		return fmt.Errorf("%w: release %d", domain.ErrInvalidAmount, amount)
	}
	if amount > v.LockedCollateral {
		return fmt.Errorf("%w: release %d, locked %d", domain.ErrOverRelease, amount, v.LockedCollateral)
	}
	if amount == 0 {
		return nil
	}
	v.Release(amount)
	v.VerifyInvariant()
	if err := tx.PutVault(v); err != nil {
		return fmt.Errorf("put vault: %w", err)
	}
	plan.Add(domain.Transfer{From: v.EscrowAccount(), To: to, Authority: auth.Signer(), Amount: amount})
	return nil
}

// Execute applies the plan's side effects. Account opens run first, then
// the transfers as one batch.
func (l *Ledger) Execute(ctx context.Context, plan *Plan) error {
	if plan.Empty() {
		return nil
	}
	if opener, ok := l.tokens.(domain.AccountOpener); ok {
		for _, o := range plan.opens {
			if err := opener.OpenAccount(ctx, o.From, o.Authority); err != nil {
				return fmt.Errorf("open account %s: %w", o.From, err)
			}
		}
	}
	if len(plan.transfers) == 0 {
		return nil
	}
	if err := l.tokens.TransferBatch(ctx, plan.transfers); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}
	return nil
}
