package token

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"droc_go/internal/domain"
	"droc_go/pkg/quant"
	"droc_go/pkg/safe"
)

// Account is a token balance controlled by Owner.
type Account struct {
	ID      string       `json:"id"`
	Owner   string       `json:"owner"`
	Balance quant.Amount `json:"balance"`
}

// Book is an in-process token ledger implementing domain.TokenTransfer.
// Transfers require the caller's authority to own the source account.
type Book struct {
	mu       sync.Mutex
	accounts map[string]*Account
}

// NewBook creates an empty ledger.
func NewBook() *Book {
	return &Book{accounts: make(map[string]*Account)}
}

// get returns the account, creating a self-owned one if absent.
func (b *Book) get(id string) *Account {
	a, ok := b.accounts[id]
	if !ok {
		a = &Account{ID: id, Owner: id}
		b.accounts[id] = a
	}
	return a
}

// OpenAccount creates id owned by owner. Reopening with the same owner is a no-op.
func (b *Book) OpenAccount(_ context.Context, id, owner string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if a, ok := b.accounts[id]; ok {
		if a.Owner != owner {
			return fmt.Errorf("%w: account %s owned by %s", domain.ErrAlreadyExists, id, a.Owner)
		}
		return nil
	}
	b.accounts[id] = &Account{ID: id, Owner: owner}
	return nil
}

// Mint credits an account out of thin air. Used for faucets and tests.
func (b *Book) Mint(id string, amount quant.Amount) error {
	if amount <= 0 {
		return fmt.Errorf("%w: mint %d", domain.ErrInvalidAmount, amount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	a := b.get(id)
	a.Balance = quant.Amount(safe.SafeAdd(int64(a.Balance), int64(amount)))
	return nil
}

// Balance returns the balance of id, zero when unknown.
func (b *Book) Balance(id string) quant.Amount {
	b.mu.Lock()
	defer b.mu.Unlock()

	if a, ok := b.accounts[id]; ok {
		return a.Balance
	}
	return 0
}

// Transfer moves amount from one account to another.
func (b *Book) Transfer(ctx context.Context, from, to, authority string, amount quant.Amount) error {
	return b.TransferBatch(ctx, []domain.Transfer{{From: from, To: to, Authority: authority, Amount: amount}})
}

// TransferBatch validates every leg against running balances before
// applying any of them, so either all legs move or none do.
func (b *Book) TransferBatch(_ context.Context, batch []domain.Transfer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pending := make(map[string]int64)
	balance := func(id string) int64 {
		if v, ok := pending[id]; ok {
			return v
		}
		if a, ok := b.accounts[id]; ok {
			return int64(a.Balance)
		}
		return 0
	}

	for i, t := range batch {
		if t.Amount < 0 {
			return fmt.Errorf("leg %d: %w: %d", i, domain.ErrInvalidAmount, t.Amount)
		}
		if t.Amount == 0 || t.From == t.To {
			continue
		}
		owner := t.From
		if a, ok := b.accounts[t.From]; ok {
			owner = a.Owner
		}
		if owner != t.Authority {
			return fmt.Errorf("leg %d: %w: %s cannot debit %s", i, domain.ErrUnauthorized, t.Authority, t.From)
		}
		have := balance(t.From)
		if have < int64(t.Amount) {
			return fmt.Errorf("leg %d: %w: %s has %d, need %d", i, domain.ErrInsufficientFunds, t.From, have, t.Amount)
		}
		pending[t.From] = have - int64(t.Amount)
		pending[t.To] = safe.SafeAdd(balance(t.To), int64(t.Amount))
	}

	for id, v := range pending {
		b.get(id).Balance = quant.Amount(v)
	}
	return nil
}

// Total returns the sum of all balances. Transfers never change it.
func (b *Book) Total() quant.Amount {
	b.mu.Lock()
	defer b.mu.Unlock()

	var sum int64
	for _, a := range b.accounts {
		sum = safe.SafeAdd(sum, int64(a.Balance))
	}
	return quant.Amount(sum)
}

// Snapshot returns a copy of all accounts sorted by id (for state dump).
func (b *Book) Snapshot() []Account {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Account, 0, len(b.accounts))
	for _, a := range b.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore replaces the ledger contents with accounts, typically a Snapshot
// persisted by a previous run.
func (b *Book) Restore(accounts []Account) error {
	next := make(map[string]*Account, len(accounts))
	for _, a := range accounts {
		if a.Balance < 0 {
			return fmt.Errorf("%w: account %s balance %d", domain.ErrInvalidAmount, a.ID, a.Balance)
		}
		if _, dup := next[a.ID]; dup {
			return fmt.Errorf("%w: account %s", domain.ErrAlreadyExists, a.ID)
		}
		a := a
		next[a.ID] = &a
	}

	b.mu.Lock()
	b.accounts = next
	b.mu.Unlock()
	return nil
}
