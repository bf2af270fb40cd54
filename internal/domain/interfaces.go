package domain

import (
	"context"
	"time"

	"droc_go/internal/event"
	"droc_go/pkg/quant"
)

// Now is a reading of the slot clock.
type Now struct {
	Slot quant.Slot
	Wall time.Time
}

// Clock supplies monotonic logical time.
type Clock interface {
	Now() Now
}

// Oracle returns the current reference price for a market's oracle reference.
// Any error is fatal to the calling operation.
type Oracle interface {
	Price(ctx context.Context, ref string) (quant.Ticks, error)
}

// TokenTransfer moves value between accounts. authority must control from.
type TokenTransfer interface {
	Transfer(ctx context.Context, from, to, authority string, amount quant.Amount) error
}

// Transfer is one leg of a batch.
type Transfer struct {
	From      string
	To        string
	Authority string
	Amount    quant.Amount
}

// BatchTransferer applies a set of transfers all-or-nothing.
type BatchTransferer interface {
	TransferBatch(ctx context.Context, batch []Transfer) error
}

// AccountOpener is implemented by token primitives that require explicit
// account creation with an owning authority.
type AccountOpener interface {
	OpenAccount(ctx context.Context, id, owner string) error
}

// EventSink receives fire-and-forget notifications.
type EventSink interface {
	Emit(ev event.Event)
}

// Repository runs units of work against persisted state.
type Repository interface {
	// Atomic runs fn as one all-or-nothing unit. Writes made through tx are
	// discarded when fn returns an error.
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn against a read-only snapshot.
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the store surface available inside a unit of work.
// Getters return ErrNotFound for absent records and hand out copies.
type Tx interface {
	Market(id string) (*Market, error)
	PutMarket(m *Market) error

	Commitment(id string) (*RestingCommitment, error)
	// PutCommitment inserts when c.Version is zero, otherwise updates only if
	// the stored version equals c.Version. On success c.Version is bumped.
	PutCommitment(c *RestingCommitment) error
	DeleteCommitment(id string) error
	ListExpired(now quant.Slot, limit int) ([]*RestingCommitment, error)
	LockedCollateral(vaultID string) (quant.Amount, error)
	CountCommitments() (int64, error)

	Settlement(id string) (*Settlement, error)
	PutSettlement(s *Settlement) error

	Vault(id string) (*Vault, error)
	PutVault(v *Vault) error

	RewardAccount(maker string) (*RewardAccount, error)
	PutRewardAccount(r *RewardAccount) error

	// NextSequence returns the next value of a persisted counter, starting at 1.
	NextSequence(name string) (uint64, error)
}
