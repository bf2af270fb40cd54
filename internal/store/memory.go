package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"droc_go/internal/domain"
	"droc_go/pkg/quant"
)

// table is one keyed record set with copy-on-read semantics.
type table[T any] struct {
	rows  map[string]*T
	clone func(*T) *T
}

func newTable[T any](clone func(*T) *T) table[T] {
	return table[T]{rows: make(map[string]*T), clone: clone}
}

// staged is a transaction-local overlay over a table. A nil entry marks a delete.
type staged[T any] struct {
	base   *table[T]
	writes map[string]*T
}

func (s *staged[T]) get(id string) (*T, bool) {
	if v, ok := s.writes[id]; ok {
		if v == nil {
			return nil, false
		}
		return s.base.clone(v), true
	}
	if v, ok := s.base.rows[id]; ok {
		return s.base.clone(v), true
	}
	return nil, false
}

func (s *staged[T]) put(id string, v *T) {
	if s.writes == nil {
		s.writes = make(map[string]*T)
	}
	s.writes[id] = s.base.clone(v)
}

func (s *staged[T]) del(id string) {
	if s.writes == nil {
		s.writes = make(map[string]*T)
	}
	s.writes[id] = nil
}

// each visits the merged view.
func (s *staged[T]) each(fn func(*T)) {
	for id, v := range s.base.rows {
		if _, ok := s.writes[id]; !ok {
			fn(v)
		}
	}
	for _, v := range s.writes {
		if v != nil {
			fn(v)
		}
	}
}

func (s *staged[T]) commit() {
	for id, v := range s.writes {
		if v == nil {
			delete(s.base.rows, id)
		} else {
			s.base.rows[id] = v
		}
	}
}

// Memory is an in-process domain.Repository. Units of work are serialized
// and their writes become visible only when fn succeeds.
type Memory struct {
	mu          sync.RWMutex
	markets     table[domain.Market]
	commitments table[domain.RestingCommitment]
	settlements table[domain.Settlement]
	vaults      table[domain.Vault]
	rewards     table[domain.RewardAccount]
	sequences   map[string]uint64
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		markets:     newTable(func(m *domain.Market) *domain.Market { cp := *m; return &cp }),
		commitments: newTable((*domain.RestingCommitment).Clone),
		settlements: newTable(func(s *domain.Settlement) *domain.Settlement { cp := *s; return &cp }),
		vaults:      newTable((*domain.Vault).Clone),
		rewards:     newTable(func(r *domain.RewardAccount) *domain.RewardAccount { cp := *r; return &cp }),
		sequences:   make(map[string]uint64),
	}
}

func (m *Memory) newTx(readOnly bool) *memTx {
	return &memTx{
		readOnly:    readOnly,
		markets:     staged[domain.Market]{base: &m.markets},
		commitments: staged[domain.RestingCommitment]{base: &m.commitments},
		settlements: staged[domain.Settlement]{base: &m.settlements},
		vaults:      staged[domain.Vault]{base: &m.vaults},
		rewards:     staged[domain.RewardAccount]{base: &m.rewards},
		baseSeq:     m.sequences,
		seqs:        make(map[string]uint64),
	}
}

func (m *Memory) Atomic(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := m.newTx(false)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *Memory) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.newTx(true))
}

type memTx struct {
	readOnly    bool
	markets     staged[domain.Market]
	commitments staged[domain.RestingCommitment]
	settlements staged[domain.Settlement]
	vaults      staged[domain.Vault]
	rewards     staged[domain.RewardAccount]
	baseSeq     map[string]uint64
	seqs        map[string]uint64
}

var errReadOnly = errors.New("write in read-only view")

func (tx *memTx) writable() error {
	if tx.readOnly {
		return errReadOnly
	}
	return nil
}

func (tx *memTx) commit() {
	tx.markets.commit()
	tx.commitments.commit()
	tx.settlements.commit()
	tx.vaults.commit()
	tx.rewards.commit()
	for k, v := range tx.seqs {
		tx.baseSeq[k] = v
	}
}

func (tx *memTx) Market(id string) (*domain.Market, error) {
	if m, ok := tx.markets.get(id); ok {
		return m, nil
	}
	return nil, fmt.Errorf("market %s: %w", id, domain.ErrNotFound)
}

func (tx *memTx) PutMarket(m *domain.Market) error {
	if err := tx.writable(); err != nil {
		return err
	}
	tx.markets.put(m.ID, m)
	return nil
}

func (tx *memTx) Commitment(id string) (*domain.RestingCommitment, error) {
	if c, ok := tx.commitments.get(id); ok {
		return c, nil
	}
	return nil, fmt.Errorf("commitment %s: %w", id, domain.ErrNotFound)
}

func (tx *memTx) PutCommitment(c *domain.RestingCommitment) error {
	if err := tx.writable(); err != nil {
		return err
	}
	cur, ok := tx.commitments.get(c.ID)
	if c.Version == 0 {
		if ok {
			return fmt.Errorf("commitment %s: %w", c.ID, domain.ErrAlreadyExists)
		}
		if _, settled := tx.settlements.get(c.ID); settled {
			return fmt.Errorf("commitment %s already settled: %w", c.ID, domain.ErrAlreadyExists)
		}
	} else {
		if !ok {
			return fmt.Errorf("commitment %s: %w", c.ID, domain.ErrNotFound)
		}
		if cur.Version != c.Version {
			return &domain.ConcurrencyError{Table: "commitments", Key: c.ID}
		}
	}
	c.Version++
	tx.commitments.put(c.ID, c)
	return nil
}

func (tx *memTx) DeleteCommitment(id string) error {
	if err := tx.writable(); err != nil {
		return err
	}
	if _, ok := tx.commitments.get(id); !ok {
		return fmt.Errorf("commitment %s: %w", id, domain.ErrNotFound)
	}
	tx.commitments.del(id)
	return nil
}

func (tx *memTx) ListExpired(now quant.Slot, limit int) ([]*domain.RestingCommitment, error) {
	var out []*domain.RestingCommitment
	tx.commitments.each(func(c *domain.RestingCommitment) {
		if c.Expired(now) {
			out = append(out, c.Clone())
		}
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Expiry != out[j].Expiry {
			return out[i].Expiry < out[j].Expiry
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (tx *memTx) LockedCollateral(vaultID string) (quant.Amount, error) {
	var sum quant.Amount
	tx.commitments.each(func(c *domain.RestingCommitment) {
		if c.VaultID == vaultID {
			sum += c.CollateralLocked
		}
	})
	return sum, nil
}

func (tx *memTx) CountCommitments() (int64, error) {
	var n int64
	tx.commitments.each(func(*domain.RestingCommitment) { n++ })
	return n, nil
}

func (tx *memTx) Settlement(id string) (*domain.Settlement, error) {
	if s, ok := tx.settlements.get(id); ok {
		return s, nil
	}
	return nil, fmt.Errorf("settlement %s: %w", id, domain.ErrNotFound)
}

func (tx *memTx) PutSettlement(s *domain.Settlement) error {
	if err := tx.writable(); err != nil {
		return err
	}
	tx.settlements.put(s.CommitmentID, s)
	return nil
}

func (tx *memTx) Vault(id string) (*domain.Vault, error) {
	if v, ok := tx.vaults.get(id); ok {
		return v, nil
	}
	return nil, fmt.Errorf("vault %s: %w", id, domain.ErrNotFound)
}

func (tx *memTx) PutVault(v *domain.Vault) error {
	if err := tx.writable(); err != nil {
		return err
	}
	tx.vaults.put(v.ID, v)
	return nil
}

func (tx *memTx) RewardAccount(maker string) (*domain.RewardAccount, error) {
	if r, ok := tx.rewards.get(maker); ok {
		return r, nil
	}
	return nil, fmt.Errorf("reward account %s: %w", maker, domain.ErrNotFound)
}

func (tx *memTx) PutRewardAccount(r *domain.RewardAccount) error {
	if err := tx.writable(); err != nil {
		return err
	}
	tx.rewards.put(r.Maker, r)
	return nil
}

func (tx *memTx) NextSequence(name string) (uint64, error) {
	if err := tx.writable(); err != nil {
		return 0, err
	}
	cur, ok := tx.seqs[name]
	if !ok {
		cur = tx.baseSeq[name]
	}
	cur++
	tx.seqs[name] = cur
	return cur, nil
}
