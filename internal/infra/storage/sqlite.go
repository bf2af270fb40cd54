package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"droc_go/internal/domain"
	"droc_go/pkg/quant"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Repository is the durable domain.Repository backed by SQLite through gorm.
type Repository struct {
	db *gorm.DB
}

// Open creates (if needed) and migrates the state database at dbPath.
func Open(dbPath string) (*Repository, error) {
	return open(dbPath, os.Stdout)
}

// newGormLogger reports slow queries and errors to w. Lookups that miss are
// routine here and are not logged.
func newGormLogger(w io.Writer) logger.Interface {
	return logger.New(log.New(w, "\r\n", log.LstdFlags), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

func open(dbPath string, logOut io.Writer) (*Repository, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: newGormLogger(logOut),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewRepository(db)
}

// NewRepository migrates the schema on db.
func NewRepository(db *gorm.DB) (*Repository, error) {
	err := db.AutoMigrate(
		&domain.Market{},
		&commitmentRow{},
		&domain.Settlement{},
		&vaultRow{},
		&depositorRow{},
		&domain.RewardAccount{},
		&sequenceRow{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Repository{db: db}, nil
}

// Close releases the underlying connection pool.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *Repository) Atomic(ctx context.Context, fn func(tx domain.Tx) error) error {
	return r.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&gormTx{db: db})
	})
}

func (r *Repository) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	return fn(&gormTx{db: r.db.WithContext(ctx), readOnly: true})
}

// ======================================================================================
// Row models
// ======================================================================================

type commitmentRow struct {
	ID               string `gorm:"primaryKey"`
	Maker            string `gorm:"index"`
	MarketID         string
	VaultID          string `gorm:"index"`
	Side             string
	Price            int64
	Size             int64
	OriginalSize     int64
	Expiry           int64 `gorm:"index"`
	CollateralLocked int64
	JITEnabled       bool
	HasPending       bool
	PendingTaker     string
	PendingSize      int64
	PendingDeadline  int64
	Rewarded         bool
	LastRewardSlot   int64
	CreatedSlot      int64
	Version          uint64
}

func (commitmentRow) TableName() string { return "commitments" }

func toCommitmentRow(c *domain.RestingCommitment) commitmentRow {
	row := commitmentRow{
		ID:               c.ID,
		Maker:            c.Maker,
		MarketID:         c.MarketID,
		VaultID:          c.VaultID,
		Side:             string(c.Side),
		Price:            int64(c.Price),
		Size:             int64(c.Size),
		OriginalSize:     int64(c.OriginalSize),
		Expiry:           int64(c.Expiry),
		CollateralLocked: int64(c.CollateralLocked),
		JITEnabled:       c.JITEnabled,
		Rewarded:         c.Rewarded,
		LastRewardSlot:   int64(c.LastRewardSlot),
		CreatedSlot:      int64(c.CreatedSlot),
		Version:          c.Version,
	}
	if c.Pending != nil {
		row.HasPending = true
		row.PendingTaker = c.Pending.Taker
		row.PendingSize = int64(c.Pending.Size)
		row.PendingDeadline = int64(c.Pending.Deadline)
	}
	return row
}

func (row commitmentRow) toDomain() *domain.RestingCommitment {
	c := &domain.RestingCommitment{
		ID:               row.ID,
		Maker:            row.Maker,
		MarketID:         row.MarketID,
		VaultID:          row.VaultID,
		Side:             domain.Side(row.Side),
		Price:            quant.Ticks(row.Price),
		Size:             quant.Units(row.Size),
		OriginalSize:     quant.Units(row.OriginalSize),
		Expiry:           quant.Slot(row.Expiry),
		CollateralLocked: quant.Amount(row.CollateralLocked),
		JITEnabled:       row.JITEnabled,
		Rewarded:         row.Rewarded,
		LastRewardSlot:   quant.Slot(row.LastRewardSlot),
		CreatedSlot:      quant.Slot(row.CreatedSlot),
		Version:          row.Version,
	}
	if row.HasPending {
		c.Pending = &domain.PendingMatch{
			Taker:    row.PendingTaker,
			Size:     quant.Units(row.PendingSize),
			Deadline: quant.Slot(row.PendingDeadline),
		}
	}
	return c
}

type vaultRow struct {
	ID               string `gorm:"primaryKey"`
	Authority        string
	TotalDeposits    int64
	EscrowBalance    int64
	LockedCollateral int64
}

func (vaultRow) TableName() string { return "vaults" }

type depositorRow struct {
	VaultID      string `gorm:"primaryKey"`
	Depositor    string `gorm:"primaryKey"`
	Contribution int64
}

func (depositorRow) TableName() string { return "vault_depositors" }

type sequenceRow struct {
	Name  string `gorm:"primaryKey"`
	Value uint64
}

func (sequenceRow) TableName() string { return "sequences" }

// ======================================================================================
// Transaction
// ======================================================================================

type gormTx struct {
	db       *gorm.DB
	readOnly bool
}

var errReadOnly = errors.New("write in read-only view")

func (tx *gormTx) writable() error {
	if tx.readOnly {
		return errReadOnly
	}
	return nil
}

func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
	}
	return fmt.Errorf("load %s %s: %w", what, id, err)
}

func (tx *gormTx) upsert(v interface{}) error {
	return tx.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(v).Error
}

func (tx *gormTx) Market(id string) (*domain.Market, error) {
	var m domain.Market
	if err := tx.db.First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "market", id)
	}
	return &m, nil
}

func (tx *gormTx) PutMarket(m *domain.Market) error {
	if err := tx.writable(); err != nil {
		return err
	}
	return tx.upsert(m)
}

func (tx *gormTx) Commitment(id string) (*domain.RestingCommitment, error) {
	var row commitmentRow
	if err := tx.db.First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "commitment", id)
	}
	return row.toDomain(), nil
}

func (tx *gormTx) exists(model interface{}, query string, args ...interface{}) (bool, error) {
	var n int64
	if err := tx.db.Model(model).Where(query, args...).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (tx *gormTx) PutCommitment(c *domain.RestingCommitment) error {
	if err := tx.writable(); err != nil {
		return err
	}

	if c.Version == 0 {
		for _, check := range []struct {
			model interface{}
			query string
		}{
			{&commitmentRow{}, "id = ?"},
			{&domain.Settlement{}, "commitment_id = ?"},
		} {
			found, err := tx.exists(check.model, check.query, c.ID)
			if err != nil {
				return fmt.Errorf("look up commitment %s: %w", c.ID, err)
			}
			if found {
				return fmt.Errorf("commitment %s: %w", c.ID, domain.ErrAlreadyExists)
			}
		}
		row := toCommitmentRow(c)
		row.Version = 1
		if err := tx.db.Create(&row).Error; err != nil {
			return fmt.Errorf("insert commitment %s: %w", c.ID, err)
		}
		c.Version = 1
		return nil
	}

	row := toCommitmentRow(c)
	res := tx.db.Model(&commitmentRow{}).
		Where("id = ? AND version = ?", c.ID, c.Version).
		Updates(map[string]interface{}{
			"price":             row.Price,
			"size":              row.Size,
			"collateral_locked": row.CollateralLocked,
			"has_pending":       row.HasPending,
			"pending_taker":     row.PendingTaker,
			"pending_size":      row.PendingSize,
			"pending_deadline":  row.PendingDeadline,
			"rewarded":          row.Rewarded,
			"last_reward_slot":  row.LastRewardSlot,
			"version":           c.Version + 1,
		})
	if res.Error != nil {
		return fmt.Errorf("update commitment %s: %w", c.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		found, err := tx.exists(&commitmentRow{}, "id = ?", c.ID)
		if err != nil {
			return fmt.Errorf("look up commitment %s: %w", c.ID, err)
		}
		if !found {
			return fmt.Errorf("commitment %s: %w", c.ID, domain.ErrNotFound)
		}
		return &domain.ConcurrencyError{Table: "commitments", Key: c.ID}
	}
	c.Version++
	return nil
}

func (tx *gormTx) DeleteCommitment(id string) error {
	if err := tx.writable(); err != nil {
		return err
	}
	res := tx.db.Delete(&commitmentRow{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete commitment %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("commitment %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (tx *gormTx) ListExpired(now quant.Slot, limit int) ([]*domain.RestingCommitment, error) {
	q := tx.db.Where("expiry <= ?", int64(now)).Order("expiry ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []commitmentRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list expired: %w", err)
	}
	out := make([]*domain.RestingCommitment, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (tx *gormTx) LockedCollateral(vaultID string) (quant.Amount, error) {
	var sum int64
	err := tx.db.Model(&commitmentRow{}).
		Select("COALESCE(SUM(collateral_locked), 0)").
		Where("vault_id = ?", vaultID).
		Scan(&sum).Error
	if err != nil {
		return 0, fmt.Errorf("sum locked collateral: %w", err)
	}
	return quant.Amount(sum), nil
}

func (tx *gormTx) CountCommitments() (int64, error) {
	var n int64
	if err := tx.db.Model(&commitmentRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count commitments: %w", err)
	}
	return n, nil
}

func (tx *gormTx) Settlement(id string) (*domain.Settlement, error) {
	var s domain.Settlement
	if err := tx.db.First(&s, "commitment_id = ?", id).Error; err != nil {
		return nil, notFound(err, "settlement", id)
	}
	return &s, nil
}

func (tx *gormTx) PutSettlement(s *domain.Settlement) error {
	if err := tx.writable(); err != nil {
		return err
	}
	return tx.upsert(s)
}

func (tx *gormTx) Vault(id string) (*domain.Vault, error) {
	var row vaultRow
	if err := tx.db.First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "vault", id)
	}
	var deps []depositorRow
	if err := tx.db.Where("vault_id = ?", id).Find(&deps).Error; err != nil {
		return nil, fmt.Errorf("load depositors %s: %w", id, err)
	}

	v := domain.NewVault(row.ID, row.Authority)
	v.TotalDeposits = quant.Amount(row.TotalDeposits)
	v.EscrowBalance = quant.Amount(row.EscrowBalance)
	v.LockedCollateral = quant.Amount(row.LockedCollateral)
	for _, d := range deps {
		v.Depositors[d.Depositor] = quant.Amount(d.Contribution)
	}
	return v, nil
}

func (tx *gormTx) PutVault(v *domain.Vault) error {
	if err := tx.writable(); err != nil {
		return err
	}
	row := vaultRow{
		ID:               v.ID,
		Authority:        v.Authority,
		TotalDeposits:    int64(v.TotalDeposits),
		EscrowBalance:    int64(v.EscrowBalance),
		LockedCollateral: int64(v.LockedCollateral),
	}
	if err := tx.upsert(&row); err != nil {
		return fmt.Errorf("put vault %s: %w", v.ID, err)
	}
	for _, id := range v.DepositorIDs() {
		dep := depositorRow{VaultID: v.ID, Depositor: id, Contribution: int64(v.Depositors[id])}
		if err := tx.upsert(&dep); err != nil {
			return fmt.Errorf("put depositor %s/%s: %w", v.ID, id, err)
		}
	}
	return nil
}

func (tx *gormTx) RewardAccount(maker string) (*domain.RewardAccount, error) {
	var r domain.RewardAccount
	if err := tx.db.First(&r, "maker = ?", maker).Error; err != nil {
		return nil, notFound(err, "reward account", maker)
	}
	return &r, nil
}

func (tx *gormTx) PutRewardAccount(r *domain.RewardAccount) error {
	if err := tx.writable(); err != nil {
		return err
	}
	return tx.upsert(r)
}

func (tx *gormTx) NextSequence(name string) (uint64, error) {
	if err := tx.writable(); err != nil {
		return 0, err
	}
	var row sequenceRow
	err := tx.db.First(&row, "name = ?", name).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("load sequence %s: %w", name, err)
	}
	row.Name = name
	row.Value++
	if err := tx.upsert(&row); err != nil {
		return 0, fmt.Errorf("advance sequence %s: %w", name, err)
	}
	return row.Value, nil
}
