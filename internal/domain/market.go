package domain

import (
	"fmt"
	"strings"

	"droc_go/pkg/quant"
)

// Market identifies a tradable pair and the oracle reference used to price it.
// Markets are immutable once created.
type Market struct {
	ID          string     `gorm:"primaryKey" json:"market_id"`
	BaseAsset   string     `json:"base_asset"`
	QuoteAsset  string     `json:"quote_asset"`
	Oracle      string     `json:"oracle"`
	CreatedSlot quant.Slot `json:"created_slot"`
}

// Validate checks the static fields of a market definition.
func (m Market) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: empty market id", ErrInvalidMarket)
	}
	if m.BaseAsset == "" || m.QuoteAsset == "" {
		return fmt.Errorf("%w: base and quote assets are required", ErrInvalidMarket)
	}
	if strings.EqualFold(m.BaseAsset, m.QuoteAsset) {
		return fmt.Errorf("%w: base and quote must differ (%s)", ErrInvalidMarket, m.BaseAsset)
	}
	if m.Oracle == "" {
		return fmt.Errorf("%w: oracle reference is required", ErrInvalidMarket)
	}
	return nil
}
