package domain

import (
	"errors"
	"testing"
)

func TestMarket_Validate(t *testing.T) {
	ok := Market{ID: "SOL-USDC", BaseAsset: "SOL", QuoteAsset: "USDC", Oracle: "pyth:SOL"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}

	bad := []Market{
		{BaseAsset: "SOL", QuoteAsset: "USDC", Oracle: "o"},
		{ID: "x", QuoteAsset: "USDC", Oracle: "o"},
		{ID: "x", BaseAsset: "usdc", QuoteAsset: "USDC", Oracle: "o"},
		{ID: "x", BaseAsset: "SOL", QuoteAsset: "USDC"},
	}
	for _, m := range bad {
		if err := m.Validate(); !errors.Is(err, ErrInvalidMarket) {
			t.Errorf("Validate(%+v) = %v, want ErrInvalidMarket", m, err)
		}
	}
}
