package oracle

import (
	"encoding/json"
	"fmt"

	"droc_go/pkg/quant"

	"github.com/shopspring/decimal"
)

// priceMessage is the wire shape shared by the HTTP poll endpoint and the
// websocket feed: {"ref":"SOL-USDC","price":"101.25"}.
type priceMessage struct {
	Ref   string          `json:"ref"`
	Price json.RawMessage `json:"price"`
}

// toTicks scales a decimal price by 10^precision, truncating extra digits.
// Both JSON strings and bare numbers are accepted.
func toTicks(raw json.RawMessage, precision int) (quant.Ticks, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		// bare number: keep its literal text, never a float64
		s = string(raw)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", quant.ErrInvalidNumber, s)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: non-positive price %s", quant.ErrInvalidNumber, d)
	}
	v, err := quant.ParseFixed(d.String(), precision)
	if err != nil {
		return 0, err
	}
	if v <= 0 {
		return 0, fmt.Errorf("%w: price %s below tick size", quant.ErrInvalidNumber, d)
	}
	return quant.Ticks(v), nil
}

func decodePrice(body []byte, precision int) (string, quant.Ticks, error) {
	var msg priceMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return "", 0, fmt.Errorf("decode price message: %w", err)
	}
	if len(msg.Price) == 0 {
		return "", 0, fmt.Errorf("%w: missing price", quant.ErrInvalidNumber)
	}
	p, err := toTicks(msg.Price, precision)
	if err != nil {
		return "", 0, err
	}
	return msg.Ref, p, nil
}
