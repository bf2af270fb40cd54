package quant

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// Ticks is a price expressed in integer ticks.
type Ticks int64

// Units is a base-asset size in the smallest tradable unit.
type Units int64

// Amount is a token amount (collateral, deposits, rewards) in base units.
type Amount int64

// Slot is a logical clock value (block height / slot number).
type Slot int64

const (
	// BpsDenominator is the basis-point denominator (100 bps = 1%).
	BpsDenominator = 10_000
	// RewardScale is the fixed-point scale of the reward spread term.
	RewardScale = 1_000_000
)

var ErrInvalidNumber = errors.New("invalid fixed-point number")

func (t Ticks) String() string  { return strconv.FormatInt(int64(t), 10) }
func (u Units) String() string  { return strconv.FormatInt(int64(u), 10) }
func (a Amount) String() string { return strconv.FormatInt(int64(a), 10) }
func (s Slot) String() string   { return strconv.FormatInt(int64(s), 10) }

// NextSeq generates the next sequence number atomically.
func NextSeq(ptr *uint64) uint64 {
	return atomic.AddUint64(ptr, 1)
}

// ParseFixed parses a decimal string into an int64 scaled by 10^precision
// without going through float64. Digits beyond precision are truncated.
// E.g., ParseFixed("1.23", 6) -> 1,230,000.
func ParseFixed(s string, precision int) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	if precision < 0 || precision > 18 {
		return 0, fmt.Errorf("%w: precision %d", ErrInvalidNumber, precision)
	}

	negative := false
	switch s[0] {
	case '-':
		negative = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	intStr, fracStr, _ := strings.Cut(s, ".")
	if intStr == "" && fracStr == "" {
		return 0, fmt.Errorf("%w: no digits", ErrInvalidNumber)
	}
	if intStr == "" {
		intStr = "0"
	}
	if !allDigits(intStr) || !allDigits(fracStr) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}

	if len(fracStr) > precision {
		fracStr = fracStr[:precision]
	}
	fracStr += strings.Repeat("0", precision-len(fracStr))

	v, err := strconv.ParseInt(intStr+fracStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidNumber, err)
	}
	if negative {
		v = -v
	}
	return v, nil
}

// FormatFixed renders v scaled by 10^precision as a decimal string.
func FormatFixed(v int64, precision int) string {
	if precision <= 0 {
		return strconv.FormatInt(v, 10)
	}
	sign := ""
	u := uint64(v)
	if v < 0 {
		sign = "-"
		u = uint64(-(v + 1)) + 1
	}
	digits := strconv.FormatUint(u, 10)
	if len(digits) <= precision {
		digits = strings.Repeat("0", precision-len(digits)+1) + digits
	}
	cut := len(digits) - precision
	return sign + digits[:cut] + "." + digits[cut:]
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
