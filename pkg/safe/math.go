package safe

import (
	"math"
	"math/big"
)

// SafeAdd performs int64 addition and panics on overflow/underflow.
func SafeAdd(a, b int64) int64 {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		panic("CORE_SAFE_ADD_OVERFLOW")
	}
	return a + b
}

// SafeSub performs int64 subtraction and panics on overflow/underflow.
func SafeSub(a, b int64) int64 {
	if (b > 0 && a < math.MinInt64+b) || (b < 0 && a > math.MaxInt64+b) {
		panic("CORE_SAFE_SUB_OVERFLOW")
	}
	return a - b
}

// SafeMul performs int64 multiplication and panics on overflow/underflow.
func SafeMul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	c := a * b
	if (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) || c/b != a {
		panic("CORE_SAFE_MUL_OVERFLOW")
	}
	return c
}

// SafeDiv performs int64 division and panics on division by zero.
func SafeDiv(a, b int64) int64 {
	if b == 0 {
		panic("CORE_SAFE_DIV_BY_ZERO")
	}
	if a == math.MinInt64 && b == -1 {
		panic("CORE_SAFE_DIV_OVERFLOW")
	}
	return a / b
}

// SafeAbs returns |a|. Panics for MinInt64, which has no positive counterpart.
func SafeAbs(a int64) int64 {
	if a == math.MinInt64 {
		panic("CORE_SAFE_ABS_OVERFLOW")
	}
	if a < 0 {
		return -a
	}
	return a
}

// MulDiv computes a*b/c with a 128-bit-safe intermediate, truncating toward zero.
// The second return is false when the quotient does not fit in int64.
func MulDiv(a, b, c int64) (int64, bool) {
	if c == 0 {
		panic("CORE_SAFE_DIV_BY_ZERO")
	}
	n := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	n.Quo(n, big.NewInt(c))
	if !n.IsInt64() {
		return 0, false
	}
	return n.Int64(), true
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
