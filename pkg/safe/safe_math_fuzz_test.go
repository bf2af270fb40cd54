package safe

import (
	"math/big"
	"testing"
)

// FuzzSafeAdd tests SafeAdd with fuzzing.
func FuzzSafeAdd(f *testing.F) {
	f.Add(int64(0), int64(0))
	f.Add(int64(1), int64(2))
	f.Add(int64(-1), int64(1))
	f.Add(int64(9223372036854775807), int64(0))  // MaxInt64
	f.Add(int64(-9223372036854775808), int64(0)) // MinInt64

	f.Fuzz(func(t *testing.T, a, b int64) {
		defer func() { recover() }() // Overflow panic is expected behavior
		_ = SafeAdd(a, b)
	})
}

// FuzzSafeMul checks SafeMul against big.Int: it either panics or returns the exact product.
func FuzzSafeMul(f *testing.F) {
	f.Add(int64(0), int64(0))
	f.Add(int64(2), int64(3))
	f.Add(int64(-2), int64(3))
	f.Add(int64(1000000), int64(1000000))
	f.Add(int64(-9223372036854775808), int64(-1))

	f.Fuzz(func(t *testing.T, a, b int64) {
		want := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
		defer func() {
			if r := recover(); r != nil && want.IsInt64() {
				t.Fatalf("SafeMul(%d, %d) panicked for representable product %s", a, b, want)
			}
		}()
		if got := SafeMul(a, b); got != want.Int64() {
			t.Fatalf("SafeMul(%d, %d) = %d, want %s", a, b, got, want)
		}
	})
}

// FuzzMulDiv checks MulDiv against big.Int division.
func FuzzMulDiv(f *testing.F) {
	f.Add(int64(10), int64(2), int64(3))
	f.Add(int64(-10), int64(2), int64(7))
	f.Add(int64(9223372036854775807), int64(9223372036854775807), int64(9223372036854775807))

	f.Fuzz(func(t *testing.T, a, b, c int64) {
		if c == 0 {
			return
		}
		want := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
		want.Quo(want, big.NewInt(c))
		got, ok := MulDiv(a, b, c)
		if ok != want.IsInt64() {
			t.Fatalf("MulDiv(%d, %d, %d) ok=%v, want %v", a, b, c, ok, want.IsInt64())
		}
		if ok && got != want.Int64() {
			t.Fatalf("MulDiv(%d, %d, %d) = %d, want %s", a, b, c, got, want)
		}
	})
}
