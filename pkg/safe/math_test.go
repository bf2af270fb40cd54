package safe

import (
	"math"
	"testing"
)

func TestSafeMath(t *testing.T) {
	tests := []struct {
		name string
		op   func(a, b int64) int64
		val1 int64
		val2 int64
		want int64
	}{
		{"Normal Add", SafeAdd, 10, 20, 30},
		{"Add Boundary", SafeAdd, math.MaxInt64 - 1, 1, math.MaxInt64},
		{"Normal Sub", SafeSub, 30, 10, 20},
		{"Normal Mul", SafeMul, 5, 6, 30},
		{"Negative Mul", SafeMul, -5, 6, -30},
		{"Normal Div", SafeDiv, 100, 4, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.op(tt.val1, tt.val2); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMathPanic(t *testing.T) {
	cases := map[string]func(){
		"Add Overflow": func() { SafeAdd(math.MaxInt64, 1) },
		"Sub Overflow": func() { SafeSub(math.MinInt64, 1) },
		"Mul Overflow": func() { SafeMul(math.MaxInt64/2+1, 2) },
		"Mul MinInt":   func() { SafeMul(math.MinInt64, -1) },
		"Div By Zero":  func() { SafeDiv(10, 0) },
		"Abs MinInt":   func() { SafeAbs(math.MinInt64) },
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			defer func() {
				if r := recover(); r == nil {
					t.Error("Should have panicked")
				}
			}()
			fn()
		})
	}
}

func TestMulDiv(t *testing.T) {
	t.Run("intermediate beyond int64", func(t *testing.T) {
		got, ok := MulDiv(math.MaxInt64, 10, 20)
		if !ok {
			t.Fatal("expected quotient to fit")
		}
		if got != math.MaxInt64/2 {
			t.Errorf("got %d, want %d", got, int64(math.MaxInt64/2))
		}
	})

	t.Run("quotient overflow", func(t *testing.T) {
		if _, ok := MulDiv(math.MaxInt64, 3, 2); ok {
			t.Error("expected overflow to be reported")
		}
	})

	t.Run("truncates", func(t *testing.T) {
		got, _ := MulDiv(7, 3, 2)
		if got != 10 {
			t.Errorf("got %d, want 10", got)
		}
	})
}

func TestClamp(t *testing.T) {
	if Clamp(-5, 0, 10) != 0 || Clamp(15, 0, 10) != 10 || Clamp(7, 0, 10) != 7 {
		t.Error("Clamp returned a value outside the expected bounds")
	}
}
