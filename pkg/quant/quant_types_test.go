package quant

import (
	"errors"
	"testing"
)

func TestParseFixed(t *testing.T) {
	tests := []struct {
		input     string
		precision int
		expected  int64
	}{
		{"1.23", 6, 1230000},
		{"0.000001", 6, 1},
		{"0", 6, 0},
		{"-1.23", 6, -1230000},
		{"1000", 0, 1000},
		{"1000.999", 0, 1000},
		{".5", 2, 50},
		{"+7.1", 1, 71},
	}

	for _, tt := range tests {
		got, err := ParseFixed(tt.input, tt.precision)
		if err != nil {
			t.Errorf("ParseFixed(%q, %d) error: %v", tt.input, tt.precision, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseFixed(%q, %d) = %d; want %d", tt.input, tt.precision, got, tt.expected)
		}
	}
}

func TestParseFixed_Invalid(t *testing.T) {
	for _, in := range []string{"", "null", "abc", "1.2.3", "1e5", "-", "99999999999999999999"} {
		if _, err := ParseFixed(in, 6); !errors.Is(err, ErrInvalidNumber) {
			t.Errorf("ParseFixed(%q) error = %v, want ErrInvalidNumber", in, err)
		}
	}
}

func TestFormatFixed(t *testing.T) {
	tests := []struct {
		v         int64
		precision int
		want      string
	}{
		{1230000, 6, "1.230000"},
		{5, 2, "0.05"},
		{-150, 2, "-1.50"},
		{42, 0, "42"},
	}
	for _, tt := range tests {
		if got := FormatFixed(tt.v, tt.precision); got != tt.want {
			t.Errorf("FormatFixed(%d, %d) = %s; want %s", tt.v, tt.precision, got, tt.want)
		}
	}
}
