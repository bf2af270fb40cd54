package quant

import (
	"testing"
)

// FuzzParseFixed checks that parsing never panics and round-trips through FormatFixed.
func FuzzParseFixed(f *testing.F) {
	f.Add("0")
	f.Add("1.23")
	f.Add("-1.23")
	f.Add("0.000001")
	f.Add("9999999.999999")
	f.Add("garbage")

	f.Fuzz(func(t *testing.T, s string) {
		v, err := ParseFixed(s, 6)
		if err != nil {
			return
		}
		back, err := ParseFixed(FormatFixed(v, 6), 6)
		if err != nil {
			t.Fatalf("FormatFixed(%d) did not parse back: %v", v, err)
		}
		if back != v {
			t.Fatalf("round trip mismatch: %d -> %d", v, back)
		}
	})
}
