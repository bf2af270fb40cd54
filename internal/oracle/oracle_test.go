package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"droc_go/internal/domain"
	"droc_go/pkg/quant"
)

func TestStatic(t *testing.T) {
	s, err := ParseStatic(map[string]string{"SOL-USDC": "101.25"}, 2)
	if err != nil {
		t.Fatal(err)
	}
	p, err := s.Price(context.Background(), "SOL-USDC")
	if err != nil || p != 10125 {
		t.Fatalf("Price = %d, %v", p, err)
	}
	if _, err := s.Price(context.Background(), "BTC-USDC"); !errors.Is(err, domain.ErrOracleUnavailable) {
		t.Errorf("unknown ref: %v", err)
	}

	s.Set("BTC-USDC", 5)
	if p, _ := s.Price(context.Background(), "BTC-USDC"); p != 5 {
		t.Errorf("after Set: %d", p)
	}
	s.Remove("BTC-USDC")
	if _, err := s.Price(context.Background(), "BTC-USDC"); err == nil {
		t.Error("removed ref should fail")
	}

	if _, err := ParseStatic(map[string]string{"X": "abc"}, 2); !errors.Is(err, quant.ErrInvalidNumber) {
		t.Errorf("bad static price: %v", err)
	}
}

func TestCacheStaleness(t *testing.T) {
	c := NewCache(10 * time.Second)
	base := time.Unix(1_700_000_000, 0)
	now := base
	c.now = func() time.Time { return now }

	if _, err := c.Price(context.Background(), "SOL-USDC"); !errors.Is(err, domain.ErrOracleUnavailable) {
		t.Fatalf("empty cache: %v", err)
	}

	c.Update("SOL-USDC", 1000, base)
	now = base.Add(10 * time.Second)
	if p, err := c.Price(context.Background(), "SOL-USDC"); err != nil || p != 1000 {
		t.Fatalf("fresh: %d, %v", p, err)
	}

	now = base.Add(11 * time.Second)
	if _, err := c.Price(context.Background(), "SOL-USDC"); !errors.Is(err, domain.ErrOracleUnavailable) {
		t.Errorf("stale reading accepted: %v", err)
	}

	// out-of-order observation must not overwrite a newer one
	c.Update("SOL-USDC", 1100, base.Add(11*time.Second))
	c.Update("SOL-USDC", 900, base.Add(5*time.Second))
	if p, _ := c.Price(context.Background(), "SOL-USDC"); p != 1100 {
		t.Errorf("price = %d, want 1100", p)
	}

	snap := c.Snapshot()
	if len(snap) != 1 || snap[0].Ref != "SOL-USDC" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestDecodePrice(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		ref     string
		want    quant.Ticks
		wantErr bool
	}{
		{"string", `{"ref":"A","price":"1000.5"}`, "A", 100050, false},
		{"number", `{"ref":"A","price":1000.5}`, "A", 100050, false},
		{"truncates", `{"price":"1.239"}`, "", 123, false},
		{"zero", `{"price":"0"}`, "", 0, true},
		{"negative", `{"price":"-1"}`, "", 0, true},
		{"below tick", `{"price":"0.001"}`, "", 0, true},
		{"missing", `{"ref":"A"}`, "", 0, true},
		{"garbage", `not json`, "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref, p, err := decodePrice([]byte(tt.body), 2)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if ref != tt.ref || p != tt.want {
				t.Errorf("got (%q, %d), want (%q, %d)", ref, p, tt.ref, tt.want)
			}
		})
	}
}
