package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"droc_go/internal/domain"
)

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	journal := filepath.Join(dir, "journal.db")
	body := `
engine:
  faucet:
    rewards:pool: 1000000
    maker-1: 50000000
oracle:
  mode: static
  static:
    SOL-USDC: "1000"
storage:
  driver: memory
  journal_path: ` + journal + `
api:
  addr: "127.0.0.1:0"
logging:
  level: error
  dir: ""
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBootstrap_Initialize(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)
	ctx := context.Background()

	b := NewBootstrap(path)
	if err := b.Initialize(ctx); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer b.Close()

	if _, err := b.Controller.Vault(ctx, "main"); err != nil {
		t.Fatalf("vault not initialized: %v", err)
	}
	if got := b.Book.Balance("maker-1"); got != 50_000_000 {
		t.Errorf("maker balance = %d", got)
	}

	if _, err := b.Controller.InitializeMarket(ctx, domain.Market{ID: "SOL-USDC", BaseAsset: "SOL", QuoteAsset: "USDC", Oracle: "SOL-USDC"}); err != nil {
		t.Fatalf("InitializeMarket: %v", err)
	}
	if _, lo, hi, err := b.Controller.Bounds(ctx, "SOL-USDC"); err != nil || lo != 990 || hi != 1010 {
		t.Errorf("bounds = %d..%d err=%v", lo, hi, err)
	}

	if _, err := b.Controller.Deposit(ctx, "main", "maker-1", 1_000); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := b.saveBook(ctx); err != nil {
		t.Fatalf("saveBook: %v", err)
	}
	b.Close()

	t.Run("restores token book", func(t *testing.T) {
		again := NewBootstrap(path)
		if err := again.Initialize(ctx); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
		defer again.Close()

		if got := again.Book.Balance("maker-1"); got != 50_000_000-1_000 {
			t.Errorf("restored maker balance = %d", got)
		}
		if again.Book.Total() != 51_000_000 {
			t.Errorf("restored supply = %d", again.Book.Total())
		}
	})
}

func TestBootstrap_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  driver: tape\n"), 0644); err != nil {
		t.Fatal(err)
	}

	err := NewBootstrap(path).Initialize(context.Background())
	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
}
