package lastgood

import (
	"context"
	"math/big"
	"testing"

	"treasury-pipeline/internal/domain"
)

func TestMemoryStoreReadYourWrite(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "WETH"); err != nil || ok {
		t.Fatalf("expected no entry before first put, got ok=%v err=%v", ok, err)
	}

	cp := domain.ConsolidatedPrice{TokenID: "WETH", Price: big.NewInt(2000), Decimals: 18, At: 100, Mode: domain.ModeNormal}
	if err := store.Put(ctx, cp); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	got, ok, err := store.Get(ctx, "WETH")
	if err != nil || !ok {
		t.Fatalf("expected entry after put, got ok=%v err=%v", ok, err)
	}
	if got.Price.Cmp(cp.Price) != 0 {
		t.Fatalf("price mismatch: got %s want %s", got.Price, cp.Price)
	}
}

func TestMemoryStoreOverwritesOnlySameToken(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Put(ctx, domain.ConsolidatedPrice{TokenID: "WETH", Price: big.NewInt(1), Decimals: 18, At: 1})
	_ = store.Put(ctx, domain.ConsolidatedPrice{TokenID: "WBTC", Price: big.NewInt(2), Decimals: 18, At: 1})
	_ = store.Put(ctx, domain.ConsolidatedPrice{TokenID: "WETH", Price: big.NewInt(3), Decimals: 18, At: 2})

	weth, _, _ := store.Get(ctx, "WETH")
	wbtc, _, _ := store.Get(ctx, "WBTC")

	if weth.Price.Cmp(big.NewInt(3)) != 0 {
		t.Fatalf("expected WETH to be overwritten, got %s", weth.Price)
	}
	if wbtc.Price.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("expected WBTC untouched, got %s", wbtc.Price)
	}
}
