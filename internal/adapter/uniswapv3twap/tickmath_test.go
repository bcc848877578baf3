package uniswapv3twap

import (
	"math/big"
	"testing"
)

func bigPow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func TestPriceFromTickZeroIsOne(t *testing.T) {
	price, ok := PriceFromTick(0, 18)
	if !ok {
		t.Fatal("expected tick 0 to be in range")
	}
	want := bigPow10(18)
	if price.Cmp(want) != 0 {
		t.Fatalf("tick 0: got %s want %s (1.0)", price, want)
	}
}

func TestPriceFromTickOutOfRange(t *testing.T) {
	if _, ok := PriceFromTick(900000, 18); ok {
		t.Fatal("expected out-of-range tick to report not ok")
	}
	if _, ok := PriceFromTick(-900000, 18); ok {
		t.Fatal("expected out-of-range negative tick to report not ok")
	}
}

func TestPriceFromTickMonotonicIncreasing(t *testing.T) {
	low, ok := PriceFromTick(1000, 18)
	if !ok {
		t.Fatal("expected tick 1000 in range")
	}
	high, ok := PriceFromTick(2000, 18)
	if !ok {
		t.Fatal("expected tick 2000 in range")
	}
	if high.Cmp(low) <= 0 {
		t.Fatalf("expected price to increase with tick: low=%s high=%s", low, high)
	}
}

func TestPriceFromTickNegativeIsReciprocalShaped(t *testing.T) {
	positive, ok := PriceFromTick(1000, 18)
	if !ok {
		t.Fatal("expected tick 1000 in range")
	}
	negative, ok := PriceFromTick(-1000, 18)
	if !ok {
		t.Fatal("expected tick -1000 in range")
	}
	one := bigPow10(18)
	product := new(big.Int).Mul(positive, negative)
	scaled := new(big.Int).Quo(product, one)
	diff := new(big.Int).Sub(scaled, one)
	diff.Abs(diff)
	tolerance := new(big.Int).Quo(one, big.NewInt(1000000))
	if diff.Cmp(tolerance) > 0 {
		t.Fatalf("reciprocal shape broken beyond tolerance: diff=%s", diff)
	}
}
