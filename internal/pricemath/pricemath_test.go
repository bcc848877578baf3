package pricemath

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func bi(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad bigint literal: " + s)
	}
	return v
}

func TestRescaleWidening(t *testing.T) {
	got := Rescale(bi("200000000000"), 8, 18)
	want := bi("2000000000000000000000")
	if got.Cmp(want) != 0 {
		t.Fatalf("rescale widen: got %s want %s", got, want)
	}
}

func TestRescaleNarrowingTruncates(t *testing.T) {
	got := Rescale(bi("12345"), 4, 2)
	want := bi("123")
	if got.Cmp(want) != 0 {
		t.Fatalf("rescale narrow: got %s want %s", got, want)
	}
}

func TestRescaleRoundTripWhenWidening(t *testing.T) {
	price := bi("4999999999")
	widened := Rescale(price, 8, 18)
	back := Rescale(widened, 18, 8)
	if back.Cmp(price) != 0 {
		t.Fatalf("round trip: got %s want %s", back, price)
	}
}

func TestMedianOdd(t *testing.T) {
	values := []*big.Int{bi("1"), bi("2"), bi("3")}
	if got := Median(values); got.Cmp(bi("2")) != 0 {
		t.Fatalf("median odd: got %s want 2", got)
	}
}

func TestMedianEvenTruncates(t *testing.T) {
	values := []*big.Int{bi("1999900000000000000000"), bi("2001000000000000000001")}
	SortAscending(values)
	got := Median(values)
	want := bi("2000450000000000000000")
	if got.Cmp(want) != 0 {
		t.Fatalf("median even: got %s want %s", got, want)
	}
}

func TestMedianS1ThreeSources(t *testing.T) {
	values := []*big.Int{
		Rescale(bi("200000000000"), 8, 18),
		bi("1999900000000000000000"),
		bi("2001000000000000000000"),
	}
	SortAscending(values)
	got := Median(values)
	want := bi("2000000000000000000000")
	if got.Cmp(want) != 0 {
		t.Fatalf("S1 median: got %s want %s", got, want)
	}
}

func TestDivergenceBpsNeverNegative(t *testing.T) {
	got := DivergenceBps(bi("1900"), bi("2000"))
	want := bi("500")
	if got.Cmp(want) != 0 {
		t.Fatalf("divergence bps: got %s want %s", got, want)
	}
}

func TestConfidenceWithinEpsilonRejects(t *testing.T) {
	price := bi("1999900000000000000000")
	confidence := bi("50000000000000000000") // 2.5% of price
	epsilon := decimal.NewFromFloat(0.01)
	if ConfidenceWithinEpsilon(confidence, price, epsilon) {
		t.Fatal("expected confidence ratio to exceed epsilon")
	}
}

func TestConfidenceWithinEpsilonAccepts(t *testing.T) {
	price := bi("2000000000000000000000")
	confidence := bi("500000000000000000") // 0.025% of price
	epsilon := decimal.NewFromFloat(0.01)
	if !ConfidenceWithinEpsilon(confidence, price, epsilon) {
		t.Fatal("expected confidence ratio within epsilon")
	}
}

func TestPercentOfBalance(t *testing.T) {
	balance := bi("10000000000000000000") // 10 * 10^18
	got := PercentOfBalance(balance, 5000)
	want := bi("5000000000000000000")
	if got.Cmp(want) != 0 {
		t.Fatalf("percent of balance: got %s want %s", got, want)
	}
}

func TestHysteresisAbsolute(t *testing.T) {
	threshold := DecimalToScaledBigInt(decimal.NewFromInt(2000), 18)
	got := HysteresisAbsolute(threshold, 100)
	want := DecimalToScaledBigInt(decimal.NewFromInt(20), 18)
	if got.Cmp(want) != 0 {
		t.Fatalf("hysteresis: got %s want %s", got, want)
	}
}
