// Package pricemath implements every price computation the system
// performs as exact arbitrary-precision integer arithmetic. No function
// in this package touches float64; rational config values
// (shopspring/decimal) are materialized into integer-scaled big.Int form
// at the edge, per the system's design notes on integer-only price math.
package pricemath

import (
	"math/big"
	"sort"

	"github.com/shopspring/decimal"
)

var bigTen = big.NewInt(10)

// Pow10 returns 10^n as a big.Int, n >= 0.
func Pow10(n int) *big.Int {
	if n <= 0 {
		return big.NewInt(1)
	}
	return new(big.Int).Exp(bigTen, big.NewInt(int64(n)), nil)
}

// Rescale converts price from its native decimals to canonical decimals D,
// using exact integer arithmetic: multiply when widening, truncating
// integer division when narrowing toward zero. Both price and decimals
// are never mutated; a new value is returned.
func Rescale(price *big.Int, fromDecimals, toDecimals int) *big.Int {
	if fromDecimals == toDecimals {
		return new(big.Int).Set(price)
	}
	if fromDecimals < toDecimals {
		factor := Pow10(toDecimals - fromDecimals)
		return new(big.Int).Mul(price, factor)
	}
	factor := Pow10(fromDecimals - toDecimals)
	out := new(big.Int)
	out.Quo(price, factor) // Quo truncates toward zero, matching spec §4.3 step 4
	return out
}

// Median computes the integer median of a sorted ascending slice of
// rescaled prices, per spec §4.3 step 5: for odd n the middle element,
// for even n the truncated average of the two middle elements. values
// must already be sorted ascending and non-empty; callers sort via
// SortAscending first.
func Median(sortedValues []*big.Int) *big.Int {
	n := len(sortedValues)
	if n == 0 {
		return nil
	}
	if n%2 == 1 {
		return new(big.Int).Set(sortedValues[(n-1)/2])
	}
	a := sortedValues[n/2-1]
	b := sortedValues[n/2]
	sum := new(big.Int).Add(a, b)
	return sum.Quo(sum, big.NewInt(2))
}

// SortAscending sorts a slice of *big.Int in place, ascending.
func SortAscending(values []*big.Int) {
	sort.Slice(values, func(i, j int) bool {
		return values[i].Cmp(values[j]) < 0
	})
}

// DivergenceBps computes |v - m| * 10000 / m using integer math, per
// spec §4.3 step 6.
func DivergenceBps(v, m *big.Int) *big.Int {
	if m.Sign() == 0 {
		return big.NewInt(0)
	}
	diff := new(big.Int).Sub(v, m)
	diff.Abs(diff)
	diff.Mul(diff, big.NewInt(10000))
	diff.Quo(diff, m)
	return diff
}

// confidenceScale is the fixed scale k used for the integer
// cross-multiplication confidence check (spec §4.2 gate 2); 10^6 matches
// the spec's own example scale and gives epsilon six significant
// fractional digits, ample for a ratio ceiling expressed in percent or
// basis points.
const confidenceScale = 1_000_000

// ConfidenceWithinEpsilon reports whether confidence/price <= epsilon,
// computed as confidence*10^k <= price*floor(epsilon*10^k), never via
// floating-point division (spec §4.2 gate 2).
func ConfidenceWithinEpsilon(confidence, price *big.Int, epsilon decimal.Decimal) bool {
	if price.Sign() <= 0 {
		return false
	}
	scaledEpsilon := epsilon.Mul(decimal.NewFromInt(confidenceScale)).Floor().BigInt()
	lhs := new(big.Int).Mul(confidence, big.NewInt(confidenceScale))
	rhs := new(big.Int).Mul(price, scaledEpsilon)
	return lhs.Cmp(rhs) <= 0
}

// DecimalToScaledBigInt materializes a decimal.Decimal rational value as
// an integer scaled to the given number of decimals, for use in
// cross-multiplication comparisons (spec §9 design notes).
func DecimalToScaledBigInt(d decimal.Decimal, decimals int) *big.Int {
	scaled := d.Shift(int32(decimals))
	return scaled.Truncate(0).BigInt()
}

// PercentOfBalance computes balanceUnits * bps / 10000 using integer
// math (spec §4.5 step 4, Percent amount kind).
func PercentOfBalance(balanceUnits *big.Int, bps int64) *big.Int {
	out := new(big.Int).Mul(balanceUnits, big.NewInt(bps))
	out.Quo(out, big.NewInt(10000))
	return out
}

// HysteresisAbsolute computes rule.thresholdUsd * hysteresisBps / 10000,
// in the same integer scale as the supplied thresholdScaled value (spec
// §4.5 step 3).
func HysteresisAbsolute(thresholdScaled *big.Int, hysteresisBps int64) *big.Int {
	out := new(big.Int).Mul(thresholdScaled, big.NewInt(hysteresisBps))
	out.Quo(out, big.NewInt(10000))
	return out
}
