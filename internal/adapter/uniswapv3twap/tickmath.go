package uniswapv3twap

import "math/big"

// q96 is the Q64.96 fixed-point scale Uniswap V3 itself uses for sqrt
// prices; we reuse it as the intermediate precision for tick
// exponentiation so truncation error stays far below one part in 10^18.
var q96 = new(big.Int).Lsh(big.NewInt(1), 96)

// tickBase is 1.0001 expressed as a Q96 fixed-point numerator: this is
// 1.0001 * 2^96, truncated to an integer.
var tickBase = mustTickBaseQ96()

func mustTickBaseQ96() *big.Int {
	// 1.0001 * 2^96 = 79228162514264337593543950336 * 1.0001, computed at
	// the needed precision without float64: (2^96 * 10001) / 10000.
	num := new(big.Int).Mul(q96, big.NewInt(10001))
	num.Quo(num, big.NewInt(10000))
	return num
}

// PriceFromTick converts an average tick to a price ratio (token1 per
// token0) scaled to `decimals` fractional digits, computed entirely with
// big.Int exponentiation-by-squaring over Q96 fixed point — never via
// math.Exp/math.Log. This directly replaces the floating-point
// exp/log-plus-fallback approach the source used.
//
// tick may be negative; the result is always a positive integer or the
// function reports ok=false if the tick is out of Uniswap's supported
// range (±887272), matching the pool's own TickMath bounds instead of
// silently substituting a placeholder price.
func PriceFromTick(tick int64, decimals int) (price *big.Int, ok bool) {
	const maxTick = 887272
	if tick > maxTick || tick < -maxTick {
		return nil, false
	}

	ratioQ96 := powQ96(tick)

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	out := new(big.Int).Mul(ratioQ96, scale)
	out.Quo(out, q96)
	return out, true
}

// powQ96 computes tickBase^tick as a Q96 fixed-point value via
// exponentiation by squaring, handling negative exponents by inverting
// the positive result (Q96 division), all in exact integer arithmetic.
func powQ96(tick int64) *big.Int {
	neg := tick < 0
	n := tick
	if neg {
		n = -n
	}

	result := new(big.Int).Set(q96) // Q96 representation of 1.0
	base := new(big.Int).Set(tickBase)

	for n > 0 {
		if n&1 == 1 {
			result.Mul(result, base)
			result.Quo(result, q96)
		}
		base.Mul(base, base)
		base.Quo(base, q96)
		n >>= 1
	}

	if !neg {
		return result
	}

	inv := new(big.Int).Mul(q96, q96)
	inv.Quo(inv, result)
	return inv
}
