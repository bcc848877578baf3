// Package validator implements the pure per-source freshness and quality
// gate applied to every Quote before it is eligible for consolidation.
package validator

import (
	"treasury-pipeline/internal/domain"
	"treasury-pipeline/internal/pricemath"
)

// IsValid reports whether q passes every applicable gate (spec §4.2).
// It is a pure function of its arguments; it performs no I/O and has no
// side effects.
func IsValid(q domain.Quote, cfg domain.TokenCfg, now int64) bool {
	return freshnessOK(q, cfg, now) && confidenceOK(q, cfg) && twapOK(q, cfg)
}

func freshnessOK(q domain.Quote, cfg domain.TokenCfg, now int64) bool {
	ttl, ok := cfg.TTLBySource[q.Source]
	if !ok {
		// No freshness budget configured for this source means the
		// source is not recognised for this token; fail closed.
		return false
	}
	return now-q.At <= ttl
}

func confidenceOK(q domain.Quote, cfg domain.TokenCfg) bool {
	if q.Source != domain.SourcePyth {
		return true
	}
	if q.Meta.Confidence == nil {
		return false
	}
	return pricemath.ConfidenceWithinEpsilon(q.Meta.Confidence, q.Price, cfg.Epsilon)
}

func twapOK(q domain.Quote, cfg domain.TokenCfg) bool {
	if q.Source != domain.SourceUniswapV3TWAP {
		return true
	}
	if !poolAllowed(q.Meta.PoolID, cfg.AllowedPools) {
		return false
	}
	if q.Meta.WindowSec < cfg.TWAPWindowSec {
		return false
	}
	if q.Meta.LiquidityMetric == nil {
		return false
	}
	minLiquidity := pricemath.DecimalToScaledBigInt(cfg.MinLiquidity, 0)
	return q.Meta.LiquidityMetric.Cmp(minLiquidity) >= 0
}

func poolAllowed(poolID string, allowed []string) bool {
	for _, p := range allowed {
		if p == poolID {
			return true
		}
	}
	return false
}
