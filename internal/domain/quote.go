package domain

import "math/big"

// SourceTag identifies a price source kind.
type SourceTag string

const (
	SourceChainlink      SourceTag = "chainlink"
	SourcePyth           SourceTag = "pyth"
	SourceUniswapV3TWAP  SourceTag = "uniswapv3twap"
)

// QuoteMeta carries source-specific fields that the Validator needs but the
// canonical price representation does not.
type QuoteMeta struct {
	// Confidence is mandatory for publisher-aggregated sources (Pyth-style);
	// it shares Quote.Decimals with Price.
	Confidence *big.Int

	// PoolID, WindowSec, LiquidityMetric are populated for DEX TWAP sources.
	PoolID          string
	WindowSec       int64
	LiquidityMetric *big.Int

	// RoundID is an optional direct-publisher feed round identifier.
	RoundID string
}

// Quote is one observation from one source, in that source's native scale.
// Precision is preserved until the Aggregator rescales it (spec §4.1).
type Quote struct {
	Source   SourceTag
	Price    *big.Int
	Decimals int
	At       int64 // epoch seconds
	Meta     QuoteMeta
}

// Mode is the degradation state a ConsolidatedPrice was produced under.
type Mode string

const (
	ModeNormal   Mode = "normal"
	ModeDegraded Mode = "degraded"
	ModeFrozen   Mode = "frozen"
)

// CanonicalDecimals is the scale (D=18) every persisted ConsolidatedPrice
// must carry.
const CanonicalDecimals = 18

// ConsolidatedPrice is the Aggregator's output for one token at one run.
type ConsolidatedPrice struct {
	TokenID     string
	Price       *big.Int
	Decimals    int
	At          int64
	Mode        Mode
	SourcesUsed []Quote
}
