package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// TokenCfg is the per-token registry entry governing validation and
// aggregation gates.
type TokenCfg struct {
	TokenID  string
	ChainID  int64

	// TTLBySource is the per-source freshness budget, in seconds.
	TTLBySource map[SourceTag]int64

	// Epsilon is the confidence/price ratio ceiling, rational in [0, 1].
	Epsilon decimal.Decimal

	// DeltaBps is the divergence alert threshold, in basis points.
	DeltaBps int64

	TWAPWindowSec int64
	MinLiquidity  decimal.Decimal
	AllowedPools  []string
}

// Direction is which wallet a Rule moves funds out of.
type Direction string

const (
	HotToCold Direction = "hot_to_cold"
	ColdToHot Direction = "cold_to_hot"
)

// AmountKind distinguishes an absolute-unit transfer from a
// percent-of-balance one.
type AmountKind string

const (
	AmountAbsolute AmountKind = "absolute"
	AmountPercent  AmountKind = "percent"
)

// Amount is a Rule's transfer-size specification.
type Amount struct {
	Kind  AmountKind
	Units *big.Int // used when Kind == AmountAbsolute
	Bps   int64     // used when Kind == AmountPercent
}

// ExecutionMode is how a fired signal is carried to the chain.
type ExecutionMode string

const (
	DirectKey       ExecutionMode = "direct_key"
	MultisigPropose ExecutionMode = "multisig_propose"
	MultisigExecute ExecutionMode = "multisig_execute"
)

// Rule is one balancer trigger definition.
type Rule struct {
	RuleID  string
	TokenID string
	ChainID int64

	ThresholdUSD decimal.Decimal
	Direction    Direction
	Amount       Amount

	HotAddr, ColdAddr string
	ExecutionMode     ExecutionMode

	HysteresisBps int64
	CooldownSec   int64
	Enabled       bool
}
