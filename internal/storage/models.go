package storage

import (
	"time"
)

// DivergenceEventRecord is a persisted instance of a source disagreeing
// with the chosen consolidated price by more than a token's configured
// deltaBps (spec §7, §11.4): audited, never silently dropped.
type DivergenceEventRecord struct {
	ID           int64
	TokenID      string
	Source       string
	QuotedPrice  string // decimal string, arbitrary precision preserved
	ChosenPrice  string
	DeviationBps int64
	ObservedAt   time.Time
	CreatedAt    time.Time
}

// InsufficientBalanceEventRecord is a persisted instance of a rule firing
// its threshold gate but being suppressed because the computed transfer
// amount exceeded the available balance.
type InsufficientBalanceEventRecord struct {
	ID             int64
	RuleID         string
	ComputedUnits  string
	BalanceUnits   string
	ObservedAt     time.Time
	CreatedAt      time.Time
}
