// Package balancer implements Stage B's pure decision function: given a
// Rule, the current ConsolidatedPrice, a balance, and the rule's last
// fire time, decide whether to emit a TransferSignal (spec §4.5).
package balancer

import (
	"math/big"

	"treasury-pipeline/internal/domain"
	"treasury-pipeline/internal/pricemath"
)

// InsufficientBalanceEvent is emitted (never returned as an error) when a
// rule would otherwise fire but the computed amount exceeds the
// available balance (spec §7).
type InsufficientBalanceEvent struct {
	RuleID        string
	ComputedUnits *big.Int
	BalanceUnits  *big.Int
}

// Observer receives advisory events the evaluator raises along the way.
// A nil Observer is valid; events are simply dropped.
type Observer interface {
	ObserveInsufficientBalance(InsufficientBalanceEvent)
}

// Evaluate is the pure decision function from spec §4.5. now and
// lastFireAt are both epoch seconds; lastFireAt of 0 means the rule has
// never fired. It returns nil when no signal should be emitted.
func Evaluate(rule domain.Rule, cp domain.ConsolidatedPrice, balanceUnits *big.Int, lastFireAt int64, now int64, observer Observer) *domain.TransferSignal {
	if !rule.Enabled {
		return nil
	}

	if lastFireAt > 0 && now-lastFireAt < rule.CooldownSec {
		return nil
	}

	if !thresholdFires(rule, cp) {
		return nil
	}

	amount := computeAmount(rule, balanceUnits)

	if amount.Cmp(balanceUnits) > 0 {
		if observer != nil {
			observer.ObserveInsufficientBalance(InsufficientBalanceEvent{
				RuleID: rule.RuleID, ComputedUnits: amount, BalanceUnits: balanceUnits,
			})
		}
		return nil
	}

	from, to := walletsFor(rule)

	return &domain.TransferSignal{
		RuleID: rule.RuleID, TokenID: rule.TokenID,
		PriceAtFire: cp.Price, DecimalsAtFire: cp.Decimals, FiredAt: cp.At,
		AmountUnits: amount, Direction: rule.Direction,
		From: from, To: to, ExecutionMode: rule.ExecutionMode,
	}
}

// thresholdFires applies the threshold-with-hysteresis gate via integer
// cross-multiplication, never float comparison (spec §4.5 step 3).
func thresholdFires(rule domain.Rule, cp domain.ConsolidatedPrice) bool {
	thresholdScaled := pricemath.DecimalToScaledBigInt(rule.ThresholdUSD, cp.Decimals)
	hysteresis := pricemath.HysteresisAbsolute(thresholdScaled, rule.HysteresisBps)

	switch rule.Direction {
	case domain.HotToCold:
		bound := new(big.Int).Add(thresholdScaled, hysteresis)
		return cp.Price.Cmp(bound) >= 0
	case domain.ColdToHot:
		bound := new(big.Int).Sub(thresholdScaled, hysteresis)
		return cp.Price.Cmp(bound) <= 0
	default:
		return false
	}
}

func computeAmount(rule domain.Rule, balanceUnits *big.Int) *big.Int {
	switch rule.Amount.Kind {
	case domain.AmountPercent:
		return pricemath.PercentOfBalance(balanceUnits, rule.Amount.Bps)
	default: // domain.AmountAbsolute
		if rule.Amount.Units == nil {
			return big.NewInt(0)
		}
		return new(big.Int).Set(rule.Amount.Units)
	}
}

func walletsFor(rule domain.Rule) (from, to string) {
	if rule.Direction == domain.HotToCold {
		return rule.HotAddr, rule.ColdAddr
	}
	return rule.ColdAddr, rule.HotAddr
}
