package balancer

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"treasury-pipeline/internal/domain"
	"treasury-pipeline/internal/pricemath"
)

func bi(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad bigint literal: " + s)
	}
	return v
}

func s5Rule() domain.Rule {
	return domain.Rule{
		RuleID: "r1", TokenID: "WETH", ChainID: 1,
		ThresholdUSD: decimal.NewFromInt(2000),
		Direction:    domain.HotToCold,
		Amount:       domain.Amount{Kind: domain.AmountPercent, Bps: 5000},
		HotAddr:      "0xhot", ColdAddr: "0xcold",
		ExecutionMode: domain.DirectKey,
		HysteresisBps: 100,
		CooldownSec:   3600,
		Enabled:       true,
	}
}

func TestS5HotToColdFireWithPercentAmount(t *testing.T) {
	rule := s5Rule()
	cp := domain.ConsolidatedPrice{
		TokenID: "WETH", Price: bi("2500000000000000000000"), Decimals: 18, At: 1000, Mode: domain.ModeNormal,
	}
	balance := bi("10000000000000000000") // 10 * 10^18

	sig := Evaluate(rule, cp, balance, 0, 1000, nil)
	if sig == nil {
		t.Fatal("expected a signal to fire")
	}
	want := bi("5000000000000000000")
	if sig.AmountUnits.Cmp(want) != 0 {
		t.Fatalf("amount: got %s want %s", sig.AmountUnits, want)
	}
	if sig.Direction != domain.HotToCold {
		t.Fatalf("expected HotToCold direction, got %s", sig.Direction)
	}

	// A second identical signal within the cooldown window must not fire.
	sig2 := Evaluate(rule, cp, balance, 1000, 1500, nil)
	if sig2 != nil {
		t.Fatal("expected no signal within cooldown window")
	}
}

func TestEvaluateDisabledRuleNeverFires(t *testing.T) {
	rule := s5Rule()
	rule.Enabled = false
	cp := domain.ConsolidatedPrice{Price: bi("9999000000000000000000"), Decimals: 18, At: 1000}
	if sig := Evaluate(rule, cp, bi("10000000000000000000"), 0, 1000, nil); sig != nil {
		t.Fatal("expected disabled rule to never fire")
	}
}

type recordingObserver struct {
	events []InsufficientBalanceEvent
}

func (r *recordingObserver) ObserveInsufficientBalance(e InsufficientBalanceEvent) {
	r.events = append(r.events, e)
}

func TestEvaluateInsufficientBalanceSuppressesSignal(t *testing.T) {
	rule := s5Rule()
	rule.Amount = domain.Amount{Kind: domain.AmountAbsolute, Units: bi("100000000000000000000")}
	cp := domain.ConsolidatedPrice{Price: bi("2500000000000000000000"), Decimals: 18, At: 1000}
	balance := bi("1000000000000000000") // far less than required amount

	obs := &recordingObserver{}
	sig := Evaluate(rule, cp, balance, 0, 1000, obs)
	if sig != nil {
		t.Fatal("expected no signal when balance insufficient")
	}
	if len(obs.events) != 1 {
		t.Fatalf("expected one InsufficientBalance event, got %d", len(obs.events))
	}
}

// TestHysteresisMonotonicity is property 6 from the spec's testable
// properties: for a HotToCold rule, if p1 < p2 and p1 fires, p2 also
// fires (all else equal).
func TestHysteresisMonotonicity(t *testing.T) {
	rule := s5Rule()
	balance := bi("10000000000000000000")

	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		base := int64(1900) + rnd.Int63n(400)
		p1 := pricemath.DecimalToScaledBigInt(decimal.NewFromInt(base), 18)
		delta := rnd.Int63n(1000) + 1
		p2 := new(big.Int).Add(p1, new(big.Int).Mul(big.NewInt(delta), pricemath.Pow10(18)))

		cp1 := domain.ConsolidatedPrice{Price: p1, Decimals: 18, At: 1000}
		cp2 := domain.ConsolidatedPrice{Price: p2, Decimals: 18, At: 1000}

		if Evaluate(rule, cp1, balance, 0, 1000, nil) != nil {
			if Evaluate(rule, cp2, balance, 0, 1000, nil) == nil {
				t.Fatalf("monotonicity violated: p1=%s fired but p2=%s (higher) did not", p1, p2)
			}
		}
	}
}

// TestCooldownHonored is property 9: if a signal fires at t, no signal
// for the same rule fires in [t, t+cooldownSec).
func TestCooldownHonored(t *testing.T) {
	rule := s5Rule()
	balance := bi("10000000000000000000")
	cp := domain.ConsolidatedPrice{Price: bi("2500000000000000000000"), Decimals: 18, At: 1000}

	fireAt := int64(1000)
	for now := fireAt; now < fireAt+rule.CooldownSec; now += 100 {
		if sig := Evaluate(rule, cp, balance, fireAt, now, nil); sig != nil {
			t.Fatalf("expected no fire at now=%d within cooldown starting at %d", now, fireAt)
		}
	}

	if sig := Evaluate(rule, cp, balance, fireAt, fireAt+rule.CooldownSec, nil); sig == nil {
		t.Fatal("expected fire once cooldown has elapsed")
	}
}
