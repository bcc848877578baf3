package service

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"treasury-pipeline/internal/balancer"
	"treasury-pipeline/internal/chain"
	"treasury-pipeline/internal/domain"
	"treasury-pipeline/internal/execution"
	"treasury-pipeline/internal/keyed"
	"treasury-pipeline/internal/scheduler"
	"treasury-pipeline/internal/store/configrepo"
	"treasury-pipeline/internal/store/intent"
	"treasury-pipeline/internal/store/lastgood"
)

type nopObserver struct{ events []balancer.InsufficientBalanceEvent }

func (o *nopObserver) ObserveInsufficientBalance(e balancer.InsufficientBalanceEvent) {
	o.events = append(o.events, e)
}

func newBalanceHarness(t *testing.T) (*BalanceService, *configrepo.StaticRepo, *lastgood.MemoryStore, *chain.StaticClient, *intent.MemoryStore) {
	t.Helper()

	configs := configrepo.NewStaticRepo()
	configs.Tokens["WETH"] = domain.TokenCfg{TokenID: "WETH", ChainID: 1}
	configs.Rules["WETH"] = []domain.Rule{{
		RuleID: "r1", TokenID: "WETH", ChainID: 1,
		ThresholdUSD: decimal.NewFromInt(2000),
		Direction:    domain.HotToCold,
		Amount:       domain.Amount{Kind: domain.AmountPercent, Bps: 5000},
		HotAddr:      "0xhot", ColdAddr: "0xcold",
		ExecutionMode: domain.DirectKey,
		HysteresisBps: 100,
		CooldownSec:   0,
		Enabled:       true,
	}}

	lg := lastgood.NewMemoryStore()
	client := chain.NewStaticClient()
	client.SetBalance("0xhot", "WETH", big.NewInt(10))

	intents := intent.NewMemoryStore()
	eng := execution.New(intents, client, keyed.New(), nil, nil, zerolog.Nop(), execution.Options{
		Retry:       execution.RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond},
		ReceiptWait: 2 * time.Second,
	})

	sched := scheduler.New(scheduler.Options{Interval: time.Minute}, zerolog.Nop())
	svc := NewBalanceService(sched, configs, lg, intents, client, eng, &nopObserver{}, nil, 0, zerolog.Nop())
	return svc, configs, lg, client, intents
}

func TestBalanceServiceFiresSignalAndExecutesIt(t *testing.T) {
	svc, _, lg, _, intents := newBalanceHarness(t)
	ctx := context.Background()

	if err := lg.Put(ctx, domain.ConsolidatedPrice{
		TokenID: "WETH", Price: big.NewInt(2500), Decimals: 0, At: 1000, Mode: domain.ModeNormal,
	}); err != nil {
		t.Fatalf("seed last-good: %v", err)
	}

	if err := svc.tick(ctx, time.Unix(1000, 0)); err != nil {
		t.Fatalf("tick: %v", err)
	}

	inflight, err := intents.FindInFlightForRule(ctx, "r1")
	if err != nil {
		t.Fatalf("find in flight: %v", err)
	}
	if len(inflight) != 0 {
		t.Fatalf("expected no in-flight intents after completion, got %d", len(inflight))
	}

	lastFiredAt, found, err := intents.FindLastFiredAt(ctx, "r1")
	if err != nil || !found {
		t.Fatalf("expected a fired intent, found=%v err=%v", found, err)
	}
	if lastFiredAt != 1000 {
		t.Fatalf("expected firedAt=1000, got %d", lastFiredAt)
	}
}

func TestBalanceServiceSkipsTokenWithoutLastGoodPrice(t *testing.T) {
	svc, _, _, _, intents := newBalanceHarness(t)
	ctx := context.Background()

	if err := svc.tick(ctx, time.Unix(1000, 0)); err != nil {
		t.Fatalf("tick: %v", err)
	}

	inflight, err := intents.FindInFlightForRule(ctx, "r1")
	if err != nil {
		t.Fatalf("find in flight: %v", err)
	}
	if len(inflight) != 0 {
		t.Fatalf("expected no intents without a last-good price, got %d", len(inflight))
	}
}
