package app

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"treasury-pipeline/internal/adapter"
	"treasury-pipeline/internal/aggregator"
	"treasury-pipeline/internal/alerting"
	"treasury-pipeline/internal/balancer"
	"treasury-pipeline/internal/chain"
	"treasury-pipeline/internal/domain"
	"treasury-pipeline/internal/execution"
	"treasury-pipeline/internal/keyed"
	"treasury-pipeline/internal/store/configrepo"
	"treasury-pipeline/internal/store/intent"
	"treasury-pipeline/internal/store/lastgood"
)

// staticSource feeds a single literal Quote back for every Fetch call,
// the simulate command's stand-in for a real adapter.Source.
type staticSource struct {
	quote domain.Quote
}

func (s *staticSource) Fetch(_ context.Context, _ string) (domain.Quote, bool, error) {
	return s.quote, true, nil
}

// Simulate runs one Aggregator pass over opts.Quotes and one Balancer
// pass over opts.Rule, submitting any fired signal to an in-memory
// Execution Engine, all without touching a real adapter or chain.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	now := time.Now().UTC()

	chainID := int64(1)
	rule := domain.Rule{
		RuleID: opts.Rule.RuleID, TokenID: opts.TokenID, ChainID: chainID,
		Direction: opts.Rule.Direction, HotAddr: opts.Rule.HotAddr, ColdAddr: opts.Rule.ColdAddr,
		ExecutionMode: domain.DirectKey,
		HysteresisBps: opts.Rule.HysteresisBps, CooldownSec: opts.Rule.CooldownSec, Enabled: true,
	}

	threshold, err := decimal.NewFromString(opts.Rule.ThresholdUSD)
	if err != nil {
		return fmt.Errorf("parse threshold: %w", err)
	}
	rule.ThresholdUSD = threshold

	rule.Amount = domain.Amount{Kind: opts.Rule.AmountKind, Bps: opts.Rule.AmountBps}
	if opts.Rule.AmountKind == domain.AmountAbsolute {
		units, ok := new(big.Int).SetString(opts.Rule.AmountUnits, 10)
		if !ok {
			return fmt.Errorf("parse amount units %q", opts.Rule.AmountUnits)
		}
		rule.Amount.Units = units
	}

	balance, ok := new(big.Int).SetString(opts.BalanceRaw, 10)
	if !ok {
		return fmt.Errorf("parse balance %q", opts.BalanceRaw)
	}

	configs := configrepo.NewStaticRepo()
	configs.Tokens[opts.TokenID] = domain.TokenCfg{
		TokenID: opts.TokenID, ChainID: chainID,
		TTLBySource:  defaultSimulationTTLs(opts.Quotes),
		AllowedPools: []string{"simulated"},
		Epsilon:      decimal.NewFromFloat(0.01),
		DeltaBps:    10000, // disable divergence alerting noise in a synthetic scenario
	}
	configs.Rules[opts.TokenID] = []domain.Rule{rule}

	sources := adapterSetFromQuotes(opts.Quotes, now)

	lastGood := lastgood.NewMemoryStore()
	chainCl := chain.NewStaticClient()
	chainCl.SetBalance(rule.HotAddr, opts.TokenID, balance)
	chainCl.SetBalance(rule.ColdAddr, opts.TokenID, balance)
	intents := intent.NewMemoryStore()

	notifier := a.newNotifier()
	dispatcher := alerting.NewDispatcher(notifier, nil, a.Config.Alerting.Channels, a.Logger)

	agg := aggregator.New(sources, configs, lastGood, dispatcher, a.Logger)
	eng := execution.New(intents, chainCl, keyed.New(), nil, dispatcher, a.Logger, execution.Options{
		Retry:       execution.DefaultRetryConfig("simulate"),
		ReceiptWait: 2 * time.Second,
	})

	cp, err := agg.Consolidate(ctx, opts.TokenID)
	if err != nil {
		return fmt.Errorf("simulate consolidate: %w", err)
	}
	a.Logger.Info().Str("mode", string(cp.Mode)).Str("price", cp.Price.String()).Msg("simulated consolidated price")

	sig := balancer.Evaluate(rule, cp, balance, 0, now.Unix(), dispatcher)
	if sig == nil {
		a.Logger.Info().Msg("simulated scenario did not fire a transfer signal")
		return nil
	}

	a.Logger.Info().Str("amount_units", sig.AmountUnits.String()).Str("direction", string(sig.Direction)).Msg("simulated transfer signal fired")
	if err := eng.Submit(ctx, *sig); err != nil {
		return fmt.Errorf("simulate submit: %w", err)
	}

	in, _, err := intents.FindByIdemKey(ctx, execution.IdemKey(*sig))
	if err != nil {
		return err
	}
	a.Logger.Info().Str("status", in.Status.String()).Str("tx_hash", in.TxHash).Msg("simulated intent settled")
	return nil
}

func defaultSimulationTTLs(quotes []SimulatedQuote) map[domain.SourceTag]int64 {
	ttls := make(map[domain.SourceTag]int64, len(quotes))
	for _, q := range quotes {
		ttls[q.Source] = 3600
	}
	return ttls
}

func adapterSetFromQuotes(quotes []SimulatedQuote, now time.Time) adapter.Set {
	set := make(adapter.Set, len(quotes))
	for _, q := range quotes {
		price, ok := new(big.Int).SetString(q.PriceRaw, 10)
		if !ok {
			price = big.NewInt(0)
		}
		meta := domain.QuoteMeta{}
		if q.Source == domain.SourcePyth {
			meta.Confidence = big.NewInt(0)
		}
		if q.Source == domain.SourceUniswapV3TWAP {
			meta.PoolID = "simulated"
			meta.WindowSec = 3600
			meta.LiquidityMetric = big.NewInt(0)
		}
		set[q.Source] = &staticSource{quote: domain.Quote{
			Source: q.Source, Price: price, Decimals: q.Decimals, At: now.Unix(), Meta: meta,
		}}
	}
	return set
}
