package aggregator

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"treasury-pipeline/internal/adapter"
	"treasury-pipeline/internal/domain"
	"treasury-pipeline/internal/domainerr"
	"treasury-pipeline/internal/store/configrepo"
	"treasury-pipeline/internal/store/lastgood"
)

// stubSource returns a fixed Quote (or a miss) regardless of ctx/tokenID,
// mirroring the teacher's static fetcher test doubles.
type stubSource struct {
	quote domain.Quote
	hit   bool
}

func (s stubSource) Fetch(_ context.Context, _ string) (domain.Quote, bool, error) {
	return s.quote, s.hit, nil
}

func bi(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad bigint literal: " + s)
	}
	return v
}

func s1Config() domain.TokenCfg {
	return domain.TokenCfg{
		TokenID: "WETH",
		TTLBySource: map[domain.SourceTag]int64{
			domain.SourceChainlink:     300,
			domain.SourcePyth:          300,
			domain.SourceUniswapV3TWAP: 300,
		},
		Epsilon:       decimal.NewFromFloat(0.01),
		DeltaBps:      150,
		TWAPWindowSec: 3600,
		MinLiquidity:  decimal.New(1, 21),
		AllowedPools:  []string{"P"},
	}
}

func newHarness(t *testing.T, now int64, sources adapter.Set, cfg domain.TokenCfg) (*Aggregator, *lastgood.MemoryStore) {
	t.Helper()
	repo := configrepo.NewStaticRepo()
	repo.Tokens[cfg.TokenID] = cfg

	store := lastgood.NewMemoryStore()
	agg := New(sources, repo, store, nil, zerolog.Nop())
	return agg, store
}

func s1Sources(now int64) adapter.Set {
	return adapter.Set{
		domain.SourceChainlink: stubSource{hit: true, quote: domain.Quote{
			Source: domain.SourceChainlink, Price: bi("200000000000"), Decimals: 8, At: now,
		}},
		domain.SourcePyth: stubSource{hit: true, quote: domain.Quote{
			Source: domain.SourcePyth, Price: bi("1999900000000000000000"), Decimals: 18, At: now,
			Meta: domain.QuoteMeta{Confidence: bi("500000000000000000")},
		}},
		domain.SourceUniswapV3TWAP: stubSource{hit: true, quote: domain.Quote{
			Source: domain.SourceUniswapV3TWAP, Price: bi("2001000000000000000000"), Decimals: 18, At: now,
			Meta: domain.QuoteMeta{PoolID: "P", WindowSec: 3600, LiquidityMetric: bi("2000000000000000000000")},
		}},
	}
}

func TestS1NormalMedianAcrossMixedDecimals(t *testing.T) {
	now := time.Now().UTC().Unix()
	cfg := s1Config()
	agg, _ := newHarness(t, now, s1Sources(now), cfg)

	cp, err := agg.Consolidate(context.Background(), "WETH")
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if cp.Mode != domain.ModeNormal {
		t.Fatalf("expected Normal mode, got %s", cp.Mode)
	}
	if cp.Decimals != 18 {
		t.Fatalf("expected canonical decimals 18, got %d", cp.Decimals)
	}
	want := bi("2000000000000000000000")
	if cp.Price.Cmp(want) != 0 {
		t.Fatalf("expected price %s, got %s", want, cp.Price)
	}
	if len(cp.SourcesUsed) != 3 {
		t.Fatalf("expected 3 sources used, got %d", len(cp.SourcesUsed))
	}
}

func TestS2PythConfidenceRejectionDegrades(t *testing.T) {
	now := time.Now().UTC().Unix()
	cfg := s1Config()
	sources := s1Sources(now)

	pyth := sources[domain.SourcePyth].(stubSource)
	pyth.quote.Meta.Confidence = bi("50000000000000000000") // 2.5% of price
	sources[domain.SourcePyth] = pyth

	twap := sources[domain.SourceUniswapV3TWAP].(stubSource)
	twap.quote.Meta.LiquidityMetric = bi("100000000000000000000") // below min
	sources[domain.SourceUniswapV3TWAP] = twap

	agg, _ := newHarness(t, now, sources, cfg)
	cp, err := agg.Consolidate(context.Background(), "WETH")
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if cp.Mode != domain.ModeDegraded {
		t.Fatalf("expected Degraded mode, got %s", cp.Mode)
	}
	if len(cp.SourcesUsed) != 1 || cp.SourcesUsed[0].Source != domain.SourceChainlink {
		t.Fatalf("expected sole source Chainlink, got %+v", cp.SourcesUsed)
	}
	want := bi("2000000000000000000000")
	if cp.Price.Cmp(want) != 0 {
		t.Fatalf("expected price %s, got %s", want, cp.Price)
	}
}

func TestS3StaleQuoteWithoutLastGoodFails(t *testing.T) {
	cfg := s1Config()
	staleAt := time.Now().UTC().Unix() - 400
	sources := adapter.Set{
		domain.SourceChainlink: stubSource{hit: true, quote: domain.Quote{
			Source: domain.SourceChainlink, Price: bi("200000000000"), Decimals: 8, At: staleAt,
		}},
	}

	agg, _ := newHarness(t, staleAt, sources, cfg)
	_, err := agg.Consolidate(context.Background(), "WETH")
	if err == nil {
		t.Fatal("expected NoPriceAvailable when no last-good exists")
	}
	if !domainerr.Is(err, domainerr.KindNoPriceAvailable) {
		t.Fatalf("expected NoPriceAvailable kind, got %v", err)
	}
}

func TestS4FrozenThenRecover(t *testing.T) {
	now := time.Now().UTC().Unix()
	cfg := s1Config()
	sources := s1Sources(now)
	agg, store := newHarness(t, now, sources, cfg)
	ctx := context.Background()

	first, err := agg.Consolidate(ctx, "WETH")
	if err != nil {
		t.Fatalf("first consolidate: %v", err)
	}

	// make all quotes stale
	for tag, src := range sources {
		s := src.(stubSource)
		s.quote.At = now - 10000
		sources[tag] = s
	}

	frozen, err := agg.Consolidate(ctx, "WETH")
	if err != nil {
		t.Fatalf("frozen consolidate: %v", err)
	}
	if frozen.Mode != domain.ModeFrozen {
		t.Fatalf("expected Frozen mode, got %s", frozen.Mode)
	}
	if frozen.Price.Cmp(first.Price) != 0 {
		t.Fatalf("expected frozen price to equal prior price: got %s want %s", frozen.Price, first.Price)
	}

	// restore pyth fresh only
	pyth := sources[domain.SourcePyth].(stubSource)
	pyth.quote.At = time.Now().UTC().Unix()
	sources[domain.SourcePyth] = pyth

	degraded, err := agg.Consolidate(ctx, "WETH")
	if err != nil {
		t.Fatalf("degraded consolidate: %v", err)
	}
	if degraded.Mode != domain.ModeDegraded {
		t.Fatalf("expected Degraded mode, got %s", degraded.Mode)
	}
	if len(degraded.SourcesUsed) != 1 || degraded.SourcesUsed[0].Source != domain.SourcePyth {
		t.Fatalf("expected sole source Pyth, got %+v", degraded.SourcesUsed)
	}

	if _, ok, _ := store.Get(ctx, "WETH"); !ok {
		t.Fatal("expected a last-good entry to exist")
	}
}
