package validator

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"treasury-pipeline/internal/domain"
)

func bigIntFromString(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("invalid big int literal: " + s)
	}
	return n
}

func baseCfg() domain.TokenCfg {
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

func TestFreshnessRejectsStale(t *testing.T) {
	cfg := baseCfg()
	q := domain.Quote{Source: domain.SourceChainlink, Price: big.NewInt(1), At: 100}
	if IsValid(q, cfg, 500) {
		t.Fatal("expected stale chainlink quote to be rejected")
	}
}

func TestFreshnessAcceptsWithinTTL(t *testing.T) {
	cfg := baseCfg()
	q := domain.Quote{Source: domain.SourceChainlink, Price: big.NewInt(1), At: 300}
	if !IsValid(q, cfg, 500) {
		t.Fatal("expected chainlink quote within TTL to be accepted")
	}
}

func TestPythRejectsLowConfidence(t *testing.T) {
	cfg := baseCfg()
	q := domain.Quote{
		Source: domain.SourcePyth,
		Price:  big.NewInt(1999900000),
		At:     500,
		Meta:   domain.QuoteMeta{Confidence: big.NewInt(50000000)}, // 2.5%
	}
	if IsValid(q, cfg, 500) {
		t.Fatal("expected low-confidence pyth quote to be rejected")
	}
}

func TestPythAcceptsHighConfidence(t *testing.T) {
	cfg := baseCfg()
	q := domain.Quote{
		Source: domain.SourcePyth,
		Price:  big.NewInt(2000000000),
		At:     500,
		Meta:   domain.QuoteMeta{Confidence: big.NewInt(500000)}, // 0.025%
	}
	if !IsValid(q, cfg, 500) {
		t.Fatal("expected high-confidence pyth quote to be accepted")
	}
}

func TestTWAPRejectsUnlistedPool(t *testing.T) {
	cfg := baseCfg()
	q := domain.Quote{
		Source: domain.SourceUniswapV3TWAP,
		Price:  big.NewInt(2000000000),
		At:     500,
		Meta: domain.QuoteMeta{
			PoolID:          "Q",
			WindowSec:       3600,
			LiquidityMetric: bigIntFromString("2000000000000000000000"),
		},
	}
	if IsValid(q, cfg, 500) {
		t.Fatal("expected unlisted pool to be rejected")
	}
}

func TestTWAPRejectsLowLiquidity(t *testing.T) {
	cfg := baseCfg()
	q := domain.Quote{
		Source: domain.SourceUniswapV3TWAP,
		Price:  big.NewInt(2000000000),
		At:     500,
		Meta: domain.QuoteMeta{
			PoolID:          "P",
			WindowSec:       3600,
			LiquidityMetric: bigIntFromString("100000000000000000000"),
		},
	}
	if IsValid(q, cfg, 500) {
		t.Fatal("expected below-minimum liquidity to be rejected")
	}
}

func TestTWAPAcceptsWithinGates(t *testing.T) {
	cfg := baseCfg()
	q := domain.Quote{
		Source: domain.SourceUniswapV3TWAP,
		Price:  big.NewInt(2000000000),
		At:     500,
		Meta: domain.QuoteMeta{
			PoolID:          "P",
			WindowSec:       3600,
			LiquidityMetric: bigIntFromString("2000000000000000000000"),
		},
	}
	if !IsValid(q, cfg, 500) {
		t.Fatal("expected quote within all TWAP gates to be accepted")
	}
}
