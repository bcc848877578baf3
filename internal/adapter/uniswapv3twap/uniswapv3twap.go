// Package uniswapv3twap implements the DEX TWAP price source adapter
// (spec §4.1). The adapter owns the tick-to-price conversion and the
// harmonic-mean liquidity metric; the Aggregator/Validator own gating on
// minLiquidity and allowedPools.
package uniswapv3twap

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"treasury-pipeline/internal/domain"
)

const poolABIJSON = `[
	{"inputs":[{"internalType":"uint32[]","name":"secondsAgos","type":"uint32[]"}],
	 "name":"observe",
	 "outputs":[
		{"internalType":"int56[]","name":"tickCumulatives","type":"int56[]"},
		{"internalType":"uint160[]","name":"secondsPerLiquidityCumulativeX128s","type":"uint160[]"}
	 ],"stateMutability":"view","type":"function"}
]`

var poolABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(poolABIJSON))
	if err != nil {
		panic("uniswapv3twap: failed to parse pool ABI: " + err.Error())
	}
	poolABI = parsed
}

// PoolSpec names a candidate pool for a token, in the declared order the
// adapter must try them (spec §4.1: "iterate the allowedPools in
// declared order and take the first one that yields a Quote").
type PoolSpec struct {
	PoolID  string
	Address string
}

// Options parameterise the adapter.
type Options struct {
	RPCURL      string
	Pools       map[string][]PoolSpec // tokenId -> ordered candidate pools
	WindowSec   int64
	Decimals    int
	Timeout     time.Duration
	RedisClient *redis.Client // optional; fronts observe() with a short-TTL cache
	CacheTTL    time.Duration
}

// Adapter speaks a Uniswap-V3-style pool's observe() protocol.
type Adapter struct {
	opts      Options
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
	cache     *poolCache
}

// New constructs a Uniswap V3 TWAP adapter.
func New(opts Options, logger zerolog.Logger) *Adapter {
	return &Adapter{
		opts:   opts,
		logger: logger.With().Str("component", "adapter_uniswapv3twap").Logger(),
		cache:  newPoolCache(opts.RedisClient, opts.CacheTTL),
	}
}

// Fetch implements adapter.Source. It tries each configured pool for the
// token in declared order and returns the first one that yields a Quote;
// a pool that cannot serve the requested window is skipped, not fatal.
func (a *Adapter) Fetch(ctx context.Context, tokenID string) (domain.Quote, bool, error) {
	pools, ok := a.opts.Pools[tokenID]
	if !ok || len(pools) == 0 {
		return domain.Quote{}, false, nil
	}

	timeout := a.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := a.getClient(callCtx)
	if err != nil {
		a.logger.Debug().Err(err).Msg("dial failed; reporting no data")
		return domain.Quote{}, false, nil
	}

	window := a.opts.WindowSec
	if window <= 0 {
		window = 3600
	}
	decimals := a.opts.Decimals
	if decimals <= 0 {
		decimals = domain.CanonicalDecimals
	}

	for _, pool := range pools {
		q, ok := a.fetchPool(callCtx, client, pool, window, decimals)
		if ok {
			return q, true, nil
		}
	}
	return domain.Quote{}, false, nil
}

func (a *Adapter) fetchPool(ctx context.Context, client *ethclient.Client, pool PoolSpec, windowSec int64, decimals int) (domain.Quote, bool) {
	cacheKey := "twap:" + pool.PoolID + ":" + pool.Address
	if q, ok := a.cache.get(ctx, cacheKey); ok {
		return q, true
	}

	addr := common.HexToAddress(pool.Address)

	secondsAgos := []uint32{uint32(windowSec), 0}
	payload, err := poolABI.Pack("observe", secondsAgos)
	if err != nil {
		return domain.Quote{}, false
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		a.logger.Debug().Err(err).Str("pool_id", pool.PoolID).Msg("observe() failed; pool cannot serve window")
		return domain.Quote{}, false
	}

	outputs, err := poolABI.Unpack("observe", res)
	if err != nil || len(outputs) != 2 {
		return domain.Quote{}, false
	}

	tickCumulatives, ok := outputs[0].([]*big.Int)
	if !ok || len(tickCumulatives) != 2 {
		return domain.Quote{}, false
	}
	secondsPerLiquidity, ok := outputs[1].([]*big.Int)
	if !ok || len(secondsPerLiquidity) != 2 {
		return domain.Quote{}, false
	}

	avgTick := new(big.Int).Sub(tickCumulatives[1], tickCumulatives[0])
	avgTick.Quo(avgTick, big.NewInt(windowSec))

	price, ok := PriceFromTick(avgTick.Int64(), decimals)
	if !ok {
		a.logger.Debug().Str("pool_id", pool.PoolID).Msg("average tick out of supported range; reporting no data")
		return domain.Quote{}, false
	}

	liquidity := harmonicMeanLiquidity(secondsPerLiquidity[0], secondsPerLiquidity[1], windowSec)

	q := domain.Quote{
		Source:   domain.SourceUniswapV3TWAP,
		Price:    price,
		Decimals: decimals,
		At:       time.Now().UTC().Unix(),
		Meta: domain.QuoteMeta{
			PoolID:          pool.PoolID,
			WindowSec:       windowSec,
			LiquidityMetric: liquidity,
		},
	}
	a.cache.set(ctx, cacheKey, q)
	return q, true
}

// harmonicMeanLiquidity derives a window-averaged liquidity figure from
// the pool's secondsPerLiquidityCumulativeX128 observations: the delta
// over the window is seconds-weighted by 1/liquidity, so inverting the
// per-second average recovers the harmonic mean (spec glossary).
func harmonicMeanLiquidity(startX128, endX128 *big.Int, windowSec int64) *big.Int {
	delta := new(big.Int).Sub(endX128, startX128)
	if delta.Sign() <= 0 || windowSec <= 0 {
		return big.NewInt(0)
	}
	// harmonicLiquidity = windowSec * 2^128 / delta
	q128 := new(big.Int).Lsh(big.NewInt(1), 128)
	num := new(big.Int).Mul(big.NewInt(windowSec), q128)
	return num.Quo(num, delta)
}

func (a *Adapter) getClient(ctx context.Context) (*ethclient.Client, error) {
	a.clientMux.Lock()
	defer a.clientMux.Unlock()

	if a.client != nil {
		return a.client, nil
	}
	if a.opts.RPCURL == "" {
		return nil, errors.New("uniswapv3twap adapter: rpc url not configured")
	}

	client, err := ethclient.DialContext(ctx, a.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	a.client = client
	return client, nil
}

var _ interface {
	Fetch(ctx context.Context, tokenID string) (domain.Quote, bool, error)
} = (*Adapter)(nil)
