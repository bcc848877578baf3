package uniswapv3twap

import (
	"context"
	"encoding/json"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"

	"treasury-pipeline/internal/domain"
)

// poolCache fronts observe() calls with a short-TTL Redis cache, so
// multiple rules evaluated against the same pool within one aggregation
// pass share a single on-chain read (spec glossary: DEX TWAP adapter).
type poolCache struct {
	client *redis.Client
	ttl    time.Duration
}

func newPoolCache(client *redis.Client, ttl time.Duration) *poolCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &poolCache{client: client, ttl: ttl}
}

type cachedQuote struct {
	Price           string `json:"price"`
	Decimals        int    `json:"decimals"`
	At              int64  `json:"at"`
	PoolID          string `json:"pool_id"`
	WindowSec       int64  `json:"window_sec"`
	LiquidityMetric string `json:"liquidity_metric"`
}

func (c *poolCache) get(ctx context.Context, key string) (domain.Quote, bool) {
	if c == nil || c.client == nil {
		return domain.Quote{}, false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return domain.Quote{}, false
	}

	var cq cachedQuote
	if err := json.Unmarshal(raw, &cq); err != nil {
		return domain.Quote{}, false
	}
	price, ok := new(big.Int).SetString(cq.Price, 10)
	if !ok {
		return domain.Quote{}, false
	}
	liquidity, ok := new(big.Int).SetString(cq.LiquidityMetric, 10)
	if !ok {
		liquidity = big.NewInt(0)
	}

	return domain.Quote{
		Source:   domain.SourceUniswapV3TWAP,
		Price:    price,
		Decimals: cq.Decimals,
		At:       cq.At,
		Meta: domain.QuoteMeta{
			PoolID:          cq.PoolID,
			WindowSec:       cq.WindowSec,
			LiquidityMetric: liquidity,
		},
	}, true
}

func (c *poolCache) set(ctx context.Context, key string, q domain.Quote) {
	if c == nil || c.client == nil {
		return
	}
	liquidity := q.Meta.LiquidityMetric
	if liquidity == nil {
		liquidity = big.NewInt(0)
	}
	data, err := json.Marshal(cachedQuote{
		Price: q.Price.String(), Decimals: q.Decimals, At: q.At,
		PoolID: q.Meta.PoolID, WindowSec: q.Meta.WindowSec, LiquidityMetric: liquidity.String(),
	})
	if err != nil {
		return
	}
	c.client.Set(ctx, key, data, c.ttl)
}
