// Package configrepo implements the read-mostly registry of TokenCfg and
// Rule values (spec §6), cached in-process with a TTL so a hot
// aggregation/balancing loop does not round-trip to Postgres on every
// tick.
package configrepo

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"treasury-pipeline/internal/domain"
)

// ErrNotFound indicates no TokenCfg/Rule set exists for the given key.
var ErrNotFound = errors.New("configrepo: not found")

// Repo is the Token/Rule Config Repo contract (spec §6): getTokenCfg,
// getEnabledRules.
type Repo interface {
	GetTokenCfg(ctx context.Context, tokenID string) (domain.TokenCfg, error)
	GetEnabledRules(ctx context.Context, tokenID string, chainID int64) ([]domain.Rule, error)
	// ListTokenIDs enumerates every registered token, letting a scheduler
	// tick the Aggregator over the whole registry without a separate
	// discovery mechanism.
	ListTokenIDs(ctx context.Context) ([]string, error)
}

type cacheEntry[T any] struct {
	value   T
	cachedAt time.Time
}

// CachedRepo wraps a Source (typically Postgres-backed) with a TTL cache
// keyed the same way canopyx caches per-chain stores in an xsync.Map.
type CachedRepo struct {
	source Repo
	ttl    time.Duration

	tokenCache *xsync.Map[string, cacheEntry[domain.TokenCfg]]
	ruleCache  *xsync.Map[string, cacheEntry[[]domain.Rule]]
}

// NewCachedRepo wraps source with a TTL cache.
func NewCachedRepo(source Repo, ttl time.Duration) *CachedRepo {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedRepo{
		source:     source,
		ttl:        ttl,
		tokenCache: xsync.NewMap[string, cacheEntry[domain.TokenCfg]](),
		ruleCache:  xsync.NewMap[string, cacheEntry[[]domain.Rule]](),
	}
}

// GetTokenCfg implements Repo.
func (c *CachedRepo) GetTokenCfg(ctx context.Context, tokenID string) (domain.TokenCfg, error) {
	if entry, ok := c.tokenCache.Load(tokenID); ok && time.Since(entry.cachedAt) < c.ttl {
		return entry.value, nil
	}

	cfg, err := c.source.GetTokenCfg(ctx, tokenID)
	if err != nil {
		return domain.TokenCfg{}, err
	}

	c.tokenCache.Store(tokenID, cacheEntry[domain.TokenCfg]{value: cfg, cachedAt: time.Now()})
	return cfg, nil
}

// GetEnabledRules implements Repo.
func (c *CachedRepo) GetEnabledRules(ctx context.Context, tokenID string, chainID int64) ([]domain.Rule, error) {
	key := ruleCacheKey(tokenID, chainID)
	if entry, ok := c.ruleCache.Load(key); ok && time.Since(entry.cachedAt) < c.ttl {
		return entry.value, nil
	}

	rules, err := c.source.GetEnabledRules(ctx, tokenID, chainID)
	if err != nil {
		return nil, err
	}

	c.ruleCache.Store(key, cacheEntry[[]domain.Rule]{value: rules, cachedAt: time.Now()})
	return rules, nil
}

func ruleCacheKey(tokenID string, chainID int64) string {
	return tokenID + "#" + strconv.FormatInt(chainID, 10)
}

// ListTokenIDs implements Repo by delegating directly to source: the
// token registry changes rarely enough that caching its listing isn't
// worth a third cache map.
func (c *CachedRepo) ListTokenIDs(ctx context.Context) ([]string, error) {
	return c.source.ListTokenIDs(ctx)
}

var _ Repo = (*CachedRepo)(nil)
