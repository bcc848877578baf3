// Package aggregator implements Stage A: for one token, gather quotes,
// validate, choose a degradation mode, compute the consolidated price,
// and persist last-good (spec §4.3).
package aggregator

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"treasury-pipeline/internal/adapter"
	"treasury-pipeline/internal/domain"
	"treasury-pipeline/internal/domainerr"
	"treasury-pipeline/internal/metrics"
	"treasury-pipeline/internal/pricemath"
	"treasury-pipeline/internal/store/configrepo"
	"treasury-pipeline/internal/store/lastgood"
	"treasury-pipeline/internal/validator"
)

// DivergenceObserver receives an advisory event when a validated quote
// diverges from the chosen price by more than the token's deltaBps
// (spec §4.3 step 6, §7). It never influences the aggregation result.
type DivergenceObserver interface {
	ObserveDivergence(tokenID string, q domain.Quote, chosen *big.Int, devBps *big.Int, cfg domain.TokenCfg)
}

// Aggregator runs the per-token validate -> aggregate -> decide-mode ->
// persist loop.
type Aggregator struct {
	sources  adapter.Set
	configs  configrepo.Repo
	lastGood lastgood.Store
	observer DivergenceObserver
	logger   zerolog.Logger

	// FanoutTimeout bounds the whole adapter fan-out for one Consolidate
	// call; any adapter missing the deadline is treated as NoData
	// (spec §5).
	FanoutTimeout time.Duration

	// Metrics is optional; nil disables recording.
	Metrics *metrics.Recorder
}

// New constructs an Aggregator. sources is a Set keyed by source tag
// rather than a fixed positional tuple, per spec §9's resolved open
// question.
func New(sources adapter.Set, configs configrepo.Repo, lastGood lastgood.Store, observer DivergenceObserver, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		sources:       sources,
		configs:       configs,
		lastGood:      lastGood,
		observer:      observer,
		logger:        logger.With().Str("component", "aggregator").Logger(),
		FanoutTimeout: 5 * time.Second,
	}
}

// Consolidate implements the single inbound operation consolidate(tokenId)
// (spec §6, §4.3). Every mode (Normal/Degraded/Frozen) is a successful
// return; error is non-nil only for ConfigMissing and NoPriceAvailable.
func (a *Aggregator) Consolidate(ctx context.Context, tokenID string) (domain.ConsolidatedPrice, error) {
	cfg, err := a.configs.GetTokenCfg(ctx, tokenID)
	if err != nil {
		return domain.ConsolidatedPrice{}, domainerr.ConfigMissing(fmt.Errorf("aggregator: %s: %w", tokenID, err))
	}

	now := time.Now().UTC()

	quotes := a.fanOut(ctx, tokenID)

	validated := make([]domain.Quote, 0, len(quotes))
	for _, q := range quotes {
		if validator.IsValid(q, cfg, now.Unix()) {
			validated = append(validated, q)
		} else {
			a.logger.Debug().Str("token_id", tokenID).Str("source", string(q.Source)).Msg("quote dropped by validator")
		}
	}

	// rescaledInOrder tracks validated[i] <-> rescaledInOrder[i] so the
	// divergence check (which walks validated in its original order) can
	// still find each quote's rescaled value after the sorted copy below
	// is reordered for the median computation.
	rescaledInOrder := make([]*big.Int, 0, len(validated))
	for _, q := range validated {
		rescaledInOrder = append(rescaledInOrder, pricemath.Rescale(q.Price, q.Decimals, domain.CanonicalDecimals))
	}

	sorted := make([]*big.Int, len(rescaledInOrder))
	copy(sorted, rescaledInOrder)
	pricemath.SortAscending(sorted)

	cp, err := a.decide(ctx, tokenID, now, validated, sorted)
	if err != nil {
		return domain.ConsolidatedPrice{}, err
	}

	a.Metrics.RecordMode(tokenID, string(cp.Mode))

	if cp.Mode != domain.ModeFrozen {
		a.checkDivergence(tokenID, validated, rescaledInOrder, cp.Price, cfg)
	}

	if err := a.lastGood.Put(ctx, cp); err != nil {
		return domain.ConsolidatedPrice{}, fmt.Errorf("aggregator: persist last-good for %s: %w", tokenID, err)
	}

	return cp, nil
}

func (a *Aggregator) decide(ctx context.Context, tokenID string, now time.Time, validated []domain.Quote, rescaled []*big.Int) (domain.ConsolidatedPrice, error) {
	switch len(validated) {
	case 0:
		lastGood, ok, err := a.lastGood.Get(ctx, tokenID)
		if err != nil {
			return domain.ConsolidatedPrice{}, fmt.Errorf("aggregator: load last-good for %s: %w", tokenID, err)
		}
		if !ok {
			return domain.ConsolidatedPrice{}, domainerr.NoPriceAvailable(fmt.Errorf("aggregator: no quotes and no last-good for %s", tokenID))
		}
		return domain.ConsolidatedPrice{
			TokenID: tokenID, Price: lastGood.Price, Decimals: domain.CanonicalDecimals,
			At: now.Unix(), Mode: domain.ModeFrozen, SourcesUsed: nil,
		}, nil

	case 1:
		return domain.ConsolidatedPrice{
			TokenID: tokenID, Price: rescaled[0], Decimals: domain.CanonicalDecimals,
			At: now.Unix(), Mode: domain.ModeDegraded, SourcesUsed: validated,
		}, nil

	default:
		median := pricemath.Median(rescaled)
		return domain.ConsolidatedPrice{
			TokenID: tokenID, Price: median, Decimals: domain.CanonicalDecimals,
			At: now.Unix(), Mode: domain.ModeNormal, SourcesUsed: validated,
		}, nil
	}
}

// fanOut concurrently fetches one Quote from each configured source,
// bounded by FanoutTimeout; a miss (ok=false, err!=nil, or deadline) is
// absorbed as NoData and never aborts the other fetches (spec §4.1, §5).
func (a *Aggregator) fanOut(ctx context.Context, tokenID string) []domain.Quote {
	fanoutCtx, cancel := context.WithTimeout(ctx, a.FanoutTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		quotes []domain.Quote
		wg     sync.WaitGroup
	)

	for tag, src := range a.sources {
		wg.Add(1)
		go func(tag domain.SourceTag, src adapter.Source) {
			defer wg.Done()

			q, ok, err := src.Fetch(fanoutCtx, tokenID)
			if err != nil {
				a.logger.Debug().Err(err).Str("token_id", tokenID).Str("source", string(tag)).Msg("adapter error treated as no data")
				return
			}
			if !ok {
				return
			}

			mu.Lock()
			quotes = append(quotes, q)
			mu.Unlock()
		}(tag, src)
	}

	wg.Wait()
	return quotes
}

func (a *Aggregator) checkDivergence(tokenID string, validated []domain.Quote, rescaled []*big.Int, chosen *big.Int, cfg domain.TokenCfg) {
	for i, q := range validated {
		devBps := pricemath.DivergenceBps(rescaled[i], chosen)
		if devBps.Cmp(big.NewInt(cfg.DeltaBps)) > 0 {
			a.Metrics.RecordDivergence(tokenID, string(q.Source))
			if a.observer != nil {
				a.observer.ObserveDivergence(tokenID, q, chosen, devBps, cfg)
			}
		}
	}
}
