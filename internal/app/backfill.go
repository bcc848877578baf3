package app

import (
	"context"
	"errors"
	"time"

	"treasury-pipeline/internal/aggregator"
	"treasury-pipeline/internal/store/lastgood"
)

// Backfill runs one Stage A pass per aggregate-interval bucket across
// [From, To). Each pass is a live Consolidate over the quotes the
// adapters return when Backfill runs; historical quotes are not fetched.
// Outside dry-run, each resulting price is stored again with At set to
// its bucket timestamp rather than the actual fetch time. In dry-run the
// passes use a scratch last-good store and no divergence observer.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	interval := a.Config.Scheduler.AggregateInterval
	if interval <= 0 {
		return errors.New("scheduler.aggregate_interval is not configured")
	}
	if opts.TokenID == "" {
		return errors.New("--token must be provided")
	}

	start := alignForward(opts.From.UTC(), interval)
	end := opts.To.UTC()
	if !start.Before(end) {
		return errors.New("backfill range is empty; check --from/--to")
	}

	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: results will not be persisted")
	}

	p, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}
	if p.closePool != nil {
		defer p.closePool()
	}
	if p.pool == nil && !opts.DryRun {
		return errors.New("database.dsn is not configured; cannot backfill")
	}

	agg := p.agg
	if opts.DryRun {
		scratch := lastgood.NewMemoryStore()
		if prev, ok, err := p.lastGood.Get(ctx, opts.TokenID); err == nil && ok {
			_ = scratch.Put(ctx, prev)
		}
		agg = aggregator.New(a.newAdapters(a.newRedisClient()), p.configs, scratch, nil, a.Logger)
	}

	processed := 0
	failed := 0
	for bucket := start; bucket.Before(end); bucket = bucket.Add(interval) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		cp, err := agg.Consolidate(ctx, opts.TokenID)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Time("bucket", bucket).Msg("backfill bucket failed")
			continue
		}

		if !opts.DryRun {
			cp.At = bucket.Unix()
			if err := p.lastGood.Put(ctx, cp); err != nil {
				failed++
				a.Logger.Error().Err(err).Time("bucket", bucket).Msg("persist backfilled bucket failed")
				continue
			}
		}
		processed++
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Msg("backfill complete")
	if failed > 0 {
		return errors.New("some buckets failed to backfill; check logs")
	}
	return nil
}

func alignForward(t time.Time, interval time.Duration) time.Time {
	truncated := t.Truncate(interval)
	if truncated.Before(t) {
		return truncated.Add(interval)
	}
	return truncated
}
