// Package service orchestrates the scheduler, the Aggregator, and the
// Balancer/Execution Engine, deciding when each stage runs and whether
// this process is the elected leader among redundant instances.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"treasury-pipeline/internal/aggregator"
	"treasury-pipeline/internal/scheduler"
	"treasury-pipeline/internal/storage"
	"treasury-pipeline/internal/store/configrepo"
)

// AggregateService runs Stage A across the whole token registry on a
// fixed cadence (spec §4.3, §5).
type AggregateService struct {
	scheduler *scheduler.Scheduler
	agg       *aggregator.Aggregator
	configs   configrepo.Repo
	locker    storage.AdvisoryLocker
	lockKey   int64
	logger    zerolog.Logger
}

// NewAggregateService constructs an AggregateService.
func NewAggregateService(sched *scheduler.Scheduler, agg *aggregator.Aggregator, configs configrepo.Repo, locker storage.AdvisoryLocker, lockKey int64, logger zerolog.Logger) *AggregateService {
	return &AggregateService{
		scheduler: sched, agg: agg, configs: configs, locker: locker, lockKey: lockKey,
		logger: logger.With().Str("component", "aggregate_service").Logger(),
	}
}

// Run begins the aligned aggregation loop.
func (s *AggregateService) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.tick)
}

func (s *AggregateService) tick(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := acquireLock(ctx, s.locker, s.lockKey)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	tokenIDs, err := s.configs.ListTokenIDs(ctx)
	if err != nil {
		return fmt.Errorf("list token ids: %w", err)
	}

	for _, tokenID := range tokenIDs {
		cp, err := s.agg.Consolidate(ctx, tokenID)
		if err != nil {
			s.logger.Error().Err(err).Str("token_id", tokenID).Msg("consolidate failed")
			continue
		}
		s.logger.Info().Str("token_id", tokenID).Str("mode", string(cp.Mode)).
			Str("price", cp.Price.String()).Msg("consolidated price updated")
	}

	return nil
}

func acquireLock(ctx context.Context, locker storage.AdvisoryLocker, lockKey int64) (func(), bool, error) {
	if lockKey == 0 || locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := locker.TryAdvisoryLock(ctx, lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
