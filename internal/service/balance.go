package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"treasury-pipeline/internal/balancer"
	"treasury-pipeline/internal/chain"
	"treasury-pipeline/internal/domain"
	"treasury-pipeline/internal/execution"
	"treasury-pipeline/internal/scheduler"
	"treasury-pipeline/internal/storage"
	"treasury-pipeline/internal/store/configrepo"
	"treasury-pipeline/internal/store/intent"
	"treasury-pipeline/internal/store/lastgood"
)

// BalanceService runs Stage B across every enabled rule on a fixed
// cadence: evaluate against the latest ConsolidatedPrice, then drive any
// fired signal through the Execution Engine (spec §4.5, §4.6, §5).
type BalanceService struct {
	scheduler *scheduler.Scheduler
	configs   configrepo.Repo
	lastGood  lastgood.Store
	intents   intent.Store
	chain     chain.Client
	engine    *execution.Engine
	observer  balancer.Observer
	locker    storage.AdvisoryLocker
	lockKey   int64
	logger    zerolog.Logger
}

// NewBalanceService constructs a BalanceService.
func NewBalanceService(sched *scheduler.Scheduler, configs configrepo.Repo, lastGood lastgood.Store, intents intent.Store, client chain.Client, engine *execution.Engine, observer balancer.Observer, locker storage.AdvisoryLocker, lockKey int64, logger zerolog.Logger) *BalanceService {
	return &BalanceService{
		scheduler: sched, configs: configs, lastGood: lastGood, intents: intents,
		chain: client, engine: engine, observer: observer, locker: locker, lockKey: lockKey,
		logger: logger.With().Str("component", "balance_service").Logger(),
	}
}

// Run begins the aligned balancing loop.
func (s *BalanceService) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.tick)
}

func (s *BalanceService) tick(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := acquireLock(ctx, s.locker, s.lockKey+1) // distinct key from AggregateService
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
		if err := s.processToken(ctx, tokenID, bucket); err != nil {
			s.logger.Error().Err(err).Str("token_id", tokenID).Msg("balance tick failed for token")
		}
	}
	return nil
}

func (s *BalanceService) processToken(ctx context.Context, tokenID string, now time.Time) error {
	cp, ok, err := s.lastGood.Get(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("load last-good for %s: %w", tokenID, err)
	}
	if !ok {
		s.logger.Debug().Str("token_id", tokenID).Msg("no consolidated price yet, skipping")
		return nil
	}

	cfg, err := s.configs.GetTokenCfg(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("get token cfg for %s: %w", tokenID, err)
	}

	rules, err := s.configs.GetEnabledRules(ctx, tokenID, cfg.ChainID)
	if err != nil {
		return fmt.Errorf("get enabled rules for %s: %w", tokenID, err)
	}

	for _, rule := range rules {
		if err := s.processRule(ctx, rule, cp, now); err != nil {
			s.logger.Error().Err(err).Str("rule_id", rule.RuleID).Msg("rule evaluation failed")
		}
	}
	return nil
}

func (s *BalanceService) processRule(ctx context.Context, rule domain.Rule, cp domain.ConsolidatedPrice, now time.Time) error {
	balanceAddr := rule.HotAddr
	if rule.Direction == domain.ColdToHot {
		balanceAddr = rule.ColdAddr
	}

	balance, err := s.chain.GetBalance(ctx, balanceAddr, rule.TokenID)
	if err != nil {
		return fmt.Errorf("get balance for rule %s: %w", rule.RuleID, err)
	}

	lastFireAt, _, err := s.intents.FindLastFiredAt(ctx, rule.RuleID)
	if err != nil {
		return fmt.Errorf("find last fired at for rule %s: %w", rule.RuleID, err)
	}

	sig := balancer.Evaluate(rule, cp, balance, lastFireAt, now.Unix(), s.observer)
	if sig == nil {
		return nil
	}

	s.logger.Info().Str("rule_id", rule.RuleID).Str("amount_units", sig.AmountUnits.String()).
		Str("direction", string(sig.Direction)).Msg("transfer signal fired")

	if s.engine == nil {
		return nil
	}
	return s.engine.Submit(ctx, *sig)
}
