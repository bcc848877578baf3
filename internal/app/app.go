package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"treasury-pipeline/internal/adapter"
	"treasury-pipeline/internal/adapter/chainlink"
	"treasury-pipeline/internal/adapter/pyth"
	"treasury-pipeline/internal/adapter/uniswapv3twap"
	"treasury-pipeline/internal/aggregator"
	"treasury-pipeline/internal/alerting"
	"treasury-pipeline/internal/balancer"
	"treasury-pipeline/internal/breaker"
	"treasury-pipeline/internal/chain"
	"treasury-pipeline/internal/config"
	"treasury-pipeline/internal/domain"
	"treasury-pipeline/internal/execution"
	"treasury-pipeline/internal/keyed"
	"treasury-pipeline/internal/metrics"
	"treasury-pipeline/internal/scheduler"
	"treasury-pipeline/internal/service"
	"treasury-pipeline/internal/storage"
	"treasury-pipeline/internal/store/configrepo"
	"treasury-pipeline/internal/store/intent"
	"treasury-pipeline/internal/store/lastgood"
	"treasury-pipeline/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newRedisClient() *redis.Client {
	if a.Config.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
}

func (a *App) newAdapters(redisClient *redis.Client) adapter.Set {
	set := adapter.Set{}

	if len(a.Config.Ethereum.ChainlinkFeeds) > 0 {
		set[domain.SourceChainlink] = chainlink.New(chainlink.Options{
			RPCURL:        a.Config.Ethereum.RPCURL,
			FeedAddresses: a.Config.Ethereum.ChainlinkFeeds,
			Timeout:       a.Config.Ethereum.RequestTimeout,
		}, a.Logger)
	}

	if len(a.Config.Pyth.FeedIDs) > 0 {
		set[domain.SourcePyth] = pyth.New(pyth.Options{
			BaseURL:   a.Config.Pyth.BaseURL,
			FeedIDs:   a.Config.Pyth.FeedIDs,
			Timeout:   a.Config.Pyth.RequestTimeout,
			UserAgent: a.Config.Pyth.UserAgent,
		}, a.Logger)
	}

	if len(a.Config.Ethereum.TWAPPools) > 0 {
		pools := make(map[string][]uniswapv3twap.PoolSpec, len(a.Config.Ethereum.TWAPPools))
		for tokenID, specs := range a.Config.Ethereum.TWAPPools {
			for _, spec := range specs {
				pools[tokenID] = append(pools[tokenID], uniswapv3twap.PoolSpec{PoolID: spec.PoolID, Address: spec.Address})
			}
		}
		set[domain.SourceUniswapV3TWAP] = uniswapv3twap.New(uniswapv3twap.Options{
			RPCURL:      a.Config.Ethereum.RPCURL,
			Pools:       pools,
			Timeout:     a.Config.Ethereum.RequestTimeout,
			RedisClient: redisClient,
			CacheTTL:    a.Config.Redis.CacheTTL,
		}, a.Logger)
	}

	return set
}

func (a *App) newChainClient(rec *metrics.Recorder) chain.Client {
	return chain.NewEVMClient(chain.EVMOptions{
		RPCURL:         a.Config.Ethereum.RPCURL,
		TokenAddresses: a.Config.Ethereum.TokenAddresses,
		SignerKeyHex:   a.Config.Ethereum.SignerKeyHex,
		RequestTimeout: a.Config.Ethereum.RequestTimeout,
		Metrics:        rec,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openPool(ctx context.Context) (*pgxpool.Pool, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}
	return pool, pool.Close, nil
}

func storeFromPool(pool *pgxpool.Pool) *storage.Store {
	return storage.NewStore(pool)
}

func (a *App) newConfigRepo(pool *pgxpool.Pool) configrepo.Repo {
	if pool == nil {
		return configrepo.NewStaticRepo()
	}
	return configrepo.NewCachedRepo(configrepo.NewPostgresRepo(pool), 30*time.Second)
}

func (a *App) newLastGoodStore(pool *pgxpool.Pool) lastgood.Store {
	if pool == nil {
		return lastgood.NewMemoryStore()
	}
	return lastgood.NewPostgresStore(pool)
}

func (a *App) newIntentStore(pool *pgxpool.Pool) intent.Store {
	if pool == nil {
		return intent.NewMemoryStore()
	}
	return intent.NewPostgresStore(pool)
}

func (a *App) retryConfig() execution.RetryConfig {
	cfg := execution.DefaultRetryConfig("execution")
	if a.Config.Execution.RetryMaxAttempts > 0 {
		cfg.MaxAttempts = a.Config.Execution.RetryMaxAttempts
	}
	if a.Config.Execution.RetryBaseDelay > 0 {
		cfg.BaseDelay = a.Config.Execution.RetryBaseDelay
	}
	if a.Config.Execution.RetryMaxDelay > 0 {
		cfg.MaxDelay = a.Config.Execution.RetryMaxDelay
	}
	return cfg
}

// pipeline bundles every dependency the long-running service and the
// one-shot aggregate/balance commands share.
type pipeline struct {
	pool       *pgxpool.Pool
	closePool  func()
	configs    configrepo.Repo
	lastGood   lastgood.Store
	intents    intent.Store
	chainCl    chain.Client
	dispatcher *alerting.Dispatcher
	agg        *aggregator.Aggregator
	engine     *execution.Engine
	store      *storage.Store
}

func (a *App) buildPipeline(ctx context.Context) (*pipeline, error) {
	pool, closePool, err := a.openPool(ctx)
	if err != nil {
		return nil, err
	}

	var auditStore *storage.Store
	if pool != nil {
		auditStore = storage.NewStore(pool)
	}

	configs := a.newConfigRepo(pool)
	lastGood := a.newLastGoodStore(pool)
	intents := a.newIntentStore(pool)
	rec := metrics.New()
	chainCl := a.newChainClient(rec)

	var audit storage.AuditStore
	if auditStore != nil {
		audit = auditStore
	}
	dispatcher := alerting.NewDispatcher(a.newNotifier(), audit, a.Config.Alerting.Channels, a.Logger)
	dispatcher.Metrics = rec

	agg := aggregator.New(a.newAdapters(a.newRedisClient()), configs, lastGood, dispatcher, a.Logger)
	agg.Metrics = rec

	br := breaker.New("chain_broadcast")
	eng := execution.New(intents, chainCl, keyed.New(), br, dispatcher, a.Logger, execution.Options{
		Retry:       a.retryConfig(),
		ReceiptWait: a.Config.Execution.ReceiptWait,
	})

	return &pipeline{
		pool: pool, closePool: closePool, configs: configs, lastGood: lastGood, intents: intents,
		chainCl: chainCl, dispatcher: dispatcher, agg: agg, engine: eng, store: auditStore,
	}, nil
}

// Run executes the long-running pipeline: Stage A and Stage B ticking
// independently on their own configured cadences (spec §5, §9).
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}
	if p.closePool != nil {
		defer p.closePool()
	}
	if p.pool == nil {
		a.Logger.Warn().Msg("database.dsn not configured; durable stores fall back to in-memory")
	}

	aggSched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.AggregateInterval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	balSched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.BalanceInterval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	var locker storage.AdvisoryLocker
	if p.store != nil {
		locker = p.store
	}

	aggSvc := service.NewAggregateService(aggSched, p.agg, p.configs, locker, a.Config.Scheduler.AdvisoryLockKey, a.Logger)
	balSvc := service.NewBalanceService(balSched, p.configs, p.lastGood, p.intents, p.chainCl, p.engine, p.dispatcher, locker, a.Config.Scheduler.AdvisoryLockKey, a.Logger)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); errs <- aggSvc.Run(ctx) }()
	go func() { defer wg.Done(); errs <- balSvc.Run(ctx) }()

	a.Logger.Info().Str("version", version.String()).Msg("starting treasury pipeline")
	go func() { wg.Wait(); close(errs) }()

	var firstErr error
	for e := range errs {
		if e != nil && !errors.Is(e, context.Canceled) && firstErr == nil {
			firstErr = e
			cancel()
		}
	}
	if firstErr != nil {
		a.Logger.Error().Err(firstErr).Msg("pipeline terminated with error")
		return firstErr
	}

	a.Logger.Info().Msg("treasury pipeline stopped")
	return nil
}

// Aggregate runs one Stage A pass for tokenID and logs the resulting
// ConsolidatedPrice, exposing the consolidate(tokenId) operation as a
// CLI entry point (spec.md §6).
func (a *App) Aggregate(ctx context.Context, tokenID string) error {
	p, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}
	if p.closePool != nil {
		defer p.closePool()
	}

	cp, err := p.agg.Consolidate(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("consolidate %s: %w", tokenID, err)
	}

	a.Logger.Info().Str("token_id", tokenID).Str("mode", string(cp.Mode)).
		Str("price", cp.Price.String()).Int64("at", cp.At).Msg("consolidated price")
	return nil
}

// Balance runs one Stage B evaluation pass over every enabled rule for
// tokenID/chainID and submits any fired signal to the Execution Engine.
func (a *App) Balance(ctx context.Context, tokenID string, chainID int64) error {
	p, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}
	if p.closePool != nil {
		defer p.closePool()
	}

	cp, ok, err := p.lastGood.Get(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("load last-good for %s: %w", tokenID, err)
	}
	if !ok {
		return fmt.Errorf("no consolidated price for %s yet; run aggregate first", tokenID)
	}

	rules, err := p.configs.GetEnabledRules(ctx, tokenID, chainID)
	if err != nil {
		return fmt.Errorf("get enabled rules for %s: %w", tokenID, err)
	}

	now := time.Now().UTC().Unix()
	fired := 0
	for _, rule := range rules {
		balanceAddr := rule.HotAddr
		if rule.Direction == domain.ColdToHot {
			balanceAddr = rule.ColdAddr
		}
		balance, err := p.chainCl.GetBalance(ctx, balanceAddr, rule.TokenID)
		if err != nil {
			a.Logger.Error().Err(err).Str("rule_id", rule.RuleID).Msg("get balance failed")
			continue
		}
		lastFiredAt, _, err := p.intents.FindLastFiredAt(ctx, rule.RuleID)
		if err != nil {
			a.Logger.Error().Err(err).Str("rule_id", rule.RuleID).Msg("find last fired at failed")
			continue
		}

		sig := balancer.Evaluate(rule, cp, balance, lastFiredAt, now, p.dispatcher)
		if sig == nil {
			continue
		}
		fired++
		a.Logger.Info().Str("rule_id", rule.RuleID).Str("amount_units", sig.AmountUnits.String()).Msg("transfer signal fired")
		if err := p.engine.Submit(ctx, *sig); err != nil {
			a.Logger.Error().Err(err).Str("rule_id", rule.RuleID).Msg("submit failed")
		}
	}

	a.Logger.Info().Int("rules_evaluated", len(rules)).Int("signals_fired", fired).Msg("balance pass complete")
	return nil
}

// ExportOptions hold parameters for exporting historical divergence data.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// BackfillOptions configure the backfill job.
type BackfillOptions struct {
	TokenID string
	From    time.Time
	To      time.Time
	DryRun  bool
}

// SimulateOptions feed the simulate command's literal scenario input: a
// set of quotes, one rule, and a wallet balance, none of which touch a
// real adapter or chain (spec §9, "simulates one aggregation + balancer
// pass from literal quote/price input").
type SimulateOptions struct {
	TokenID    string
	Quotes     []SimulatedQuote
	Rule       SimulatedRule
	BalanceRaw string
}

// SimulatedQuote is one literal quote fed into the simulated Aggregator.
type SimulatedQuote struct {
	Source   domain.SourceTag
	PriceRaw string
	Decimals int
}

// SimulatedRule is one literal rule fed into the simulated Balancer.
type SimulatedRule struct {
	RuleID        string
	ThresholdUSD  string
	Direction     domain.Direction
	AmountKind    domain.AmountKind
	AmountUnits   string
	AmountBps     int64
	HotAddr       string
	ColdAddr      string
	HysteresisBps int64
	CooldownSec   int64
}
