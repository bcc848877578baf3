package configrepo

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"treasury-pipeline/internal/domain"
)

const getTokenCfgSQL = `SELECT token_id, chain_id, ttl_by_source, epsilon, delta_bps,
		twap_window_sec, min_liquidity, allowed_pools
	FROM token_configs WHERE token_id = $1;`

const getEnabledRulesSQL = `SELECT rule_id, token_id, chain_id, threshold_usd, direction,
		amount_kind, amount_units, amount_bps, hot_addr, cold_addr, execution_mode,
		hysteresis_bps, cooldown_sec, enabled
	FROM rules WHERE token_id = $1 AND chain_id = $2 AND enabled = true;`

// PostgresRepo is the durable backing Source for CachedRepo.
type PostgresRepo struct {
	pool *pgxpool.Pool
}

// NewPostgresRepo wires a pgx pool into a Repo Source.
func NewPostgresRepo(pool *pgxpool.Pool) *PostgresRepo {
	return &PostgresRepo{pool: pool}
}

// GetTokenCfg implements Repo.
func (r *PostgresRepo) GetTokenCfg(ctx context.Context, tokenID string) (domain.TokenCfg, error) {
	var (
		chainID                     int64
		epsilonStr, minLiquidityStr string
		deltaBps, twapWindowSec     int64
		ttlJSON                     map[string]int64
		allowedPools                []string
	)

	err := r.pool.QueryRow(ctx, getTokenCfgSQL, tokenID).Scan(
		&tokenID, &chainID, &ttlJSON, &epsilonStr, &deltaBps, &twapWindowSec, &minLiquidityStr, &allowedPools,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TokenCfg{}, ErrNotFound
	}
	if err != nil {
		return domain.TokenCfg{}, fmt.Errorf("configrepo: get token cfg: %w", err)
	}

	epsilon, err := decimal.NewFromString(epsilonStr)
	if err != nil {
		return domain.TokenCfg{}, fmt.Errorf("configrepo: parse epsilon: %w", err)
	}
	minLiquidity, err := decimal.NewFromString(minLiquidityStr)
	if err != nil {
		return domain.TokenCfg{}, fmt.Errorf("configrepo: parse min_liquidity: %w", err)
	}

	ttlBySource := make(map[domain.SourceTag]int64, len(ttlJSON))
	for k, v := range ttlJSON {
		ttlBySource[domain.SourceTag(k)] = v
	}

	return domain.TokenCfg{
		TokenID:       tokenID,
		ChainID:       chainID,
		TTLBySource:   ttlBySource,
		Epsilon:       epsilon,
		DeltaBps:      deltaBps,
		TWAPWindowSec: twapWindowSec,
		MinLiquidity:  minLiquidity,
		AllowedPools:  allowedPools,
	}, nil
}

// GetEnabledRules implements Repo.
func (r *PostgresRepo) GetEnabledRules(ctx context.Context, tokenID string, chainID int64) ([]domain.Rule, error) {
	rows, err := r.pool.Query(ctx, getEnabledRulesSQL, tokenID, chainID)
	if err != nil {
		return nil, fmt.Errorf("configrepo: get enabled rules: %w", err)
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		var (
			ruleID, tok, direction, amountKind, executionMode string
			chain                                              int64
			thresholdStr                                       string
			amountUnitsStr                                     *string
			amountBps                                          *int64
			hotAddr, coldAddr                                  string
			hysteresisBps, cooldownSec                         int64
			enabled                                             bool
		)

		if err := rows.Scan(&ruleID, &tok, &chain, &thresholdStr, &direction, &amountKind,
			&amountUnitsStr, &amountBps, &hotAddr, &coldAddr, &executionMode,
			&hysteresisBps, &cooldownSec, &enabled); err != nil {
			return nil, err
		}

		threshold, err := decimal.NewFromString(thresholdStr)
		if err != nil {
			return nil, fmt.Errorf("configrepo: parse threshold_usd for %s: %w", ruleID, err)
		}

		amount := domain.Amount{Kind: domain.AmountKind(amountKind)}
		if amountUnitsStr != nil {
			units, ok := new(big.Int).SetString(*amountUnitsStr, 10)
			if !ok {
				return nil, fmt.Errorf("configrepo: corrupt amount_units for %s", ruleID)
			}
			amount.Units = units
		}
		if amountBps != nil {
			amount.Bps = *amountBps
		}

		out = append(out, domain.Rule{
			RuleID: ruleID, TokenID: tok, ChainID: chain,
			ThresholdUSD: threshold, Direction: domain.Direction(direction), Amount: amount,
			HotAddr: hotAddr, ColdAddr: coldAddr, ExecutionMode: domain.ExecutionMode(executionMode),
			HysteresisBps: hysteresisBps, CooldownSec: cooldownSec, Enabled: enabled,
		})
	}
	return out, rows.Err()
}

const listTokenIDsSQL = `SELECT token_id FROM token_configs ORDER BY token_id;`

// ListTokenIDs implements Repo.
func (r *PostgresRepo) ListTokenIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listTokenIDsSQL)
	if err != nil {
		return nil, fmt.Errorf("configrepo: list token ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tokenID string
		if err := rows.Scan(&tokenID); err != nil {
			return nil, err
		}
		out = append(out, tokenID)
	}
	return out, rows.Err()
}

var _ Repo = (*PostgresRepo)(nil)
