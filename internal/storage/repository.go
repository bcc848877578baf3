package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertDivergenceEventSQL = `INSERT INTO divergence_events (
        token_id, source, quoted_price, chosen_price, deviation_bps, observed_at
    ) VALUES ($1,$2,$3,$4,$5,$6);`

	listRecentDivergenceEventsSQL = `SELECT
        id, token_id, source, quoted_price, chosen_price, deviation_bps, observed_at, created_at
    FROM divergence_events
    ORDER BY observed_at DESC
    LIMIT $1;`

	insertInsufficientBalanceEventSQL = `INSERT INTO insufficient_balance_events (
        rule_id, computed_units, balance_units, observed_at
    ) VALUES ($1,$2,$3,$4);`

	listRecentInsufficientBalanceEventsSQL = `SELECT
        id, rule_id, computed_units, balance_units, observed_at, created_at
    FROM insufficient_balance_events
    ORDER BY observed_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// AuditStore persists the observability events named by spec §7/§11.4:
// divergence events and insufficient-balance events, so the "Divergence
// log" box in the pipeline diagram is a queryable audit trail rather
// than just a log line.
type AuditStore interface {
	InsertDivergenceEvent(ctx context.Context, rec DivergenceEventRecord) error
	ListRecentDivergenceEvents(ctx context.Context, limit int) ([]DivergenceEventRecord, error)
	InsertInsufficientBalanceEvent(ctx context.Context, rec InsufficientBalanceEventRecord) error
	ListRecentInsufficientBalanceEvents(ctx context.Context, limit int) ([]InsufficientBalanceEventRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers, used to elect a single
// leader among redundant scheduler instances so aggregation/balancing
// ticks don't run concurrently from two processes against the same rules.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates the audit log and the advisory-lock helper behind one
// pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; caller's own logger records failures upstream
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertDivergenceEvent persists one source-vs-chosen-price divergence.
func (s *Store) InsertDivergenceEvent(ctx context.Context, rec DivergenceEventRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertDivergenceEventSQL,
		rec.TokenID, rec.Source, rec.QuotedPrice, rec.ChosenPrice, rec.DeviationBps, rec.ObservedAt,
	); execErr != nil {
		return fmt.Errorf("insert divergence event: %w", execErr)
	}
	return nil
}

// ListRecentDivergenceEvents lists the most recent divergence events.
func (s *Store) ListRecentDivergenceEvents(ctx context.Context, limit int) ([]DivergenceEventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentDivergenceEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent divergence events: %w", queryErr)
	}
	defer rows.Close()

	out := make([]DivergenceEventRecord, 0, limit)
	for rows.Next() {
		var rec DivergenceEventRecord
		if err := rows.Scan(&rec.ID, &rec.TokenID, &rec.Source, &rec.QuotedPrice, &rec.ChosenPrice,
			&rec.DeviationBps, &rec.ObservedAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// InsertInsufficientBalanceEvent persists one suppressed-fire event.
func (s *Store) InsertInsufficientBalanceEvent(ctx context.Context, rec InsufficientBalanceEventRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertInsufficientBalanceEventSQL,
		rec.RuleID, rec.ComputedUnits, rec.BalanceUnits, rec.ObservedAt,
	); execErr != nil {
		return fmt.Errorf("insert insufficient balance event: %w", execErr)
	}
	return nil
}

// ListRecentInsufficientBalanceEvents lists the most recent suppressed fires.
func (s *Store) ListRecentInsufficientBalanceEvents(ctx context.Context, limit int) ([]InsufficientBalanceEventRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentInsufficientBalanceEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent insufficient balance events: %w", queryErr)
	}
	defer rows.Close()

	out := make([]InsufficientBalanceEventRecord, 0, limit)
	for rows.Next() {
		var rec InsufficientBalanceEventRecord
		if err := rows.Scan(&rec.ID, &rec.RuleID, &rec.ComputedUnits, &rec.BalanceUnits,
			&rec.ObservedAt, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

var (
	_ AuditStore      = (*Store)(nil)
	_ AdvisoryLocker  = (*Store)(nil)
)
