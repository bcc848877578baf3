// Package intent implements the durable, uniquely-keyed record of every
// transfer attempt and its terminal status (spec §4.6, §6).
package intent

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"treasury-pipeline/internal/domain"
	"treasury-pipeline/internal/domainerr"
)

// ErrNotConfigured indicates the store's pool was never initialised.
var ErrNotConfigured = errors.New("intent: pool not configured")

const insertPlannedSQL = `INSERT INTO transfer_intents (
		idem_key, rule_id, token_id, price_at_fire, decimals_at_fire,
		fired_at, amount_units, from_addr, to_addr, mode, status
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	ON CONFLICT (idem_key) DO NOTHING;`

const findByIdemKeySQL = `SELECT idem_key, rule_id, token_id, price_at_fire, decimals_at_fire,
		fired_at, amount_units, from_addr, to_addr, mode, status, tx_hash, proposal_hash, failure_note
	FROM transfer_intents WHERE idem_key = $1;`

const findInFlightForRuleSQL = `SELECT idem_key, rule_id, token_id, price_at_fire, decimals_at_fire,
		fired_at, amount_units, from_addr, to_addr, mode, status, tx_hash, proposal_hash, failure_note
	FROM transfer_intents
	WHERE rule_id = $1 AND status NOT IN ('mined_success', 'mined_failed')
	ORDER BY fired_at ASC;`

const updateStatusSQL = `UPDATE transfer_intents
	SET status = $2, tx_hash = $3, proposal_hash = $4, failure_note = $5
	WHERE idem_key = $1;`

// Store is the Intent Store contract (spec §6): insertPlanned with
// unique-key semantics, updateStatus, findByIdemKey, findInFlightForRule.
type Store interface {
	InsertPlanned(ctx context.Context, intent domain.TransferIntent) (existing domain.TransferIntent, inserted bool, err error)
	UpdateStatus(ctx context.Context, idemKey string, next domain.IntentStatus, txHash, proposalHash, failureNote string) error
	FindByIdemKey(ctx context.Context, idemKey string) (domain.TransferIntent, bool, error)
	FindInFlightForRule(ctx context.Context, ruleID string) ([]domain.TransferIntent, error)
	// FindLastFiredAt returns the firedAt of ruleID's most recent intent
	// (any status), backing the cooldown check in spec §4.5 step 2.
	FindLastFiredAt(ctx context.Context, ruleID string) (int64, bool, error)
}

// PostgresStore persists transfer intents with idem_key as the unique
// index the whole idempotency contract rests on (spec §4.6.1, §9 design
// notes: "generate key -> insert -> on conflict, load and reconcile").
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a pgx pool into an intent Store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InsertPlanned attempts to create a new Planned intent. On a unique-key
// conflict it loads and returns the existing row instead of erroring,
// matching the "re-attach rather than create" contract.
func (s *PostgresStore) InsertPlanned(ctx context.Context, in domain.TransferIntent) (domain.TransferIntent, bool, error) {
	if s.pool == nil {
		return domain.TransferIntent{}, false, ErrNotConfigured
	}

	tag, err := s.pool.Exec(ctx, insertPlannedSQL,
		in.IdemKey, in.RuleID, in.TokenID, in.PriceAtFire.String(), in.DecimalsAtFire,
		in.FiredAt, in.AmountUnits.String(), in.From, in.To, string(in.Mode), Planned.String(),
	)
	if err != nil {
		return domain.TransferIntent{}, false, fmt.Errorf("intent: insert planned: %w", err)
	}

	if tag.RowsAffected() == 1 {
		in.Status = Planned
		return in, true, nil
	}

	existing, ok, err := s.FindByIdemKey(ctx, in.IdemKey)
	if err != nil {
		return domain.TransferIntent{}, false, err
	}
	if !ok {
		return domain.TransferIntent{}, false, fmt.Errorf("intent: conflict on %s but row not found", in.IdemKey)
	}
	return existing, false, domainerr.IdempotencyConflict(nil)
}

// Planned is re-exported here so callers constructing a fresh intent
// don't need to import domain just for the zero status.
var Planned = domain.Planned

// UpdateStatus advances idemKey's status, validated against the state
// machine graph before the write is attempted.
func (s *PostgresStore) UpdateStatus(ctx context.Context, idemKey string, next domain.IntentStatus, txHash, proposalHash, failureNote string) error {
	if s.pool == nil {
		return ErrNotConfigured
	}

	current, ok, err := s.FindByIdemKey(ctx, idemKey)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("intent: %s not found", idemKey)
	}
	if !current.Status.CanTransitionTo(next) {
		return fmt.Errorf("intent: illegal transition %s -> %s for %s", current.Status, next, idemKey)
	}

	_, err = s.pool.Exec(ctx, updateStatusSQL, idemKey, next.String(), nullableString(txHash), nullableString(proposalHash), nullableString(failureNote))
	if err != nil {
		return fmt.Errorf("intent: update status: %w", err)
	}
	return nil
}

// FindByIdemKey loads the intent for idemKey, if any.
func (s *PostgresStore) FindByIdemKey(ctx context.Context, idemKey string) (domain.TransferIntent, bool, error) {
	if s.pool == nil {
		return domain.TransferIntent{}, false, ErrNotConfigured
	}
	row := s.pool.QueryRow(ctx, findByIdemKeySQL, idemKey)
	in, err := scanIntent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TransferIntent{}, false, nil
	}
	if err != nil {
		return domain.TransferIntent{}, false, fmt.Errorf("intent: find by idem key: %w", err)
	}
	return in, true, nil
}

// FindInFlightForRule returns every non-terminal intent for ruleID,
// ordered by firedAt, backing the per-rule serialization invariant
// (spec §4.6.3): at most one of these should ever be actively processed.
func (s *PostgresStore) FindInFlightForRule(ctx context.Context, ruleID string) ([]domain.TransferIntent, error) {
	if s.pool == nil {
		return nil, ErrNotConfigured
	}
	rows, err := s.pool.Query(ctx, findInFlightForRuleSQL, ruleID)
	if err != nil {
		return nil, fmt.Errorf("intent: find in flight for rule: %w", err)
	}
	defer rows.Close()

	var out []domain.TransferIntent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// rowScanner abstracts over pgx.Row and pgx.Rows, both of which expose Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (domain.TransferIntent, error) {
	var (
		idemKey, ruleID, tokenID                      string
		priceStr, amountStr                            string
		decimalsAtFire                                 int
		firedAt                                        int64
		from, to, mode, status                         string
		txHash, proposalHash, failureNote               *string
	)

	if err := row.Scan(&idemKey, &ruleID, &tokenID, &priceStr, &decimalsAtFire,
		&firedAt, &amountStr, &from, &to, &mode, &status, &txHash, &proposalHash, &failureNote); err != nil {
		return domain.TransferIntent{}, err
	}

	price, ok := new(big.Int).SetString(priceStr, 10)
	if !ok {
		return domain.TransferIntent{}, fmt.Errorf("intent: corrupt price_at_fire for %s", idemKey)
	}
	amount, ok := new(big.Int).SetString(amountStr, 10)
	if !ok {
		return domain.TransferIntent{}, fmt.Errorf("intent: corrupt amount_units for %s", idemKey)
	}
	parsedStatus, err := domain.ParseIntentStatus(status)
	if err != nil {
		return domain.TransferIntent{}, fmt.Errorf("intent: %s: %w", idemKey, err)
	}

	out := domain.TransferIntent{
		IdemKey: idemKey, RuleID: ruleID, TokenID: tokenID,
		PriceAtFire: price, DecimalsAtFire: decimalsAtFire, FiredAt: firedAt,
		AmountUnits: amount, From: from, To: to,
		Mode: domain.ExecutionMode(mode), Status: parsedStatus,
	}
	if txHash != nil {
		out.TxHash = *txHash
	}
	if proposalHash != nil {
		out.ProposalHash = *proposalHash
	}
	if failureNote != nil {
		out.FailureNote = *failureNote
	}
	return out, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

const findLastFiredAtSQL = `SELECT fired_at FROM transfer_intents
	WHERE rule_id = $1 ORDER BY fired_at DESC LIMIT 1;`

// FindLastFiredAt implements Store.
func (s *PostgresStore) FindLastFiredAt(ctx context.Context, ruleID string) (int64, bool, error) {
	if s.pool == nil {
		return 0, false, ErrNotConfigured
	}
	var firedAt int64
	err := s.pool.QueryRow(ctx, findLastFiredAtSQL, ruleID).Scan(&firedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("intent: find last fired at: %w", err)
	}
	return firedAt, true, nil
}

var _ Store = (*PostgresStore)(nil)
