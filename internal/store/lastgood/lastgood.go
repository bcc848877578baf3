// Package lastgood implements the durable tokenId -> ConsolidatedPrice
// map with at-most-one-writer-per-token semantics (spec §4.4).
package lastgood

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/puzpuzpuz/xsync/v4"

	"treasury-pipeline/internal/domain"
	"treasury-pipeline/internal/keyed"
)

// ErrNotConfigured indicates the store's pool was never initialised.
var ErrNotConfigured = errors.New("lastgood: pool not configured")

const upsertSQL = `INSERT INTO last_good_prices (
		token_id, price, decimals, at, mode, sources_used
	) VALUES ($1,$2,$3,$4,$5,$6)
	ON CONFLICT (token_id) DO UPDATE
	SET price = EXCLUDED.price,
	    decimals = EXCLUDED.decimals,
	    at = EXCLUDED.at,
	    mode = EXCLUDED.mode,
	    sources_used = EXCLUDED.sources_used;`

const getSQL = `SELECT price, decimals, at, mode, sources_used
	FROM last_good_prices WHERE token_id = $1;`

// Store is an interface so the Aggregator and tests can swap a Postgres
// backing for an in-memory double without changing call sites.
type Store interface {
	Get(ctx context.Context, tokenID string) (domain.ConsolidatedPrice, bool, error)
	Put(ctx context.Context, cp domain.ConsolidatedPrice) error
}

// sourceQuoteRecord is the JSON shape persisted for ConsolidatedPrice.SourcesUsed.
type sourceQuoteRecord struct {
	Source   domain.SourceTag `json:"source"`
	Price    string           `json:"price"`
	Decimals int              `json:"decimals"`
	At       int64            `json:"at"`
}

// PostgresStore persists the last-good map in Postgres, serializing every
// write through a per-token Dispatcher queue rather than a table-wide
// lock, so unrelated tokens never contend.
type PostgresStore struct {
	pool       *pgxpool.Pool
	dispatcher *keyed.Dispatcher
	cache      *xsync.Map[string, domain.ConsolidatedPrice]
}

// NewPostgresStore wires a pgx pool into a last-good Store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:       pool,
		dispatcher: keyed.New(),
		cache:      xsync.NewMap[string, domain.ConsolidatedPrice](),
	}
}

// Get returns the last-good ConsolidatedPrice for tokenID, preferring the
// in-process read-your-write cache so a Put immediately followed by a Get
// on the same token never round-trips to Postgres.
func (s *PostgresStore) Get(ctx context.Context, tokenID string) (domain.ConsolidatedPrice, bool, error) {
	if cp, ok := s.cache.Load(tokenID); ok {
		return cp, true, nil
	}

	if s.pool == nil {
		return domain.ConsolidatedPrice{}, false, ErrNotConfigured
	}

	var priceStr, mode string
	var decimals int
	var at int64
	var sourcesJSON []byte

	err := s.pool.QueryRow(ctx, getSQL, tokenID).Scan(&priceStr, &decimals, &at, &mode, &sourcesJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ConsolidatedPrice{}, false, nil
	}
	if err != nil {
		return domain.ConsolidatedPrice{}, false, fmt.Errorf("lastgood: get %s: %w", tokenID, err)
	}

	cp, err := decodeRow(tokenID, priceStr, decimals, at, mode, sourcesJSON)
	if err != nil {
		return domain.ConsolidatedPrice{}, false, err
	}

	s.cache.Store(tokenID, cp)
	return cp, true, nil
}

// Put durably replaces the last-good entry for cp.TokenID, serialized
// against every concurrent Put for that same token.
func (s *PostgresStore) Put(ctx context.Context, cp domain.ConsolidatedPrice) error {
	return s.dispatcher.Submit(ctx, cp.TokenID, func(ctx context.Context) error {
		if s.pool == nil {
			return ErrNotConfigured
		}

		sourcesJSON, err := encodeSources(cp.SourcesUsed)
		if err != nil {
			return err
		}

		_, execErr := s.pool.Exec(ctx, upsertSQL,
			cp.TokenID, cp.Price.String(), cp.Decimals, cp.At, string(cp.Mode), sourcesJSON,
		)
		if execErr != nil {
			return fmt.Errorf("lastgood: put %s: %w", cp.TokenID, execErr)
		}

		s.cache.Store(cp.TokenID, cp)
		return nil
	})
}

func encodeSources(quotes []domain.Quote) ([]byte, error) {
	records := make([]sourceQuoteRecord, 0, len(quotes))
	for _, q := range quotes {
		records = append(records, sourceQuoteRecord{
			Source: q.Source, Price: q.Price.String(), Decimals: q.Decimals, At: q.At,
		})
	}
	return json.Marshal(records)
}

func decodeRow(tokenID, priceStr string, decimals int, at int64, mode string, sourcesJSON []byte) (domain.ConsolidatedPrice, error) {
	price, ok := new(big.Int).SetString(priceStr, 10)
	if !ok {
		return domain.ConsolidatedPrice{}, fmt.Errorf("lastgood: corrupt price for %s", tokenID)
	}

	var records []sourceQuoteRecord
	if len(sourcesJSON) > 0 {
		if err := json.Unmarshal(sourcesJSON, &records); err != nil {
			return domain.ConsolidatedPrice{}, fmt.Errorf("lastgood: decode sources_used: %w", err)
		}
	}
	quotes := make([]domain.Quote, 0, len(records))
	for _, r := range records {
		p, ok := new(big.Int).SetString(r.Price, 10)
		if !ok {
			continue
		}
		quotes = append(quotes, domain.Quote{Source: r.Source, Price: p, Decimals: r.Decimals, At: r.At})
	}

	return domain.ConsolidatedPrice{
		TokenID:     tokenID,
		Price:       price,
		Decimals:    decimals,
		At:          at,
		Mode:        domain.Mode(mode),
		SourcesUsed: quotes,
	}, nil
}
