// Package pyth implements the publisher-aggregated price source adapter
// with mandatory confidence (spec §4.1): it speaks Pyth's HTTP price
// service, exposing Price/Conf/Expo/PublishTime onto the shared Quote
// shape.
package pyth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"treasury-pipeline/internal/domain"
)

const latestPricePath = "/v2/updates/price/latest"

// Options parameterise the adapter.
type Options struct {
	BaseURL string
	// FeedIDs maps a tokenId to its Pyth price feed id (hex, no 0x prefix).
	FeedIDs   map[string]string
	Timeout   time.Duration
	UserAgent string
}

// Adapter speaks Pyth's hosted price service HTTP API.
type Adapter struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// New constructs a Pyth adapter.
func New(opts Options, logger zerolog.Logger) *Adapter {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://hermes.pyth.network"
	}
	return &Adapter{
		opts:    opts,
		logger:  logger.With().Str("component", "adapter_pyth").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// priceInfo mirrors Pyth's price-feed JSON shape: Price/Conf are decimal
// strings scaled by 10^Expo, PublishTime is epoch seconds.
type priceInfo struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int    `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type priceUpdate struct {
	ID    string    `json:"id"`
	Price priceInfo `json:"price"`
}

type latestPriceResponse struct {
	Parsed []priceUpdate `json:"parsed"`
}

// Fetch implements adapter.Source.
func (a *Adapter) Fetch(ctx context.Context, tokenID string) (domain.Quote, bool, error) {
	feedID, ok := a.opts.FeedIDs[tokenID]
	if !ok || feedID == "" {
		a.logger.Debug().Str("token_id", tokenID).Msg("no feed id configured; reporting no data")
		return domain.Quote{}, false, nil
	}

	endpoint := fmt.Sprintf("%s%s?ids[]=%s", a.baseURL, latestPricePath, feedID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.Quote{}, false, nil
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(a.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Debug().Err(err).Msg("pyth request failed; reporting no data")
		return domain.Quote{}, false, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		a.logger.Debug().Int("status", resp.StatusCode).Msg("pyth request returned non-200; reporting no data")
		return domain.Quote{}, false, nil
	}

	var parsed latestPriceResponse
	if err := json.Unmarshal(body, &parsed); err != nil || len(parsed.Parsed) == 0 {
		a.logger.Debug().Err(err).Msg("pyth response malformed; reporting no data")
		return domain.Quote{}, false, nil
	}

	q, ok := toQuote(parsed.Parsed[0].Price)
	if !ok {
		return domain.Quote{}, false, nil
	}
	return q, true, nil
}

// toQuote converts Pyth's Price/Conf (decimal strings, exponent-scaled,
// possibly negative) into the Quote shape with a positive-decimals scale,
// preserving the source's native precision exactly.
func toQuote(info priceInfo) (domain.Quote, bool) {
	priceInt, ok := new(big.Int).SetString(info.Price, 10)
	if !ok || priceInt.Sign() <= 0 {
		return domain.Quote{}, false
	}
	confInt, ok := new(big.Int).SetString(info.Conf, 10)
	if !ok || confInt.Sign() < 0 {
		return domain.Quote{}, false
	}

	decimals := -info.Expo
	if decimals < 0 {
		// A positive exponent means the feed is scaled down from its
		// integer representation; normalise by widening both fields so
		// Decimals stays non-negative as the Quote contract requires.
		widen := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-decimals)), nil)
		priceInt.Mul(priceInt, widen)
		confInt.Mul(confInt, widen)
		decimals = 0
	}

	return domain.Quote{
		Source:   domain.SourcePyth,
		Price:    priceInt,
		Decimals: decimals,
		At:       info.PublishTime,
		Meta:     domain.QuoteMeta{Confidence: confInt},
	}, true
}

var _ interface {
	Fetch(ctx context.Context, tokenID string) (domain.Quote, bool, error)
} = (*Adapter)(nil)
