package execution

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"treasury-pipeline/internal/domainerr"
)

// RetryConfig holds exponential-backoff-with-jitter parameters for retries
// performed within a single intent's lifecycle (spec §4.6.3: retries never
// span across intents or regenerate an idemKey).
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	JitterRange float64
	Name        string
}

// DefaultRetryConfig returns the engine's standard retry budget for
// broadcast calls against a chain client.
func DefaultRetryConfig(name string) RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
		JitterRange: 0.1,
		Name:        name,
	}
}

// RetryableFunc is a unit of work the Retryer may attempt more than once.
type RetryableFunc func() error

// Retryer retries a RetryableFunc with exponential backoff and jitter,
// stopping immediately on an error domainerr classifies as terminal.
type Retryer struct {
	config RetryConfig
	logger zerolog.Logger
	rng    *rand.Rand
}

// NewRetryer constructs a Retryer. seed lets tests make backoff jitter
// deterministic; production callers should pass a time-derived seed.
func NewRetryer(config RetryConfig, logger zerolog.Logger, seed int64) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 1 * time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.Multiplier <= 1.0 {
		config.Multiplier = 2.0
	}
	if config.JitterRange < 0 || config.JitterRange > 1.0 {
		config.JitterRange = 0.1
	}
	if config.Name == "" {
		config.Name = "retryer"
	}

	return &Retryer{
		config: config,
		logger: logger.With().Str("component", "retryer").Str("name", config.Name).Logger(),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Execute runs fn with retries. A TerminalChainError aborts immediately
// without consuming further attempts; any other error, classified as
// transient or not, is retried.
func (r *Retryer) Execute(ctx context.Context, fn RetryableFunc) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				r.logger.Info().Int("attempt", attempt).Msg("operation succeeded after retry")
			}
			return nil
		}

		lastErr = err

		if !isRetryable(err) {
			r.logger.Error().Err(err).Msg("non-retryable error, aborting")
			return err
		}

		if attempt == r.config.MaxAttempts {
			r.logger.Error().Err(err).Int("attempts", attempt).Msg("all retry attempts exhausted")
			break
		}

		delay := r.calculateDelay(attempt)
		r.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("attempt failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			continue
		}
	}

	return fmt.Errorf("execution: max retry attempts (%d) exceeded: %w", r.config.MaxAttempts, lastErr)
}

func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.BaseDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	if r.config.JitterRange > 0 {
		jitter := r.rng.Float64() * r.config.JitterRange * delay
		if r.rng.Float64() < 0.5 {
			delay -= jitter
		} else {
			delay += jitter
		}
	}
	if delay < float64(r.config.BaseDelay) {
		delay = float64(r.config.BaseDelay)
	}
	return time.Duration(delay)
}

// isRetryable treats domainerr.KindTerminalChainError as not retryable
// and everything else (TransientChainError and unclassified errors) as
// retryable.
func isRetryable(err error) bool {
	if domainerr.Is(err, domainerr.KindTerminalChainError) {
		return false
	}
	if domainerr.Is(err, domainerr.KindTransientChainError) {
		return true
	}
	// Unclassified errors (e.g. context deadline, network blips) are
	// retried by default; only explicit terminal classification stops us.
	return true
}
