// Package sources holds the extraction source adapters and the retry and
// pagination helpers they share.
package sources

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
)

// RetryPolicy defines backoff behavior for transient fetch failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between retries.
	MaxBackoff time.Duration

	// BackoffMultiplier is applied to the backoff on each retry.
	BackoffMultiplier float64
}

// PolicyFromConfig builds a RetryPolicy from the retry configuration.
func PolicyFromConfig(cfg common.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       cfg.MaxAttempts,
		InitialBackoff:    cfg.InitialBackoff,
		MaxBackoff:        cfg.MaxBackoff,
		BackoffMultiplier: cfg.BackoffMultiplier,
	}
}

// Backoff computes the wait before retry number attempt (0-based).
// If the provider suggested a delay (Retry-After), that is used as the base
// instead of InitialBackoff. The result is capped at MaxBackoff.
func (p RetryPolicy) Backoff(attempt int, suggested time.Duration) time.Duration {
	base := p.InitialBackoff
	if suggested > 0 {
		base = suggested
	}

	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= p.BackoffMultiplier
	}

	backoff := time.Duration(float64(base) * multiplier)
	if backoff > p.MaxBackoff {
		backoff = p.MaxBackoff
	}

	return backoff
}

// AttemptFunc performs one fetch attempt. A returned *models.FatalFetchError
// stops retrying immediately; any other error is treated as transient.
// suggested carries a provider-reported retry delay (zero if none).
type AttemptFunc func(ctx context.Context) (suggested time.Duration, err error)

// Retry runs fn with exponential backoff until it succeeds, returns a fatal
// error, exhausts the policy, or the context is cancelled. Exhausted retries
// surface as *models.TransientFetchError.
func Retry(ctx context.Context, policy RetryPolicy, logger arbor.ILogger, source models.Source, endpoint string, fn AttemptFunc) error {
	var lastErr error

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		suggested, err := fn(ctx)
		if err == nil {
			return nil
		}
		if models.IsFatalFetch(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err

		if attempt == policy.MaxAttempts-1 {
			break
		}

		wait := policy.Backoff(attempt, suggested)
		logger.Warn().
			Str("source", string(source)).
			Str("endpoint", endpoint).
			Int("attempt", attempt+1).
			Dur("backoff", wait).
			Err(err).
			Msg("Transient fetch failure, backing off")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return &models.TransientFetchError{
		Source:   source,
		Endpoint: endpoint,
		Attempts: policy.MaxAttempts,
		Err:      lastErr,
	}
}
