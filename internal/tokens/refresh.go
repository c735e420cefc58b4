// Package tokens owns the token lifecycle: deciding when a token needs
// refreshing, performing refresh calls with bounded retry and backoff, and
// the vault-backed storage facade the rest of the system obtains valid
// access tokens from.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"recordhub-backend/internal/crypto"
	"recordhub-backend/internal/models"
	"recordhub-backend/internal/providers"
)

// ErrReauthRequired means the token cannot be refreshed (no refresh token,
// or the provider rejected it) and the user must go through the OAuth flow
// again. Callers surface this distinctly so the UI can prompt reconnection
// instead of failing silently.
var ErrReauthRequired = errors.New("reauthentication required")

const defaultMaxAttempts = 3

// defaultBackoff is the delay before each retry attempt (not before the
// first call).
var defaultBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// RefreshManager performs provider token refreshes with bounded retry.
// HTTP 429/5xx and network failures are retried with increasing backoff;
// anything else (e.g. invalid_grant) is fatal and surfaces immediately as
// ErrReauthRequired.
type RefreshManager struct {
	registry    *providers.Registry
	maxAttempts int
	backoff     []time.Duration
	sleep       func(ctx context.Context, d time.Duration) error // Overridable in tests
}

// NewRefreshManager creates a RefreshManager over the provider registry.
func NewRefreshManager(registry *providers.Registry) *RefreshManager {
	return &RefreshManager{
		registry:    registry,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		sleep:       sleepContext,
	}
}

// ShouldRefreshToken reports whether the token has an expiry, is inside the
// refresh threshold, and is not yet fully expired.
func (rm *RefreshManager) ShouldRefreshToken(t models.TokenData) bool {
	v := crypto.ValidateToken(t)
	return v.NeedsRefresh && !v.IsExpired
}

// IsTokenExpired is the strict expiry check.
func (rm *RefreshManager) IsTokenExpired(t models.TokenData) bool {
	return crypto.ValidateToken(t).IsExpired
}

// RefreshTokenWithRetry resolves the provider and calls its RefreshToken,
// retrying retryable failures up to the attempt cap. Exhausting retries
// surfaces the last error; a fatal failure surfaces immediately wrapped in
// ErrReauthRequired.
func (rm *RefreshManager) RefreshTokenWithRetry(ctx context.Context, providerName, refreshToken string) (*models.TokenData, error) {
	p, err := rm.registry.Get(providerName)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < rm.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := rm.backoff[min(attempt-1, len(rm.backoff)-1)]
			log.Printf("[RefreshManager] Retrying %s token refresh in %s (attempt %d/%d)", providerName, delay, attempt+1, rm.maxAttempts)
			if err := rm.sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		token, err := p.RefreshToken(ctx, refreshToken)
		if err == nil {
			return token, nil
		}
		if !isRetryable(err) {
			log.Printf("WARN [RefreshManager] Fatal %s refresh failure: %v", providerName, err)
			return nil, fmt.Errorf("%w: %v", ErrReauthRequired, err)
		}
		log.Printf("WARN [RefreshManager] Retryable %s refresh failure: %v", providerName, err)
		lastErr = err
	}
	return nil, lastErr
}

// isRetryable classifies a refresh failure. Provider API errors carry their
// HTTP status; transport-level failures implement net.Error.
func isRetryable(err error) bool {
	var apiErr *providers.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// sleepContext sleeps for d or until the context is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
