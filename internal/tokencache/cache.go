// Package tokencache serializes refreshes of a third-party bearer token so
// that concurrent callers never trigger duplicate token-issuance calls.
package tokencache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"payment-gateway/internal/util"

	"go.uber.org/zap"
)

// DefaultMargin is subtracted from the reported expiry before a cached
// token is considered usable, absorbing clock skew and the latency of
// using the token after the cache check.
const DefaultMargin = 60 * time.Second

// FetchFunc performs the upstream token exchange and returns the issued
// token together with its reported lifetime. The cache guarantees at most
// one in-flight invocation at a time; bounding the call with a timeout is
// the fetcher's responsibility.
type FetchFunc func(ctx context.Context) (token string, ttl time.Duration, err error)

// AuthError marks a refresh failure where the issuer rejected the
// credentials (401/403-class). The cache discards any cached token on this
// error since a stale credential is unlikely to self-heal.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("token issuer rejected credentials (status %d): %s", e.StatusCode, e.Message)
}

// Cache holds one bearer token and its absolute expiry. Get serves the
// cached token while it is valid and otherwise funnels all concurrent
// callers into a single upstream refresh whose outcome, success or
// failure, is delivered to every waiter.
type Cache struct {
	mu        sync.Mutex
	margin    time.Duration
	token     string
	expiresAt time.Time
	inflight  *refresh
	now       func() time.Time
	logger    *zap.Logger
}

// refresh is the shared result of one in-flight upstream call. token and
// err are written exactly once, before done is closed.
type refresh struct {
	done  chan struct{}
	token string
	err   error
}

// New creates an empty cache. A non-positive margin falls back to
// DefaultMargin.
func New(margin time.Duration) *Cache {
	if margin <= 0 {
		margin = DefaultMargin
	}
	return &Cache{
		margin: margin,
		now:    time.Now,
		logger: util.GetLogger(),
	}
}

// Get returns a valid bearer token, refreshing through fetch when needed.
// While a refresh is in flight every other caller waits on its result
// instead of starting a second upstream call. Failed refreshes are never
// cached; the error is propagated verbatim to every waiter and the next
// caller retries fresh. Retry policy belongs to the caller.
func (c *Cache) Get(ctx context.Context, fetch FetchFunc) (string, error) {
	c.mu.Lock()

	if c.validLocked() {
		token := c.token
		c.mu.Unlock()
		util.TokenCacheHitsTotal.Inc()
		return token, nil
	}

	if r := c.inflight; r != nil {
		c.mu.Unlock()
		select {
		case <-r.done:
			return r.token, r.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	// This caller becomes the refresher.
	r := &refresh{done: make(chan struct{})}
	c.inflight = r
	c.mu.Unlock()

	util.TokenRefreshesTotal.Inc()
	token, ttl, err := safeFetch(ctx, fetch)

	c.mu.Lock()
	c.inflight = nil
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			c.token = ""
			c.expiresAt = time.Time{}
			util.TokenRefreshFailuresTotal.WithLabelValues("auth_rejected").Inc()
			c.logger.Warn("Token refresh rejected, cached token discarded",
				zap.Int("status", authErr.StatusCode))
		} else {
			util.TokenRefreshFailuresTotal.WithLabelValues("upstream_error").Inc()
			c.logger.Warn("Token refresh failed", zap.Error(err))
		}
		r.err = err
	} else {
		c.token = token
		c.expiresAt = c.now().Add(ttl)
		r.token = token
		c.logger.Info("Token refreshed",
			zap.Time("expires_at", c.expiresAt))
	}
	c.mu.Unlock()
	close(r.done)

	if err != nil {
		return "", err
	}
	return token, nil
}

// safeFetch runs fetch, converting a panic into a refresh error. The
// refresher still walks the normal publish path afterwards, so a panicking
// fetcher can never leave the in-flight marker held and later callers
// blocked.
func safeFetch(ctx context.Context, fetch FetchFunc) (token string, ttl time.Duration, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("token fetch panicked: %v", rec)
		}
	}()
	return fetch(ctx)
}

// Invalidate discards the cached token, forcing a refresh on the next Get.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}

func (c *Cache) validLocked() bool {
	return c.token != "" && c.now().Before(c.expiresAt.Add(-c.margin))
}
