package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// loginFunc performs a vendor login and returns the bearer token plus its
// lifetime.
type loginFunc func(ctx context.Context) (token string, expiresIn time.Duration, err error)

// TokenCache holds the gateway auth token and its expiry as explicit,
// injected state. Refreshes are collapsed through a single-flight group so
// concurrent expired callers trigger exactly one vendor login.
type TokenCache struct {
	mu     sync.RWMutex
	token  string
	expiry time.Time

	group singleflight.Group
	login loginFunc

	// refresh this long before actual expiry to absorb clock skew and
	// request latency
	expirySkew time.Duration
}

func NewTokenCache(login loginFunc) *TokenCache {
	return &TokenCache{
		login:      login,
		expirySkew: 30 * time.Second,
	}
}

// Token returns a valid bearer token, logging in to the vendor if the cached
// one is missing or about to expire.
func (t *TokenCache) Token(ctx context.Context) (string, error) {
	t.mu.RLock()
	token, expiry := t.token, t.expiry
	t.mu.RUnlock()

	if token != "" && time.Now().Add(t.expirySkew).Before(expiry) {
		return token, nil
	}

	result, err, _ := t.group.Do("login", func() (interface{}, error) {
		// Re-check under the flight: another caller may have refreshed
		// while this one waited on the group.
		t.mu.RLock()
		token, expiry := t.token, t.expiry
		t.mu.RUnlock()
		if token != "" && time.Now().Add(t.expirySkew).Before(expiry) {
			return token, nil
		}

		fresh, expiresIn, err := t.login(ctx)
		if err != nil {
			return "", err
		}

		t.mu.Lock()
		t.token = fresh
		t.expiry = time.Now().Add(expiresIn)
		t.mu.Unlock()

		return fresh, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Invalidate drops the cached token, forcing a login on the next call.
func (t *TokenCache) Invalidate() {
	t.mu.Lock()
	t.token = ""
	t.expiry = time.Time{}
	t.mu.Unlock()
}
