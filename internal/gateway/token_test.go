package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTokenCacheCachesUntilExpiry(t *testing.T) {
	var logins int32
	cache := NewTokenCache(func(ctx context.Context) (string, time.Duration, error) {
		n := atomic.AddInt32(&logins, 1)
		return fmt.Sprintf("token-%d", n), time.Hour, nil
	})

	first, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("token fetch failed: %v", err)
	}
	second, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("token fetch failed: %v", err)
	}

	if first != "token-1" || second != "token-1" {
		t.Fatalf("expected cached token, got %q and %q", first, second)
	}
	if n := atomic.LoadInt32(&logins); n != 1 {
		t.Fatalf("expected exactly 1 login, got %d", n)
	}
}

func TestTokenCacheRefreshesExpiredToken(t *testing.T) {
	var logins int32
	cache := NewTokenCache(func(ctx context.Context) (string, time.Duration, error) {
		n := atomic.AddInt32(&logins, 1)
		// Lifetime inside the skew window, so it counts as expired immediately
		return fmt.Sprintf("token-%d", n), time.Second, nil
	})

	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("token fetch failed: %v", err)
	}
	second, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("token fetch failed: %v", err)
	}

	if second != "token-2" {
		t.Fatalf("expected refreshed token, got %q", second)
	}
}

func TestTokenCacheInvalidateForcesLogin(t *testing.T) {
	var logins int32
	cache := NewTokenCache(func(ctx context.Context) (string, time.Duration, error) {
		n := atomic.AddInt32(&logins, 1)
		return fmt.Sprintf("token-%d", n), time.Hour, nil
	})

	if _, err := cache.Token(context.Background()); err != nil {
		t.Fatalf("token fetch failed: %v", err)
	}
	cache.Invalidate()

	token, err := cache.Token(context.Background())
	if err != nil {
		t.Fatalf("token fetch failed: %v", err)
	}
	if token != "token-2" {
		t.Fatalf("expected new token after invalidate, got %q", token)
	}
}

func TestTokenCacheSurfacesLoginError(t *testing.T) {
	failure := errors.New("vendor login down")
	cache := NewTokenCache(func(ctx context.Context) (string, time.Duration, error) {
		return "", 0, failure
	})

	if _, err := cache.Token(context.Background()); !errors.Is(err, failure) {
		t.Fatalf("expected login error, got %v", err)
	}
}

func TestTokenCacheConcurrentCallersSingleLogin(t *testing.T) {
	var logins int32
	release := make(chan struct{})
	cache := NewTokenCache(func(ctx context.Context) (string, time.Duration, error) {
		atomic.AddInt32(&logins, 1)
		<-release
		return "token", time.Hour, nil
	})

	const callers = 20
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cache.Token(context.Background())
			errs <- err
		}()
	}

	// Give all goroutines a chance to pile onto the flight before releasing
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("token fetch failed: %v", err)
		}
	}
	if n := atomic.LoadInt32(&logins); n != 1 {
		t.Fatalf("expected 1 login across %d concurrent callers, got %d", callers, n)
	}
}
