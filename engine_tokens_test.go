package go2fa

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/go2fa/store/memory"
)

func TestRefreshRotatesAndDetectsReuse(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	env.register(t)
	first := env.finalLogin(t)

	second, err := env.engine.Refresh(context.Background(), first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("expected a rotated refresh token")
	}
	if _, err := env.engine.Authenticate(context.Background(), second.AccessToken); err != nil {
		t.Fatalf("Authenticate with rotated access token failed: %v", err)
	}

	// Replaying the superseded token revokes the whole chain.
	_, err = env.engine.Refresh(context.Background(), first.RefreshToken)
	requireKind(t, err, ErrRefreshTokenInvalid)

	_, err = env.engine.Refresh(context.Background(), second.RefreshToken)
	requireKind(t, err, ErrRefreshTokenInvalid)
	_, err = env.engine.Authenticate(context.Background(), second.AccessToken)
	requireKind(t, err, ErrUnauthorized)
}

func TestRefreshExpired(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	env.register(t)
	tok := env.finalLogin(t)

	env.clock.Advance(7*24*time.Hour + time.Second)

	_, err := env.engine.Refresh(context.Background(), tok.RefreshToken)
	requireKind(t, err, ErrRefreshTokenExpired)
}

func TestRefreshExpiredAfterStoreActivity(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	enrollment := env.register(t)
	tok := env.finalLogin(t)
	p := env.principal(t, tok)
	if err := env.engine.Confirm2FA(context.Background(), p, env.code(t, enrollment.Secret, 0)); err != nil {
		t.Fatalf("Confirm2FA failed: %v", err)
	}

	env.clock.Advance(7*24*time.Hour + time.Second)
	// A later login writes to the store and sweeps what it considers stale.
	env.challenge(t)

	for i := 0; i < 2; i++ {
		_, err := env.engine.Refresh(context.Background(), tok.RefreshToken)
		requireKind(t, err, ErrRefreshTokenExpired)
	}
}

func TestRefreshExpiredWithRedisTokenStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig(t)
	cfg.JWT.AccessTTL = time.Second
	cfg.JWT.RefreshTTL = 3 * time.Second

	// Redis TTLs follow the wall clock.
	clock := &testClock{now: time.Now()}
	engine, err := New().
		WithConfig(cfg).
		WithCredentialStore(memory.New().WithClock(clock.Now)).
		WithRedis(rdb).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	env := &testEnv{engine: engine, clock: clock}
	env.register(t)
	tok := env.finalLogin(t)

	mr.FastForward(4 * time.Second)
	clock.Advance(4 * time.Second)

	_, err = engine.Refresh(context.Background(), tok.RefreshToken)
	requireKind(t, err, ErrRefreshTokenExpired)
}

func TestRefreshMalformed(t *testing.T) {
	env := newTestEnv(t, testConfig(t))

	for _, token := range []string{"", "garbage", "AAAA"} {
		_, err := env.engine.Refresh(context.Background(), token)
		requireKind(t, err, ErrRefreshTokenInvalid)
	}
}

func TestRefreshConcurrencySingleWinner(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	env.register(t)
	tok := env.finalLogin(t)

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := env.engine.Refresh(context.Background(), tok.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	for err := range results {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrRefreshTokenInvalid) {
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly one refresh success, got %d", success)
	}
}

func TestAuthenticateAfterLogoutFails(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	env.register(t)
	tok := env.finalLogin(t)
	p := env.principal(t, tok)

	if err := env.engine.Logout(context.Background(), p); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	_, err := env.engine.Authenticate(context.Background(), tok.AccessToken)
	requireKind(t, err, ErrUnauthorized)
	_, err = env.engine.Refresh(context.Background(), tok.RefreshToken)
	requireKind(t, err, ErrRefreshTokenInvalid)
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	env.register(t)
	tok := env.finalLogin(t)

	for _, token := range []string{"", "a.b.c", tok.RefreshToken} {
		_, err := env.engine.Authenticate(context.Background(), token)
		requireKind(t, err, ErrUnauthorized)
	}

	// Tokens signed by another engine's key.
	other := newTestEnv(t, testConfig(t))
	_, err := other.engine.Authenticate(context.Background(), tok.AccessToken)
	requireKind(t, err, ErrUnauthorized)

	env.clock.Advance(16 * time.Minute)
	_, err = env.engine.Authenticate(context.Background(), tok.AccessToken)
	requireKind(t, err, ErrUnauthorized)
}
