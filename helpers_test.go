package go2fa

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/go2fa/store"
	"github.com/MrEthical07/go2fa/store/memory"
	"github.com/MrEthical07/go2fa/totp"
)

const (
	testUsername = "alice"
	testEmail    = "alice@example.com"
	testPassword = "correct-password-123"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func randomBytes(t testing.TB, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return b
}

// testConfig is DefaultConfig with cheap Argon2 parameters and fresh keys.
func testConfig(t testing.TB) Config {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.JWT.PrivateKey = priv
	cfg.Secrets.EncryptionKey = randomBytes(t, 32)
	cfg.Secrets.BackupCodePepper = randomBytes(t, 32)
	return cfg
}

type testEnv struct {
	engine *Engine
	store  *memory.Store
	clock  *testClock
}

func newTestEnv(t testing.TB, cfg Config) *testEnv {
	t.Helper()

	clock := newTestClock()
	mem := memory.New().WithClock(clock.Now)

	engine, err := New().
		WithConfig(cfg).
		WithCredentialStore(mem).
		WithTokenStore(mem).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, store: mem, clock: clock}
}

func (env *testEnv) code(t testing.TB, secret string, offset int) string {
	t.Helper()

	s, err := totp.DecodeSecret(secret)
	if err != nil {
		t.Fatalf("DecodeSecret failed: %v", err)
	}
	gen, err := totp.New(totp.Config{})
	if err != nil {
		t.Fatalf("totp.New failed: %v", err)
	}
	code, err := gen.CodeAt(s, gen.Counter(env.clock.Now())+int64(offset))
	if err != nil {
		t.Fatalf("CodeAt failed: %v", err)
	}
	return code
}

// wrongCode returns a well-formed code that is outside the accepted window.
func (env *testEnv) wrongCode(t testing.TB, secret string) string {
	t.Helper()

	accepted := map[string]bool{}
	for off := -totp.DefaultSkew; off <= totp.DefaultSkew; off++ {
		accepted[env.code(t, secret, off)] = true
	}
	for _, c := range []string{"000000", "111111", "222222", "333333", "444444", "555555"} {
		if !accepted[c] {
			return c
		}
	}
	t.Fatal("no rejected code candidate")
	return ""
}

func (env *testEnv) register(t testing.TB) *Enrollment {
	t.Helper()

	enrollment, err := env.engine.Register(context.Background(), RegisterRequest{
		Username: testUsername,
		Email:    testEmail,
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return enrollment
}

// finalLogin logs in an account without an enabled second factor.
func (env *testEnv) finalLogin(t testing.TB) *Token {
	t.Helper()

	outcome, err := env.engine.Login(context.Background(), testUsername, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	final, ok := outcome.(*FinalToken)
	if !ok {
		t.Fatalf("expected *FinalToken, got %T", outcome)
	}
	return &final.Token
}

func (env *testEnv) principal(t testing.TB, tok *Token) *Principal {
	t.Helper()

	p, err := env.engine.Authenticate(context.Background(), tok.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	return p
}

// enabledAccount registers and confirms an account. It returns the
// enrollment and a principal from the pre-confirmation session.
func (env *testEnv) enabledAccount(t testing.TB) (*Enrollment, *Principal) {
	t.Helper()

	enrollment := env.register(t)
	p := env.principal(t, env.finalLogin(t))
	if err := env.engine.Confirm2FA(context.Background(), p, env.code(t, enrollment.Secret, 0)); err != nil {
		t.Fatalf("Confirm2FA failed: %v", err)
	}
	return enrollment, p
}

func (env *testEnv) challenge(t testing.TB) *SecondFactorRequired {
	t.Helper()

	outcome, err := env.engine.Login(context.Background(), testUsername, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	sfr, ok := outcome.(*SecondFactorRequired)
	if !ok {
		t.Fatalf("expected *SecondFactorRequired, got %T", outcome)
	}
	return sfr
}

func (env *testEnv) state(t testing.TB, accountID string) store.TwoFactorState {
	t.Helper()

	acct, err := env.store.AccountByID(context.Background(), accountID)
	if err != nil {
		t.Fatalf("AccountByID failed: %v", err)
	}
	return acct.State
}

func requireKind(t testing.TB, err error, want *Error) {
	t.Helper()

	if !errors.Is(err, want) {
		t.Fatalf("expected %s, got %v", want.Kind, err)
	}
}
