// Package storetest holds behavioural tests shared by every store
// implementation. Each Run function takes a constructor so the same
// expectations apply to the in-memory, Redis and PostgreSQL backends.
package storetest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/go2fa/store"
)

// RunTokenStore exercises temporary tokens and refresh sessions.
func RunTokenStore(t *testing.T, newStore func(t *testing.T) store.TokenStore) {
	t.Run("TemporaryTokenLifecycle", func(t *testing.T) { testTemporaryTokenLifecycle(t, newStore(t)) })
	t.Run("TemporaryTokenExpiry", func(t *testing.T) { testTemporaryTokenExpiry(t, newStore(t)) })
	t.Run("TemporaryTokenAttempts", func(t *testing.T) { testTemporaryTokenAttempts(t, newStore(t)) })
	t.Run("TemporaryTokenConcurrentClaim", func(t *testing.T) { testTemporaryTokenConcurrentClaim(t, newStore(t)) })
	t.Run("RefreshRotation", func(t *testing.T) { testRefreshRotation(t, newStore(t)) })
	t.Run("RefreshExpiry", func(t *testing.T) { testRefreshExpiry(t, newStore(t)) })
	t.Run("RefreshConcurrentRotate", func(t *testing.T) { testRefreshConcurrentRotate(t, newStore(t)) })
}

// RunCredentialStore exercises accounts, secrets and backup codes.
func RunCredentialStore(t *testing.T, newStore func(t *testing.T) store.CredentialStore) {
	t.Run("AccountUniqueness", func(t *testing.T) { testAccountUniqueness(t, newStore(t)) })
	t.Run("PendingPromotion", func(t *testing.T) { testPendingPromotion(t, newStore(t)) })
	t.Run("DisableTwoFactor", func(t *testing.T) { testDisableTwoFactor(t, newStore(t)) })
	t.Run("BackupCodesSingleUse", func(t *testing.T) { testBackupCodesSingleUse(t, newStore(t)) })
	t.Run("BackupCodesConcurrentConsume", func(t *testing.T) { testBackupCodesConcurrentConsume(t, newStore(t)) })
	t.Run("TOTPCounterMonotonic", func(t *testing.T) { testTOTPCounterMonotonic(t, newStore(t)) })
}

func hashOf(s string) [32]byte {
	return sha256.Sum256([]byte(s))
}

func newTemp(now time.Time) *store.TemporaryToken {
	return &store.TemporaryToken{
		AccountID: "acct-1",
		IssuedAt:  now,
		ExpiresAt: now.Add(5 * time.Minute),
	}
}

func testTemporaryTokenLifecycle(t *testing.T, s store.TokenStore) {
	ctx := context.Background()
	now := time.Now()

	if _, err := s.ClaimTemporaryToken(ctx, "missing", now); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.SaveTemporaryToken(ctx, "k1", newTemp(now), time.Minute); err != nil {
		t.Fatalf("SaveTemporaryToken: %v", err)
	}

	rec, err := s.ClaimTemporaryToken(ctx, "k1", now)
	if err != nil {
		t.Fatalf("ClaimTemporaryToken: %v", err)
	}
	if rec.AccountID != "acct-1" || !rec.Used {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !rec.ExpiresAt.Truncate(time.Millisecond).Equal(now.Add(5 * time.Minute).Truncate(time.Millisecond)) {
		t.Fatalf("expiry not preserved: %v", rec.ExpiresAt)
	}
	if _, err := s.ClaimTemporaryToken(ctx, "k1", now); !errors.Is(err, store.ErrTokenUsed) {
		t.Fatalf("expected ErrTokenUsed on second claim, got %v", err)
	}
}

func testTemporaryTokenExpiry(t *testing.T, s store.TokenStore) {
	ctx := context.Background()
	now := time.Now()
	if err := s.SaveTemporaryToken(ctx, "k1", newTemp(now), 10*time.Minute); err != nil {
		t.Fatalf("SaveTemporaryToken: %v", err)
	}
	later := now.Add(5*time.Minute + time.Second)
	if _, err := s.ClaimTemporaryToken(ctx, "k1", later); !errors.Is(err, store.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if _, err := s.ClaimTemporaryToken(ctx, "k1", later); !errors.Is(err, store.ErrTokenExpired) {
		t.Fatalf("expired token should stay expired, got %v", err)
	}
}

func testTemporaryTokenAttempts(t *testing.T, s store.TokenStore) {
	ctx := context.Background()
	now := time.Now()
	if err := s.SaveTemporaryToken(ctx, "k1", newTemp(now), time.Minute); err != nil {
		t.Fatalf("SaveTemporaryToken: %v", err)
	}

	for i := 1; i <= 2; i++ {
		if _, err := s.ClaimTemporaryToken(ctx, "k1", now); err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		exhausted, err := s.ReleaseTemporaryToken(ctx, "k1", 3)
		if err != nil || exhausted {
			t.Fatalf("release %d: exhausted=%v err=%v", i, exhausted, err)
		}
	}

	rec, err := s.ClaimTemporaryToken(ctx, "k1", now)
	if err != nil {
		t.Fatalf("third claim: %v", err)
	}
	if rec.Attempts != 2 {
		t.Fatalf("expected 2 recorded attempts, got %d", rec.Attempts)
	}
	exhausted, err := s.ReleaseTemporaryToken(ctx, "k1", 3)
	if err != nil || !exhausted {
		t.Fatalf("expected exhaustion, got exhausted=%v err=%v", exhausted, err)
	}
	if _, err := s.ClaimTemporaryToken(ctx, "k1", now); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("exhausted token should be gone, got %v", err)
	}
}

func testTemporaryTokenConcurrentClaim(t *testing.T, s store.TokenStore) {
	ctx := context.Background()
	now := time.Now()
	if err := s.SaveTemporaryToken(ctx, "k1", newTemp(now), time.Minute); err != nil {
		t.Fatalf("SaveTemporaryToken: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ClaimTemporaryToken(ctx, "k1", now); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one successful claim, got %d", wins.Load())
	}
}

func newSession(id string, now time.Time, secret string) *store.RefreshSession {
	return &store.RefreshSession{
		ID:         id,
		AccountID:  "acct-1",
		SecretHash: hashOf(secret),
		IssuedAt:   now,
		ExpiresAt:  now.Add(time.Hour),
	}
}

func testRefreshRotation(t *testing.T, s store.TokenStore) {
	ctx := context.Background()
	now := time.Now()
	if err := s.CreateRefreshSession(ctx, newSession("sid-1", now, "s0"), time.Hour); err != nil {
		t.Fatalf("CreateRefreshSession: %v", err)
	}

	got, err := s.RefreshSession(ctx, "sid-1")
	if err != nil || got.AccountID != "acct-1" {
		t.Fatalf("RefreshSession: %+v %v", got, err)
	}

	rotated, err := s.RotateRefreshSession(ctx, "sid-1", hashOf("s0"), hashOf("s1"), now)
	if err != nil {
		t.Fatalf("RotateRefreshSession: %v", err)
	}
	if rotated.SecretHash != hashOf("s1") || rotated.AccountID != "acct-1" {
		t.Fatalf("unexpected rotated session %+v", rotated)
	}

	if _, err := s.RotateRefreshSession(ctx, "sid-1", hashOf("s0"), hashOf("s2"), now); !errors.Is(err, store.ErrRefreshMismatch) {
		t.Fatalf("expected ErrRefreshMismatch for replayed secret, got %v", err)
	}
	if _, err := s.RefreshSession(ctx, "sid-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("session should be revoked after reuse, got %v", err)
	}
	if _, err := s.RotateRefreshSession(ctx, "sid-1", hashOf("s1"), hashOf("s2"), now); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after revocation, got %v", err)
	}

	if err := s.CreateRefreshSession(ctx, newSession("sid-2", now, "x"), time.Hour); err != nil {
		t.Fatalf("CreateRefreshSession: %v", err)
	}
	if err := s.RevokeRefreshSession(ctx, "sid-2"); err != nil {
		t.Fatalf("RevokeRefreshSession: %v", err)
	}
	if _, err := s.RefreshSession(ctx, "sid-2"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after revoke, got %v", err)
	}
}

func testRefreshExpiry(t *testing.T, s store.TokenStore) {
	ctx := context.Background()
	now := time.Now()
	if err := s.CreateRefreshSession(ctx, newSession("sid-1", now, "s0"), time.Hour); err != nil {
		t.Fatalf("CreateRefreshSession: %v", err)
	}
	late := now.Add(90 * time.Minute)
	for i := 0; i < 2; i++ {
		_, err := s.RotateRefreshSession(ctx, "sid-1", hashOf("s0"), hashOf("s1"), late)
		if !errors.Is(err, store.ErrTokenExpired) {
			t.Fatalf("attempt %d: expected ErrTokenExpired, got %v", i+1, err)
		}
	}
	got, err := s.RefreshSession(ctx, "sid-1")
	if err != nil {
		t.Fatalf("expired session should be retained: %v", err)
	}
	if late.Before(got.ExpiresAt) {
		t.Fatalf("retained session must still read as expired, ExpiresAt=%v", got.ExpiresAt)
	}
}

func testRefreshConcurrentRotate(t *testing.T, s store.TokenStore) {
	ctx := context.Background()
	now := time.Now()
	if err := s.CreateRefreshSession(ctx, newSession("sid-1", now, "s0"), time.Hour); err != nil {
		t.Fatalf("CreateRefreshSession: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := hashOf(string(rune('a' + i)))
			if _, err := s.RotateRefreshSession(ctx, "sid-1", hashOf("s0"), next, now); err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one rotation, got %d", wins.Load())
	}
}

func newAccount(id, username, email string) *store.Account {
	now := time.Now().UTC().Truncate(time.Second)
	return &store.Account{
		ID:              id,
		Username:        username,
		Email:           email,
		PasswordHash:    "$argon2id$placeholder",
		State:           store.StatePendingSetup,
		PreferredMethod: "totp",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func pendingWithCodes(sealed string, codes ...string) *store.PendingSecret {
	p := &store.PendingSecret{Sealed: []byte(sealed), CreatedAt: time.Now()}
	for _, c := range codes {
		h := hashOf(c)
		p.BackupCodeHashes = append(p.BackupCodeHashes, h[:])
	}
	return p
}

func testAccountUniqueness(t *testing.T, s store.CredentialStore) {
	ctx := context.Background()
	if err := s.CreateAccount(ctx, newAccount("a1", "alice", "alice@example.com"), pendingWithCodes("sealed")); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := s.CreateAccount(ctx, newAccount("a2", "alice", "other@example.com"), nil); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for username, got %v", err)
	}
	if err := s.CreateAccount(ctx, newAccount("a3", "bob", "alice@example.com"), nil); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for email, got %v", err)
	}

	byName, err := s.AccountByUsername(ctx, "alice")
	if err != nil || byName.ID != "a1" {
		t.Fatalf("AccountByUsername: %+v %v", byName, err)
	}
	byEmail, err := s.AccountByEmail(ctx, "alice@example.com")
	if err != nil || byEmail.ID != "a1" {
		t.Fatalf("AccountByEmail: %+v %v", byEmail, err)
	}
	if _, err := s.AccountByUsername(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdatePasswordHash(ctx, "a1", "$argon2id$new"); err != nil {
		t.Fatalf("UpdatePasswordHash: %v", err)
	}
	got, _ := s.AccountByID(ctx, "a1")
	if got.PasswordHash != "$argon2id$new" {
		t.Fatalf("password hash not updated: %s", got.PasswordHash)
	}
}

func testPendingPromotion(t *testing.T, s store.CredentialStore) {
	ctx := context.Background()
	if err := s.CreateAccount(ctx, newAccount("a1", "alice", "alice@example.com"), pendingWithCodes("first", "c1", "c2")); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if _, err := s.ConfirmedSecret(ctx, "a1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("no confirmed secret expected yet, got %v", err)
	}
	if n, _ := s.RemainingBackupCodes(ctx, "a1"); n != 0 {
		t.Fatalf("pending codes must not be live, got %d", n)
	}

	if err := s.PromotePendingSecret(ctx, "a1", 7); err != nil {
		t.Fatalf("PromotePendingSecret: %v", err)
	}
	acct, _ := s.AccountByID(ctx, "a1")
	if acct.State != store.StateEnabled {
		t.Fatalf("expected ENABLED, got %s", acct.State)
	}
	confirmed, err := s.ConfirmedSecret(ctx, "a1")
	if err != nil || !bytes.Equal(confirmed.Sealed, []byte("first")) || confirmed.LastCounter != 7 {
		t.Fatalf("ConfirmedSecret: %+v %v", confirmed, err)
	}
	if _, err := s.PendingSecret(ctx, "a1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("pending secret should be gone, got %v", err)
	}
	if n, _ := s.RemainingBackupCodes(ctx, "a1"); n != 2 {
		t.Fatalf("expected 2 live codes, got %d", n)
	}

	if err := s.SavePendingSecret(ctx, "a1", pendingWithCodes("second", "c3")); err != nil {
		t.Fatalf("SavePendingSecret: %v", err)
	}
	acct, _ = s.AccountByID(ctx, "a1")
	if acct.State != store.StateEnabled {
		t.Fatalf("re-setup must not leave ENABLED, got %s", acct.State)
	}
	confirmed, _ = s.ConfirmedSecret(ctx, "a1")
	if !bytes.Equal(confirmed.Sealed, []byte("first")) {
		t.Fatal("confirmed secret changed before promotion")
	}

	if err := s.PromotePendingSecret(ctx, "a1", 9); err != nil {
		t.Fatalf("second promotion: %v", err)
	}
	confirmed, _ = s.ConfirmedSecret(ctx, "a1")
	if !bytes.Equal(confirmed.Sealed, []byte("second")) {
		t.Fatal("confirmed secret not replaced")
	}
	h1 := hashOf("c1")
	if ok, _ := s.ConsumeBackupCode(ctx, "a1", h1[:]); ok {
		t.Fatal("old backup codes survived promotion")
	}
	if err := s.PromotePendingSecret(ctx, "a1", 10); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("promotion without pending should fail with ErrNotFound, got %v", err)
	}
}

func testDisableTwoFactor(t *testing.T, s store.CredentialStore) {
	ctx := context.Background()
	if err := s.CreateAccount(ctx, newAccount("a1", "alice", "alice@example.com"), pendingWithCodes("first", "c1")); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := s.PromotePendingSecret(ctx, "a1", 1); err != nil {
		t.Fatalf("PromotePendingSecret: %v", err)
	}
	if err := s.DisableTwoFactor(ctx, "a1"); err != nil {
		t.Fatalf("DisableTwoFactor: %v", err)
	}
	acct, _ := s.AccountByID(ctx, "a1")
	if acct.State != store.StateNone {
		t.Fatalf("expected NO_2FA, got %s", acct.State)
	}
	if _, err := s.ConfirmedSecret(ctx, "a1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("secret should be removed, got %v", err)
	}
	if n, _ := s.RemainingBackupCodes(ctx, "a1"); n != 0 {
		t.Fatalf("codes should be removed, got %d", n)
	}

	if err := s.SavePendingSecret(ctx, "a1", pendingWithCodes("again")); err != nil {
		t.Fatalf("SavePendingSecret: %v", err)
	}
	acct, _ = s.AccountByID(ctx, "a1")
	if acct.State != store.StatePendingSetup {
		t.Fatalf("expected PENDING_SETUP after new setup, got %s", acct.State)
	}
}

func testBackupCodesSingleUse(t *testing.T, s store.CredentialStore) {
	ctx := context.Background()
	if err := s.CreateAccount(ctx, newAccount("a1", "alice", "alice@example.com"), nil); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	h1, h2 := hashOf("c1"), hashOf("c2")
	if err := s.ReplaceBackupCodes(ctx, "a1", [][]byte{h1[:], h2[:]}); err != nil {
		t.Fatalf("ReplaceBackupCodes: %v", err)
	}

	ok, err := s.ConsumeBackupCode(ctx, "a1", h1[:])
	if err != nil || !ok {
		t.Fatalf("first consume: ok=%v err=%v", ok, err)
	}
	ok, err = s.ConsumeBackupCode(ctx, "a1", h1[:])
	if err != nil || ok {
		t.Fatalf("second consume: ok=%v err=%v", ok, err)
	}
	if n, _ := s.RemainingBackupCodes(ctx, "a1"); n != 1 {
		t.Fatalf("expected 1 remaining, got %d", n)
	}

	h3 := hashOf("c3")
	if err := s.ReplaceBackupCodes(ctx, "a1", [][]byte{h3[:]}); err != nil {
		t.Fatalf("ReplaceBackupCodes: %v", err)
	}
	if ok, _ := s.ConsumeBackupCode(ctx, "a1", h2[:]); ok {
		t.Fatal("replaced code still consumable")
	}
}

func testBackupCodesConcurrentConsume(t *testing.T, s store.CredentialStore) {
	ctx := context.Background()
	if err := s.CreateAccount(ctx, newAccount("a1", "alice", "alice@example.com"), nil); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	h := hashOf("only")
	if err := s.ReplaceBackupCodes(ctx, "a1", [][]byte{h[:]}); err != nil {
		t.Fatalf("ReplaceBackupCodes: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := s.ConsumeBackupCode(ctx, "a1", h[:]); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one consumption, got %d", wins.Load())
	}
}

func testTOTPCounterMonotonic(t *testing.T, s store.CredentialStore) {
	ctx := context.Background()
	if err := s.CreateAccount(ctx, newAccount("a1", "alice", "alice@example.com"), pendingWithCodes("sealed")); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if err := s.PromotePendingSecret(ctx, "a1", 100); err != nil {
		t.Fatalf("PromotePendingSecret: %v", err)
	}
	if ok, _ := s.MarkTOTPCounter(ctx, "a1", 100); ok {
		t.Fatal("confirmation step accepted twice")
	}
	if ok, err := s.MarkTOTPCounter(ctx, "a1", 101); err != nil || !ok {
		t.Fatalf("fresh step rejected: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.MarkTOTPCounter(ctx, "a1", 99); ok {
		t.Fatal("older step accepted")
	}
}
