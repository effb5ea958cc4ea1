package go2fa

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/MrEthical07/go2fa/backupcode"
	"github.com/MrEthical07/go2fa/store"
	"github.com/MrEthical07/go2fa/totp"
)

func TestRegisterReturnsEnrollmentInPendingSetup(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	enrollment := env.register(t)

	if enrollment.AccountID == "" {
		t.Fatal("expected account id")
	}
	secret, err := totp.DecodeSecret(enrollment.Secret)
	if err != nil {
		t.Fatalf("secret does not decode: %v", err)
	}
	if len(secret) != totp.SecretSize {
		t.Fatalf("expected %d byte secret, got %d", totp.SecretSize, len(secret))
	}
	if !strings.HasPrefix(enrollment.ProvisioningURI, "otpauth://totp/") {
		t.Fatalf("unexpected provisioning uri %q", enrollment.ProvisioningURI)
	}
	if !strings.Contains(enrollment.ProvisioningURI, "secret="+enrollment.Secret) {
		t.Fatal("provisioning uri does not carry the secret")
	}
	if !bytes.HasPrefix(enrollment.QRCodePNG, []byte("\x89PNG")) {
		t.Fatal("expected PNG QR code")
	}
	if len(enrollment.BackupCodes) != backupcode.DefaultCount {
		t.Fatalf("expected %d backup codes, got %d", backupcode.DefaultCount, len(enrollment.BackupCodes))
	}
	for _, c := range enrollment.BackupCodes {
		if len(c) != backupcode.DefaultLength+1 || c[5] != '-' {
			t.Fatalf("unexpected backup code format %q", c)
		}
	}

	if got := env.state(t, enrollment.AccountID); got != store.StatePendingSetup {
		t.Fatalf("expected %s, got %s", store.StatePendingSetup, got)
	}
	if n, _ := env.store.RemainingBackupCodes(context.Background(), enrollment.AccountID); n != 0 {
		t.Fatalf("pending backup codes must not be live, got %d", n)
	}
}

func TestRegisterDuplicateUsernameOrEmail(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	env.register(t)

	_, err := env.engine.Register(context.Background(), RegisterRequest{
		Username: "ALICE",
		Password: testPassword,
	})
	requireKind(t, err, ErrDuplicateAccount)

	_, err = env.engine.Register(context.Background(), RegisterRequest{
		Username: "bob",
		Email:    "Alice@Example.com",
		Password: testPassword,
	})
	requireKind(t, err, ErrDuplicateAccount)
}

func TestRegisterRejectsMalformedInput(t *testing.T) {
	env := newTestEnv(t, testConfig(t))

	cases := map[string]RegisterRequest{
		"no handle":      {Password: testPassword},
		"at in username": {Username: "a@b", Password: testPassword},
		"bad email":      {Email: "not-an-email", Password: testPassword},
		"short password": {Username: "bob", Password: "short"},
		"unknown method": {Username: "bob", Password: testPassword, PreferredMethod: "pigeon"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := env.engine.Register(context.Background(), req)
			requireKind(t, err, ErrInvalidRequest)
		})
	}
}

func TestRegisterRecordsSMSPreference(t *testing.T) {
	env := newTestEnv(t, testConfig(t))

	enrollment, err := env.engine.Register(context.Background(), RegisterRequest{
		Username:        "carol",
		Password:        testPassword,
		PreferredMethod: "SMS",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	acct, err := env.store.AccountByID(context.Background(), enrollment.AccountID)
	if err != nil {
		t.Fatalf("AccountByID failed: %v", err)
	}
	if acct.PreferredMethod != MethodSMS {
		t.Fatalf("expected sms preference, got %q", acct.PreferredMethod)
	}
}

func TestRegisterThenConfirmEnablesSecondFactor(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	enrollment := env.register(t)

	// Before confirmation a password is enough.
	p := env.principal(t, env.finalLogin(t))
	if p.AccountID != enrollment.AccountID || p.Username != testUsername || p.Email != testEmail {
		t.Fatalf("unexpected principal %+v", p)
	}

	if err := env.engine.Confirm2FA(context.Background(), p, env.code(t, enrollment.Secret, 0)); err != nil {
		t.Fatalf("Confirm2FA failed: %v", err)
	}
	if got := env.state(t, enrollment.AccountID); got != store.StateEnabled {
		t.Fatalf("expected %s, got %s", store.StateEnabled, got)
	}
	if n, _ := env.store.RemainingBackupCodes(context.Background(), enrollment.AccountID); n != backupcode.DefaultCount {
		t.Fatalf("expected %d live backup codes, got %d", backupcode.DefaultCount, n)
	}

	sfr := env.challenge(t)
	if sfr.TemporaryToken == "" || sfr.PreferredMethod != MethodTOTP {
		t.Fatalf("unexpected challenge %+v", sfr)
	}
}

func TestSecretIsSealedAtRest(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	enrollment := env.register(t)

	pending, err := env.store.PendingSecret(context.Background(), enrollment.AccountID)
	if err != nil {
		t.Fatalf("PendingSecret failed: %v", err)
	}
	raw, _ := totp.DecodeSecret(enrollment.Secret)
	if bytes.Contains(pending.Sealed, raw) {
		t.Fatal("stored secret contains plaintext")
	}

	// Sealing is bound to the account id.
	if _, err := env.engine.openSecret("someone-else", pending.Sealed); err == nil {
		t.Fatal("expected open with a different account id to fail")
	}
}
