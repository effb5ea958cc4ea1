package go2fa

import (
	"context"
	"testing"
)

func TestDebug2FAWindowMatchesVerifier(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	enrollment := env.register(t)
	p := env.principal(t, env.finalLogin(t))

	report, err := env.engine.Debug2FA(context.Background(), p)
	if err != nil {
		t.Fatalf("Debug2FA failed: %v", err)
	}
	if report.SecretState != "pending" {
		t.Fatalf("expected pending secret, got %q", report.SecretState)
	}
	if len(report.Window) != 2*report.Skew+1 {
		t.Fatalf("expected %d window entries, got %d", 2*report.Skew+1, len(report.Window))
	}
	if !report.ServerTime.Equal(env.clock.Now()) {
		t.Fatalf("unexpected server time %v", report.ServerTime)
	}
	for i, w := range report.Window {
		if w.Offset != i-report.Skew || w.Counter != report.Counter+int64(w.Offset) {
			t.Fatalf("window entry %d out of order: %+v", i, w)
		}
		if w.Code != env.code(t, enrollment.Secret, w.Offset) {
			t.Fatalf("window code %d does not match the secret", i)
		}
	}

	// Every listed code is one the verifier accepts.
	if err := env.engine.Confirm2FA(context.Background(), p, report.Window[0].Code); err != nil {
		t.Fatalf("Confirm2FA rejected a window code: %v", err)
	}

	report, err = env.engine.Debug2FA(context.Background(), p)
	if err != nil {
		t.Fatalf("Debug2FA failed: %v", err)
	}
	if report.SecretState != "confirmed" {
		t.Fatalf("expected confirmed secret, got %q", report.SecretState)
	}
}

func TestDebug2FANotConfigured(t *testing.T) {
	env := newTestEnv(t, testConfig(t))
	enrollment, p := env.enabledAccount(t)

	if err := env.engine.Disable2FA(context.Background(), p, env.code(t, enrollment.Secret, 0), testPassword); err != nil {
		t.Fatalf("Disable2FA failed: %v", err)
	}
	_, err := env.engine.Debug2FA(context.Background(), p)
	requireKind(t, err, ErrNotConfigured)
}
