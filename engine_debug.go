package go2fa

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/go2fa/store"
	"github.com/MrEthical07/go2fa/totp"
)

// debugIntrospector lists accepted codes for troubleshooting clock drift.
// Verification never goes through it.
type debugIntrospector struct {
	totp    *totp.Generator
	secrets store.SecretStore
	open    func(accountID string, sealed []byte) (totp.Secret, error)
	now     func() time.Time
}

// report uses the confirmed secret, or the pending one while setup is in
// progress and nothing is confirmed yet.
func (d *debugIntrospector) report(ctx context.Context, accountID string) (*DebugReport, error) {
	sealed, state, err := d.sealedSecret(ctx, accountID)
	if err != nil {
		return nil, err
	}
	secret, err := d.open(accountID, sealed)
	if err != nil {
		return nil, fmt.Errorf("open secret: %w", err)
	}

	now := d.now()
	window, err := d.totp.Window(secret, now)
	if err != nil {
		return nil, err
	}

	cfg := d.totp.Config()
	return &DebugReport{
		ServerTime:  now.UTC(),
		Counter:     d.totp.Counter(now),
		Period:      cfg.Period,
		Skew:        cfg.Skew,
		SecretState: state,
		Window:      window,
	}, nil
}

func (d *debugIntrospector) sealedSecret(ctx context.Context, accountID string) ([]byte, string, error) {
	confirmed, err := d.secrets.ConfirmedSecret(ctx, accountID)
	if err == nil {
		return confirmed.Sealed, "confirmed", nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, "", err
	}

	pending, err := d.secrets.PendingSecret(ctx, accountID)
	if err != nil {
		return nil, "", err
	}
	return pending.Sealed, "pending", nil
}

// Debug2FA returns the server time, the current TOTP step and every code
// the verifier would accept right now for the caller's own secret.
func (e *Engine) Debug2FA(ctx context.Context, p *Principal) (*DebugReport, error) {
	if err := e.requirePrincipal(p); err != nil {
		return nil, err
	}

	report, err := e.debug.report(ctx, p.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotConfigured
		}
		return nil, e.unavailable("debug report", err)
	}

	e.emitAudit(ctx, auditEventDebugWindowInspected, true, p.AccountID, p.SessionID, nil, nil)
	return report, nil
}
