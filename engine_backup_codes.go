package go2fa

import (
	"context"
	"errors"
	"strconv"

	"github.com/MrEthical07/go2fa/store"
)

// RegenerateBackupCodes replaces every backup code of an ENABLED account
// with a fresh batch. A valid TOTP code is required; backup codes are not
// accepted here.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, p *Principal, totpCode string) ([]string, error) {
	if err := e.requirePrincipal(p); err != nil {
		return nil, err
	}

	secret, _, err := e.confirmedSecret(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}
	ok, err := e.verifyTOTP(ctx, p.AccountID, secret, totpCode)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metricInc(MetricBackupCodeFailed)
		return nil, ErrInvalidCode
	}

	codes, err := e.vault.Regenerate(ctx, p.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, e.unavailable("replace backup codes", err)
	}

	e.metricInc(MetricBackupCodesRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, p.AccountID, p.SessionID, nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(len(codes))}
	})
	return codes, nil
}
