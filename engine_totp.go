package go2fa

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MrEthical07/go2fa/store"
	"github.com/MrEthical07/go2fa/totp"
)

// Setup2FA generates a new pending secret and a new pending batch of
// backup codes. An already enabled secret, and the backup codes issued with
// it, keep working until Confirm2FA promotes the new ones.
func (e *Engine) Setup2FA(ctx context.Context, p *Principal) (*Enrollment, error) {
	if err := e.requirePrincipal(p); err != nil {
		return nil, err
	}
	acct, err := e.loadAccount(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}

	secret, err := totp.GenerateSecret()
	if err != nil {
		return nil, e.unavailable("generate secret", err)
	}
	codes, hashes, err := e.vault.Issue(acct.ID)
	if err != nil {
		return nil, e.unavailable("issue backup codes", err)
	}
	sealed, err := e.sealSecret(acct.ID, secret)
	if err != nil {
		return nil, e.unavailable("seal secret", err)
	}

	err = e.credentials.SavePendingSecret(ctx, acct.ID, &store.PendingSecret{
		Sealed:           sealed,
		BackupCodeHashes: hashes,
		CreatedAt:        e.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, e.unavailable("save pending secret", err)
	}

	enrollment, err := e.enrollment(acct, secret, codes)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricTOTPSetup)
	e.emitAudit(ctx, auditEventTOTPSetupRequested, true, acct.ID, p.SessionID, nil, nil)
	return enrollment, nil
}

// Confirm2FA accepts a TOTP code from the pending secret only and, on
// success, atomically makes that secret and its backup codes live and moves
// the account to ENABLED. Codes from a previously confirmed secret and
// backup codes are rejected.
func (e *Engine) Confirm2FA(ctx context.Context, p *Principal, code string) error {
	if err := e.requirePrincipal(p); err != nil {
		return err
	}

	pending, err := e.credentials.PendingSecret(ctx, p.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotConfigured
		}
		return e.unavailable("pending secret", err)
	}
	secret, err := e.openSecret(p.AccountID, pending.Sealed)
	if err != nil {
		return e.unavailable("open pending secret", err)
	}

	ok, counter, err := e.totp.Verify(secret, code, e.now())
	if err != nil {
		return e.unavailable("totp verify", err)
	}
	if !ok {
		e.emitAudit(ctx, auditEventTOTPConfirmFailure, false, p.AccountID, p.SessionID, ErrInvalidCode, nil)
		return ErrInvalidCode
	}

	if err := e.credentials.PromotePendingSecret(ctx, p.AccountID, counter); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Replaced or promoted by a concurrent call.
			return ErrNotConfigured
		}
		return e.unavailable("promote pending secret", err)
	}

	e.metricInc(MetricTOTPEnabled)
	e.emitAudit(ctx, auditEventTOTPEnabled, true, p.AccountID, p.SessionID, nil, nil)
	return nil
}

// Disable2FA turns the second factor off. It needs the account password and
// a current TOTP code (or an unused backup code). A wrong password is
// reported as ErrInvalidCredentials even when the code was also wrong, and
// it never records a TOTP step or spends a backup code. Otherwise a wrong
// code is ErrInvalidCode.
func (e *Engine) Disable2FA(ctx context.Context, p *Principal, code, pass string) error {
	if err := e.requirePrincipal(p); err != nil {
		return err
	}
	acct, err := e.loadAccount(ctx, p.AccountID)
	if err != nil {
		return err
	}
	secret, _, err := e.confirmedSecret(ctx, acct.ID)
	if err != nil {
		return err
	}

	passwordOK, err := e.passwordHash.Verify(pass, acct.PasswordHash)
	if err != nil {
		e.logger.Debug("password verify", zap.String("account_id", acct.ID), zap.Error(err))
	}
	if !passwordOK {
		// Stateless check: the replay counter is left untouched.
		_, _, _ = e.totp.Verify(secret, code, e.now())
		e.emitAudit(ctx, auditEventTOTPDisableFailure, false, acct.ID, p.SessionID, ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	codeOK, err := e.verifyTOTP(ctx, acct.ID, secret, code)
	if err != nil {
		return err
	}
	if !codeOK {
		if err := e.consumeBackupCode(ctx, acct.ID, code); err != nil {
			if errors.Is(err, ErrUnavailable) {
				return err
			}
			e.emitAudit(ctx, auditEventTOTPDisableFailure, false, acct.ID, p.SessionID, err, nil)
			return err
		}
	}

	if err := e.credentials.DisableTwoFactor(ctx, acct.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnauthorized
		}
		return e.unavailable("disable two factor", err)
	}

	e.metricInc(MetricTOTPDisabled)
	e.emitAudit(ctx, auditEventTOTPDisabled, true, acct.ID, p.SessionID, nil, nil)
	return nil
}

// Status2FA reports the second-factor configuration of the caller.
func (e *Engine) Status2FA(ctx context.Context, p *Principal) (*TwoFactorStatus, error) {
	if err := e.requirePrincipal(p); err != nil {
		return nil, err
	}
	acct, err := e.loadAccount(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}

	pendingSetup := acct.State == store.StatePendingSetup
	if !pendingSetup {
		_, err := e.credentials.PendingSecret(ctx, acct.ID)
		switch {
		case err == nil:
			pendingSetup = true
		case !errors.Is(err, store.ErrNotFound):
			return nil, e.unavailable("pending secret", err)
		}
	}

	remaining, err := e.vault.Remaining(ctx, acct.ID)
	if err != nil {
		return nil, e.unavailable("remaining backup codes", err)
	}

	return &TwoFactorStatus{
		Enabled:              acct.State == store.StateEnabled,
		State:                acct.State,
		PreferredMethod:      acct.PreferredMethod,
		SMSEnabled:           false,
		PendingSetup:         pendingSetup,
		BackupCodesRemaining: remaining,
	}, nil
}

// QRCode renders the provisioning QR code of the pending secret, or of the
// confirmed secret when no setup is in progress.
func (e *Engine) QRCode(ctx context.Context, p *Principal) ([]byte, error) {
	if err := e.requirePrincipal(p); err != nil {
		return nil, err
	}
	acct, err := e.loadAccount(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}

	var secret totp.Secret
	pending, err := e.credentials.PendingSecret(ctx, acct.ID)
	switch {
	case err == nil:
		secret, err = e.openSecret(acct.ID, pending.Sealed)
		if err != nil {
			return nil, e.unavailable("open pending secret", err)
		}
	case errors.Is(err, store.ErrNotFound):
		secret, _, err = e.confirmedSecret(ctx, acct.ID)
		if err != nil {
			return nil, err
		}
	default:
		return nil, e.unavailable("pending secret", err)
	}

	uri, err := e.totp.ProvisioningURI(accountLabel(acct), secret, e.config.TOTP.Issuer)
	if err != nil {
		return nil, e.unavailable("provisioning uri", err)
	}
	png, err := totp.QRCodePNG(uri, e.config.TOTP.QRSize)
	if err != nil {
		return nil, e.unavailable("render qr code", err)
	}
	return png, nil
}
