package go2fa

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/go2fa/backupcode"
	"github.com/MrEthical07/go2fa/internal"
	"github.com/MrEthical07/go2fa/internal/rate"
	"github.com/MrEthical07/go2fa/store"
)

// Login verifies a password. Accounts without an enabled second factor get
// a *FinalToken; ENABLED accounts get a *SecondFactorRequired whose
// temporary token must be passed to Verify2FA.
//
// Unknown handles and wrong passwords both return ErrInvalidCredentials
// after the same amount of hashing work.
func (e *Engine) Login(ctx context.Context, handle, pass string) (LoginOutcome, error) {
	if err := e.checkLoginThrottle(ctx, handle); err != nil {
		return nil, err
	}

	acct, err := e.verifyPassword(ctx, handle, pass)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", "", err, nil)
			e.recordLoginFailure(ctx, handle)
		}
		return nil, err
	}
	e.resetLoginThrottle(ctx, handle)

	if acct.State != store.StateEnabled {
		tok, err := e.issue(ctx, acct)
		if err != nil {
			return nil, err
		}
		e.metricInc(MetricLoginSuccess)
		e.emitAudit(ctx, auditEventLoginSuccess, true, acct.ID, "", nil, nil)
		return &FinalToken{Token: *tok}, nil
	}

	return e.beginSecondFactor(ctx, acct)
}

// LoginWith2FA runs Login and, when a second factor is required, Verify2FA
// with code in one call. code is ignored for accounts without 2FA.
func (e *Engine) LoginWith2FA(ctx context.Context, handle, pass, code string) (*Token, error) {
	outcome, err := e.Login(ctx, handle, pass)
	if err != nil {
		return nil, err
	}
	switch o := outcome.(type) {
	case *FinalToken:
		return &o.Token, nil
	case *SecondFactorRequired:
		return e.Verify2FA(ctx, o.TemporaryToken, code)
	}
	return nil, ErrUnavailable
}

// Verify2FA completes a login with a TOTP code or, failing that, a backup
// code. The temporary token is claimed atomically for the duration of the
// check, so concurrent submissions of one token cannot both succeed. A
// wrong code releases the claim and counts an attempt; once
// TemporaryToken.MaxAttempts is reached the token is gone. A successful
// verification burns the token.
func (e *Engine) Verify2FA(ctx context.Context, temporaryToken, code string) (*Token, error) {
	start := time.Now()
	defer func() { e.metrics.Observe(MetricVerifyLatency, time.Since(start)) }()

	key, err := internal.TemporaryTokenKey(strings.TrimSpace(temporaryToken))
	if err != nil {
		return nil, ErrTemporaryTokenNotFound
	}

	rec, err := e.tokens.ClaimTemporaryToken(ctx, key, e.now())
	if err != nil {
		return nil, e.temporaryTokenError(err)
	}

	acct, err := e.credentials.AccountByID(ctx, rec.AccountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTemporaryTokenNotFound
		}
		e.releaseTemporaryToken(ctx, key, rec.AccountID)
		return nil, e.unavailable("account by id", err)
	}

	method, err := e.checkSecondFactor(ctx, acct.ID, code)
	if err != nil {
		if errors.Is(err, ErrInvalidCode) || errors.Is(err, ErrUnavailable) {
			e.releaseTemporaryToken(ctx, key, acct.ID)
		}
		e.metricInc(MetricSecondFactorFailure)
		e.emitAudit(ctx, auditEventSecondFactorFailure, false, acct.ID, "", err, nil)
		return nil, err
	}

	tok, err := e.issue(ctx, acct)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSecondFactorSuccess)
	e.emitAudit(ctx, auditEventSecondFactorSuccess, true, acct.ID, "", nil, func() map[string]string {
		return map[string]string{"method": method}
	})
	return tok, nil
}

// checkSecondFactor tries code as a TOTP code against the confirmed secret
// and then as a backup code. It returns the method that matched.
func (e *Engine) checkSecondFactor(ctx context.Context, accountID, code string) (string, error) {
	secret, _, err := e.confirmedSecret(ctx, accountID)
	if err != nil {
		return "", err
	}

	ok, err := e.verifyTOTP(ctx, accountID, secret, code)
	if err != nil {
		return "", err
	}
	if ok {
		return MethodTOTP, nil
	}

	if err := e.consumeBackupCode(ctx, accountID, code); err != nil {
		return "", err
	}
	return "backup_code", nil
}

// consumeBackupCode redeems code or returns InvalidCode. When the account
// has no codes left the InvalidCode wraps ErrBackupCodesExhausted.
func (e *Engine) consumeBackupCode(ctx context.Context, accountID, code string) error {
	ok, err := e.vault.Consume(ctx, accountID, code)
	if err != nil {
		if errors.Is(err, backupcode.ErrExhausted) {
			e.metricInc(MetricBackupCodesExhausted)
			e.emitAudit(ctx, auditEventBackupCodesExhausted, false, accountID, "", ErrBackupCodesExhausted, nil)
			return invalidCode(ErrBackupCodesExhausted)
		}
		return e.unavailable("consume backup code", err)
	}
	if !ok {
		e.metricInc(MetricBackupCodeFailed)
		return ErrInvalidCode
	}

	e.metricInc(MetricBackupCodeUsed)
	e.emitAudit(ctx, auditEventBackupCodeUsed, true, accountID, "", nil, nil)
	return nil
}

func (e *Engine) beginSecondFactor(ctx context.Context, acct *store.Account) (*SecondFactorRequired, error) {
	token, key, err := internal.NewTemporaryToken()
	if err != nil {
		return nil, e.unavailable("generate temporary token", err)
	}

	now := e.now()
	rec := &store.TemporaryToken{
		AccountID: acct.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(e.config.TemporaryToken.TTL),
	}
	if err := e.tokens.SaveTemporaryToken(ctx, key, rec, e.config.TemporaryToken.Retention); err != nil {
		return nil, e.unavailable("save temporary token", err)
	}

	method := acct.PreferredMethod
	if method == "" {
		method = MethodTOTP
	}

	e.metricInc(MetricSecondFactorRequired)
	e.emitAudit(ctx, auditEventSecondFactorRequired, true, acct.ID, "", nil, nil)
	return &SecondFactorRequired{
		TemporaryToken:  token,
		ExpiresAt:       rec.ExpiresAt,
		PreferredMethod: method,
	}, nil
}

func (e *Engine) releaseTemporaryToken(ctx context.Context, key, accountID string) {
	burned, err := e.tokens.ReleaseTemporaryToken(ctx, key, e.config.TemporaryToken.MaxAttempts)
	if err != nil {
		// The token stays claimed and can no longer be used.
		e.logger.Warn("release temporary token", zap.String("account_id", accountID), zap.Error(err))
		return
	}
	if burned {
		e.metricInc(MetricTemporaryTokenAttemptsExceeded)
		e.emitAudit(ctx, auditEventTemporaryTokenBurned, false, accountID, "", nil, nil)
	}
}

func (e *Engine) temporaryTokenError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrTemporaryTokenNotFound
	case errors.Is(err, store.ErrTokenExpired):
		e.metricInc(MetricTemporaryTokenExpired)
		return ErrTemporaryTokenExpired
	case errors.Is(err, store.ErrTokenUsed):
		e.metricInc(MetricTemporaryTokenReused)
		return ErrTemporaryTokenReused
	}
	return e.unavailable("claim temporary token", err)
}

// checkLoginThrottle refuses handles or client IPs whose failure budget is
// spent. It is a no-op without Config.RateLimit.Enabled.
func (e *Engine) checkLoginThrottle(ctx context.Context, handle string) error {
	if e.limiter == nil {
		return nil
	}
	err := e.limiter.CheckLogin(ctx, handle, clientIPFromContext(ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		e.metricInc(MetricLoginRateLimited)
		e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrRateLimited, nil)
		return ErrRateLimited
	default:
		return e.unavailable("login throttle", err)
	}
}

// recordLoginFailure counts a wrong password. Errors are logged only; the
// caller already has its answer.
func (e *Engine) recordLoginFailure(ctx context.Context, handle string) {
	if e.limiter == nil {
		return
	}
	err := e.limiter.RecordLoginFailure(ctx, handle, clientIPFromContext(ctx))
	if err != nil && !errors.Is(err, rate.ErrRateLimited) {
		e.logger.Warn("login failure not counted", zap.Error(err))
	}
}

func (e *Engine) resetLoginThrottle(ctx context.Context, handle string) {
	if e.limiter == nil {
		return
	}
	if err := e.limiter.ResetLogin(ctx, handle); err != nil {
		e.logger.Warn("login throttle not reset", zap.Error(err))
	}
}

// verifyPassword resolves handle and checks pass against the stored hash,
// upgrading the hash when its parameters are outdated.
func (e *Engine) verifyPassword(ctx context.Context, handle, pass string) (*store.Account, error) {
	acct, err := e.accountByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_, _ = e.passwordHash.Verify(pass, e.dummyHash)
			return nil, ErrInvalidCredentials
		}
		return nil, e.unavailable("account by handle", err)
	}

	ok, err := e.passwordHash.Verify(pass, acct.PasswordHash)
	if err != nil || !ok {
		if err != nil {
			e.logger.Debug("password verify", zap.String("account_id", acct.ID), zap.Error(err))
		}
		return nil, ErrInvalidCredentials
	}

	if e.config.Password.UpgradeOnLogin {
		e.upgradePasswordHash(ctx, acct, pass)
	}
	return acct, nil
}

func (e *Engine) upgradePasswordHash(ctx context.Context, acct *store.Account, pass string) {
	needs, err := e.passwordHash.NeedsUpgrade(acct.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.passwordHash.Hash(pass)
	if err != nil {
		return
	}
	if err := e.credentials.UpdatePasswordHash(ctx, acct.ID, hash); err != nil {
		e.logger.Warn("password rehash not persisted", zap.String("account_id", acct.ID), zap.Error(err))
		return
	}
	acct.PasswordHash = hash
}

func (e *Engine) accountByHandle(ctx context.Context, handle string) (*store.Account, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, store.ErrNotFound
	}

	switch e.config.Login.Handles {
	case HandleUsername:
		return e.credentials.AccountByUsername(ctx, handle)
	case HandleEmail:
		return e.credentials.AccountByEmail(ctx, handle)
	}
	if strings.Contains(handle, "@") {
		return e.credentials.AccountByEmail(ctx, handle)
	}
	return e.credentials.AccountByUsername(ctx, handle)
}
