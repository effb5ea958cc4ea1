package go2fa

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/MrEthical07/go2fa/internal"
	"github.com/MrEthical07/go2fa/store"
)

const tokenTypeBearer = "bearer"

// issue opens a refresh session for acct and returns the first token pair
// of its chain.
func (e *Engine) issue(ctx context.Context, acct *store.Account) (*Token, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, e.unavailable("generate session id", err)
	}
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, e.unavailable("generate refresh secret", err)
	}

	now := e.now()
	sess := &store.RefreshSession{
		ID:         sid.String(),
		AccountID:  acct.ID,
		SecretHash: internal.HashRefreshSecret(secret),
		IssuedAt:   now,
		ExpiresAt:  now.Add(e.config.JWT.RefreshTTL),
	}
	if err := e.tokens.CreateRefreshSession(ctx, sess, e.config.JWT.RefreshRetention); err != nil {
		return nil, e.unavailable("create refresh session", err)
	}

	return e.tokenPair(sess, secret)
}

func (e *Engine) tokenPair(sess *store.RefreshSession, secret [32]byte) (*Token, error) {
	access, expiresAt, err := e.jwtManager.CreateAccess(sess.AccountID, sess.ID, e.now())
	if err != nil {
		return nil, e.unavailable("sign access token", err)
	}
	refresh, err := internal.EncodeRefreshToken(sess.ID, secret)
	if err != nil {
		return nil, e.unavailable("encode refresh token", err)
	}
	return &Token{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    e.jwtManager.AccessTTL(),
		ExpiresAt:    expiresAt,
	}, nil
}

// Refresh rotates a refresh token. Each refresh token is valid once:
// presenting a superseded one is treated as theft and revokes the whole
// session, after which every token of the chain fails.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	sid, presented, err := internal.DecodeRefreshToken(strings.TrimSpace(refreshToken))
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, ErrRefreshTokenInvalid
	}

	next, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, e.unavailable("generate refresh secret", err)
	}

	sess, err := e.tokens.RotateRefreshSession(ctx, sid,
		internal.HashRefreshSecret(presented), internal.HashRefreshSecret(next), e.now())
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sid, ErrRefreshTokenInvalid, nil)
			return nil, ErrRefreshTokenInvalid
		case errors.Is(err, store.ErrTokenExpired):
			e.metricInc(MetricRefreshFailure)
			return nil, ErrRefreshTokenExpired
		case errors.Is(err, store.ErrRefreshMismatch):
			e.metricInc(MetricRefreshReuseDetected)
			e.logger.Warn("refresh token reuse detected, session revoked", zap.String("session_id", sid))
			e.emitAudit(ctx, auditEventRefreshReuseDetected, false, "", sid, ErrRefreshTokenInvalid, nil)
			return nil, ErrRefreshTokenInvalid
		}
		return nil, e.unavailable("rotate refresh session", err)
	}

	tok, err := e.tokenPair(sess, next)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, sess.AccountID, sess.ID, nil, nil)
	return tok, nil
}

// Authenticate validates an access token and returns the Principal every
// authenticated operation requires. The token's refresh session must still
// exist, so Logout and reuse revocation take effect immediately.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	claims, err := e.jwtManager.ParseAccess(strings.TrimSpace(accessToken), e.now())
	if err != nil {
		return nil, ErrUnauthorized
	}

	sess, err := e.tokens.RefreshSession(ctx, claims.SID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, e.unavailable("refresh session", err)
	}
	if sess.AccountID != claims.Subject || !e.now().Before(sess.ExpiresAt) {
		return nil, ErrUnauthorized
	}

	acct, err := e.loadAccount(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}

	return &Principal{
		AccountID: acct.ID,
		SessionID: sess.ID,
		Username:  acct.Username,
		Email:     acct.Email,
		engine:    e,
	}, nil
}

// Logout revokes the caller's refresh session. Access tokens bound to it
// stop authenticating at once.
func (e *Engine) Logout(ctx context.Context, p *Principal) error {
	if err := e.requirePrincipal(p); err != nil {
		return err
	}
	if err := e.tokens.RevokeRefreshSession(ctx, p.SessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return e.unavailable("revoke refresh session", err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, p.AccountID, p.SessionID, nil, nil)
	return nil
}
