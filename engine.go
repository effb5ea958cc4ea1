package go2fa

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MrEthical07/go2fa/backupcode"
	"github.com/MrEthical07/go2fa/internal/audit"
	"github.com/MrEthical07/go2fa/internal/rate"
	"github.com/MrEthical07/go2fa/jwt"
	"github.com/MrEthical07/go2fa/password"
	"github.com/MrEthical07/go2fa/secretbox"
	"github.com/MrEthical07/go2fa/store"
	"github.com/MrEthical07/go2fa/totp"
)

// Engine runs the two-factor session protocol.
//
// Engine instances are built once through Builder and are safe for
// concurrent use. All state lives in the configured stores.
type Engine struct {
	config       Config
	credentials  store.CredentialStore
	tokens       store.TokenStore
	passwordHash *password.Argon2
	dummyHash    string
	totp         *totp.Generator
	box          *secretbox.Box
	vault        *backupcode.Vault
	jwtManager   *jwt.Manager
	debug        *debugIntrospector
	audit        *audit.Dispatcher
	limiter      *rate.Limiter
	metrics      *Metrics
	logger       *zap.Logger
	now          func() time.Time
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were dropped because the
// dispatcher buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine's counters and
// histograms. The maps are empty when metrics are disabled.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// requirePrincipal rejects principals that were not produced by this
// Engine's Authenticate.
func (e *Engine) requirePrincipal(p *Principal) error {
	if p == nil || p.engine != e || p.AccountID == "" {
		return ErrUnauthorized
	}
	return nil
}

// unavailable logs a backend failure and hides it behind KindUnavailable.
func (e *Engine) unavailable(op string, err error) error {
	e.metricInc(MetricBackendUnavailable)
	e.logger.Error("backend operation failed", zap.String("op", op), zap.Error(err))
	return newError(KindUnavailable, ErrUnavailable.Message, err)
}

func (e *Engine) sealSecret(accountID string, secret totp.Secret) ([]byte, error) {
	return e.box.Seal(secret, []byte(accountID))
}

func (e *Engine) openSecret(accountID string, sealed []byte) (totp.Secret, error) {
	plain, err := e.box.Open(sealed, []byte(accountID))
	if err != nil {
		return nil, err
	}
	return totp.Secret(plain), nil
}

// loadAccount resolves a principal's account. A vanished account means the
// principal is stale.
func (e *Engine) loadAccount(ctx context.Context, accountID string) (*store.Account, error) {
	acct, err := e.credentials.AccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, e.unavailable("account by id", err)
	}
	return acct, nil
}

// confirmedSecret returns the live secret of acct, or ErrNotConfigured.
func (e *Engine) confirmedSecret(ctx context.Context, accountID string) (totp.Secret, *store.ConfirmedSecret, error) {
	rec, err := e.credentials.ConfirmedSecret(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, ErrNotConfigured
		}
		return nil, nil, e.unavailable("confirmed secret", err)
	}
	secret, err := e.openSecret(accountID, rec.Sealed)
	if err != nil {
		return nil, nil, e.unavailable("open confirmed secret", err)
	}
	return secret, rec, nil
}

// verifyTOTP checks code against secret and, when replay protection is on,
// records the matched step. A step that was already accepted is InvalidCode.
func (e *Engine) verifyTOTP(ctx context.Context, accountID string, secret totp.Secret, code string) (bool, error) {
	ok, counter, err := e.totp.Verify(secret, code, e.now())
	if err != nil {
		return false, e.unavailable("totp verify", err)
	}
	if !ok {
		return false, nil
	}
	if !e.config.TOTP.EnforceReplayProtection {
		return true, nil
	}

	fresh, err := e.credentials.MarkTOTPCounter(ctx, accountID, counter)
	if err != nil {
		return false, e.unavailable("mark totp counter", err)
	}
	if !fresh {
		e.metricInc(MetricTOTPReplayRejected)
		e.emitAudit(ctx, auditEventTOTPReplayRejected, false, accountID, "", ErrInvalidCode, nil)
		return false, nil
	}
	return true, nil
}
