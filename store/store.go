package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a username or email is already taken.
	ErrDuplicate = errors.New("store: duplicate account")
	// ErrTokenExpired is returned when a temporary token or refresh session is past its expiry.
	ErrTokenExpired = errors.New("store: token expired")
	// ErrTokenUsed is returned when a temporary token has already been claimed.
	ErrTokenUsed = errors.New("store: token already used")
	// ErrRefreshMismatch is returned when a refresh secret does not match the
	// current one. The session has been revoked when this is returned.
	ErrRefreshMismatch = errors.New("store: refresh secret mismatch")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// TwoFactorState is the persisted second-factor state of an account.
type TwoFactorState string

const (
	// StateNone means no second factor is configured.
	StateNone TwoFactorState = "NO_2FA"
	// StatePendingSetup means a secret was generated but never confirmed.
	StatePendingSetup TwoFactorState = "PENDING_SETUP"
	// StateEnabled means a confirmed secret exists and logins require a code.
	StateEnabled TwoFactorState = "ENABLED"
)

// Valid reports whether s is one of the known states.
func (s TwoFactorState) Valid() bool {
	switch s {
	case StateNone, StatePendingSetup, StateEnabled:
		return true
	}
	return false
}

// Account is the persisted identity.
type Account struct {
	ID              string
	Username        string
	Email           string
	PasswordHash    string
	State           TwoFactorState
	PreferredMethod string
	Version         uint32
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PendingSecret is a sealed secret awaiting confirmation together with the
// backup-code digests that become live when it is promoted.
type PendingSecret struct {
	Sealed           []byte
	BackupCodeHashes [][]byte
	CreatedAt        time.Time
}

// ConfirmedSecret is the live sealed secret of an ENABLED account.
// LastCounter is the highest TOTP step accepted so far, or -1.
type ConfirmedSecret struct {
	Sealed      []byte
	LastCounter int64
	ConfirmedAt time.Time
}

// TemporaryToken bridges password verification and second-factor
// verification. It is keyed by a digest of the opaque token.
type TemporaryToken struct {
	AccountID string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Attempts  int
	Used      bool
}

// RefreshSession is the server side of a refresh token chain.
type RefreshSession struct {
	ID         string
	AccountID  string
	SecretHash [32]byte
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// AccountStore persists accounts.
type AccountStore interface {
	// CreateAccount inserts acct and its pending secret in one step.
	// Returns ErrDuplicate when the username or email is taken.
	CreateAccount(ctx context.Context, acct *Account, pending *PendingSecret) error
	AccountByID(ctx context.Context, id string) (*Account, error)
	AccountByUsername(ctx context.Context, username string) (*Account, error)
	AccountByEmail(ctx context.Context, email string) (*Account, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// SecretStore persists pending and confirmed TOTP secrets.
type SecretStore interface {
	// SavePendingSecret replaces any pending secret. An account in StateNone
	// moves to StatePendingSetup; an ENABLED account stays ENABLED.
	SavePendingSecret(ctx context.Context, accountID string, pending *PendingSecret) error
	PendingSecret(ctx context.Context, accountID string) (*PendingSecret, error)
	ConfirmedSecret(ctx context.Context, accountID string) (*ConfirmedSecret, error)
	// PromotePendingSecret atomically replaces the confirmed secret with the
	// pending one, replaces the active backup codes with the pending digests,
	// records counter as the last accepted step and sets StateEnabled.
	PromotePendingSecret(ctx context.Context, accountID string, counter int64) error
	// DisableTwoFactor removes both secrets and every backup code and sets StateNone.
	DisableTwoFactor(ctx context.Context, accountID string) error
	// MarkTOTPCounter records counter as used if it is greater than the last
	// accepted step. It returns false when the step was already used.
	MarkTOTPCounter(ctx context.Context, accountID string, counter int64) (bool, error)
}

// BackupCodeStore persists backup-code digests.
type BackupCodeStore interface {
	ReplaceBackupCodes(ctx context.Context, accountID string, hashes [][]byte) error
	// ConsumeBackupCode marks an unconsumed code with the given digest as
	// consumed and reports whether one was found.
	ConsumeBackupCode(ctx context.Context, accountID string, hash []byte) (bool, error)
	RemainingBackupCodes(ctx context.Context, accountID string) (int, error)
}

// CredentialStore is the durable half of the boundary.
type CredentialStore interface {
	AccountStore
	SecretStore
	BackupCodeStore
}

// TemporaryTokenStore persists second-factor login tokens.
type TemporaryTokenStore interface {
	// SaveTemporaryToken stores rec under key. The record is retained for
	// retention after its expiry so that expired and reused tokens can be
	// told apart from unknown ones.
	SaveTemporaryToken(ctx context.Context, key string, rec *TemporaryToken, retention time.Duration) error
	// ClaimTemporaryToken marks the token as used and returns it. It fails
	// with ErrNotFound, ErrTokenExpired or ErrTokenUsed.
	ClaimTemporaryToken(ctx context.Context, key string, now time.Time) (*TemporaryToken, error)
	// ReleaseTemporaryToken records a failed attempt on a claimed token. If
	// attempts reach maxAttempts the token is deleted and true is returned;
	// otherwise it becomes claimable again.
	ReleaseTemporaryToken(ctx context.Context, key string, maxAttempts int) (bool, error)
}

// RefreshSessionStore persists refresh sessions.
type RefreshSessionStore interface {
	// CreateRefreshSession stores sess. The record is retained for retention
	// after ExpiresAt so that late refreshes are reported as expired.
	CreateRefreshSession(ctx context.Context, sess *RefreshSession, retention time.Duration) error
	RefreshSession(ctx context.Context, id string) (*RefreshSession, error)
	// RotateRefreshSession swaps the stored secret digest from presented to
	// next. A mismatch revokes the session and returns ErrRefreshMismatch.
	RotateRefreshSession(ctx context.Context, id string, presented, next [32]byte, now time.Time) (*RefreshSession, error)
	RevokeRefreshSession(ctx context.Context, id string) error
}

// TokenStore is the short-lived half of the boundary.
type TokenStore interface {
	TemporaryTokenStore
	RefreshSessionStore
}
