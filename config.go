package go2fa

import (
	"errors"
	"time"

	"github.com/MrEthical07/go2fa/backupcode"
	"github.com/MrEthical07/go2fa/totp"
)

// Config holds every tunable of the Engine. Start from DefaultConfig and
// fill in key material.
type Config struct {
	TOTP           TOTPConfig
	BackupCodes    BackupCodeConfig
	TemporaryToken TemporaryTokenConfig
	JWT            JWTConfig
	Password       PasswordConfig
	Secrets        SecretsConfig
	Login          LoginConfig
	RateLimit      RateLimitConfig
	Audit          AuditConfig
	Metrics        MetricsConfig
}

/*
====================================
TOTP CONFIG
====================================
*/

// TOTPConfig controls code derivation and the verification window.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int // seconds
	Skew      int // steps accepted on either side of the current one
	Algorithm totp.Algorithm
	QRSize    int
	// EnforceReplayProtection rejects a TOTP step that was already accepted
	// for the account.
	EnforceReplayProtection bool
}

/*
====================================
BACKUP CODE CONFIG
====================================
*/

// BackupCodeConfig sets the size and shape of a backup-code batch.
type BackupCodeConfig struct {
	Count  int
	Length int
}

/*
====================================
TEMPORARY TOKEN CONFIG
====================================
*/

// TemporaryTokenConfig governs the token bridging password and code.
type TemporaryTokenConfig struct {
	TTL time.Duration
	// Retention keeps expired or used tokens long enough to report them as
	// such instead of as unknown.
	Retention   time.Duration
	MaxAttempts int
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures access and refresh tokens.
type JWTConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// RefreshRetention keeps expired refresh sessions so a late refresh is
	// reported as expired instead of invalid.
	RefreshRetention time.Duration
	SigningMethod    string // "ed25519" (default), "hs256" optional
	PrivateKey       []byte
	PublicKey        []byte
	Issuer           string
	Audience         string
	Leeway           time.Duration
	KeyID            string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id parameters.
type PasswordConfig struct {
	Memory           uint32 // in KB
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MinPasswordBytes int
	MaxPasswordBytes int
	UpgradeOnLogin   bool
}

/*
====================================
SECRETS CONFIG
====================================
*/

// SecretsConfig holds server-side keys. EncryptionKey seals TOTP secrets at
// rest; BackupCodePepper keys backup-code digests.
type SecretsConfig struct {
	EncryptionKey    []byte
	BackupCodePepper []byte
}

/*
====================================
LOGIN CONFIG
====================================
*/

// HandleKind selects which account fields are accepted as a login handle.
type HandleKind string

const (
	HandleUsername HandleKind = "username"
	HandleEmail    HandleKind = "email"
	HandleAny      HandleKind = "any"
)

// LoginConfig controls handle resolution.
type LoginConfig struct {
	Handles HandleKind
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig throttles password attempts with fixed-window Redis
// counters. Enabling it requires a Redis client on the Builder.
type RateLimitConfig struct {
	Enabled          bool
	MaxLoginFailures int
	Cooldown         time.Duration
	EnableIPThrottle bool
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig configures the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns a Config with every protocol default set and no
// key material.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		TOTP: TOTPConfig{
			Issuer:    "go2fa",
			Digits:    totp.DefaultDigits,
			Period:    totp.DefaultPeriod,
			Skew:      totp.DefaultSkew,
			Algorithm: totp.AlgorithmSHA1,
			QRSize:    totp.DefaultQRSize,
		},
		BackupCodes: BackupCodeConfig{
			Count:  backupcode.DefaultCount,
			Length: backupcode.DefaultLength,
		},
		TemporaryToken: TemporaryTokenConfig{
			TTL:         5 * time.Minute,
			Retention:   10 * time.Minute,
			MaxAttempts: 5,
		},
		JWT: JWTConfig{
			AccessTTL:        15 * time.Minute,
			RefreshTTL:       7 * 24 * time.Hour,
			RefreshRetention: 24 * time.Hour,
			SigningMethod:    "ed25519",
			Issuer:           "go2fa",
		},
		Password: PasswordConfig{
			Memory:           65536,
			Time:             3,
			Parallelism:      2,
			SaltLength:       16,
			KeyLength:        32,
			MinPasswordBytes: 10,
			MaxPasswordBytes: 1024,
			UpgradeOnLogin:   true,
		},
		Login: LoginConfig{
			Handles: HandleAny,
		},
		RateLimit: RateLimitConfig{
			Enabled:          false,
			MaxLoginFailures: 10,
			Cooldown:         15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Secrets.EncryptionKey = cloneBytes(cfg.Secrets.EncryptionKey)
	out.Secrets.BackupCodePepper = cloneBytes(cfg.Secrets.BackupCodePepper)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks cross-field rules. Component constructors re-check their
// own inputs during Build.
func (c *Config) Validate() error {
	// TOTP
	if c.TOTP.Issuer == "" {
		return errors.New("TOTP Issuer must be set")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 10 {
		return errors.New("TOTP Skew must be between 0 and 10")
	}
	if c.TOTP.QRSize < 64 || c.TOTP.QRSize > 1024 {
		return errors.New("TOTP QRSize must be between 64 and 1024")
	}

	// Backup codes
	if c.BackupCodes.Count < 1 || c.BackupCodes.Count > 50 {
		return errors.New("BackupCodes Count must be between 1 and 50")
	}
	if c.BackupCodes.Length < 8 || c.BackupCodes.Length > 32 {
		return errors.New("BackupCodes Length must be between 8 and 32")
	}

	// Temporary token
	if c.TemporaryToken.TTL <= 0 {
		return errors.New("TemporaryToken TTL must be > 0")
	}
	if c.TemporaryToken.TTL > time.Hour {
		return errors.New("TemporaryToken TTL must be <= 1h")
	}
	if c.TemporaryToken.Retention < 0 {
		return errors.New("TemporaryToken Retention must be >= 0")
	}
	if c.JWT.RefreshRetention < 0 {
		return errors.New("JWT RefreshRetention must be >= 0")
	}
	if c.TemporaryToken.MaxAttempts < 1 {
		return errors.New("TemporaryToken MaxAttempts must be >= 1")
	}

	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.AccessTTL >= c.JWT.RefreshTTL {
		return errors.New("JWT AccessTTL must be < RefreshTTL")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if len(c.JWT.PrivateKey) == 0 {
		return errors.New("JWT PrivateKey must be set")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MinPasswordBytes < 1 || c.Password.MaxPasswordBytes < c.Password.MinPasswordBytes {
		return errors.New("Password length bounds are invalid")
	}

	// Secrets
	if len(c.Secrets.EncryptionKey) != 32 {
		return errors.New("Secrets EncryptionKey must be 32 bytes")
	}
	if len(c.Secrets.BackupCodePepper) < 16 {
		return errors.New("Secrets BackupCodePepper must be >= 16 bytes")
	}

	// Login
	switch c.Login.Handles {
	case HandleUsername, HandleEmail, HandleAny:
	default:
		return errors.New("Login Handles must be 'username', 'email' or 'any'")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if c.RateLimit.MaxLoginFailures < 1 {
			return errors.New("RateLimit MaxLoginFailures must be >= 1")
		}
		if c.RateLimit.Cooldown <= 0 {
			return errors.New("RateLimit Cooldown must be > 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}
