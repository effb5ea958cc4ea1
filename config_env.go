package go2fa

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/MrEthical07/go2fa/totp"
)

// envConfig mirrors the environment surface. Fields left unset keep the
// values of defaultConfig.
type envConfig struct {
	TOTPIssuer              string        `env:"GO2FA_TOTP_ISSUER"`
	TOTPDigits              int           `env:"GO2FA_TOTP_DIGITS"`
	TOTPPeriod              int           `env:"GO2FA_TOTP_PERIOD"`
	TOTPSkew                int           `env:"GO2FA_TOTP_SKEW"`
	TOTPAlgorithm           string        `env:"GO2FA_TOTP_ALGORITHM"`
	TOTPReplayProtection    bool          `env:"GO2FA_TOTP_REPLAY_PROTECTION"`
	BackupCodeCount         int           `env:"GO2FA_BACKUP_CODE_COUNT"`
	BackupCodeLength        int           `env:"GO2FA_BACKUP_CODE_LENGTH"`
	TemporaryTokenTTL       time.Duration `env:"GO2FA_TEMP_TOKEN_TTL"`
	TemporaryTokenRetention time.Duration `env:"GO2FA_TEMP_TOKEN_RETENTION"`
	TemporaryTokenAttempts  int           `env:"GO2FA_TEMP_TOKEN_MAX_ATTEMPTS"`

	AccessTTL        time.Duration `env:"GO2FA_JWT_ACCESS_TTL"`
	RefreshTTL       time.Duration `env:"GO2FA_JWT_REFRESH_TTL"`
	RefreshRetention time.Duration `env:"GO2FA_JWT_REFRESH_RETENTION"`
	SigningMethod    string        `env:"GO2FA_JWT_SIGNING_METHOD"`
	PrivateKey       string        `env:"GO2FA_JWT_PRIVATE_KEY,required"`
	PublicKey        string        `env:"GO2FA_JWT_PUBLIC_KEY"`
	Issuer           string        `env:"GO2FA_JWT_ISSUER"`
	Audience         string        `env:"GO2FA_JWT_AUDIENCE"`

	EncryptionKey    string `env:"GO2FA_ENCRYPTION_KEY,required"`
	BackupCodePepper string `env:"GO2FA_BACKUP_CODE_PEPPER,required"`

	LoginHandles string `env:"GO2FA_LOGIN_HANDLES"`

	RateLimitEnabled     bool          `env:"GO2FA_RATE_LIMIT_ENABLED"`
	RateLimitMaxFailures int           `env:"GO2FA_RATE_LIMIT_MAX_LOGIN_FAILURES"`
	RateLimitCooldown    time.Duration `env:"GO2FA_RATE_LIMIT_COOLDOWN"`
	RateLimitIP          bool          `env:"GO2FA_RATE_LIMIT_IP"`

	AuditEnabled   bool `env:"GO2FA_AUDIT_ENABLED"`
	MetricsEnabled bool `env:"GO2FA_METRICS_ENABLED"`
}

// LoadConfigFromEnv reads GO2FA_* variables on top of DefaultConfig. An
// optional .env file in the working directory is loaded first; existing
// variables take precedence over it. Keys are base64 encoded.
func LoadConfigFromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return configFromEnvironment(nil)
}

// configFromEnvironment parses vars, or the process environment when vars
// is nil.
func configFromEnvironment(vars map[string]string) (Config, error) {
	cfg := defaultConfig()

	ec := envConfig{
		TOTPIssuer:              cfg.TOTP.Issuer,
		TOTPDigits:              cfg.TOTP.Digits,
		TOTPPeriod:              cfg.TOTP.Period,
		TOTPSkew:                cfg.TOTP.Skew,
		TOTPAlgorithm:           string(cfg.TOTP.Algorithm),
		TOTPReplayProtection:    cfg.TOTP.EnforceReplayProtection,
		BackupCodeCount:         cfg.BackupCodes.Count,
		BackupCodeLength:        cfg.BackupCodes.Length,
		TemporaryTokenTTL:       cfg.TemporaryToken.TTL,
		TemporaryTokenRetention: cfg.TemporaryToken.Retention,
		TemporaryTokenAttempts:  cfg.TemporaryToken.MaxAttempts,
		AccessTTL:               cfg.JWT.AccessTTL,
		RefreshTTL:              cfg.JWT.RefreshTTL,
		RefreshRetention:        cfg.JWT.RefreshRetention,
		SigningMethod:           cfg.JWT.SigningMethod,
		Issuer:                  cfg.JWT.Issuer,
		LoginHandles:            string(cfg.Login.Handles),
		RateLimitEnabled:        cfg.RateLimit.Enabled,
		RateLimitMaxFailures:    cfg.RateLimit.MaxLoginFailures,
		RateLimitCooldown:       cfg.RateLimit.Cooldown,
		RateLimitIP:             cfg.RateLimit.EnableIPThrottle,
		AuditEnabled:            cfg.Audit.Enabled,
		MetricsEnabled:          cfg.Metrics.Enabled,
	}

	opts := env.Options{}
	if vars != nil {
		opts.Environment = vars
	}
	if err := env.ParseWithOptions(&ec, opts); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	cfg.TOTP.Issuer = ec.TOTPIssuer
	cfg.TOTP.Digits = ec.TOTPDigits
	cfg.TOTP.Period = ec.TOTPPeriod
	cfg.TOTP.Skew = ec.TOTPSkew
	cfg.TOTP.Algorithm = totp.Algorithm(strings.ToUpper(ec.TOTPAlgorithm))
	cfg.TOTP.EnforceReplayProtection = ec.TOTPReplayProtection
	cfg.BackupCodes.Count = ec.BackupCodeCount
	cfg.BackupCodes.Length = ec.BackupCodeLength
	cfg.TemporaryToken.TTL = ec.TemporaryTokenTTL
	cfg.TemporaryToken.Retention = ec.TemporaryTokenRetention
	cfg.TemporaryToken.MaxAttempts = ec.TemporaryTokenAttempts
	cfg.JWT.AccessTTL = ec.AccessTTL
	cfg.JWT.RefreshTTL = ec.RefreshTTL
	cfg.JWT.RefreshRetention = ec.RefreshRetention
	cfg.JWT.SigningMethod = strings.ToLower(ec.SigningMethod)
	cfg.JWT.Issuer = ec.Issuer
	cfg.JWT.Audience = ec.Audience
	cfg.Login.Handles = HandleKind(strings.ToLower(ec.LoginHandles))
	cfg.RateLimit.Enabled = ec.RateLimitEnabled
	cfg.RateLimit.MaxLoginFailures = ec.RateLimitMaxFailures
	cfg.RateLimit.Cooldown = ec.RateLimitCooldown
	cfg.RateLimit.EnableIPThrottle = ec.RateLimitIP
	cfg.Audit.Enabled = ec.AuditEnabled
	cfg.Metrics.Enabled = ec.MetricsEnabled

	var err error
	if cfg.JWT.PrivateKey, err = decodeKey("GO2FA_JWT_PRIVATE_KEY", ec.PrivateKey); err != nil {
		return Config{}, err
	}
	if ec.PublicKey != "" {
		if cfg.JWT.PublicKey, err = decodeKey("GO2FA_JWT_PUBLIC_KEY", ec.PublicKey); err != nil {
			return Config{}, err
		}
	}
	if cfg.Secrets.EncryptionKey, err = decodeKey("GO2FA_ENCRYPTION_KEY", ec.EncryptionKey); err != nil {
		return Config{}, err
	}
	if cfg.Secrets.BackupCodePepper, err = decodeKey("GO2FA_BACKUP_CODE_PEPPER", ec.BackupCodePepper); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeKey(name, value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(value); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%s must be base64", name)
}
