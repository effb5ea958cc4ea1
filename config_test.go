package go2fa

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigNeedsOnlyKeys(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected default config without keys to fail")
	}

	cfg = testConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"access ttl not below refresh": func(c *Config) { c.JWT.AccessTTL = c.JWT.RefreshTTL },
		"unknown signing method":       func(c *Config) { c.JWT.SigningMethod = "rs256" },
		"digits":                       func(c *Config) { c.TOTP.Digits = 7 },
		"skew":                         func(c *Config) { c.TOTP.Skew = 11 },
		"backup count":                 func(c *Config) { c.BackupCodes.Count = 0 },
		"backup length":                func(c *Config) { c.BackupCodes.Length = 4 },
		"temp ttl":                     func(c *Config) { c.TemporaryToken.TTL = 0 },
		"refresh retention":            func(c *Config) { c.JWT.RefreshRetention = -time.Second },
		"max attempts":                 func(c *Config) { c.TemporaryToken.MaxAttempts = 0 },
		"encryption key":               func(c *Config) { c.Secrets.EncryptionKey = []byte("short") },
		"pepper":                       func(c *Config) { c.Secrets.BackupCodePepper = nil },
		"handles":                      func(c *Config) { c.Login.Handles = "phone" },
		"argon memory":                 func(c *Config) { c.Password.Memory = 1024 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t)
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestCloneConfigCopiesKeys(t *testing.T) {
	cfg := testConfig(t)
	cp := cloneConfig(cfg)
	cp.Secrets.EncryptionKey[0] ^= 0xff
	if cfg.Secrets.EncryptionKey[0] == cp.Secrets.EncryptionKey[0] {
		t.Fatal("clone shares key memory")
	}
}

func TestConfigFromEnvironment(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(randomBytes(t, 32))
	vars := map[string]string{
		"GO2FA_JWT_PRIVATE_KEY":       base64.RawURLEncoding.EncodeToString(randomBytes(t, 32)),
		"GO2FA_ENCRYPTION_KEY":        key,
		"GO2FA_BACKUP_CODE_PEPPER":    key,
		"GO2FA_TOTP_SKEW":             "1",
		"GO2FA_TEMP_TOKEN_TTL":        "2m",
		"GO2FA_LOGIN_HANDLES":         "EMAIL",
		"GO2FA_BACKUP_CODE_COUNT":     "12",
		"GO2FA_JWT_SIGNING_METHOD":    "ED25519",
		"GO2FA_TOTP_ALGORITHM":        "sha256",
		"GO2FA_METRICS_ENABLED":       "true",
		"GO2FA_JWT_REFRESH_RETENTION": "1h",
	}

	cfg, err := configFromEnvironment(vars)
	if err != nil {
		t.Fatalf("configFromEnvironment failed: %v", err)
	}
	if cfg.TOTP.Skew != 1 || cfg.TemporaryToken.TTL != 2*time.Minute || cfg.Login.Handles != HandleEmail {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.BackupCodes.Count != 12 || cfg.JWT.SigningMethod != "ed25519" || cfg.TOTP.Algorithm != "SHA256" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if !cfg.Metrics.Enabled {
		t.Fatal("expected metrics enabled")
	}
	if cfg.JWT.RefreshRetention != time.Hour {
		t.Fatalf("refresh retention not applied: %v", cfg.JWT.RefreshRetention)
	}
	// Unset variables keep their defaults.
	if cfg.JWT.AccessTTL != 15*time.Minute || cfg.TemporaryToken.MaxAttempts != 5 {
		t.Fatalf("defaults lost: %+v", cfg.JWT)
	}
}

func TestConfigFromEnvironmentErrors(t *testing.T) {
	if _, err := configFromEnvironment(map[string]string{}); err == nil {
		t.Fatal("expected missing required keys to fail")
	}

	_, err := configFromEnvironment(map[string]string{
		"GO2FA_JWT_PRIVATE_KEY":    "!!!",
		"GO2FA_ENCRYPTION_KEY":     "x",
		"GO2FA_BACKUP_CODE_PEPPER": "x",
	})
	if err == nil || !strings.Contains(err.Error(), "GO2FA_JWT_PRIVATE_KEY") {
		t.Fatalf("expected key decode error, got %v", err)
	}
}
