package go2fa

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/go2fa/backupcode"
	"github.com/MrEthical07/go2fa/internal/audit"
	"github.com/MrEthical07/go2fa/internal/rate"
	"github.com/MrEthical07/go2fa/jwt"
	"github.com/MrEthical07/go2fa/password"
	"github.com/MrEthical07/go2fa/secretbox"
	"github.com/MrEthical07/go2fa/store"
	"github.com/MrEthical07/go2fa/store/redisstore"
	"github.com/MrEthical07/go2fa/totp"
)

// dummyPassword is hashed once per Engine so that logins for unknown handles
// spend the same Argon2 time as real ones.
const dummyPassword = "go2fa-unknown-account-placeholder"

// Builder assembles an Engine.
//
// Builder instances are intended to be configured during initialization and
// then discarded; Build may only be called once.
type Builder struct {
	config      Config
	credentials store.CredentialStore
	tokens      store.TokenStore
	rateRedis   redis.UniversalClient
	logger      *zap.Logger
	auditSink   AuditSink
	now         func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. cfg is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithCredentialStore sets the durable store for accounts, secrets and
// backup codes.
func (b *Builder) WithCredentialStore(s store.CredentialStore) *Builder {
	b.credentials = s
	return b
}

// WithTokenStore sets the store for temporary tokens and refresh sessions.
func (b *Builder) WithTokenStore(s store.TokenStore) *Builder {
	b.tokens = s
	return b
}

// WithRedis is shorthand for WithTokenStore(redisstore.New(client,
// redisstore.DefaultPrefix)). The same client backs the login throttle when
// Config.RateLimit.Enabled is set.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.rateRedis = client
	if client == nil {
		b.tokens = nil
		return b
	}
	b.tokens = redisstore.New(client, redisstore.DefaultPrefix)
	return b
}

// WithRateLimitRedis sets the client for the login throttle without
// changing the token store.
func (b *Builder) WithRateLimitRedis(client redis.UniversalClient) *Builder {
	b.rateRedis = client
	return b
}

// WithLogger sets the operational logger. Defaults to zap.NewNop().
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets where audit events go when Config.Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides time.Now. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build validates the configuration, constructs every component and returns
// an error when any of them rejects its settings. A Builder can be built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.credentials == nil {
		return nil, errors.New("credential store required")
	}
	if b.tokens == nil {
		return nil, errors.New("token store required")
	}
	if cfg.RateLimit.Enabled && b.rateRedis == nil {
		return nil, errors.New("rate limiting requires a redis client")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- PASSWORD --------
	ph, err := password.NewArgon2(password.Config{
		Memory:           cfg.Password.Memory,
		Time:             cfg.Password.Time,
		Parallelism:      cfg.Password.Parallelism,
		SaltLength:       cfg.Password.SaltLength,
		KeyLength:        cfg.Password.KeyLength,
		MinPasswordBytes: cfg.Password.MinPasswordBytes,
		MaxPasswordBytes: cfg.Password.MaxPasswordBytes,
	})
	if err != nil {
		return nil, err
	}
	dummyHash, err := ph.Hash(dummyPassword)
	if err != nil {
		return nil, err
	}

	// -------- TOTP --------
	gen, err := totp.New(totp.Config{
		Issuer:    cfg.TOTP.Issuer,
		Digits:    cfg.TOTP.Digits,
		Period:    cfg.TOTP.Period,
		Skew:      cfg.TOTP.Skew,
		Algorithm: cfg.TOTP.Algorithm,
	})
	if err != nil {
		return nil, err
	}

	box, err := secretbox.New(cfg.Secrets.EncryptionKey)
	if err != nil {
		return nil, err
	}

	// -------- BACKUP CODES --------
	vault, err := backupcode.NewVault(b.credentials, backupcode.Config{
		Count:  cfg.BackupCodes.Count,
		Length: cfg.BackupCodes.Length,
		Pepper: cloneBytes(cfg.Secrets.BackupCodePepper),
	})
	if err != nil {
		return nil, err
	}

	// -------- JWT --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:       cfg,
		credentials:  b.credentials,
		tokens:       b.tokens,
		passwordHash: ph,
		dummyHash:    dummyHash,
		totp:         gen,
		box:          box,
		vault:        vault,
		jwtManager:   jm,
		logger:       logger.Named("go2fa"),
		now:          now,
	}
	engine.debug = &debugIntrospector{
		totp:    gen,
		secrets: b.credentials,
		open:    engine.openSecret,
		now:     now,
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	// -------- RATE LIMIT --------
	if cfg.RateLimit.Enabled {
		engine.limiter = rate.New(b.rateRedis, rate.Config{
			MaxLoginFailures: cfg.RateLimit.MaxLoginFailures,
			Cooldown:         cfg.RateLimit.Cooldown,
			EnableIPThrottle: cfg.RateLimit.EnableIPThrottle,
			Prefix:           redisstore.DefaultPrefix,
		})
	}

	b.built = true

	return engine, nil
}
