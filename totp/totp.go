package totp

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"strings"
	"time"
)

// Algorithm names the HMAC hash used for code derivation.
type Algorithm string

const (
	// AlgorithmSHA1 is the RFC 6238 default and the only algorithm every
	// authenticator app supports.
	AlgorithmSHA1 Algorithm = "SHA1"
	// AlgorithmSHA256 selects HMAC-SHA256.
	AlgorithmSHA256 Algorithm = "SHA256"
	// AlgorithmSHA512 selects HMAC-SHA512.
	AlgorithmSHA512 Algorithm = "SHA512"
)

const (
	// DefaultDigits is the code width.
	DefaultDigits = 6
	// DefaultPeriod is the time step in seconds.
	DefaultPeriod = 30
	// DefaultSkew accepts two steps either side of now (about a minute).
	DefaultSkew = 2
)

// Config controls code derivation. Zero values fall back to the defaults above.
type Config struct {
	Issuer    string
	Digits    int
	Period    int
	Skew      int
	Algorithm Algorithm
}

// Generator derives and verifies codes for one Config. It holds no mutable
// state and is safe for concurrent use.
type Generator struct {
	config Config
	hash   func() hash.Hash
	mod    uint32
}

// WindowCode is one entry of a tolerance window.
type WindowCode struct {
	Offset  int    `json:"offset"`
	Counter int64  `json:"counter"`
	Code    string `json:"code"`
}

// New validates cfg and returns a Generator.
func New(cfg Config) (*Generator, error) {
	if cfg.Digits == 0 {
		cfg.Digits = DefaultDigits
	}
	if cfg.Period == 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmSHA1
	}
	cfg.Algorithm = Algorithm(strings.ToUpper(string(cfg.Algorithm)))

	if cfg.Digits < 6 || cfg.Digits > 8 {
		return nil, errors.New("totp: digits must be between 6 and 8")
	}
	if cfg.Period <= 0 {
		return nil, errors.New("totp: period must be > 0")
	}
	if cfg.Skew < 0 || cfg.Skew > 10 {
		return nil, errors.New("totp: skew must be between 0 and 10")
	}

	hf, err := hmacFunc(cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	mod := uint32(1)
	for i := 0; i < cfg.Digits; i++ {
		mod *= 10
	}

	return &Generator{config: cfg, hash: hf, mod: mod}, nil
}

// Config returns the normalized configuration.
func (g *Generator) Config() Config {
	return g.config
}

// Counter returns the time-step index floor(unix / period) for t.
func (g *Generator) Counter(t time.Time) int64 {
	unix := t.Unix()
	period := int64(g.config.Period)
	step := unix / period
	if unix < 0 && unix%period != 0 {
		step--
	}
	return step
}

// CodeAt derives the zero-padded code for a counter (RFC 4226 HOTP).
func (g *Generator) CodeAt(secret Secret, counter int64) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(g.hash, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	return fmt.Sprintf("%0*d", g.config.Digits, bin%g.mod), nil
}

// Now returns the code for the step containing t.
func (g *Generator) Now(secret Secret, t time.Time) (string, error) {
	return g.CodeAt(secret, g.Counter(t))
}

// Verify reports whether code matches any step in [now-skew, now+skew] and
// which counter matched. Every candidate is derived and compared in constant
// time; the loop never exits early on a match.
func (g *Generator) Verify(secret Secret, code string, now time.Time) (bool, int64, error) {
	if len(secret) == 0 {
		return false, 0, ErrEmptySecret
	}

	submitted := []byte(strings.TrimSpace(code))
	if len(submitted) != g.config.Digits || !isDigits(submitted) {
		return false, 0, nil
	}

	base := g.Counter(now)
	matched := 0
	var counter int64
	for step := -g.config.Skew; step <= g.config.Skew; step++ {
		c := base + int64(step)
		if c < 0 {
			continue
		}
		candidate, err := g.CodeAt(secret, c)
		if err != nil {
			return false, 0, err
		}
		eq := subtle.ConstantTimeCompare([]byte(candidate), submitted)
		if eq == 1 && matched == 0 {
			counter = c
		}
		matched |= eq
	}

	return matched == 1, counter, nil
}

// Window enumerates the codes accepted at now, ordered from -skew to +skew.
func (g *Generator) Window(secret Secret, now time.Time) ([]WindowCode, error) {
	base := g.Counter(now)
	out := make([]WindowCode, 0, 2*g.config.Skew+1)
	for step := -g.config.Skew; step <= g.config.Skew; step++ {
		c := base + int64(step)
		if c < 0 {
			continue
		}
		code, err := g.CodeAt(secret, c)
		if err != nil {
			return nil, err
		}
		out = append(out, WindowCode{Offset: step, Counter: c, Code: code})
	}
	return out, nil
}

func isDigits(b []byte) bool {
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func hmacFunc(algorithm Algorithm) (func() hash.Hash, error) {
	switch algorithm {
	case AlgorithmSHA1:
		return sha1.New, nil
	case AlgorithmSHA256:
		return sha256.New, nil
	case AlgorithmSHA512:
		return sha512.New, nil
	default:
		return nil, fmt.Errorf("totp: unsupported algorithm %q", algorithm)
	}
}
