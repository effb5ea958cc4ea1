package totp

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"strings"
)

// SecretSize is the number of random bytes in a generated secret (160 bits).
const SecretSize = 20

var (
	// ErrMalformedSecret is returned when an encoded secret is not base32 or is
	// shorter than SecretSize bytes once decoded.
	ErrMalformedSecret = errors.New("totp: malformed secret")
	// ErrEmptySecret is returned when a code is requested for an empty key.
	ErrEmptySecret = errors.New("totp: empty secret")
)

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// Secret is a raw TOTP shared key.
type Secret []byte

// GenerateSecret returns SecretSize bytes from crypto/rand.
func GenerateSecret() (Secret, error) {
	raw := make([]byte, SecretSize)
	if _, err := rand.Read(raw); err != nil {
		return nil, err
	}
	return Secret(raw), nil
}

// Base32 returns the unpadded upper-case base32 form users type into an
// authenticator app.
func (s Secret) Base32() string {
	return secretEncoding.EncodeToString(s)
}

// DecodeSecret parses a base32 secret as produced by Base32. Lower case,
// spaces, hyphens and trailing padding are accepted because users copy
// secrets by hand.
func DecodeSecret(encoded string) (Secret, error) {
	s := strings.ToUpper(strings.TrimSpace(encoded))
	s = strings.NewReplacer(" ", "", "-", "", "=", "").Replace(s)
	if s == "" {
		return nil, ErrMalformedSecret
	}

	raw, err := secretEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Join(ErrMalformedSecret, err)
	}
	if len(raw) < SecretSize {
		return nil, ErrMalformedSecret
	}
	return Secret(raw), nil
}
