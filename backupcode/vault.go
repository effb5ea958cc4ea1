// Package backupcode issues and redeems single-use recovery codes.
//
// Codes are drawn from an alphabet without ambiguous glyphs and handed to the
// user once, formatted as two dash-separated halves. Only peppered HMAC-SHA256
// digests bound to the account are persisted. Redemption is delegated to a
// Store that must mark a code consumed atomically.
package backupcode

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Alphabet excludes I, O, 0 and 1.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	DefaultCount  = 10
	DefaultLength = 10

	minLength = 8
	maxLength = 32
	maxCount  = 50
)

var (
	// ErrExhausted is returned by Consume when no unused codes remain.
	ErrExhausted = errors.New("backupcode: no backup codes remaining")
	// ErrInvalidConfig is returned by NewVault for out-of-range settings.
	ErrInvalidConfig = errors.New("backupcode: invalid config")
)

// Store persists digests. ConsumeBackupCode must be atomic per code.
type Store interface {
	ReplaceBackupCodes(ctx context.Context, accountID string, hashes [][]byte) error
	ConsumeBackupCode(ctx context.Context, accountID string, hash []byte) (bool, error)
	RemainingBackupCodes(ctx context.Context, accountID string) (int, error)
}

// Config controls code generation. Zero Count and Length use the defaults.
type Config struct {
	Count  int
	Length int
	// Pepper keys the digest. An empty pepper degrades to plain SHA-256.
	Pepper []byte
}

// Vault generates, stores and redeems backup codes.
type Vault struct {
	store       Store
	count       int
	length      int
	pepper      []byte
	randomIndex func(int) (int, error)
}

// NewVault validates cfg and returns a Vault backed by s.
func NewVault(s Store, cfg Config) (*Vault, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if cfg.Count == 0 {
		cfg.Count = DefaultCount
	}
	if cfg.Length == 0 {
		cfg.Length = DefaultLength
	}
	if cfg.Count < 1 || cfg.Count > maxCount {
		return nil, fmt.Errorf("%w: count must be in [1,%d]", ErrInvalidConfig, maxCount)
	}
	if cfg.Length < minLength || cfg.Length > maxLength {
		return nil, fmt.Errorf("%w: length must be in [%d,%d]", ErrInvalidConfig, minLength, maxLength)
	}
	return &Vault{
		store:       s,
		count:       cfg.Count,
		length:      cfg.Length,
		pepper:      append([]byte(nil), cfg.Pepper...),
		randomIndex: cryptoRandomIndex,
	}, nil
}

// Count returns how many codes a batch holds.
func (v *Vault) Count() int { return v.count }

// Issue generates a fresh batch for accountID without persisting it. The
// formatted codes go to the user; the digests go to storage.
func (v *Vault) Issue(accountID string) ([]string, [][]byte, error) {
	codes := make([]string, 0, v.count)
	hashes := make([][]byte, 0, v.count)
	seen := make(map[string]struct{}, v.count)

	for len(codes) < v.count {
		raw, err := newCode(v.length, v.randomIndex)
		if err != nil {
			return nil, nil, err
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		codes = append(codes, Format(raw))
		hashes = append(hashes, v.Hash(accountID, raw))
	}
	return codes, hashes, nil
}

// Regenerate issues a batch and replaces every stored code for accountID.
func (v *Vault) Regenerate(ctx context.Context, accountID string) ([]string, error) {
	codes, hashes, err := v.Issue(accountID)
	if err != nil {
		return nil, err
	}
	if err := v.store.ReplaceBackupCodes(ctx, accountID, hashes); err != nil {
		return nil, err
	}
	return codes, nil
}

// Consume redeems code. It returns (false, ErrExhausted) when the account has
// no unused codes left and (false, nil) for any other mismatch.
func (v *Vault) Consume(ctx context.Context, accountID, code string) (bool, error) {
	canonical := Canonicalize(code)
	if v.wellFormed(canonical) {
		ok, err := v.store.ConsumeBackupCode(ctx, accountID, v.Hash(accountID, canonical))
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}

	remaining, err := v.store.RemainingBackupCodes(ctx, accountID)
	if err != nil {
		return false, err
	}
	if remaining == 0 {
		return false, ErrExhausted
	}
	return false, nil
}

// Remaining returns the number of unused codes for accountID.
func (v *Vault) Remaining(ctx context.Context, accountID string) (int, error) {
	return v.store.RemainingBackupCodes(ctx, accountID)
}

// Hash returns the digest stored for a canonical code.
func (v *Vault) Hash(accountID, canonical string) []byte {
	if len(v.pepper) == 0 {
		sum := sha256.Sum256(digestInput(accountID, canonical))
		return sum[:]
	}
	mac := hmac.New(sha256.New, v.pepper)
	mac.Write(digestInput(accountID, canonical))
	return mac.Sum(nil)
}

func (v *Vault) wellFormed(canonical string) bool {
	if len(canonical) != v.length {
		return false
	}
	for i := 0; i < len(canonical); i++ {
		if strings.IndexByte(Alphabet, canonical[i]) < 0 {
			return false
		}
	}
	return true
}

// Format splits a raw code into two dash-separated halves.
func Format(code string) string {
	n := len(code)
	if n < minLength {
		return code
	}
	mid := n / 2
	return code[:mid] + "-" + code[mid:]
}

// Canonicalize upper-cases code and strips dashes and whitespace.
func Canonicalize(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

func digestInput(accountID, canonical string) []byte {
	data := make([]byte, 0, len(accountID)+1+len(canonical))
	data = append(data, accountID...)
	data = append(data, 0)
	data = append(data, canonical...)
	return data
}

func newCode(length int, randomIndex func(int) (int, error)) (string, error) {
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := randomIndex(len(Alphabet))
		if err != nil {
			return "", err
		}
		b.WriteByte(Alphabet[n])
	}
	return b.String(), nil
}

func cryptoRandomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}
