// Package redisstore implements store.TokenStore on Redis.
//
// Temporary tokens and refresh sessions are Redis hashes. Claiming a token,
// releasing it after a failed attempt and rotating a refresh secret each run
// as one Lua script, so concurrent callers observe a single winner.
package redisstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/go2fa/store"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultPrefix namespaces every key written by the store.
	DefaultPrefix = "g2f"
)

// Store is a Redis-backed store.TokenStore.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

var _ store.TokenStore = (*Store)(nil)

// New returns a Store. An empty prefix uses DefaultPrefix.
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) tempKey(key string) string {
	return s.prefix + ":tmp:" + key
}

func (s *Store) sessionKey(id string) string {
	return s.prefix + ":rs:" + id
}

func (s *Store) SaveTemporaryToken(ctx context.Context, key string, rec *store.TemporaryToken, retention time.Duration) error {
	ttl := time.Until(rec.ExpiresAt) + retention
	if ttl <= 0 {
		ttl = retention
	}
	used := "0"
	if rec.Used {
		used = "1"
	}

	k := s.tempKey(key)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, k)
		pipe.HSet(ctx, k,
			"account", rec.AccountID,
			"issued", rec.IssuedAt.UnixMilli(),
			"expires", rec.ExpiresAt.UnixMilli(),
			"attempts", rec.Attempts,
			"used", used,
		)
		pipe.PExpire(ctx, k, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) ClaimTemporaryToken(ctx context.Context, key string, now time.Time) (*store.TemporaryToken, error) {
	parts, err := runScript(ctx, s.redis, claimTemporaryLua, []string{s.tempKey(key)}, now.UnixMilli())
	if err != nil {
		return nil, err
	}

	switch parts.status {
	case statusNotFound:
		return nil, store.ErrNotFound
	case statusUsed:
		return nil, store.ErrTokenUsed
	case statusExpired:
		return nil, store.ErrTokenExpired
	case statusOK:
	default:
		return nil, fmt.Errorf("%w: unexpected claim status %d", store.ErrUnavailable, parts.status)
	}

	if len(parts.values) < 4 {
		return nil, fmt.Errorf("%w: short claim response", store.ErrUnavailable)
	}
	issued, err1 := strconv.ParseInt(parts.values[1], 10, 64)
	expires, err2 := strconv.ParseInt(parts.values[2], 10, 64)
	attempts, err3 := strconv.Atoi(parts.values[3])
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, fmt.Errorf("%w: corrupt temporary token: %v", store.ErrUnavailable, err)
	}

	return &store.TemporaryToken{
		AccountID: parts.values[0],
		IssuedAt:  time.UnixMilli(issued),
		ExpiresAt: time.UnixMilli(expires),
		Attempts:  attempts,
		Used:      true,
	}, nil
}

func (s *Store) ReleaseTemporaryToken(ctx context.Context, key string, maxAttempts int) (bool, error) {
	parts, err := runScript(ctx, s.redis, releaseTemporaryLua, []string{s.tempKey(key)}, maxAttempts)
	if err != nil {
		return false, err
	}
	switch parts.status {
	case statusNotFound:
		return false, store.ErrNotFound
	case statusExhausted:
		return true, nil
	case statusOK:
		return false, nil
	default:
		return false, fmt.Errorf("%w: unexpected release status %d", store.ErrUnavailable, parts.status)
	}
}

func (s *Store) CreateRefreshSession(ctx context.Context, sess *store.RefreshSession, retention time.Duration) error {
	lifetime := time.Until(sess.ExpiresAt)
	if lifetime <= 0 {
		return store.ErrTokenExpired
	}
	ttl := lifetime + retention
	k := s.sessionKey(sess.ID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k,
			"account", sess.AccountID,
			"hash", hex.EncodeToString(sess.SecretHash[:]),
			"issued", sess.IssuedAt.UnixMilli(),
			"expires", sess.ExpiresAt.UnixMilli(),
		)
		pipe.PExpire(ctx, k, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) RefreshSession(ctx context.Context, id string) (*store.RefreshSession, error) {
	fields, err := s.redis.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	return decodeSession(id, fields["account"], fields["hash"], fields["issued"], fields["expires"])
}

func (s *Store) RotateRefreshSession(ctx context.Context, id string, presented, next [32]byte, now time.Time) (*store.RefreshSession, error) {
	parts, err := runScript(ctx, s.redis, rotateRefreshLua, []string{s.sessionKey(id)},
		hex.EncodeToString(presented[:]),
		hex.EncodeToString(next[:]),
		now.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}

	switch parts.status {
	case statusNotFound:
		return nil, store.ErrNotFound
	case statusExpired:
		return nil, store.ErrTokenExpired
	case statusMismatch:
		return nil, store.ErrRefreshMismatch
	case statusOK:
	default:
		return nil, fmt.Errorf("%w: unexpected rotate status %d", store.ErrUnavailable, parts.status)
	}
	if len(parts.values) < 3 {
		return nil, fmt.Errorf("%w: short rotate response", store.ErrUnavailable)
	}
	return decodeSession(id, parts.values[0], hex.EncodeToString(next[:]), parts.values[1], parts.values[2])
}

func (s *Store) RevokeRefreshSession(ctx context.Context, id string) error {
	if err := s.redis.Del(ctx, s.sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

func decodeSession(id, account, hashHex, issued, expires string) (*store.RefreshSession, error) {
	raw, err := hex.DecodeString(hashHex)
	if err != nil || len(raw) != 32 {
		return nil, fmt.Errorf("%w: corrupt refresh session", store.ErrUnavailable)
	}
	issuedMs, err1 := strconv.ParseInt(issued, 10, 64)
	expiresMs, err2 := strconv.ParseInt(expires, 10, 64)
	if err := errors.Join(err1, err2); err != nil {
		return nil, fmt.Errorf("%w: corrupt refresh session: %v", store.ErrUnavailable, err)
	}

	sess := &store.RefreshSession{
		ID:        id,
		AccountID: account,
		IssuedAt:  time.UnixMilli(issuedMs),
		ExpiresAt: time.UnixMilli(expiresMs),
	}
	copy(sess.SecretHash[:], raw)
	return sess, nil
}

type scriptResult struct {
	status int64
	values []string
}

func runScript(ctx context.Context, client redis.UniversalClient, script *redis.Script, keys []string, args ...any) (*scriptResult, error) {
	result, err := script.Run(ctx, client, keys, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return nil, fmt.Errorf("%w: invalid script response", store.ErrUnavailable)
	}
	status, ok := parts[0].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: invalid script status", store.ErrUnavailable)
	}

	out := &scriptResult{status: status}
	for _, p := range parts[1:] {
		switch v := p.(type) {
		case string:
			out.values = append(out.values, v)
		case int64:
			out.values = append(out.values, strconv.FormatInt(v, 10))
		case []byte:
			out.values = append(out.values, string(v))
		default:
			return nil, fmt.Errorf("%w: unexpected script value %T", store.ErrUnavailable, p)
		}
	}
	return out, nil
}
