// Package memory is an in-process implementation of store.CredentialStore
// and store.TokenStore. Every operation runs under one mutex, which makes the
// check-and-set methods trivially atomic. Intended for tests, examples and
// single-process deployments.
package memory

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/go2fa/store"
)

type backupCode struct {
	hash     []byte
	consumed bool
}

type sessionEntry struct {
	sess    store.RefreshSession
	purgeAt time.Time
}

type tempEntry struct {
	rec      store.TemporaryToken
	purgeAt  time.Time
	claimed  bool
	attempts int
}

// Store keeps every record in maps.
type Store struct {
	mu sync.Mutex

	accounts   map[string]*store.Account
	byUsername map[string]string
	byEmail    map[string]string
	pending    map[string]*store.PendingSecret
	confirmed  map[string]*store.ConfirmedSecret
	codes      map[string][]backupCode
	temp       map[string]*tempEntry
	sessions   map[string]*sessionEntry

	now func() time.Time
}

var (
	_ store.CredentialStore = (*Store)(nil)
	_ store.TokenStore      = (*Store)(nil)
)

// New returns an empty Store.
func New() *Store {
	return &Store{
		accounts:   make(map[string]*store.Account),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		pending:    make(map[string]*store.PendingSecret),
		confirmed:  make(map[string]*store.ConfirmedSecret),
		codes:      make(map[string][]backupCode),
		temp:       make(map[string]*tempEntry),
		sessions:   make(map[string]*sessionEntry),
		now:        time.Now,
	}
}

// WithClock overrides the clock used for UpdatedAt stamps and retention purges.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Store) CreateAccount(_ context.Context, acct *store.Account, pending *store.PendingSecret) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acct.ID]; ok {
		return store.ErrDuplicate
	}
	if _, ok := s.byUsername[fold(acct.Username)]; ok && acct.Username != "" {
		return store.ErrDuplicate
	}
	if _, ok := s.byEmail[fold(acct.Email)]; ok && acct.Email != "" {
		return store.ErrDuplicate
	}

	cp := *acct
	s.accounts[cp.ID] = &cp
	if cp.Username != "" {
		s.byUsername[fold(cp.Username)] = cp.ID
	}
	if cp.Email != "" {
		s.byEmail[fold(cp.Email)] = cp.ID
	}
	if pending != nil {
		s.pending[cp.ID] = clonePending(pending)
	}
	return nil
}

func (s *Store) AccountByID(_ context.Context, id string) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountLocked(id)
}

func (s *Store) AccountByUsername(_ context.Context, username string) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byUsername[fold(username)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.accountLocked(id)
}

func (s *Store) AccountByEmail(_ context.Context, email string) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[fold(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.accountLocked(id)
}

func (s *Store) UpdatePasswordHash(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	acct.PasswordHash = hash
	acct.UpdatedAt = s.now()
	return nil
}

func (s *Store) accountLocked(id string) (*store.Account, error) {
	acct, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *acct
	return &cp, nil
}

func (s *Store) SavePendingSecret(_ context.Context, accountID string, pending *store.PendingSecret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	s.pending[accountID] = clonePending(pending)
	if acct.State == store.StateNone {
		acct.State = store.StatePendingSetup
		acct.Version++
		acct.UpdatedAt = s.now()
	}
	return nil
}

func (s *Store) PendingSecret(_ context.Context, accountID string) (*store.PendingSecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[accountID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clonePending(p), nil
}

func (s *Store) ConfirmedSecret(_ context.Context, accountID string) (*store.ConfirmedSecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.confirmed[accountID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	cp.Sealed = bytes.Clone(c.Sealed)
	return &cp, nil
}

func (s *Store) PromotePendingSecret(_ context.Context, accountID string, counter int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	p, ok := s.pending[accountID]
	if !ok {
		return store.ErrNotFound
	}

	now := s.now()
	s.confirmed[accountID] = &store.ConfirmedSecret{
		Sealed:      bytes.Clone(p.Sealed),
		LastCounter: counter,
		ConfirmedAt: now,
	}
	s.codes[accountID] = newCodes(p.BackupCodeHashes)
	delete(s.pending, accountID)

	acct.State = store.StateEnabled
	acct.Version++
	acct.UpdatedAt = now
	return nil
}

func (s *Store) DisableTwoFactor(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.pending, accountID)
	delete(s.confirmed, accountID)
	delete(s.codes, accountID)
	acct.State = store.StateNone
	acct.Version++
	acct.UpdatedAt = s.now()
	return nil
}

func (s *Store) MarkTOTPCounter(_ context.Context, accountID string, counter int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.confirmed[accountID]
	if !ok {
		return false, store.ErrNotFound
	}
	if counter <= c.LastCounter {
		return false, nil
	}
	c.LastCounter = counter
	return true, nil
}

func (s *Store) ReplaceBackupCodes(_ context.Context, accountID string, hashes [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return store.ErrNotFound
	}
	s.codes[accountID] = newCodes(hashes)
	return nil
}

func (s *Store) ConsumeBackupCode(_ context.Context, accountID string, hash []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := s.codes[accountID]
	for i := range codes {
		if !codes[i].consumed && bytes.Equal(codes[i].hash, hash) {
			codes[i].consumed = true
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) RemainingBackupCodes(_ context.Context, accountID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.codes[accountID] {
		if !c.consumed {
			n++
		}
	}
	return n, nil
}

func (s *Store) SaveTemporaryToken(_ context.Context, key string, rec *store.TemporaryToken, retention time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	s.temp[key] = &tempEntry{
		rec:      *rec,
		purgeAt:  rec.ExpiresAt.Add(retention),
		attempts: rec.Attempts,
		claimed:  rec.Used,
	}
	return nil
}

func (s *Store) ClaimTemporaryToken(_ context.Context, key string, now time.Time) (*store.TemporaryToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()

	e, ok := s.temp[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	if e.claimed {
		return nil, store.ErrTokenUsed
	}
	if !now.Before(e.rec.ExpiresAt) {
		return nil, store.ErrTokenExpired
	}
	e.claimed = true

	out := e.rec
	out.Attempts = e.attempts
	out.Used = true
	return &out, nil
}

func (s *Store) ReleaseTemporaryToken(_ context.Context, key string, maxAttempts int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.temp[key]
	if !ok {
		return false, store.ErrNotFound
	}
	e.attempts++
	if e.attempts >= maxAttempts {
		delete(s.temp, key)
		return true, nil
	}
	e.claimed = false
	return false, nil
}

func (s *Store) purgeLocked() {
	now := s.now()
	for k, e := range s.temp {
		if now.After(e.purgeAt) {
			delete(s.temp, k)
		}
	}
	for id, e := range s.sessions {
		if now.After(e.purgeAt) {
			delete(s.sessions, id)
		}
	}
}

func (s *Store) CreateRefreshSession(_ context.Context, sess *store.RefreshSession, retention time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	s.sessions[sess.ID] = &sessionEntry{
		sess:    *sess,
		purgeAt: sess.ExpiresAt.Add(retention),
	}
	return nil
}

func (s *Store) RefreshSession(_ context.Context, id string) (*store.RefreshSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	e, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := e.sess
	return &cp, nil
}

// RotateRefreshSession leaves an expired session in place until its purge
// time so repeated late refreshes keep reporting ErrTokenExpired.
func (s *Store) RotateRefreshSession(_ context.Context, id string, presented, next [32]byte, now time.Time) (*store.RefreshSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeLocked()
	e, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !now.Before(e.sess.ExpiresAt) {
		return nil, store.ErrTokenExpired
	}
	if e.sess.SecretHash != presented {
		delete(s.sessions, id)
		return nil, store.ErrRefreshMismatch
	}
	e.sess.SecretHash = next
	cp := e.sess
	return &cp, nil
}

func (s *Store) RevokeRefreshSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func newCodes(hashes [][]byte) []backupCode {
	out := make([]backupCode, 0, len(hashes))
	for _, h := range hashes {
		out = append(out, backupCode{hash: bytes.Clone(h)})
	}
	return out
}

func clonePending(p *store.PendingSecret) *store.PendingSecret {
	cp := &store.PendingSecret{
		Sealed:    bytes.Clone(p.Sealed),
		CreatedAt: p.CreatedAt,
	}
	for _, h := range p.BackupCodeHashes {
		cp.BackupCodeHashes = append(cp.BackupCodeHashes, bytes.Clone(h))
	}
	return cp
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
