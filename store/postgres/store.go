package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/go2fa/store"
)

const (
	slotPending   = "pending"
	slotConfirmed = "confirmed"
	slotActive    = "active"
)

const accountColumns = `id, username, email, password_hash, state, preferred_method, version, created_at, updated_at`

// Store is a PostgreSQL-backed store.CredentialStore.
type Store struct{ db *DB }

var _ store.CredentialStore = (*Store)(nil)

// New constructs a Store on db.
func New(db *DB) *Store { return &Store{db: db} }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

// withTx runs fn in a transaction, committing only when fn succeeds.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) (err error) {
	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return unavailable(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = unavailable(e)
		}
	}()
	return fn(tx)
}

func insertCodes(ctx context.Context, tx pgx.Tx, accountID, slot string, hashes [][]byte) error {
	if len(hashes) == 0 {
		return nil
	}
	const ins = `INSERT INTO go2fa_backup_codes (account_id, slot, code_hash) SELECT $1, $2, unnest($3::bytea[])`
	_, err := tx.Exec(ctx, ins, accountID, slot, hashes)
	return err
}

func (s *Store) CreateAccount(ctx context.Context, acct *store.Account, pending *store.PendingSecret) error {
	const insAccount = `INSERT INTO go2fa_accounts (id, username, email, password_hash, state, preferred_method, version, created_at, updated_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	const insSecret = `INSERT INTO go2fa_totp_secrets (account_id, slot, sealed, created_at) VALUES ($1,$2,$3,$4)`

	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, insAccount,
			acct.ID, acct.Username, acct.Email, acct.PasswordHash, string(acct.State),
			acct.PreferredMethod, int64(acct.Version), acct.CreatedAt, acct.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrDuplicate
			}
			return unavailable(err)
		}
		if pending == nil {
			return nil
		}
		if _, err := tx.Exec(ctx, insSecret, acct.ID, slotPending, pending.Sealed, pending.CreatedAt); err != nil {
			return unavailable(err)
		}
		if err := insertCodes(ctx, tx, acct.ID, slotPending, pending.BackupCodeHashes); err != nil {
			return unavailable(err)
		}
		return nil
	})
}

func (s *Store) accountBy(ctx context.Context, where string, arg string) (*store.Account, error) {
	var (
		a       store.Account
		state   string
		version int64
	)
	err := s.db.Pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM go2fa_accounts WHERE `+where, arg).
		Scan(&a.ID, &a.Username, &a.Email, &a.PasswordHash, &state, &a.PreferredMethod, &version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, unavailable(err)
	}
	a.State = store.TwoFactorState(state)
	a.Version = uint32(version)
	return &a, nil
}

func (s *Store) AccountByID(ctx context.Context, id string) (*store.Account, error) {
	return s.accountBy(ctx, `id=$1`, id)
}

func (s *Store) AccountByUsername(ctx context.Context, username string) (*store.Account, error) {
	if username == "" {
		return nil, store.ErrNotFound
	}
	return s.accountBy(ctx, `username <> '' AND lower(username)=lower($1)`, username)
}

func (s *Store) AccountByEmail(ctx context.Context, email string) (*store.Account, error) {
	if email == "" {
		return nil, store.ErrNotFound
	}
	return s.accountBy(ctx, `email <> '' AND lower(email)=lower($1)`, email)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	tag, err := s.db.Pool.Exec(ctx, `UPDATE go2fa_accounts SET password_hash=$2, updated_at=now() WHERE id=$1`, id, hash)
	if err != nil {
		return unavailable(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SavePendingSecret(ctx context.Context, accountID string, pending *store.PendingSecret) error {
	const updState = `UPDATE go2fa_accounts SET state = CASE WHEN state='NO_2FA' THEN 'PENDING_SETUP' ELSE state END, version=version+1, updated_at=now() WHERE id=$1`
	const upsert = `INSERT INTO go2fa_totp_secrets (account_id, slot, sealed, created_at) VALUES ($1,$2,$3,$4) ON CONFLICT (account_id, slot) DO UPDATE SET sealed=EXCLUDED.sealed, created_at=EXCLUDED.created_at`
	const delCodes = `DELETE FROM go2fa_backup_codes WHERE account_id=$1 AND slot=$2`

	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, updState, accountID)
		if err != nil {
			return unavailable(err)
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		if _, err := tx.Exec(ctx, upsert, accountID, slotPending, pending.Sealed, pending.CreatedAt); err != nil {
			return unavailable(err)
		}
		if _, err := tx.Exec(ctx, delCodes, accountID, slotPending); err != nil {
			return unavailable(err)
		}
		if err := insertCodes(ctx, tx, accountID, slotPending, pending.BackupCodeHashes); err != nil {
			return unavailable(err)
		}
		return nil
	})
}

func (s *Store) PendingSecret(ctx context.Context, accountID string) (*store.PendingSecret, error) {
	const sel = `SELECT sealed, created_at FROM go2fa_totp_secrets WHERE account_id=$1 AND slot=$2`
	const selCodes = `SELECT code_hash FROM go2fa_backup_codes WHERE account_id=$1 AND slot=$2`

	var p store.PendingSecret
	if err := s.db.Pool.QueryRow(ctx, sel, accountID, slotPending).Scan(&p.Sealed, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, unavailable(err)
	}

	rows, err := s.db.Pool.Query(ctx, selCodes, accountID, slotPending)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()
	for rows.Next() {
		var h []byte
		if err := rows.Scan(&h); err != nil {
			return nil, unavailable(err)
		}
		p.BackupCodeHashes = append(p.BackupCodeHashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return &p, nil
}

func (s *Store) ConfirmedSecret(ctx context.Context, accountID string) (*store.ConfirmedSecret, error) {
	const sel = `SELECT sealed, last_counter, created_at FROM go2fa_totp_secrets WHERE account_id=$1 AND slot=$2`

	var c store.ConfirmedSecret
	if err := s.db.Pool.QueryRow(ctx, sel, accountID, slotConfirmed).Scan(&c.Sealed, &c.LastCounter, &c.ConfirmedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, unavailable(err)
	}
	return &c, nil
}

func (s *Store) PromotePendingSecret(ctx context.Context, accountID string, counter int64) error {
	const delConfirmed = `DELETE FROM go2fa_totp_secrets WHERE account_id=$1 AND slot=$2`
	const promote = `UPDATE go2fa_totp_secrets SET slot=$2, last_counter=$3, created_at=now() WHERE account_id=$1 AND slot=$4`
	const delActive = `DELETE FROM go2fa_backup_codes WHERE account_id=$1 AND slot=$2`
	const activate = `UPDATE go2fa_backup_codes SET slot=$2 WHERE account_id=$1 AND slot=$3`
	const enable = `UPDATE go2fa_accounts SET state='ENABLED', version=version+1, updated_at=now() WHERE id=$1`

	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, delConfirmed, accountID, slotConfirmed); err != nil {
			return unavailable(err)
		}
		tag, err := tx.Exec(ctx, promote, accountID, slotConfirmed, counter, slotPending)
		if err != nil {
			return unavailable(err)
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		if _, err := tx.Exec(ctx, delActive, accountID, slotActive); err != nil {
			return unavailable(err)
		}
		if _, err := tx.Exec(ctx, activate, accountID, slotActive, slotPending); err != nil {
			return unavailable(err)
		}
		if _, err := tx.Exec(ctx, enable, accountID); err != nil {
			return unavailable(err)
		}
		return nil
	})
}

func (s *Store) DisableTwoFactor(ctx context.Context, accountID string) error {
	const disable = `UPDATE go2fa_accounts SET state='NO_2FA', version=version+1, updated_at=now() WHERE id=$1`
	const delSecrets = `DELETE FROM go2fa_totp_secrets WHERE account_id=$1`
	const delCodes = `DELETE FROM go2fa_backup_codes WHERE account_id=$1`

	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, disable, accountID)
		if err != nil {
			return unavailable(err)
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		if _, err := tx.Exec(ctx, delSecrets, accountID); err != nil {
			return unavailable(err)
		}
		if _, err := tx.Exec(ctx, delCodes, accountID); err != nil {
			return unavailable(err)
		}
		return nil
	})
}

func (s *Store) MarkTOTPCounter(ctx context.Context, accountID string, counter int64) (bool, error) {
	const mark = `UPDATE go2fa_totp_secrets SET last_counter=$3 WHERE account_id=$1 AND slot=$2 AND last_counter < $3`
	const exists = `SELECT EXISTS (SELECT 1 FROM go2fa_totp_secrets WHERE account_id=$1 AND slot=$2)`

	tag, err := s.db.Pool.Exec(ctx, mark, accountID, slotConfirmed, counter)
	if err != nil {
		return false, unavailable(err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var found bool
	if err := s.db.Pool.QueryRow(ctx, exists, accountID, slotConfirmed).Scan(&found); err != nil {
		return false, unavailable(err)
	}
	if !found {
		return false, store.ErrNotFound
	}
	return false, nil
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, accountID string, hashes [][]byte) error {
	const del = `DELETE FROM go2fa_backup_codes WHERE account_id=$1 AND slot=$2`

	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, del, accountID, slotActive); err != nil {
			return unavailable(err)
		}
		if err := insertCodes(ctx, tx, accountID, slotActive, hashes); err != nil {
			if isForeignKeyViolation(err) {
				return store.ErrNotFound
			}
			return unavailable(err)
		}
		return nil
	})
}

func (s *Store) ConsumeBackupCode(ctx context.Context, accountID string, hash []byte) (bool, error) {
	const consume = `UPDATE go2fa_backup_codes SET consumed_at=$4 WHERE account_id=$1 AND slot=$2 AND code_hash=$3 AND consumed_at IS NULL`

	tag, err := s.db.Pool.Exec(ctx, consume, accountID, slotActive, hash, time.Now().UTC())
	if err != nil {
		return false, unavailable(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) RemainingBackupCodes(ctx context.Context, accountID string) (int, error) {
	const count = `SELECT count(*) FROM go2fa_backup_codes WHERE account_id=$1 AND slot=$2 AND consumed_at IS NULL`

	var n int64
	if err := s.db.Pool.QueryRow(ctx, count, accountID, slotActive).Scan(&n); err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}
