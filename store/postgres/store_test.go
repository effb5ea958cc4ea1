package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/go2fa/store"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

var accountCols = []string{"id", "username", "email", "password_hash", "state", "preferred_method", "version", "created_at", "updated_at"}

func TestCreateAccount_WithPendingSecret(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := New(db)
	ctx := context.Background()
	now := time.Now().UTC()

	acct := &store.Account{ID: "acct-1", Username: "alice", PasswordHash: "h", State: store.StatePendingSetup, PreferredMethod: "totp", CreatedAt: now, UpdatedAt: now}
	pending := &store.PendingSecret{Sealed: []byte("sealed"), BackupCodeHashes: [][]byte{[]byte("c1"), []byte("c2")}, CreatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO go2fa_accounts`).
		WithArgs("acct-1", "alice", "", "h", "PENDING_SETUP", "totp", int64(0), now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO go2fa_totp_secrets`).
		WithArgs("acct-1", "pending", []byte("sealed"), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO go2fa_backup_codes \(account_id, slot, code_hash\) SELECT \$1, \$2, unnest\(\$3::bytea\[\]\)`).
		WithArgs("acct-1", "pending", pending.BackupCodeHashes).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	require.NoError(t, s.CreateAccount(ctx, acct, pending))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccount_UniqueViolation(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := New(db)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO go2fa_accounts`).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	err := s.CreateAccount(context.Background(), &store.Account{ID: "acct-1", Username: "alice"}, nil)
	require.ErrorIs(t, err, store.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountByUsername(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := New(db)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, username, email, password_hash, state, preferred_method, version, created_at, updated_at FROM go2fa_accounts WHERE username <> '' AND lower\(username\)=lower\(\$1\)`).
		WithArgs("Alice").
		WillReturnRows(pgxmock.NewRows(accountCols).
			AddRow("acct-1", "alice", "a@example.com", "h", "ENABLED", "totp", int64(4), now, now))
	acct, err := s.AccountByUsername(ctx, "Alice")
	require.NoError(t, err)
	require.Equal(t, "acct-1", acct.ID)
	require.Equal(t, store.StateEnabled, acct.State)
	require.Equal(t, uint32(4), acct.Version)

	mock.ExpectQuery(`FROM go2fa_accounts WHERE username`).
		WithArgs("bob").
		WillReturnError(pgx.ErrNoRows)
	_, err = s.AccountByUsername(ctx, "bob")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.AccountByEmail(ctx, "")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountByID_BackendError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := New(db)

	mock.ExpectQuery(`FROM go2fa_accounts WHERE id=\$1`).
		WithArgs("acct-1").
		WillReturnError(errors.New("conn reset"))
	_, err := s.AccountByID(context.Background(), "acct-1")
	require.ErrorIs(t, err, store.ErrUnavailable)
}

func TestSavePendingSecret_ReplacesPendingCodes(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := New(db)
	now := time.Now().UTC()
	pending := &store.PendingSecret{Sealed: []byte("s2"), BackupCodeHashes: [][]byte{[]byte("n1")}, CreatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE go2fa_accounts SET state = CASE WHEN state='NO_2FA' THEN 'PENDING_SETUP'`).
		WithArgs("acct-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO go2fa_totp_secrets .* ON CONFLICT \(account_id, slot\) DO UPDATE`).
		WithArgs("acct-1", "pending", []byte("s2"), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM go2fa_backup_codes WHERE account_id=\$1 AND slot=\$2`).
		WithArgs("acct-1", "pending").
		WillReturnResult(pgxmock.NewResult("DELETE", 10))
	mock.ExpectExec(`INSERT INTO go2fa_backup_codes`).
		WithArgs("acct-1", "pending", pending.BackupCodeHashes).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.SavePendingSecret(context.Background(), "acct-1", pending))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePendingSecret_UnknownAccount(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := New(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE go2fa_accounts SET state`).
		WithArgs("ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.SavePendingSecret(context.Background(), "ghost", &store.PendingSecret{Sealed: []byte("x")})
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingSecret_LoadsCodes(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := New(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT sealed, created_at FROM go2fa_totp_secrets`).
		WithArgs("acct-1", "pending").
		WillReturnRows(pgxmock.NewRows([]string{"sealed", "created_at"}).AddRow([]byte("sealed"), now))
	mock.ExpectQuery(`SELECT code_hash FROM go2fa_backup_codes`).
		WithArgs("acct-1", "pending").
		WillReturnRows(pgxmock.NewRows([]string{"code_hash"}).AddRow([]byte("c1")).AddRow([]byte("c2")))

	p, err := s.PendingSecret(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Equal(t, []byte("sealed"), p.Sealed)
	require.Len(t, p.BackupCodeHashes, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPromotePendingSecret(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := New(db)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM go2fa_totp_secrets WHERE account_id=\$1 AND slot=\$2`).
		WithArgs("acct-1", "confirmed").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`UPDATE go2fa_totp_secrets SET slot=\$2, last_counter=\$3`).
		WithArgs("acct-1", "confirmed", int64(55), "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`DELETE FROM go2fa_backup_codes`).
		WithArgs("acct-1", "active").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(`UPDATE go2fa_backup_codes SET slot=\$2`).
		WithArgs("acct-1", "active", "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 10))
	mock.ExpectExec(`UPDATE go2fa_accounts SET state='ENABLED'`).
		WithArgs("acct-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, s.PromotePendingSecret(context.Background(), "acct-1", 55))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPromotePendingSecret_NoPendingRollsBack(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := New(db)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM go2fa_totp_secrets`).
		WithArgs("acct-1", "confirmed").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`UPDATE go2fa_totp_secrets SET slot`).
		WithArgs("acct-1", "confirmed", int64(55), "pending").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.PromotePendingSecret(context.Background(), "acct-1", 55)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDisableTwoFactor(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := New(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE go2fa_accounts SET state='NO_2FA'`).
		WithArgs("acct-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`DELETE FROM go2fa_totp_secrets WHERE account_id=\$1`).
		WithArgs("acct-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM go2fa_backup_codes WHERE account_id=\$1`).
		WithArgs("acct-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 10))
	mock.ExpectCommit()

	require.NoError(t, s.DisableTwoFactor(context.Background(), "acct-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkTOTPCounter(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := New(db)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE go2fa_totp_secrets SET last_counter=\$3 .* AND last_counter < \$3`).
		WithArgs("acct-1", "confirmed", int64(10)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := s.MarkTOTPCounter(ctx, "acct-1", 10)
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectExec(`UPDATE go2fa_totp_secrets SET last_counter`).
		WithArgs("acct-1", "confirmed", int64(10)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("acct-1", "confirmed").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err = s.MarkTOTPCounter(ctx, "acct-1", 10)
	require.NoError(t, err)
	require.False(t, ok)

	mock.ExpectExec(`UPDATE go2fa_totp_secrets SET last_counter`).
		WithArgs("ghost", "confirmed", int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("ghost", "confirmed").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	_, err = s.MarkTOTPCounter(ctx, "ghost", 1)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeBackupCode(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := New(db)
	ctx := context.Background()

	mock.ExpectExec(`UPDATE go2fa_backup_codes SET consumed_at=\$4 .* AND consumed_at IS NULL`).
		WithArgs("acct-1", "active", []byte("h1"), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := s.ConsumeBackupCode(ctx, "acct-1", []byte("h1"))
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectExec(`UPDATE go2fa_backup_codes SET consumed_at`).
		WithArgs("acct-1", "active", []byte("h1"), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	ok, err = s.ConsumeBackupCode(ctx, "acct-1", []byte("h1"))
	require.NoError(t, err)
	require.False(t, ok)

	mock.ExpectQuery(`SELECT count\(\*\) FROM go2fa_backup_codes`).
		WithArgs("acct-1", "active").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(9)))
	n, err := s.RemainingBackupCodes(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, 9, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceBackupCodes_UnknownAccount(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := New(db)
	hashes := [][]byte{[]byte("h1")}

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM go2fa_backup_codes`).
		WithArgs("ghost", "active").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO go2fa_backup_codes`).
		WithArgs("ghost", "active", hashes).
		WillReturnError(&pgconn.PgError{Code: "23503"})
	mock.ExpectRollback()

	err := s.ReplaceBackupCodes(context.Background(), "ghost", hashes)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatePasswordHash(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	s := New(db)

	mock.ExpectExec(`UPDATE go2fa_accounts SET password_hash=\$2`).
		WithArgs("acct-1", "new-hash").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.UpdatePasswordHash(context.Background(), "acct-1", "new-hash"))

	mock.ExpectExec(`UPDATE go2fa_accounts SET password_hash`).
		WithArgs("ghost", "x").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, s.UpdatePasswordHash(context.Background(), "ghost", "x"), store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
