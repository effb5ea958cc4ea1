// Package store defines the persistence boundary for accounts, TOTP secrets,
// backup codes, temporary login tokens and refresh sessions.
//
// # Implementations
//
//   - store/memory: everything in-process behind one mutex (tests, examples).
//   - store/postgres: [CredentialStore] on PostgreSQL through pgx.
//   - store/redisstore: [TokenStore] on Redis with Lua check-and-set scripts.
//
// # Atomicity contract
//
// ClaimTemporaryToken, ConsumeBackupCode, RotateRefreshSession,
// PromotePendingSecret and MarkTOTPCounter are each a single check-and-set.
// Two concurrent callers presenting the same token, code or refresh secret
// must never both succeed.
//
// # What this package must NOT do
//
//   - Hash, seal or verify credentials. Callers hand in digests and sealed bytes.
//   - Import go2fa.
package store
