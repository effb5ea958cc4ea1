// Package go2fa implements a two-factor session protocol: password login,
// TOTP enrollment and confirmation, a temporary-token second step, single-use
// backup codes, and rotating refresh sessions behind short-lived JWT access
// tokens.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// go2fa is the public surface. It exposes [Engine], [Builder], [Config], the
// error kinds and value types. Code derivation lives in totp, backup codes
// in backupcode, persistence behind the interfaces in store. Token encoding
// and audit dispatch live under internal/ and are never exported.
//
// # State machine
//
// An account is NO_2FA, PENDING_SETUP or ENABLED. Register leaves it in
// PENDING_SETUP; Confirm2FA moves it to ENABLED; Disable2FA back to NO_2FA.
// Login on an ENABLED account returns a temporary token instead of session
// tokens; Verify2FA exchanges it together with a TOTP or backup code.
//
// # What this package must NOT do
//
//   - Hand out a [Principal] other than through [Engine.Authenticate].
//   - Persist TOTP secrets unsealed or backup codes, temporary tokens and
//     refresh secrets in plaintext.
//   - Surface backend errors verbatim; they are logged and reported as
//     KindUnavailable.
package go2fa
