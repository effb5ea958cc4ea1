// Package httpapi serves the go2fa Engine over JSON/HTTP with a chi router.
//
// Public endpoints: POST /auth/register, /auth/login, /auth/verify-2fa,
// /auth/login-2fa and /auth/refresh. Everything under /auth/2fa and
// POST /auth/logout requires an access token in the Authorization header.
//
// Errors are rendered as {"error": kind, "message": text} where kind is a
// [go2fa.ErrorKind]. A failed backup-code attempt against an empty set adds
// "reason": "backup_codes_exhausted".
package httpapi
