package go2fa

import (
	"errors"
)

// ErrorKind is the stable, machine-readable category of an Engine error.
type ErrorKind string

const (
	KindDuplicateAccount       ErrorKind = "duplicate_account"
	KindInvalidCredentials     ErrorKind = "invalid_credentials"
	KindInvalidCode            ErrorKind = "invalid_code"
	KindTemporaryTokenExpired  ErrorKind = "temporary_token_expired"
	KindTemporaryTokenReused   ErrorKind = "temporary_token_reused"
	KindTemporaryTokenNotFound ErrorKind = "temporary_token_not_found"
	KindRefreshTokenExpired    ErrorKind = "refresh_token_expired"
	KindRefreshTokenInvalid    ErrorKind = "refresh_token_invalid"
	KindBackupCodesExhausted   ErrorKind = "backup_codes_exhausted"

	KindUnauthorized   ErrorKind = "unauthorized"
	KindNotConfigured  ErrorKind = "not_configured"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindUnavailable    ErrorKind = "unavailable"
	KindRateLimited    ErrorKind = "rate_limited"
)

// Error is returned by every Engine operation. Two Errors match under
// errors.Is when their kinds are equal, so callers compare against the
// sentinels below.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrDuplicateAccount       = &Error{Kind: KindDuplicateAccount, Message: "account already exists"}
	ErrInvalidCredentials     = &Error{Kind: KindInvalidCredentials, Message: "invalid credentials"}
	ErrInvalidCode            = &Error{Kind: KindInvalidCode, Message: "invalid verification code"}
	ErrTemporaryTokenExpired  = &Error{Kind: KindTemporaryTokenExpired, Message: "temporary token expired"}
	ErrTemporaryTokenReused   = &Error{Kind: KindTemporaryTokenReused, Message: "temporary token already used"}
	ErrTemporaryTokenNotFound = &Error{Kind: KindTemporaryTokenNotFound, Message: "temporary token not found"}
	ErrRefreshTokenExpired    = &Error{Kind: KindRefreshTokenExpired, Message: "refresh token expired"}
	ErrRefreshTokenInvalid    = &Error{Kind: KindRefreshTokenInvalid, Message: "refresh token invalid"}
	ErrBackupCodesExhausted   = &Error{Kind: KindBackupCodesExhausted, Message: "no backup codes remaining"}
	ErrUnauthorized           = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
	ErrNotConfigured          = &Error{Kind: KindNotConfigured, Message: "two-factor authentication is not configured"}
	ErrInvalidRequest         = &Error{Kind: KindInvalidRequest, Message: "invalid request"}
	ErrUnavailable            = &Error{Kind: KindUnavailable, Message: "backend unavailable"}
	ErrRateLimited            = &Error{Kind: KindRateLimited, Message: "too many failed attempts; try again later"}
)

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// invalidRequest reports a caller mistake with a specific message.
func invalidRequest(message string) *Error {
	return newError(KindInvalidRequest, message, nil)
}

// invalidCode is InvalidCode, optionally carrying the reason the backup
// path failed so callers can prompt for regeneration.
func invalidCode(cause error) *Error {
	if cause == nil {
		return ErrInvalidCode
	}
	return newError(KindInvalidCode, ErrInvalidCode.Message, cause)
}
