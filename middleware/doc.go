// Package middleware exposes HTTP middleware for go2fa servers.
//
// # Guards
//
//   - [RequireBearer] authenticates the Authorization bearer token with
//     Engine.Authenticate and stores the [go2fa.Principal] in the request
//     context, where [PrincipalFromContext] retrieves it.
//
// # Logging
//
//   - [AccessLog] writes one zap entry per request.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. Every
// authentication decision is delegated to Engine.Authenticate.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly.
//   - Touch token or credential stores.
//   - Log credentials, codes or tokens.
package middleware
