// Package jwt issues and verifies access tokens.
//
// Tokens carry the account id as sub, the refresh session id as sid and
// typ=access. Ed25519 is the default algorithm; HS256 is available for
// single-process deployments. Verification pins the algorithm, requires exp
// and iat, and optionally enforces iss, aud and kid.
package jwt
