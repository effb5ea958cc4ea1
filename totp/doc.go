// Package totp implements RFC 6238 time-based one-time codes and the shared
// secret codec used to enroll authenticator apps.
//
// # Components
//
//   - [Secret]: the raw shared key, encoded as unpadded RFC 4648 base32.
//   - [Generator]: code derivation, tolerance-window verification and window
//     enumeration for a fixed digit count, period and HMAC algorithm.
//   - [Generator.ProvisioningURI] and [QRCodePNG]: otpauth:// enrollment URIs and
//     their PNG rendering.
//
// # Architecture boundaries
//
// This package is pure computation. It never persists secrets, tracks used
// counters or decides whether a login may proceed; the Engine owns those rules.
//
// # What this package must NOT do
//
//   - Import go2fa or any sibling package.
//   - Return early from [Generator.Verify] once a candidate matches.
//   - Log secrets or codes.
package totp
