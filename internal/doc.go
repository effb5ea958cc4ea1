// Package internal contains helpers private to go2fa: temporary and refresh
// token encoding.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher and Sink implementations)
//   - rate: Redis fixed-window failed-login throttle
//
// # What this package must NOT do
//
//   - Export types that appear in the public go2fa API.
//   - Be imported by any package outside the go2fa module.
package internal
