// Package rate implements the Redis-backed failed-login throttle.
//
// # Window semantics
//
// Fixed-window counters: INCR plus EXPIRE on the first hit. Keys:
//   - <prefix>:rl:h:<hash>  failures per login handle
//   - <prefix>:rl:ip:<ip>   failures per client IP
//
// # What this package must NOT do
//
//   - Decide which operations are throttled. The engine owns that policy.
//   - Be imported outside the go2fa module.
package rate
