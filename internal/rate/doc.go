// Package rate provides internal primitives used to build Redis-backed rate
// limit keys, errors, and limiter behavior for the authentication engine.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - al:  login per-user
//   - ali: login per-IP
//   - ac:  second-factor codes per-user
//
// # What this package must NOT do
//
//   - Decide which operations get limited (the engine owns that).
//   - Be imported outside the portalauth module.
package rate
