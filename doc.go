// Package portalauth implements the two-factor authentication core of a web
// portal: password login with device-state-driven outcomes, TOTP device
// enrollment and verification with replay protection, and an out-of-band
// push-approval login flow resolved from a second trusted session.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// portalauth is the public surface. It exposes [Engine], [Builder], [Config],
// typed sentinel errors, and value types (LoginResult, Device, PushRequest,
// TokenPair). Redis store coordination, throttling, and ID generation live
// under internal/ and are never exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients, store record encodings, or key layouts in its
//     public API.
//   - Own user identity: credentials are verified through the injected
//     [IdentityProvider]; user records are referenced, never mutated.
//   - Render QR codes or any other UI artifact. Enrollment returns the
//     otpauth:// provisioning URI string; image rendering belongs to the
//     caller.
//
// # Concurrency contract
//
// The single-active-device invariant and the single-resolution invariant of
// push requests are enforced with optimistic Redis transactions, never with
// in-process locks. Status polling is a stateless read; all waiting is
// client-driven re-polling.
package portalauth
