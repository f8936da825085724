// Package middleware exposes HTTP middleware adapters for scope-based
// authorization built on top of portalauth.Engine validation.
//
// # Guards
//
//   - [Guard]: accepts any valid access token, regardless of scope.
//   - [RequireFull]: rejects second-factor scoped tokens.
//   - [RequireSecondFactor]: accepts only second-factor scoped tokens.
//
// Each guard reads the Authorization header, calls Engine.Validate, and
// injects the validated identity into the request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authentication logic itself.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Make authorization decisions beyond scope pass/reject.
package middleware
