// Package internal contains helper utilities that are intentionally private
// to portalauth, including secure random identifier generation.
//
// # Sub-packages
//
//   - rate: core Redis-backed rate limit primitives
//
// # What this package must NOT do
//
//   - Export types that appear in the public portalauth API.
//   - Be imported by any package outside the portalauth module.
package internal
