// Package jwt issues and verifies the signed tokens the authentication
// engine hands out: full and second-factor access tokens, and refresh
// tokens carrying a rotation ID.
//
// The package knows nothing about devices, push requests, or outcomes. It
// maps claims to strings and back; scope policy lives in the engine.
package jwt
