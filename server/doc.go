// Package server implements the grant processing core of the authorization
// server: client and user authentication, per-client grant policy, token pair
// issuance, authorization code issuance and redemption, and refresh token
// rotation.
//
// The package is transport-agnostic. HTTP parsing and response encoding live
// one level up; handlers translate requests into TokenRequest values and map
// returned *Error values onto status codes and JSON bodies.
//
// All tokens and codes are opaque random strings; the server holds no
// signing keys. Single use of authorization codes and refresh tokens is
// enforced by the storage layer, which deletes the row atomically at lookup
// so concurrent redemptions cannot both succeed.
package server
