// Package storage provides interfaces and record types for OAuth client,
// user, token, and authorization code persistence.
//
// The storage package defines the core storage interfaces used throughout
// the library:
//   - UserStore: Manages users and credential verification
//   - ClientStore: Manages registered OAuth clients
//   - TokenStore: Manages access and refresh tokens
//   - CodeStore: Manages authorization codes
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and testing
//   - storage/redis: Redis-backed distributed storage for production
//
// Writes that touch more than one record (token pairs, client plus
// service-account user) are atomic in every implementation, and redemption
// of codes and refresh tokens is an atomic get-and-delete so that exactly
// one concurrent redemption can win.
package storage
