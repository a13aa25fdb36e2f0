// Package security provides security-related functionality for the
// authorization server, including rate limiting, audit logging, client IP
// extraction, and secure response headers.
//
// # Rate Limiting
//
// The RateLimiter provides per-identifier rate limiting using a token bucket
// algorithm with automatic memory management through LRU eviction. To prevent
// unbounded memory growth under distributed attacks, a configurable maximum
// entries limit applies; when it is reached the least recently used entries
// are evicted first, so legitimate repeat callers survive while one-shot
// attack IPs are dropped.
//
// Default configuration:
//   - MaxEntries: 10,000 unique identifiers
//   - CleanupInterval: 5 minutes
//   - IdleTimeout: 30 minutes
//
// Example:
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    // Rate limit exceeded
//	    return http.StatusTooManyRequests
//	}
//
// # Audit Logging
//
// The Auditor emits structured security events (token issuance, auth
// failures, registrations, rate limit violations). User identifiers are
// SHA-256 hashed before logging so audit trails carry no raw PII.
//
// # Expiry Checks
//
// IsTokenExpired is strict: a token is invalid from the first instant after
// its expiry. RowTTLGracePeriod exists only so storage backends can keep
// expired rows around briefly, letting reads report "expired" rather than
// "not found" near the expiry boundary.
package security
