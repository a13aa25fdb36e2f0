package security

import "time"

// RowTTLGracePeriod pads storage row TTLs past the logical expiry so that a
// lookup racing the row's physical expiration sees an expired record rather
// than a missing one. It never extends a token's validity: expiry checks are
// strict.
const RowTTLGracePeriod = 5 * time.Second

// IsTokenExpired reports whether expiresAt has passed. The zero time means no
// expiration. There is no tolerance window; a token, code, or refresh token
// is invalid from the first instant after its expiry.
func IsTokenExpired(expiresAt time.Time) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt)
}

// IsTokenExpiringSoon reports whether expiresAt falls within threshold from
// now. The zero time never expires.
func IsTokenExpiringSoon(expiresAt time.Time, threshold time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().Add(threshold).After(expiresAt)
}
