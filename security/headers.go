package security

import (
	"net/http"
	"net/url"
)

// SetSecurityHeaders sets security headers on HTTP responses.
// These headers protect against clickjacking, MIME sniffing, and caching of
// sensitive token material.
func SetSecurityHeaders(w http.ResponseWriter, serverURL string) {
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-XSS-Protection", "1; mode=block")

	// Strict policy for OAuth endpoints (no inline scripts, no external resources)
	w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

	w.Header().Set("Referrer-Policy", "no-referrer")

	// HSTS only when the server itself is served over HTTPS
	if parsed, err := url.Parse(serverURL); err == nil && parsed.Scheme == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// RFC 6749 section 5.1 requires no-store on token responses
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
}
