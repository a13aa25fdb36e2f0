package server

// Config holds authorization server configuration
type Config struct {
	// Issuer is the server's issuer identifier (base URL)
	Issuer string

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 14400 (4 hours)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 1209600 (14 days)

	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 300 (5 minutes)

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers
	// WARNING: Only enable if behind a trusted reverse proxy (nginx, HAProxy, etc.)
	// When false, uses direct connection IP (secure by default)
	// Default: false
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this server
	// Used with TrustProxy to correctly extract client IP from X-Forwarded-For
	// Default: 1
	TrustedProxyCount int
}

// applyDefaults fills in default values for unset configuration fields
func applyDefaults(config *Config) *Config {
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = 14400 // 4 hours
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = 1209600 // 14 days
	}
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = 300 // 5 minutes
	}
	if config.TrustedProxyCount == 0 {
		config.TrustedProxyCount = 1
	}
	return config
}
