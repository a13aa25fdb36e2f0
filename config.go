package oauth

// Config holds HTTP handler configuration.
type Config struct {
	// ServerURL is the externally visible base URL of this server. HTTPS
	// URLs enable Strict-Transport-Security on responses.
	ServerURL string

	// LoginPath is where unauthenticated authorization requests are
	// redirected. Defaults to "/login".
	LoginPath string

	// TrustProxy enables X-Forwarded-For / X-Real-IP parsing for client
	// IP extraction. Only enable behind a trusted reverse proxy.
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of the
	// server when TrustProxy is set.
	TrustedProxyCount int
}

func (c *Config) applyDefaults() {
	if c.LoginPath == "" {
		c.LoginPath = "/login"
	}
}
