package server

import (
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth2-server/instrumentation"
	"github.com/giantswarm/oauth2-server/security"
	"github.com/giantswarm/oauth2-server/storage"
)

// tokenLogLength is the number of characters of a token included in debug logs
const tokenLogLength = 8

// safeTruncate safely truncates a string to maxLen characters without
// panicking. Used to log token prefixes instead of full token values.
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// Server implements the OAuth2 grant processing logic: the grant dispatcher,
// token issuer, authorization code broker, grant policy, and authenticator.
// All state lives in the Store; Server itself is safe for concurrent use.
type Server struct {
	store           storage.Store
	Auditor         *security.Auditor
	RateLimiter     *security.RateLimiter // IP-based rate limiter
	UserRateLimiter *security.RateLimiter // User-based rate limiter (authenticated requests)
	Logger          *slog.Logger
	Config          *Config
	Instrumentation *instrumentation.Instrumentation
}

// New creates a new authorization server
func New(store storage.Store, config *Config, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applyDefaults(config)

	return &Server{
		store:  store,
		Config: config,
		Logger: logger,
	}, nil
}

// SetAuditor sets the security auditor
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetRateLimiter sets the IP-based rate limiter
func (s *Server) SetRateLimiter(rl *security.RateLimiter) {
	s.RateLimiter = rl
}

// SetUserRateLimiter sets the user-based rate limiter for authenticated requests
func (s *Server) SetUserRateLimiter(rl *security.RateLimiter) {
	s.UserRateLimiter = rl
}

// SetInstrumentation enables OpenTelemetry metrics and tracing
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.Instrumentation = inst
}

// formatUserID renders a numeric user ID for audit logging.
func formatUserID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// generateRandomToken generates a cryptographically secure random token.
// This is an alias for oauth2.GenerateVerifier() which produces a URL-safe,
// base64-encoded random string suitable for tokens and authorization codes.
func generateRandomToken() string {
	return oauth2.GenerateVerifier()
}

// GenerateClientSecret generates a random client secret. Exposed so the
// registration handler can hand the plaintext secret to the caller exactly
// once while only the hash is stored.
func GenerateClientSecret() string {
	return generateRandomToken()
}
