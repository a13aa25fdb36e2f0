package security

// Event type constants for security audit logging.
// These constants ensure consistency across the codebase and prevent typos
// when logging security-relevant events.
const (
	// Token lifecycle events

	// EventTokenIssued is logged when a new token pair is issued to a client
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when an access token is refreshed using a refresh token
	EventTokenRefreshed = "token_refreshed"

	// EventTokenRevoked is logged when a refresh token is revoked
	EventTokenRevoked = "token_revoked"

	// Authorization flow events

	// EventCodeIssued is logged when an authorization code is issued
	EventCodeIssued = "authorization_code_issued"

	// EventCodeRedeemed is logged when an authorization code is redeemed for tokens
	EventCodeRedeemed = "authorization_code_redeemed"

	// EventCodeReuseDetected is logged when an already consumed authorization code is presented again
	EventCodeReuseDetected = "authorization_code_reuse_detected"

	// Registration events

	// EventClientRegistered is logged when a new OAuth client is registered
	EventClientRegistered = "client_registered"

	// EventClientRegistrationRejected is logged when client registration is rejected
	EventClientRegistrationRejected = "client_registration_rejected"

	// EventUserRegistered is logged when a new user account is created
	EventUserRegistered = "user_registered"

	// Security violation events

	// EventAuthFailure is logged when authentication fails (wrong credentials, etc.)
	EventAuthFailure = "auth_failure"

	// EventRateLimitExceeded is logged when a rate limit is exceeded
	EventRateLimitExceeded = "rate_limit_exceeded"

	// EventTokenReuseDetected is logged when an already rotated refresh token is presented again
	EventTokenReuseDetected = "token_reuse_detected" //nolint:gosec // G101: event type name, not a credential

	// EventInvalidRedirect is logged when an invalid redirect URI is used
	EventInvalidRedirect = "invalid_redirect"

	// EventUnauthorizedGrant is logged when a client requests a grant type it is not registered for
	EventUnauthorizedGrant = "unauthorized_grant"
)
