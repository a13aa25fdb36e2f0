// Package security provides security features for the authorization server
// including rate limiting, audit logging, and secure header management.
package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	IPAddress string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with hashed PII
func (a *Auditor) LogEvent(event Event) {
	if !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", hashForLogging(event.UserID),
		"client_id", event.ClientID,
		"ip_address", event.IPAddress,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs when a token pair is issued
func (a *Auditor) LogTokenIssued(userID, clientID, ipAddress, grantType string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"grant_type": grantType,
		},
	})
}

// LogTokenRefreshed logs when an access token is refreshed
func (a *Auditor) LogTokenRefreshed(userID, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventTokenRefreshed,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogCodeIssued logs when an authorization code is issued
func (a *Auditor) LogCodeIssued(userID, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventCodeIssued,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogCodeRedeemed logs when an authorization code is redeemed for tokens
func (a *Auditor) LogCodeRedeemed(userID, clientID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventCodeRedeemed,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(userID, clientID, ipAddress, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogRateLimitExceeded logs a rate limit violation
func (a *Auditor) LogRateLimitExceeded(ipAddress, userID string) {
	a.LogEvent(Event{
		Type:      EventRateLimitExceeded,
		UserID:    userID,
		IPAddress: ipAddress,
	})
}

// LogClientRegistered logs when a new client is registered
func (a *Auditor) LogClientRegistered(clientID, ipAddress string, grantTypes []string) {
	a.LogEvent(Event{
		Type:      EventClientRegistered,
		ClientID:  clientID,
		IPAddress: ipAddress,
		Details: map[string]any{
			"grant_types": grantTypes,
		},
	})
}

// LogUserRegistered logs when a new user account is created
func (a *Auditor) LogUserRegistered(userID, ipAddress string) {
	a.LogEvent(Event{
		Type:      EventUserRegistered,
		UserID:    userID,
		IPAddress: ipAddress,
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
