package server

import (
	"context"
	"errors"
	"time"

	"github.com/giantswarm/oauth2-server/security"
	"github.com/giantswarm/oauth2-server/storage"
)

// IssueAuthorizationCode generates a cryptographically unguessable code bound
// to the client, user, and redirect URI, and persists it with a short TTL.
func (s *Server) IssueAuthorizationCode(ctx context.Context, client *storage.Client, user *storage.User, redirectURI, clientIP string) (*storage.AuthorizationCode, error) {
	code := &storage.AuthorizationCode{
		Code:        generateRandomToken(),
		ClientID:    client.ID,
		UserID:      user.ID,
		RedirectURI: redirectURI,
		ExpiresAt:   time.Now().Add(time.Duration(s.Config.AuthorizationCodeTTL) * time.Second),
	}

	if err := s.store.SaveAuthorizationCode(ctx, code); err != nil {
		s.Logger.Error("Failed to persist authorization code",
			"client_id", client.ID,
			"user_id", user.ID,
			"error", err)
		return nil, ErrServerError("failed to issue authorization code")
	}

	s.Logger.Debug("Issued authorization code",
		"client_id", client.ID,
		"user_id", user.ID,
		"code_prefix", safeTruncate(code.Code, tokenLogLength))
	if s.Auditor != nil {
		s.Auditor.LogCodeIssued(formatUserID(user.ID), client.ID, clientIP)
	}
	if s.Instrumentation != nil && s.Instrumentation.Metrics() != nil {
		s.Instrumentation.Metrics().RecordCodeIssued(ctx, client.ID)
	}

	return code, nil
}

// RedeemAuthorizationCode consumes a code and resolves it to its bound user.
// The code row is atomically deleted at lookup time, so a concurrent or
// repeated redemption of the same code fails. The presented client identity
// must match the code's bound client, and the redirect URI must exactly match
// the one used at issuance; any mismatch yields the same generic error so a
// caller cannot distinguish which check failed.
func (s *Server) RedeemAuthorizationCode(ctx context.Context, client *storage.Client, code, redirectURI, clientIP string) (*storage.User, error) {
	if code == "" {
		return nil, ErrInvalidRequest("code is required")
	}

	ac, err := s.store.AtomicGetAndDeleteAuthorizationCode(ctx, code)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrCodeNotFound):
			s.Logger.Warn("Authorization code not found or already redeemed",
				"client_id", client.ID,
				"code_prefix", safeTruncate(code, tokenLogLength))
			if s.Auditor != nil {
				s.Auditor.LogEvent(security.Event{
					Type:      security.EventCodeReuseDetected,
					ClientID:  client.ID,
					IPAddress: clientIP,
				})
			}
			return nil, ErrInvalidGrant("authorization code is invalid")
		case errors.Is(err, storage.ErrCodeExpired):
			return nil, ErrInvalidGrant("authorization code is expired")
		default:
			s.Logger.Error("Failed to redeem authorization code", "error", err)
			return nil, ErrServerError("code redemption failed")
		}
	}

	if ac.ClientID != client.ID {
		s.Logger.Warn("Authorization code presented by wrong client",
			"code_client_id", ac.ClientID,
			"client_id", client.ID)
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", client.ID, clientIP, "authorization code client mismatch")
		}
		return nil, ErrInvalidGrant("authorization code is invalid")
	}

	if ac.RedirectURI != redirectURI {
		s.Logger.Warn("Redirect URI mismatch at code redemption",
			"client_id", client.ID)
		if s.Auditor != nil {
			s.Auditor.LogEvent(security.Event{
				Type:      security.EventInvalidRedirect,
				ClientID:  client.ID,
				IPAddress: clientIP,
			})
		}
		return nil, ErrInvalidGrant("authorization code is invalid")
	}

	user, err := s.store.UserByID(ctx, ac.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrInvalidGrant("authorization code is invalid")
		}
		s.Logger.Error("Failed to resolve code user", "user_id", ac.UserID, "error", err)
		return nil, ErrServerError("code redemption failed")
	}

	if s.Auditor != nil {
		s.Auditor.LogCodeRedeemed(formatUserID(user.ID), client.ID, clientIP)
	}
	if s.Instrumentation != nil && s.Instrumentation.Metrics() != nil {
		s.Instrumentation.Metrics().RecordCodeRedeemed(ctx, client.ID)
	}

	return user, nil
}

// RevokeAuthorizationCode deletes a code row, reporting whether one existed.
func (s *Server) RevokeAuthorizationCode(ctx context.Context, code string) (bool, error) {
	existed, err := s.store.DeleteAuthorizationCode(ctx, code)
	if err != nil {
		s.Logger.Error("Failed to revoke authorization code", "error", err)
		return false, ErrServerError("revocation failed")
	}
	return existed, nil
}
