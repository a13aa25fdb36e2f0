package server

import (
	"context"
	"errors"
	"time"

	"github.com/giantswarm/oauth2-server/security"
	"github.com/giantswarm/oauth2-server/storage"
)

// TokenPair is the result of a successful token issuance.
type TokenPair struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string // empty when the grant does not issue one
	RefreshTokenExpiresAt time.Time
}

// ExpiresIn returns the access token lifetime in whole seconds, as reported
// in the token endpoint response.
func (p *TokenPair) ExpiresIn() int64 {
	return int64(time.Until(p.AccessTokenExpiresAt).Round(time.Second).Seconds())
}

// IssueTokenPair generates and atomically persists an access token and,
// when withRefresh is set, a refresh token, both bound to the client and user.
func (s *Server) IssueTokenPair(ctx context.Context, client *storage.Client, user *storage.User, withRefresh bool) (*TokenPair, error) {
	now := time.Now()

	access := &storage.AccessToken{
		Token:     generateRandomToken(),
		ClientID:  client.ID,
		UserID:    user.ID,
		ExpiresAt: now.Add(time.Duration(s.Config.AccessTokenTTL) * time.Second),
	}

	var refresh *storage.RefreshToken
	if withRefresh {
		refresh = &storage.RefreshToken{
			Token:     generateRandomToken(),
			ClientID:  client.ID,
			UserID:    user.ID,
			ExpiresAt: now.Add(time.Duration(s.Config.RefreshTokenTTL) * time.Second),
		}
	}

	if err := s.store.SaveTokenPair(ctx, access, refresh); err != nil {
		s.Logger.Error("Failed to persist token pair",
			"client_id", client.ID,
			"user_id", user.ID,
			"error", err)
		return nil, ErrServerError("failed to issue tokens")
	}

	pair := &TokenPair{
		AccessToken:          access.Token,
		AccessTokenExpiresAt: access.ExpiresAt,
	}
	if refresh != nil {
		pair.RefreshToken = refresh.Token
		pair.RefreshTokenExpiresAt = refresh.ExpiresAt
	}

	s.Logger.Debug("Issued token pair",
		"client_id", client.ID,
		"user_id", user.ID,
		"access_token_prefix", safeTruncate(access.Token, tokenLogLength),
		"with_refresh", withRefresh)

	return pair, nil
}

// LookupAccessToken resolves an access token to its client and user.
// Expired or unknown tokens fail with an invalid_token error.
func (s *Server) LookupAccessToken(ctx context.Context, token string) (*storage.Client, *storage.User, error) {
	if token == "" {
		return nil, nil, ErrInvalidToken("missing access token")
	}

	at, err := s.store.GetAccessToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) || errors.Is(err, storage.ErrTokenExpired) {
			return nil, nil, ErrInvalidToken("access token is invalid or expired")
		}
		s.Logger.Error("Failed to look up access token", "error", err)
		return nil, nil, ErrServerError("token lookup failed")
	}

	client, err := s.store.GetClient(ctx, at.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, nil, ErrInvalidToken("access token is invalid or expired")
		}
		s.Logger.Error("Failed to resolve token client", "client_id", at.ClientID, "error", err)
		return nil, nil, ErrServerError("token lookup failed")
	}

	user, err := s.store.UserByID(ctx, at.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, nil, ErrInvalidToken("access token is invalid or expired")
		}
		s.Logger.Error("Failed to resolve token user", "user_id", at.UserID, "error", err)
		return nil, nil, ErrServerError("token lookup failed")
	}

	return client, user, nil
}

// RedeemRefreshToken rotates a refresh token: the presented token is
// atomically consumed and a fresh pair is issued to the same client and user.
// A second redemption of the same token fails, which is the reuse signal.
func (s *Server) RedeemRefreshToken(ctx context.Context, client *storage.Client, token, clientIP string) (*TokenPair, error) {
	if token == "" {
		return nil, ErrInvalidRequest("refresh_token is required")
	}

	rt, err := s.store.AtomicGetAndDeleteRefreshToken(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTokenNotFound):
			s.Logger.Warn("Refresh token not found or already used",
				"client_id", client.ID,
				"token_prefix", safeTruncate(token, tokenLogLength))
			if s.Auditor != nil {
				s.Auditor.LogAuthFailure("", client.ID, clientIP, security.EventTokenReuseDetected)
			}
			return nil, ErrInvalidGrant("refresh token is invalid")
		case errors.Is(err, storage.ErrTokenExpired):
			return nil, ErrInvalidGrant("refresh token is expired")
		default:
			s.Logger.Error("Failed to redeem refresh token", "error", err)
			return nil, ErrServerError("token refresh failed")
		}
	}

	// The consumed token must belong to the authenticated client
	if rt.ClientID != client.ID {
		s.Logger.Warn("Refresh token presented by wrong client",
			"token_client_id", rt.ClientID,
			"client_id", client.ID)
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", client.ID, clientIP, "refresh token client mismatch")
		}
		return nil, ErrInvalidGrant("refresh token is invalid")
	}

	user, err := s.store.UserByID(ctx, rt.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrInvalidGrant("refresh token is invalid")
		}
		s.Logger.Error("Failed to resolve refresh token user", "user_id", rt.UserID, "error", err)
		return nil, ErrServerError("token refresh failed")
	}

	pair, err := s.IssueTokenPair(ctx, client, user, true)
	if err != nil {
		return nil, err
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenRefreshed(formatUserID(user.ID), client.ID, clientIP)
	}
	if s.Instrumentation != nil && s.Instrumentation.Metrics() != nil {
		s.Instrumentation.Metrics().RecordTokenRefresh(ctx, client.ID)
	}

	return pair, nil
}

// RevokeRefreshToken deletes a refresh token row, reporting whether one existed.
func (s *Server) RevokeRefreshToken(ctx context.Context, token string) (bool, error) {
	existed, err := s.store.DeleteRefreshToken(ctx, token)
	if err != nil {
		s.Logger.Error("Failed to revoke refresh token", "error", err)
		return false, ErrServerError("revocation failed")
	}
	return existed, nil
}
