package server

import (
	"context"
	"errors"

	"github.com/giantswarm/oauth2-server/storage"
)

// AuthenticateClient verifies client credentials against the stored secret
// hash. Unknown clients and wrong secrets produce the same error, and a
// constant-time comparison is performed in both cases.
func (s *Server) AuthenticateClient(ctx context.Context, clientID, clientSecret, clientIP string) (*storage.Client, error) {
	if clientID == "" {
		return nil, ErrInvalidClient("client authentication required")
	}

	if err := s.store.ValidateClientSecret(ctx, clientID, clientSecret); err != nil {
		s.Logger.Warn("Client authentication failed", "client_id", clientID)
		if s.Auditor != nil {
			s.Auditor.LogAuthFailure("", clientID, clientIP, "invalid client credentials")
		}
		return nil, ErrInvalidClient("invalid client credentials")
	}

	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, ErrInvalidClient("invalid client credentials")
		}
		s.Logger.Error("Client lookup failed after authentication", "client_id", clientID, "error", err)
		return nil, ErrServerError("client authentication failed")
	}

	return client, nil
}

// AuthenticateUser verifies resource owner credentials. Unknown usernames and
// wrong passwords are indistinguishable to the caller.
func (s *Server) AuthenticateUser(ctx context.Context, username, password, clientIP string) (*storage.User, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidRequest("username and password are required")
	}

	user, err := s.store.UserByCredentials(ctx, username, password)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			s.Logger.Warn("User authentication failed", "username", username)
			if s.Auditor != nil {
				s.Auditor.LogAuthFailure("", "", clientIP, "invalid user credentials")
			}
			return nil, ErrInvalidGrant("invalid user credentials")
		}
		s.Logger.Error("User authentication error", "error", err)
		return nil, ErrServerError("user authentication failed")
	}

	return user, nil
}

// AuthenticateBearer resolves a bearer token from an HTTP request into the
// client and user it was issued to.
func (s *Server) AuthenticateBearer(ctx context.Context, token string) (*storage.Client, *storage.User, error) {
	if token == "" {
		return nil, nil, ErrInvalidToken("bearer token required")
	}
	return s.LookupAccessToken(ctx, token)
}
