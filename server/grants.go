package server

import (
	"context"
	"errors"

	"github.com/giantswarm/oauth2-server/storage"
)

// TokenRequest carries the parameters of a token endpoint request. ClientIP
// is used only for audit logging.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
	Username     string
	Password     string
	RefreshToken string
	ClientIP     string
}

// Token authenticates the client, checks its grant policy, and dispatches to
// the requested grant. On success the returned pair is already persisted.
func (s *Server) Token(ctx context.Context, req *TokenRequest) (*TokenPair, error) {
	client, err := s.AuthenticateClient(ctx, req.ClientID, req.ClientSecret, req.ClientIP)
	if err != nil {
		s.recordGrantFailure(ctx, req.GrantType, err)
		return nil, err
	}

	grantType, err := storage.ParseGrantType(req.GrantType)
	if err != nil {
		s.Logger.Warn("Unsupported grant type requested",
			"client_id", client.ID,
			"grant_type", req.GrantType)
		gerr := ErrUnsupportedGrantType("unsupported grant type: " + req.GrantType)
		s.recordGrantFailure(ctx, req.GrantType, gerr)
		return nil, gerr
	}

	if gerr := s.requireGrant(client, grantType, req.ClientIP); gerr != nil {
		s.recordGrantFailure(ctx, req.GrantType, gerr)
		return nil, gerr
	}

	var pair *TokenPair
	switch grantType {
	case storage.GrantAuthorizationCode:
		pair, err = s.authorizationCodeGrant(ctx, client, req)
	case storage.GrantPassword:
		pair, err = s.passwordGrant(ctx, client, req)
	case storage.GrantRefreshToken:
		pair, err = s.refreshTokenGrant(ctx, client, req)
	case storage.GrantClientCredentials:
		pair, err = s.clientCredentialsGrant(ctx, client, req)
	default:
		err = ErrUnsupportedGrantType("unsupported grant type: " + req.GrantType)
	}
	if err != nil {
		s.recordGrantFailure(ctx, req.GrantType, err)
		return nil, err
	}

	if s.Instrumentation != nil && s.Instrumentation.Metrics() != nil {
		s.Instrumentation.Metrics().RecordTokenIssued(ctx, req.GrantType, pair.RefreshToken != "")
	}

	return pair, nil
}

func (s *Server) authorizationCodeGrant(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenPair, error) {
	user, err := s.RedeemAuthorizationCode(ctx, client, req.Code, req.RedirectURI, req.ClientIP)
	if err != nil {
		return nil, err
	}

	pair, err := s.IssueTokenPair(ctx, client, user, true)
	if err != nil {
		return nil, err
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(formatUserID(user.ID), client.ID, req.ClientIP, string(storage.GrantAuthorizationCode))
	}
	return pair, nil
}

func (s *Server) passwordGrant(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenPair, error) {
	user, err := s.AuthenticateUser(ctx, req.Username, req.Password, req.ClientIP)
	if err != nil {
		return nil, err
	}

	pair, err := s.IssueTokenPair(ctx, client, user, true)
	if err != nil {
		return nil, err
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(formatUserID(user.ID), client.ID, req.ClientIP, string(storage.GrantPassword))
	}
	return pair, nil
}

func (s *Server) refreshTokenGrant(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenPair, error) {
	if req.RefreshToken == "" {
		return nil, ErrInvalidRequest("refresh_token is required")
	}
	return s.RedeemRefreshToken(ctx, client, req.RefreshToken, req.ClientIP)
}

// clientCredentialsGrant issues an access token bound to the client's service
// user. A client registered without a service user cannot use this grant. No
// refresh token is issued; the client can always re-authenticate.
func (s *Server) clientCredentialsGrant(ctx context.Context, client *storage.Client, req *TokenRequest) (*TokenPair, error) {
	user, err := s.store.UserForClient(ctx, client.ID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			s.Logger.Warn("Client credentials grant without service user", "client_id", client.ID)
			return nil, ErrInvalidGrant("client has no associated user")
		}
		s.Logger.Error("Service user lookup failed", "client_id", client.ID, "error", err)
		return nil, ErrServerError("token issuance failed")
	}

	pair, err := s.IssueTokenPair(ctx, client, user, false)
	if err != nil {
		return nil, err
	}

	if s.Auditor != nil {
		s.Auditor.LogTokenIssued(formatUserID(user.ID), client.ID, req.ClientIP, string(storage.GrantClientCredentials))
	}
	return pair, nil
}

func (s *Server) recordGrantFailure(ctx context.Context, grantType string, err error) {
	if s.Instrumentation == nil || s.Instrumentation.Metrics() == nil {
		return
	}
	code := ErrorCodeServerError
	var oerr *Error
	if errors.As(err, &oerr) {
		code = oerr.Code
	}
	s.Instrumentation.Metrics().RecordGrantFailure(ctx, grantType, code)
}
