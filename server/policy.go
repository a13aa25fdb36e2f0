package server

import (
	"github.com/giantswarm/oauth2-server/security"
	"github.com/giantswarm/oauth2-server/storage"
)

// GrantAllowed reports whether the client is registered for the given grant
// type. Every grant handler consults this gate before touching credentials;
// a violation is terminal for the request.
func (s *Server) GrantAllowed(client *storage.Client, grantType storage.GrantType) bool {
	if client == nil {
		return false
	}
	return client.AllowsGrant(grantType)
}

// requireGrant enforces the grant policy, auditing violations.
func (s *Server) requireGrant(client *storage.Client, grantType storage.GrantType, clientIP string) *Error {
	if s.GrantAllowed(client, grantType) {
		return nil
	}

	s.Logger.Warn("Grant type not permitted for client",
		"client_id", client.ID,
		"grant_type", string(grantType))
	if s.Auditor != nil {
		s.Auditor.LogEvent(security.Event{
			Type:      security.EventUnauthorizedGrant,
			ClientID:  client.ID,
			IPAddress: clientIP,
			Details:   map[string]any{"grant_type": string(grantType)},
		})
	}
	return ErrUnauthorizedClient("grant type not permitted for this client")
}
