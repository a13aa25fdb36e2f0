package server

import (
	"net/url"

	"github.com/giantswarm/oauth2-server/storage"
)

// ValidateRedirectURI checks a redirect URI from an authorization request
// against the client's registered URI. Matching is exact string comparison;
// no wildcard or prefix matching is performed.
func ValidateRedirectURI(client *storage.Client, redirectURI string) error {
	if redirectURI == "" {
		return ErrInvalidRequest("redirect_uri is required")
	}
	u, err := url.Parse(redirectURI)
	if err != nil || !u.IsAbs() {
		return ErrInvalidRequest("redirect_uri must be an absolute URL")
	}
	if u.Fragment != "" {
		return ErrInvalidRequest("redirect_uri must not contain a fragment")
	}
	if client.RedirectURI == "" || client.RedirectURI != redirectURI {
		return ErrInvalidRequest("redirect_uri does not match the registered URI")
	}
	return nil
}

// ValidateResponseType checks the response_type of an authorization request.
// Only the authorization code flow is supported.
func ValidateResponseType(responseType string) error {
	if responseType == "" {
		return ErrInvalidRequest("response_type is required")
	}
	if responseType != "code" {
		return ErrInvalidRequest("unsupported response_type: " + responseType)
	}
	return nil
}
