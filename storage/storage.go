// Package storage defines the record types and store interfaces for persisting
// OAuth clients, users, tokens, and authorization codes.
// It supports various backend implementations including in-memory and Redis.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by store implementations.
// Callers distinguish protocol-relevant conditions with errors.Is.
var (
	// ErrClientNotFound indicates no client exists with the given ID
	ErrClientNotFound = errors.New("client not found")

	// ErrUserNotFound indicates no user matched the lookup
	ErrUserNotFound = errors.New("user not found")

	// ErrUsernameTaken indicates a user with the requested username already exists
	ErrUsernameTaken = errors.New("username already taken")

	// ErrTokenNotFound indicates the token does not exist or was already consumed
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExpired indicates the token row exists but is past its expiry
	ErrTokenExpired = errors.New("token expired")

	// ErrCodeNotFound indicates the authorization code does not exist or was already redeemed
	ErrCodeNotFound = errors.New("authorization code not found")

	// ErrCodeExpired indicates the authorization code is past its expiry
	ErrCodeExpired = errors.New("authorization code expired")
)

// GrantType is an OAuth 2.0 grant type.
// The set is fixed at compile time; unknown values never enter the store.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantPassword          GrantType = "password"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantClientCredentials GrantType = "client_credentials"
)

// GrantTypes lists every supported grant type.
var GrantTypes = []GrantType{
	GrantAuthorizationCode,
	GrantPassword,
	GrantRefreshToken,
	GrantClientCredentials,
}

// ParseGrantType maps a wire-format grant type string to its GrantType value.
// Unknown strings are rejected so that client registration can never persist
// a grant the token endpoint would not understand.
func ParseGrantType(s string) (GrantType, error) {
	for _, gt := range GrantTypes {
		if s == string(gt) {
			return gt, nil
		}
	}
	return "", fmt.Errorf("unknown grant type: %q", s)
}

// Client represents a registered OAuth client application.
// The secret is stored as a bcrypt hash; the plaintext is returned exactly
// once, from registration.
type Client struct {
	ID          string
	SecretHash  string
	Name        string
	RedirectURI string
	GrantTypes  []GrantType
	CreatedAt   time.Time
}

// AllowsGrant reports whether gt is in the client's permitted grant set.
func (c *Client) AllowsGrant(gt GrantType) bool {
	for _, g := range c.GrantTypes {
		if g == gt {
			return true
		}
	}
	return false
}

// User represents an end user. ClientID is non-empty for service-account
// users owned by a client (the client_credentials pattern).
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	ClientID     string
}

// AccessToken is an issued bearer token bound to a client and user.
type AccessToken struct {
	Token     string
	ClientID  string
	UserID    int64
	ExpiresAt time.Time
}

// RefreshToken is a long-lived token redeemable for a new token pair.
// Redemption is destructive: the row is deleted when the token is used.
type RefreshToken struct {
	Token     string
	ClientID  string
	UserID    int64
	ExpiresAt time.Time
}

// AuthorizationCode is a short-lived single-use credential bound to a client,
// user, and the redirect URI presented at issuance.
type AuthorizationCode struct {
	Code        string
	ClientID    string
	UserID      int64
	RedirectURI string
	ExpiresAt   time.Time
}

// ServiceUser describes the optional service-account user co-created with a
// client registration. The password is plaintext input; stores hash it.
type ServiceUser struct {
	Username string
	Password string
}

// UserStore manages user records and credential verification.
// All methods accept context.Context for tracing and cancellation.
type UserStore interface {
	// CreateUser hashes the password and persists a new user.
	// Returns ErrUsernameTaken if the username exists.
	CreateUser(ctx context.Context, username, password string) (*User, error)

	// UserByCredentials retrieves the user matching username and password.
	// Returns ErrUserNotFound on unknown username or hash-compare failure;
	// the two cases are indistinguishable to the caller.
	UserByCredentials(ctx context.Context, username, password string) (*User, error)

	// UserByID retrieves a user by ID. The returned record has
	// PasswordHash cleared.
	UserByID(ctx context.Context, id int64) (*User, error)

	// UserForClient retrieves the service-account user owned by a client.
	// Returns ErrUserNotFound if the client has no associated user.
	UserForClient(ctx context.Context, clientID string) (*User, error)
}

// ClientStore manages registered OAuth clients.
type ClientStore interface {
	// SaveClient persists a client and, if serviceUser is non-nil, its
	// service-account user in the same transaction: either both rows
	// commit or neither does. Returns the created user, or nil when no
	// service user was requested.
	SaveClient(ctx context.Context, client *Client, serviceUser *ServiceUser) (*User, error)

	// GetClient retrieves a client by ID.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// ValidateClientSecret verifies a client's secret against the stored hash.
	ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error

	// DeleteClient removes a client and cascades to its users, tokens,
	// and authorization codes.
	DeleteClient(ctx context.Context, clientID string) error
}

// TokenStore manages access and refresh token records.
type TokenStore interface {
	// SaveTokenPair persists an access token and, if refresh is non-nil,
	// a refresh token atomically. A write that fails partway must leave
	// zero new rows.
	SaveTokenPair(ctx context.Context, access *AccessToken, refresh *RefreshToken) error

	// GetAccessToken retrieves an access token. Returns ErrTokenExpired
	// if the row exists but is past its expiry.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// AtomicGetAndDeleteRefreshToken atomically retrieves and deletes a
	// refresh token. Under concurrent redemption exactly one caller
	// receives the record; all others get ErrTokenNotFound.
	AtomicGetAndDeleteRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// DeleteRefreshToken removes a refresh token row.
	// Returns whether a row existed.
	DeleteRefreshToken(ctx context.Context, token string) (bool, error)
}

// CodeStore manages authorization code records.
type CodeStore interface {
	// SaveAuthorizationCode persists an issued authorization code.
	SaveAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// AtomicGetAndDeleteAuthorizationCode atomically retrieves and deletes
	// a code. The delete happens at lookup time regardless of what the
	// caller does next, so a code is never returned successfully twice.
	AtomicGetAndDeleteAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes a code row.
	// Returns whether a row existed.
	DeleteAuthorizationCode(ctx context.Context, code string) (bool, error)
}

// Store combines every store interface a backend must provide.
type Store interface {
	UserStore
	ClientStore
	TokenStore
	CodeStore
}
