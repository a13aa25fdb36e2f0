package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth2-server/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewWithInterval(0) // no cleanup goroutine in tests
	t.Cleanup(s.Stop)
	return s
}

func testClient(t *testing.T, id, secret string, grants ...storage.GrantType) *storage.Client {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash secret: %v", err)
	}
	if len(grants) == 0 {
		grants = storage.GrantTypes
	}
	return &storage.Client{
		ID:         id,
		SecretHash: string(hash),
		Name:       "Test Client",
		GrantTypes: grants,
	}
}

func TestCreateUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if user.ID == 0 {
		t.Error("expected non-zero user ID")
	}
	if user.Username != "alice" {
		t.Errorf("Username = %q, want alice", user.Username)
	}
	if user.PasswordHash == "s3cret" {
		t.Error("password must not be stored in plaintext")
	}

	// Second user gets a distinct ID
	user2, err := s.CreateUser(ctx, "bob", "hunter2")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if user2.ID == user.ID {
		t.Error("user IDs must be unique")
	}
}

func TestCreateUserDuplicateUsername(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, "alice", "s3cret"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	_, err := s.CreateUser(ctx, "alice", "other")
	if !errors.Is(err, storage.ErrUsernameTaken) {
		t.Errorf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestUserByCredentials(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateUser(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	user, err := s.UserByCredentials(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("UserByCredentials failed: %v", err)
	}
	if user.ID != created.ID {
		t.Errorf("ID = %d, want %d", user.ID, created.ID)
	}

	// Wrong password and unknown user fail identically
	if _, err := s.UserByCredentials(ctx, "alice", "wrong"); !errors.Is(err, storage.ErrUserNotFound) {
		t.Errorf("wrong password: expected ErrUserNotFound, got %v", err)
	}
	if _, err := s.UserByCredentials(ctx, "nobody", "s3cret"); !errors.Is(err, storage.ErrUserNotFound) {
		t.Errorf("unknown user: expected ErrUserNotFound, got %v", err)
	}
}

func TestUserByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateUser(ctx, "alice", "s3cret")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	user, err := s.UserByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("UserByID failed: %v", err)
	}
	if user.PasswordHash != "" {
		t.Error("UserByID must not expose the password hash")
	}

	if _, err := s.UserByID(ctx, 9999); !errors.Is(err, storage.ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}

func TestSaveClientWithServiceUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	client := testClient(t, "client-1", "secret", storage.GrantClientCredentials)
	svcUser, err := s.SaveClient(ctx, client, &storage.ServiceUser{
		Username: "svc-client-1",
		Password: "svc-pass",
	})
	if err != nil {
		t.Fatalf("SaveClient failed: %v", err)
	}
	if svcUser == nil {
		t.Fatal("expected a service user to be created")
	}
	if svcUser.ClientID != "client-1" {
		t.Errorf("service user ClientID = %q, want client-1", svcUser.ClientID)
	}
	if svcUser.PasswordHash != "" {
		t.Error("returned service user must not carry a password hash")
	}

	got, err := s.UserForClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("UserForClient failed: %v", err)
	}
	if got.ID != svcUser.ID {
		t.Errorf("UserForClient ID = %d, want %d", got.ID, svcUser.ID)
	}
}

func TestSaveClientServiceUserConflictLeavesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, "taken", "pw"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	client := testClient(t, "client-1", "secret")
	_, err := s.SaveClient(ctx, client, &storage.ServiceUser{Username: "taken", Password: "pw"})
	if !errors.Is(err, storage.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	// The client insert must not have been applied
	if _, err := s.GetClient(ctx, "client-1"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Errorf("client should not exist after failed co-create, got %v", err)
	}
}

func TestSaveClientRejectsUnknownGrantType(t *testing.T) {
	s := newTestStore(t)
	client := testClient(t, "client-1", "secret")
	client.GrantTypes = append(client.GrantTypes, storage.GrantType("implicit"))

	if _, err := s.SaveClient(context.Background(), client, nil); err == nil {
		t.Error("expected error for unknown grant type")
	}
}

func TestValidateClientSecret(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.SaveClient(ctx, testClient(t, "client-1", "secret"), nil); err != nil {
		t.Fatalf("SaveClient failed: %v", err)
	}

	if err := s.ValidateClientSecret(ctx, "client-1", "secret"); err != nil {
		t.Errorf("valid secret rejected: %v", err)
	}
	if err := s.ValidateClientSecret(ctx, "client-1", "wrong"); err == nil {
		t.Error("wrong secret accepted")
	}
	if err := s.ValidateClientSecret(ctx, "nobody", "secret"); err == nil {
		t.Error("unknown client accepted")
	}
}

func TestDeleteClientCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	client := testClient(t, "client-1", "secret")
	svcUser, err := s.SaveClient(ctx, client, &storage.ServiceUser{Username: "svc", Password: "pw"})
	if err != nil {
		t.Fatalf("SaveClient failed: %v", err)
	}

	expiry := time.Now().Add(time.Hour)
	err = s.SaveTokenPair(ctx,
		&storage.AccessToken{Token: "at-1", ClientID: "client-1", UserID: svcUser.ID, ExpiresAt: expiry},
		&storage.RefreshToken{Token: "rt-1", ClientID: "client-1", UserID: svcUser.ID, ExpiresAt: expiry},
	)
	if err != nil {
		t.Fatalf("SaveTokenPair failed: %v", err)
	}
	err = s.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{
		Code: "code-1", ClientID: "client-1", UserID: svcUser.ID, ExpiresAt: expiry,
	})
	if err != nil {
		t.Fatalf("SaveAuthorizationCode failed: %v", err)
	}

	if err := s.DeleteClient(ctx, "client-1"); err != nil {
		t.Fatalf("DeleteClient failed: %v", err)
	}

	if _, err := s.GetClient(ctx, "client-1"); !errors.Is(err, storage.ErrClientNotFound) {
		t.Error("client should be gone")
	}
	if _, err := s.UserByID(ctx, svcUser.ID); !errors.Is(err, storage.ErrUserNotFound) {
		t.Error("service user should be gone")
	}
	if _, err := s.GetAccessToken(ctx, "at-1"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Error("access token should be gone")
	}
	if _, err := s.AtomicGetAndDeleteRefreshToken(ctx, "rt-1"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Error("refresh token should be gone")
	}
	if _, err := s.AtomicGetAndDeleteAuthorizationCode(ctx, "code-1"); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Error("authorization code should be gone")
	}
}

func TestSaveTokenPairAndGetAccessToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	expiry := time.Now().Add(time.Hour)
	err := s.SaveTokenPair(ctx,
		&storage.AccessToken{Token: "at-1", ClientID: "client-1", UserID: 7, ExpiresAt: expiry},
		&storage.RefreshToken{Token: "rt-1", ClientID: "client-1", UserID: 7, ExpiresAt: expiry.Add(time.Hour)},
	)
	if err != nil {
		t.Fatalf("SaveTokenPair failed: %v", err)
	}

	at, err := s.GetAccessToken(ctx, "at-1")
	if err != nil {
		t.Fatalf("GetAccessToken failed: %v", err)
	}
	if at.ClientID != "client-1" || at.UserID != 7 {
		t.Errorf("unexpected token row: %+v", at)
	}

	if _, err := s.GetAccessToken(ctx, "missing"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestSaveTokenPairWithoutRefresh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.SaveTokenPair(ctx, &storage.AccessToken{
		Token: "at-1", ClientID: "client-1", UserID: 7, ExpiresAt: time.Now().Add(time.Hour),
	}, nil)
	if err != nil {
		t.Fatalf("SaveTokenPair failed: %v", err)
	}

	if _, err := s.GetAccessToken(ctx, "at-1"); err != nil {
		t.Errorf("GetAccessToken failed: %v", err)
	}
}

func TestGetAccessTokenExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.SaveTokenPair(ctx, &storage.AccessToken{
		Token: "at-1", ClientID: "client-1", UserID: 7, ExpiresAt: time.Now().Add(-time.Hour),
	}, nil)
	if err != nil {
		t.Fatalf("SaveTokenPair failed: %v", err)
	}

	if _, err := s.GetAccessToken(ctx, "at-1"); !errors.Is(err, storage.ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

// Expiry is strict: a row just past its expiresAt instant is already invalid
// to every consuming operation.
func TestExpiryBoundaryIsStrict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	justExpired := time.Now().Add(-2 * time.Second)

	err := s.SaveTokenPair(ctx,
		&storage.AccessToken{Token: "at-1", ClientID: "client-1", UserID: 7, ExpiresAt: justExpired},
		&storage.RefreshToken{Token: "rt-1", ClientID: "client-1", UserID: 7, ExpiresAt: justExpired},
	)
	if err != nil {
		t.Fatalf("SaveTokenPair failed: %v", err)
	}
	err = s.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{
		Code: "code-1", ClientID: "client-1", UserID: 7, ExpiresAt: justExpired,
	})
	if err != nil {
		t.Fatalf("SaveAuthorizationCode failed: %v", err)
	}

	if _, err := s.GetAccessToken(ctx, "at-1"); !errors.Is(err, storage.ErrTokenExpired) {
		t.Errorf("access token 2s past expiry: expected ErrTokenExpired, got %v", err)
	}
	if _, err := s.AtomicGetAndDeleteRefreshToken(ctx, "rt-1"); !errors.Is(err, storage.ErrTokenExpired) {
		t.Errorf("refresh token 2s past expiry: expected ErrTokenExpired, got %v", err)
	}
	if _, err := s.AtomicGetAndDeleteAuthorizationCode(ctx, "code-1"); !errors.Is(err, storage.ErrCodeExpired) {
		t.Errorf("code 2s past expiry: expected ErrCodeExpired, got %v", err)
	}
}

func TestAtomicGetAndDeleteRefreshToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.SaveTokenPair(ctx,
		&storage.AccessToken{Token: "at-1", ClientID: "client-1", UserID: 7, ExpiresAt: time.Now().Add(time.Hour)},
		&storage.RefreshToken{Token: "rt-1", ClientID: "client-1", UserID: 7, ExpiresAt: time.Now().Add(24 * time.Hour)},
	)
	if err != nil {
		t.Fatalf("SaveTokenPair failed: %v", err)
	}

	rt, err := s.AtomicGetAndDeleteRefreshToken(ctx, "rt-1")
	if err != nil {
		t.Fatalf("first redemption failed: %v", err)
	}
	if rt.ClientID != "client-1" {
		t.Errorf("ClientID = %q, want client-1", rt.ClientID)
	}

	// Second redemption must fail: the row was consumed
	if _, err := s.AtomicGetAndDeleteRefreshToken(ctx, "rt-1"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound on reuse, got %v", err)
	}
}

func TestAtomicGetAndDeleteRefreshTokenExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.SaveTokenPair(ctx,
		&storage.AccessToken{Token: "at-1", ClientID: "client-1", UserID: 7, ExpiresAt: time.Now().Add(time.Hour)},
		&storage.RefreshToken{Token: "rt-1", ClientID: "client-1", UserID: 7, ExpiresAt: time.Now().Add(-time.Hour)},
	)
	if err != nil {
		t.Fatalf("SaveTokenPair failed: %v", err)
	}

	if _, err := s.AtomicGetAndDeleteRefreshToken(ctx, "rt-1"); !errors.Is(err, storage.ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
	// Expired row is removed on access
	if _, err := s.AtomicGetAndDeleteRefreshToken(ctx, "rt-1"); !errors.Is(err, storage.ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound after removal, got %v", err)
	}
}

func TestAuthorizationCodeSingleUse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{
		Code:        "code-1",
		ClientID:    "client-1",
		UserID:      7,
		RedirectURI: "https://app.example.com/cb",
		ExpiresAt:   time.Now().Add(5 * time.Minute),
	})
	if err != nil {
		t.Fatalf("SaveAuthorizationCode failed: %v", err)
	}

	ac, err := s.AtomicGetAndDeleteAuthorizationCode(ctx, "code-1")
	if err != nil {
		t.Fatalf("first redemption failed: %v", err)
	}
	if ac.RedirectURI != "https://app.example.com/cb" {
		t.Errorf("RedirectURI = %q", ac.RedirectURI)
	}

	if _, err := s.AtomicGetAndDeleteAuthorizationCode(ctx, "code-1"); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("expected ErrCodeNotFound on reuse, got %v", err)
	}
}

func TestAuthorizationCodeExpiredIsConsumed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{
		Code:      "code-1",
		ClientID:  "client-1",
		UserID:    7,
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("SaveAuthorizationCode failed: %v", err)
	}

	if _, err := s.AtomicGetAndDeleteAuthorizationCode(ctx, "code-1"); !errors.Is(err, storage.ErrCodeExpired) {
		t.Errorf("expected ErrCodeExpired, got %v", err)
	}
	// The expired code was consumed by the lookup
	if _, err := s.AtomicGetAndDeleteAuthorizationCode(ctx, "code-1"); !errors.Is(err, storage.ErrCodeNotFound) {
		t.Errorf("expected ErrCodeNotFound after consumption, got %v", err)
	}
}

func TestDeleteRefreshToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.SaveTokenPair(ctx,
		&storage.AccessToken{Token: "at-1", ClientID: "c", UserID: 1, ExpiresAt: time.Now().Add(time.Hour)},
		&storage.RefreshToken{Token: "rt-1", ClientID: "c", UserID: 1, ExpiresAt: time.Now().Add(time.Hour)},
	)
	if err != nil {
		t.Fatalf("SaveTokenPair failed: %v", err)
	}

	existed, err := s.DeleteRefreshToken(ctx, "rt-1")
	if err != nil || !existed {
		t.Errorf("DeleteRefreshToken = (%v, %v), want (true, nil)", existed, err)
	}
	existed, err = s.DeleteRefreshToken(ctx, "rt-1")
	if err != nil || existed {
		t.Errorf("DeleteRefreshToken on missing row = (%v, %v), want (false, nil)", existed, err)
	}
}

func TestCleanupRemovesExpiredRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	_ = s.SaveTokenPair(ctx,
		&storage.AccessToken{Token: "at-old", ClientID: "c", UserID: 1, ExpiresAt: past},
		&storage.RefreshToken{Token: "rt-old", ClientID: "c", UserID: 1, ExpiresAt: past},
	)
	_ = s.SaveTokenPair(ctx,
		&storage.AccessToken{Token: "at-new", ClientID: "c", UserID: 1, ExpiresAt: future},
		&storage.RefreshToken{Token: "rt-new", ClientID: "c", UserID: 1, ExpiresAt: future},
	)
	_ = s.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{Code: "code-old", ClientID: "c", UserID: 1, ExpiresAt: past})

	s.cleanup()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accessTokens["at-old"]; ok {
		t.Error("expired access token should be removed")
	}
	if _, ok := s.refreshTokens["rt-old"]; ok {
		t.Error("expired refresh token should be removed")
	}
	if _, ok := s.codes["code-old"]; ok {
		t.Error("expired code should be removed")
	}
	if _, ok := s.accessTokens["at-new"]; !ok {
		t.Error("live access token should survive cleanup")
	}
	if _, ok := s.refreshTokens["rt-new"]; !ok {
		t.Error("live refresh token should survive cleanup")
	}
}
