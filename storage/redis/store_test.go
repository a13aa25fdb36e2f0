package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth2-server/storage"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err, "miniredis run failed")

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	store := NewFromClient(rdb, "test:", nil)

	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return store, mr
}

func newRedisTestClient(t *testing.T, id, secret string, grants ...storage.GrantType) *storage.Client {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
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

func TestRedisCreateUser(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.NotEqual(t, "s3cret", user.PasswordHash)

	user2, err := s.CreateUser(ctx, "bob", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), user2.ID)

	_, err = s.CreateUser(ctx, "alice", "other")
	assert.ErrorIs(t, err, storage.ErrUsernameTaken)
}

func TestRedisUserByCredentials(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateUser(ctx, "alice", "s3cret")
	require.NoError(t, err)

	user, err := s.UserByCredentials(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, created.ID, user.ID)

	_, err = s.UserByCredentials(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	_, err = s.UserByCredentials(ctx, "nobody", "s3cret")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestRedisUserByID(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateUser(ctx, "alice", "s3cret")
	require.NoError(t, err)

	user, err := s.UserByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Empty(t, user.PasswordHash, "UserByID must not expose the password hash")

	_, err = s.UserByID(ctx, 9999)
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestRedisSaveClientWithServiceUser(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	client := newRedisTestClient(t, "client-1", "secret", storage.GrantClientCredentials)
	svcUser, err := s.SaveClient(ctx, client, &storage.ServiceUser{
		Username: "svc-client-1",
		Password: "svc-pass",
	})
	require.NoError(t, err)
	require.NotNil(t, svcUser)
	assert.Equal(t, "client-1", svcUser.ClientID)
	assert.Empty(t, svcUser.PasswordHash)

	got, err := s.UserForClient(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, svcUser.ID, got.ID)

	// Service user can authenticate with its password
	_, err = s.UserByCredentials(ctx, "svc-client-1", "svc-pass")
	assert.NoError(t, err)
}

func TestRedisSaveClientServiceUserConflictLeavesNothing(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, "taken", "pw")
	require.NoError(t, err)

	client := newRedisTestClient(t, "client-1", "secret")
	_, err = s.SaveClient(ctx, client, &storage.ServiceUser{Username: "taken", Password: "pw"})
	require.ErrorIs(t, err, storage.ErrUsernameTaken)

	_, err = s.GetClient(ctx, "client-1")
	assert.ErrorIs(t, err, storage.ErrClientNotFound, "client should not exist after failed co-create")
}

func TestRedisSaveClientDuplicate(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveClient(ctx, newRedisTestClient(t, "client-1", "secret"), nil)
	require.NoError(t, err)

	_, err = s.SaveClient(ctx, newRedisTestClient(t, "client-1", "other"), nil)
	assert.Error(t, err)
}

func TestRedisValidateClientSecret(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.SaveClient(ctx, newRedisTestClient(t, "client-1", "secret"), nil)
	require.NoError(t, err)

	assert.NoError(t, s.ValidateClientSecret(ctx, "client-1", "secret"))
	assert.Error(t, s.ValidateClientSecret(ctx, "client-1", "wrong"))
	assert.Error(t, s.ValidateClientSecret(ctx, "nobody", "secret"))
}

func TestRedisTokenPairRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	expiry := time.Now().Add(time.Hour)
	err := s.SaveTokenPair(ctx,
		&storage.AccessToken{Token: "at-1", ClientID: "client-1", UserID: 7, ExpiresAt: expiry},
		&storage.RefreshToken{Token: "rt-1", ClientID: "client-1", UserID: 7, ExpiresAt: expiry.Add(time.Hour)},
	)
	require.NoError(t, err)

	at, err := s.GetAccessToken(ctx, "at-1")
	require.NoError(t, err)
	assert.Equal(t, "client-1", at.ClientID)
	assert.Equal(t, int64(7), at.UserID)

	_, err = s.GetAccessToken(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestRedisGetAccessTokenExpired(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	// Plant a row just past its expiry instant but whose key has not yet
	// been evicted by its TTL. Expiry is strict, so the lookup must fail.
	data, err := json.Marshal(&accessTokenJSON{
		Token:     "at-1",
		ClientID:  "client-1",
		UserID:    7,
		ExpiresAt: time.Now().Add(-2 * time.Second).Unix(),
	})
	require.NoError(t, err)
	require.NoError(t, mr.Set("test:token:access:at-1", string(data)))

	_, err = s.GetAccessToken(ctx, "at-1")
	assert.ErrorIs(t, err, storage.ErrTokenExpired)
}

func TestRedisRefreshTokenSingleUse(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	err := s.SaveTokenPair(ctx,
		&storage.AccessToken{Token: "at-1", ClientID: "client-1", UserID: 7, ExpiresAt: time.Now().Add(time.Hour)},
		&storage.RefreshToken{Token: "rt-1", ClientID: "client-1", UserID: 7, ExpiresAt: time.Now().Add(24 * time.Hour)},
	)
	require.NoError(t, err)

	rt, err := s.AtomicGetAndDeleteRefreshToken(ctx, "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "client-1", rt.ClientID)

	_, err = s.AtomicGetAndDeleteRefreshToken(ctx, "rt-1")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound, "second redemption must fail")
}

func TestRedisRefreshTokenExpired(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	data, err := json.Marshal(&refreshTokenJSON{
		Token:     "rt-1",
		ClientID:  "client-1",
		UserID:    7,
		ExpiresAt: time.Now().Add(-time.Minute).Unix(),
	})
	require.NoError(t, err)
	require.NoError(t, mr.Set("test:token:refresh:rt-1", string(data)))

	_, err = s.AtomicGetAndDeleteRefreshToken(ctx, "rt-1")
	assert.ErrorIs(t, err, storage.ErrTokenExpired)

	// The expired row was consumed by the lookup
	_, err = s.AtomicGetAndDeleteRefreshToken(ctx, "rt-1")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
}

func TestRedisAuthorizationCodeSingleUse(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	err := s.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{
		Code:        "code-1",
		ClientID:    "client-1",
		UserID:      7,
		RedirectURI: "https://app.example.com/cb",
		ExpiresAt:   time.Now().Add(5 * time.Minute),
	})
	require.NoError(t, err)

	ac, err := s.AtomicGetAndDeleteAuthorizationCode(ctx, "code-1")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/cb", ac.RedirectURI)

	_, err = s.AtomicGetAndDeleteAuthorizationCode(ctx, "code-1")
	assert.ErrorIs(t, err, storage.ErrCodeNotFound, "second redemption must fail")
}

func TestRedisAuthorizationCodeExpired(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	data, err := json.Marshal(&codeJSON{
		Code:      "code-1",
		ClientID:  "client-1",
		UserID:    7,
		ExpiresAt: time.Now().Add(-time.Minute).Unix(),
	})
	require.NoError(t, err)
	require.NoError(t, mr.Set("test:code:code-1", string(data)))

	_, err = s.AtomicGetAndDeleteAuthorizationCode(ctx, "code-1")
	assert.ErrorIs(t, err, storage.ErrCodeExpired)
}

func TestRedisDeleteClientCascades(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	client := newRedisTestClient(t, "client-1", "secret")
	svcUser, err := s.SaveClient(ctx, client, &storage.ServiceUser{Username: "svc", Password: "pw"})
	require.NoError(t, err)

	expiry := time.Now().Add(time.Hour)
	require.NoError(t, s.SaveTokenPair(ctx,
		&storage.AccessToken{Token: "at-1", ClientID: "client-1", UserID: svcUser.ID, ExpiresAt: expiry},
		&storage.RefreshToken{Token: "rt-1", ClientID: "client-1", UserID: svcUser.ID, ExpiresAt: expiry},
	))
	require.NoError(t, s.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{
		Code: "code-1", ClientID: "client-1", UserID: svcUser.ID, ExpiresAt: expiry,
	}))

	// A second client's rows must survive the cascade
	require.NoError(t, s.SaveTokenPair(ctx,
		&storage.AccessToken{Token: "at-2", ClientID: "client-2", UserID: 99, ExpiresAt: expiry},
		nil,
	))

	require.NoError(t, s.DeleteClient(ctx, "client-1"))

	_, err = s.GetClient(ctx, "client-1")
	assert.ErrorIs(t, err, storage.ErrClientNotFound)
	_, err = s.UserByID(ctx, svcUser.ID)
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
	_, err = s.GetAccessToken(ctx, "at-1")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
	_, err = s.AtomicGetAndDeleteRefreshToken(ctx, "rt-1")
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)
	_, err = s.AtomicGetAndDeleteAuthorizationCode(ctx, "code-1")
	assert.ErrorIs(t, err, storage.ErrCodeNotFound)

	_, err = s.GetAccessToken(ctx, "at-2")
	assert.NoError(t, err, "other client's tokens must survive")
}

func TestRedisDeleteRefreshToken(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveTokenPair(ctx,
		&storage.AccessToken{Token: "at-1", ClientID: "c", UserID: 1, ExpiresAt: time.Now().Add(time.Hour)},
		&storage.RefreshToken{Token: "rt-1", ClientID: "c", UserID: 1, ExpiresAt: time.Now().Add(time.Hour)},
	))

	existed, err := s.DeleteRefreshToken(ctx, "rt-1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.DeleteRefreshToken(ctx, "rt-1")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestRedisRowsCarryTTL(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAuthorizationCode(ctx, &storage.AuthorizationCode{
		Code: "code-1", ClientID: "c", UserID: 1, ExpiresAt: time.Now().Add(5 * time.Minute),
	}))

	ttl := mr.TTL("test:code:code-1")
	assert.Greater(t, ttl, time.Duration(0), "code rows must carry a TTL")
	assert.LessOrEqual(t, ttl, 5*time.Minute+time.Minute)
}
