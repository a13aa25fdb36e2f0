package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/giantswarm/oauth2-server/security"
	"github.com/giantswarm/oauth2-server/storage"
)

// luaGetAndDelete atomically retrieves and deletes a key. Only one concurrent
// caller can observe the value; everyone else sees the key as missing, which
// is how single-use credentials detect reuse.
//
// KEYS[1] = row key
// Returns the row data, or false if the key does not exist.
const luaGetAndDelete = `
local data = redis.call('GET', KEYS[1])
if not data then
    return false
end
redis.call('DEL', KEYS[1])
return data
`

var getAndDeleteScript = redis.NewScript(luaGetAndDelete)

// accessTokenJSON is the JSON representation of an access token row
type accessTokenJSON struct {
	Token     string `json:"token"`
	ClientID  string `json:"client_id"`
	UserID    int64  `json:"user_id"`
	ExpiresAt int64  `json:"expires_at"`
}

// refreshTokenJSON is the JSON representation of a refresh token row
type refreshTokenJSON struct {
	Token     string `json:"token"`
	ClientID  string `json:"client_id"`
	UserID    int64  `json:"user_id"`
	ExpiresAt int64  `json:"expires_at"`
}

// SaveTokenPair persists an access token and optional refresh token in one
// MULTI/EXEC so both rows become visible together. Rows carry TTLs derived
// from their expiry times.
func (s *Store) SaveTokenPair(ctx context.Context, access *storage.AccessToken, refresh *storage.RefreshToken) error {
	if access == nil || access.Token == "" {
		return fmt.Errorf("access token cannot be empty")
	}
	if refresh != nil && refresh.Token == "" {
		return fmt.Errorf("refresh token cannot be empty")
	}

	accessData, err := json.Marshal(&accessTokenJSON{
		Token:     access.Token,
		ClientID:  access.ClientID,
		UserID:    access.UserID,
		ExpiresAt: access.ExpiresAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal access token: %w", err)
	}

	var refreshData []byte
	if refresh != nil {
		refreshData, err = json.Marshal(&refreshTokenJSON{
			Token:     refresh.Token,
			ClientID:  refresh.ClientID,
			UserID:    refresh.UserID,
			ExpiresAt: refresh.ExpiresAt.Unix(),
		})
		if err != nil {
			return fmt.Errorf("failed to marshal refresh token: %w", err)
		}
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.accessTokenKey(access.Token), accessData, rowTTL(access.ExpiresAt))
		if refresh != nil {
			pipe.Set(ctx, s.refreshTokenKey(refresh.Token), refreshData, rowTTL(refresh.ExpiresAt))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save token pair: %w", err)
	}

	s.logger.Debug("Saved token pair",
		"client_id", access.ClientID,
		"user_id", access.UserID,
		"with_refresh", refresh != nil)
	return nil
}

// GetAccessToken retrieves an access token, rejecting expired rows.
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	data, err := s.client.Get(ctx, s.accessTokenKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: access token", storage.ErrTokenNotFound)
		}
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	var j accessTokenJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal access token: %w", err)
	}

	expiresAt := time.Unix(j.ExpiresAt, 0)
	if security.IsTokenExpired(expiresAt) {
		return nil, fmt.Errorf("%w: access token", storage.ErrTokenExpired)
	}

	return &storage.AccessToken{
		Token:     j.Token,
		ClientID:  j.ClientID,
		UserID:    j.UserID,
		ExpiresAt: expiresAt,
	}, nil
}

// AtomicGetAndDeleteRefreshToken atomically retrieves and deletes a refresh
// token. A second caller presenting the same token sees it as missing.
func (s *Store) AtomicGetAndDeleteRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	res, err := getAndDeleteScript.Run(ctx, s.client, []string{s.refreshTokenKey(token)}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: refresh token not found or already used", storage.ErrTokenNotFound)
		}
		return nil, fmt.Errorf("failed to redeem refresh token: %w", err)
	}

	data, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected script result type %T", res)
	}

	var j refreshTokenJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refresh token: %w", err)
	}

	expiresAt := time.Unix(j.ExpiresAt, 0)
	if security.IsTokenExpired(expiresAt) {
		return nil, fmt.Errorf("%w: refresh token", storage.ErrTokenExpired)
	}

	s.logger.Debug("Atomically retrieved and deleted refresh token",
		"client_id", j.ClientID,
		"user_id", j.UserID)

	return &storage.RefreshToken{
		Token:     j.Token,
		ClientID:  j.ClientID,
		UserID:    j.UserID,
		ExpiresAt: expiresAt,
	}, nil
}

// DeleteRefreshToken removes a refresh token row, reporting whether it existed.
func (s *Store) DeleteRefreshToken(ctx context.Context, token string) (bool, error) {
	n, err := s.client.Del(ctx, s.refreshTokenKey(token)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return n > 0, nil
}
