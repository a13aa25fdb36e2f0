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

// codeJSON is the JSON representation of an authorization code row
type codeJSON struct {
	Code        string `json:"code"`
	ClientID    string `json:"client_id"`
	UserID      int64  `json:"user_id"`
	RedirectURI string `json:"redirect_uri,omitempty"`
	ExpiresAt   int64  `json:"expires_at"`
}

// SaveAuthorizationCode persists an issued authorization code with a TTL.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("authorization code cannot be empty")
	}

	data, err := json.Marshal(&codeJSON{
		Code:        code.Code,
		ClientID:    code.ClientID,
		UserID:      code.UserID,
		RedirectURI: code.RedirectURI,
		ExpiresAt:   code.ExpiresAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	if err := s.client.Set(ctx, s.codeKey(code.Code), data, rowTTL(code.ExpiresAt)).Err(); err != nil {
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code",
		"client_id", code.ClientID,
		"user_id", code.UserID)
	return nil
}

// AtomicGetAndDeleteAuthorizationCode atomically retrieves and deletes a code.
// The code is consumed at lookup time: a failure in the caller after this
// point loses the code permanently.
func (s *Store) AtomicGetAndDeleteAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	res, err := getAndDeleteScript.Run(ctx, s.client, []string{s.codeKey(code)}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: code not found or already redeemed", storage.ErrCodeNotFound)
		}
		return nil, fmt.Errorf("failed to redeem authorization code: %w", err)
	}

	data, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected script result type %T", res)
	}

	var j codeJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}

	expiresAt := time.Unix(j.ExpiresAt, 0)
	if security.IsTokenExpired(expiresAt) {
		return nil, fmt.Errorf("%w", storage.ErrCodeExpired)
	}

	s.logger.Debug("Atomically retrieved and deleted authorization code",
		"client_id", j.ClientID,
		"user_id", j.UserID)

	return &storage.AuthorizationCode{
		Code:        j.Code,
		ClientID:    j.ClientID,
		UserID:      j.UserID,
		RedirectURI: j.RedirectURI,
		ExpiresAt:   expiresAt,
	}, nil
}

// DeleteAuthorizationCode removes a code row, reporting whether it existed.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) (bool, error) {
	n, err := s.client.Del(ctx, s.codeKey(code)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete authorization code: %w", err)
	}
	return n > 0, nil
}
