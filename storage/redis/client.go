package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth2-server/storage"
)

// clientJSON is the JSON representation of a client row
type clientJSON struct {
	ID          string   `json:"id"`
	SecretHash  string   `json:"secret_hash,omitempty"`
	Name        string   `json:"name,omitempty"`
	RedirectURI string   `json:"redirect_uri,omitempty"`
	GrantTypes  []string `json:"grant_types"`
	CreatedAt   int64    `json:"created_at"`
}

func toClientJSON(c *storage.Client) *clientJSON {
	grants := make([]string, 0, len(c.GrantTypes))
	for _, gt := range c.GrantTypes {
		grants = append(grants, string(gt))
	}
	return &clientJSON{
		ID:          c.ID,
		SecretHash:  c.SecretHash,
		Name:        c.Name,
		RedirectURI: c.RedirectURI,
		GrantTypes:  grants,
		CreatedAt:   c.CreatedAt.Unix(),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	if j == nil {
		return nil
	}
	grants := make([]storage.GrantType, 0, len(j.GrantTypes))
	for _, gt := range j.GrantTypes {
		grants = append(grants, storage.GrantType(gt))
	}
	return &storage.Client{
		ID:          j.ID,
		SecretHash:  j.SecretHash,
		Name:        j.Name,
		RedirectURI: j.RedirectURI,
		GrantTypes:  grants,
		CreatedAt:   time.Unix(j.CreatedAt, 0),
	}
}

// SaveClient persists a client and optionally its service-account user.
// Both rows are written in one MULTI/EXEC under a WATCH on the client and
// username keys, so either both become visible or neither does.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client, serviceUser *storage.ServiceUser) (*storage.User, error) {
	if client == nil || client.ID == "" {
		return nil, fmt.Errorf("invalid client")
	}
	for _, gt := range client.GrantTypes {
		if _, err := storage.ParseGrantType(string(gt)); err != nil {
			return nil, err
		}
	}

	var userHash []byte
	if serviceUser != nil {
		if serviceUser.Username == "" {
			return nil, fmt.Errorf("service user requires a username")
		}
		var err error
		userHash, err = bcrypt.GenerateFromPassword([]byte(serviceUser.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash service user password: %w", err)
		}
	}

	row := *client
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	clientData, err := json.Marshal(toClientJSON(&row))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal client: %w", err)
	}

	clientKey := s.clientKey(client.ID)
	watched := []string{clientKey}
	var nameKey string
	if serviceUser != nil {
		nameKey = s.usernameKey(serviceUser.Username)
		watched = append(watched, nameKey)
	}

	var created *storage.User
	for i := 0; i < watchMaxRetries; i++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			exists, err := tx.Exists(ctx, clientKey).Result()
			if err != nil {
				return err
			}
			if exists > 0 {
				return fmt.Errorf("client %s already registered", client.ID)
			}

			var user *storage.User
			var userData []byte
			if serviceUser != nil {
				taken, err := tx.Exists(ctx, nameKey).Result()
				if err != nil {
					return err
				}
				if taken > 0 {
					return fmt.Errorf("%w: %s", storage.ErrUsernameTaken, serviceUser.Username)
				}

				id, err := tx.Incr(ctx, s.userSeqKey()).Result()
				if err != nil {
					return err
				}
				user = &storage.User{
					ID:           id,
					Username:     serviceUser.Username,
					PasswordHash: string(userHash),
					ClientID:     client.ID,
				}
				userData, err = json.Marshal(toUserJSON(user))
				if err != nil {
					return err
				}
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, clientKey, clientData, 0)
				if user != nil {
					idStr := strconv.FormatInt(user.ID, 10)
					pipe.Set(ctx, s.userKey(user.ID), userData, 0)
					pipe.Set(ctx, nameKey, idStr, 0)
					pipe.Set(ctx, s.clientUserKey(client.ID), idStr, 0)
				}
				return nil
			})
			if err != nil {
				return err
			}

			if user != nil {
				created = &storage.User{
					ID:       user.ID,
					Username: user.Username,
					ClientID: user.ClientID,
				}
			}
			return nil
		}, watched...)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.logger.Debug("Saved client", "client_id", client.ID, "client_name", client.Name)
		return created, nil
	}

	return nil, fmt.Errorf("client %s registration conflicted, retries exhausted", client.ID)
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	data, err := s.client.Get(ctx, s.clientKey(clientID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var j clientJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return fromClientJSON(&j), nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// A bcrypt comparison always runs, against a dummy hash when the client is
// unknown, to keep lookup failures and secret mismatches timing-equivalent.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.GetClient(ctx, clientID)
	if err != nil && !errors.Is(err, storage.ErrClientNotFound) {
		return err
	}

	hashToCompare := dummyHash
	if client != nil && client.SecretHash != "" {
		hashToCompare = client.SecretHash
	}

	compareErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	if client == nil || compareErr != nil {
		return fmt.Errorf("invalid client credentials")
	}
	return nil
}

// DeleteClient removes a client and cascades to its users, tokens, and codes.
// Token and code rows are discovered with batched SCANs; the cascade is not
// atomic, but dangling rows expire via their TTLs regardless.
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	exists, err := s.client.Exists(ctx, s.clientKey(clientID)).Result()
	if err != nil {
		return fmt.Errorf("failed to check client: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}

	// Service-account user and its indexes
	if user, err := s.UserForClient(ctx, clientID); err == nil {
		if err := s.client.Del(ctx, s.userKey(user.ID), s.usernameKey(user.Username)).Err(); err != nil {
			return fmt.Errorf("failed to delete service user: %w", err)
		}
	} else if !errors.Is(err, storage.ErrUserNotFound) {
		return err
	}

	if err := s.client.Del(ctx, s.clientKey(clientID), s.clientUserKey(clientID)).Err(); err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}

	for _, pattern := range []string{
		s.prefix + "token:access:*",
		s.prefix + "token:refresh:*",
		s.prefix + "code:*",
	} {
		if err := s.deleteMatchingClientRows(ctx, pattern, clientID); err != nil {
			return err
		}
	}

	s.logger.Debug("Deleted client and dependent rows", "client_id", clientID)
	return nil
}

// clientIDRow is the minimal shape shared by token and code rows, used to
// match rows against a client during cascade deletes.
type clientIDRow struct {
	ClientID string `json:"client_id"`
}

func (s *Store) deleteMatchingClientRows(ctx context.Context, pattern, clientID string) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("failed to scan keys: %w", err)
		}

		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return fmt.Errorf("failed to get row during cascade: %w", err)
			}

			var row clientIDRow
			if err := json.Unmarshal(data, &row); err != nil {
				continue
			}
			if row.ClientID == clientID {
				if err := s.client.Del(ctx, key).Err(); err != nil {
					return fmt.Errorf("failed to delete row during cascade: %w", err)
				}
			}
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
