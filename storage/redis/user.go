package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth2-server/storage"
)

// watchMaxRetries bounds optimistic-lock retries when a watched key is
// modified concurrently.
const watchMaxRetries = 4

// userJSON is the JSON representation of a user row
type userJSON struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
}

func toUserJSON(u *storage.User) *userJSON {
	return &userJSON{
		ID:           u.ID,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		ClientID:     u.ClientID,
	}
}

func fromUserJSON(j *userJSON) *storage.User {
	if j == nil {
		return nil
	}
	return &storage.User{
		ID:           j.ID,
		Username:     j.Username,
		PasswordHash: j.PasswordHash,
		ClientID:     j.ClientID,
	}
}

// CreateUser hashes the password and persists a new user.
// Username uniqueness is enforced with an optimistic lock on the username
// index key so concurrent registrations cannot both succeed.
func (s *Store) CreateUser(ctx context.Context, username, password string) (*storage.User, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &storage.User{
		Username:     username,
		PasswordHash: string(hash),
	}
	if err := s.insertUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Debug("Created user", "user_id", user.ID, "username", username)
	return user, nil
}

// insertUser allocates an ID and writes the user row plus its indexes under
// a WATCH on the username key. Fills in user.ID on success.
func (s *Store) insertUser(ctx context.Context, user *storage.User) error {
	nameKey := s.usernameKey(user.Username)

	for i := 0; i < watchMaxRetries; i++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			exists, err := tx.Exists(ctx, nameKey).Result()
			if err != nil {
				return err
			}
			if exists > 0 {
				return fmt.Errorf("%w: %s", storage.ErrUsernameTaken, user.Username)
			}

			id, err := tx.Incr(ctx, s.userSeqKey()).Result()
			if err != nil {
				return err
			}
			user.ID = id

			data, err := json.Marshal(toUserJSON(user))
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, s.userKey(id), data, 0)
				pipe.Set(ctx, nameKey, strconv.FormatInt(id, 10), 0)
				if user.ClientID != "" {
					pipe.Set(ctx, s.clientUserKey(user.ClientID), strconv.FormatInt(id, 10), 0)
				}
				return nil
			})
			return err
		}, nameKey)

		if err == redis.TxFailedErr {
			continue
		}
		return err
	}

	return fmt.Errorf("%w: %s", storage.ErrUsernameTaken, user.Username)
}

// UserByCredentials retrieves the user matching username and password.
// A bcrypt comparison runs even when the username is unknown so the two
// failure modes are not distinguishable by timing.
func (s *Store) UserByCredentials(ctx context.Context, username, password string) (*storage.User, error) {
	user, err := s.userByName(ctx, username)
	if err != nil && !errors.Is(err, storage.ErrUserNotFound) {
		return nil, err
	}

	hashToCompare := dummyHash
	if user != nil {
		hashToCompare = user.PasswordHash
	}

	compareErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(password))

	if user == nil || compareErr != nil {
		return nil, fmt.Errorf("%w: invalid credentials", storage.ErrUserNotFound)
	}

	return user, nil
}

// UserByID retrieves a user by ID with the password hash cleared.
func (s *Store) UserByID(ctx context.Context, id int64) (*storage.User, error) {
	user, err := s.getUser(ctx, s.userKey(id))
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	return user, nil
}

// UserForClient retrieves the service-account user owned by a client.
func (s *Store) UserForClient(ctx context.Context, clientID string) (*storage.User, error) {
	idStr, err := s.client.Get(ctx, s.clientUserKey(clientID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: no user for client %s", storage.ErrUserNotFound, clientID)
		}
		return nil, fmt.Errorf("failed to get client user index: %w", err)
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt client user index: %w", err)
	}
	return s.getUser(ctx, s.userKey(id))
}

// userByName resolves the username index and fetches the user row.
func (s *Store) userByName(ctx context.Context, username string) (*storage.User, error) {
	idStr, err := s.client.Get(ctx, s.usernameKey(username)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", storage.ErrUserNotFound, username)
		}
		return nil, fmt.Errorf("failed to get username index: %w", err)
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt username index: %w", err)
	}
	return s.getUser(ctx, s.userKey(id))
}

func (s *Store) getUser(ctx context.Context, key string) (*storage.User, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w", storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	var j userJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return fromUserJSON(&j), nil
}
