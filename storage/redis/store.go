// Package redis provides a Redis-backed implementation of all storage
// interfaces, suitable for multi-instance deployments where tokens and
// codes must be shared across servers.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/giantswarm/oauth2-server/security"
	"github.com/giantswarm/oauth2-server/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Redis keys
	DefaultKeyPrefix = "oauth:"

	// scanBatchSize is the number of keys to fetch per SCAN iteration
	scanBatchSize = 100

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second
)

// dummyHash is a pre-computed bcrypt hash compared against when a credential
// lookup misses, keeping unknown-principal and wrong-secret failures
// timing-equivalent.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Config holds configuration for the Redis storage backend.
type Config struct {
	// Address is the Redis server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Redis authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Redis-backed implementation of all storage interfaces.
type Store struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.UserStore   = (*Store)(nil)
	_ storage.ClientStore = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.CodeStore   = (*Store)(nil)
	_ storage.Store       = (*Store)(nil)
)

// New creates a new Redis-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:      cfg.Address,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: cfg.TLS,
	})

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Connected to Redis storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// NewFromClient wraps an existing Redis client. Used by tests.
func NewFromClient(client *redis.Client, prefix string, logger *slog.Logger) *Store {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, prefix: prefix, logger: logger}
}

// Close closes the Redis client connection.
func (s *Store) Close() error {
	err := s.client.Close()
	s.logger.Info("Redis storage connection closed")
	return err
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// ============================================================
// Key Helpers
// ============================================================

// clientKey returns the key for a client: {prefix}client:{clientID}
func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

// userKey returns the key for a user: {prefix}user:id:{id}
func (s *Store) userKey(id int64) string {
	return fmt.Sprintf("%suser:id:%d", s.prefix, id)
}

// usernameKey returns the username index key: {prefix}user:name:{username}
func (s *Store) usernameKey(username string) string {
	return fmt.Sprintf("%suser:name:%s", s.prefix, username)
}

// clientUserKey returns the service-account index key: {prefix}user:client:{clientID}
func (s *Store) clientUserKey(clientID string) string {
	return fmt.Sprintf("%suser:client:%s", s.prefix, clientID)
}

// userSeqKey returns the user ID sequence key: {prefix}user:next_id
func (s *Store) userSeqKey() string {
	return s.prefix + "user:next_id"
}

// accessTokenKey returns the key for an access token: {prefix}token:access:{token}
func (s *Store) accessTokenKey(token string) string {
	return fmt.Sprintf("%stoken:access:%s", s.prefix, token)
}

// refreshTokenKey returns the key for a refresh token: {prefix}token:refresh:{token}
func (s *Store) refreshTokenKey(token string) string {
	return fmt.Sprintf("%stoken:refresh:%s", s.prefix, token)
}

// codeKey returns the key for an authorization code: {prefix}code:{code}
func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, code)
}

// ============================================================
// Helpers
// ============================================================

// rowTTL computes the TTL for an expiring row. The grace padding keeps the
// row around briefly past its logical expiry so reads in that window see an
// expired row instead of a missing one; the read-time expiry check itself is
// strict.
func rowTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt) + security.RowTTLGracePeriod
	if ttl <= 0 {
		return time.Millisecond
	}
	return ttl
}
