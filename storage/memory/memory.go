// Package memory provides an in-memory implementation of all storage interfaces.
// It is suitable for development, testing, and single-instance deployments.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth2-server/instrumentation"
	"github.com/giantswarm/oauth2-server/security"
	"github.com/giantswarm/oauth2-server/storage"
)

// dummyHash is a pre-computed bcrypt hash used when a lookup misses, so that
// credential checks always perform one bcrypt comparison regardless of
// whether the user or client exists. Prevents timing-based enumeration.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Store is an in-memory implementation of all storage interfaces.
// A single mutex guards every map; the mutex scope is the transaction
// boundary, so multi-record writes are atomic with respect to readers.
type Store struct {
	mu sync.RWMutex

	users       map[int64]*storage.User
	usersByName map[string]int64
	nextUserID  int64

	clients map[string]*storage.Client

	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken
	codes         map[string]*storage.AuthorizationCode

	// Instrumentation (optional)
	inst *instrumentation.Instrumentation

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	logger          *slog.Logger
}

// Compile-time interface checks
var (
	_ storage.UserStore   = (*Store)(nil)
	_ storage.ClientStore = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.CodeStore   = (*Store)(nil)
	_ storage.Store       = (*Store)(nil)
)

// New creates a new in-memory store with the default cleanup interval (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom cleanup interval.
// The cleanup goroutine lazily removes expired token and code rows; consumers
// must still treat expired rows as absent (expiry is checked at read time).
func NewWithInterval(interval time.Duration) *Store {
	s := &Store{
		users:           make(map[int64]*storage.User),
		usersByName:     make(map[string]int64),
		clients:         make(map[string]*storage.Client),
		accessTokens:    make(map[string]*storage.AccessToken),
		refreshTokens:   make(map[string]*storage.RefreshToken),
		codes:           make(map[string]*storage.AuthorizationCode),
		cleanupInterval: interval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	if interval > 0 {
		go s.cleanupLoop()
	}

	return s
}

// SetLogger sets the logger for storage operations.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetInstrumentation enables OpenTelemetry metrics and tracing for storage operations.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.inst = inst
}

// Stop stops the background cleanup goroutine.
func (s *Store) Stop() {
	select {
	case <-s.stopCleanup:
	default:
		close(s.stopCleanup)
	}
}

// ============================================================
// UserStore
// ============================================================

// CreateUser hashes the password and persists a new user.
func (s *Store) CreateUser(ctx context.Context, username, password string) (*storage.User, error) {
	ctx, span := instrumentation.StartStorageSpan(ctx, s.inst, "create_user")
	start := time.Now()
	var err error
	defer func() { instrumentation.RecordStorageOperation(ctx, s.inst, span, "create_user", err, start) }()

	if username == "" || password == "" {
		err = fmt.Errorf("username and password are required")
		return nil, err
	}

	hash, hashErr := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if hashErr != nil {
		err = fmt.Errorf("failed to hash password: %w", hashErr)
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.usersByName[username]; taken {
		err = fmt.Errorf("%w: %s", storage.ErrUsernameTaken, username)
		return nil, err
	}

	s.nextUserID++
	user := &storage.User{
		ID:           s.nextUserID,
		Username:     username,
		PasswordHash: string(hash),
	}
	s.users[user.ID] = user
	s.usersByName[username] = user.ID

	s.logger.Debug("Created user", "user_id", user.ID, "username", username)
	return cloneUser(user), nil
}

// UserByCredentials retrieves the user matching username and password.
// A bcrypt comparison runs even when the username is unknown so the two
// failure modes are not distinguishable by timing.
func (s *Store) UserByCredentials(ctx context.Context, username, password string) (*storage.User, error) {
	s.mu.RLock()
	var user *storage.User
	if id, ok := s.usersByName[username]; ok {
		user = s.users[id]
	}
	s.mu.RUnlock()

	hashToCompare := dummyHash
	if user != nil {
		hashToCompare = user.PasswordHash
	}

	compareErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(password))

	if user == nil || compareErr != nil {
		return nil, fmt.Errorf("%w: invalid credentials", storage.ErrUserNotFound)
	}

	return cloneUser(user), nil
}

// UserByID retrieves a user by ID with the password hash cleared.
func (s *Store) UserByID(ctx context.Context, id int64) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", storage.ErrUserNotFound, id)
	}

	out := cloneUser(user)
	out.PasswordHash = ""
	return out, nil
}

// UserForClient retrieves the service-account user owned by a client.
func (s *Store) UserForClient(ctx context.Context, clientID string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.ClientID == clientID {
			return cloneUser(user), nil
		}
	}
	return nil, fmt.Errorf("%w: no user for client %s", storage.ErrUserNotFound, clientID)
}

// ============================================================
// ClientStore
// ============================================================

// SaveClient persists a client and optionally its service-account user.
// Both inserts happen under one lock so either both rows become visible
// or neither does.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client, serviceUser *storage.ServiceUser) (*storage.User, error) {
	ctx, span := instrumentation.StartStorageSpan(ctx, s.inst, "save_client")
	start := time.Now()
	var err error
	defer func() { instrumentation.RecordStorageOperation(ctx, s.inst, span, "save_client", err, start) }()

	if client == nil || client.ID == "" {
		err = fmt.Errorf("invalid client")
		return nil, err
	}
	for _, gt := range client.GrantTypes {
		if _, parseErr := storage.ParseGrantType(string(gt)); parseErr != nil {
			err = parseErr
			return nil, err
		}
	}

	var userHash []byte
	if serviceUser != nil {
		if serviceUser.Username == "" {
			err = fmt.Errorf("service user requires a username")
			return nil, err
		}
		userHash, err = bcrypt.GenerateFromPassword([]byte(serviceUser.Password), bcrypt.DefaultCost)
		if err != nil {
			err = fmt.Errorf("failed to hash service user password: %w", err)
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[client.ID]; exists {
		err = fmt.Errorf("client %s already registered", client.ID)
		return nil, err
	}
	if serviceUser != nil {
		if _, taken := s.usersByName[serviceUser.Username]; taken {
			err = fmt.Errorf("%w: %s", storage.ErrUsernameTaken, serviceUser.Username)
			return nil, err
		}
	}

	s.clients[client.ID] = cloneClient(client)

	var created *storage.User
	if serviceUser != nil {
		s.nextUserID++
		user := &storage.User{
			ID:           s.nextUserID,
			Username:     serviceUser.Username,
			PasswordHash: string(userHash),
			ClientID:     client.ID,
		}
		s.users[user.ID] = user
		s.usersByName[user.Username] = user.ID

		created = cloneUser(user)
		created.PasswordHash = ""
	}

	s.logger.Debug("Saved client", "client_id", client.ID, "client_name", client.Name)
	return created, nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := instrumentation.StartStorageSpan(ctx, s.inst, "get_client")
	start := time.Now()
	var err error
	defer func() { instrumentation.RecordStorageOperation(ctx, s.inst, span, "get_client", err, start) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
		return nil, err
	}

	return cloneClient(client), nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// A bcrypt comparison always runs, against a dummy hash when the client is
// unknown, to keep lookup failures and secret mismatches timing-equivalent.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	s.mu.RLock()
	client, ok := s.clients[clientID]
	s.mu.RUnlock()

	hashToCompare := dummyHash
	if ok && client.SecretHash != "" {
		hashToCompare = client.SecretHash
	}

	compareErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	if !ok || compareErr != nil {
		return fmt.Errorf("invalid client credentials")
	}
	return nil
}

// DeleteClient removes a client and cascades to its users, tokens, and codes.
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[clientID]; !ok {
		return fmt.Errorf("%w: %s", storage.ErrClientNotFound, clientID)
	}

	delete(s.clients, clientID)

	for id, user := range s.users {
		if user.ClientID == clientID {
			delete(s.usersByName, user.Username)
			delete(s.users, id)
		}
	}
	for token, at := range s.accessTokens {
		if at.ClientID == clientID {
			delete(s.accessTokens, token)
		}
	}
	for token, rt := range s.refreshTokens {
		if rt.ClientID == clientID {
			delete(s.refreshTokens, token)
		}
	}
	for code, ac := range s.codes {
		if ac.ClientID == clientID {
			delete(s.codes, code)
		}
	}

	s.logger.Debug("Deleted client and dependent rows", "client_id", clientID)
	return nil
}

// ============================================================
// TokenStore
// ============================================================

// SaveTokenPair persists an access token and optional refresh token atomically.
func (s *Store) SaveTokenPair(ctx context.Context, access *storage.AccessToken, refresh *storage.RefreshToken) error {
	ctx, span := instrumentation.StartStorageSpan(ctx, s.inst, "save_token_pair")
	start := time.Now()
	var err error
	defer func() { instrumentation.RecordStorageOperation(ctx, s.inst, span, "save_token_pair", err, start) }()

	if access == nil || access.Token == "" {
		err = fmt.Errorf("access token cannot be empty")
		return err
	}
	if refresh != nil && refresh.Token == "" {
		err = fmt.Errorf("refresh token cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.accessTokens[access.Token] = &storage.AccessToken{
		Token:     access.Token,
		ClientID:  access.ClientID,
		UserID:    access.UserID,
		ExpiresAt: access.ExpiresAt,
	}
	if refresh != nil {
		s.refreshTokens[refresh.Token] = &storage.RefreshToken{
			Token:     refresh.Token,
			ClientID:  refresh.ClientID,
			UserID:    refresh.UserID,
			ExpiresAt: refresh.ExpiresAt,
		}
	}

	s.logger.Debug("Saved token pair",
		"client_id", access.ClientID,
		"user_id", access.UserID,
		"with_refresh", refresh != nil)
	return nil
}

// GetAccessToken retrieves an access token, rejecting expired rows.
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	at, ok := s.accessTokens[token]
	if !ok {
		return nil, fmt.Errorf("%w: access token", storage.ErrTokenNotFound)
	}
	if security.IsTokenExpired(at.ExpiresAt) {
		// Row physically present but past expiry: treated as absent by
		// consumers, physically removed by the cleanup goroutine.
		return nil, fmt.Errorf("%w: access token", storage.ErrTokenExpired)
	}

	out := *at
	return &out, nil
}

// AtomicGetAndDeleteRefreshToken atomically retrieves and deletes a refresh token.
func (s *Store) AtomicGetAndDeleteRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	s.mu.Lock() // write lock: get-and-delete must be one step
	defer s.mu.Unlock()

	rt, ok := s.refreshTokens[token]
	if !ok {
		return nil, fmt.Errorf("%w: refresh token not found or already used", storage.ErrTokenNotFound)
	}

	if security.IsTokenExpired(rt.ExpiresAt) {
		delete(s.refreshTokens, token)
		return nil, fmt.Errorf("%w: refresh token", storage.ErrTokenExpired)
	}

	delete(s.refreshTokens, token)

	s.logger.Debug("Atomically retrieved and deleted refresh token",
		"client_id", rt.ClientID,
		"user_id", rt.UserID)

	out := *rt
	return &out, nil
}

// DeleteRefreshToken removes a refresh token row, reporting whether it existed.
func (s *Store) DeleteRefreshToken(ctx context.Context, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.refreshTokens[token]
	delete(s.refreshTokens, token)
	return ok, nil
}

// ============================================================
// CodeStore
// ============================================================

// SaveAuthorizationCode persists an issued authorization code.
func (s *Store) SaveAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	ctx, span := instrumentation.StartStorageSpan(ctx, s.inst, "save_authorization_code")
	start := time.Now()
	var err error
	defer func() {
		instrumentation.RecordStorageOperation(ctx, s.inst, span, "save_authorization_code", err, start)
	}()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("authorization code cannot be empty")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.codes[code.Code] = &storage.AuthorizationCode{
		Code:        code.Code,
		ClientID:    code.ClientID,
		UserID:      code.UserID,
		RedirectURI: code.RedirectURI,
		ExpiresAt:   code.ExpiresAt,
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
	s.mu.Lock()
	defer s.mu.Unlock()

	ac, ok := s.codes[code]
	if !ok {
		return nil, fmt.Errorf("%w: code not found or already redeemed", storage.ErrCodeNotFound)
	}

	delete(s.codes, code)

	if security.IsTokenExpired(ac.ExpiresAt) {
		return nil, fmt.Errorf("%w", storage.ErrCodeExpired)
	}

	s.logger.Debug("Atomically retrieved and deleted authorization code",
		"client_id", ac.ClientID,
		"user_id", ac.UserID)

	out := *ac
	return &out, nil
}

// DeleteAuthorizationCode removes a code row, reporting whether it existed.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.codes[code]
	delete(s.codes, code)
	return ok, nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes expired token and code rows. Expiry is still enforced at
// read time; this only bounds memory growth.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0

	for token, at := range s.accessTokens {
		if now.After(at.ExpiresAt) {
			delete(s.accessTokens, token)
			removed++
		}
	}
	for token, rt := range s.refreshTokens {
		if now.After(rt.ExpiresAt) {
			delete(s.refreshTokens, token)
			removed++
		}
	}
	for code, ac := range s.codes {
		if now.After(ac.ExpiresAt) {
			delete(s.codes, code)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("Cleaned up expired rows", "removed", removed)
	}
}

func cloneUser(u *storage.User) *storage.User {
	out := *u
	return &out
}

func cloneClient(c *storage.Client) *storage.Client {
	out := *c
	out.GrantTypes = append([]storage.GrantType(nil), c.GrantTypes...)
	return &out
}
