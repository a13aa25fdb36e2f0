// Package session provides cookie-backed login sessions for the
// authorization endpoint. Sessions are server-side records keyed by an
// unguessable ID; the cookie carries only the ID.
package session

import (
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultCookieName is the session cookie name.
	DefaultCookieName = "oauth_session"

	// DefaultTTL is how long a login session stays valid.
	DefaultTTL = 24 * time.Hour

	defaultCleanupInterval = 10 * time.Minute
)

type record struct {
	userID    int64
	expiresAt time.Time
}

// Manager tracks active login sessions in memory.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]record

	cookieName string
	ttl        time.Duration
	secure     bool
	logger     *slog.Logger

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// Option configures a Manager.
type Option func(*Manager)

// WithCookieName overrides the session cookie name.
func WithCookieName(name string) Option {
	return func(m *Manager) { m.cookieName = name }
}

// WithTTL overrides the session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithSecureCookies marks session cookies Secure. Use whenever the server
// is reached over HTTPS.
func WithSecureCookies(secure bool) Option {
	return func(m *Manager) { m.secure = secure }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a session manager and starts its expiry sweep.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions:    make(map[string]record),
		cookieName:  DefaultCookieName,
		ttl:         DefaultTTL,
		logger:      slog.Default(),
		stopCleanup: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.cleanupLoop(defaultCleanupInterval)
	return m
}

// Stop terminates the expiry sweep.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCleanup) })
}

// Login creates a session for the user and sets the session cookie.
func (m *Manager) Login(w http.ResponseWriter, userID int64) string {
	id := uuid.NewString()

	m.mu.Lock()
	m.sessions[id] = record{userID: userID, expiresAt: time.Now().Add(m.ttl)}
	m.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})

	m.logger.Debug("Session created", "user_id", userID)
	return id
}

// Logout deletes the request's session, if any, and clears the cookie.
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(m.cookieName); err == nil {
		m.mu.Lock()
		delete(m.sessions, cookie.Value)
		m.mu.Unlock()
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// UserFromRequest resolves the request's session cookie to a user ID.
// The second return is false when there is no cookie, the session is
// unknown, or it has expired.
func (m *Manager) UserFromRequest(r *http.Request) (int64, bool) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil {
		return 0, false
	}

	m.mu.RLock()
	rec, ok := m.sessions[cookie.Value]
	m.mu.RUnlock()

	if !ok || time.Now().After(rec.expiresAt) {
		return 0, false
	}
	return rec.userID, true
}

// RequireLogin wraps a handler, redirecting unauthenticated requests to
// loginPath with the original URL in the redirect query parameter.
func (m *Manager) RequireLogin(loginPath string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := m.UserFromRequest(r); !ok {
			target := loginPath + "?redirect=" + url.QueryEscape(r.URL.RequestURI())
			http.Redirect(w, r, target, http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Manager) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.stopCleanup:
			return
		}
	}
}

func (m *Manager) cleanup() {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, rec := range m.sessions {
		if now.After(rec.expiresAt) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("Expired sessions removed", "count", removed)
	}
}
