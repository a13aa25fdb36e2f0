package session

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(opts...)
	t.Cleanup(m.Stop)
	return m
}

// requestWithSession logs in and returns a request carrying the session cookie.
func requestWithSession(t *testing.T, m *Manager, userID int64) *http.Request {
	t.Helper()

	rec := httptest.NewRecorder()
	m.Login(rec, userID)

	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestLoginSetsCookieAndResolvesUser(t *testing.T) {
	m := newTestManager(t)

	rec := httptest.NewRecorder()
	id := m.Login(rec, 42)
	if id == "" {
		t.Fatal("expected a session ID")
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("got %d cookies, want 1", len(cookies))
	}
	cookie := cookies[0]
	if cookie.Name != DefaultCookieName {
		t.Errorf("cookie name = %q, want %q", cookie.Name, DefaultCookieName)
	}
	if cookie.Value != id {
		t.Error("cookie value does not match session ID")
	}
	if !cookie.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	userID, ok := m.UserFromRequest(req)
	if !ok {
		t.Fatal("session not resolved")
	}
	if userID != 42 {
		t.Errorf("userID = %d, want 42", userID)
	}
}

func TestUserFromRequestWithoutCookie(t *testing.T) {
	m := newTestManager(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := m.UserFromRequest(req); ok {
		t.Error("request without cookie resolved to a user")
	}
}

func TestUserFromRequestUnknownSession(t *testing.T) {
	m := newTestManager(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "no-such-session"})
	if _, ok := m.UserFromRequest(req); ok {
		t.Error("unknown session resolved to a user")
	}
}

func TestExpiredSessionRejected(t *testing.T) {
	m := newTestManager(t, WithTTL(-time.Second))

	req := requestWithSession(t, m, 42)
	if _, ok := m.UserFromRequest(req); ok {
		t.Error("expired session resolved to a user")
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	m := newTestManager(t)

	req := requestWithSession(t, m, 42)

	rec := httptest.NewRecorder()
	m.Logout(rec, req)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge != -1 {
		t.Error("logout must clear the session cookie")
	}

	if _, ok := m.UserFromRequest(req); ok {
		t.Error("session still valid after logout")
	}
}

func TestRequireLoginRedirects(t *testing.T) {
	m := newTestManager(t)

	var called bool
	h := m.RequireLogin("/login", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/oauth/authorize?client_id=c1&state=xyz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if called {
		t.Error("handler called without a session")
	}
	if rec.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusFound)
	}

	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("bad Location header: %v", err)
	}
	if loc.Path != "/login" {
		t.Errorf("redirect path = %q, want /login", loc.Path)
	}
	if got := loc.Query().Get("redirect"); got != "/oauth/authorize?client_id=c1&state=xyz" {
		t.Errorf("redirect param = %q", got)
	}
}

func TestRequireLoginPassesAuthenticated(t *testing.T) {
	m := newTestManager(t)

	var called bool
	h := m.RequireLogin("/login", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := requestWithSession(t, m, 42)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !called {
		t.Error("handler not called for authenticated request")
	}
}

func TestCleanupRemovesExpired(t *testing.T) {
	m := newTestManager(t, WithTTL(-time.Second))

	rec := httptest.NewRecorder()
	m.Login(rec, 1)
	m.Login(rec, 2)

	m.cleanup()

	m.mu.RLock()
	n := len(m.sessions)
	m.mu.RUnlock()
	if n != 0 {
		t.Errorf("sessions remaining after cleanup: %d", n)
	}
}
