package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/oauth2-server/instrumentation"
	"github.com/giantswarm/oauth2-server/security"
	"github.com/giantswarm/oauth2-server/server"
	"github.com/giantswarm/oauth2-server/session"
	"github.com/giantswarm/oauth2-server/storage"
)

const tokenTypeBearer = "bearer"

// Handler exposes the authorization server over HTTP. Wire its Serve*
// methods onto a mux:
//
//	mux.HandleFunc("/oauth/token", handler.ServeToken)
//	mux.HandleFunc("/oauth/authorize", handler.ServeAuthorization)
//	mux.HandleFunc("/api/user/register", handler.ServeUserRegistration)
//	mux.HandleFunc("/api/user/login", handler.ServeUserLogin)
//	mux.HandleFunc("/api/user", handler.ServeCurrentUser)
//	mux.HandleFunc("/api/client/register", handler.ServeClientRegistration)
type Handler struct {
	server   *server.Server
	store    storage.Store
	sessions *session.Manager
	config   *Config
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewHandler creates the HTTP handler. sessions may be nil when the
// authorization and login endpoints are not served; requests reaching
// them without a session manager fail with server_error.
func NewHandler(srv *server.Server, store storage.Store, sessions *session.Manager, config *Config, logger *slog.Logger) *Handler {
	if config == nil {
		config = &Config{}
	}
	config.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		server:   srv,
		store:    store,
		sessions: sessions,
		config:   config,
		logger:   logger,
	}
	if srv.Instrumentation != nil {
		h.tracer = srv.Instrumentation.Tracer("http")
	}
	return h
}

// ServeToken handles POST /oauth/token.
func (h *Handler) ServeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	startTime := time.Now()
	ctx := r.Context()

	var span trace.Span
	if h.tracer != nil {
		ctx, span = h.tracer.Start(ctx, "oauth.http.token")
		defer span.End()
	}

	clientIP := h.clientIP(r)
	if h.checkIPRateLimit(w, clientIP, "token") {
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusTooManyRequests, startTime)
		return
	}

	if err := r.ParseForm(); err != nil {
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusBadRequest, startTime)
		h.writeError(w, server.ErrorCodeInvalidRequest, "Failed to parse request", http.StatusBadRequest)
		return
	}

	clientID, clientSecret := h.extractClientCredentials(r)

	req := &server.TokenRequest{
		GrantType:    r.FormValue("grant_type"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Code:         r.FormValue("code"),
		RedirectURI:  r.FormValue("redirect_uri"),
		Username:     r.FormValue("username"),
		Password:     r.FormValue("password"),
		RefreshToken: r.FormValue("refresh_token"),
		ClientIP:     clientIP,
	}

	instrumentation.SetSpanAttributes(span,
		attribute.String(instrumentation.AttrGrantType, req.GrantType),
		attribute.String(instrumentation.AttrClientID, clientID),
	)

	pair, err := h.server.Token(ctx, req)
	if err != nil {
		status := h.writeOAuthError(w, err)
		h.recordHTTPMetrics(ctx, "token", http.MethodPost, status, startTime)
		instrumentation.RecordError(span, err)
		instrumentation.SetSpanError(span, "grant failed")
		return
	}

	h.logger.Info("Token issued", "client_id", clientID, "grant_type", req.GrantType, "ip", clientIP)
	h.recordHTTPMetrics(ctx, "token", http.MethodPost, http.StatusOK, startTime)
	instrumentation.SetSpanSuccess(span)

	h.writeJSON(w, http.StatusOK, &TokenResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    pair.ExpiresIn(),
		RefreshToken: pair.RefreshToken,
	})
}

// ServeAuthorization handles GET /oauth/authorize. It requires an active
// login session; unauthenticated requests are redirected to the login page
// with the original URL as the redirect target.
func (h *Handler) ServeAuthorization(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	startTime := time.Now()
	ctx := r.Context()

	if h.sessions == nil {
		h.logger.Error("Authorization endpoint served without a session manager")
		h.writeError(w, server.ErrorCodeServerError, "authorization failed", http.StatusInternalServerError)
		return
	}

	userID, ok := h.sessions.UserFromRequest(r)
	if !ok {
		target := h.config.LoginPath + "?redirect=" + url.QueryEscape(r.URL.RequestURI())
		http.Redirect(w, r, target, http.StatusFound)
		return
	}

	query := r.URL.Query()
	clientID := query.Get("client_id")
	redirectURI := query.Get("redirect_uri")
	state := query.Get("state")

	if clientID == "" {
		h.writeError(w, server.ErrorCodeInvalidRequest, "client_id is required", http.StatusBadRequest)
		return
	}
	if err := server.ValidateResponseType(query.Get("response_type")); err != nil {
		h.writeOAuthError(w, err)
		return
	}

	client, err := h.store.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			h.writeError(w, server.ErrorCodeInvalidRequest, "unknown client", http.StatusBadRequest)
			return
		}
		h.logger.Error("Client lookup failed", "client_id", clientID, "error", err)
		h.writeError(w, server.ErrorCodeServerError, "authorization failed", http.StatusInternalServerError)
		return
	}

	// The redirect URI is never used as a redirect target until it has
	// been validated against the registration.
	if err := server.ValidateRedirectURI(client, redirectURI); err != nil {
		h.writeOAuthError(w, err)
		return
	}
	if !h.server.GrantAllowed(client, storage.GrantAuthorizationCode) {
		h.writeError(w, server.ErrorCodeUnauthorizedClient, "client may not use the authorization code grant", http.StatusBadRequest)
		return
	}

	user, err := h.store.UserByID(ctx, userID)
	if err != nil {
		h.logger.Error("Session user lookup failed", "user_id", userID, "error", err)
		h.writeError(w, server.ErrorCodeServerError, "authorization failed", http.StatusInternalServerError)
		return
	}

	code, err := h.server.IssueAuthorizationCode(ctx, client, user, redirectURI, h.clientIP(r))
	if err != nil {
		h.writeOAuthError(w, err)
		return
	}

	h.recordHTTPMetrics(ctx, "authorize", http.MethodGet, http.StatusFound, startTime)

	target, _ := url.Parse(redirectURI)
	params := target.Query()
	params.Set("code", code.Code)
	if state != "" {
		params.Set("state", state)
	}
	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// ServeUserRegistration handles POST /api/user/register.
func (h *Handler) ServeUserRegistration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	startTime := time.Now()
	ctx := r.Context()

	var req userRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, server.ErrorCodeInvalidRequest, "invalid JSON body", http.StatusUnprocessableEntity)
		return
	}
	if req.Username == "" || req.Password == "" {
		h.writeError(w, server.ErrorCodeInvalidRequest, "username and password are required", http.StatusUnprocessableEntity)
		return
	}

	user, err := h.store.CreateUser(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, storage.ErrUsernameTaken) {
			h.logger.Warn("User registration conflict", "username", req.Username)
			h.writeError(w, server.ErrorCodeServerError, "could not create user", http.StatusInternalServerError)
			return
		}
		h.logger.Error("User registration failed", "error", err)
		h.writeError(w, server.ErrorCodeServerError, "could not create user", http.StatusInternalServerError)
		return
	}

	h.logger.Info("User registered", "user_id", user.ID)
	if h.server.Auditor != nil {
		h.server.Auditor.LogUserRegistered(formatID(user.ID), h.clientIP(r))
	}
	if h.server.Instrumentation != nil && h.server.Instrumentation.Metrics() != nil {
		h.server.Instrumentation.Metrics().RecordUserRegistration(ctx)
	}
	h.recordHTTPMetrics(ctx, "user_register", http.MethodPost, http.StatusCreated, startTime)

	h.writeJSON(w, http.StatusCreated, &userRegistrationResponse{
		User: UserInfo{ID: user.ID, Username: user.Username},
	})
}

// ServeUserLogin handles POST /api/user/login, creating a login session.
func (h *Handler) ServeUserLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	clientIP := h.clientIP(r)
	if h.checkIPRateLimit(w, clientIP, "login") {
		return
	}

	if h.sessions == nil {
		h.logger.Error("Login endpoint served without a session manager")
		h.writeError(w, server.ErrorCodeServerError, "login failed", http.StatusInternalServerError)
		return
	}

	var req userLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, server.ErrorCodeInvalidRequest, "invalid JSON body", http.StatusUnprocessableEntity)
		return
	}

	user, err := h.store.UserByCredentials(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			if h.server.Auditor != nil {
				h.server.Auditor.LogAuthFailure("", "", clientIP, "invalid login credentials")
			}
			h.writeError(w, server.ErrorCodeInvalidGrant, "invalid credentials", http.StatusUnauthorized)
			return
		}
		h.logger.Error("Login failed", "error", err)
		h.writeError(w, server.ErrorCodeServerError, "login failed", http.StatusInternalServerError)
		return
	}

	h.sessions.Login(w, user.ID)
	h.writeJSON(w, http.StatusOK, &messageResponse{Message: "login successful"})
}

// ServeCurrentUser handles GET /api/user, resolving the bearer token to the
// user it was issued to.
func (h *Handler) ServeCurrentUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token, ok := h.extractBearerToken(r)
	if !ok {
		h.writeError(w, server.ErrorCodeInvalidToken, "bearer token required", http.StatusUnauthorized)
		return
	}

	_, user, err := h.server.AuthenticateBearer(r.Context(), token)
	if err != nil {
		h.writeOAuthError(w, err)
		return
	}

	if h.checkUserRateLimit(w, r, user.ID) {
		return
	}

	h.writeJSON(w, http.StatusOK, &UserInfo{ID: user.ID, Username: user.Username})
}

// ServeClientRegistration handles POST /api/client/register. The plaintext
// secret is returned exactly once; only its bcrypt hash is stored. An
// invalid request persists nothing.
func (h *Handler) ServeClientRegistration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	startTime := time.Now()
	ctx := r.Context()
	clientIP := h.clientIP(r)

	var req clientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, server.ErrorCodeInvalidRequest, "invalid JSON body", http.StatusUnprocessableEntity)
		return
	}
	if req.Name == "" || req.RedirectURI == "" || len(req.Grants) == 0 {
		h.writeError(w, server.ErrorCodeInvalidRequest, "name, redirectUri, and grants are required", http.StatusUnprocessableEntity)
		return
	}

	grants := make([]storage.GrantType, 0, len(req.Grants))
	for _, g := range req.Grants {
		gt, err := storage.ParseGrantType(g)
		if err != nil {
			h.logger.Warn("Client registration with unknown grant", "grant", g, "ip", clientIP)
			if h.server.Auditor != nil {
				h.server.Auditor.LogEvent(security.Event{
					Type:      security.EventClientRegistrationRejected,
					IPAddress: clientIP,
					Details:   map[string]any{"grant": g},
				})
			}
			h.writeError(w, server.ErrorCodeInvalidRequest, "unknown grant type: "+g, http.StatusUnprocessableEntity)
			return
		}
		grants = append(grants, gt)
	}

	secret := server.GenerateClientSecret()
	secretHash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("Secret hashing failed", "error", err)
		h.writeError(w, server.ErrorCodeServerError, "could not register client", http.StatusInternalServerError)
		return
	}

	client := &storage.Client{
		ID:          uuid.NewString(),
		SecretHash:  string(secretHash),
		Name:        req.Name,
		RedirectURI: req.RedirectURI,
		GrantTypes:  grants,
	}

	var serviceUser *storage.ServiceUser
	if req.User != nil {
		if req.User.Username == "" || req.User.Password == "" {
			h.writeError(w, server.ErrorCodeInvalidRequest, "service user requires username and password", http.StatusUnprocessableEntity)
			return
		}
		serviceUser = &storage.ServiceUser{
			Username: req.User.Username,
			Password: req.User.Password,
		}
	}

	created, err := h.store.SaveClient(ctx, client, serviceUser)
	if err != nil {
		if errors.Is(err, storage.ErrUsernameTaken) {
			h.writeError(w, server.ErrorCodeInvalidRequest, "service user username already taken", http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("Client registration failed", "error", err)
		h.writeError(w, server.ErrorCodeServerError, "could not register client", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Client registered", "client_id", client.ID, "name", client.Name)
	if h.server.Auditor != nil {
		h.server.Auditor.LogClientRegistered(client.ID, clientIP, req.Grants)
	}
	if h.server.Instrumentation != nil && h.server.Instrumentation.Metrics() != nil {
		h.server.Instrumentation.Metrics().RecordClientRegistration(ctx, serviceUser != nil)
	}
	h.recordHTTPMetrics(ctx, "client_register", http.MethodPost, http.StatusOK, startTime)

	info := ClientInfo{
		ID:          client.ID,
		Secret:      secret,
		Name:        client.Name,
		RedirectURI: client.RedirectURI,
		Grants:      req.Grants,
	}
	if created != nil {
		info.User = &UserInfo{ID: created.ID, Username: created.Username}
	}
	h.writeJSON(w, http.StatusOK, &clientRegistrationResponse{Client: info})
}

// extractClientCredentials reads client credentials from Basic auth, falling
// back to client_secret_post form fields.
func (h *Handler) extractClientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.FormValue("client_id"), r.FormValue("client_secret")
}

func (h *Handler) extractBearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func (h *Handler) clientIP(r *http.Request) string {
	return security.GetClientIP(r, h.config.TrustProxy, h.config.TrustedProxyCount)
}

// checkIPRateLimit reports whether the request was rejected.
func (h *Handler) checkIPRateLimit(w http.ResponseWriter, clientIP, endpoint string) bool {
	if h.server.RateLimiter == nil || h.server.RateLimiter.Allow(clientIP) {
		return false
	}

	h.logger.Warn("Rate limit exceeded", "ip", clientIP, "endpoint", endpoint)
	if h.server.Auditor != nil {
		h.server.Auditor.LogRateLimitExceeded(clientIP, "")
	}
	if h.server.Instrumentation != nil && h.server.Instrumentation.Metrics() != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(context.Background(), "ip")
	}
	h.writeError(w, server.ErrorCodeRateLimitExceeded, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
	return true
}

// checkUserRateLimit reports whether an authenticated request was rejected.
func (h *Handler) checkUserRateLimit(w http.ResponseWriter, r *http.Request, userID int64) bool {
	if h.server.UserRateLimiter == nil || h.server.UserRateLimiter.Allow(formatID(userID)) {
		return false
	}

	h.logger.Warn("User rate limit exceeded", "user_id", userID)
	if h.server.Auditor != nil {
		h.server.Auditor.LogRateLimitExceeded(h.clientIP(r), formatID(userID))
	}
	if h.server.Instrumentation != nil && h.server.Instrumentation.Metrics() != nil {
		h.server.Instrumentation.Metrics().RecordRateLimitExceeded(r.Context(), "user")
	}
	h.writeError(w, server.ErrorCodeRateLimitExceeded, "Rate limit exceeded for user. Please try again later.", http.StatusTooManyRequests)
	return true
}

// writeOAuthError renders a grant processing error and returns the HTTP
// status used. Unrecognized errors are rendered as a generic server error.
func (h *Handler) writeOAuthError(w http.ResponseWriter, err error) int {
	var oerr *server.Error
	if errors.As(err, &oerr) {
		h.writeError(w, oerr.Code, oerr.Description, oerr.Status)
		return oerr.Status
	}
	h.writeError(w, server.ErrorCodeServerError, "internal error", http.StatusInternalServerError)
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, code, description string, status int) {
	security.SetSecurityHeaders(w, h.config.ServerURL)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&ErrorResponse{Error: code, ErrorDescription: description})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	security.SetSecurityHeaders(w, h.config.ServerURL)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) recordHTTPMetrics(ctx context.Context, endpoint, method string, status int, start time.Time) {
	if h.server.Instrumentation == nil || h.server.Instrumentation.Metrics() == nil {
		return
	}
	h.server.Instrumentation.Metrics().RecordHTTPRequest(ctx, method, endpoint, status, float64(time.Since(start).Milliseconds()))
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
