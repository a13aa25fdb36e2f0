// Package oauth implements an OAuth 2.0 authorization server with opaque
// tokens and four grant types: authorization_code, password, refresh_token,
// and client_credentials.
//
// The package splits into layers:
//
//   - storage defines the persistence contract; storage/memory and
//     storage/redis implement it.
//   - server implements grant processing: client and user authentication,
//     per-client grant policy, token issuance, code redemption, and refresh
//     token rotation.
//   - session provides cookie-backed login sessions for the browser-facing
//     authorization endpoint.
//   - security provides rate limiting, audit logging, expiry checks, and
//     client IP extraction.
//   - instrumentation provides optional OpenTelemetry metrics and tracing.
//
// This package ties them together as HTTP handlers. A minimal server:
//
//	store := memory.New()
//	srv, _ := server.New(store, nil, logger)
//	sessions := session.NewManager()
//	handler := oauth.NewHandler(srv, store, sessions, nil, logger)
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/oauth/token", handler.ServeToken)
//	mux.HandleFunc("/oauth/authorize", handler.ServeAuthorization)
//	mux.HandleFunc("/api/user/register", handler.ServeUserRegistration)
//	mux.HandleFunc("/api/user/login", handler.ServeUserLogin)
//	mux.HandleFunc("/api/user", handler.ServeCurrentUser)
//	mux.HandleFunc("/api/client/register", handler.ServeClientRegistration)
//
// Access tokens are opaque random strings valid for four hours. Refresh
// tokens rotate on every use. Authorization codes and refresh tokens are
// single use, enforced atomically by the storage layer.
package oauth
