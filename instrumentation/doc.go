// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for
// the oauth2-server library.
//
// The package enables observability across all layers through metrics
// (counters and histograms for grant processing, registration, and storage),
// distributed traces for request flows, and structured logs with trace
// context.
//
// # Quick Start
//
// Enable instrumentation with the default no-op providers and attach real
// SDK providers later:
//
//	import "github.com/giantswarm/oauth2-server/instrumentation"
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "my-auth-service",
//		ServiceVersion: "1.0.0",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
// # Available Metrics
//
// HTTP layer:
//   - oauth.http.requests.total{method, endpoint, status} - Total HTTP requests
//   - oauth.http.request.duration{endpoint} - Request duration in milliseconds
//
// Grant processing:
//   - oauth.tokens.issued{grant_type, with_refresh} - Token pairs issued
//   - oauth.grant.failures{grant_type, error} - Rejected grant requests
//   - oauth.codes.issued{client_id} - Authorization codes issued
//   - oauth.codes.redeemed{client_id} - Authorization codes redeemed
//   - oauth.tokens.refreshed{client_id} - Refresh token redemptions
//   - oauth.client.registered{with_service_user} - Client registrations
//   - oauth.user.registered - User registrations
//
// Security:
//   - oauth.rate_limit.exceeded{limiter_type} - Rate limit violations
//
// Storage:
//   - oauth.storage.operations.total{operation, result} - Storage operations
//   - oauth.storage.operation.duration{operation} - Operation duration in milliseconds
//
// # Performance
//
// When instrumentation is not configured, no-op providers are used and the
// overhead is effectively zero. All operations are safe for concurrent use.
//
// # Security Considerations
//
// This package collects observability metadata, never credentials. Callers
// MUST NOT record actual token values, authorization codes, client secrets,
// or passwords in span attributes or metric labels. Only metadata such as
// grant types, client identifiers, expiry durations, and validation results
// may be recorded. Client IP addresses and user identifiers may be PII in
// some jurisdictions; configure retention and access controls accordingly.
package instrumentation
