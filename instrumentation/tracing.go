package instrumentation

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys
//
// SECURITY WARNING: Never record actual credential values (access tokens,
// refresh tokens, authorization codes, client secrets) in traces or metrics.
// Only record metadata such as grant types, expiry times, and validation
// results. Traces are persisted, replicated, and visible to wide audiences.
const (
	// OAuth flow attributes
	AttrClientID         = "oauth.client_id"         // Client identifier (non-secret)
	AttrUserID           = "oauth.user_id"           // User identifier (non-secret)
	AttrGrantType        = "oauth.grant_type"        // OAuth grant type
	AttrResponseType     = "oauth.response_type"     // OAuth response type
	AttrRedirectURI      = "oauth.redirect_uri"      // Redirect URI
	AttrTokenType        = "oauth.token_type"        //nolint:gosec // Token type (Bearer), never the token itself
	AttrExpiresIn        = "oauth.expires_in"        // Token expiry duration
	AttrError            = "oauth.error"             // Error code
	AttrErrorDescription = "oauth.error_description" // Error description

	// Storage attributes
	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"

	// Security attributes
	AttrRateLimiterType = "security.rate_limiter.type"
	AttrClientIP        = "security.client_ip"
	AttrAuditEventType  = "security.audit.event_type"

	// HTTP attributes (in addition to standard semantic conventions)
	AttrHTTPEndpoint   = "http.endpoint"
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError sets an error status on a span (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddOAuthFlowAttributes adds common OAuth flow attributes to a span (nil-safe)
func AddOAuthFlowAttributes(span trace.Span, clientID, userID string) {
	if clientID != "" {
		SetSpanAttributes(span, attribute.String(AttrClientID, clientID))
	}
	if userID != "" {
		SetSpanAttributes(span, attribute.String(AttrUserID, userID))
	}
}

// AddStorageAttributes adds storage operation attributes to a span (nil-safe)
func AddStorageAttributes(span trace.Span, operation, storageType string) {
	SetSpanAttributes(span,
		attribute.String(AttrStorageOperation, operation),
		attribute.String(AttrStorageType, storageType),
	)
}

// AddHTTPAttributes adds HTTP request attributes to a span (nil-safe)
func AddHTTPAttributes(span trace.Span, method, endpoint string, statusCode int) {
	SetSpanAttributes(span,
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPEndpoint, endpoint),
		attribute.Int(AttrHTTPStatusCode, statusCode),
	)
}

// StartStorageSpan starts a span for a storage operation (nil-safe).
// Returns the original context and a nil span when instrumentation is
// disabled; all span helpers in this package accept nil spans.
func StartStorageSpan(ctx context.Context, inst *Instrumentation, operation string) (context.Context, trace.Span) {
	if inst == nil {
		return ctx, nil
	}
	ctx, span := inst.Tracer("storage").Start(ctx, "storage."+operation)
	AddStorageAttributes(span, operation, "memory")
	return ctx, span
}

// RecordStorageOperation finishes a storage span and records the operation
// metric (nil-safe). Call with the error result and the operation start time.
func RecordStorageOperation(ctx context.Context, inst *Instrumentation, span trace.Span, operation string, err error, start time.Time) {
	result := "success"
	if err != nil {
		result = "error"
		RecordError(span, err)
	} else {
		SetSpanSuccess(span)
	}
	if span != nil {
		span.End()
	}
	if inst != nil && inst.Metrics() != nil {
		inst.Metrics().RecordStorageOperation(ctx, operation, result, float64(time.Since(start).Milliseconds()))
	}
}
