package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments for the authorization server.
type Metrics struct {
	// HTTP layer
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Grant processing
	TokensIssued     metric.Int64Counter
	GrantFailures    metric.Int64Counter
	CodesIssued      metric.Int64Counter
	CodesRedeemed    metric.Int64Counter
	TokensRefreshed  metric.Int64Counter
	ClientRegistered metric.Int64Counter
	UserRegistered   metric.Int64Counter

	// Security
	RateLimitExceeded metric.Int64Counter

	// Storage
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
}

// newMetrics creates and registers all metric instruments.
func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}

	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	var err error
	m.HTTPRequestsTotal, err = httpMeter.Int64Counter(
		"oauth.http.requests.total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.requests.total counter: %w", err)
	}

	m.HTTPRequestDuration, err = httpMeter.Float64Histogram(
		"oauth.http.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http.request.duration histogram: %w", err)
	}

	m.TokensIssued, err = serverMeter.Int64Counter(
		"oauth.tokens.issued",
		metric.WithDescription("Number of token pairs issued, by grant type"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.issued counter: %w", err)
	}

	m.GrantFailures, err = serverMeter.Int64Counter(
		"oauth.grant.failures",
		metric.WithDescription("Number of rejected grant requests, by error code"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create grant.failures counter: %w", err)
	}

	m.CodesIssued, err = serverMeter.Int64Counter(
		"oauth.codes.issued",
		metric.WithDescription("Number of authorization codes issued"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create codes.issued counter: %w", err)
	}

	m.CodesRedeemed, err = serverMeter.Int64Counter(
		"oauth.codes.redeemed",
		metric.WithDescription("Number of authorization codes redeemed"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create codes.redeemed counter: %w", err)
	}

	m.TokensRefreshed, err = serverMeter.Int64Counter(
		"oauth.tokens.refreshed",
		metric.WithDescription("Number of refresh token redemptions"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens.refreshed counter: %w", err)
	}

	m.ClientRegistered, err = serverMeter.Int64Counter(
		"oauth.client.registered",
		metric.WithDescription("Number of clients registered"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client.registered counter: %w", err)
	}

	m.UserRegistered, err = serverMeter.Int64Counter(
		"oauth.user.registered",
		metric.WithDescription("Number of users registered"),
		metric.WithUnit("{user}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user.registered counter: %w", err)
	}

	m.RateLimitExceeded, err = securityMeter.Int64Counter(
		"oauth.rate_limit.exceeded",
		metric.WithDescription("Number of rate limit violations"),
		metric.WithUnit("{violation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate_limit.exceeded counter: %w", err)
	}

	m.StorageOperationTotal, err = storageMeter.Int64Counter(
		"oauth.storage.operations.total",
		metric.WithDescription("Total number of storage operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operations.total counter: %w", err)
	}

	m.StorageOperationDuration, err = storageMeter.Float64Histogram(
		"oauth.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.operation.duration histogram: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request metric.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	}

	m.HTTPRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.HTTPRequestDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordTokenIssued records a token pair issuance.
func (m *Metrics) RecordTokenIssued(ctx context.Context, grantType string, withRefresh bool) {
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrGrantType, grantType),
		attribute.Bool("with_refresh", withRefresh),
	))
}

// RecordGrantFailure records a rejected grant request.
func (m *Metrics) RecordGrantFailure(ctx context.Context, grantType, errorCode string) {
	m.GrantFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrGrantType, grantType),
		attribute.String(AttrError, errorCode),
	))
}

// RecordCodeIssued records an authorization code issuance.
func (m *Metrics) RecordCodeIssued(ctx context.Context, clientID string) {
	m.CodesIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrClientID, clientID),
	))
}

// RecordCodeRedeemed records an authorization code redemption.
func (m *Metrics) RecordCodeRedeemed(ctx context.Context, clientID string) {
	m.CodesRedeemed.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrClientID, clientID),
	))
}

// RecordTokenRefresh records a refresh token redemption.
func (m *Metrics) RecordTokenRefresh(ctx context.Context, clientID string) {
	m.TokensRefreshed.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrClientID, clientID),
	))
}

// RecordClientRegistration records a client registration.
func (m *Metrics) RecordClientRegistration(ctx context.Context, withServiceUser bool) {
	m.ClientRegistered.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("with_service_user", withServiceUser),
	))
}

// RecordUserRegistration records a user registration.
func (m *Metrics) RecordUserRegistration(ctx context.Context) {
	m.UserRegistered.Add(ctx, 1)
}

// RecordRateLimitExceeded records a rate limit violation.
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, limiterType string) {
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("limiter_type", limiterType),
	))
}

// RecordStorageOperation records a storage operation.
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("result", result),
	}

	m.StorageOperationTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.StorageOperationDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}
