package instrumentation

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// DefaultServiceVersion is the service version used when none is provided.
const DefaultServiceVersion = "unknown"

// Config holds instrumentation configuration.
type Config struct {
	// ServiceName is the name of the service
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// Enabled controls whether instrumentation is active.
	// When false, no-op providers are used (zero overhead).
	Enabled bool

	// Resource allows custom resource attributes.
	// If nil, a default resource is created with service name and version.
	Resource *resource.Resource
}

// Instrumentation provides OpenTelemetry instrumentation components.
// A nil *Instrumentation is valid everywhere it is accepted; all package
// helpers treat nil as disabled.
type Instrumentation struct {
	config   Config
	resource *resource.Resource

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider

	metrics *Metrics

	shutdownFuncs []func(context.Context) error
	shutdownOnce  sync.Once
}

// New creates a new instrumentation instance.
func New(config Config) (*Instrumentation, error) {
	if config.ServiceName == "" {
		config.ServiceName = "oauth2-server"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = DefaultServiceVersion
	}

	res := config.Resource
	if res == nil {
		var err error
		res, err = resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(config.ServiceName),
				semconv.ServiceVersion(config.ServiceVersion),
			),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create resource: %w", err)
		}
	}

	inst := &Instrumentation{
		config:   config,
		resource: res,
	}

	// No-op providers unless wired to an exporter by the embedding
	// application via SetProviders.
	inst.meterProvider = noop.NewMeterProvider()
	inst.tracerProvider = tracenoop.NewTracerProvider()

	var err error
	inst.metrics, err = newMetrics(inst)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return inst, nil
}

// SetProviders replaces the metric and trace providers, re-creating all
// metric instruments against the new meter. Call before serving traffic.
func (i *Instrumentation) SetProviders(mp metric.MeterProvider, tp trace.TracerProvider) error {
	if mp != nil {
		i.meterProvider = mp
	}
	if tp != nil {
		i.tracerProvider = tp
	}

	metrics, err := newMetrics(i)
	if err != nil {
		return fmt.Errorf("failed to recreate metrics: %w", err)
	}
	i.metrics = metrics
	return nil
}

// Shutdown gracefully shuts down all registered shutdown functions.
func (i *Instrumentation) Shutdown(ctx context.Context) error {
	var shutdownErr error

	i.shutdownOnce.Do(func() {
		for _, fn := range i.shutdownFuncs {
			if err := fn(ctx); err != nil && shutdownErr == nil {
				shutdownErr = err
			}
		}
	})

	return shutdownErr
}

// Meter returns a named meter for the given scope.
// Scopes are layer names like "http", "server", "storage", "security".
func (i *Instrumentation) Meter(scope string) metric.Meter {
	return i.meterProvider.Meter("github.com/giantswarm/oauth2-server/" + scope)
}

// Tracer returns a named tracer for the given scope.
func (i *Instrumentation) Tracer(scope string) trace.Tracer {
	return i.tracerProvider.Tracer("github.com/giantswarm/oauth2-server/" + scope)
}

// Metrics returns the metrics holder for recording metric values.
func (i *Instrumentation) Metrics() *Metrics {
	return i.metrics
}

// TracerProvider returns the underlying tracer provider.
func (i *Instrumentation) TracerProvider() trace.TracerProvider {
	return i.tracerProvider
}

// MeterProvider returns the underlying meter provider.
func (i *Instrumentation) MeterProvider() metric.MeterProvider {
	return i.meterProvider
}
