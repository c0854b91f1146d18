package aggregate

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/zero-day-ai/aggregator/aggregate"

// Option configures a Store.
type Option func(*config)

type config struct {
	logger  *slog.Logger
	tracer  trace.Tracer
	meter   metric.Meter
	session string
}

func defaultConfig() config {
	return config{
		logger: slog.Default(),
		tracer: tracenoop.NewTracerProvider().Tracer(instrumentationName),
		meter:  metricnoop.NewMeterProvider().Meter(instrumentationName),
	}
}

// WithLogger sets the structured logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTracer sets an OpenTelemetry tracer for report spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *config) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithMeter sets an OpenTelemetry meter for the store's instruments.
func WithMeter(meter metric.Meter) Option {
	return func(c *config) {
		if meter != nil {
			c.meter = meter
		}
	}
}

// WithSession resumes a known scan session instead of starting a new one.
// Persisted groups are stored per session.
func WithSession(id string) Option {
	return func(c *config) {
		c.session = id
	}
}
