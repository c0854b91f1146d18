package aggregator

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/aggregator/class"
	"github.com/zero-day-ai/aggregator/config"
)

// Option configures the Engine.
type Option func(*engineConfig)

// engineConfig holds configuration for the Engine instance.
type engineConfig struct {
	configPath string
	config     *config.Config
	envFiles   []string
	loadEnv    bool
	registry   *class.Registry
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
}

// WithConfig sets the aggregator.yaml path (file or directory) to load.
func WithConfig(path string) Option {
	return func(c *engineConfig) {
		c.configPath = path
	}
}

// WithConfigValue uses an already loaded configuration. It takes priority
// over WithConfig.
func WithConfigValue(cfg *config.Config) Option {
	return func(c *engineConfig) {
		c.config = cfg
	}
}

// WithEnv applies AGGREGATOR_* environment overrides after loading the
// given .env files (".env" when none are named).
func WithEnv(files ...string) Option {
	return func(c *engineConfig) {
		c.loadEnv = true
		c.envFiles = files
	}
}

// WithRegistry sets the class registry instead of building one from the
// configuration.
func WithRegistry(r *class.Registry) Option {
	return func(c *engineConfig) {
		c.registry = r
	}
}

// WithLogger sets a custom logger for the engine.
// If not provided, one is built from the logging section of the configuration.
func WithLogger(logger *slog.Logger) Option {
	return func(c *engineConfig) {
		c.logger = logger
	}
}

// WithTracer sets an OpenTelemetry tracer for report spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *engineConfig) {
		c.tracer = tracer
	}
}

// WithMeter sets an OpenTelemetry meter for the store's instruments.
func WithMeter(meter metric.Meter) Option {
	return func(c *engineConfig) {
		c.meter = meter
	}
}
