package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/zero-day-ai/aggregator/aggregate"
	"github.com/zero-day-ai/aggregator/class"
	"github.com/zero-day-ai/aggregator/config"
	"github.com/zero-day-ai/aggregator/finding"
	"github.com/zero-day-ai/aggregator/group"
	"github.com/zero-day-ai/aggregator/health"
	"github.com/zero-day-ai/aggregator/persist"
	"github.com/zero-day-ai/aggregator/query"
	"github.com/zero-day-ai/aggregator/queue"
	"github.com/zero-day-ai/aggregator/worker"
)

// Engine wires an aggregation store to its configured persistence backend
// and findings queue.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *class.Registry
	store    *aggregate.Store

	codec   *persist.Codec
	backend persist.Backend
	queue   *queue.RedisClient
	pool    *worker.Pool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	errs    []error
}

// NewEngine creates an engine. Configuration is resolved in this order:
// WithConfigValue, WithConfig, an empty configuration; WithEnv overrides
// are applied last. Storage and queue connections are opened here so a
// misconfigured engine fails before Start.
//
// Example:
//
//	engine, err := aggregator.NewEngine(
//	    aggregator.WithConfig("/etc/aggregator"),
//	    aggregator.WithEnv(),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Shutdown(context.Background())
func NewEngine(opts ...Option) (*Engine, error) {
	ec := &engineConfig{}
	for _, opt := range opts {
		opt(ec)
	}

	cfg := ec.config
	if cfg == nil && ec.configPath != "" {
		loaded, err := config.Load(ec.configPath)
		if err != nil {
			return nil, finding.NewConfigurationError("NewEngine", err)
		}
		cfg = loaded
	}
	if cfg == nil {
		cfg = &config.Config{}
	}

	if ec.loadEnv {
		if err := config.LoadEnvFiles(ec.envFiles...); err != nil {
			return nil, finding.NewConfigurationError("NewEngine", err)
		}
		if err := cfg.ApplyEnv(); err != nil {
			return nil, finding.NewConfigurationError("NewEngine", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, finding.NewConfigurationError("NewEngine", err)
	}

	logger := ec.logger
	if logger == nil {
		logger = cfg.Logging.NewLogger(os.Stdout)
	}

	registry := ec.registry
	if registry == nil {
		r, err := cfg.Registry()
		if err != nil {
			return nil, finding.NewConfigurationError("NewEngine", err)
		}
		registry = r
	}

	storeOpts := []aggregate.Option{
		aggregate.WithLogger(logger),
		aggregate.WithTracer(ec.tracer),
		aggregate.WithMeter(ec.meter),
		aggregate.WithSession(cfg.Session),
	}
	store, err := aggregate.New(registry, storeOpts...)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger.With("session", store.Session()),
		registry: registry,
		store:    store,
	}

	if err := e.openBackend(); err != nil {
		e.closeResources()
		return nil, finding.NewStorageError("NewEngine", err).
			WithContext(map[string]any{"backend": cfg.Storage.GetBackend()})
	}

	if name := cfg.Worker.GetQueue(); name != "" {
		client, err := queue.NewRedisClient(queue.RedisOptions{URL: cfg.Redis.GetURL()})
		if err != nil {
			e.closeResources()
			return nil, finding.NewConfigurationError("NewEngine", err).
				WithContext(map[string]any{"queue": name})
		}
		e.queue = client
	}

	e.logger.Info("aggregation engine created",
		"classes", registry.Len(),
		"backend", cfg.Storage.GetBackend(),
		"queue", cfg.Worker.GetQueue())

	return e, nil
}

func (e *Engine) openBackend() error {
	backend := e.cfg.Storage.GetBackend()
	if backend == config.BackendNone {
		return nil
	}

	codec, err := persist.NewCodec(persist.Compression(e.cfg.Storage.GetCompression()))
	if err != nil {
		return err
	}
	e.codec = codec

	switch backend {
	case config.BackendRedis:
		rdb, err := queue.Connect(queue.RedisOptions{URL: e.cfg.Redis.GetURL()})
		if err != nil {
			return err
		}
		e.backend = persist.NewRedisBackend(rdb, codec, persist.RedisBackendOptions{
			Prefix: e.cfg.Redis.GetPrefix(),
			TTL:    e.cfg.Redis.GetTTL(),
		})
	case config.BackendSQLite:
		b, err := persist.OpenSQLite(e.cfg.Storage.GetPath(), codec)
		if err != nil {
			return err
		}
		e.backend = b
	case config.BackendPostgres:
		b, err := persist.OpenPostgres(e.cfg.Storage.DSN, codec)
		if err != nil {
			return err
		}
		e.backend = b
	default:
		return fmt.Errorf("unknown storage backend %q", backend)
	}
	return nil
}

// Store returns the aggregation store.
func (e *Engine) Store() *aggregate.Store {
	return e.store
}

// Registry returns the class registry.
func (e *Engine) Registry() *class.Registry {
	return e.registry
}

// Config returns the resolved configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Report adds a finding to the store. See aggregate.Store.Report.
func (e *Engine) Report(ctx context.Context, f *finding.Finding) (*group.Group, error) {
	return e.store.Report(ctx, f)
}

// Groups returns the groups of every bucket matching the CEL filter expr,
// bucket by bucket in creation order. An empty expr matches every group.
func (e *Engine) Groups(expr string) ([]*group.Group, error) {
	var all []*group.Group
	for _, key := range e.store.Buckets() {
		all = append(all, e.store.ListGroups(key.Producer, key.Class)...)
	}
	if expr == "" {
		return all, nil
	}

	filter, err := query.Compile(expr)
	if err != nil {
		return nil, finding.NewValidationError("Engine.Groups", err)
	}
	return filter.Apply(all)
}

// Flush persists the store now. Without a backend it does nothing.
func (e *Engine) Flush(ctx context.Context) error {
	if e.backend == nil {
		return nil
	}
	return persist.Flush(ctx, e.store, e.backend)
}

// Health checks the storage backend and the findings queue. An engine
// without either is healthy.
func (e *Engine) Health(ctx context.Context) health.Status {
	var checks []health.Status

	if p, ok := e.backend.(health.Pinger); ok {
		checks = append(checks, health.PingCheck(ctx, "storage backend", p))
		if e.cfg.Storage.GetBackend() == config.BackendSQLite {
			checks = append(checks, health.FileCheck(e.cfg.Storage.GetPath()))
		}
	}

	if e.queue != nil {
		checks = append(checks,
			health.PingCheck(ctx, "findings queue", e.queue),
			health.BacklogCheck(ctx, e.cfg.Worker.GetQueue(), e.queue.Len, e.cfg.Worker.GetMaxBacklog()),
		)
	}

	return health.Combine(checks...)
}

// Stats returns the worker pool counters; zero before Start or without a
// queue.
func (e *Engine) Stats() worker.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pool == nil {
		return worker.Stats{}
	}
	return e.pool.Stats()
}

// Start restores persisted groups of the session, then starts the periodic
// flusher and the queue workers in the background. It does not block.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return ErrAlreadyStarted
	}

	if e.backend != nil {
		n, err := persist.Load(ctx, e.store, e.backend)
		if err != nil {
			return err
		}
		e.logger.Info("restored persisted groups", "groups", n)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.started = true

	if e.backend != nil {
		flusher := persist.NewFlusher(e.store, e.backend, persist.FlusherOptions{
			Interval: e.cfg.Storage.GetFlushInterval(),
			Logger:   e.logger,
		})
		e.goRun("flusher", func() error { return flusher.Run(runCtx) })
	}

	if e.queue != nil {
		e.pool = worker.NewPool(e.store, worker.Options{
			Config: e.cfg.Worker,
			Logger: e.logger,
		})
		e.goRun("worker pool", func() error { return e.pool.Drain(runCtx, e.queue) })
	}

	e.logger.Info("aggregation engine started")
	return nil
}

func (e *Engine) goRun(name string, fn func() error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := fn(); err != nil {
			e.logger.Error("background task failed", "task", name, "error", err)
			e.mu.Lock()
			e.errs = append(e.errs, fmt.Errorf("%s: %w", name, err))
			e.mu.Unlock()
		}
	}()
}

// Shutdown stops the workers, performs the final flush and closes all
// connections. ctx bounds the wait for background tasks.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	started := e.started
	e.started = false
	cancel := e.cancel
	e.mu.Unlock()

	e.logger.Info("shutting down aggregation engine")

	var err error
	if started {
		cancel()

		done := make(chan struct{})
		go func() {
			e.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			err = fmt.Errorf("waiting for background tasks: %w", ctx.Err())
		}
	}

	e.mu.Lock()
	err = errors.Join(append(e.errs, err)...)
	e.errs = nil
	e.mu.Unlock()

	e.closeResources()
	return err
}

func (e *Engine) closeResources() {
	if e.queue != nil {
		CloseWithLog(e.queue, e.logger, "findings queue")
		e.queue = nil
	}
	if e.backend != nil {
		CloseWithLog(e.backend, e.logger, "storage backend")
		e.backend = nil
	}
	if e.codec != nil {
		e.codec.Close()
		e.codec = nil
	}
}
