package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/aggregator/config"
	"github.com/zero-day-ai/aggregator/finding"
	"github.com/zero-day-ai/aggregator/group"
	"github.com/zero-day-ai/aggregator/queue"
)

// Reporter receives findings. *aggregate.Store implements it.
type Reporter interface {
	Report(ctx context.Context, f *finding.Finding) (*group.Group, error)
}

// Options configures the worker behavior.
type Options struct {
	// Queue is the Redis list findings are popped from by Run.
	// If empty, uses the worker config value or "findings".
	Queue string

	// Concurrency is the number of worker goroutines to start.
	// If 0, uses the worker config value or default (4).
	Concurrency int

	// ShutdownTimeout is the time to wait for workers once ctx is done.
	// If 0, uses the worker config value or default (30s).
	ShutdownTimeout time.Duration

	// PopTimeout bounds each blocking pop in Run.
	// If 0, uses the worker config value or default (1s).
	PopTimeout time.Duration

	// Logger is the structured logger for worker operations.
	// If nil, slog.Default() is used.
	Logger *slog.Logger

	// Config is the worker section of aggregator.yaml, if any.
	Config *config.WorkerConfig
}

// Stats counts findings handled by a Pool.
type Stats struct {
	Reported int64
	Rejected int64
}

// Pool runs a fixed number of goroutines that report findings.
type Pool struct {
	reporter Reporter
	opts     Options
	id       string
	logger   *slog.Logger

	reported atomic.Int64
	rejected atomic.Int64
}

// NewPool creates a pool. Explicit Options values take priority over
// Options.Config, which takes priority over the defaults.
func NewPool(r Reporter, opts Options) *Pool {
	opts = applyConfig(opts)
	id := generateWorkerID()
	return &Pool{
		reporter: r,
		opts:     opts,
		id:       id,
		logger:   opts.Logger.With("worker_id", id),
	}
}

// ID returns the pool's worker identifier.
func (p *Pool) ID() string {
	return p.id
}

// Stats returns the counters of the pool.
func (p *Pool) Stats() Stats {
	return Stats{
		Reported: p.reported.Load(),
		Rejected: p.rejected.Load(),
	}
}

// Consume reports findings read from in until in is closed or ctx is done.
// After ctx is done, it waits up to ShutdownTimeout for in-flight reports.
func (p *Pool) Consume(ctx context.Context, in <-chan *finding.Finding) error {
	return p.run(ctx, "channel", func(ctx context.Context, logger *slog.Logger) {
		for {
			select {
			case <-ctx.Done():
				logger.Debug("worker loop stopped", "reason", "context_cancelled")
				return
			case f, ok := <-in:
				if !ok {
					logger.Debug("worker loop stopped", "reason", "input_closed")
					return
				}
				p.handle(ctx, f, logger)
			}
		}
	})
}

// Run pops findings from a Redis queue and reports them until ctx is done.
// Rejected findings are logged and counted, never re-queued.
func Run(ctx context.Context, r Reporter, client queue.Client, opts Options) (*Pool, error) {
	p := NewPool(r, opts)
	err := p.Drain(ctx, client)
	return p, err
}

// Drain is Run on an existing pool.
func (p *Pool) Drain(ctx context.Context, client queue.Client) error {
	queueName := p.opts.Queue
	return p.run(ctx, queueName, func(ctx context.Context, logger *slog.Logger) {
		for {
			select {
			case <-ctx.Done():
				logger.Debug("worker loop stopped", "reason", "context_cancelled")
				return
			default:
			}

			msg, err := client.Pop(ctx, queueName, p.opts.PopTimeout)
			if err != nil {
				if ctx.Err() != nil {
					logger.Debug("worker loop stopped", "reason", "context_error")
					return
				}
				logger.Error("failed to pop finding", "error", err)
				continue
			}
			if msg == nil {
				continue
			}

			if err := msg.IsValid(); err != nil {
				p.rejected.Add(1)
				logger.Warn("discarding invalid message", "error", err)
				continue
			}

			p.handle(withRemoteParent(ctx, msg), msg.Finding, logger)
		}
	})
}

func (p *Pool) run(ctx context.Context, source string, loop func(context.Context, *slog.Logger)) error {
	p.logger.Info("worker pool started",
		"workers", p.opts.Concurrency,
		"source", source)

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Concurrency; i++ {
		wg.Add(1)
		go func(workerNum int) {
			defer wg.Done()
			loop(ctx, p.logger.With("worker_num", workerNum))
		}(i)
	}

	doneChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneChan)
	}()

	select {
	case <-doneChan:
		p.logger.Info("worker pool stopped",
			"reported", p.reported.Load(),
			"rejected", p.rejected.Load())
		return nil
	case <-ctx.Done():
	}

	select {
	case <-doneChan:
		p.logger.Info("worker shutdown complete",
			"reported", p.reported.Load(),
			"rejected", p.rejected.Load())
		return nil
	case <-time.After(p.opts.ShutdownTimeout):
		p.logger.Warn("worker shutdown timeout exceeded", "timeout", p.opts.ShutdownTimeout)
		return fmt.Errorf("worker shutdown timed out after %s", p.opts.ShutdownTimeout)
	}
}

func (p *Pool) handle(ctx context.Context, f *finding.Finding, logger *slog.Logger) {
	g, err := p.reporter.Report(ctx, f)
	if err != nil {
		p.rejected.Add(1)
		var producer, className string
		if f != nil {
			producer, className = f.Producer, f.Class
		}
		logger.Warn("finding rejected",
			"producer", producer,
			"class", className,
			"error", err)
		return
	}
	p.reported.Add(1)
	logger.Debug("finding reported",
		"producer", f.Producer,
		"class", f.Class,
		"members", g.Len())
}

// withRemoteParent makes the producer's span, carried by msg, the parent of
// spans started while reporting it.
func withRemoteParent(ctx context.Context, msg *queue.Message) context.Context {
	if msg.TraceID == "" || msg.SpanID == "" {
		return ctx
	}
	traceID, err := trace.TraceIDFromHex(msg.TraceID)
	if err != nil {
		return ctx
	}
	spanID, err := trace.SpanIDFromHex(msg.SpanID)
	if err != nil {
		return ctx
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithRemoteSpanContext(ctx, sc)
}

// generateWorkerID creates a unique identifier for this worker instance.
// Uses hostname + PID + UUID for uniqueness.
func generateWorkerID() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	id := uuid.New().String()[:8]

	return fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), id)
}

// applyConfig fills unset Options from the worker config and defaults.
func applyConfig(opts Options) Options {
	cfg := opts.Config
	if opts.Queue == "" {
		opts.Queue = cfg.GetQueue()
	}
	if opts.Queue == "" {
		opts.Queue = "findings"
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = cfg.GetConcurrency()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = cfg.GetShutdownTimeout()
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = cfg.GetPopTimeout()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}
