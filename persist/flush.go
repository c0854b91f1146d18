package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zero-day-ai/aggregator/aggregate"
	"github.com/zero-day-ai/aggregator/finding"
	"github.com/zero-day-ai/aggregator/group"
)

// Flush writes every bucket of the store's current session to backend.
// Groups keep appending while Flush runs; each bucket is written as it was
// when Flush reached it. A bucket that fails to save does not stop the
// others; the failures are joined in the returned error.
func Flush(ctx context.Context, store *aggregate.Store, backend Backend) error {
	session := store.Session()
	var errs []error
	for _, key := range store.Buckets() {
		if err := ctx.Err(); err != nil {
			return errors.Join(append(errs, err)...)
		}

		groups := store.ListGroups(key.Producer, key.Class)
		snapshots := make([]group.Snapshot, len(groups))
		for i, g := range groups {
			snapshots[i] = g.Snapshot()
		}

		if err := backend.SaveBucket(ctx, session, key, snapshots); err != nil {
			errs = append(errs, finding.NewStorageError("persist.Flush", err).
				WithContext(map[string]any{"session": session, "bucket": key.String()}))
		}
	}
	return errors.Join(errs...)
}

// Load restores every stored bucket of the store's session into the store
// and returns the number of groups restored. The store should be empty, or
// at least hold none of the stored grouping-key values.
func Load(ctx context.Context, store *aggregate.Store, backend Backend) (int, error) {
	session := store.Session()
	keys, err := backend.Buckets(ctx, session)
	if err != nil {
		return 0, finding.NewStorageError("persist.Load", err).
			WithContext(map[string]any{"session": session})
	}

	restored := 0
	for _, key := range keys {
		snapshots, err := backend.LoadBucket(ctx, session, key)
		if err != nil {
			return restored, finding.NewStorageError("persist.Load", err).
				WithContext(map[string]any{"session": session, "bucket": key.String()})
		}

		groups := make([]*group.Group, 0, len(snapshots))
		for _, s := range snapshots {
			g, err := group.FromSnapshot(s)
			if err != nil {
				return restored, fmt.Errorf("restore group %s: %w", s.Identity, err)
			}
			groups = append(groups, g)
		}

		if err := store.Restore(key, groups...); err != nil {
			return restored, err
		}
		restored += len(groups)
	}
	return restored, nil
}

// Flusher periodically flushes a store.
type Flusher struct {
	store    *aggregate.Store
	backend  Backend
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

// FlusherOptions configures a Flusher.
type FlusherOptions struct {
	// Interval between flushes. Defaults to 30s.
	Interval time.Duration

	// FinalTimeout bounds the flush performed on stop. Defaults to 10s.
	FinalTimeout time.Duration

	// Logger is the structured logger. Defaults to slog.Default().
	Logger *slog.Logger
}

// NewFlusher creates a Flusher.
func NewFlusher(store *aggregate.Store, backend Backend, opts FlusherOptions) *Flusher {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.FinalTimeout <= 0 {
		opts.FinalTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Flusher{
		store:    store,
		backend:  backend,
		interval: opts.Interval,
		timeout:  opts.FinalTimeout,
		logger:   opts.Logger,
	}
}

// Run flushes on every tick until ctx is done, then flushes once more and
// returns the error of that final flush. Errors of periodic flushes are
// logged and retried on the next tick.
func (f *Flusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.logger.Debug("flusher started", "interval", f.interval)

	for {
		select {
		case <-ctx.Done():
			// ctx is done; the final flush gets its own deadline
			finalCtx, cancel := context.WithTimeout(context.Background(), f.timeout)
			defer cancel()

			err := Flush(finalCtx, f.store, f.backend)
			if err != nil {
				f.logger.Error("final flush failed", "session", f.store.Session(), "error", err)
			} else {
				f.logger.Debug("flusher stopped", "session", f.store.Session())
			}
			return err
		case <-ticker.C:
			start := time.Now()
			if err := Flush(ctx, f.store, f.backend); err != nil {
				f.logger.Warn("flush failed", "session", f.store.Session(), "error", err)
				continue
			}
			f.logger.Debug("flushed groups",
				"session", f.store.Session(),
				"groups", f.store.Len(),
				"duration_ms", time.Since(start).Milliseconds())
		}
	}
}
