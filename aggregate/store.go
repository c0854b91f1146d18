// Package aggregate implements the aggregation store: the single writer of
// finding groups for a scan session.
//
// Findings are bucketed by (producer, class). Within a bucket there is at
// most one group per grouping-key value. Report serializes the
// lookup-then-create-or-append sequence per bucket, so findings racing for
// a new key value end up in one group and reports for different buckets
// never wait on each other. Readers get copy-on-write snapshots of a
// bucket's group list and never block writers.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/zero-day-ai/aggregator/class"
	"github.com/zero-day-ai/aggregator/finding"
	"github.com/zero-day-ai/aggregator/group"
)

// BucketKey identifies a bucket.
type BucketKey struct {
	Producer string `json:"producer"`
	Class    string `json:"class"`
}

// String returns "producer/class".
func (k BucketKey) String() string {
	return k.Producer + "/" + k.Class
}

type bucket struct {
	key   BucketKey
	class class.Class

	mu      sync.Mutex
	byValue map[finding.Value]*group.Group

	// detached is set under mu once the bucket left the store's map.
	detached bool

	// groups is replaced, never modified, so readers can load it without mu.
	groups atomic.Pointer[[]*group.Group]
}

func newBucket(key BucketKey, c class.Class) *bucket {
	b := &bucket{
		key:     key,
		class:   c,
		byValue: make(map[finding.Value]*group.Group),
	}
	empty := []*group.Group{}
	b.groups.Store(&empty)
	return b
}

// publish makes g visible to readers. Caller holds b.mu.
func (b *bucket) publish(g *group.Group) {
	old := *b.groups.Load()
	next := make([]*group.Group, len(old), len(old)+1)
	copy(next, old)
	next = append(next, g)
	b.groups.Store(&next)
}

func (b *bucket) snapshot() []*group.Group {
	return *b.groups.Load()
}

// Store is the aggregation store.
type Store struct {
	registry *class.Registry

	mu      sync.RWMutex
	buckets map[BucketKey]*bucket
	order   []BucketKey
	session string

	logger  *slog.Logger
	tracer  trace.Tracer
	meter   metric.Meter
	metrics *storeMetrics
}

// New creates a Store for the given class registry.
func New(registry *class.Registry, opts ...Option) (*Store, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Store{
		registry: registry,
		buckets:  make(map[BucketKey]*bucket),
		session:  cfg.session,
		logger:   cfg.logger,
		tracer:   cfg.tracer,
		meter:    cfg.meter,
	}
	if s.session == "" {
		s.session = uuid.New().String()
	}

	metrics, err := initMetrics(s.meter)
	if err != nil {
		return nil, err
	}
	s.metrics = metrics

	return s, nil
}

// Registry returns the class registry the store groups with.
func (s *Store) Registry() *class.Registry {
	return s.registry
}

// Session returns the identifier of the current scan session.
func (s *Store) Session() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Report adds f to the group of its bucket whose grouping-key value equals
// f's, creating a singleton group when none exists, and returns that group.
//
// Errors (the store is left unchanged in every case):
//   - finding.ErrTypeMismatch: f is nil or invalid
//   - finding.ErrUndefinedGroupingKey: f's class is unknown or has no grouping key
//   - finding.ErrMissingGroupingKey: f lacks the grouping key attribute
//
// The context is used for tracing only; Report is not cancellable.
func (s *Store) Report(ctx context.Context, f *finding.Finding) (*group.Group, error) {
	ctx, span := s.tracer.Start(ctx, "aggregate.report")
	defer span.End()

	g, created, err := s.report(f)
	outcome := outcomeAppended
	switch {
	case err != nil:
		outcome = outcomeRejected
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case created:
		outcome = outcomeCreated
	}

	var producer, className string
	if f != nil {
		producer, className = f.Producer, f.Class
	}
	span.SetAttributes(
		attribute.String("finding.producer", producer),
		attribute.String("finding.class", className),
		attribute.String("aggregate.outcome", outcome),
	)
	s.metrics.recordReport(ctx, producer, className, outcome, created)

	if err != nil {
		s.logger.Warn("finding rejected",
			"producer", producer,
			"class", className,
			"error", err)
		return nil, err
	}

	s.logger.Debug("finding aggregated",
		"producer", producer,
		"class", className,
		"outcome", outcome,
		"members", g.Len())
	return g, nil
}

func (s *Store) report(f *finding.Finding) (*group.Group, bool, error) {
	if f == nil {
		return nil, false, finding.NewValidationError("Store.Report", finding.ErrTypeMismatch)
	}
	if err := f.Validate(); err != nil {
		return nil, false, finding.NewValidationError("Store.Report", errors.Join(finding.ErrTypeMismatch, err))
	}

	c, ok := s.registry.Lookup(f.Class)
	if !ok || c.GroupingKey == "" {
		return nil, false, finding.NewConfigurationError("Store.Report", finding.ErrUndefinedGroupingKey).
			WithContext(map[string]any{"producer": f.Producer, "class": f.Class})
	}

	value, ok := f.Attribute(c.GroupingKey)
	if !ok {
		return nil, false, finding.NewConfigurationError("Store.Report", finding.ErrMissingGroupingKey).
			WithContext(map[string]any{"class": f.Class, "grouping_key": c.GroupingKey})
	}

	b := s.lockBucket(BucketKey{Producer: f.Producer, Class: f.Class}, c)
	defer b.mu.Unlock()
	canon := canonical(value)

	if g, ok := b.byValue[canon]; ok {
		match, err := g.Matches(f, c.GroupingKey)
		if err != nil {
			return nil, false, err
		}
		if match {
			if err := g.Append(f); err != nil {
				return nil, false, err
			}
			return g, false, nil
		}
	}

	g, err := group.New([]*finding.Finding{f}, group.ForClass(c))
	if err != nil {
		return nil, false, err
	}
	b.byValue[canon] = g
	b.publish(g)
	return g, true, nil
}

// bucketFor returns the bucket for key, creating it if needed.
func (s *Store) bucketFor(key BucketKey, c class.Class) *bucket {
	s.mu.RLock()
	b, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.buckets[key]; ok {
		return b
	}
	b = newBucket(key, c)
	s.buckets[key] = b
	s.order = append(s.order, key)
	return b
}

// lockBucket returns the bucket for key with its mutex held. A bucket that
// Clear detached in the meantime is skipped.
func (s *Store) lockBucket(key BucketKey, c class.Class) *bucket {
	for {
		b := s.bucketFor(key, c)
		b.mu.Lock()
		if !b.detached {
			return b
		}
		b.mu.Unlock()
	}
}

// ListGroups returns the groups of a bucket in creation order. The returned
// slice is a snapshot; groups reported later are not added to it, though
// members appended to the listed groups are visible through them.
func (s *Store) ListGroups(producer, className string) []*group.Group {
	s.mu.RLock()
	b, ok := s.buckets[BucketKey{Producer: producer, Class: className}]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	groups := b.snapshot()
	out := make([]*group.Group, len(groups))
	copy(out, groups)
	return out
}

// Buckets returns all bucket keys in creation order.
func (s *Store) Buckets() []BucketKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]BucketKey, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the total number of groups across all buckets.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, b := range s.buckets {
		n += len(b.snapshot())
	}
	return n
}

// Clear drops every bucket and starts a new scan session.
func (s *Store) Clear() {
	s.mu.Lock()
	old := s.buckets
	s.buckets = make(map[BucketKey]*bucket)
	s.order = nil
	previous := s.session
	s.session = uuid.New().String()
	s.mu.Unlock()

	// a Report holding a bucket lock finishes before the bucket is counted
	removed := 0
	for _, b := range old {
		b.mu.Lock()
		b.detached = true
		removed += len(b.snapshot())
		b.mu.Unlock()
	}

	s.metrics.recordCleared(context.Background(), removed)
	s.logger.Info("aggregation store cleared",
		"previous_session", previous,
		"groups", removed)
}

// Restore inserts previously persisted groups into a bucket, after the
// groups already there. Every group must belong to key and carry a
// grouping-key value not yet present in the bucket.
func (s *Store) Restore(key BucketKey, groups ...*group.Group) error {
	c, ok := s.registry.Lookup(key.Class)
	if !ok || c.GroupingKey == "" {
		return finding.NewConfigurationError("Store.Restore", finding.ErrUndefinedGroupingKey).
			WithContext(map[string]any{"producer": key.Producer, "class": key.Class})
	}

	type entry struct {
		value finding.Value
		g     *group.Group
	}
	entries := make([]entry, 0, len(groups))
	for _, g := range groups {
		if g == nil {
			return finding.NewValidationError("Store.Restore", finding.ErrTypeMismatch)
		}
		if g.Producer() != key.Producer || g.Class() != key.Class {
			return finding.NewValidationError("Store.Restore", fmt.Errorf("group belongs to bucket %s/%s", g.Producer(), g.Class())).
				WithContext(map[string]any{"bucket": key.String()})
		}
		value, ok := g.Attribute(c.GroupingKey)
		if !ok {
			return finding.NewConfigurationError("Store.Restore", finding.ErrMissingGroupingKey).
				WithContext(map[string]any{"class": key.Class, "grouping_key": c.GroupingKey})
		}
		canon := canonical(value)
		for _, prev := range entries {
			if prev.value == canon {
				return duplicateValueError(key, canon)
			}
		}
		entries = append(entries, entry{value: canon, g: g})
	}

	if len(entries) == 0 {
		return nil
	}

	// a bucket holding a conflicting value is never empty, so a rejected
	// Restore leaves no empty bucket behind
	b := s.lockBucket(key, c)
	defer b.mu.Unlock()

	for _, e := range entries {
		if _, exists := b.byValue[e.value]; exists {
			return duplicateValueError(key, e.value)
		}
	}

	for _, e := range entries {
		b.byValue[e.value] = e.g
		b.publish(e.g)
	}
	s.metrics.recordRestored(context.Background(), len(entries))
	return nil
}

func duplicateValueError(key BucketKey, v finding.Value) error {
	return finding.NewValidationError("Store.Restore", fmt.Errorf("duplicate grouping-key value %q", v.String())).
		WithContext(map[string]any{"bucket": key.String()})
}

// canonical zeroes the inactive variants so equal values are equal map keys.
func canonical(v finding.Value) finding.Value {
	switch v.Kind {
	case finding.KindString:
		return finding.String(v.Str)
	case finding.KindNumber:
		return finding.Number(v.Num)
	case finding.KindBool:
		return finding.Bool(v.Bool)
	default:
		return v
	}
}
