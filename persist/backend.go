// Package persist stores finding group snapshots outside the process so a
// scan session can be resumed, and so groups already reported by an earlier
// run are recognised by their stable identity.
//
// Persistence never happens inside Store.Report. Flush copies the current
// state of a store into a Backend, Load restores it, and Flusher runs Flush
// periodically.
//
// # Backends
//
//   - RedisBackend keeps one payload per group plus an ordered identity list
//     per bucket.
//   - SQLBackend keeps one row per group in the finding_groups table, on
//     SQLite (modernc.org/sqlite) or PostgreSQL (lib/pq).
//
// # Redis Key Schema
//
//   - <prefix>:<session>:group:<identity> - encoded group snapshot
//   - <prefix>:<session>:bucket:<producer>:<class> - list of identities in bucket order
//   - <prefix>:<session>:buckets - set of JSON-encoded bucket keys
package persist

import (
	"context"

	"github.com/zero-day-ai/aggregator/aggregate"
	"github.com/zero-day-ai/aggregator/group"
)

// Backend persists group snapshots per session and bucket.
type Backend interface {
	// SaveBucket replaces the stored groups of a bucket with snapshots, in
	// order. An empty slice removes the bucket.
	SaveBucket(ctx context.Context, session string, key aggregate.BucketKey, snapshots []group.Snapshot) error

	// LoadBucket returns the stored groups of a bucket in the order they
	// were saved. Unknown buckets yield an empty slice.
	LoadBucket(ctx context.Context, session string, key aggregate.BucketKey) ([]group.Snapshot, error)

	// Buckets lists the non-empty buckets of a session, sorted by producer
	// then class.
	Buckets(ctx context.Context, session string) ([]aggregate.BucketKey, error)

	// Delete removes everything stored for a session.
	Delete(ctx context.Context, session string) error

	// Close releases the backend's connections.
	Close() error
}
