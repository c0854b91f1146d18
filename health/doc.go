// Package health checks the dependencies of an aggregation engine.
//
// # Health Check Functions
//
//   - PingCheck: Verify a storage backend or the findings queue answers
//   - BacklogCheck: Report a findings queue as degraded when it falls behind
//   - FileCheck: Verify the SQLite database file exists
//   - Combine: Aggregate multiple health checks into a single status
//
// # Usage Example
//
//	status := health.Combine(
//	    health.PingCheck(ctx, "storage backend", backend),
//	    health.PingCheck(ctx, "findings queue", client),
//	    health.BacklogCheck(ctx, "findings", client.Len, 10000),
//	)
//	if !status.IsHealthy() {
//	    logger.Warn("aggregator degraded", "status", status.Status, "details", status.Details)
//	}
//
// # Health Status Priority
//
// When combining checks, the following priority applies:
//
//  1. Unhealthy: if any check is unhealthy
//  2. Degraded: if any check is degraded (and none unhealthy)
//  3. Healthy: only if all checks are healthy
package health
