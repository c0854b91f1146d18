package health

import (
	"context"
	"fmt"
	"os"
	"time"
)

// DefaultTimeout bounds a check when ctx carries no deadline.
const DefaultTimeout = 5 * time.Second

// Pinger is implemented by the storage backends and the findings queue.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck verifies that a connection answers.
//
// Example:
//
//	status := health.PingCheck(ctx, "storage backend", backend)
//	if status.IsUnhealthy() {
//	    log.Println(status.Message)
//	}
func PingCheck(ctx context.Context, name string, p Pinger) Status {
	if p == nil {
		return Unhealthy(fmt.Sprintf("%s is not configured", name), nil)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return Unhealthy(
			fmt.Sprintf("%s is unreachable", name),
			map[string]any{
				"component": name,
				"error":     err.Error(),
			},
		)
	}

	return Status{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%s is reachable", name),
		Details: map[string]any{"latency_ms": time.Since(start).Milliseconds()},
	}
}

// BacklogCheck reports a queue as degraded once more than threshold
// findings wait in it. A threshold of zero disables the degraded state.
func BacklogCheck(ctx context.Context, queue string, length func(context.Context, string) (int64, error), threshold int64) Status {
	n, err := length(ctx, queue)
	if err != nil {
		return Unhealthy(
			fmt.Sprintf("failed to read backlog of queue '%s'", queue),
			map[string]any{
				"queue": queue,
				"error": err.Error(),
			},
		)
	}

	if threshold > 0 && n > threshold {
		return Degraded(
			fmt.Sprintf("queue '%s' has %d pending findings", queue, n),
			map[string]any{
				"queue":     queue,
				"backlog":   n,
				"threshold": threshold,
			},
		)
	}

	return Status{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("queue '%s' has %d pending findings", queue, n),
		Details: map[string]any{"backlog": n},
	}
}

// FileCheck verifies that a file or directory exists at the specified path.
// It returns healthy if the path exists, unhealthy otherwise.
func FileCheck(path string) Status {
	if path == "" {
		return Unhealthy("path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Unhealthy(
				fmt.Sprintf("path '%s' does not exist", path),
				map[string]any{
					"path": path,
				},
			)
		}

		return Unhealthy(
			fmt.Sprintf("failed to stat path '%s'", path),
			map[string]any{
				"path":  path,
				"error": err.Error(),
			},
		)
	}

	fileType := "file"
	if info.IsDir() {
		fileType = "directory"
	}

	return Healthy(fmt.Sprintf("%s '%s' exists", fileType, path))
}

// Combine aggregates multiple health checks into a single status.
// The result follows this priority:
//   - If any check is unhealthy, the result is unhealthy
//   - If any check is degraded (and none unhealthy), the result is degraded
//   - If all checks are healthy, the result is healthy
func Combine(checks ...Status) Status {
	if len(checks) == 0 {
		return Healthy("no checks provided")
	}

	var unhealthyChecks []string
	var degradedChecks []string
	var healthyCount int

	for _, check := range checks {
		msg := check.Message
		if msg == "" {
			msg = "unnamed check"
		}
		switch check.Status {
		case StatusUnhealthy:
			unhealthyChecks = append(unhealthyChecks, msg)
		case StatusDegraded:
			degradedChecks = append(degradedChecks, msg)
		case StatusHealthy:
			healthyCount++
		}
	}

	if len(unhealthyChecks) > 0 {
		return Unhealthy(
			fmt.Sprintf("%d check(s) failed", len(unhealthyChecks)),
			map[string]any{
				"total":         len(checks),
				"unhealthy":     len(unhealthyChecks),
				"degraded":      len(degradedChecks),
				"healthy":       healthyCount,
				"failed_checks": unhealthyChecks,
			},
		)
	}

	if len(degradedChecks) > 0 {
		return Degraded(
			fmt.Sprintf("%d check(s) degraded", len(degradedChecks)),
			map[string]any{
				"total":           len(checks),
				"degraded":        len(degradedChecks),
				"healthy":         healthyCount,
				"degraded_checks": degradedChecks,
			},
		)
	}

	return Healthy(fmt.Sprintf("all %d check(s) passed", len(checks)))
}
