// Package worker feeds findings into an aggregation store with a fixed pool
// of goroutines.
//
// # Overview
//
// Detection logic produces findings concurrently. A Pool reads them either
// from a local channel (Consume) or from a Redis findings queue (Run/Drain)
// and calls Report on the store for each one. The store serializes work per
// bucket, so workers only contend when they report findings of the same
// producer and class.
//
// # Usage
//
//	store, err := aggregate.New(registry)
//	if err != nil {
//	    return err
//	}
//
//	client, err := queue.NewRedisClient(queue.RedisOptions{URL: "redis://localhost:6379"})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	// Blocks until ctx is cancelled
//	pool, err := worker.Run(ctx, store, client, worker.Options{
//	    Queue:           "findings",
//	    Concurrency:     4,
//	    ShutdownTimeout: 30 * time.Second,
//	})
//
// # Graceful Shutdown
//
//  1. ctx is cancelled
//  2. Workers finish the finding they are reporting
//  3. No new findings are popped from the queue
//  4. Run returns, or fails after ShutdownTimeout
//
// # Error Handling
//
//   - Pop errors: Logged and loop continues
//   - Invalid messages: Logged, counted as rejected and dropped
//   - Report errors: Logged with the error, counted as rejected, never retried
package worker
