// Package queue carries findings from detection workers to aggregators over
// Redis lists.
//
// Detection logic runs in many processes; the aggregation store is a single
// writer per scan session. Producers Push findings onto a named queue and an
// aggregator process pops them (see the worker package) and reports them to
// its store.
//
// # Core Components
//
// Client: Interface for interacting with Redis queues (Push, Pop, Len).
//
// Message: A finding plus the producer's trace context and enqueue time.
//
// # Redis Key Schema
//
// Each queue is a single Redis list. Push uses LPUSH and Pop uses BRPOP, so
// messages are consumed in FIFO order.
//
// # Usage
//
//	client, err := queue.NewRedisClient(queue.RedisOptions{URL: "redis://localhost:6379"})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	if err := client.Push(ctx, "findings", f); err != nil {
//	    return err
//	}
//
//	msg, err := client.Pop(ctx, "findings", 5*time.Second)
//	if err != nil {
//	    return err
//	}
//	if msg == nil {
//	    // timed out
//	}
package queue
