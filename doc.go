// Package aggregator groups related security findings so that a scanner
// reports one entry per underlying issue instead of one per affected URL.
//
// # Core Concepts
//
//   - Finding: a single vulnerability observation (package finding)
//   - Class: a kind of finding with an optional grouping key and a
//     description template (package class)
//   - Group: findings of one class that share the same grouping-key value,
//     with a stable identity and a combined description (package group)
//   - Store: the per-(producer, class) buckets of groups (package aggregate)
//
// # Architecture
//
// The Engine in this package wires the building blocks together:
//
//   - config: aggregator.yaml, .env files and AGGREGATOR_* overrides
//   - aggregate: the concurrent store that routes each finding to a group
//   - persist: Redis, SQLite or PostgreSQL snapshots of the store
//   - queue and worker: a Redis findings queue drained by a worker pool
//   - query: CEL filters over the aggregated groups
//
// # Getting Started
//
//	engine, err := aggregator.NewEngine(
//		aggregator.WithConfig("aggregator.yaml"),
//		aggregator.WithEnv(),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := engine.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Shutdown(context.Background())
//
//	g, err := engine.Report(ctx, f)
//	if err != nil {
//		log.Printf("finding rejected: %v", err)
//	}
//	fmt.Println(g.Name(), g.Len())
//
// # Querying
//
// Groups accepts a CEL expression over the variables documented in package
// query:
//
//	high, err := engine.Groups(`severity_rank >= 3 && count > 1`)
//
// # Error Handling
//
// Errors returned by the engine and its packages are *finding.Error values
// carrying a kind (validation, configuration, render, storage) and
// operation context:
//
//	var ferr *finding.Error
//	if errors.As(err, &ferr) && ferr.Kind == finding.KindValidation {
//		// the finding cannot be aggregated
//	}
package aggregator
