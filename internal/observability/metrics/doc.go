// Package metrics provides Prometheus metrics registry and recording utilities.
//
// This package centralizes all pipeline metrics including:
//   - Feed poller metrics (fetch outcomes, circuit breaks, queue depths)
//   - Normalizer and clustering metrics (outcomes, attach retries, dead letters)
//   - Summarization metrics (LLM tokens, spend, cache hits, headline decisions)
//   - Breaking monitor and store metrics
//
// All metrics are automatically registered with the Prometheus default registry
// and exposed via the /metrics endpoint.
//
// Example usage:
//
//	import "catchup-pipeline/internal/observability/metrics"
//
//	func pollFeed(feedID string) {
//	    start := time.Now()
//	    // ... fetch and emit entries ...
//	    count := 10
//
//	    metrics.RecordFeedFetch(feedID, "fetched", time.Since(start))
//	    metrics.RecordEntriesEmitted(feedID, count)
//	}
package metrics
