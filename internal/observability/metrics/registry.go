// Package metrics provides centralized Prometheus metrics for the pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Feed Poller metrics track per-feed fetch outcomes and circuit state.
var (
	// FeedFetchesTotal counts fetch attempts by feed and outcome
	// (fetched, not_modified, error, circuit_skip).
	FeedFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_fetches_total",
			Help: "Total number of feed fetch attempts by outcome",
		},
		[]string{"feed_id", "outcome"},
	)

	// FeedFetchDuration measures feed fetch duration in seconds
	FeedFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feed_fetch_duration_seconds",
			Help:    "Feed fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"feed_id"},
	)

	// FeedEntriesEmitted counts candidate articles forwarded downstream
	FeedEntriesEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_entries_emitted_total",
			Help: "Total number of feed entries forwarded to the normalizer",
		},
		[]string{"feed_id"},
	)

	// CircuitBreaksTotal counts circuit-open transitions per feed
	CircuitBreaksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_circuit_breaks_total",
			Help: "Total number of circuit-open transitions per feed",
		},
		[]string{"feed_id"},
	)

	// QueueDepth tracks bounded in-process queue depths (normalizer,
	// clustering, llm)
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Current depth of a bounded pipeline queue",
		},
		[]string{"queue"},
	)
)

// Normalizer and clustering metrics track the article pipeline.
var (
	// ArticlesNormalizedTotal counts normalization outcomes
	// (stored, duplicate, dropped_spam, dropped_invalid).
	ArticlesNormalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "articles_normalized_total",
			Help: "Total number of normalized feed entries by outcome",
		},
		[]string{"outcome"},
	)

	// ArticlesExpiredTotal counts articles removed by the TTL sweeper
	ArticlesExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "articles_expired_total",
			Help: "Total number of articles removed by the TTL sweeper",
		},
	)

	// ClusterDecisionsTotal counts clustering outcomes by match kind
	// (fingerprint, fuzzy, entity, created, duplicate_source, redelivery).
	ClusterDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluster_decisions_total",
			Help: "Total number of clustering decisions by match kind",
		},
		[]string{"decision"},
	)

	// ClusterAttachRetries counts etag-conflict retries during attach
	ClusterAttachRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cluster_attach_retries_total",
			Help: "Total number of optimistic-concurrency retries during story attach",
		},
	)

	// StoryStatusTransitions counts story status changes
	StoryStatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "story_status_transitions_total",
			Help: "Total number of story status transitions",
		},
		[]string{"from", "to"},
	)

	// DeadLettersTotal counts events given up on per consumer
	DeadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dead_letters_total",
			Help: "Total number of events sent to the dead-letter store",
		},
		[]string{"consumer"},
	)
)

// Summarization metrics track LLM spend and latency.
var (
	// SummariesGeneratedTotal counts summary writes by path and result
	// (success, fallback, failure).
	SummariesGeneratedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "summaries_generated_total",
			Help: "Total number of summaries generated by path and result",
		},
		[]string{"path", "result"},
	)

	// SummarizationDuration measures one synthesis call in seconds
	SummarizationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "summarization_duration_seconds",
			Help:    "Time taken for one summary synthesis in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"path"},
	)

	// LLMTokensTotal counts tokens by model and kind (input, cached_input,
	// output)
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens consumed by model and kind",
		},
		[]string{"model", "kind"},
	)

	// LLMCostMicroUSD accumulates spend in micro-dollars by model and path
	LLMCostMicroUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_cost_micro_usd_total",
			Help: "Total LLM spend in micro USD",
		},
		[]string{"model", "path"},
	)

	// HeadlineEvaluationsTotal counts headline re-evaluations by outcome
	// (rewritten, kept, rate_limited)
	HeadlineEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "headline_evaluations_total",
			Help: "Total number of headline re-evaluations by outcome",
		},
		[]string{"outcome"},
	)

	// PromptCacheHits counts synthesize calls by prompt-cache outcome
	// (hit, miss)
	PromptCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prompt_cache_hits_total",
			Help: "Synthesize calls by prompt-cache outcome",
		},
		[]string{"outcome"},
	)
)

// Breaking Monitor metrics.
var (
	// BreakingPromotionsTotal counts VERIFIED to BREAKING promotions
	BreakingPromotionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "breaking_promotions_total",
			Help: "Total number of breaking-news promotions",
		},
	)

	// NotificationsEnqueuedTotal counts queued breaking notifications
	NotificationsEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_enqueued_total",
			Help: "Total number of breaking notifications enqueued",
		},
	)
)

// Store metrics track document-store health.
var (
	// StoreOperationDuration measures store operations in seconds
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Document store operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"collection", "operation"},
	)

	// StoreConflictsTotal counts etag-mismatch rejections per collection
	StoreConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_conflicts_total",
			Help: "Total number of optimistic-concurrency conflicts per collection",
		},
		[]string{"collection"},
	)
)

// RecordStoreOperation records one store call's duration.
func RecordStoreOperation(collection, operation string, duration time.Duration) {
	StoreOperationDuration.WithLabelValues(collection, operation).Observe(duration.Seconds())
}
