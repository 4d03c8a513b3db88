package metrics

import "time"

// RecordFeedFetch records one feed fetch attempt and its duration.
// Outcome is one of "fetched", "not_modified", "error", "circuit_skip".
func RecordFeedFetch(feedID, outcome string, duration time.Duration) {
	FeedFetchesTotal.WithLabelValues(feedID, outcome).Inc()
	if outcome != "circuit_skip" {
		FeedFetchDuration.WithLabelValues(feedID).Observe(duration.Seconds())
	}
}

// RecordEntriesEmitted records candidate articles forwarded downstream.
func RecordEntriesEmitted(feedID string, count int) {
	if count > 0 {
		FeedEntriesEmitted.WithLabelValues(feedID).Add(float64(count))
	}
}

// RecordCircuitBreak records one circuit-open transition for a feed.
func RecordCircuitBreak(feedID string) {
	CircuitBreaksTotal.WithLabelValues(feedID).Inc()
}

// SetQueueDepth updates a bounded queue's current depth gauge.
func SetQueueDepth(queue string, depth int) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordArticleNormalized records one normalization outcome.
// Outcome is one of "stored", "duplicate", "dropped_spam", "dropped_invalid".
func RecordArticleNormalized(outcome string) {
	ArticlesNormalizedTotal.WithLabelValues(outcome).Inc()
}

// RecordArticlesExpired records a TTL sweep batch.
func RecordArticlesExpired(count int) {
	if count > 0 {
		ArticlesExpiredTotal.Add(float64(count))
	}
}

// RecordClusterDecision records how one article was clustered.
func RecordClusterDecision(decision string) {
	ClusterDecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordStatusTransition records a story status change.
func RecordStatusTransition(from, to string) {
	StoryStatusTransitions.WithLabelValues(from, to).Inc()
}

// RecordDeadLetter records one event given up on by a consumer.
func RecordDeadLetter(consumer string) {
	DeadLettersTotal.WithLabelValues(consumer).Inc()
}

// RecordSummary records one summary write.
// Result is one of "success", "fallback", "failure".
func RecordSummary(path, result string, duration time.Duration) {
	SummariesGeneratedTotal.WithLabelValues(path, result).Inc()
	SummarizationDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// RecordLLMUsage records tokens and spend for one LLM call.
func RecordLLMUsage(model, path string, inputTokens, cachedTokens, outputTokens int, costMicroUSD int64) {
	LLMTokensTotal.WithLabelValues(model, "input").Add(float64(inputTokens))
	LLMTokensTotal.WithLabelValues(model, "cached_input").Add(float64(cachedTokens))
	LLMTokensTotal.WithLabelValues(model, "output").Add(float64(outputTokens))
	LLMCostMicroUSD.WithLabelValues(model, path).Add(float64(costMicroUSD))
	if cachedTokens > 0 {
		PromptCacheHits.WithLabelValues("hit").Inc()
	} else {
		PromptCacheHits.WithLabelValues("miss").Inc()
	}
}

// RecordHeadlineEvaluation records one headline re-evaluation outcome.
// Outcome is one of "rewritten", "kept", "rate_limited".
func RecordHeadlineEvaluation(outcome string) {
	HeadlineEvaluationsTotal.WithLabelValues(outcome).Inc()
}

// RecordBreakingPromotion records one promotion with its notification.
func RecordBreakingPromotion(notified bool) {
	BreakingPromotionsTotal.Inc()
	if notified {
		NotificationsEnqueuedTotal.Inc()
	}
}

// RecordStoreConflict records one optimistic-concurrency rejection.
func RecordStoreConflict(collection string) {
	StoreConflictsTotal.WithLabelValues(collection).Inc()
}
