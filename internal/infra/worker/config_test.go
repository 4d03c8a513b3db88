package worker

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// workerMetricsOnce guards against duplicate promauto registration across
// tests; the default registry is process-global.
var workerMetricsOnce = NewWorkerMetrics()

func newTestWorkerMetrics() *WorkerMetrics {
	return workerMetricsOnce
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 10, cfg.FeedPollConcurrency)
	assert.Equal(t, 30*time.Second, cfg.FeedTimeout)
	assert.Equal(t, 3, cfg.CircuitThreshold)
	assert.Equal(t, 30*time.Minute, cfg.CircuitCooldown)
	assert.Equal(t, 0.70, cfg.FuzzyThreshold)
	assert.Equal(t, 0.60, cfg.EntityMatchFloor)
	assert.Equal(t, 3, cfg.EntityMatchMinShared)
	assert.Equal(t, 30*time.Minute, cfg.BreakingWindow)
	assert.Equal(t, 4, cfg.BreakingThreshold)
	assert.Equal(t, 4*time.Hour, cfg.BreakingCooldown)
	assert.Equal(t, 7*24*time.Hour, cfg.ArchiveAge)
	assert.True(t, cfg.SummarizationEnabled)
	assert.Equal(t, 10*time.Minute, cfg.BatchInterval)
	assert.Equal(t, 30*time.Second, cfg.MinGap)
	assert.Equal(t, 4, cfg.LLMConcurrency)
	assert.Equal(t, 30, cfg.ArticleTTLDays)
	assert.Equal(t, 90, cfg.StoryRetentionDays)
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("FEED_POLL_CONCURRENCY", "20")
	t.Setenv("FEED_TIMEOUT_SECONDS", "10")
	t.Setenv("CIRCUIT_BREAKER_THRESHOLD", "5")
	t.Setenv("FUZZY_SIMILARITY_THRESHOLD", "0.85")
	t.Setenv("BREAKING_SOURCE_THRESHOLD", "6")
	t.Setenv("BREAKING_COOLDOWN_HOURS", "2")
	t.Setenv("SUMMARIZATION_ENABLED", "false")
	t.Setenv("STORE_CONNECTION", "postgres://pipeline@db/catchup")

	cfg := LoadConfigFromEnv(discardLogger(), nil)

	assert.Equal(t, 20, cfg.FeedPollConcurrency)
	assert.Equal(t, 10*time.Second, cfg.FeedTimeout)
	assert.Equal(t, 5, cfg.CircuitThreshold)
	assert.Equal(t, 0.85, cfg.FuzzyThreshold)
	assert.Equal(t, 6, cfg.BreakingThreshold)
	assert.Equal(t, 2*time.Hour, cfg.BreakingCooldown)
	assert.False(t, cfg.SummarizationEnabled)
	assert.Equal(t, "postgres://pipeline@db/catchup", cfg.StoreConnection)
}

func TestLoadConfigFromEnv_FailOpenOnInvalidValues(t *testing.T) {
	t.Setenv("FEED_POLL_CONCURRENCY", "not-a-number")
	t.Setenv("FUZZY_SIMILARITY_THRESHOLD", "2.5") // out of [0,1]
	t.Setenv("BREAKING_WINDOW_MINUTES", "-3")

	cfg := LoadConfigFromEnv(discardLogger(), nil)

	// Invalid values warn and keep the defaults.
	assert.Equal(t, 10, cfg.FeedPollConcurrency)
	assert.Equal(t, 0.70, cfg.FuzzyThreshold)
	assert.Equal(t, 30*time.Minute, cfg.BreakingWindow)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()

	// A store-backed component without a connection string is unrunnable.
	assert.Error(t, cfg.Validate(true, false))

	cfg.StoreConnection = "postgres://pipeline@db/catchup"
	assert.NoError(t, cfg.Validate(true, false))

	// Summarization on without a key is a startup error.
	assert.Error(t, cfg.Validate(true, true))

	cfg.LLMAPIKey = "sk-test"
	assert.NoError(t, cfg.Validate(true, true))

	// Summarization disabled never needs a key.
	cfg.LLMAPIKey = ""
	cfg.SummarizationEnabled = false
	assert.NoError(t, cfg.Validate(true, true))
}

func TestComponentConfigMapping(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FeedPollConcurrency = 7
	cfg.FuzzyThreshold = 0.8
	cfg.BreakingThreshold = 5
	cfg.LLMConcurrency = 2

	pollCfg := cfg.PollConfig()
	assert.Equal(t, 7, pollCfg.Concurrency)
	assert.Equal(t, cfg.FeedTimeout, pollCfg.FetchTimeout)

	clusterCfg := cfg.ClusterConfig(discardLogger())
	assert.Equal(t, 0.8, clusterCfg.FuzzyThreshold)
	assert.NotEmpty(t, clusterCfg.Topics)

	monitorCfg := cfg.MonitorConfig()
	assert.Equal(t, 5, monitorCfg.BreakingThreshold)

	sumCfg := cfg.SummarizeConfig()
	assert.Equal(t, 2, sumCfg.Workers)
	assert.True(t, sumCfg.Enabled)
}

func TestClusterConfig_BadTopicJSONFallsBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopicConflictSets = "{broken"

	clusterCfg := cfg.ClusterConfig(discardLogger())
	assert.NotEmpty(t, clusterCfg.Topics)
}

func TestWorkerMetrics(t *testing.T) {
	metrics := newTestWorkerMetrics()
	require.NotNil(t, metrics)
	metrics.MustRegister()

	assert.NotPanics(t, func() {
		metrics.RecordCycle("poller", 2.5, true)
		metrics.RecordCycle("monitor", 0.2, false)
		metrics.RecordLoadTimestamp()
	})
}
