// Package worker hosts the pieces shared by every pipeline process: the
// environment-driven configuration assembly, the operational HTTP surface
// (health, stats, circuit reset), and worker-level Prometheus metrics.
package worker

import (
	"fmt"
	"log/slog"
	"time"

	"catchup-pipeline/internal/pkg/config"
	"catchup-pipeline/internal/usecase/cluster"
	"catchup-pipeline/internal/usecase/monitor"
	"catchup-pipeline/internal/usecase/normalize"
	"catchup-pipeline/internal/usecase/poll"
	"catchup-pipeline/internal/usecase/summarize"
)

// PipelineConfig is the single immutable configuration assembled at
// startup and passed by reference to every component constructor. Loading
// is fail-open: an invalid value logs a warning and keeps the documented
// default, except the few keys whose absence makes a component unrunnable
// (Validate flags those).
type PipelineConfig struct {
	// Feed poller
	FeedPollConcurrency    int
	FeedTimeout            time.Duration
	PollInterval           time.Duration
	CircuitThreshold       int
	CircuitCooldown        time.Duration
	FeedsFile              string
	MaxFeedStartsPerSecond int

	// Normalizer
	NormalizeWorkers int
	MinTitleLength   int
	EntityAliasFile  string
	ArticleTTLDays   int

	// Clustering
	FuzzyThreshold       float64
	EntityMatchFloor     float64
	EntityMatchMinShared int
	TopicConflictSets    string // raw JSON, parsed by the clustering engine

	// Breaking monitor
	BreakingWindow    time.Duration
	BreakingThreshold int
	BreakingCooldown  time.Duration
	ArchiveAge        time.Duration

	// Summarization
	SummarizationEnabled bool
	BatchInterval        time.Duration
	MinGap               time.Duration
	LLMConcurrency       int
	LLMModelID           string
	LLMAPIKey            string
	OpenAIAPIKey         string
	AuditLogEnabled      bool

	// Store and retention
	StoreConnection    string
	StoryRetentionDays int

	// Operational surface
	HealthPort int

	// Notification channels
	DiscordWebhookURL string
	SlackWebhookURL   string
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() PipelineConfig {
	return PipelineConfig{
		FeedPollConcurrency:    10,
		FeedTimeout:            30 * time.Second,
		PollInterval:           5 * time.Minute,
		CircuitThreshold:       3,
		CircuitCooldown:        30 * time.Minute,
		FeedsFile:              "config/feeds.yaml",
		MaxFeedStartsPerSecond: 5,

		NormalizeWorkers: 4,
		MinTitleLength:   10,
		EntityAliasFile:  "config/entity_aliases.yaml",
		ArticleTTLDays:   30,

		FuzzyThreshold:       0.70,
		EntityMatchFloor:     0.60,
		EntityMatchMinShared: 3,

		BreakingWindow:    30 * time.Minute,
		BreakingThreshold: 4,
		BreakingCooldown:  4 * time.Hour,
		ArchiveAge:        7 * 24 * time.Hour,

		SummarizationEnabled: true,
		BatchInterval:        10 * time.Minute,
		MinGap:               30 * time.Second,
		LLMConcurrency:       4,

		StoryRetentionDays: 90,
		HealthPort:         9091,
	}
}

// LoadConfigFromEnv builds the pipeline configuration from the
// environment with the fail-open strategy: invalid values warn and keep
// defaults, metrics record every fallback, and the returned config is
// always structurally usable.
func LoadConfigFromEnv(logger *slog.Logger, metrics *config.ConfigMetrics) *PipelineConfig {
	cfg := DefaultConfig()

	positive := func(v int) error {
		if v <= 0 {
			return fmt.Errorf("must be positive")
		}
		return nil
	}
	ratio := func(v float64) error {
		if v < 0 || v > 1 {
			return fmt.Errorf("must be within [0,1]")
		}
		return nil
	}

	loadInt := func(key string, target *int, validator func(int) error) {
		result := config.LoadEnvInt(key, *target, validator)
		applyFallback(logger, metrics, key, result)
		*target = result.Value.(int)
	}
	loadFloat := func(key string, target *float64, validator func(float64) error) {
		result := config.LoadEnvFloat(key, *target, validator)
		applyFallback(logger, metrics, key, result)
		*target = result.Value.(float64)
	}
	loadBool := func(key string, target *bool) {
		result := config.LoadEnvBool(key, *target)
		applyFallback(logger, metrics, key, result)
		*target = result.Value.(bool)
	}
	loadScaled := func(key string, target *time.Duration, unit time.Duration) {
		scaled := int(*target / unit)
		result := config.LoadEnvInt(key, scaled, positive)
		applyFallback(logger, metrics, key, result)
		*target = time.Duration(result.Value.(int)) * unit
	}

	loadInt("FEED_POLL_CONCURRENCY", &cfg.FeedPollConcurrency, positive)
	loadScaled("FEED_TIMEOUT_SECONDS", &cfg.FeedTimeout, time.Second)
	loadScaled("FEED_POLL_INTERVAL_MINUTES", &cfg.PollInterval, time.Minute)
	loadInt("CIRCUIT_BREAKER_THRESHOLD", &cfg.CircuitThreshold, positive)
	loadScaled("CIRCUIT_BREAKER_COOLDOWN_MINUTES", &cfg.CircuitCooldown, time.Minute)
	cfg.FeedsFile = config.LoadEnvString("FEEDS_FILE", cfg.FeedsFile)
	loadInt("FEED_MAX_STARTS_PER_SECOND", &cfg.MaxFeedStartsPerSecond, positive)

	loadInt("NORMALIZE_WORKERS", &cfg.NormalizeWorkers, positive)
	loadInt("MIN_TITLE_LENGTH", &cfg.MinTitleLength, positive)
	cfg.EntityAliasFile = config.LoadEnvString("ENTITY_ALIASES_FILE", cfg.EntityAliasFile)
	loadInt("ARTICLE_TTL_DAYS", &cfg.ArticleTTLDays, positive)

	loadFloat("FUZZY_SIMILARITY_THRESHOLD", &cfg.FuzzyThreshold, ratio)
	loadFloat("ENTITY_MATCH_FLOOR", &cfg.EntityMatchFloor, ratio)
	loadInt("ENTITY_MATCH_MIN_SHARED", &cfg.EntityMatchMinShared, positive)
	cfg.TopicConflictSets = config.LoadEnvString("TOPIC_CONFLICT_SETS", "")

	loadScaled("BREAKING_WINDOW_MINUTES", &cfg.BreakingWindow, time.Minute)
	loadInt("BREAKING_SOURCE_THRESHOLD", &cfg.BreakingThreshold, positive)
	loadScaled("BREAKING_COOLDOWN_HOURS", &cfg.BreakingCooldown, time.Hour)
	loadScaled("ARCHIVE_AGE_DAYS", &cfg.ArchiveAge, 24*time.Hour)

	loadBool("SUMMARIZATION_ENABLED", &cfg.SummarizationEnabled)
	loadScaled("SUMMARIZATION_BATCH_INTERVAL_MINUTES", &cfg.BatchInterval, time.Minute)
	loadScaled("SUMMARIZATION_MIN_GAP_SECONDS", &cfg.MinGap, time.Second)
	loadInt("LLM_CONCURRENCY", &cfg.LLMConcurrency, positive)
	cfg.LLMModelID = config.LoadEnvString("LLM_MODEL_ID", cfg.LLMModelID)
	cfg.LLMAPIKey = config.LoadEnvString("LLM_API_KEY", "")
	cfg.OpenAIAPIKey = config.LoadEnvString("OPENAI_API_KEY", "")
	loadBool("SUMMARIZATION_AUDIT_LOG_ENABLED", &cfg.AuditLogEnabled)

	cfg.StoreConnection = config.LoadEnvString("STORE_CONNECTION", "")
	loadInt("STORY_RETENTION_DAYS", &cfg.StoryRetentionDays, positive)
	loadInt("HEALTH_PORT", &cfg.HealthPort, func(v int) error {
		return config.ValidateIntRange(v, 1024, 65535)
	})

	cfg.DiscordWebhookURL = config.LoadEnvString("DISCORD_WEBHOOK_URL", "")
	cfg.SlackWebhookURL = config.LoadEnvString("SLACK_WEBHOOK_URL", "")

	if metrics != nil {
		metrics.RecordLoadTimestamp()
	}
	return &cfg
}

func applyFallback(logger *slog.Logger, metrics *config.ConfigMetrics, key string, result config.ConfigLoadResult) {
	if !result.FallbackApplied {
		return
	}
	for _, warning := range result.Warnings {
		logger.Warn("configuration fallback applied",
			slog.String("env_key", key),
			slog.String("warning", warning))
	}
	if metrics != nil {
		metrics.RecordFallback(key, "default")
	}
}

// Validate flags configuration states that make a requested component
// unrunnable. It is called per subcommand so, for example, a poll-only
// process does not need an LLM key.
func (c *PipelineConfig) Validate(needStore, needLLM bool) error {
	if needStore && c.StoreConnection == "" {
		return fmt.Errorf("STORE_CONNECTION is required")
	}
	if needLLM && c.SummarizationEnabled && c.LLMAPIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required when summarization is enabled")
	}
	return nil
}

// PollConfig maps into the feed poller's component config.
func (c *PipelineConfig) PollConfig() poll.Config {
	return poll.Config{
		Concurrency:        c.FeedPollConcurrency,
		PollInterval:       c.PollInterval,
		FetchTimeout:       c.FeedTimeout,
		MaxStartsPerSecond: c.MaxFeedStartsPerSecond,
		CircuitThreshold:   c.CircuitThreshold,
		CircuitCooldown:    c.CircuitCooldown,
		CircuitCooldownCap: 4 * time.Hour,
	}
}

// NormalizeConfig maps into the normalizer's component config.
func (c *PipelineConfig) NormalizeConfig() normalize.Config {
	cfg := normalize.DefaultConfig()
	cfg.Workers = c.NormalizeWorkers
	cfg.MinTitleLength = c.MinTitleLength
	return cfg
}

// ClusterConfig maps into the clustering engine's component config.
// Invalid topic-set JSON falls back to the built-in sets with a warning.
func (c *PipelineConfig) ClusterConfig(logger *slog.Logger) cluster.Config {
	cfg := cluster.DefaultConfig()
	cfg.FuzzyThreshold = c.FuzzyThreshold
	cfg.EntityMatchFloor = c.EntityMatchFloor
	cfg.EntityMatchMinShared = float64(c.EntityMatchMinShared)

	topics, err := cluster.ParseTopicSets(c.TopicConflictSets)
	if err != nil {
		logger.Warn("invalid TOPIC_CONFLICT_SETS, using defaults", slog.Any("error", err))
		topics = cluster.DefaultTopicSets()
	}
	cfg.Topics = topics
	return cfg
}

// SummarizeConfig maps into the summarization orchestrator's config.
func (c *PipelineConfig) SummarizeConfig() summarize.Config {
	cfg := summarize.DefaultConfig()
	cfg.Enabled = c.SummarizationEnabled
	cfg.Workers = c.LLMConcurrency
	cfg.MinGap = c.MinGap
	cfg.BatchInterval = c.BatchInterval
	cfg.AuditEnabled = c.AuditLogEnabled
	return cfg
}

// MonitorConfig maps into the breaking monitor's config.
func (c *PipelineConfig) MonitorConfig() monitor.Config {
	cfg := monitor.DefaultConfig()
	cfg.BreakingWindow = c.BreakingWindow
	cfg.BreakingThreshold = c.BreakingThreshold
	cfg.Cooldown = c.BreakingCooldown
	cfg.ArchiveAge = c.ArchiveAge
	return cfg
}
