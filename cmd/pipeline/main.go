// Command pipeline runs the news aggregation pipeline. One binary hosts
// every component behind subcommands:
//
//	pipeline poll       - feed poller + normalizer + TTL sweeper
//	pipeline cluster    - clustering engine consumer
//	pipeline summarize  - summarization orchestrator
//	pipeline monitor    - breaking-news monitor + notification deliverer
//	pipeline all        - everything in one process
//
// Exit codes: 0 clean shutdown, 1 configuration error, 2 fatal runtime
// error.
package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	pgstore "catchup-pipeline/internal/infra/adapter/persistence/postgres"
	"catchup-pipeline/internal/infra/db"
	"catchup-pipeline/internal/infra/feedpoll"
	"catchup-pipeline/internal/infra/llm"
	"catchup-pipeline/internal/infra/notifier"
	"catchup-pipeline/internal/infra/worker"
	"catchup-pipeline/internal/observability/logging"
	"catchup-pipeline/internal/observability/tracing"
	"catchup-pipeline/internal/usecase/cluster"
	"catchup-pipeline/internal/usecase/monitor"
	"catchup-pipeline/internal/usecase/normalize"
	"catchup-pipeline/internal/usecase/notify"
	"catchup-pipeline/internal/usecase/poll"
	"catchup-pipeline/internal/usecase/summarize"
	pkgconfig "catchup-pipeline/pkg/config"
)

const (
	exitOK          = 0
	exitConfigError = 1
	exitFatal       = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	subcommand := "all"
	if len(os.Args) > 1 {
		subcommand = os.Args[1]
	}
	switch subcommand {
	case "poll", "cluster", "summarize", "monitor", "all":
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q (want poll|cluster|summarize|monitor|all)\n", subcommand)
		return exitConfigError
	}

	metrics := worker.NewWorkerMetrics()
	metrics.MustRegister()
	cfg := worker.LoadConfigFromEnv(logger, metrics.ConfigMetrics)

	needLLM := subcommand == "summarize" || subcommand == "all"
	if err := cfg.Validate(true, needLLM); err != nil {
		logger.Error("configuration error", slog.Any("error", err))
		return exitConfigError
	}

	shutdownTracing := tracing.InitTracer()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database := db.Open()
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("database close failed", slog.Any("error", err))
		}
	}()
	if err := db.MigrateUp(database); err != nil {
		logger.Error("migration failed", slog.Any("error", err))
		return exitFatal
	}

	app, err := buildApp(subcommand, cfg, database, logger)
	if err != nil {
		logger.Error("startup failed", slog.Any("error", err))
		return exitConfigError
	}

	startMetricsServer(ctx, logger)

	logger.Info("pipeline starting", slog.String("subcommand", subcommand))
	if err := app.run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("pipeline failed", slog.Any("error", err))
		return exitFatal
	}
	logger.Info("pipeline stopped cleanly")
	return exitOK
}

// app bundles the long-running tasks one subcommand starts.
type app struct {
	tasks  []func(context.Context) error
	health *worker.HealthServer
}

func (a *app) run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := a.health.Start(groupCtx)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	for _, task := range a.tasks {
		task := task
		group.Go(func() error {
			err := task(groupCtx)
			if errors.Is(err, context.Canceled) || groupCtx.Err() != nil {
				return nil
			}
			return err
		})
	}

	a.health.SetReady(true)
	return group.Wait()
}

// buildApp wires the requested components against the shared store.
func buildApp(subcommand string, cfg *worker.PipelineConfig, database *sql.DB, logger *slog.Logger) (*app, error) {
	store := pgstore.NewDocumentStore(database)
	articles := pgstore.NewArticleRepo(store)
	stories := pgstore.NewStoryRepo(store)
	pollStates := pgstore.NewFeedPollStateRepo(store)
	notifications := pgstore.NewNotificationRepo(store)
	deadLetters := pgstore.NewDeadLetterRepo(store)
	costs := pgstore.NewCostLogRepo(store)
	audits := pgstore.NewSummaryAuditRepo(store)

	health := worker.NewHealthServer(fmt.Sprintf(":%d", cfg.HealthPort), logger)
	built := &app{health: health}

	wantPoll := subcommand == "poll" || subcommand == "all"
	wantCluster := subcommand == "cluster" || subcommand == "all"
	wantSummarize := subcommand == "summarize" || subcommand == "all"
	wantMonitor := subcommand == "monitor" || subcommand == "all"

	if wantPoll {
		feeds, err := poll.LoadFeeds(cfg.FeedsFile)
		if err != nil {
			return nil, fmt.Errorf("load feeds: %w", err)
		}
		aliases, err := normalize.LoadAliases(cfg.EntityAliasFile)
		if err != nil {
			return nil, fmt.Errorf("load entity aliases: %w", err)
		}

		queue := make(chan poll.Candidate, 256)
		fetcher := feedpoll.NewFetcher(createHTTPClient(cfg.FeedTimeout))
		poller := poll.NewPoller(feeds, fetcher, pollStates, queue, cfg.PollConfig(), logger)

		normalizeCfg := cfg.NormalizeConfig()
		// Operators can extend the built-in junk deny list without a
		// rebuild, e.g. TITLE_DENY_PATTERNS="(?i)giveaway,(?i)horoscope".
		normalizeCfg.DenyPatterns = append(normalizeCfg.DenyPatterns,
			pkgconfig.GetEnvStringList("TITLE_DENY_PATTERNS", nil)...)
		normalizer, err := normalize.NewService(articles, normalize.NewExtractor(aliases), normalizeCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("build normalizer: %w", err)
		}

		health.RegisterStats("poller", poller.Stats)
		health.SetCircuitResetter(pollStates.ResetCircuit)

		built.tasks = append(built.tasks,
			poller.Run,
			func(ctx context.Context) error { return normalizer.Run(ctx, queue) },
			normalizer.RunSweeper,
		)
	}

	if wantCluster {
		engine := cluster.NewEngine(stories, articles, cfg.ClusterConfig(logger), logger)
		consumer := cluster.NewConsumer(engine, articles, deadLetters, logger)
		built.tasks = append(built.tasks, consumer.Run)
	}

	if wantSummarize {
		realtime := llm.NewClaude(cfg.LLMAPIKey, claudeConfig(cfg), logger)
		batch := llm.NewOpenAIBatch(cfg.OpenAIAPIKey, llm.DefaultBatchConfig(), logger)
		orchestrator := summarize.NewService(stories, costs, audits, deadLetters, realtime, batch, cfg.SummarizeConfig(), logger)
		built.tasks = append(built.tasks, orchestrator.Run)
	}

	if wantMonitor {
		mon := monitor.NewMonitor(stories, notifications, cfg.MonitorConfig(), logger)

		channels := buildChannels(cfg)
		dispatcher := notify.NewService(channels, pkgconfig.GetEnvInt("NOTIFY_MAX_CONCURRENT", 10), logger)
		drainInterval := pkgconfig.GetEnvDuration("NOTIFY_DRAIN_INTERVAL", 15*time.Second)
		if err := pkgconfig.ValidatePositiveDuration(drainInterval); err != nil {
			drainInterval = 15 * time.Second
		}
		deliverer := notify.NewDeliverer(notifications, dispatcher, drainInterval, logger)

		health.RegisterStats("channels", func(context.Context) (map[string]any, error) {
			return map[string]any{"health": dispatcher.GetChannelHealth()}, nil
		})

		built.tasks = append(built.tasks, mon.Run, deliverer.Run)
	}

	return built, nil
}

func claudeConfig(cfg *worker.PipelineConfig) llm.ClaudeConfig {
	claude := llm.DefaultClaudeConfig()
	if cfg.LLMModelID != "" {
		claude.Model = cfg.LLMModelID
	}
	return claude
}

func buildChannels(cfg *worker.PipelineConfig) []notify.Channel {
	return []notify.Channel{
		notify.NewDiscordChannel(notifier.DiscordConfig{
			Enabled:    cfg.DiscordWebhookURL != "",
			WebhookURL: cfg.DiscordWebhookURL,
			Timeout:    10 * time.Second,
		}),
		notify.NewSlackChannel(notifier.SlackConfig{
			Enabled:    cfg.SlackWebhookURL != "",
			WebhookURL: cfg.SlackWebhookURL,
			Timeout:    10 * time.Second,
		}),
	}
}

// createHTTPClient builds the hardened outbound client used for feed
// fetches: modern TLS only, pooled connections, bounded lifetimes.
func createHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
