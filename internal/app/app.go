package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Rodato/FundBot/internal/backoff"
	"github.com/Rodato/FundBot/internal/config"
	"github.com/Rodato/FundBot/internal/domain"
	"github.com/Rodato/FundBot/internal/infrastructure/discord"
	"github.com/Rodato/FundBot/internal/infrastructure/llm"
	"github.com/Rodato/FundBot/internal/infrastructure/ml"
	"github.com/Rodato/FundBot/internal/infrastructure/parser"
	"github.com/Rodato/FundBot/internal/infrastructure/scheduler"
	"github.com/Rodato/FundBot/internal/infrastructure/storage"
	"github.com/Rodato/FundBot/internal/logging"
	"github.com/Rodato/FundBot/internal/metrics"
	"github.com/Rodato/FundBot/internal/usecase"
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *storage.SQLStore
	notifier *discord.Notifier
	pipeline *usecase.Pipeline
}

// New opens the dedup store and builds every adapter. Close releases them.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.Discard()
	}

	store, err := storage.Open(ctx, storage.Options{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
		Strict: cfg.Dedup.Strict,
		Logger: baseLogger.With("component", "store"),
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	chat := llm.NewChatGPTClient(cfg.LLM)
	llmRetry := RetryPolicy(cfg.LLM.Retry, llm.ErrTransient)
	agents := ml.NewClient(chat, llmRetry, cfg.Fetch.MaxContentSize, baseLogger.With("component", "llm"))

	source := parser.NewPortalSource(
		cfg.Portals,
		parser.NewCollyFetcher(cfg.Fetch),
		agents,
		RetryPolicy(cfg.Fetch.Retry, parser.ErrTransient),
		baseLogger.With("component", "source"),
	)

	discordCfg := cfg.Notifications.Discord
	notifier := discord.NewNotifier(discord.Options{
		WebhookURL: discordCfg.WebhookURL,
		Pacing:     discordCfg.Pacing,
		Timeout:    discordCfg.Timeout,
		Colors:     discordCfg.Colors,
		Retry:      RetryPolicy(discordCfg.Retry, discord.ErrTransient, discord.ErrRateLimited),
		Logger:     baseLogger.With("component", "discord"),
	})

	recorder, err := metrics.NewRecorder(
		prometheus.NewRegistry(),
		cfg.Metrics.PushgatewayURL,
		cfg.Metrics.Job,
		baseLogger.With("component", "metrics"),
	)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("metrics: %w", err)
	}

	pipeline := usecase.NewPipeline(usecase.PipelineDeps{
		Validate:   cfg.Validate,
		Source:     source,
		Classifier: agents,
		Summarizer: agents,
		Store:      store,
		Notifier:   notifier,
		Recorder:   recorder,
		Logger:     baseLogger.With("component", "pipeline"),
	})

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		store:    store,
		notifier: notifier,
		pipeline: pipeline,
	}, nil
}

// Run performs a single pipeline execution.
func (a *Application) Run(ctx context.Context) (domain.RunReport, error) {
	return a.pipeline.Run(ctx)
}

// RunEvery repeats the pipeline back to back, pausing every between runs,
// until ctx is cancelled.
func (a *Application) RunEvery(ctx context.Context, every time.Duration) error {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", usecase.ErrInvalidConfig, err)
	}

	driver := scheduler.NewIntervalScheduler(every)
	loop := usecase.NewScheduler(driver, a.pipeline, a.logger.With("component", "scheduler"))
	if err := loop.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("scheduler started", "every", every)

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := loop.Stop(stopCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("stop scheduler: %w", err)
	}
	a.logger.Info("scheduler stopped")
	return nil
}

// Migrate applies the store schema.
func (a *Application) Migrate(ctx context.Context) error {
	return a.store.Migrate(ctx)
}

// Stats migrates the store if needed and returns its counters.
func (a *Application) Stats(ctx context.Context) (domain.StoreStats, error) {
	if err := a.store.Migrate(ctx); err != nil {
		return domain.StoreStats{}, err
	}
	return a.store.Stats(ctx)
}

// CheckWebhook posts a test message to the configured Discord webhook.
func (a *Application) CheckWebhook(ctx context.Context) error {
	return a.notifier.Check(ctx)
}

// Close releases the store.
func (a *Application) Close() error {
	return a.store.Close()
}

// RetryPolicy converts the YAML retry block into a backoff policy retrying on
// the given error kinds.
func RetryPolicy(rc config.RetryConfig, retryOn ...error) backoff.Policy {
	return backoff.Policy{
		MaxRetries:      rc.MaxRetries,
		BaseDelay:       rc.BaseDelay,
		MaxDelay:        rc.MaxDelay,
		ExponentialBase: rc.ExponentialBase,
		RetryOn:         retryOn,
	}
}
