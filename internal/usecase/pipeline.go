package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Rodato/FundBot/internal/domain"
	"github.com/Rodato/FundBot/internal/ports"
)

// ErrInvalidConfig aborts a run before any external call is made.
var ErrInvalidConfig = errors.New("invalid configuration")

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Validate   func() error
	Source     ports.ListingSource
	Classifier ports.Classifier
	Summarizer ports.Summarizer
	Store      ports.ListingStore
	Notifier   ports.Notifier
	Recorder   ports.RunRecorder
	Logger     *slog.Logger
	Now        func() time.Time
}

// Pipeline implements the scrape, classify, dedup, summarize, deliver workflow.
type Pipeline struct {
	validate   func() error
	source     ports.ListingSource
	classifier ports.Classifier
	summarizer ports.Summarizer
	store      ports.ListingStore
	notifier   ports.Notifier
	recorder   ports.RunRecorder
	logger     *slog.Logger
	now        func() time.Time
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		validate:   deps.Validate,
		source:     deps.Source,
		classifier: deps.Classifier,
		summarizer: deps.Summarizer,
		store:      deps.Store,
		notifier:   deps.Notifier,
		recorder:   deps.Recorder,
		logger:     logger,
		now:        now,
	}
}

// Run executes one end-to-end pass. Early exits (nothing fetched, nothing
// relevant, nothing new) are successful runs with a distinct outcome. Errors
// are returned only for invalid configuration, store migration failures and
// cancellation.
func (p *Pipeline) Run(ctx context.Context) (domain.RunReport, error) {
	report := domain.RunReport{
		RunID:     uuid.NewString(),
		StartedAt: p.now(),
	}
	log := p.logger.With("run_id", report.RunID)

	if err := p.checkDeps(); err != nil {
		return report, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if p.validate != nil {
		if err := p.validate(); err != nil {
			log.Error("configuration is invalid", "error", err)
			return report, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	log.Info("fundbot run started", "portals", p.source.PortalCount())

	if err := p.store.Migrate(ctx); err != nil {
		return report, fmt.Errorf("prepare store: %w", err)
	}
	if stats, err := p.store.Stats(ctx); err != nil {
		log.Warn("store stats unavailable", "error", err)
	} else {
		log.Info("store loaded", "total", stats.Total, "added_today", stats.AddedToday, "by_source", stats.BySource)
	}

	report.Portals = p.source.PortalCount()

	listings, err := p.source.FetchAll(ctx)
	if err != nil {
		return p.finish(ctx, log, report), fmt.Errorf("fetch listings: %w", err)
	}
	report.Fetched = len(listings)
	if len(listings) == 0 {
		log.Warn("no listings found on any portal")
		report.Outcome = domain.OutcomeNoListings
		return p.finish(ctx, log, report), nil
	}
	log.Info("listings fetched", "count", len(listings))

	relevant := p.classifier.Classify(ctx, listings)
	if err := ctx.Err(); err != nil {
		return p.finish(ctx, log, report), fmt.Errorf("classify listings: %w", err)
	}
	report.Classified = len(relevant)
	if len(relevant) == 0 {
		log.Info("no relevant listings")
		report.Outcome = domain.OutcomeNoRelevant
		return p.finish(ctx, log, report), nil
	}
	log.Info("relevant listings", "count", len(relevant))

	fresh := make([]domain.Listing, 0, len(relevant))
	for _, listing := range relevant {
		if p.store.Exists(ctx, listing.Identity) {
			log.Debug("listing already sent", "identity", listing.Identity)
			continue
		}
		fresh = append(fresh, listing)
	}
	report.Deduped = len(fresh)
	if len(fresh) == 0 {
		log.Info("no new listings to send")
		report.Outcome = domain.OutcomeNoNew
		return p.finish(ctx, log, report), nil
	}
	log.Info("new listings", "count", len(fresh))

	summarized := p.summarizer.Summarize(ctx, fresh)
	if err := ctx.Err(); err != nil {
		return p.finish(ctx, log, report), fmt.Errorf("summarize listings: %w", err)
	}

	report.DeliveryOK = p.notifier.Deliver(ctx, summarized)
	report.Delivered = len(summarized)
	if err := ctx.Err(); err != nil {
		return p.finish(ctx, log, report), fmt.Errorf("deliver listings: %w", err)
	}

	for _, listing := range summarized {
		if p.store.Insert(ctx, listing) {
			report.Saved++
		}
	}

	report.Outcome = domain.OutcomeCompleted
	if !report.DeliveryOK {
		report.Outcome = domain.OutcomeCompletedWithErrors
	}
	return p.finish(ctx, log, report), nil
}

func (p *Pipeline) finish(ctx context.Context, log *slog.Logger, report domain.RunReport) domain.RunReport {
	report.Duration = p.now().Sub(report.StartedAt)

	attrs := []any{
		"outcome", report.Outcome,
		"fetched", report.Fetched,
		"classified", report.Classified,
		"deduped", report.Deduped,
		"delivered", report.Delivered,
		"saved", report.Saved,
		"duration", report.Duration.Round(time.Millisecond),
		"portals", report.Portals,
		"avg_per_portal", fmt.Sprintf("%.1f", report.AveragePerPortal()),
		"relevance_rate", fmt.Sprintf("%.1f%%", report.RelevanceRate()),
	}
	switch report.Outcome {
	case domain.OutcomeCompletedWithErrors:
		log.Warn("fundbot run finished with delivery errors", attrs...)
	case "":
		log.Warn("fundbot run aborted", attrs...)
	default:
		log.Info("fundbot run finished", attrs...)
	}

	if p.recorder != nil && report.Outcome != "" {
		p.recorder.Record(context.WithoutCancel(ctx), report)
	}
	return report
}

func (p *Pipeline) checkDeps() error {
	switch {
	case p.source == nil:
		return errors.New("listing source is not configured")
	case p.classifier == nil:
		return errors.New("classifier is not configured")
	case p.summarizer == nil:
		return errors.New("summarizer is not configured")
	case p.store == nil:
		return errors.New("listing store is not configured")
	case p.notifier == nil:
		return errors.New("notifier is not configured")
	}
	return nil
}
