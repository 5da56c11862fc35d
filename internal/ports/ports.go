package ports

import (
	"context"
	"time"

	"github.com/Rodato/FundBot/internal/domain"
)

// ListingSource pulls fresh listings from every configured portal.
type ListingSource interface {
	FetchAll(ctx context.Context) ([]domain.Listing, error)
	PortalCount() int
}

// PageFetcher downloads the raw markup of a portal page.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// Extractor turns raw page content into candidate listings.
type Extractor interface {
	Extract(ctx context.Context, content, baseURL string) ([]domain.Listing, error)
}

// Classifier decides whether a listing is relevant for the organisation.
type Classifier interface {
	Classify(ctx context.Context, listings []domain.Listing) []domain.Listing
}

// Summarizer rewrites the summary of each listing.
type Summarizer interface {
	Summarize(ctx context.Context, listings []domain.Listing) []domain.Listing
}

// ListingStore persists delivered identities for deduplication.
type ListingStore interface {
	Migrate(ctx context.Context) error
	Exists(ctx context.Context, identity string) bool
	Insert(ctx context.Context, listing domain.Listing) bool
	Stats(ctx context.Context) (domain.StoreStats, error)
}

// Notifier pushes a batch of listings to the chat channel.
type Notifier interface {
	Deliver(ctx context.Context, batch []domain.Listing) bool
}

// ChatClient sends a single prompt to an LLM and returns its reply.
type ChatClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// RunRecorder observes finished runs (metrics, push gateways).
type RunRecorder interface {
	Record(ctx context.Context, report domain.RunReport)
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
