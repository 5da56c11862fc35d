package parser

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Rodato/FundBot/internal/backoff"
	"github.com/Rodato/FundBot/internal/domain"
	"github.com/Rodato/FundBot/internal/ports"
)

// PortalSource implements ListingSource over a tag -> URL portal mapping.
type PortalSource struct {
	portals   map[string]string
	fetcher   ports.PageFetcher
	extractor ports.Extractor
	retry     backoff.Policy
	logger    *slog.Logger
}

var _ ports.ListingSource = (*PortalSource)(nil)

// NewPortalSource wires the page fetcher and the extractor with the configured
// portals. retry is applied to page downloads only.
func NewPortalSource(portals map[string]string, fetcher ports.PageFetcher, extractor ports.Extractor, retry backoff.Policy, log *slog.Logger) *PortalSource {
	if log == nil {
		log = slog.Default()
	}
	retry.Name = "fetch page"
	retry.Logger = log
	if len(retry.RetryOn) == 0 {
		retry.RetryOn = []error{ErrTransient}
	}
	return &PortalSource{
		portals:   portals,
		fetcher:   fetcher,
		extractor: extractor,
		retry:     retry,
		logger:    log,
	}
}

// PortalCount reports how many portals are scraped per run.
func (s *PortalSource) PortalCount() int {
	return len(s.portals)
}

// FetchAll scrapes every portal in tag order. A failing portal is logged and
// skipped; only cancellation aborts the scrape.
func (s *PortalSource) FetchAll(ctx context.Context) ([]domain.Listing, error) {
	if len(s.portals) == 0 {
		s.logger.Error("no portals configured")
		return []domain.Listing{}, nil
	}

	tags := make([]string, 0, len(s.portals))
	for tag := range s.portals {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	aggregated := make([]domain.Listing, 0)
	for _, tag := range tags {
		if err := ctx.Err(); err != nil {
			return aggregated, fmt.Errorf("scrape portals: %w", err)
		}

		listings, err := s.scrapePortal(ctx, tag, s.portals[tag])
		if err != nil {
			if ctx.Err() != nil {
				return aggregated, fmt.Errorf("scrape portal %s: %w", tag, ctx.Err())
			}
			s.logger.Error("portal scrape failed", "source", tag, "error", err)
			continue
		}

		s.logger.Info("portal scraped", "source", tag, "count", len(listings))
		aggregated = append(aggregated, listings...)
	}

	s.logger.Info("scrape finished", "portals", len(tags), "total_listings", len(aggregated))
	return aggregated, nil
}

func (s *PortalSource) scrapePortal(ctx context.Context, tag, pageURL string) ([]domain.Listing, error) {
	s.debug("fetch portal", "source", tag, "url", pageURL)

	page, err := backoff.Do(ctx, s.retry, func(ctx context.Context) (string, error) {
		return s.fetcher.Fetch(ctx, pageURL)
	})
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(page) == "" {
		s.logger.Warn("portal returned an empty page", "source", tag, "url", pageURL)
		return nil, nil
	}

	listings, err := s.extractor.Extract(ctx, CleanHTML(page), pageURL)
	if err != nil {
		return nil, err
	}
	for i := range listings {
		listings[i].SourceTag = tag
	}
	return listings, nil
}

func (s *PortalSource) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
