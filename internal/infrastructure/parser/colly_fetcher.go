package parser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/Rodato/FundBot/internal/config"
	"github.com/Rodato/FundBot/internal/ports"
)

// ErrTransient marks page fetch failures worth retrying.
var ErrTransient = errors.New("transient fetch failure")

// CollyFetcher downloads portal pages with a colly collector.
type CollyFetcher struct {
	base *colly.Collector
}

var _ ports.PageFetcher = (*CollyFetcher)(nil)

// NewCollyFetcher builds a synchronous collector that may revisit URLs so
// retries are not rejected as duplicates.
func NewCollyFetcher(cfg config.FetchConfig) *CollyFetcher {
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	c.SetRequestTimeout(timeout)

	return &CollyFetcher{base: c}
}

// Fetch returns the page body. Network errors, 429 and 5xx responses wrap
// ErrTransient.
func (f *CollyFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	var (
		body       []byte
		status     int
		onErrorHit bool
	)

	collector := f.base.Clone()
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, _ error) {
		onErrorHit = true
		if r != nil {
			status = r.StatusCode
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("fetch %s canceled: %w", pageURL, ctx.Err())
	case err := <-done:
		if err != nil {
			if onErrorHit && isTransientStatus(status) {
				return "", fmt.Errorf("%w: fetch %s (status %d): %v", ErrTransient, pageURL, status, err)
			}
			return "", fmt.Errorf("fetch %s (status %d): %w", pageURL, status, err)
		}
		return string(body), nil
	}
}

// isTransientStatus treats a missing status (no response) as a network error.
func isTransientStatus(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}
