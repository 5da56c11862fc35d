package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/Rodato/FundBot/internal/backoff"
	"github.com/Rodato/FundBot/internal/domain"
	"github.com/Rodato/FundBot/internal/ports"
)

const defaultMaxContent = 15000

// Client runs extraction, relevance classification and summarization through
// a shared chat client.
type Client struct {
	chat       ports.ChatClient
	retry      backoff.Policy
	maxContent int
	logger     *slog.Logger
}

var (
	_ ports.Extractor  = (*Client)(nil)
	_ ports.Classifier = (*Client)(nil)
	_ ports.Summarizer = (*Client)(nil)
)

// NewClient wires the chat client. retry is applied to every LLM call.
func NewClient(chat ports.ChatClient, retry backoff.Policy, maxContent int, logger *slog.Logger) *Client {
	if maxContent <= 0 {
		maxContent = defaultMaxContent
	}
	if logger == nil {
		logger = slog.Default()
	}
	retry.Logger = logger
	return &Client{
		chat:       chat,
		retry:      retry,
		maxContent: maxContent,
		logger:     logger,
	}
}

// Extract asks the LLM for the funding calls present in content. Relative
// links are resolved against baseURL. Malformed replies yield an empty list.
func (c *Client) Extract(ctx context.Context, content, baseURL string) ([]domain.Listing, error) {
	if utf8.RuneCountInString(content) > c.maxContent {
		c.logger.Warn("page content truncated",
			"url", baseURL,
			"from", utf8.RuneCountInString(content),
			"to", c.maxContent,
		)
		content = truncateRunes(content, c.maxContent)
	}

	reply, err := c.complete(ctx, "extract", extractPrompt(content, baseURL))
	if err != nil {
		return nil, fmt.Errorf("extract listings from %s: %w", baseURL, err)
	}

	listings := c.parseListings(reply, baseURL)
	c.logger.Debug("listings extracted", "url", baseURL, "count", len(listings))
	return listings, nil
}

// Classify keeps the listings the LLM answers YES for. Failed calls and
// unrecognised answers count as not relevant.
func (c *Client) Classify(ctx context.Context, listings []domain.Listing) []domain.Listing {
	relevant := make([]domain.Listing, 0, len(listings))
	for _, listing := range listings {
		reply, err := c.complete(ctx, "classify", classifyPrompt(listing))
		if err != nil {
			c.logger.Warn("classification failed", "identity", listing.Identity, "error", err)
			continue
		}
		if isAffirmative(reply) {
			relevant = append(relevant, listing)
			continue
		}
		c.logger.Debug("listing not relevant", "identity", listing.Identity, "verdict", reply)
	}
	return relevant
}

// Summarize replaces each listing's summary. Empty replies and failures fall
// back to a short text pointing at the listing URL.
func (c *Client) Summarize(ctx context.Context, listings []domain.Listing) []domain.Listing {
	out := make([]domain.Listing, 0, len(listings))
	for _, listing := range listings {
		reply, err := c.complete(ctx, "summarize", summarizePrompt(listing))
		if err != nil {
			c.logger.Warn("summarization failed", "identity", listing.Identity, "error", err)
			reply = ""
		}
		reply = strings.TrimSpace(reply)
		if reply == "" {
			reply = FallbackSummary(listing)
		}
		listing.Summary = reply
		out = append(out, listing)
	}
	return out
}

// FallbackSummary is used when the LLM produced no summary.
func FallbackSummary(listing domain.Listing) string {
	return "New funding opportunity: " + listing.Identity
}

func (c *Client) complete(ctx context.Context, name, prompt string) (string, error) {
	policy := c.retry
	policy.Name = name
	return backoff.Do(ctx, policy, func(ctx context.Context) (string, error) {
		return c.chat.Complete(ctx, prompt)
	})
}

type rawListing struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Summary string `json:"summary"`
}

func (c *Client) parseListings(reply, baseURL string) []domain.Listing {
	cleaned := stripCodeFence(reply)

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &items); err != nil {
		c.logger.Error("llm reply is not a JSON array", "url", baseURL, "error", err, "reply", truncateRunes(cleaned, 200))
		return []domain.Listing{}
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		c.logger.Error("invalid base url", "url", baseURL, "error", err)
		return []domain.Listing{}
	}

	listings := make([]domain.Listing, 0, len(items))
	for _, item := range items {
		var raw rawListing
		if err := json.Unmarshal(item, &raw); err != nil {
			c.logger.Warn("skipping malformed listing", "url", baseURL, "item", string(item))
			continue
		}

		title := strings.TrimSpace(raw.Title)
		link := strings.TrimSpace(raw.URL)
		if title == "" || link == "" {
			c.logger.Warn("skipping listing without title or url", "url", baseURL, "item", string(item))
			continue
		}

		ref, err := url.Parse(link)
		if err != nil {
			c.logger.Warn("skipping listing with invalid url", "url", baseURL, "link", link)
			continue
		}

		listings = append(listings, domain.Listing{
			Identity: base.ResolveReference(ref).String(),
			Title:    title,
			Summary:  strings.TrimSpace(raw.Summary),
		})
	}

	return listings
}

func stripCodeFence(reply string) string {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.HasPrefix(strings.TrimSpace(s[:nl]), "[") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func isAffirmative(reply string) bool {
	verdict := strings.ToUpper(strings.TrimSpace(reply))
	verdict = strings.TrimRight(verdict, ".!¡ ")
	switch verdict {
	case "YES", "SI", "SÍ":
		return true
	default:
		return false
	}
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == limit {
			return s[:i]
		}
		count++
	}
	return s
}
