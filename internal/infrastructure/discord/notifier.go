package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Rodato/FundBot/internal/backoff"
	"github.com/Rodato/FundBot/internal/domain"
	"github.com/Rodato/FundBot/internal/ports"
)

const (
	maxTitleRunes       = 256
	maxDescriptionRunes = 4096
	defaultRetryAfter   = 5 * time.Second
	defaultColorKey     = "default"
	timestampLayout     = "2006-01-02T15:04:05.000Z"
)

var (
	// ErrTransient marks webhook failures worth retrying (network, 5xx).
	ErrTransient = errors.New("transient webhook failure")
	// ErrRateLimited is returned after honouring a 429 Retry-After wait.
	ErrRateLimited = errors.New("webhook rate limited")
	// ErrInvalidWebhook is returned for URLs that are not Discord webhooks.
	ErrInvalidWebhook = errors.New("invalid discord webhook url")
)

var defaultColors = map[string]int{
	"cdti":          0x1f77b4,
	"red.es":        0xff7f0e,
	"accio":         0x2ca02c,
	defaultColorKey: 0x9467bd,
}

var webhookHosts = map[string]bool{
	"discord.com":    true,
	"discordapp.com": true,
}

// Options configures a Notifier. Zero values fall back to sensible defaults.
type Options struct {
	WebhookURL string
	Pacing     time.Duration
	Timeout    time.Duration
	Colors     map[string]int
	Retry      backoff.Policy
	Logger     *slog.Logger
	Client     *http.Client
	Sleep      backoff.SleepFunc
	Now        func() time.Time
}

// Notifier posts listings to a Discord channel through an incoming webhook.
type Notifier struct {
	webhookURL string
	pacing     time.Duration
	colors     map[string]int
	retry      backoff.Policy
	client     *http.Client
	sleep      backoff.SleepFunc
	now        func() time.Time
	logger     *slog.Logger
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier builds the webhook sink.
func NewNotifier(opts Options) *Notifier {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	sleep := opts.Sleep
	if sleep == nil {
		sleep = backoff.Sleep
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	colors := make(map[string]int, len(defaultColors)+len(opts.Colors))
	for tag, color := range defaultColors {
		colors[tag] = color
	}
	for tag, color := range opts.Colors {
		colors[strings.ToLower(tag)] = color
	}

	retry := opts.Retry
	retry.Name = "discord push"
	retry.Logger = logger
	retry.Sleep = sleep
	if len(retry.RetryOn) == 0 {
		retry.RetryOn = []error{ErrTransient, ErrRateLimited}
	}

	return &Notifier{
		webhookURL: strings.TrimSpace(opts.WebhookURL),
		pacing:     opts.Pacing,
		colors:     colors,
		retry:      retry,
		client:     client,
		sleep:      sleep,
		now:        now,
		logger:     logger,
	}
}

// ValidateWebhookURL accepts https://discord.com/api/webhooks/{id}/{token}
// and the legacy discordapp.com host.
func ValidateWebhookURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty", ErrInvalidWebhook)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidWebhook, err)
	}
	if u.Scheme != "https" || !webhookHosts[strings.ToLower(u.Host)] {
		return fmt.Errorf("%w: unexpected origin %s://%s", ErrInvalidWebhook, u.Scheme, u.Host)
	}

	rest, ok := strings.CutPrefix(u.Path, "/api/webhooks/")
	if !ok {
		return fmt.Errorf("%w: path must start with /api/webhooks/", ErrInvalidWebhook)
	}
	id, token, _ := strings.Cut(rest, "/")
	token, _, _ = strings.Cut(token, "/")
	if id == "" || token == "" {
		return fmt.Errorf("%w: missing webhook id or token", ErrInvalidWebhook)
	}

	return nil
}

// Deliver pushes one message per listing. Every item is attempted; the result
// is true only when all of them were accepted.
func (n *Notifier) Deliver(ctx context.Context, batch []domain.Listing) bool {
	if err := ValidateWebhookURL(n.webhookURL); err != nil {
		n.logger.Error("discord webhook not configured", "error", err)
		return false
	}

	if len(batch) == 0 {
		n.logger.Info("nothing to send to discord")
		return true
	}

	n.logger.Info("sending listings to discord", "count", len(batch))

	delivered := 0
	for i, listing := range batch {
		if ctx.Err() != nil {
			n.logger.Warn("delivery interrupted", "sent", delivered, "total", len(batch))
			return false
		}

		payload := webhookPayload{Embeds: []embed{n.buildEmbed(listing)}}
		_, err := backoff.Do(ctx, n.retry, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, n.post(ctx, payload)
		})
		if err != nil {
			n.logger.Error("discord push failed",
				"item", i+1,
				"total", len(batch),
				"identity", listing.Identity,
				"error", err,
			)
			continue
		}

		delivered++
		n.logger.Debug("discord push ok", "item", i+1, "total", len(batch), "title", truncateRunes(listing.Title, 50))

		if i < len(batch)-1 && n.pacing > 0 {
			if err := n.sleep(ctx, n.pacing); err != nil {
				n.logger.Warn("delivery interrupted", "sent", delivered, "total", len(batch))
				return false
			}
		}
	}

	if delivered == len(batch) {
		n.logger.Info("all notifications sent", "sent", delivered, "total", len(batch))
		return true
	}

	n.logger.Warn("partial delivery", "sent", delivered, "total", len(batch))
	return false
}

// Check posts a plain test message to the webhook.
func (n *Notifier) Check(ctx context.Context) error {
	if err := ValidateWebhookURL(n.webhookURL); err != nil {
		return err
	}

	payload := webhookPayload{Content: "FundBot webhook check: the channel is reachable."}
	if err := n.post(ctx, payload); err != nil {
		return fmt.Errorf("check webhook: %w", err)
	}
	return nil
}

type webhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds,omitempty"`
}

type embed struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	URL         string      `json:"url,omitempty"`
	Color       int         `json:"color"`
	Footer      embedFooter `json:"footer"`
	Timestamp   string      `json:"timestamp"`
}

type embedFooter struct {
	Text string `json:"text"`
}

func (n *Notifier) buildEmbed(listing domain.Listing) embed {
	title := strings.TrimSpace(listing.Title)
	if title == "" {
		title = "Untitled call"
	}

	description := strings.TrimSpace(listing.Summary)
	if description == "" {
		description = "No description available"
	}

	tag := listing.SourceTag
	if tag == "" {
		tag = defaultColorKey
	}

	return embed{
		Title:       truncateRunes(title, maxTitleRunes),
		Description: truncateRunes(description, maxDescriptionRunes),
		URL:         listing.Identity,
		Color:       n.colorFor(tag),
		Footer:      embedFooter{Text: fmt.Sprintf("Source: %s • FundBot", strings.ToUpper(tag))},
		Timestamp:   n.now().UTC().Format(timestampLayout),
	}
}

func (n *Notifier) colorFor(tag string) int {
	if color, ok := n.colors[strings.ToLower(tag)]; ok {
		return color
	}
	return n.colors[defaultColorKey]
}

func (n *Notifier) post(ctx context.Context, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: do request: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		wait := parseRetryAfter(resp.Header.Get("Retry-After"))
		n.logger.Warn("discord rate limit reached", "retry_after", wait)
		if err := n.sleep(ctx, wait); err != nil {
			return err
		}
		return fmt.Errorf("%w: retry after %s", ErrRateLimited, wait)
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: discord status %s", ErrTransient, resp.Status)
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
}

// parseRetryAfter reads a delay in (possibly fractional) seconds.
func parseRetryAfter(header string) time.Duration {
	seconds, err := strconv.ParseFloat(strings.TrimSpace(header), 64)
	if err != nil || seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return defaultRetryAfter
	}
	return time.Duration(seconds * float64(time.Second))
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
