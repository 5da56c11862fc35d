package usecase

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rodato/FundBot/internal/domain"
	"github.com/Rodato/FundBot/internal/logging"
)

type fakeSource struct {
	listings []domain.Listing
	err      error
	calls    int
}

func (f *fakeSource) FetchAll(context.Context) ([]domain.Listing, error) {
	f.calls++
	return f.listings, f.err
}

func (f *fakeSource) PortalCount() int { return 3 }

type fakeClassifier struct {
	relevant func(domain.Listing) bool
	calls    int
}

func (f *fakeClassifier) Classify(_ context.Context, listings []domain.Listing) []domain.Listing {
	var out []domain.Listing
	for _, l := range listings {
		f.calls++
		if f.relevant == nil || f.relevant(l) {
			out = append(out, l)
		}
	}
	return out
}

type fakeSummarizer struct {
	calls int
}

func (f *fakeSummarizer) Summarize(_ context.Context, listings []domain.Listing) []domain.Listing {
	out := make([]domain.Listing, 0, len(listings))
	for _, l := range listings {
		f.calls++
		l.Summary = "summary of " + l.Title
		out = append(out, l)
	}
	return out
}

type fakeStore struct {
	seen       map[string]bool
	inserted   []domain.Listing
	migrateErr error
	failInsert map[string]bool
}

func (f *fakeStore) Migrate(context.Context) error { return f.migrateErr }

func (f *fakeStore) Exists(_ context.Context, identity string) bool { return f.seen[identity] }

func (f *fakeStore) Insert(_ context.Context, listing domain.Listing) bool {
	if f.failInsert[listing.Identity] || f.seen[listing.Identity] {
		return false
	}
	f.seen[listing.Identity] = true
	f.inserted = append(f.inserted, listing)
	return true
}

func (f *fakeStore) Stats(context.Context) (domain.StoreStats, error) {
	return domain.StoreStats{Total: len(f.seen)}, nil
}

type fakeNotifier struct {
	batches [][]domain.Listing
	ok      bool
}

func (f *fakeNotifier) Deliver(_ context.Context, batch []domain.Listing) bool {
	f.batches = append(f.batches, batch)
	return f.ok
}

type fakeRecorder struct {
	reports []domain.RunReport
}

func (f *fakeRecorder) Record(_ context.Context, report domain.RunReport) {
	f.reports = append(f.reports, report)
}

type harness struct {
	source     *fakeSource
	classifier *fakeClassifier
	summarizer *fakeSummarizer
	store      *fakeStore
	notifier   *fakeNotifier
	recorder   *fakeRecorder
	validate   func() error
}

func newHarness(listings ...domain.Listing) *harness {
	return &harness{
		source:     &fakeSource{listings: listings},
		classifier: &fakeClassifier{},
		summarizer: &fakeSummarizer{},
		store:      &fakeStore{seen: map[string]bool{}},
		notifier:   &fakeNotifier{ok: true},
		recorder:   &fakeRecorder{},
	}
}

func (h *harness) pipeline() *Pipeline {
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return NewPipeline(PipelineDeps{
		Validate:   h.validate,
		Source:     h.source,
		Classifier: h.classifier,
		Summarizer: h.summarizer,
		Store:      h.store,
		Notifier:   h.notifier,
		Recorder:   h.recorder,
		Logger:     logging.Discard(),
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
}

var neotec = domain.Listing{Identity: "https://cdti.es/neotec", Title: "NEOTEC", SourceTag: "cdti"}

func TestRunEmptyFetchStopsEarly(t *testing.T) {
	t.Parallel()

	h := newHarness()
	report, err := h.pipeline().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeNoListings, report.Outcome)
	assert.Zero(t, h.classifier.calls)
	assert.Zero(t, h.summarizer.calls)
	assert.Empty(t, h.notifier.batches)
	require.Len(t, h.recorder.reports, 1)
	assert.NotEmpty(t, report.RunID)
}

func TestRunAlreadySeenListingIsSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness(neotec)
	h.store.seen[neotec.Identity] = true

	report, err := h.pipeline().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeNoNew, report.Outcome)
	assert.Equal(t, 1, report.Classified)
	assert.Zero(t, h.summarizer.calls)
	assert.Empty(t, h.notifier.batches)
	assert.Empty(t, h.store.inserted)
}

func TestRunNewListingIsDeliveredAndStored(t *testing.T) {
	t.Parallel()

	h := newHarness(neotec)
	report, err := h.pipeline().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeCompleted, report.Outcome)
	assert.Equal(t, 1, h.summarizer.calls)
	require.Len(t, h.notifier.batches, 1)
	require.Len(t, h.notifier.batches[0], 1)
	assert.Equal(t, "summary of NEOTEC", h.notifier.batches[0][0].Summary)
	require.Len(t, h.store.inserted, 1)
	assert.Equal(t, neotec.Identity, h.store.inserted[0].Identity)

	assert.Equal(t, 1, report.Fetched)
	assert.Equal(t, 1, report.Classified)
	assert.Equal(t, 1, report.Deduped)
	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 1, report.Saved)
	assert.Equal(t, 3, report.Portals)
	assert.True(t, report.DeliveryOK)
	assert.Positive(t, report.Duration)
}

func TestRunLogsFinalCounts(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newHarness(neotec)
	p := h.pipeline()
	p.logger = logging.NewWithWriter(&buf, "info", true)

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	out := buf.String()
	for _, count := range []string{"fetched=1", "classified=1", "deduped=1", "delivered=1", "saved=1"} {
		assert.Contains(t, out, count)
	}
}

func TestRunNothingRelevant(t *testing.T) {
	t.Parallel()

	h := newHarness(neotec)
	h.classifier.relevant = func(domain.Listing) bool { return false }

	report, err := h.pipeline().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoRelevant, report.Outcome)
	assert.Zero(t, h.summarizer.calls)
}

func TestRunPartialDeliveryStillPersists(t *testing.T) {
	t.Parallel()

	other := domain.Listing{Identity: "https://red.es/kit", Title: "Kit", SourceTag: "red.es"}
	h := newHarness(neotec, other)
	h.notifier.ok = false
	h.store.failInsert = map[string]bool{other.Identity: true}

	report, err := h.pipeline().Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeCompletedWithErrors, report.Outcome)
	assert.False(t, report.DeliveryOK)
	assert.Equal(t, 2, report.Delivered)
	assert.Equal(t, 1, report.Saved)
}

func TestRunInvalidConfig(t *testing.T) {
	t.Parallel()

	h := newHarness(neotec)
	h.validate = func() error { return errors.New("missing DISCORD_WEBHOOK_URL") }

	_, err := h.pipeline().Run(context.Background())
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Zero(t, h.source.calls)
	assert.Empty(t, h.recorder.reports)
}

func TestRunMissingCollaborator(t *testing.T) {
	t.Parallel()

	p := NewPipeline(PipelineDeps{Logger: logging.Discard()})
	_, err := p.Run(context.Background())
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunMigrationFailureIsFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(neotec)
	h.store.migrateErr = errors.New("disk full")

	_, err := h.pipeline().Run(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)
	assert.Zero(t, h.source.calls)
}

func TestRunFetchCancelled(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source.err = context.Canceled

	_, err := h.pipeline().Run(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.recorder.reports)
}
