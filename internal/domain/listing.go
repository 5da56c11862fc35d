package domain

import "time"

// Listing is a single funding opportunity extracted from a portal page.
// Identity is the absolute URL of the opportunity and is the dedup key.
type Listing struct {
	Identity  string
	Title     string
	Summary   string
	SourceTag string
}

// StoreStats is an observability snapshot of the dedup store.
type StoreStats struct {
	Total      int
	BySource   map[string]int
	AddedToday int
}

// Outcome enumerates how a pipeline run ended.
type Outcome string

const (
	OutcomeCompleted           Outcome = "completed"
	OutcomeCompletedWithErrors Outcome = "completed_with_errors"
	OutcomeNoListings          Outcome = "no_listings"
	OutcomeNoRelevant          Outcome = "no_relevant"
	OutcomeNoNew               Outcome = "no_new"
)

// RunReport captures the counters of one pipeline execution.
type RunReport struct {
	RunID      string
	StartedAt  time.Time
	Duration   time.Duration
	Portals    int
	Fetched    int
	Classified int
	Deduped    int
	Delivered  int
	Saved      int
	DeliveryOK bool
	Outcome    Outcome
}

// RelevanceRate returns the share of fetched listings that were classified relevant, in percent.
func (r RunReport) RelevanceRate() float64 {
	if r.Fetched == 0 {
		return 0
	}
	return float64(r.Classified) / float64(r.Fetched) * 100
}

// AveragePerPortal returns how many listings each portal produced on average.
func (r RunReport) AveragePerPortal() float64 {
	if r.Portals == 0 {
		return 0
	}
	return float64(r.Fetched) / float64(r.Portals)
}
