// Package scrapers implements organiser-specific result extractors (spec
// §4.3). Each Scraper declares a URL predicate and capability set, and
// is selected by a Registry keyed on that predicate. Pages are fetched
// via the colly-backed Fetcher and parsed with goquery document
// traversal, following the colly-collector-plus-goquery-selection
// pattern the Kmicac-smoothcomp-scraper reference builds its result
// models around.
package scrapers

import (
	"context"
	"time"

	"github.com/raceops/ingest/engine/internal/fetcher"
	"github.com/raceops/ingest/engine/internal/ratelimit"
	"github.com/raceops/ingest/engine/internal/renderer"
	"github.com/raceops/ingest/engine/models"
)

// Stage is a scrapeEvent progress stage.
type Stage string

const (
	StageInitializing  Stage = "initializing"
	StageConnecting    Stage = "connecting"
	StageDetectingPages Stage = "detecting_pages"
	StageScraping      Stage = "scraping"
	StageValidating    Stage = "validating"
	StageSaving        Stage = "saving"
	StageComplete      Stage = "complete"
	StageError         Stage = "error"
)

// Progress is delivered to the onProgress callback during scrapeEvent.
type Progress struct {
	Stage            Stage
	ResultsScraped   int
	TotalPages       int
	CurrentPage      int
	PercentComplete  float64
	Errors           []string
	Warnings         []string
}

// ProgressFunc receives scrape progress updates.
type ProgressFunc func(Progress)

// Capabilities advertises what a Scraper supports.
type Capabilities struct {
	SupportsHeadless           bool
	SupportsPagination         bool
	SupportsMultipleDistances  bool
	SupportsCheckpoints        bool
	ExpectedCheckpointsByDistance map[string][]string
}

// AnalyzeResult is the best-effort pre-scrape probe outcome.
type AnalyzeResult struct {
	Valid               bool
	Organiser           string
	EventName           string
	EventDate           string
	EstimatedDistances  int
	EstimatedResults    int
	RequiresHeadless    bool
}

// Options configures a scrapeEvent invocation.
type Options struct {
	ForceHeadless bool
}

// Scraper is a capability-tagged extractor for a single organiser.
type Scraper interface {
	Name() string
	Matches(url string) bool
	Capabilities() Capabilities
	AnalyzeURL(ctx context.Context, url string) (*AnalyzeResult, error)
	ScrapeEvent(ctx context.Context, url string, opts Options, onProgress ProgressFunc) (*models.ScrapedResults, error)
}

// AthleteProfileScraper is the optional athlete-history extension.
type AthleteProfileScraper interface {
	ScrapeAthleteProfile(ctx context.Context, url string) ([]models.RaceResult, error)
}

// Registry selects a Scraper for a URL: organiser hint first, then the
// first matching predicate, per spec §4.6 step 1.
type Registry struct {
	scrapers []Scraper
}

// NewRegistry builds a registry from a fixed scraper set.
func NewRegistry(scrapers ...Scraper) *Registry {
	return &Registry{scrapers: scrapers}
}

// Select returns the scraper for organiserHint if present, else the first
// URL-predicate match, else models.ErrNoScraper.
func (r *Registry) Select(url, organiserHint string) (Scraper, error) {
	if organiserHint != "" {
		for _, s := range r.scrapers {
			if s.Name() == organiserHint {
				return s, nil
			}
		}
	}
	for _, s := range r.scrapers {
		if s.Matches(url) {
			return s, nil
		}
	}
	return nil, models.ErrNoScraper
}

// deps bundles the shared collaborators every Scraper implementation
// needs: a Fetcher for plain GETs, a Renderer for headless fallback, and
// an optional limiter pacing requests within one organiser per spec
// §4.3's politeness setting. limiter may be nil, in which case
// multi-request scrapers issue requests back-to-back.
type deps struct {
	fetch   fetcher.Fetcher
	render  *renderer.Renderer
	limiter ratelimit.RateLimiter
}

// APIEmbeddedConfig declares the organiser-specific selectors Strategy A
// needs to locate and decode its embedded component payload.
type APIEmbeddedConfig struct {
	Name             string
	URLMatch         func(string) bool
	APIEmbedSelector string
	APIEmbedAttr     string
	BaseURLAttr      string
	DescriptorsKey   string
}

// pacedFetch performs a single GET through d.fetch, pacing it against
// d.limiter (keyed by organiser) when one is configured, and reporting
// the outcome back to the limiter so it can adapt. With no limiter
// configured it degrades to a plain Fetch.
func pacedFetch(ctx context.Context, d deps, organiser, url string) (*fetcher.FetchResult, error) {
	if d.limiter == nil {
		return d.fetch.Fetch(ctx, url)
	}
	permit, err := d.limiter.Acquire(ctx, organiser)
	if err != nil {
		return nil, err
	}
	defer permit.Release()

	start := time.Now()
	res, fetchErr := d.fetch.Fetch(ctx, url)
	fb := ratelimit.Feedback{Latency: time.Since(start), Err: fetchErr}
	if domainErr, ok := fetchErr.(*models.DomainError); ok {
		fb.StatusCode = domainErr.HTTPStatus
	}
	d.limiter.Feedback(organiser, fb)
	return res, fetchErr
}

// NewAPIEmbeddedScraper builds a Strategy A scraper (spec §4.3). limiter
// may be nil.
func NewAPIEmbeddedScraper(cfg APIEmbeddedConfig, fetch fetcher.Fetcher, render *renderer.Renderer, limiter ratelimit.RateLimiter) Scraper {
	return &apiEmbeddedScraper{
		name:             cfg.Name,
		urlMatch:         cfg.URLMatch,
		apiEmbedSelector: cfg.APIEmbedSelector,
		apiEmbedAttr:     cfg.APIEmbedAttr,
		baseURLAttr:      cfg.BaseURLAttr,
		descriptorsKey:   cfg.DescriptorsKey,
		d:                deps{fetch: fetch, render: render, limiter: limiter},
	}
}

// NewPaginatedTableScraper builds a Strategy B scraper (spec §4.3).
// limiter may be nil.
func NewPaginatedTableScraper(name string, urlMatch func(string) bool, fetch fetcher.Fetcher, render *renderer.Renderer, limiter ratelimit.RateLimiter) Scraper {
	return &paginatedTableScraper{
		name:     name,
		urlMatch: urlMatch,
		d:        deps{fetch: fetch, render: render, limiter: limiter},
	}
}
