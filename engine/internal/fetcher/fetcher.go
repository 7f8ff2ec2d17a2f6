// Package fetcher implements the pure HTTP GET utility of spec §4.1: a
// single request per call, no retries, no link discovery — a scrape job
// always targets one known event URL.
package fetcher

import (
	"context"
	"time"
)

// FetchResult is the outcome of a single GET.
type FetchResult struct {
	URL     string
	Content []byte
	Headers map[string]string
	Status  int
}

// Policy configures a Fetcher.
type Policy struct {
	UserAgent string
	Timeout   time.Duration
}

// DefaultPolicy returns the spec §4.1 default: 60s timeout, stable UA.
func DefaultPolicy() Policy {
	return Policy{UserAgent: "raceops-ingest/1.0", Timeout: 60 * time.Second}
}

// Fetcher performs a single HTTP GET, classifying failures per spec §4.1/§7:
// any status < 400 is a body-bearing response, 4xx/5xx surface as a typed
// HttpStatus error, and network failures surface as a typed Transport error.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchResult, error)
}
