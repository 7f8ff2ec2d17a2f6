package fetcher

import (
	"context"
	"fmt"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/debug"

	"github.com/raceops/ingest/engine/models"
)

// CollyFetcher implements Fetcher using a single-purpose colly.Collector:
// one GET per call, no link-following and no crawl-depth/discovery
// machinery (a scrape job always targets one known event URL).
type CollyFetcher struct {
	policy Policy
}

// NewCollyFetcher validates and stores the fetch policy.
func NewCollyFetcher(policy Policy) (*CollyFetcher, error) {
	if policy.Timeout <= 0 {
		return nil, fmt.Errorf("invalid fetch policy: timeout must be positive, got %v", policy.Timeout)
	}
	if policy.UserAgent == "" {
		policy.UserAgent = DefaultPolicy().UserAgent
	}
	return &CollyFetcher{policy: policy}, nil
}

// Fetch retrieves a single page, classifying the outcome per spec §4.1/§7.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	c := colly.NewCollector(colly.Debugger(&debug.LogDebugger{}))
	c.SetRequestTimeout(f.policy.Timeout)
	c.UserAgent = f.policy.UserAgent

	result := &FetchResult{URL: rawURL, Headers: make(map[string]string)}
	var transportErr error

	c.OnResponse(func(r *colly.Response) {
		result.Status = r.StatusCode
		result.Content = r.Body
		if r.Headers != nil {
			for key, values := range *r.Headers {
				if len(values) > 0 {
					result.Headers[key] = values[0]
				}
			}
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			result.Status = r.StatusCode
			return // HTTP status error, handled after Visit returns
		}
		transportErr = err
	})

	if err := c.Visit(rawURL); err != nil {
		if transportErr == nil {
			transportErr = err
		}
	}

	select {
	case <-ctx.Done():
		return nil, models.NewTransportError(rawURL, ctx.Err())
	default:
	}

	if transportErr != nil {
		return nil, models.NewTransportError(rawURL, transportErr)
	}
	if result.Status >= 400 {
		return nil, models.NewHTTPStatusError(rawURL, result.Status)
	}
	return result, nil
}
