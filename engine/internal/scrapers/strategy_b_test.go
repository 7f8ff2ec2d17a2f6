package scrapers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raceops/ingest/engine/internal/fetcher"
	"github.com/raceops/ingest/engine/internal/testutil/httpmock"
)

const resultsTableHTML = `<html><head><title>Test 10K</title></head><body>
<table>
<thead><tr><th>Bib</th><th>Name</th><th>Country</th><th>Finish</th></tr></thead>
<tbody>
<tr><td>101</td><td>Jane Doe</td><td>GBR</td><td>0:45:10</td></tr>
<tr><td>102</td><td>John Roe</td><td>USA</td><td>0:46:30</td></tr>
</tbody>
</table>
</body></html>`

func TestPaginatedTableScraperScrapeEvent(t *testing.T) {
	srv := httpmock.NewServer([]httpmock.RouteSpec{
		{Pattern: "/event", Status: 200, Body: resultsTableHTML},
	})
	defer srv.Close()

	f, err := fetcher.NewCollyFetcher(fetcher.Policy{Timeout: 5 * time.Second})
	require.NoError(t, err)

	s := NewPaginatedTableScraper("test-organiser", func(u string) bool { return true }, f, nil, nil)

	var stages []Stage
	out, err := s.ScrapeEvent(context.Background(), srv.URL()+"/event", Options{}, func(p Progress) {
		stages = append(stages, p.Stage)
	})
	require.NoError(t, err)
	require.Len(t, out.Results, 2)
	require.Equal(t, "Jane Doe", out.Results[0].Name)
	require.Equal(t, "101", out.Results[0].Bib)
	require.NotEmpty(t, out.Results[0].NormalisedName)
	require.Contains(t, stages, StageComplete)
}

func TestRegistrySelectNoScraper(t *testing.T) {
	r := NewRegistry()
	_, err := r.Select("https://unknown.example/event", "")
	require.Error(t, err)
}
