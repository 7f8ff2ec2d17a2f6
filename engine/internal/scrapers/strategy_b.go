package scrapers

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/raceops/ingest/engine/internal/checkpoints"
	"github.com/raceops/ingest/engine/internal/fetcher"
	"github.com/raceops/ingest/engine/internal/normalize"
	"github.com/raceops/ingest/engine/internal/renderer"
	"github.com/raceops/ingest/engine/models"
)

// columnAliases maps a canonical RaceResult field to the header labels
// that identify its column, per spec §4.3 Strategy B.
var columnAliases = map[string][]string{
	"bib":               {"bib"},
	"name":              {"name"},
	"country":           {"country", "nat"},
	"finish":            {"finish", "time", "gun time", "chip time"},
	"5km":               {"5km", "5 km", "5k"},
	"10km":              {"10km", "10 km", "10k"},
	"13km":              {"13km", "13 km", "13k"},
	"15km":              {"15km", "15 km", "15k"},
	"gender_position":   {"gender rank", "gender pos", "gender place"},
	"category_position": {"category rank", "category pos", "division rank"},
}

var pageParamRe = regexp.MustCompile(`[?&]page=(\d+)`)

// paginatedTableScraper implements spec §4.3 Strategy B.
type paginatedTableScraper struct {
	name     string
	urlMatch func(string) bool
	d        deps
}

func (s *paginatedTableScraper) Name() string          { return s.name }
func (s *paginatedTableScraper) Matches(u string) bool { return s.urlMatch(u) }
func (s *paginatedTableScraper) Capabilities() Capabilities {
	return Capabilities{SupportsHeadless: true, SupportsPagination: true, SupportsMultipleDistances: false}
}

func (s *paginatedTableScraper) AnalyzeURL(ctx context.Context, rawURL string) (*AnalyzeResult, error) {
	res, err := s.d.fetch.Fetch(ctx, rawURL)
	if err != nil {
		return &AnalyzeResult{Valid: false}, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(res.Content)))
	if err != nil {
		return &AnalyzeResult{Valid: false}, models.NewParsingError(rawURL, err)
	}
	table := findResultsTable(doc)
	requiresHeadless := table == nil
	rows := 0
	if table != nil {
		rows = table.Find("tbody tr").Length()
	}
	return &AnalyzeResult{
		Valid:            true,
		Organiser:        s.name,
		EventName:        strings.TrimSpace(doc.Find("title").First().Text()),
		EstimatedResults: rows,
		RequiresHeadless: requiresHeadless,
	}, nil
}

func (s *paginatedTableScraper) ScrapeEvent(ctx context.Context, rawURL string, opts Options, onProgress ProgressFunc) (*models.ScrapedResults, error) {
	report := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}
	report(Progress{Stage: StageInitializing})
	startedAt := time.Now()

	report(Progress{Stage: StageConnecting})
	res, err := s.d.fetch.Fetch(ctx, rawURL)
	if err != nil {
		report(Progress{Stage: StageError, Errors: []string{err.Error()}})
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(res.Content)))
	if err != nil {
		report(Progress{Stage: StageError, Errors: []string{err.Error()}})
		return nil, models.NewParsingError(rawURL, err)
	}

	table := findResultsTable(doc)
	if table == nil {
		err := models.NewParsingError(rawURL, fmt.Errorf("no results table with bib/name headers found"))
		report(Progress{Stage: StageError, Errors: []string{err.Error()}})
		return nil, err
	}

	report(Progress{Stage: StageDetectingPages})
	firstPageRows, warnings, err := extractRowsFromTable(table)
	if err != nil {
		report(Progress{Stage: StageError, Errors: []string{err.Error()}})
		return nil, err
	}

	totalPages, needsHeadless := s.detectTotalPages(doc, len(firstPageRows))
	usedHeadless := false

	var allRows []models.RaceResult
	allRows = append(allRows, firstPageRows...)

	if needsHeadless && s.d.render != nil {
		page, err := s.d.render.Acquire(ctx, renderer.Options{BlockImages: true, BlockCSS: true, BlockFonts: true})
		if err == nil {
			defer page.Release()
			if err := page.NavigateAndWait(rawURL, "table", 30*time.Second); err == nil {
				extract, err := page.ExtractTable("table")
				if err == nil {
					allRows, warnings = rowsFromExtract(extract)
					usedHeadless = true
				}
			}
		}
	} else {
		for p := 2; p <= totalPages; p++ {
			report(Progress{Stage: StageScraping, CurrentPage: p, TotalPages: totalPages, PercentComplete: float64(p-1) / float64(totalPages) * 100})
			pageURL := fmt.Sprintf("%s?page=%d", rawURL, p)
			res, err := s.fetchPaced(ctx, pageURL)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("page %d: %v", p, err))
				continue
			}
			pd, err := goquery.NewDocumentFromReader(strings.NewReader(string(res.Content)))
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("page %d: %v", p, err))
				continue
			}
			pt := findResultsTable(pd)
			if pt == nil {
				continue
			}
			rows, rowWarnings, err := extractRowsFromTable(pt)
			if err != nil {
				warnings = append(warnings, rowWarnings...)
				continue
			}
			allRows = append(allRows, rows...)
		}
	}

	for i := range allRows {
		allRows[i].NormalisedName = normalize.Name(allRows[i].Name)
	}

	event := models.Event{
		URL:       rawURL,
		Organiser: s.name,
		Name:      strings.TrimSpace(doc.Find("title").First().Text()),
		ScrapedAt: time.Now(),
	}

	report(Progress{Stage: StageValidating})
	report(Progress{Stage: StageSaving})
	report(Progress{Stage: StageComplete, ResultsScraped: len(allRows), TotalPages: totalPages, PercentComplete: 100})

	return &models.ScrapedResults{
		Event:   event,
		Results: allRows,
		Metadata: models.ScrapeMetadata{
			StartedAt:           startedAt,
			CompletedAt:         time.Now(),
			TotalPages:          totalPages,
			TotalResults:        len(allRows),
			UsedHeadlessBrowser: usedHeadless,
			Warnings:            warnings,
		},
	}, nil
}

// fetchPaced fetches a subsequent results page, pacing requests per
// spec §4.3's politeness setting when a limiter is configured.
func (s *paginatedTableScraper) fetchPaced(ctx context.Context, url string) (*fetcher.FetchResult, error) {
	return pacedFetch(ctx, s.d, s.name, url)
}

// detectTotalPages parses pagination links for the maximum observed
// page=N, or a "Last" link; applies the heuristic headless-mode trigger
// from spec §4.3: first-page row count an exact multiple of 100 with
// only one page detected.
func (s *paginatedTableScraper) detectTotalPages(doc *goquery.Document, firstPageRows int) (total int, requiresHeadless bool) {
	max := 1
	doc.Find("a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		if m := pageParamRe.FindStringSubmatch(href); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > max {
				max = n
			}
		}
		if strings.EqualFold(strings.TrimSpace(a.Text()), "last") {
			if m := pageParamRe.FindStringSubmatch(href); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil && n > max {
					max = n
				}
			}
		}
	})

	if max == 1 && firstPageRows > 0 && firstPageRows%100 == 0 {
		return max, true
	}
	return max, false
}

// findResultsTable locates a results table by heading text containing
// both "bib" and "name" among its column headers.
func findResultsTable(doc *goquery.Document) *goquery.Selection {
	var found *goquery.Selection
	doc.Find("table").EachWithBreak(func(_ int, t *goquery.Selection) bool {
		headerText := strings.ToLower(t.Find("thead").Text())
		if strings.Contains(headerText, "bib") && strings.Contains(headerText, "name") {
			sel := t
			found = sel
			return false
		}
		return true
	})
	return found
}

// extractRowsFromTable builds a column map from header labels and reads
// each row into a RaceResult.
func extractRowsFromTable(table *goquery.Selection) ([]models.RaceResult, []string, error) {
	var headers []string
	table.Find("thead th").Each(func(_ int, th *goquery.Selection) {
		headers = append(headers, strings.ToLower(strings.TrimSpace(th.Text())))
	})
	if len(headers) == 0 {
		return nil, nil, models.NewParsingError("", fmt.Errorf("results table has no header row"))
	}

	colIndex := make(map[string]int)
	for field, aliases := range columnAliases {
		for _, alias := range aliases {
			for i, h := range headers {
				if h == alias {
					colIndex[field] = i
				}
			}
		}
	}

	var rows []models.RaceResult
	var warnings []string
	table.Find("tbody tr").Each(func(i int, tr *goquery.Selection) {
		var cells []string
		tr.Find("td").Each(func(_ int, td *goquery.Selection) {
			cells = append(cells, strings.TrimSpace(td.Text()))
		})
		cell := func(field string) string {
			idx, ok := colIndex[field]
			if !ok || idx >= len(cells) {
				return ""
			}
			return cells[idx]
		}

		name := cell("name")
		if name == "" {
			warnings = append(warnings, fmt.Sprintf("row %d: missing name, skipped", i))
			return
		}

		r := models.RaceResult{
			Name:             name,
			Bib:              cell("bib"),
			Country:          cell("country"),
			FinishTime:       cell("finish"),
			GenderPosition:   parsePositiveInt(cell("gender_position")),
			CategoryPosition: parsePositiveInt(cell("category_position")),
			Status:           models.ResultStatusFinished,
			Position:         intOrNil(i + 1),
		}
		rows = append(rows, r)

		for _, splitKey := range []string{"5km", "10km", "13km", "15km"} {
			if v := cell(splitKey); v != "" {
				if seconds, ok := checkpoints.ParseTime(v); ok {
					r.Checkpoints = append(r.Checkpoints, models.TimingCheckpoint{
						Name:              splitKey,
						CheckpointType:    models.CheckpointTypeDistance,
						CumulativeTime:    v,
						CumulativeSeconds: seconds,
					})
				}
			}
		}
		rows[len(rows)-1] = r
	})
	return rows, warnings, nil
}

func rowsFromExtract(extract *renderer.TableExtract) ([]models.RaceResult, []string) {
	colIndex := make(map[string]string) // header label -> field
	for field, aliases := range columnAliases {
		for _, alias := range aliases {
			colIndex[alias] = field
		}
	}

	var rows []models.RaceResult
	var warnings []string
	for i, row := range extract.Rows {
		fields := make(map[string]string)
		for header, value := range row {
			if field, ok := colIndex[strings.ToLower(strings.TrimSpace(header))]; ok {
				fields[field] = value
			}
		}
		if fields["name"] == "" {
			warnings = append(warnings, fmt.Sprintf("row %d: missing name, skipped", i))
			continue
		}
		rows = append(rows, models.RaceResult{
			Name:             fields["name"],
			Bib:              fields["bib"],
			Country:          fields["country"],
			FinishTime:       fields["finish"],
			GenderPosition:   parsePositiveInt(fields["gender_position"]),
			CategoryPosition: parsePositiveInt(fields["category_position"]),
			Status:           models.ResultStatusFinished,
			Position:         intOrNil(i + 1),
		})
	}
	return rows, warnings
}

func intOrNil(i int) *int { return &i }
