package scrapers

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/raceops/ingest/engine/internal/checkpoints"
	"github.com/raceops/ingest/engine/internal/normalize"
	"github.com/raceops/ingest/engine/models"
)

// raceDescriptor is one entry of the embedded `{race_id, pt, title}`
// array described in spec §4.3 Strategy A.
type raceDescriptor struct {
	RaceID string `json:"race_id"`
	PT     string `json:"pt"`
	Title  string `json:"title"`
}

// embeddedCallRe extracts a quoted call wrapping the component
// attribute value, e.g. data-component='raceResults("…")'. The exact
// attribute/tag name is organiser-specific; implementations supply their
// own selector via apiEmbedSelector.
var embeddedCallRe = regexp.MustCompile(`^\s*[A-Za-z0-9_.]+\(\s*(['"])(.*)\1\s*\)\s*$`)

// apiEmbeddedScraper implements spec §4.3 Strategy A.
type apiEmbeddedScraper struct {
	name             string
	urlMatch         func(string) bool
	apiEmbedSelector string // CSS selector whose attribute carries the embedded call
	apiEmbedAttr     string
	baseURLAttr      string // JSON key for the base URL within the unquoted payload
	descriptorsKey   string // JSON key for the race descriptor array
	d                deps
}

func (s *apiEmbeddedScraper) Name() string          { return s.name }
func (s *apiEmbeddedScraper) Matches(u string) bool { return s.urlMatch(u) }
func (s *apiEmbeddedScraper) Capabilities() Capabilities {
	return Capabilities{SupportsHeadless: true, SupportsPagination: false, SupportsMultipleDistances: true}
}

func (s *apiEmbeddedScraper) AnalyzeURL(ctx context.Context, rawURL string) (*AnalyzeResult, error) {
	res, err := s.d.fetch.Fetch(ctx, rawURL)
	if err != nil {
		return &AnalyzeResult{Valid: false}, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(res.Content)))
	if err != nil {
		return &AnalyzeResult{Valid: false}, models.NewParsingError(rawURL, err)
	}
	descriptors, _, err := s.extractDescriptors(doc)
	if err != nil {
		return &AnalyzeResult{Valid: true, Organiser: s.name, RequiresHeadless: true}, nil
	}
	return &AnalyzeResult{
		Valid:              true,
		Organiser:          s.name,
		EventName:          strings.TrimSpace(doc.Find("title").First().Text()),
		EstimatedDistances: len(descriptors),
		RequiresHeadless:   false,
	}, nil
}

func (s *apiEmbeddedScraper) ScrapeEvent(ctx context.Context, rawURL string, opts Options, onProgress ProgressFunc) (*models.ScrapedResults, error) {
	report := func(p Progress) {
		if onProgress != nil {
			onProgress(p)
		}
	}
	report(Progress{Stage: StageInitializing})

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

	report(Progress{Stage: StageDetectingPages})
	descriptors, baseURL, err := s.extractDescriptors(doc)
	if err != nil {
		report(Progress{Stage: StageError, Errors: []string{err.Error()}})
		return nil, err
	}

	event := models.Event{
		URL:       rawURL,
		Organiser: s.name,
		Name:      strings.TrimSpace(doc.Find("title").First().Text()),
		ScrapedAt: time.Now(),
	}

	var distances []models.EventDistance
	var results []models.RaceResult
	var warnings []string

	for i, desc := range descriptors {
		report(Progress{Stage: StageScraping, CurrentPage: i + 1, TotalPages: len(descriptors), PercentComplete: float64(i) / float64(len(descriptors)) * 100})

		apiURL := fmt.Sprintf("%s?race_id=%s&pt=%s", baseURL, url.QueryEscape(desc.RaceID), url.QueryEscape(desc.PT))
		apiRes, err := pacedFetch(ctx, s.d, s.name, apiURL)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("race %s: %v", desc.RaceID, err))
			continue
		}

		rows, parseWarnings, err := decodeResultsPayload(apiRes.Content)
		if err != nil {
			// Falls back to HTML row parsing when the payload is not JSON.
			rows, parseWarnings, err = parseHTMLResultRows(apiRes.Content)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("race %s: %v", desc.RaceID, err))
				continue
			}
		}
		warnings = append(warnings, parseWarnings...)

		raceType := checkpoints.DetectRaceType(desc.Title)
		distance := models.EventDistance{
			Name:     desc.Title,
			RaceType: raceType,
		}
		distances = append(distances, distance)

		for _, row := range rows {
			row.NormalisedName = normalize.Name(row.Name)
			results = append(results, row)
		}
	}

	report(Progress{Stage: StageValidating})
	report(Progress{Stage: StageSaving})
	report(Progress{Stage: StageComplete, ResultsScraped: len(results)})

	return &models.ScrapedResults{
		Event:     event,
		Distances: distances,
		Results:   results,
		Metadata: models.ScrapeMetadata{
			StartedAt:    event.ScrapedAt,
			CompletedAt:  time.Now(),
			TotalResults: len(results),
			Warnings:     warnings,
		},
	}, nil
}

// extractDescriptors finds the embedded component attribute, unquotes
// the wrapped call, and decodes the base URL plus descriptor array.
func (s *apiEmbeddedScraper) extractDescriptors(doc *goquery.Document) ([]raceDescriptor, string, error) {
	sel := doc.Find(s.apiEmbedSelector).First()
	if sel.Length() == 0 {
		return nil, "", models.NewParsingError("", fmt.Errorf("embedded component selector %q not found", s.apiEmbedSelector))
	}
	raw, exists := sel.Attr(s.apiEmbedAttr)
	if !exists || raw == "" {
		return nil, "", models.NewParsingError("", fmt.Errorf("embedded component attribute %q empty", s.apiEmbedAttr))
	}

	payload := raw
	if m := embeddedCallRe.FindStringSubmatch(raw); m != nil {
		payload = m[2]
	}
	payload = html.UnescapeString(payload)

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return nil, "", models.NewParsingError("", fmt.Errorf("decode embedded payload: %w", err))
	}

	baseURL, _ := obj[s.baseURLAttr].(string)
	rawDescriptors, ok := obj[s.descriptorsKey].([]interface{})
	if !ok {
		return nil, "", models.NewParsingError("", fmt.Errorf("descriptor key %q missing or not an array", s.descriptorsKey))
	}

	descriptors := make([]raceDescriptor, 0, len(rawDescriptors))
	for _, raw := range rawDescriptors {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		descriptors = append(descriptors, raceDescriptor{
			RaceID: stringify(m["race_id"]),
			PT:     stringify(m["pt"]),
			Title:  stringify(m["title"]),
		})
	}
	return descriptors, baseURL, nil
}

// decodeResultsPayload parses a JSON results response, trying the known
// property keys when the top level is an object rather than an array.
func decodeResultsPayload(body []byte) ([]models.RaceResult, []string, error) {
	var arr []map[string]interface{}
	if err := json.Unmarshal(body, &arr); err == nil {
		return mapResultObjects(arr)
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, nil, models.NewParsingError("", err)
	}
	for _, key := range []string{"results", "data", "items", "athletes"} {
		if raw, ok := obj[key].([]interface{}); ok {
			rows := make([]map[string]interface{}, 0, len(raw))
			for _, r := range raw {
				if m, ok := r.(map[string]interface{}); ok {
					rows = append(rows, m)
				}
			}
			return mapResultObjects(rows)
		}
	}
	return nil, nil, models.NewParsingError("", fmt.Errorf("no recognised results property in JSON object"))
}

func mapResultObjects(rows []map[string]interface{}) ([]models.RaceResult, []string, error) {
	out := make([]models.RaceResult, 0, len(rows))
	var warnings []string
	for i, obj := range rows {
		name, _ := lookupAlias(obj, "name")
		if name == "" {
			warnings = append(warnings, fmt.Sprintf("row %d: missing name, skipped", i))
			continue
		}
		r := models.RaceResult{Name: name, Status: models.ResultStatusFinished}
		if v, ok := lookupAlias(obj, "bib"); ok {
			r.Bib = v
		}
		if v, ok := lookupAlias(obj, "gender"); ok {
			r.Gender = v
		}
		if v, ok := lookupAlias(obj, "category"); ok {
			r.Category = v
		}
		if v, ok := lookupAlias(obj, "finish_time"); ok {
			r.FinishTime = v
		}
		if v, ok := lookupAlias(obj, "gun_time"); ok {
			r.GunTime = v
		}
		if v, ok := lookupAlias(obj, "chip_time"); ok {
			r.ChipTime = v
		}
		if v, ok := lookupAlias(obj, "pace"); ok {
			r.Pace = v
		}
		if v, ok := lookupAlias(obj, "country"); ok {
			r.Country = v
		}
		if v, ok := lookupAlias(obj, "club"); ok {
			r.Club = v
		}
		if v, ok := lookupAlias(obj, "gender_position"); ok {
			r.GenderPosition = parsePositiveInt(v)
		}
		if v, ok := lookupAlias(obj, "category_position"); ok {
			r.CategoryPosition = parsePositiveInt(v)
		}
		if v, ok := lookupAlias(obj, "position"); ok {
			r.Position = parsePositiveInt(v)
		}
		out = append(out, r)
	}
	return out, warnings, nil
}

// parseHTMLResultRows handles the Strategy A fallback: when the payload
// returned by the descriptor's API URL is HTML rather than JSON, it is
// parsed the same way Strategy B parses its results table.
func parseHTMLResultRows(body []byte) ([]models.RaceResult, []string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, nil, models.NewParsingError("", err)
	}
	table := findResultsTable(doc)
	if table == nil {
		return nil, nil, models.NewParsingError("", fmt.Errorf("no results table found in HTML fallback payload"))
	}
	return extractRowsFromTable(table)
}
