// Package validator scores a scraped event payload for completeness and
// flags per-row issues before it reaches the Ingestion Coordinator: a
// score/issues/field-check shape run over every row of a
// models.ScrapedResults payload rather than a single page.
package validator

import (
	"fmt"

	"github.com/raceops/ingest/engine/internal/checkpoints"
	"github.com/raceops/ingest/engine/models"
)

// Severity distinguishes issues that should stop ingestion from ones that
// are merely informative.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Issue is a single finding attached to a row (by index) or the payload
// as a whole (RowIndex == -1).
type Issue struct {
	RowIndex int
	Severity Severity
	Field    string
	Message  string
}

// FieldStats reports the population percentage of a single field across
// every row scored.
type FieldStats struct {
	Field      string
	Percentage float64
}

// Statistics summarises the validated payload per spec §4.5.
type Statistics struct {
	Total                   int
	RowsWithAllFields       int
	RowsWithCheckpoints     int
	AverageCheckpointsCount float64
	FieldPercentages        []FieldStats
}

// Result is the full output of Validate.
type Result struct {
	Issues             []Issue
	CompletenessScore  float64
	Statistics         Statistics
}

// HasCritical reports whether any row failed a hard requirement.
func (r *Result) HasCritical() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// populationThreshold is the fixed minimum fraction of rows a non-split
// field must populate before a warning is raised; spec §4.5 specifies this
// as a literal 50% rather than a per-race-type configurable value (see
// DESIGN.md Open Question decisions).
const populationThreshold = 0.5

// fixedFields is the field list used for the completeness score, per
// spec §4.5: position, bib, name, finish, plus any expected checkpoints
// present in the declared distance.
var fixedFields = []string{"position", "bib", "name", "finish"}

// Validate scores a full scrape payload. distanceByID maps each
// EventDistance id to its taxonomy entry so that expected checkpoints can
// be folded into the completeness field list.
func Validate(payload *models.ScrapedResults, distances map[string]models.EventDistance) *Result {
	rows := payload.Results
	total := len(rows)
	res := &Result{Statistics: Statistics{Total: total}}
	if total == 0 {
		return res
	}

	fieldPresent := make(map[string]int, len(fixedFields))
	for _, f := range fixedFields {
		fieldPresent[f] = 0
	}

	cpPresent := make(map[string]int)
	bibSeen := make(map[string]int)
	positionSeen := make(map[int]int)
	rowsWithCheckpoints := 0
	totalCheckpoints := 0
	rowsWithAllFields := 0

	for idx := range rows {
		row := &rows[idx]

		if row.Name == "" {
			res.Issues = append(res.Issues, Issue{
				RowIndex: idx, Severity: SeverityCritical,
				Field: "name", Message: "result is missing a name",
			})
		} else {
			fieldPresent["name"]++
		}
		if row.Position != nil {
			fieldPresent["position"]++
			positionSeen[*row.Position]++
		}
		if row.Bib != "" {
			fieldPresent["bib"]++
			bibSeen[row.Bib]++
		}
		if row.FinishTime != "" {
			fieldPresent["finish"]++
		}

		expected := expectedCheckpointsFor(row, distances)
		rowFields := len(fixedFields) + len(expected)
		rowPopulated := 0
		if row.Name != "" {
			rowPopulated++
		}
		if row.Position != nil {
			rowPopulated++
		}
		if row.Bib != "" {
			rowPopulated++
		}
		if row.FinishTime != "" {
			rowPopulated++
		}

		have := make(map[string]bool, len(row.Checkpoints))
		for _, cp := range row.Checkpoints {
			have[cp.Name] = true
		}
		for _, name := range expected {
			if _, ok := cpPresent[name]; !ok {
				cpPresent[name] = 0
			}
			if have[name] {
				rowPopulated++
				cpPresent[name]++
			}
		}
		if rowFields > 0 && rowPopulated == rowFields {
			rowsWithAllFields++
		}

		if len(row.Checkpoints) > 0 {
			rowsWithCheckpoints++
			totalCheckpoints += len(row.Checkpoints)
			if issues := checkpoints.ValidateMonotonic(row.Checkpoints); len(issues) > 0 {
				for _, ci := range issues {
					res.Issues = append(res.Issues, Issue{
						RowIndex: idx, Severity: SeverityWarning,
						Field: ci.Field, Message: ci.Message,
					})
				}
			}
		}
	}

	for bib, count := range bibSeen {
		if bib != "" && count > 1 {
			res.Issues = append(res.Issues, Issue{
				RowIndex: -1, Severity: SeverityWarning,
				Field: "bib", Message: fmt.Sprintf("bib %q appears %d times", bib, count),
			})
		}
	}
	for pos, count := range positionSeen {
		if count > 1 {
			res.Issues = append(res.Issues, Issue{
				RowIndex: -1, Severity: SeverityWarning,
				Field: "position", Message: fmt.Sprintf("position %d appears %d times", pos, count),
			})
		}
	}

	var fieldSum float64
	for _, f := range fixedFields {
		pct := float64(fieldPresent[f]) / float64(total)
		res.Statistics.FieldPercentages = append(res.Statistics.FieldPercentages, FieldStats{Field: f, Percentage: pct})
		fieldSum += pct
		if pct < populationThreshold {
			res.Issues = append(res.Issues, Issue{
				RowIndex: -1, Severity: SeverityWarning,
				Field: f, Message: fmt.Sprintf("field %q populated in only %.0f%% of rows", f, pct*100),
			})
		}
	}

	for _, n := range cpPresent {
		fieldSum += float64(n) / float64(total)
	}
	res.CompletenessScore = fieldSum / float64(len(fixedFields)+len(cpPresent))
	res.Statistics.RowsWithAllFields = rowsWithAllFields
	res.Statistics.RowsWithCheckpoints = rowsWithCheckpoints
	if rowsWithCheckpoints > 0 {
		res.Statistics.AverageCheckpointsCount = float64(totalCheckpoints) / float64(total)
	}
	return res
}

func expectedCheckpointsFor(row *models.RaceResult, distances map[string]models.EventDistance) []string {
	if row.EventDistanceID == nil {
		return nil
	}
	d, ok := distances[row.EventDistanceID.String()]
	if !ok {
		return nil
	}
	return d.ExpectedCheckpoints
}
