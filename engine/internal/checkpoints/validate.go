package checkpoints

import (
	"sort"
	"strings"

	"github.com/raceops/ingest/engine/models"
)

// ValidationIssue is a non-fatal observation attached to a RaceResult
// during checkpoint validation.
type ValidationIssue struct {
	Field   string
	Message string
}

// ValidateMonotonic orders checkpoints by Order and verifies that
// cumulative times are non-decreasing, per spec §3's TimingCheckpoint
// invariant and §8's testable property.
func ValidateMonotonic(cps []models.TimingCheckpoint) []ValidationIssue {
	ordered := make([]models.TimingCheckpoint, len(cps))
	copy(ordered, cps)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	var issues []ValidationIssue
	prev := -1.0
	for _, cp := range ordered {
		if cp.CumulativeSeconds < prev {
			issues = append(issues, ValidationIssue{
				Field:   cp.Name,
				Message: "cumulative time decreased relative to prior checkpoint",
			})
		}
		prev = cp.CumulativeSeconds
	}
	return issues
}

// ValidateFinishPlausibility flags (as warnings, never rejections) a finish
// time that is implausibly slow per the cutoff table, or faster than the
// world record for the distance/sex.
func (t *Taxonomy) ValidateFinishPlausibility(distanceName, sex string, finishSeconds float64) []ValidationIssue {
	key := normalizedDistanceKey(distanceName)
	var issues []ValidationIssue
	if cutoff, ok := t.CutoffSeconds[key]; ok && finishSeconds > cutoff {
		issues = append(issues, ValidationIssue{Field: "finish_time", Message: "finish time exceeds plausible cutoff for distance"})
	}
	if bySex, ok := t.WorldRecords[key]; ok {
		if record, ok := bySex[sex]; ok && finishSeconds > 0 && finishSeconds < record {
			issues = append(issues, ValidationIssue{Field: "finish_time", Message: "finish time faster than world record (flagged, not rejected)"})
		}
	}
	return issues
}

func normalizedDistanceKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
