// Package checkpoints provides the canonical checkpoint vocabulary and
// validation helpers of spec §4.4: distance catalogues, expected-checkpoint
// lists per race type, name normalisation, race-type detection, time
// parsing, and monotonicity/cutoff validation.
package checkpoints

import (
	_ "embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/raceops/ingest/engine/models"
)

//go:embed taxonomy.yaml
var taxonomyYAML []byte

// Taxonomy holds the operator-extensible distance catalogue plus the
// cutoff and world-record tables, loaded once from the embedded YAML
// fixture (see SPEC_FULL.md's Checkpoint Taxonomy component note).
type Taxonomy struct {
	DistanceMeters map[string]int                `yaml:"distance_meters"`
	CutoffSeconds  map[string]float64             `yaml:"cutoff_seconds"`
	WorldRecords   map[string]map[string]float64  `yaml:"world_records"` // distance -> sex -> seconds
}

var defaultTaxonomy Taxonomy

func init() {
	if err := yaml.Unmarshal(taxonomyYAML, &defaultTaxonomy); err != nil {
		panic(fmt.Sprintf("checkpoints: invalid embedded taxonomy fixture: %v", err))
	}
}

// Default returns the package-level taxonomy loaded from the embedded
// fixture.
func Default() *Taxonomy { return &defaultTaxonomy }

// DistanceMetersFor looks up a named distance in the catalogue.
func (t *Taxonomy) DistanceMetersFor(name string) (int, bool) {
	m, ok := t.DistanceMeters[strings.ToLower(strings.TrimSpace(name))]
	return m, ok
}

// ExpectedCheckpoints returns the ordered checkpoint names expected for a
// race type, per spec §4.4.
func ExpectedCheckpoints(raceType models.RaceType, distanceMeters int) []string {
	switch raceType {
	case models.RaceTypeTriathlon:
		return []string{"swim", "T1", "bike", "T2", "run", "finish"}
	case models.RaceTypeDuathlon:
		return []string{"run1", "T1", "bike", "T2", "run2", "finish"}
	case models.RaceTypeRelay:
		return []string{"leg1", "leg2", "leg3", "leg4", "finish"}
	case models.RaceTypeUltra, models.RaceTypeRunning:
		return runningCheckpoints(distanceMeters)
	default:
		return runningCheckpoints(distanceMeters)
	}
}

// runningCheckpoints returns standard km markers up to the finish line.
func runningCheckpoints(distanceMeters int) []string {
	if distanceMeters <= 0 {
		return []string{"finish"}
	}
	km := distanceMeters / 1000
	out := make([]string, 0, km+1)
	for i := 5; i <= km; i += 5 {
		out = append(out, fmt.Sprintf("%dkm", i))
	}
	out = append(out, "finish")
	return out
}

var (
	reKm         = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*k(?:m|ms)?$`)
	reMiles      = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*mi(?:le|les)?$`)
	reTransition = regexp.MustCompile(`^(?:transition\s*|t)\s*([12])$`)
)

// NormalizeCheckpointName implements spec §4.4's normalizeCheckpointName:
// lower-case, "N km"/"N k" -> "Nkm", "N mi[le]s" -> "Nmi", "transition
// 1|t1" -> "T1" (same for T2), swim/bike|cycle/run map to discipline
// tokens, finish|final|end -> "finish".
func NormalizeCheckpointName(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Join(strings.Fields(s), " ")

	if m := reKm.FindStringSubmatch(s); m != nil {
		return formatNumberSuffix(m[1]) + "km"
	}
	if m := reMiles.FindStringSubmatch(s); m != nil {
		return formatNumberSuffix(m[1]) + "mi"
	}
	if m := reTransition.FindStringSubmatch(s); m != nil {
		return "T" + m[1]
	}

	switch {
	case s == "swim":
		return "swim"
	case s == "bike" || s == "cycle" || s == "cycling":
		return "bike"
	case s == "run" || s == "running":
		return "run"
	case s == "finish" || s == "final" || s == "end":
		return "finish"
	}
	return s
}

func formatNumberSuffix(numStr string) string {
	if f, err := strconv.ParseFloat(numStr, 64); err == nil && f == float64(int(f)) {
		return strconv.Itoa(int(f))
	}
	return numStr
}

// DetectRaceType implements spec §4.4's detectRaceType via substring rules
// on a free-form distance name.
func DetectRaceType(distanceName string) models.RaceType {
	s := strings.ToLower(distanceName)
	switch {
	case strings.Contains(s, "triathlon") || strings.Contains(s, "ironman") || strings.Contains(s, "tri"):
		return models.RaceTypeTriathlon
	case strings.Contains(s, "duathlon"):
		return models.RaceTypeDuathlon
	case strings.Contains(s, "relay") || strings.Contains(s, "ekiden"):
		return models.RaceTypeRelay
	case strings.Contains(s, "ultra") || strings.Contains(s, "50k") || strings.Contains(s, "100k"):
		return models.RaceTypeUltra
	default:
		return models.RaceTypeRunning
	}
}
