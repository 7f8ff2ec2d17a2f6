package checkpoints

import (
	"testing"

	"github.com/raceops/ingest/engine/models"
)

func TestNormalizeCheckpointName(t *testing.T) {
	cases := map[string]string{
		"5 km":          "5km",
		"5km":           "5km",
		"5 k":           "5km",
		"10 miles":      "10mi",
		"T1":            "T1",
		"transition 1":  "T1",
		"Transition 2":  "T2",
		"Swim":          "swim",
		"cycle":         "bike",
		"Running":       "run",
		"Final":         "finish",
	}
	for in, want := range cases {
		if got := NormalizeCheckpointName(in); got != want {
			t.Errorf("NormalizeCheckpointName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeCheckpointNameEquivalences(t *testing.T) {
	if NormalizeCheckpointName("5 km") != NormalizeCheckpointName("5km") {
		t.Error("expected '5 km' and '5km' to normalise equal")
	}
	if NormalizeCheckpointName("T1") != NormalizeCheckpointName("transition 1") {
		t.Error("expected 'T1' and 'transition 1' to normalise equal")
	}
}

func TestDetectRaceType(t *testing.T) {
	cases := map[string]models.RaceType{
		"Ironman 70.3":    models.RaceTypeTriathlon,
		"Sprint Triathlon": models.RaceTypeTriathlon,
		"City Duathlon":   models.RaceTypeDuathlon,
		"4x100 Relay":     models.RaceTypeRelay,
		"Ultra 50K":       models.RaceTypeUltra,
		"Half Marathon":   models.RaceTypeRunning,
	}
	for in, want := range cases {
		if got := DetectRaceType(in); got != want {
			t.Errorf("DetectRaceType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseTime(t *testing.T) {
	if s, ok := ParseTime("45:30"); !ok || s != 45*60+30 {
		t.Errorf("ParseTime(45:30) = %v,%v", s, ok)
	}
	if s, ok := ParseTime("3:45:30"); !ok || s != 3*3600+45*60+30 {
		t.Errorf("ParseTime(3:45:30) = %v,%v", s, ok)
	}
	if _, ok := ParseTime("not-a-time"); ok {
		t.Error("expected ParseTime to reject non-numeric token")
	}
}

func TestValidateMonotonic(t *testing.T) {
	cps := []models.TimingCheckpoint{
		{Name: "10km", Order: 2, CumulativeSeconds: 2500},
		{Name: "5km", Order: 1, CumulativeSeconds: 1200},
		{Name: "finish", Order: 3, CumulativeSeconds: 2000},
	}
	issues := ValidateMonotonic(cps)
	if len(issues) != 1 {
		t.Fatalf("expected 1 monotonicity issue, got %d: %+v", len(issues), issues)
	}
}
