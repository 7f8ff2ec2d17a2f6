// Package matcher implements the Athlete Matcher of spec §4.8: given a
// RaceResult's normalised name, shortlist and fuzzy-score candidate
// Athletes for reconciliation. The normalised-name substring-shortlist
// idiom is grounded on 99souls-ariadne's engine/internal/normalize,
// scored with github.com/agnivade/levenshtein, a dependency already
// present in that repo's go.mod for exactly this purpose.
package matcher

import (
	"context"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"

	"github.com/raceops/ingest/engine/models"
)

const (
	maxShortlist = 50

	// defaultThreshold is T in spec §4.8 step 2: candidates scoring at or
	// above this are discarded (lower is better).
	defaultThreshold = 0.6

	// autoMatchThreshold lowers T for autoMatch candidate generation.
	autoMatchThreshold = 0.3

	// autoMatchConfidence is the minimum confidence required for a
	// unique candidate to be auto-linked.
	autoMatchConfidence = 90
)

// AthleteStore supplies the candidate pool. Satisfied by
// engine/internal/storage.
type AthleteStore interface {
	ShortlistAthletesByNormalisedSubstring(ctx context.Context, query string, limit int) ([]models.Athlete, error)
	UnlinkedResultsForAthlete(ctx context.Context, athlete models.Athlete) ([]models.RaceResult, error)
	LinkResultToAthlete(ctx context.Context, resultID, athleteID uuid.UUID) error
}

// Candidate is a scored Athlete match.
type Candidate struct {
	Athlete    models.Athlete
	Confidence int
}

// Matcher scores RaceResults against the Athlete pool.
type Matcher struct {
	store AthleteStore
}

// New builds a Matcher.
func New(store AthleteStore) *Matcher {
	return &Matcher{store: store}
}

// Match implements spec §4.8 steps 1-3: shortlist up to 50 athletes by
// normalised-name substring, fuzzy-score them, discard candidates at or
// above threshold, and rank by descending confidence.
func (m *Matcher) Match(ctx context.Context, normalisedName string, threshold float64) ([]Candidate, error) {
	pool, err := m.store.ShortlistAthletesByNormalisedSubstring(ctx, normalisedName, maxShortlist)
	if err != nil {
		return nil, models.NewPersistenceError(err)
	}
	return scoreAndRank(normalisedName, pool, threshold), nil
}

// AutoMatchResult is the outcome of AutoMatch.
type AutoMatchResult struct {
	Linked    *Candidate
	Skipped   bool
	Candidates []Candidate
}

// AutoMatch implements spec §4.8 step 4: lowers T to 0.3 for initial
// candidate generation, auto-links only when exactly one candidate
// scores confidence ≥ 90, otherwise records the result for manual
// review.
func (m *Matcher) AutoMatch(ctx context.Context, resultID uuid.UUID, normalisedName string) (*AutoMatchResult, error) {
	candidates, err := m.Match(ctx, normalisedName, autoMatchThreshold)
	if err != nil {
		return nil, err
	}

	var highConfidence []Candidate
	for _, c := range candidates {
		if c.Confidence >= autoMatchConfidence {
			highConfidence = append(highConfidence, c)
		}
	}

	if len(highConfidence) == 1 {
		winner := highConfidence[0]
		if err := m.store.LinkResultToAthlete(ctx, resultID, winner.Athlete.ID); err != nil {
			return nil, models.NewPersistenceError(err)
		}
		return &AutoMatchResult{Linked: &winner, Candidates: candidates}, nil
	}
	return &AutoMatchResult{Skipped: true, Candidates: candidates}, nil
}

// SuggestMatchesForAthlete implements spec §4.8 step 5: the inverse
// direction, listing unlinked results whose normalised names include or
// are included in the athlete's normalised name, then fuzzy-scoring
// them against the athlete.
func (m *Matcher) SuggestMatchesForAthlete(ctx context.Context, athlete models.Athlete) ([]ResultCandidate, error) {
	unlinked, err := m.store.UnlinkedResultsForAthlete(ctx, athlete)
	if err != nil {
		return nil, models.NewPersistenceError(err)
	}

	var suggestions []ResultCandidate
	for _, r := range unlinked {
		if !strings.Contains(r.NormalisedName, athlete.NormalisedName) && !strings.Contains(athlete.NormalisedName, r.NormalisedName) {
			continue
		}
		score := similarity(athlete.NormalisedName, r.NormalisedName)
		if score >= defaultThreshold {
			continue
		}
		suggestions = append(suggestions, ResultCandidate{
			Result:     r,
			Confidence: confidenceFrom(score),
		})
	}
	sort.Slice(suggestions, func(i, j int) bool { return suggestions[i].Confidence > suggestions[j].Confidence })
	return suggestions, nil
}

// ResultCandidate is a scored RaceResult match for a given athlete.
type ResultCandidate struct {
	Result     models.RaceResult
	Confidence int
}

func scoreAndRank(normalisedName string, pool []models.Athlete, threshold float64) []Candidate {
	var candidates []Candidate
	for _, a := range pool {
		score := similarity(normalisedName, a.NormalisedName)
		if score >= threshold {
			continue
		}
		candidates = append(candidates, Candidate{Athlete: a, Confidence: confidenceFrom(score)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Confidence > candidates[j].Confidence })
	return candidates
}

// similarity is a character-level similarity function in [0,1] where 0
// means identical, normalised by the longer string's length, with a
// minimum comparable length of 2 (shorter inputs never match).
func similarity(a, b string) float64 {
	if len(a) < 2 || len(b) < 2 {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 0
	}
	return float64(dist) / float64(maxLen)
}

// confidenceFrom implements spec §4.8 step 3: confidence = round((1 -
// score) × 100).
func confidenceFrom(score float64) int {
	return int((1-score)*100 + 0.5)
}
