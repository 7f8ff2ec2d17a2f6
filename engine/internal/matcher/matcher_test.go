package matcher

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/raceops/ingest/engine/models"
)

type fakeAthleteStore struct {
	athletes []models.Athlete
	linked   map[uuid.UUID]uuid.UUID
	unlinked []models.RaceResult
}

func (f *fakeAthleteStore) ShortlistAthletesByNormalisedSubstring(ctx context.Context, query string, limit int) ([]models.Athlete, error) {
	return f.athletes, nil
}

func (f *fakeAthleteStore) UnlinkedResultsForAthlete(ctx context.Context, athlete models.Athlete) ([]models.RaceResult, error) {
	return f.unlinked, nil
}

func (f *fakeAthleteStore) LinkResultToAthlete(ctx context.Context, resultID, athleteID uuid.UUID) error {
	if f.linked == nil {
		f.linked = map[uuid.UUID]uuid.UUID{}
	}
	f.linked[resultID] = athleteID
	return nil
}

func TestMatchRanksByConfidence(t *testing.T) {
	exact := models.Athlete{ID: uuid.New(), NormalisedName: "jane doe"}
	similar := models.Athlete{ID: uuid.New(), NormalisedName: "jane doex"}
	store := &fakeAthleteStore{athletes: []models.Athlete{similar, exact}}
	m := New(store)

	candidates, err := m.Match(context.Background(), "jane doe", defaultThreshold)
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	require.Equal(t, exact.ID, candidates[0].Athlete.ID)
	require.Equal(t, 100, candidates[0].Confidence)
}

func TestAutoMatchLinksUniqueHighConfidence(t *testing.T) {
	exact := models.Athlete{ID: uuid.New(), NormalisedName: "jane doe"}
	distant := models.Athlete{ID: uuid.New(), NormalisedName: "robert smith"}
	store := &fakeAthleteStore{athletes: []models.Athlete{exact, distant}}
	m := New(store)

	resultID := uuid.New()
	result, err := m.AutoMatch(context.Background(), resultID, "jane doe")
	require.NoError(t, err)
	require.False(t, result.Skipped)
	require.NotNil(t, result.Linked)
	require.Equal(t, exact.ID, result.Linked.Athlete.ID)
	require.Equal(t, exact.ID, store.linked[resultID])
}

func TestAutoMatchSkipsOnAmbiguity(t *testing.T) {
	a := models.Athlete{ID: uuid.New(), NormalisedName: "jonathan smith"}
	b := models.Athlete{ID: uuid.New(), NormalisedName: "jonathon smith"}
	store := &fakeAthleteStore{athletes: []models.Athlete{a, b}}
	m := New(store)

	result, err := m.AutoMatch(context.Background(), uuid.New(), "jonathan smith")
	require.NoError(t, err)
	require.True(t, result.Skipped)
	require.Nil(t, result.Linked)
}

func TestSuggestMatchesForAthleteFiltersNonOverlapping(t *testing.T) {
	athlete := models.Athlete{ID: uuid.New(), NormalisedName: "jane doe"}
	store := &fakeAthleteStore{unlinked: []models.RaceResult{
		{ID: uuid.New(), NormalisedName: "jane doe"},
		{ID: uuid.New(), NormalisedName: "completely different runner"},
	}}
	m := New(store)

	suggestions, err := m.SuggestMatchesForAthlete(context.Background(), athlete)
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	require.Equal(t, "jane doe", suggestions[0].Result.NormalisedName)
}
