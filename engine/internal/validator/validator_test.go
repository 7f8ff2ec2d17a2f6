package validator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raceops/ingest/engine/models"
)

func intPtr(i int) *int { return &i }

func TestValidateFlagsMissingName(t *testing.T) {
	payload := &models.ScrapedResults{
		Results: []models.RaceResult{
			{Position: intPtr(1), Bib: "101", FinishTime: "3:10:00"},
		},
	}
	res := Validate(payload, nil)
	require.True(t, res.HasCritical())
	require.Equal(t, "name", res.Issues[0].Field)
}

func TestValidateComputesCompletenessScore(t *testing.T) {
	payload := &models.ScrapedResults{
		Results: []models.RaceResult{
			{Position: intPtr(1), Bib: "101", Name: "Jane Doe", FinishTime: "3:10:00"},
			{Position: intPtr(2), Name: "John Roe"},
		},
	}
	res := Validate(payload, nil)
	require.InDelta(t, 0.75, res.CompletenessScore, 0.01) // position+name full, bib+finish half
}

func TestValidateFlagsDuplicateBib(t *testing.T) {
	payload := &models.ScrapedResults{
		Results: []models.RaceResult{
			{Name: "A", Bib: "5"},
			{Name: "B", Bib: "5"},
		},
	}
	res := Validate(payload, nil)
	found := false
	for _, i := range res.Issues {
		if i.Field == "bib" && i.RowIndex == -1 {
			found = true
		}
	}
	require.True(t, found)
}

func TestValidateEmptyPayload(t *testing.T) {
	res := Validate(&models.ScrapedResults{}, nil)
	require.Equal(t, 0, res.Statistics.Total)
	require.False(t, res.HasCritical())
}
