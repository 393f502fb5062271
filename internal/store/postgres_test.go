package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wayfarer-planner/internal/itinerary"
)

func TestRowMappingKeepsNilPlan(t *testing.T) {
	rec := record("k1", "f1", "u1", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	rec.Budget = "1500"

	row, err := fromDomain(rec)
	require.NoError(t, err)
	assert.Nil(t, row.Structured, "unparsed responses are stored as NULL")
	assert.JSONEq(t, `{"travel_style":"slow"}`, string(row.Preferences))

	back, err := row.toDomain()
	require.NoError(t, err)
	assert.Nil(t, back.Structured)
	assert.Equal(t, itinerary.Budget("1500"), back.Budget)
	assert.Equal(t, "slow", back.Preferences["travel_style"])
	assert.Equal(t, rec.StartDate, back.StartDate)
}

func TestRowMappingDecodesPlan(t *testing.T) {
	rec := record("k1", "f1", "u1", time.Now())
	rec.Preferences = nil
	plan, err := itinerary.ParsePlan(`{"trip_summary":{"route":"NYC -> Paris","currency":"EUR"},"daily_itinerary":[{"day":1,"city":"Paris"}]}`)
	require.NoError(t, err)
	rec.Structured = plan

	row, err := fromDomain(rec)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(row.Preferences))

	back, err := row.toDomain()
	require.NoError(t, err)
	require.NotNil(t, back.Structured)
	assert.Equal(t, "NYC -> Paris", back.Structured.TripSummary.Route)
	require.Len(t, back.Structured.Days, 1)
	assert.Equal(t, "Paris", back.Structured.Days[0].City)
	assert.Nil(t, back.Preferences)
}

func TestDateOnlyNormalizesZone(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	got := dateOnly(time.Date(2024, 6, 1, 0, 0, 0, 0, loc))
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), got)
}
