package itinerary

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPromptEmbedsRequest(t *testing.T) {
	r := baseRequest()
	r.Budget = "2500 USD"
	r.Preferences = Preferences{
		"interests":    []any{"food", "museums"},
		"travel_style": "relaxed",
	}

	prompt := BuildPrompt(r)

	for _, want := range []string{
		"from NYC to Paris",
		"2024-06-01 to 2024-06-07 (7 days)",
		"Budget: 2500 USD",
		"interests: food, museums",
		"travel style: relaxed",
		"budget_feasible",
		`"daily_itinerary"`,
		`"meals"`,
		`"packing_tips"`,
		`"local_tips"`,
		`"assumptions"`,
		"structured prose",
	} {
		assert.Contains(t, prompt, want)
	}
}

func TestBuildPromptDefaults(t *testing.T) {
	prompt := BuildPrompt(baseRequest())
	assert.Contains(t, prompt, "Budget: not specified")
	assert.Contains(t, prompt, "Preferences: none given")
}

func TestBuildPromptIsDeterministic(t *testing.T) {
	r := baseRequest()
	r.Preferences = Preferences{"z": "last", "a": "first", "m": "middle"}
	first := BuildPrompt(r)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, BuildPrompt(r))
	}
	assert.Less(t, strings.Index(first, "a: first"), strings.Index(first, "z: last"))
}
