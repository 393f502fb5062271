package itinerary

import (
	"fmt"
	"strings"
)

// SystemPrompt frames every generation.
const SystemPrompt = "You are an experienced travel planner. You produce realistic, well-paced " +
	"day-by-day itineraries with honest cost estimates, and you answer with a single JSON object."

const outputSchema = `{
  "trip_summary": {
    "route": "string, e.g. \"New York -> Paris -> New York\"",
    "duration_days": "number",
    "total_estimated_cost": "number",
    "currency": "ISO 4217 code",
    "budget_feasible": "boolean",
    "budget_notes": "string"
  },
  "daily_itinerary": [
    {
      "day": "number, starting at 1",
      "date": "YYYY-MM-DD",
      "city": "string",
      "morning": ["string"],
      "afternoon": ["string"],
      "evening": ["string"],
      "meals": { "breakfast": "string", "lunch": "string", "dinner": "string" },
      "transport": "string",
      "lodging": "string",
      "estimated_cost": "number"
    }
  ],
  "packing_tips": ["string"],
  "local_tips": ["string"],
  "assumptions": ["string"]
}`

// BuildPrompt renders the user instruction for a request. It is deterministic for a given request.
func BuildPrompt(req Request) string {
	var b strings.Builder

	days := ""
	if start, err := ParseDate(req.StartDate); err == nil {
		if end, err := ParseDate(req.EndDate); err == nil {
			days = fmt.Sprintf(" (%d days)", daysBetween(start, end)+1)
		}
	}

	fmt.Fprintf(&b, "Plan a trip from %s to %s.\n\n", strings.TrimSpace(req.Source), strings.TrimSpace(req.Destination))
	b.WriteString("Trip details:\n")
	fmt.Fprintf(&b, "- Origin: %s\n", strings.TrimSpace(req.Source))
	fmt.Fprintf(&b, "- Destination: %s\n", strings.TrimSpace(req.Destination))
	fmt.Fprintf(&b, "- Dates: %s to %s%s\n", req.StartDate, req.EndDate, days)

	budget := strings.TrimSpace(string(req.Budget))
	if budget == "" {
		budget = "not specified (assume a moderate budget)"
	}
	fmt.Fprintf(&b, "- Budget: %s\n", budget)

	if len(req.Preferences) == 0 {
		b.WriteString("- Preferences: none given\n")
	} else {
		b.WriteString("- Preferences:\n")
		for _, k := range req.Preferences.Keys() {
			if v := req.Preferences.Display(k); v != "" {
				fmt.Fprintf(&b, "  - %s: %s\n", strings.ReplaceAll(k, "_", " "), v)
			}
		}
	}

	b.WriteString(`
Tasks:
1. Check whether the budget is realistic for this route and duration. Say so in trip_summary.budget_feasible and explain in budget_notes.
2. Build a day-by-day plan covering every date in the range, with activities for morning, afternoon and evening.
3. Suggest transport between and within cities, the main attractions, lodging that matches the preferences, and where to eat for each meal.
4. Estimate the cost of each day and the total, in one currency.

Respond with ONLY a JSON object in exactly this shape. All fields are required:
`)
	b.WriteString(outputSchema)
	b.WriteString(`

If you cannot produce valid JSON, answer with the same sections as clearly structured prose instead.`)

	return b.String()
}
