package itinerary

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Plan is the structured itinerary the model is asked to return.
type Plan struct {
	TripSummary TripSummary `json:"trip_summary"`
	Days        []DayPlan   `json:"daily_itinerary"`
	PackingTips TextList    `json:"packing_tips"`
	LocalTips   TextList    `json:"local_tips"`
	Assumptions TextList    `json:"assumptions"`
}

type TripSummary struct {
	Route              string `json:"route"`
	DurationDays       Amount `json:"duration_days"`
	TotalEstimatedCost Amount `json:"total_estimated_cost"`
	Currency           string `json:"currency"`
	BudgetFeasible     *bool  `json:"budget_feasible,omitempty"`
	BudgetNotes        string `json:"budget_notes,omitempty"`
}

type DayPlan struct {
	Day           Amount   `json:"day"`
	Date          string   `json:"date"`
	City          string   `json:"city"`
	Morning       TextList `json:"morning"`
	Afternoon     TextList `json:"afternoon"`
	Evening       TextList `json:"evening"`
	Meals         Meals    `json:"meals"`
	Transport     string   `json:"transport,omitempty"`
	Lodging       string   `json:"lodging,omitempty"`
	EstimatedCost Amount   `json:"estimated_cost"`
}

type Meals struct {
	Breakfast string `json:"breakfast"`
	Lunch     string `json:"lunch"`
	Dinner    string `json:"dinner"`
}

var errNoJSONObject = errors.New("response does not contain a JSON object")

// ParsePlan extracts the structured plan from a model response. Markdown code fences and
// prose around the object are tolerated. Missing lists come back empty, never nil.
func ParsePlan(raw string) (*Plan, error) {
	body := extractJSONObject(raw)
	if body == "" {
		return nil, errNoJSONObject
	}

	var plan Plan
	if err := json.Unmarshal([]byte(body), &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	plan.fillDefaults()
	return &plan, nil
}

func (p *Plan) fillDefaults() {
	if p.Days == nil {
		p.Days = []DayPlan{}
	}
	p.PackingTips = p.PackingTips.orEmpty()
	p.LocalTips = p.LocalTips.orEmpty()
	p.Assumptions = p.Assumptions.orEmpty()
	for i := range p.Days {
		d := &p.Days[i]
		d.Morning = d.Morning.orEmpty()
		d.Afternoon = d.Afternoon.orEmpty()
		d.Evening = d.Evening.orEmpty()
	}
}

func extractJSONObject(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:] // drop the language tag line
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}
	if strings.HasPrefix(s, "{") && json.Valid([]byte(s)) {
		return s
	}

	first := strings.IndexByte(s, '{')
	last := strings.LastIndexByte(s, '}')
	if first < 0 || last <= first {
		return ""
	}
	candidate := s[first : last+1]
	if !json.Valid([]byte(candidate)) {
		return ""
	}
	return candidate
}

// Amount is a number the model may also write as a string ("$1,200", "3 days").
type Amount float64

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = 0
		return nil
	}
	if data[0] != '"' {
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		*a = Amount(f)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*a = Amount(leadingNumber(s))
	return nil
}

// leadingNumber reads the first number in s, ignoring currency symbols and thousands separators.
func leadingNumber(s string) float64 {
	var b strings.Builder
	started := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.' && started:
			b.WriteRune(r)
			started = true
		case r == ',' && started:
		case started:
			f, _ := strconv.ParseFloat(b.String(), 64)
			return f
		}
	}
	f, _ := strconv.ParseFloat(b.String(), 64)
	return f
}

// TextList accepts a list of strings, a single string, or a list of objects whose
// name/title/activity/description fields become the entries.
type TextList []string

func (l *TextList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s = strings.TrimSpace(s); s != "" {
			*l = TextList{s}
		}
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	out := make(TextList, 0, len(items))
	for _, item := range items {
		if text := itemText(item); text != "" {
			out = append(out, text)
		}
	}
	*l = out
	return nil
}

func itemText(item json.RawMessage) string {
	var s string
	if err := json.Unmarshal(item, &s); err == nil {
		return strings.TrimSpace(s)
	}

	var obj map[string]any
	if err := json.Unmarshal(item, &obj); err != nil {
		return strings.TrimSpace(string(item))
	}
	var parts []string
	for _, field := range []string{"time", "name", "title", "activity", "description"} {
		if v, ok := obj[field].(string); ok && strings.TrimSpace(v) != "" {
			parts = append(parts, strings.TrimSpace(v))
		}
	}
	return strings.Join(parts, " - ")
}

func (l TextList) orEmpty() TextList {
	if l == nil {
		return TextList{}
	}
	return l
}
