package itinerary

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Request is the input of a generation: the trip parameters plus who asks and which model answers.
type Request struct {
	Source      string      `json:"source" validate:"required"`
	Destination string      `json:"destination" validate:"required"`
	StartDate   string      `json:"start_date" validate:"required"`
	EndDate     string      `json:"end_date" validate:"required"`
	Preferences Preferences `json:"preferences,omitempty"`
	Budget      Budget      `json:"budget,omitempty"`
	Model       string      `json:"model,omitempty"`
	RequesterID string      `json:"requester_id" validate:"required"`
}

func (r Request) trimmed() Request {
	r.Source = strings.TrimSpace(r.Source)
	r.Destination = strings.TrimSpace(r.Destination)
	r.StartDate = strings.TrimSpace(r.StartDate)
	r.EndDate = strings.TrimSpace(r.EndDate)
	r.Budget = Budget(strings.TrimSpace(string(r.Budget)))
	r.Model = strings.TrimSpace(r.Model)
	r.RequesterID = strings.TrimSpace(r.RequesterID)
	return r
}

// RescheduleRequest re-keys an existing itinerary under new dates.
type RescheduleRequest struct {
	OriginalCacheKey string `json:"original_cache_key" validate:"required"`
	NewStartDate     string `json:"new_start_date" validate:"required"`
	NewEndDate       string `json:"new_end_date" validate:"required"`
	RequesterID      string `json:"requester_id" validate:"required"`
	ForceRefresh     bool   `json:"force_refresh"`
}

// StoredItinerary is the persisted generation result, unique by CacheKey.
type StoredItinerary struct {
	ID          uuid.UUID   `json:"id"`
	CacheKey    string      `json:"cache_key"`
	FamilyKey   string      `json:"family_key"`
	RequesterID string      `json:"requester_id"`
	Source      string      `json:"source"`
	Destination string      `json:"destination"`
	StartDate   time.Time   `json:"start_date"`
	EndDate     time.Time   `json:"end_date"`
	Preferences Preferences `json:"preferences"`
	Budget      Budget      `json:"budget"`
	Model       string      `json:"model"`
	PromptText  string      `json:"prompt_text"`
	Structured  *Plan       `json:"structured_response"`
	RawResponse string      `json:"raw_response_text"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// request rebuilds the generation input this record was produced from.
func (s *StoredItinerary) request() Request {
	return Request{
		Source:      s.Source,
		Destination: s.Destination,
		StartDate:   FormatDate(s.StartDate),
		EndDate:     FormatDate(s.EndDate),
		Preferences: s.Preferences,
		Budget:      s.Budget,
		Model:       s.Model,
		RequesterID: s.RequesterID,
	}
}

// DateRange is an inclusive pair of calendar dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Budget is free text. JSON numbers are stored in their shortest decimal form, so 1500 and
// 1500.0 both become "1500".
type Budget string

func (b *Budget) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*b = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = Budget(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("budget must be a string or a number")
		}
		f, err := n.Float64()
		if err != nil {
			return fmt.Errorf("budget must be a string or a number")
		}
		*b = Budget(strconv.FormatFloat(f, 'f', -1, 64))
		return nil
	}
}

// Preferences is an unordered map of scalar values (or lists of scalars) such as
// interests, travel_style, accommodation and transport.
type Preferences map[string]any

// Validate rejects nested objects; only scalars and flat lists are allowed.
func (p Preferences) Validate() error {
	for k, v := range p {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: preference names must not be empty", ErrValidation)
		}
		switch val := v.(type) {
		case nil, string, bool, float64, json.Number, int, int64:
		case []any:
			for _, item := range val {
				switch item.(type) {
				case nil, string, bool, float64, json.Number, int, int64:
				default:
					return fmt.Errorf("%w: preference %q must be a list of scalar values", ErrValidation, k)
				}
			}
		case []string:
		default:
			return fmt.Errorf("%w: preference %q must be a scalar value", ErrValidation, k)
		}
	}
	return nil
}

// Canonical serializes the preferences as JSON with keys sorted. Empty preferences become "{}".
func (p Preferences) Canonical() string {
	if len(p) == 0 {
		return "{}"
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// encoding/json writes map keys in sorted order
	if err := enc.Encode(map[string]any(p)); err != nil {
		return "{}"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

func (p Preferences) Interests() []string   { return p.list("interests") }
func (p Preferences) TravelStyle() string   { return p.text("travel_style") }
func (p Preferences) Accommodation() string { return p.text("accommodation") }
func (p Preferences) Transport() string     { return p.text("transport") }

// Keys returns the preference names in sorted order.
func (p Preferences) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Display renders one preference for humans; lists are comma-joined.
func (p Preferences) Display(key string) string {
	if l := p.list(key); len(l) > 1 {
		return strings.Join(l, ", ")
	}
	return p.text(key)
}

func (p Preferences) text(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any, []string:
		return strings.Join(p.list(key), ", ")
	default:
		return fmt.Sprint(v)
	}
}

func (p Preferences) list(key string) []string {
	var out []string
	switch v := p[key].(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, item := range v {
			if item == nil {
				continue
			}
			out = append(out, strings.TrimSpace(fmt.Sprint(item)))
		}
	case string:
		for _, part := range strings.Split(v, ",") {
			if s := strings.TrimSpace(part); s != "" {
				out = append(out, s)
			}
		}
	case nil:
	default:
		out = append(out, fmt.Sprint(v))
	}
	return out
}
