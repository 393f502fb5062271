package itinerary

import "errors"

// Failure taxonomy. Operations wrap these with fmt.Errorf("%w: ...") and callers match with errors.Is.
// A response that is not valid JSON is not an error: the record is stored with a nil Structured plan.
var (
	ErrValidation    = errors.New("validation failed")
	ErrConfiguration = errors.New("itinerary generation is not configured")
	ErrNotFound      = errors.New("itinerary not found")
	ErrForbidden     = errors.New("itinerary belongs to another user")
	ErrUpstream      = errors.New("itinerary generation failed")
)
