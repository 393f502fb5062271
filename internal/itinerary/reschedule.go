package itinerary

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RescheduleResult is a generation result plus where it was rescheduled from.
type RescheduleResult struct {
	GenerateResult
	RescheduledFrom string
	OriginalDates   DateRange
	NewDates        DateRange
}

// RescheduleOptions describes alternatives for an existing itinerary.
type RescheduleOptions struct {
	CacheKey      string
	OriginalDates DateRange
	// DurationDays is the number of days from start to end; every suggestion keeps it.
	DurationDays int
	Siblings     []Sibling
	Suggestions  []Suggestion
}

// Sibling is another itinerary of the same trip under different dates.
type Sibling struct {
	CacheKey   string
	Dates      DateRange
	Structured bool
	UpdatedAt  time.Time
}

type Suggestion struct {
	Label string
	Dates DateRange
}

// Reschedule re-keys the itinerary at req.OriginalCacheKey under new dates. The original record
// is never written; the new key goes through the same lookup-or-generate path as Generate.
func (s *Service) Reschedule(ctx context.Context, req RescheduleRequest) (*RescheduleResult, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	newDates, err := validateDates(req.NewStartDate, req.NewEndDate)
	if err != nil {
		return nil, err
	}

	original, err := s.loadOwned(ctx, req.OriginalCacheKey, req.RequesterID)
	if err != nil {
		return nil, err
	}

	next := original.request()
	next.StartDate = FormatDate(newDates.Start)
	next.EndDate = FormatDate(newDates.End)

	key, err := DeriveCacheKey(next)
	if err != nil {
		return nil, err
	}

	s.log(ctx).Info("itinerary_reschedule",
		zap.String("rescheduled_from", original.CacheKey),
		zap.String("cache_key", key),
		zap.String("new_start", next.StartDate),
		zap.String("new_end", next.EndDate),
	)

	res, err := s.generateForKey(ctx, key, next, req.ForceRefresh)
	if err != nil {
		return nil, err
	}
	return &RescheduleResult{
		GenerateResult:  *res,
		RescheduledFrom: original.CacheKey,
		OriginalDates:   DateRange{Start: original.StartDate, End: original.EndDate},
		NewDates:        newDates,
	}, nil
}

// RescheduleOptions lists the trip's other date ranges and suggests new ones of the same length.
func (s *Service) RescheduleOptions(ctx context.Context, cacheKey, requesterID string) (*RescheduleOptions, error) {
	rec, err := s.loadOwned(ctx, cacheKey, requesterID)
	if err != nil {
		return nil, err
	}

	familyKey := rec.FamilyKey
	if familyKey == "" {
		familyKey = DeriveFamilyKey(rec.request())
	}
	siblings, err := s.repo.FindSiblings(ctx, familyKey, rec.CacheKey, siblingLimit)
	if err != nil {
		return nil, fmt.Errorf("find siblings: %w", err)
	}

	start, end := truncateDay(rec.StartDate), truncateDay(rec.EndDate)
	duration := daysBetween(start, end)

	opts := &RescheduleOptions{
		CacheKey:      rec.CacheKey,
		OriginalDates: DateRange{Start: start, End: end},
		DurationDays:  duration,
		Siblings:      make([]Sibling, 0, len(siblings)),
		Suggestions:   SuggestDates(start, duration),
	}
	for _, sib := range siblings {
		opts.Siblings = append(opts.Siblings, Sibling{
			CacheKey:   sib.CacheKey,
			Dates:      DateRange{Start: sib.StartDate, End: sib.EndDate},
			Structured: sib.Structured != nil,
			UpdatedAt:  sib.UpdatedAt,
		})
	}
	return opts, nil
}

// SuggestDates offers the trip one year later, one month later and, unless it already starts on a
// weekend, on the next Saturday. Each suggestion ends duration days after it starts.
func SuggestDates(start time.Time, duration int) []Suggestion {
	span := func(from time.Time) DateRange {
		return DateRange{Start: from, End: from.AddDate(0, 0, duration)}
	}

	out := []Suggestion{
		{Label: "+1 year", Dates: span(start.AddDate(1, 0, 0))},
		{Label: "+1 month", Dates: span(start.AddDate(0, 1, 0))},
	}
	if wd := start.Weekday(); wd != time.Saturday && wd != time.Sunday {
		ahead := (int(time.Saturday) - int(wd) + 7) % 7
		out = append(out, Suggestion{Label: "next Saturday", Dates: span(start.AddDate(0, 0, ahead))})
	}
	return out
}
