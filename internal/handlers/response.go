package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"wayfarer-planner/internal/itinerary"
	"wayfarer-planner/pkg/logging"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type dateRange struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

func toDateRange(r itinerary.DateRange) dateRange {
	return dateRange{StartDate: itinerary.FormatDate(r.Start), EndDate: itinerary.FormatDate(r.End)}
}

type itineraryResponse struct {
	ID                 string                `json:"id"`
	CacheKey           string                `json:"cache_key"`
	RequesterID        string                `json:"requester_id"`
	Source             string                `json:"source"`
	Destination        string                `json:"destination"`
	StartDate          string                `json:"start_date"`
	EndDate            string                `json:"end_date"`
	Preferences        itinerary.Preferences `json:"preferences"`
	Budget             string                `json:"budget,omitempty"`
	Model              string                `json:"model"`
	PromptText         string                `json:"prompt_text"`
	StructuredResponse *itinerary.Plan       `json:"structured_response"`
	RawResponseText    string                `json:"raw_response_text"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
}

func toItineraryResponse(rec *itinerary.StoredItinerary) itineraryResponse {
	prefs := rec.Preferences
	if prefs == nil {
		prefs = itinerary.Preferences{}
	}
	return itineraryResponse{
		ID:                 rec.ID.String(),
		CacheKey:           rec.CacheKey,
		RequesterID:        rec.RequesterID,
		Source:             rec.Source,
		Destination:        rec.Destination,
		StartDate:          itinerary.FormatDate(rec.StartDate),
		EndDate:            itinerary.FormatDate(rec.EndDate),
		Preferences:        prefs,
		Budget:             string(rec.Budget),
		Model:              rec.Model,
		PromptText:         rec.PromptText,
		StructuredResponse: rec.Structured,
		RawResponseText:    rec.RawResponse,
		CreatedAt:          rec.CreatedAt,
		UpdatedAt:          rec.UpdatedAt,
	}
}

type generateResponse struct {
	Itinerary itineraryResponse `json:"itinerary"`
	Cached    bool              `json:"cached"`
}

type rescheduleResponse struct {
	Itinerary       itineraryResponse `json:"itinerary"`
	Cached          bool              `json:"cached"`
	RescheduledFrom string            `json:"rescheduled_from"`
	OriginalDates   dateRange         `json:"original_dates"`
	NewDates        dateRange         `json:"new_dates"`
}

type siblingResponse struct {
	CacheKey              string    `json:"cache_key"`
	StartDate             string    `json:"start_date"`
	EndDate               string    `json:"end_date"`
	HasStructuredResponse bool      `json:"has_structured_response"`
	UpdatedAt             time.Time `json:"updated_at"`
}

type suggestionResponse struct {
	Label     string `json:"label"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type rescheduleOptionsResponse struct {
	CacheKey      string               `json:"cache_key"`
	OriginalDates dateRange            `json:"original_dates"`
	DurationDays  int                  `json:"duration_days"`
	Siblings      []siblingResponse    `json:"siblings"`
	Suggestions   []suggestionResponse `json:"suggestions"`
}

func toRescheduleOptionsResponse(o *itinerary.RescheduleOptions) rescheduleOptionsResponse {
	out := rescheduleOptionsResponse{
		CacheKey:      o.CacheKey,
		OriginalDates: toDateRange(o.OriginalDates),
		DurationDays:  o.DurationDays,
		Siblings:      make([]siblingResponse, 0, len(o.Siblings)),
		Suggestions:   make([]suggestionResponse, 0, len(o.Suggestions)),
	}
	for _, s := range o.Siblings {
		out.Siblings = append(out.Siblings, siblingResponse{
			CacheKey:              s.CacheKey,
			StartDate:             itinerary.FormatDate(s.Dates.Start),
			EndDate:               itinerary.FormatDate(s.Dates.End),
			HasStructuredResponse: s.Structured,
			UpdatedAt:             s.UpdatedAt,
		})
	}
	for _, s := range o.Suggestions {
		out.Suggestions = append(out.Suggestions, suggestionResponse{
			Label:     s.Label,
			StartDate: itinerary.FormatDate(s.Dates.Start),
			EndDate:   itinerary.FormatDate(s.Dates.End),
		})
	}
	return out
}

type listResponse struct {
	Items  []itineraryResponse `json:"items"`
	Limit  int                 `json:"limit"`
	Offset int                 `json:"offset"`
}

// writeJSON is a small helper to send JSON responses consistently.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writeServiceError maps the itinerary error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logging.L(r.Context())

	switch {
	case errors.Is(err, itinerary.ErrValidation):
		logger.Info("request_rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, itinerary.ErrForbidden):
		logger.Info("request_forbidden", zap.Error(err))
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, itinerary.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, itinerary.ErrConfiguration):
		logger.Error("generation_not_configured", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "configuration_error", err.Error())
	case errors.Is(err, itinerary.ErrUpstream):
		logger.Error("generation_failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "upstream_error", "itinerary generation failed")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		logger.Warn("request_cancelled", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, "gateway_timeout", "request timed out")
	default:
		logger.Error("internal_error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

// decodeJSON reads the request body into v and reports malformed or oversized input.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request_too_large", "request body too large")
			return false
		}
		logging.L(r.Context()).Warn("invalid request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}
	return true
}
