package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"wayfarer-planner/internal/export"
	"wayfarer-planner/internal/itinerary"
	"wayfarer-planner/internal/middleware"
	"wayfarer-planner/pkg/logging"
)

// Planner is the itinerary service as seen by the HTTP layer.
type Planner interface {
	Generate(ctx context.Context, req itinerary.Request, forceRefresh bool) (*itinerary.GenerateResult, error)
	Reschedule(ctx context.Context, req itinerary.RescheduleRequest) (*itinerary.RescheduleResult, error)
	RescheduleOptions(ctx context.Context, cacheKey, requesterID string) (*itinerary.RescheduleOptions, error)
	Get(ctx context.Context, cacheKey, requesterID string) (*itinerary.StoredItinerary, error)
	List(ctx context.Context, requesterID string, limit, offset int) ([]itinerary.StoredItinerary, error)
}

// ItineraryHandler serves /v1/itineraries.
type ItineraryHandler struct {
	Planner Planner
}

func NewItineraryHandler(p Planner) *ItineraryHandler {
	return &ItineraryHandler{Planner: p}
}

type generateRequest struct {
	Source       string                `json:"source"`
	Destination  string                `json:"destination"`
	StartDate    string                `json:"start_date"`
	EndDate      string                `json:"end_date"`
	Preferences  itinerary.Preferences `json:"preferences"`
	Budget       itinerary.Budget      `json:"budget"`
	ForceRefresh bool                  `json:"force_refresh"`
}

type rescheduleRequest struct {
	OriginalCacheKey string `json:"original_cache_key"`
	NewStartDate     string `json:"new_start_date"`
	NewEndDate       string `json:"new_end_date"`
	ForceRefresh     bool   `json:"force_refresh"`
}

// Generate handles POST /v1/itineraries/generate.
func (h *ItineraryHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	var body generateRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	res, err := h.Planner.Generate(ctx, itinerary.Request{
		Source:      body.Source,
		Destination: body.Destination,
		StartDate:   body.StartDate,
		EndDate:     body.EndDate,
		Preferences: body.Preferences,
		Budget:      body.Budget,
		RequesterID: middleware.RequesterID(ctx),
	}, body.ForceRefresh)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	logging.L(ctx).Info("itinerary_served",
		zap.String("cache_key", res.Itinerary.CacheKey),
		zap.Bool("cache_hit", res.CacheHit),
		zap.Bool("structured", res.Itinerary.Structured != nil),
		zap.Duration("total_latency", time.Since(start)),
	)

	writeJSON(w, http.StatusOK, generateResponse{
		Itinerary: toItineraryResponse(res.Itinerary),
		Cached:    res.CacheHit,
	})
}

// Reschedule handles POST /v1/itineraries/reschedule.
func (h *ItineraryHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body rescheduleRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	res, err := h.Planner.Reschedule(ctx, itinerary.RescheduleRequest{
		OriginalCacheKey: body.OriginalCacheKey,
		NewStartDate:     body.NewStartDate,
		NewEndDate:       body.NewEndDate,
		RequesterID:      middleware.RequesterID(ctx),
		ForceRefresh:     body.ForceRefresh,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, rescheduleResponse{
		Itinerary:       toItineraryResponse(res.Itinerary),
		Cached:          res.CacheHit,
		RescheduledFrom: res.RescheduledFrom,
		OriginalDates:   toDateRange(res.OriginalDates),
		NewDates:        toDateRange(res.NewDates),
	})
}

// RescheduleOptions handles GET /v1/itineraries/{cache_key}/reschedule-options.
func (h *ItineraryHandler) RescheduleOptions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	opts, err := h.Planner.RescheduleOptions(ctx, chi.URLParam(r, "cache_key"), middleware.RequesterID(ctx))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRescheduleOptionsResponse(opts))
}

// Get handles GET /v1/itineraries/{cache_key}.
func (h *ItineraryHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rec, err := h.Planner.Get(ctx, chi.URLParam(r, "cache_key"), middleware.RequesterID(ctx))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toItineraryResponse(rec))
}

// List handles GET /v1/itineraries?limit=&offset=.
func (h *ItineraryHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	items, err := h.Planner.List(ctx, middleware.RequesterID(ctx), limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := listResponse{Items: make([]itineraryResponse, 0, len(items)), Limit: limit, Offset: offset}
	for i := range items {
		resp.Items = append(resp.Items, toItineraryResponse(&items[i]))
	}
	writeJSON(w, http.StatusOK, resp)
}

// PDF handles GET /v1/itineraries/{cache_key}/pdf.
func (h *ItineraryHandler) PDF(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rec, err := h.Planner.Get(ctx, chi.URLParam(r, "cache_key"), middleware.RequesterID(ctx))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	doc, err := export.ItineraryPDF(rec, time.Now())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.Filename(rec)))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
