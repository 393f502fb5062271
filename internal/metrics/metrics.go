package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: itinerary lookups per tier (cache, store) and result (hit, miss, error).
	ItineraryLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itinerary_lookups_total",
			Help: "Itinerary lookups by tier and result.",
		},
		[]string{"tier", "result"},
	)

	// Counter: LLM generations by outcome (structured, unstructured, error).
	GenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itinerary_generations_total",
			Help: "Itinerary generations by outcome.",
		},
		[]string{"outcome"},
	)

	// Histogram: upstream LLM latency in seconds.
	GenerationLatencySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "itinerary_generation_latency_seconds",
			Help:    "Latency of the upstream LLM call in seconds.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 90},
		},
	)

	// Counter: requests that waited on another in-flight generation.
	CoalescedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "itinerary_generation_coalesced_total",
			Help: "Cache-miss requests that waited on a concurrent generation, by result.",
		},
		[]string{"result"},
	)

	// Histogram: HTTP latency in seconds.
	HTTPLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "planner_http_latency_seconds",
			Help:    "HTTP request latency for the planner in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"route", "method", "status_code"},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		ItineraryLookupsTotal,
		GenerationsTotal,
		GenerationLatencySeconds,
		CoalescedTotal,
		HTTPLatencySeconds,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures latency for each HTTP request.
// Requests are labelled by chi route pattern so path parameters do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// capture status code
		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}

		HTTPLatencySeconds.
			WithLabelValues(route, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.statusCode = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}
