package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap/zaptest"

	"wayfarer-planner/internal/config"
	"wayfarer-planner/internal/handlers"
	"wayfarer-planner/internal/itinerary"
	"wayfarer-planner/internal/middleware"
	"wayfarer-planner/internal/store"
)

func newTestServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	svc := itinerary.NewService(store.NewMemory(), nil, zaptest.NewLogger(t), itinerary.Options{Model: "gpt-4o-mini"})

	r := chi.NewRouter()
	SetupRouter(r, zaptest.NewLogger(t), handlers.NewItineraryHandler(svc), opts)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestRouterHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, Options{
		Readiness: map[string]handlers.Pinger{
			"store": handlers.PingFunc(func(context.Context) error { return errors.New("db down") }),
		},
	})

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /healthz, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from /readyz, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", resp.StatusCode)
	}
}

func TestRouterRequiresJWTOnV1(t *testing.T) {
	const secret = "router-secret"
	srv := newTestServer(t, Options{JWTSecret: secret})

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/itineraries", nil)
	req.Header.Set(middleware.UserIDHeader, "u1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("header identity must be ignored when a secret is set, got %d", resp.StatusCode)
	}

	token, err := middleware.GenerateToken("u1", secret, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/v1/itineraries", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with a valid token, got %d", resp.StatusCode)
	}
}

func TestRouterRejectsLargeBodies(t *testing.T) {
	srv := newTestServer(t, Options{MaxBodyBytes: 64})

	body := `{"source":"` + strings.Repeat("x", 200) + `"}`
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/itineraries/generate", strings.NewReader(body))
	req.Header.Set(middleware.UserIDHeader, "u1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	srv := newTestServer(t, Options{CORS: config.CORSConfig{AllowedOrigins: []string{"https://app.example"}}})

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/v1/itineraries/generate", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
}
