package itinerary_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"wayfarer-planner/internal/cache"
	"wayfarer-planner/internal/itinerary"
	"wayfarer-planner/internal/llm"
	"wayfarer-planner/internal/mocks"
	"wayfarer-planner/internal/store"
	"wayfarer-planner/pkg/logging"
)

const planJSON = `{"trip_summary":{"route":"NYC -> Paris","duration_days":7,"total_estimated_cost":2400,"currency":"USD"},
"daily_itinerary":[{"day":1,"date":"2024-06-01","city":"Paris","morning":["Arrive"],"afternoon":["Louvre"],"evening":["Seine"],
"meals":{"breakfast":"Cafe","lunch":"Bistro","dinner":"Brasserie"},"estimated_cost":300}],
"packing_tips":["Umbrella"],"local_tips":["Metro"],"assumptions":["Economy flights"]}`

func reply(text string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model:   "gpt-4o-mini",
		Choices: []llm.ChatChoice{{Message: llm.ChatMessage{Role: llm.RoleAssistant, Content: text}}},
	}
}

func tripRequest() itinerary.Request {
	return itinerary.Request{
		Source:      "NYC",
		Destination: "Paris",
		StartDate:   "2024-06-01",
		EndDate:     "2024-06-07",
		Preferences: itinerary.Preferences{"interests": []any{"food", "art"}},
		Budget:      "2500",
		RequesterID: "u1",
	}
}

func testContext(t *testing.T) context.Context {
	return logging.WithLogger(context.Background(), zaptest.NewLogger(t))
}

type fixture struct {
	svc   *itinerary.Service
	repo  *store.Memory
	llm   *mocks.MockClient
	cache *cache.MemoryCache
}

func newFixture(t *testing.T, opts itinerary.Options) *fixture {
	ctrl := gomock.NewController(t)
	f := &fixture{
		repo:  store.NewMemory(),
		llm:   mocks.NewMockClient(ctrl),
		cache: cache.NewMemoryCache(time.Minute),
	}
	t.Cleanup(func() { f.cache.Close() })

	if opts.Model == "" {
		opts.Model = "gpt-4o-mini"
	}
	opts.Cache = f.cache
	opts.CacheTTL = time.Minute
	f.svc = itinerary.NewService(f.repo, f.llm, zaptest.NewLogger(t), opts)
	return f
}

func marshal(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestGenerateCachesIdempotently(t *testing.T) {
	f := newFixture(t, itinerary.Options{})
	ctx := testContext(t)

	f.llm.EXPECT().
		ChatCompletion(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			assert.Equal(t, "gpt-4o-mini", req.Model)
			require.NotNil(t, req.Temperature)
			assert.InDelta(t, 0.7, *req.Temperature, 0.0001)
			assert.Equal(t, 4000, req.MaxTokens)
			require.NotNil(t, req.ResponseFormat)
			assert.Equal(t, llm.ResponseFormatJSONObject, req.ResponseFormat.Type)
			require.Len(t, req.Messages, 2)
			assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
			assert.Contains(t, req.Messages[1].Content, "from NYC to Paris")
			return reply(planJSON), nil
		}).
		Times(1)

	first, err := f.svc.Generate(ctx, tripRequest(), false)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	require.NotNil(t, first.Itinerary.Structured)
	assert.Equal(t, "NYC -> Paris", first.Itinerary.Structured.TripSummary.Route)
	assert.Equal(t, "gpt-4o-mini", first.Itinerary.Model)

	second, err := f.svc.Generate(ctx, tripRequest(), false)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, marshal(t, first.Itinerary), marshal(t, second.Itinerary))

	// the repository alone also answers once the record cache is gone
	require.NoError(t, f.cache.Delete(ctx, "itinerary:"+first.Itinerary.CacheKey))
	third, err := f.svc.Generate(ctx, tripRequest(), false)
	require.NoError(t, err)
	assert.True(t, third.CacheHit)
	assert.Equal(t, marshal(t, first.Itinerary), marshal(t, third.Itinerary))
	assert.Equal(t, 1, f.repo.Len())
}

func TestGenerateForceRefreshOverwrites(t *testing.T) {
	f := newFixture(t, itinerary.Options{})
	ctx := testContext(t)

	gomock.InOrder(
		f.llm.EXPECT().ChatCompletion(gomock.Any(), gomock.Any()).Return(reply(planJSON), nil),
		f.llm.EXPECT().ChatCompletion(gomock.Any(), gomock.Any()).Return(reply("plain text plan"), nil),
	)

	first, err := f.svc.Generate(ctx, tripRequest(), false)
	require.NoError(t, err)

	refreshed, err := f.svc.Generate(ctx, tripRequest(), true)
	require.NoError(t, err)
	assert.False(t, refreshed.CacheHit)
	assert.Equal(t, first.Itinerary.CacheKey, refreshed.Itinerary.CacheKey)
	assert.Equal(t, first.Itinerary.ID, refreshed.Itinerary.ID)
	assert.Equal(t, "plain text plan", refreshed.Itinerary.RawResponse)
	assert.Nil(t, refreshed.Itinerary.Structured)

	// later lookups see the refreshed content
	again, err := f.svc.Generate(ctx, tripRequest(), false)
	require.NoError(t, err)
	assert.True(t, again.CacheHit)
	assert.Equal(t, "plain text plan", again.Itinerary.RawResponse)
	assert.Equal(t, 1, f.repo.Len())
}

func TestGenerateKeepsUnparseableResponses(t *testing.T) {
	f := newFixture(t, itinerary.Options{})
	ctx := testContext(t)

	raw := "Day 1: arrive in Paris and walk along the Seine."
	f.llm.EXPECT().ChatCompletion(gomock.Any(), gomock.Any()).Return(reply(raw), nil)

	res, err := f.svc.Generate(ctx, tripRequest(), false)
	require.NoError(t, err)
	assert.Nil(t, res.Itinerary.Structured)
	assert.Equal(t, raw, res.Itinerary.RawResponse)
	assert.NotEmpty(t, res.Itinerary.PromptText)
}

func TestGenerateValidation(t *testing.T) {
	f := newFixture(t, itinerary.Options{})
	ctx := testContext(t)

	testCases := []struct {
		name   string
		mutate func(r *itinerary.Request)
	}{
		{"missing_destination", func(r *itinerary.Request) { r.Destination = "  " }},
		{"missing_requester", func(r *itinerary.Request) { r.RequesterID = "" }},
		{"bad_date", func(r *itinerary.Request) { r.StartDate = "June 1st" }},
		{"end_before_start", func(r *itinerary.Request) { r.EndDate = "2024-05-01" }},
		{"nested_preferences", func(r *itinerary.Request) {
			r.Preferences = itinerary.Preferences{"hotel": map[string]any{"stars": 5}}
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := tripRequest()
			tc.mutate(&r)
			_, err := f.svc.Generate(ctx, r, false)
			require.Error(t, err)
			assert.True(t, errors.Is(err, itinerary.ErrValidation), err)
		})
	}
	assert.Equal(t, 0, f.repo.Len())
}

func TestGenerateWithoutLLMClient(t *testing.T) {
	ctx := testContext(t)
	repo := store.NewMemory()
	svc := itinerary.NewService(repo, nil, zaptest.NewLogger(t), itinerary.Options{Model: "gpt-4o-mini"})

	_, err := svc.Generate(ctx, tripRequest(), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, itinerary.ErrConfiguration))

	// hits are still served
	f := newFixture(t, itinerary.Options{})
	f.llm.EXPECT().ChatCompletion(gomock.Any(), gomock.Any()).Return(reply(planJSON), nil)
	seeded, err := f.svc.Generate(ctx, tripRequest(), false)
	require.NoError(t, err)

	svc = itinerary.NewService(f.repo, nil, zaptest.NewLogger(t), itinerary.Options{Model: "gpt-4o-mini"})
	hit, err := svc.Generate(ctx, tripRequest(), false)
	require.NoError(t, err)
	assert.True(t, hit.CacheHit)
	assert.Equal(t, seeded.Itinerary.CacheKey, hit.Itinerary.CacheKey)

	_, err = svc.Generate(ctx, tripRequest(), true)
	assert.True(t, errors.Is(err, itinerary.ErrConfiguration))
}

func TestGenerateUpstreamFailure(t *testing.T) {
	f := newFixture(t, itinerary.Options{})
	ctx := testContext(t)

	f.llm.EXPECT().ChatCompletion(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection reset")).Times(1)

	_, err := f.svc.Generate(ctx, tripRequest(), false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, itinerary.ErrUpstream))
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 0, f.repo.Len())
}

func TestGenerateCoalescesConcurrentMisses(t *testing.T) {
	f := newFixture(t, itinerary.Options{
		Locker:       cache.NewMemoryLocker(),
		LockTTL:      time.Minute,
		LockWait:     5 * time.Second,
		PollInterval: 5 * time.Millisecond,
	})
	ctx := testContext(t)

	f.llm.EXPECT().
		ChatCompletion(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
			time.Sleep(50 * time.Millisecond)
			return reply(planJSON), nil
		}).
		Times(1)

	const callers = 5
	var wg sync.WaitGroup
	keys := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Generate(ctx, tripRequest(), false)
			errs[i] = err
			if err == nil {
				keys[i] = res.Itinerary.CacheKey
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, keys[0], keys[i])
	}
	assert.Equal(t, 1, f.repo.Len())
}

func TestGenerateWaiterTakesOverAfterHolderFails(t *testing.T) {
	f := newFixture(t, itinerary.Options{
		Locker:       cache.NewMemoryLocker(),
		LockTTL:      time.Minute,
		LockWait:     30 * time.Second,
		PollInterval: 5 * time.Millisecond,
	})
	ctx := testContext(t)

	gomock.InOrder(
		f.llm.EXPECT().
			ChatCompletion(gomock.Any(), gomock.Any()).
			DoAndReturn(func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
				time.Sleep(50 * time.Millisecond)
				return nil, errors.New("provider overloaded")
			}),
		f.llm.EXPECT().
			ChatCompletion(gomock.Any(), gomock.Any()).
			DoAndReturn(func(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
				time.Sleep(20 * time.Millisecond)
				return reply(planJSON), nil
			}),
	)

	const callers = 3
	var wg sync.WaitGroup
	errs := make([]error, callers)
	start := time.Now()
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Generate(ctx, tripRequest(), false)
		}(i)
	}
	wg.Wait()

	assert.Less(t, time.Since(start), 5*time.Second, "waiters must not sit out the full lock wait")
	failed := 0
	for _, err := range errs {
		if err != nil {
			assert.True(t, errors.Is(err, itinerary.ErrUpstream), err)
			failed++
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, f.repo.Len())
}

func TestGenerateSendsZeroTemperature(t *testing.T) {
	f := newFixture(t, itinerary.Options{Temperature: llm.Float32(0)})
	ctx := testContext(t)

	f.llm.EXPECT().
		ChatCompletion(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
			require.NotNil(t, req.Temperature)
			assert.Equal(t, float32(0), *req.Temperature)
			return reply(planJSON), nil
		})

	_, err := f.svc.Generate(ctx, tripRequest(), false)
	require.NoError(t, err)
}

func TestGenerateLogsToServiceLoggerWithoutRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	client.EXPECT().ChatCompletion(gomock.Any(), gomock.Any()).Return(reply(planJSON), nil)

	svc := itinerary.NewService(store.NewMemory(), client, zap.New(core), itinerary.Options{Model: "gpt-4o-mini"})
	_, err := svc.Generate(context.Background(), tripRequest(), false)
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("itinerary_generated").Len())
	assert.Equal(t, 1, logs.FilterMessage("cache_decision").Len())
}

func TestGetAndList(t *testing.T) {
	f := newFixture(t, itinerary.Options{})
	ctx := testContext(t)
	f.llm.EXPECT().ChatCompletion(gomock.Any(), gomock.Any()).Return(reply(planJSON), nil).Times(2)

	a, err := f.svc.Generate(ctx, tripRequest(), false)
	require.NoError(t, err)
	other := tripRequest()
	other.Destination = "Rome"
	_, err = f.svc.Generate(ctx, other, false)
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, a.Itinerary.CacheKey, "u1")
	require.NoError(t, err)
	assert.Equal(t, a.Itinerary.ID, got.ID)

	_, err = f.svc.Get(ctx, a.Itinerary.CacheKey, "u2")
	assert.True(t, errors.Is(err, itinerary.ErrForbidden))

	_, err = f.svc.Get(ctx, "missing", "u1")
	assert.True(t, errors.Is(err, itinerary.ErrNotFound))

	list, err := f.svc.List(ctx, "u1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	none, err := f.svc.List(ctx, "u2", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
