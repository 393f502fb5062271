package itinerary

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wayfarer-planner/internal/llm"
	"wayfarer-planner/internal/metrics"
	"wayfarer-planner/pkg/logging"
)

const (
	DefaultTemperature  = 0.7
	DefaultMaxTokens    = 4000
	defaultPollInterval = 250 * time.Millisecond
	defaultListLimit    = 20
	maxListLimit        = 100
	siblingLimit        = 10
)

// Options tunes generation. Zero values fall back to the defaults above.
type Options struct {
	Model string
	// Temperature is optional; nil means DefaultTemperature and 0 is sent as 0.
	Temperature *float32
	MaxTokens   int

	// Cache fronts the repository; nil disables it.
	Cache    RecordCache
	CacheTTL time.Duration

	// Locker collapses concurrent misses for one key into a single generation.
	// It is only used when both Locker and LockTTL are set.
	Locker       Locker
	LockTTL      time.Duration
	LockWait     time.Duration
	PollInterval time.Duration
}

// Service generates, caches and reschedules itineraries.
type Service struct {
	repo   Repository
	llm    llm.Client
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// GenerateResult is a stored itinerary plus whether it was served without calling the LLM.
type GenerateResult struct {
	Itinerary *StoredItinerary
	CacheHit  bool
}

// NewService wires the orchestrator. client may be nil: cache hits still work and misses
// fail with ErrConfiguration.
func NewService(repo Repository, client llm.Client, logger *zap.Logger, opts Options) *Service {
	if opts.Temperature == nil {
		opts.Temperature = llm.Float32(DefaultTemperature)
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		llm:    client,
		opts:   opts,
		logger: logger,
		now:    time.Now,
	}
}

// Generate returns the itinerary for req, calling the LLM only on a miss or when forceRefresh is set.
func (s *Service) Generate(ctx context.Context, req Request, forceRefresh bool) (*GenerateResult, error) {
	req, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	key, err := DeriveCacheKey(req)
	if err != nil {
		return nil, err
	}
	return s.generateForKey(ctx, key, req, forceRefresh)
}

// Get returns a stored itinerary owned by requesterID.
func (s *Service) Get(ctx context.Context, cacheKey, requesterID string) (*StoredItinerary, error) {
	return s.loadOwned(ctx, cacheKey, requesterID)
}

// List returns the requester's itineraries, newest first.
func (s *Service) List(ctx context.Context, requesterID string, limit, offset int) ([]StoredItinerary, error) {
	if requesterID == "" {
		return nil, fmt.Errorf("%w: missing required fields: requester_id", ErrValidation)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	items, err := s.repo.ListByRequester(ctx, requesterID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list itineraries: %w", err)
	}
	return items, nil
}

func (s *Service) prepare(req Request) (Request, error) {
	req = req.trimmed()
	if req.Model == "" {
		req.Model = s.opts.Model
	}
	if err := validateStruct(req); err != nil {
		return Request{}, err
	}
	if err := req.Preferences.Validate(); err != nil {
		return Request{}, err
	}
	if _, err := validateDates(req.StartDate, req.EndDate); err != nil {
		return Request{}, err
	}
	if req.Model == "" {
		return Request{}, fmt.Errorf("%w: no model configured", ErrConfiguration)
	}
	return req, nil
}

// generateForKey is the lookup-or-generate branch shared by Generate and Reschedule.
func (s *Service) generateForKey(ctx context.Context, key string, req Request, forceRefresh bool) (*GenerateResult, error) {
	logger := s.log(ctx).With(zap.String("cache_key", key), zap.Bool("force_refresh", forceRefresh))

	if !forceRefresh {
		rec, err := s.lookup(ctx, key)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			logger.Info("cache_decision", zap.Bool("cache_hit", true))
			return &GenerateResult{Itinerary: rec, CacheHit: true}, nil
		}
	}

	if s.llm == nil {
		return nil, fmt.Errorf("%w: no LLM credential", ErrConfiguration)
	}

	if !forceRefresh && s.locking() {
		rec, token, err := s.acquireOrWait(ctx, key)
		if err != nil {
			return nil, err
		}
		if token != "" {
			defer s.unlock(ctx, key, token)
		}
		if rec != nil {
			logger.Info("cache_decision", zap.Bool("cache_hit", true), zap.Bool("coalesced", true))
			return &GenerateResult{Itinerary: rec, CacheHit: true}, nil
		}
	}

	rec, err := s.produce(ctx, key, req)
	if err != nil {
		return nil, err
	}
	logger.Info("cache_decision", zap.Bool("cache_hit", false))
	return &GenerateResult{Itinerary: rec, CacheHit: false}, nil
}

// produce calls the LLM and upserts the outcome. A response that does not parse is stored
// with a nil plan.
func (s *Service) produce(ctx context.Context, key string, req Request) (*StoredItinerary, error) {
	logger := s.log(ctx).With(zap.String("cache_key", key), zap.String("model", req.Model))

	dates, err := validateDates(req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}

	prompt := BuildPrompt(req)
	chatReq := &llm.ChatRequest{
		Model: req.Model,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: SystemPrompt},
			{Role: llm.RoleUser, Content: prompt},
		},
		Temperature:    s.opts.Temperature,
		MaxTokens:      s.opts.MaxTokens,
		ResponseFormat: &llm.ResponseFormat{Type: llm.ResponseFormatJSONObject},
	}

	llmStart := time.Now()
	resp, err := s.llm.ChatCompletion(ctx, chatReq)
	llmLatency := time.Since(llmStart)
	metrics.GenerationLatencySeconds.Observe(llmLatency.Seconds())
	if err != nil {
		metrics.GenerationsTotal.WithLabelValues("error").Inc()
		logger.Error("llm_call_failed", zap.Duration("llm_latency", llmLatency), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	raw := resp.Text()
	plan, perr := ParsePlan(raw)
	if perr != nil {
		metrics.GenerationsTotal.WithLabelValues("unstructured").Inc()
		logger.Warn("llm_response_not_json", zap.Error(perr), zap.Int("raw_length", len(raw)))
	} else {
		metrics.GenerationsTotal.WithLabelValues("structured").Inc()
	}

	now := s.now().UTC()
	stored, err := s.repo.Upsert(ctx, &StoredItinerary{
		ID:          uuid.New(),
		CacheKey:    key,
		FamilyKey:   DeriveFamilyKey(req),
		RequesterID: req.RequesterID,
		Source:      req.Source,
		Destination: req.Destination,
		StartDate:   dates.Start,
		EndDate:     dates.End,
		Preferences: req.Preferences,
		Budget:      req.Budget,
		Model:       req.Model,
		PromptText:  prompt,
		Structured:  plan,
		RawResponse: raw,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return nil, fmt.Errorf("store itinerary: %w", err)
	}

	s.remember(ctx, stored)
	logger.Info("itinerary_generated",
		zap.Bool("structured", plan != nil),
		zap.Duration("llm_latency", llmLatency),
	)
	return stored, nil
}

// lookup reads through the record cache into the repository. Cache failures count as misses.
func (s *Service) lookup(ctx context.Context, key string) (*StoredItinerary, error) {
	if s.opts.Cache != nil {
		data, ok, err := s.opts.Cache.Get(ctx, recordKey(key))
		switch {
		case err != nil:
			s.log(ctx).Warn("record_cache_get_error", zap.String("cache_key", key), zap.Error(err))
		case ok:
			var rec StoredItinerary
			if err := json.Unmarshal(data, &rec); err != nil {
				s.log(ctx).Warn("record_cache_decode_error", zap.String("cache_key", key), zap.Error(err))
				_ = s.opts.Cache.Delete(ctx, recordKey(key))
			} else {
				return &rec, nil
			}
		}
	}

	rec, err := s.repo.FindByCacheKey(ctx, key)
	if err != nil {
		metrics.ItineraryLookupsTotal.WithLabelValues("store", "error").Inc()
		return nil, fmt.Errorf("find itinerary: %w", err)
	}
	if rec == nil {
		metrics.ItineraryLookupsTotal.WithLabelValues("store", "miss").Inc()
		return nil, nil
	}
	metrics.ItineraryLookupsTotal.WithLabelValues("store", "hit").Inc()
	s.remember(ctx, rec)
	return rec, nil
}

func (s *Service) remember(ctx context.Context, rec *StoredItinerary) {
	if s.opts.Cache == nil || s.opts.CacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		s.log(ctx).Warn("record_cache_encode_error", zap.String("cache_key", rec.CacheKey), zap.Error(err))
		return
	}
	if err := s.opts.Cache.Set(ctx, recordKey(rec.CacheKey), data, s.opts.CacheTTL); err != nil {
		s.log(ctx).Warn("record_cache_set_error", zap.String("cache_key", rec.CacheKey), zap.Error(err))
	}
}

func (s *Service) locking() bool {
	return s.opts.Locker != nil && s.opts.LockTTL > 0
}

// acquireOrWait takes the generation lease for key, or waits for its holder.
// It returns the record when one appeared meanwhile, and a non-empty token when the caller
// holds the lease and must release it. Lock backend errors degrade to the unlocked path.
func (s *Service) acquireOrWait(ctx context.Context, key string) (*StoredItinerary, string, error) {
	rec, token, err := s.tryAcquire(ctx, key)
	if err != nil || rec != nil || token != "" {
		return rec, token, err
	}
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	return s.waitForRecord(ctx, key)
}

// tryAcquire attempts the lease once and, on success, re-checks the store because the
// previous holder may have finished in between.
func (s *Service) tryAcquire(ctx context.Context, key string) (*StoredItinerary, string, error) {
	token, acquired, err := s.opts.Locker.TryLock(ctx, lockKey(key), s.opts.LockTTL)
	if err != nil {
		s.log(ctx).Warn("generation_lock_error", zap.String("cache_key", key), zap.Error(err))
		return nil, "", nil
	}
	if !acquired {
		return nil, "", nil
	}
	rec, err := s.lookup(ctx, key)
	if err != nil {
		s.unlock(ctx, key, token)
		return nil, "", err
	}
	return rec, token, nil
}

// waitForRecord polls until the lease holder stores the record, the lease frees up, LockWait
// passes, or ctx ends. A failed holder releases its lease, so a waiter takes over instead of
// sitting out the full wait.
func (s *Service) waitForRecord(ctx context.Context, key string) (*StoredItinerary, string, error) {
	wait := s.opts.LockWait
	if wait <= 0 {
		return nil, "", nil
	}
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-deadline.C:
			metrics.CoalescedTotal.WithLabelValues("timeout").Inc()
			s.log(ctx).Warn("generation_wait_expired", zap.String("cache_key", key), zap.Duration("lock_wait", wait))
			return nil, "", nil
		case <-ticker.C:
			rec, err := s.lookup(ctx, key)
			if err != nil {
				return nil, "", err
			}
			if rec != nil {
				metrics.CoalescedTotal.WithLabelValues("hit").Inc()
				return rec, "", nil
			}
			rec, token, err := s.tryAcquire(ctx, key)
			if err != nil {
				return nil, "", err
			}
			if rec != nil {
				metrics.CoalescedTotal.WithLabelValues("hit").Inc()
				return rec, token, nil
			}
			if token != "" {
				metrics.CoalescedTotal.WithLabelValues("takeover").Inc()
				return nil, token, nil
			}
		}
	}
}

func (s *Service) unlock(ctx context.Context, key, token string) {
	// release even when the request context is already done
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.opts.Locker.Unlock(ctx, lockKey(key), token); err != nil {
		s.log(ctx).Warn("generation_unlock_error", zap.String("cache_key", key), zap.Error(err))
	}
}

// loadOwned fetches a record and enforces ownership.
func (s *Service) loadOwned(ctx context.Context, cacheKey, requesterID string) (*StoredItinerary, error) {
	if cacheKey == "" || requesterID == "" {
		return nil, fmt.Errorf("%w: cache key and requester are required", ErrValidation)
	}
	rec, err := s.lookup(ctx, cacheKey)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, cacheKey)
	}
	if rec.RequesterID != requesterID {
		return nil, ErrForbidden
	}
	return rec, nil
}

func recordKey(cacheKey string) string { return "itinerary:" + cacheKey }
func lockKey(cacheKey string) string   { return "itinerary-lock:" + cacheKey }

// log prefers the request-scoped logger and falls back to the service logger.
func (s *Service) log(ctx context.Context) *zap.Logger {
	return logging.FromContextOr(ctx, s.logger)
}
