package store

import (
	"context"
	"sort"
	"sync"

	"wayfarer-planner/internal/itinerary"
)

// Memory keeps itineraries in process. It is meant for development and tests.
type Memory struct {
	mu    sync.RWMutex
	items map[string]itinerary.StoredItinerary
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string]itinerary.StoredItinerary)}
}

func (m *Memory) FindByCacheKey(_ context.Context, cacheKey string) (*itinerary.StoredItinerary, error) {
	m.mu.RLock()
	rec, ok := m.items[cacheKey]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return clone(rec), nil
}

func (m *Memory) Upsert(ctx context.Context, rec *itinerary.StoredItinerary) (*itinerary.StoredItinerary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := *clone(*rec)
	if existing, ok := m.items[rec.CacheKey]; ok {
		// same columns the SQL upsert touches
		existing.PromptText = next.PromptText
		existing.Model = next.Model
		existing.Structured = next.Structured
		existing.RawResponse = next.RawResponse
		existing.UpdatedAt = next.UpdatedAt
		next = existing
	}
	m.items[rec.CacheKey] = next
	return clone(next), nil
}

func (m *Memory) FindSiblings(_ context.Context, familyKey, excludeCacheKey string, limit int) ([]itinerary.StoredItinerary, error) {
	m.mu.RLock()
	var out []itinerary.StoredItinerary
	for key, rec := range m.items {
		if rec.FamilyKey == familyKey && key != excludeCacheKey {
			out = append(out, *clone(rec))
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ListByRequester(_ context.Context, requesterID string, limit, offset int) ([]itinerary.StoredItinerary, error) {
	m.mu.RLock()
	var out []itinerary.StoredItinerary
	for _, rec := range m.items {
		if rec.RequesterID == requesterID {
			out = append(out, *clone(rec))
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(out)
	if offset >= len(out) {
		return []itinerary.StoredItinerary{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored itineraries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

func clone(rec itinerary.StoredItinerary) *itinerary.StoredItinerary {
	if rec.Preferences != nil {
		prefs := make(itinerary.Preferences, len(rec.Preferences))
		for k, v := range rec.Preferences {
			prefs[k] = v
		}
		rec.Preferences = prefs
	}
	return &rec
}

func sortNewestFirst(items []itinerary.StoredItinerary) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].CacheKey < items[j].CacheKey
		}
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
}
