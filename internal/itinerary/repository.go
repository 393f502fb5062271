package itinerary

import (
	"context"
	"time"
)

// Repository persists itineraries. Implementations must keep CacheKey unique.
type Repository interface {
	// FindByCacheKey returns nil, nil when no record exists.
	FindByCacheKey(ctx context.Context, cacheKey string) (*StoredItinerary, error)
	// Upsert inserts the record or, when CacheKey already exists, replaces its prompt, model and
	// response fields. The stored row is returned; ID and CreatedAt of an existing row are kept.
	Upsert(ctx context.Context, rec *StoredItinerary) (*StoredItinerary, error)
	// FindSiblings lists records of the same reschedule family, newest first.
	FindSiblings(ctx context.Context, familyKey, excludeCacheKey string, limit int) ([]StoredItinerary, error)
	ListByRequester(ctx context.Context, requesterID string, limit, offset int) ([]StoredItinerary, error)
}

// RecordCache is a byte cache placed in front of the Repository.
type RecordCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Locker hands out short-lived exclusive leases. TryLock never blocks; ok is false when
// another holder owns key. Unlock only releases a lease still held under token.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}
