package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"wayfarer-planner/internal/config"
	"wayfarer-planner/internal/itinerary"
)

// itineraryRow is the GORM model for the ai_itineraries table.
type itineraryRow struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey"`
	CacheKey    string         `gorm:"column:cache_key;type:char(64);not null;uniqueIndex:ux_ai_itineraries_cache_key"`
	FamilyKey   string         `gorm:"column:family_key;type:char(64);not null;index:ix_ai_itineraries_family"`
	RequesterID string         `gorm:"column:requester_id;not null;index:ix_ai_itineraries_requester"`
	Source      string         `gorm:"column:source;not null"`
	Destination string         `gorm:"column:destination;not null"`
	StartDate   time.Time      `gorm:"column:start_date;type:date;not null"`
	EndDate     time.Time      `gorm:"column:end_date;type:date;not null"`
	Preferences datatypes.JSON `gorm:"column:preferences;type:jsonb;not null;default:'{}'"`
	Budget      string         `gorm:"column:budget"`
	Model       string         `gorm:"column:model;not null"`
	PromptText  string         `gorm:"column:prompt_text;type:text"`
	Structured  datatypes.JSON `gorm:"column:structured_response;type:jsonb"`
	RawResponse string         `gorm:"column:raw_response_text;type:text"`
	CreatedAt   time.Time      `gorm:"column:created_at;not null"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;not null;index:ix_ai_itineraries_requester"`
}

func (itineraryRow) TableName() string { return "ai_itineraries" }

// Postgres stores itineraries through GORM.
type Postgres struct {
	db *gorm.DB
}

// OpenPostgres connects, sizes the pool and, when enabled, migrates the schema.
func OpenPostgres(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.New(zap.NewStdLog(logger.Named("gorm")), gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	if cfg.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConns)
		sqlDB.SetMaxIdleConns(cfg.MaxConns)
	}
	if cfg.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	p := NewPostgres(db)
	if err := p.Ping(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := db.WithContext(ctx).AutoMigrate(&itineraryRow{}); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("migrate ai_itineraries: %w", err)
		}
	}
	return p, nil
}

// NewPostgres wraps an existing GORM handle.
func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) FindByCacheKey(ctx context.Context, cacheKey string) (*itinerary.StoredItinerary, error) {
	var row itineraryRow
	err := p.db.WithContext(ctx).Where("cache_key = ?", cacheKey).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

// Upsert relies on the unique index on cache_key; concurrent writers converge on one row
// and the last write's response fields win.
func (p *Postgres) Upsert(ctx context.Context, rec *itinerary.StoredItinerary) (*itinerary.StoredItinerary, error) {
	row, err := fromDomain(rec)
	if err != nil {
		return nil, err
	}

	err = p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"prompt_text", "model", "structured_response", "raw_response_text", "updated_at",
		}),
	}).Create(row).Error
	if err != nil {
		return nil, err
	}

	stored, err := p.FindByCacheKey(ctx, rec.CacheKey)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, fmt.Errorf("itinerary %s vanished after upsert", rec.CacheKey)
	}
	return stored, nil
}

func (p *Postgres) FindSiblings(ctx context.Context, familyKey, excludeCacheKey string, limit int) ([]itinerary.StoredItinerary, error) {
	var rows []itineraryRow
	q := p.db.WithContext(ctx).
		Where("family_key = ? AND cache_key <> ?", familyKey, excludeCacheKey).
		Order("updated_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toDomainList(rows)
}

func (p *Postgres) ListByRequester(ctx context.Context, requesterID string, limit, offset int) ([]itinerary.StoredItinerary, error) {
	var rows []itineraryRow
	err := p.db.WithContext(ctx).
		Where("requester_id = ?", requesterID).
		Order("updated_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toDomainList(rows)
}

func (p *Postgres) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func fromDomain(rec *itinerary.StoredItinerary) (*itineraryRow, error) {
	prefs := datatypes.JSON("{}")
	if len(rec.Preferences) > 0 {
		prefs = datatypes.JSON(rec.Preferences.Canonical())
	}

	var structured datatypes.JSON
	if rec.Structured != nil {
		b, err := json.Marshal(rec.Structured)
		if err != nil {
			return nil, fmt.Errorf("encode structured response: %w", err)
		}
		structured = b
	}

	id := rec.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	return &itineraryRow{
		ID:          id,
		CacheKey:    rec.CacheKey,
		FamilyKey:   rec.FamilyKey,
		RequesterID: rec.RequesterID,
		Source:      rec.Source,
		Destination: rec.Destination,
		StartDate:   rec.StartDate.UTC(),
		EndDate:     rec.EndDate.UTC(),
		Preferences: prefs,
		Budget:      string(rec.Budget),
		Model:       rec.Model,
		PromptText:  rec.PromptText,
		Structured:  structured,
		RawResponse: rec.RawResponse,
		CreatedAt:   rec.CreatedAt.UTC(),
		UpdatedAt:   rec.UpdatedAt.UTC(),
	}, nil
}

func (r *itineraryRow) toDomain() (*itinerary.StoredItinerary, error) {
	rec := &itinerary.StoredItinerary{
		ID:          r.ID,
		CacheKey:    r.CacheKey,
		FamilyKey:   r.FamilyKey,
		RequesterID: r.RequesterID,
		Source:      r.Source,
		Destination: r.Destination,
		StartDate:   dateOnly(r.StartDate),
		EndDate:     dateOnly(r.EndDate),
		Budget:      itinerary.Budget(r.Budget),
		Model:       r.Model,
		PromptText:  r.PromptText,
		RawResponse: r.RawResponse,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}

	if len(r.Preferences) > 0 {
		if err := json.Unmarshal(r.Preferences, &rec.Preferences); err != nil {
			return nil, fmt.Errorf("decode preferences of %s: %w", r.CacheKey, err)
		}
		if len(rec.Preferences) == 0 {
			rec.Preferences = nil
		}
	}
	if len(r.Structured) > 0 && string(r.Structured) != "null" {
		var plan itinerary.Plan
		if err := json.Unmarshal(r.Structured, &plan); err != nil {
			return nil, fmt.Errorf("decode structured response of %s: %w", r.CacheKey, err)
		}
		rec.Structured = &plan
	}
	return rec, nil
}

func toDomainList(rows []itineraryRow) ([]itinerary.StoredItinerary, error) {
	out := make([]itinerary.StoredItinerary, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// dateOnly maps a DATE column back to UTC midnight whatever zone the driver used.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
