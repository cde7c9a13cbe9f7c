package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"
)

// EventRecord is the persisted form of an EmergencyEvent.
type EventRecord struct {
	ID             int64   `gorm:"column:id;primaryKey;autoIncrement"`
	ReporterUserID string  `gorm:"column:user_id;size:190;not null;index"`
	Latitude       float64 `gorm:"column:latitude;not null"`
	Longitude      float64 `gorm:"column:longitude;not null"`
	CreatedAtNanos int64   `gorm:"column:created_at_ns;not null;index:idx_emergency_events_created,priority:1"`
}

// TableName provides the explicit table binding for GORM.
func (EventRecord) TableName() string {
	return "emergency_events"
}

func (r EventRecord) toEvent() EmergencyEvent {
	return EmergencyEvent{
		ID:             r.ID,
		ReporterUserID: r.ReporterUserID,
		Latitude:       r.Latitude,
		Longitude:      r.Longitude,
		CreatedAt:      time.Unix(0, r.CreatedAtNanos).UTC(),
	}
}

// GormLog persists events through GORM. Appends are serialized within the process.
type GormLog struct {
	mu    sync.Mutex
	db    *gorm.DB
	clock func() time.Time
}

// NewGormLog constructs a GORM-backed log. The schema must already be migrated.
func NewGormLog(db *gorm.DB, clock func() time.Time) (*GormLog, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if clock == nil {
		clock = time.Now
	}
	return &GormLog{db: db, clock: clock}, nil
}

// Append inserts the event and returns it with its assigned ID and CreatedAt.
func (l *GormLog) Append(ctx context.Context, event EmergencyEvent) (EmergencyEvent, error) {
	if err := validateEvent(event); err != nil {
		return EmergencyEvent{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var latest EventRecord
	var previous time.Time
	err := l.db.WithContext(ctx).Order("created_at_ns DESC").Limit(1).Take(&latest).Error
	switch {
	case err == nil:
		previous = time.Unix(0, latest.CreatedAtNanos).UTC()
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return EmergencyEvent{}, wrapStorageError("load latest", err)
	}

	record := EventRecord{
		ReporterUserID: event.ReporterUserID,
		Latitude:       event.Latitude,
		Longitude:      event.Longitude,
		CreatedAtNanos: nextTimestamp(l.clock(), previous).UnixNano(),
	}
	if err := l.db.WithContext(ctx).Create(&record).Error; err != nil {
		return EmergencyEvent{}, wrapStorageError("insert", err)
	}
	return record.toEvent(), nil
}

// FetchSince returns events created strictly after since, oldest first.
func (l *GormLog) FetchSince(ctx context.Context, since time.Time) ([]EmergencyEvent, error) {
	var records []EventRecord
	query := l.db.WithContext(ctx)
	// UnixNano is undefined far outside the epoch; every stored event is after it anyway.
	if since.After(time.Unix(0, 0)) {
		query = query.Where("created_at_ns > ?", since.UnixNano())
	}
	err := query.
		Order("created_at_ns ASC").
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, wrapStorageError("fetch since", err)
	}
	result := make([]EmergencyEvent, 0, len(records))
	for _, record := range records {
		result = append(result, record.toEvent())
	}
	return result, nil
}
