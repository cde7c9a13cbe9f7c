package locations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/localshield/internal/geo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("locations: database handle is required")

// GormStore persists locations through GORM.
type GormStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewGormStore constructs a GORM-backed store. The schema must already be migrated.
func NewGormStore(db *gorm.DB, clock func() time.Time) (*GormStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if clock == nil {
		clock = time.Now
	}
	return &GormStore{db: db, clock: clock}, nil
}

// UpdateLocation upserts the user's record keyed by user_id.
func (s *GormStore) UpdateLocation(ctx context.Context, userID string, latitude, longitude float64) (UserLocation, error) {
	id, err := normalizeUserID(userID)
	if err != nil {
		return UserLocation{}, err
	}
	point, err := geo.NewPoint(latitude, longitude)
	if err != nil {
		return UserLocation{}, err
	}
	record := UserLocation{
		UserID:    id,
		Latitude:  point.Latitude,
		Longitude: point.Longitude,
		UpdatedAt: s.clock().UTC(),
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"latitude", "longitude", "last_updated"}),
		}).
		Create(&record).Error
	if err != nil {
		return UserLocation{}, fmt.Errorf("locations: upsert failed: %w", err)
	}
	return record, nil
}

// GetLocation loads the user's record or returns ErrNotFound.
func (s *GormStore) GetLocation(ctx context.Context, userID string) (UserLocation, error) {
	var record UserLocation
	err := s.db.WithContext(ctx).Where("user_id = ?", lookupKey(userID)).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return UserLocation{}, ErrNotFound
	}
	if err != nil {
		return UserLocation{}, err
	}
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

// ListLocations returns every stored record.
func (s *GormStore) ListLocations(ctx context.Context) ([]UserLocation, error) {
	var records []UserLocation
	if err := s.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// PruneBefore deletes records last updated before cutoff.
func (s *GormStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result := s.db.WithContext(ctx).Where("last_updated < ?", cutoff.UTC()).Delete(&UserLocation{})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}
