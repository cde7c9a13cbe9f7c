package channels

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var errMissingDatabase = errors.New("channels: database handle is required")

// GormRegistry persists registrations through GORM.
type GormRegistry struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewGormRegistry constructs a GORM-backed registry. The schema must already be migrated.
func NewGormRegistry(db *gorm.DB, clock func() time.Time) (*GormRegistry, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	if clock == nil {
		clock = time.Now
	}
	return &GormRegistry{db: db, clock: clock}, nil
}

// RegisterToken upserts the registration keyed by user_id.
func (r *GormRegistry) RegisterToken(ctx context.Context, userID string, kind Kind, token string) (Registration, error) {
	id, normalized, err := validateRegistration(userID, kind, token)
	if err != nil {
		return Registration{}, err
	}
	registration := Registration{
		UserID:       id,
		Kind:         kind,
		Token:        normalized,
		RegisteredAt: r.clock().UTC(),
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"channel_kind", "token", "registered_at"}),
		}).
		Create(&registration).Error
	if err != nil {
		return Registration{}, fmt.Errorf("channels: upsert failed: %w", err)
	}
	return registration, nil
}

// ResolveChannel loads the active registration or returns ErrNoChannel.
func (r *GormRegistry) ResolveChannel(ctx context.Context, userID string) (Registration, error) {
	var registration Registration
	err := r.db.WithContext(ctx).Where("user_id = ?", lookupKey(userID)).Take(&registration).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Registration{}, ErrNoChannel
	}
	if err != nil {
		return Registration{}, err
	}
	return registration, nil
}
