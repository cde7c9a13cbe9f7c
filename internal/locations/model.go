package locations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrNotFound indicates that no location has been recorded for the user.
	ErrNotFound = errors.New("locations: not found")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("locations: invalid user id")
)

// UserLocation is the last known coordinate of a user.
type UserLocation struct {
	UserID    string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Latitude  float64   `gorm:"column:latitude;not null"`
	Longitude float64   `gorm:"column:longitude;not null"`
	UpdatedAt time.Time `gorm:"column:last_updated;not null;index"`
}

// TableName provides the explicit table binding for GORM.
func (UserLocation) TableName() string {
	return "user_locations"
}

// Store keeps a single latest-wins location per user.
type Store interface {
	UpdateLocation(ctx context.Context, userID string, latitude, longitude float64) (UserLocation, error)
	GetLocation(ctx context.Context, userID string) (UserLocation, error)
	ListLocations(ctx context.Context) ([]UserLocation, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// lookupKey matches the key UpdateLocation stores under.
func lookupKey(userID string) string {
	return strings.TrimSpace(userID)
}

func normalizeUserID(rawInput string) (string, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return trimmed, nil
}
