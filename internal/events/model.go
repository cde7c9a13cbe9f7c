package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/localshield/internal/geo"
)

// minimumTick separates two events appended within the same clock reading.
const minimumTick = time.Microsecond

var (
	// ErrInvalidReporter indicates that the event has no reporter identity.
	ErrInvalidReporter = errors.New("events: invalid reporter")
	errMissingDatabase = errors.New("events: database handle is required")
)

// EmergencyEvent is an immutable record of a triggered emergency.
type EmergencyEvent struct {
	ID             int64
	ReporterUserID string
	Latitude       float64
	Longitude      float64
	CreatedAt      time.Time
}

// Log is the append-only emergency event log.
//
// Append assigns ID and CreatedAt. CreatedAt is strictly increasing across appends,
// so a watermark equal to the last observed CreatedAt never hides a later event.
type Log interface {
	Append(ctx context.Context, event EmergencyEvent) (EmergencyEvent, error)
	FetchSince(ctx context.Context, since time.Time) ([]EmergencyEvent, error)
}

func validateEvent(event EmergencyEvent) error {
	if strings.TrimSpace(event.ReporterUserID) == "" {
		return ErrInvalidReporter
	}
	if _, err := geo.NewPoint(event.Latitude, event.Longitude); err != nil {
		return err
	}
	return nil
}

// nextTimestamp returns now, or previous+minimumTick when the clock has not advanced.
func nextTimestamp(now, previous time.Time) time.Time {
	now = now.UTC()
	if !previous.IsZero() && !now.After(previous) {
		return previous.Add(minimumTick)
	}
	return now
}

func wrapStorageError(operation string, err error) error {
	return fmt.Errorf("events: %s: %w", operation, err)
}
