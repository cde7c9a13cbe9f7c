package locations

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/localshield/internal/geo"
)

// MemoryStore is the process-lifetime Store implementation.
type MemoryStore struct {
	mu        sync.RWMutex
	locations map[string]UserLocation
	clock     func() time.Time
}

// NewMemoryStore constructs an empty in-memory store. A nil clock defaults to time.Now.
func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		locations: make(map[string]UserLocation),
		clock:     clock,
	}
}

// UpdateLocation validates the coordinate and overwrites the user's previous record.
func (s *MemoryStore) UpdateLocation(_ context.Context, userID string, latitude, longitude float64) (UserLocation, error) {
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
	s.mu.Lock()
	s.locations[id] = record
	s.mu.Unlock()
	return record, nil
}

// GetLocation returns the stored record or ErrNotFound.
func (s *MemoryStore) GetLocation(_ context.Context, userID string) (UserLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.locations[lookupKey(userID)]
	if !ok {
		return UserLocation{}, ErrNotFound
	}
	return record, nil
}

// ListLocations returns a snapshot of every stored record.
func (s *MemoryStore) ListLocations(_ context.Context) ([]UserLocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make([]UserLocation, 0, len(s.locations))
	for _, record := range s.locations {
		snapshot = append(snapshot, record)
	}
	return snapshot, nil
}

// PruneBefore removes records last updated before cutoff.
func (s *MemoryStore) PruneBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, record := range s.locations {
		if record.UpdatedAt.Before(cutoff) {
			delete(s.locations, id)
			removed++
		}
	}
	return removed, nil
}
