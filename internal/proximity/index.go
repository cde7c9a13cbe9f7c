package proximity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/MarcoPoloResearchLab/localshield/internal/geo"
	"github.com/MarcoPoloResearchLab/localshield/internal/locations"
)

// DefaultRadiusMeters is the alert radius used when configuration does not override it.
const DefaultRadiusMeters = 1000.0

var (
	// ErrInvalidRadius indicates a negative or non-finite search radius.
	ErrInvalidRadius    = errors.New("proximity: invalid radius")
	errMissingLocations = errors.New("proximity: location source is required")
)

// LocationLister is the read-only view of the location store the index scans.
type LocationLister interface {
	ListLocations(ctx context.Context) ([]locations.UserLocation, error)
}

// Match is a user found inside the search radius.
type Match struct {
	UserID         string
	DistanceMeters float64
}

// Index answers radius queries with a full haversine scan.
type Index struct {
	source LocationLister
}

// NewIndex constructs an Index over the provided location source.
func NewIndex(source LocationLister) (*Index, error) {
	if source == nil {
		return nil, errMissingLocations
	}
	return &Index{source: source}, nil
}

// FindWithinRadius returns the ids of users at most radiusMeters from the center,
// excluding excludeUserID, nearest first.
func (i *Index) FindWithinRadius(ctx context.Context, centerLatitude, centerLongitude, radiusMeters float64, excludeUserID string) ([]string, error) {
	matches, err := i.MatchesWithinRadius(ctx, centerLatitude, centerLongitude, radiusMeters, excludeUserID)
	if err != nil {
		return nil, err
	}
	userIDs := make([]string, 0, len(matches))
	for _, match := range matches {
		userIDs = append(userIDs, match.UserID)
	}
	return userIDs, nil
}

// MatchesWithinRadius is FindWithinRadius with distances attached.
func (i *Index) MatchesWithinRadius(ctx context.Context, centerLatitude, centerLongitude, radiusMeters float64, excludeUserID string) ([]Match, error) {
	center, err := geo.NewPoint(centerLatitude, centerLongitude)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(radiusMeters) || math.IsInf(radiusMeters, 0) || radiusMeters < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRadius, radiusMeters)
	}

	records, err := i.source.ListLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("proximity: list locations: %w", err)
	}

	matches := make([]Match, 0)
	for _, record := range records {
		if record.UserID == excludeUserID {
			continue
		}
		distance := geo.DistanceMeters(center, geo.Point{Latitude: record.Latitude, Longitude: record.Longitude})
		if distance <= radiusMeters {
			matches = append(matches, Match{UserID: record.UserID, DistanceMeters: distance})
		}
	}
	sort.Slice(matches, func(a, b int) bool {
		if matches[a].DistanceMeters != matches[b].DistanceMeters {
			return matches[a].DistanceMeters < matches[b].DistanceMeters
		}
		return matches[a].UserID < matches[b].UserID
	})
	return matches, nil
}
