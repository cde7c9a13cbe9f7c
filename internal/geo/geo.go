package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used for great-circle distances.
const EarthRadiusMeters = 6371000.0

// ErrInvalidCoordinate indicates a latitude or longitude outside the WGS 84 range.
var ErrInvalidCoordinate = errors.New("geo: invalid coordinate")

// Point is a WGS 84 coordinate in decimal degrees.
type Point struct {
	Latitude  float64
	Longitude float64
}

// NewPoint validates the coordinate pair and returns a Point.
func NewPoint(latitude, longitude float64) (Point, error) {
	if math.IsNaN(latitude) || math.IsInf(latitude, 0) || latitude < -90 || latitude > 90 {
		return Point{}, fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinate, latitude)
	}
	if math.IsNaN(longitude) || math.IsInf(longitude, 0) || longitude < -180 || longitude > 180 {
		return Point{}, fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinate, longitude)
	}
	return Point{Latitude: latitude, Longitude: longitude}, nil
}

// DistanceMeters returns the haversine distance between two points.
func DistanceMeters(a, b Point) float64 {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	deltaLat := toRadians(b.Latitude - a.Latitude)
	deltaLon := toRadians(b.Longitude - a.Longitude)

	sinLat := math.Sin(deltaLat / 2)
	sinLon := math.Sin(deltaLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	// rounding can push h a hair above 1 for antipodal points
	h = math.Min(1, h)
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}
