// Package geo holds the great-circle helpers shared by scoring, generation
// and worker matching.
package geo

import (
	"errors"
	"fmt"
	"math"
)

const (
	// EarthRadiusKm is the mean Earth radius used by every distance in the service.
	EarthRadiusKm = 6371.0

	// KmPerDegree is the length of one degree of latitude on that sphere (~111.19 km).
	KmPerDegree = EarthRadiusKm * math.Pi / 180
)

// ErrInvalidCoordinate is returned for latitudes outside [-90, 90] or
// longitudes outside [-180, 180]. Inputs are never clamped.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Point is a position in decimal degrees.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate checks that p lies on the globe.
func (p Point) Validate() error {
	if math.IsNaN(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, p.Latitude)
	}
	if math.IsNaN(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, p.Longitude)
	}
	return nil
}

// Distance returns the Haversine distance between a and b in kilometers.
func Distance(a, b Point) (float64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	if err := b.Validate(); err != nil {
		return 0, err
	}
	return haversine(a, b), nil
}

// MustDistance is Distance for points already known to be valid (stored rows).
// Invalid input yields +Inf so such points sort last.
func MustDistance(a, b Point) float64 {
	d, err := Distance(a, b)
	if err != nil {
		return math.Inf(1)
	}
	return d
}

func haversine(a, b Point) float64 {
	dLat := toRadians(b.Latitude - a.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Latitude))*math.Cos(toRadians(b.Latitude))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// Offset moves p by distanceKm along bearing (radians, 0 = north) using the
// small-angle approximation. Only meant for distances of a few kilometers.
func Offset(p Point, bearing, distanceKm float64) Point {
	dLat := distanceKm / KmPerDegree * math.Cos(bearing)
	dLng := distanceKm / (KmPerDegree * math.Cos(toRadians(p.Latitude))) * math.Sin(bearing)
	return Point{
		Latitude:  p.Latitude + dLat,
		Longitude: p.Longitude + dLng,
	}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
