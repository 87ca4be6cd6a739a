// Package geo computes great-circle distances between coordinates.
package geo

import (
	"math"

	"github.com/pkg/errors"

	"example.com/mealbridge/services/dispatch/internal/model"
)

// EarthRadiusKm is the mean Earth radius used by the Haversine formula
const EarthRadiusKm = 6371.0

// ErrInvalidCoordinate is returned when a coordinate component is NaN or infinite
var ErrInvalidCoordinate = errors.New("coordinate is not a finite number")

// DistanceKm returns the Haversine great-circle distance between two points
// in kilometres. The result is symmetric in its arguments and never negative.
func DistanceKm(a, b model.Coordinate) (float64, error) {
	if !finite(a.Lat) || !finite(a.Lng) || !finite(b.Lat) || !finite(b.Lng) {
		return 0, ErrInvalidCoordinate
	}

	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusKm * c, nil
}

// ValidCoordinate reports whether both components are finite numbers
func ValidCoordinate(c model.Coordinate) bool {
	return finite(c.Lat) && finite(c.Lng)
}

// RoundKm rounds a distance to one decimal place for display
func RoundKm(km float64) float64 {
	return math.Round(km*10) / 10
}

// ETAMinutes estimates travel time in whole minutes at an assumed average
// speed. It is a presentation-only value and is never persisted.
func ETAMinutes(distanceKm, speedKmh float64) int {
	if speedKmh <= 0 {
		return 0
	}
	return int(math.Round(distanceKm / speedKmh * 60))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
