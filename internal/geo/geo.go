package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean radius of the spherical Earth model.
const EarthRadiusMeters = 6371000

// jitterDegrees is the per-axis difference under which two samples count as the same spot.
const jitterDegrees = 0.0001

// ErrInvalidCoordinates is returned for out-of-range or non-finite coordinates.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// Distance returns the great-circle distance in meters between two points using the
// Haversine formula. Points closer than jitterDegrees on both axes are reported as 0.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	if math.Abs(lat1-lat2) < jitterDegrees && math.Abs(lon1-lon2) < jitterDegrees {
		return 0
	}

	φ1 := lat1 * math.Pi / 180
	φ2 := lat2 * math.Pi / 180
	Δφ := (lat2 - lat1) * math.Pi / 180
	Δλ := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(Δφ/2)*math.Sin(Δφ/2) + math.Cos(φ1)*math.Cos(φ2)*math.Sin(Δλ/2)*math.Sin(Δλ/2)
	// Rounding can push a just outside [0, 1] for near-antipodal points.
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Asin(math.Sqrt(a))

	return EarthRadiusMeters * c
}

// ValidateCoordinates range-checks a latitude/longitude pair.
func ValidateCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return fmt.Errorf("%w: not a number", ErrInvalidCoordinates)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinates, lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinates, lon)
	}
	return nil
}
