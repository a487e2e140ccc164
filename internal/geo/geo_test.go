package geo

import (
	"errors"
	"math"
	"testing"
)

func TestDistanceJitterIsZero(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
	}{
		{"identical", 12.9716, 77.5946, 12.9716, 77.5946},
		{"tiny lat drift", 12.9716, 77.5946, 12.97165, 77.5946},
		{"tiny drift both axes", 12.9716, 77.5946, 12.97169, 77.59469},
		{"negative hemisphere", -33.8688, 151.2093, -33.86885, 151.20935},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if d := Distance(tc.lat1, tc.lon1, tc.lat2, tc.lon2); d != 0 {
				t.Fatalf("expected 0, got %v", d)
			}
		})
	}
}

func TestDistanceOneDegreeLongitudeAtEquator(t *testing.T) {
	d := Distance(0, 0, 0, 1)
	want := 111320.0
	if math.Abs(d-want) > want*0.01 {
		t.Fatalf("expected about %v meters, got %v", want, d)
	}
}

func TestDistanceSymmetric(t *testing.T) {
	pairs := [][4]float64{
		{0, 0, 0, 1},
		{51.5074, -0.1278, 48.8566, 2.3522},
		{12.9716, 77.5946, 12.9726, 77.5956},
		{-45, 170, 45, -170},
	}
	for _, p := range pairs {
		ab := Distance(p[0], p[1], p[2], p[3])
		ba := Distance(p[2], p[3], p[0], p[1])
		if math.Abs(ab-ba) > 1e-9 {
			t.Fatalf("distance not symmetric for %v: %v vs %v", p, ab, ba)
		}
	}
}

func TestDistanceJustPastJitter(t *testing.T) {
	// 0.0002 degrees of latitude is roughly 22 meters.
	d := Distance(10, 10, 10.0002, 10)
	if d < 20 || d > 25 {
		t.Fatalf("expected roughly 22 meters, got %v", d)
	}
}

func TestValidateCoordinates(t *testing.T) {
	tests := []struct {
		name    string
		lat     float64
		lon     float64
		wantErr bool
	}{
		{"origin", 0, 0, false},
		{"bounds", 90, -180, false},
		{"lat too high", 90.01, 0, true},
		{"lon too low", 0, -180.5, true},
		{"nan", math.NaN(), 0, true},
		{"inf", 0, math.Inf(1), true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateCoordinates(tc.lat, tc.lon)
			if tc.wantErr && !errors.Is(err, ErrInvalidCoordinates) {
				t.Fatalf("expected ErrInvalidCoordinates, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDistanceAntipodalIsFinite(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
	}{
		{"rounding case", 18.8389, 158.5833},
		{"equator", 0, 0},
		{"poles", 90, 0},
		{"southern", -41.2865, 174.7762},
	}
	maxDistance := math.Pi * EarthRadiusMeters
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			other := tc.lon - 180
			if other < -180 {
				other += 360
			}
			d := Distance(tc.lat, tc.lon, -tc.lat, other)
			if math.IsNaN(d) || math.IsInf(d, 0) {
				t.Fatalf("expected finite distance, got %v", d)
			}
			if d > maxDistance+1e-6 || d < maxDistance*0.99 {
				t.Fatalf("expected about half the circumference, got %v", d)
			}
		})
	}

	// Sweep near-antipodal pairs the way an attacker would.
	for lat := -89.5; lat <= 89.5; lat += 0.37 {
		for lon := -179.5; lon <= 179.5; lon += 1.13 {
			d := Distance(lat, lon, -lat, lon-180)
			if math.IsNaN(d) || d > maxDistance+1e-6 {
				t.Fatalf("(%v,%v): got %v", lat, lon, d)
			}
		}
	}
}
