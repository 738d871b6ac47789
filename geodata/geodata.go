// Package geodata defines the canonical geo snapshot model shared by the
// capture and live-overlay flows, plus the collaborator interfaces the
// assembler depends on (location, magnetometer, permissions).
package geodata

import (
	"fmt"
	"math"
	"time"
)

// Placeholder values used when an external source is unavailable.
const (
	UnknownPlace     = "Unknown Location"
	UnknownCondition = "Unknown"
)

// GeoData is one complete (or partially degraded) snapshot of everything the
// overlay renders for a coordinate. Latitude and longitude are always set;
// every other field degrades independently. A GeoData value is never mutated
// in place once published - merges replace the whole snapshot.
type GeoData struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Altitude  *float64 `json:"altitude"` // meters, nil if unavailable
	Speed     *float64 `json:"speed"`    // m/s, nil if unavailable

	Address   string `json:"address"`
	PlaceName string `json:"placeName"`
	PlusCode  string `json:"plusCode"`

	DateTime time.Time `json:"dateTime"`

	Temperature      *float64 `json:"temperature"` // Celsius, nil if unavailable
	WeatherCondition string   `json:"weatherCondition"`

	MagneticField *float64 `json:"magneticField"` // microtesla, nil if unavailable
}

// Clone returns a copy suitable for field-level merging.
func (g *GeoData) Clone() *GeoData {
	if g == nil {
		return nil
	}
	c := *g
	return &c
}

// PlusCode formats the compact offline coordinate code: absolute coordinates
// to 4 decimals with hemisphere suffixes, e.g. "48.8566N 2.3522E".
func PlusCode(lat, lon float64) string {
	ns := "N"
	if lat < 0 {
		ns = "S"
	}
	ew := "E"
	if lon < 0 {
		ew = "W"
	}
	return fmt.Sprintf("%.4f%s %.4f%s", math.Abs(lat), ns, math.Abs(lon), ew)
}

// FallbackAddress is the deterministic offline address used when reverse
// geocoding fails: both coordinates to 6 decimals.
func FallbackAddress(lat, lon float64) string {
	return fmt.Sprintf("%.6f, %.6f", lat, lon)
}

// Fix is a single device position fix.
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  *float64  `json:"altitude"` // meters, nil if the source has no altitude
	Speed     *float64  `json:"speed"`    // m/s, nil if the source has no speed
	Time      time.Time `json:"time"`
}

// MagneticSample is one raw magnetometer reading in microtesla per axis.
type MagneticSample struct {
	X, Y, Z float64
	Time    time.Time
}

// Magnitude returns the Euclidean field strength in microtesla.
func (s MagneticSample) Magnitude() float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}

// Float64 returns a pointer to v. Convenience for the nullable fields above.
func Float64(v float64) *float64 { return &v }
