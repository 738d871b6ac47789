package geodata

import (
	"testing"
	"time"
)

func TestPlusCode(t *testing.T) {
	tests := []struct {
		lat, lon float64
		want     string
	}{
		{48.8566, 2.3522, "48.8566N 2.3522E"},
		{-33.8688, 151.2093, "33.8688S 151.2093E"},
		{51.5072, -0.1275, "51.5072N 0.1275W"},
		{-22.9068, -43.1729, "22.9068S 43.1729W"},
		{0, 0, "0.0000N 0.0000E"},
	}
	for _, tt := range tests {
		if got := PlusCode(tt.lat, tt.lon); got != tt.want {
			t.Errorf("PlusCode(%v, %v) = %q, want %q", tt.lat, tt.lon, got, tt.want)
		}
	}
}

func TestFallbackAddress(t *testing.T) {
	got := FallbackAddress(48.856614, 2.352222)
	want := "48.856614, 2.352222"
	if got != want {
		t.Errorf("FallbackAddress = %q, want %q", got, want)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	orig := &GeoData{
		Latitude:         1,
		Longitude:        2,
		Address:          "somewhere",
		WeatherCondition: "Clear",
		DateTime:         time.Now(),
	}
	c := orig.Clone()
	c.Latitude = 9
	c.Address = "elsewhere"

	if orig.Latitude != 1 || orig.Address != "somewhere" {
		t.Errorf("mutating clone changed original: %+v", orig)
	}

	var nilData *GeoData
	if nilData.Clone() != nil {
		t.Error("Clone of nil should be nil")
	}
}

func TestMagnitude(t *testing.T) {
	s := MagneticSample{X: 3, Y: 4, Z: 12}
	if got := s.Magnitude(); got != 13 {
		t.Errorf("Magnitude = %v, want 13", got)
	}
}
