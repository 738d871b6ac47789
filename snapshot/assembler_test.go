package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sddion/geoshot/geocode"
	"github.com/sddion/geoshot/geodata"
	"github.com/sddion/geoshot/weather"
)

type fakeLocation struct {
	fix   geodata.Fix
	err   error
	calls int
}

func (f *fakeLocation) CurrentFix(ctx context.Context) (geodata.Fix, error) {
	f.calls++
	return f.fix, f.err
}

type fakeGeocoder struct {
	result geocode.Result
	calls  int
}

func (f *fakeGeocoder) Reverse(ctx context.Context, lat, lon float64) geocode.Result {
	f.calls++
	return f.result
}

type fakeWeather struct {
	reading weather.Reading
	calls   int
}

func (f *fakeWeather) Current(ctx context.Context, lat, lon float64) weather.Reading {
	f.calls++
	return f.reading
}

type fakeMagnetometer struct {
	samples chan geodata.MagneticSample
}

func (f *fakeMagnetometer) Available() bool { return true }
func (f *fakeMagnetometer) Samples() <-chan geodata.MagneticSample { return f.samples }
func (f *fakeMagnetometer) Close() error { return nil }

func TestAssembleFullSnapshot(t *testing.T) {
	mag := &fakeMagnetometer{samples: make(chan geodata.MagneticSample, 1)}
	mag.samples <- geodata.MagneticSample{X: 3, Y: 4, Z: 12, Time: time.Now()}

	stamp := time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)
	a := &Assembler{
		Permissions: geodata.StaticPermission(true),
		Location: &fakeLocation{fix: geodata.Fix{
			Latitude:  48.8566,
			Longitude: 2.3522,
			Altitude:  geodata.Float64(35),
			Speed:     geodata.Float64(1.2),
		}},
		Geocoder:     &fakeGeocoder{result: geocode.Result{Address: "1 Rue de Rivoli, Paris", PlaceName: "Paris"}},
		Weather:      &fakeWeather{reading: weather.Reading{Temperature: geodata.Float64(21.5), Condition: "Clear"}},
		Magnetometer: mag,
		now:          func() time.Time { return stamp },
	}

	data, err := a.Assemble(context.Background())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if data.Latitude != 48.8566 || data.Longitude != 2.3522 {
		t.Fatalf("coordinates = %v,%v", data.Latitude, data.Longitude)
	}
	if data.Address != "1 Rue de Rivoli, Paris" || data.PlaceName != "Paris" {
		t.Fatalf("place = %q / %q", data.Address, data.PlaceName)
	}
	if data.PlusCode != "48.8566N 2.3522E" {
		t.Fatalf("plus code = %q", data.PlusCode)
	}
	if data.Temperature == nil || *data.Temperature != 21.5 || data.WeatherCondition != "Clear" {
		t.Fatalf("weather = %v %q", data.Temperature, data.WeatherCondition)
	}
	if data.MagneticField == nil || *data.MagneticField != 13 {
		t.Fatalf("magnetic field = %v", data.MagneticField)
	}
	if !data.DateTime.Equal(stamp) {
		t.Fatalf("dateTime = %v, want %v", data.DateTime, stamp)
	}
}

func TestAssemblePermissionDenied(t *testing.T) {
	loc := &fakeLocation{}
	geo := &fakeGeocoder{}
	a := &Assembler{
		Permissions: geodata.StaticPermission(false),
		Location:    loc,
		Geocoder:    geo,
		Weather:     &fakeWeather{},
	}

	data, err := a.Assemble(context.Background())
	if err == nil {
		t.Fatal("expected error when permission is denied")
	}
	if data != nil {
		t.Fatal("expected nil snapshot")
	}
	if loc.calls != 0 || geo.calls != 0 {
		t.Fatal("denied permission must not trigger any lookups")
	}
}

func TestAssembleNoFix(t *testing.T) {
	a := &Assembler{
		Permissions: geodata.StaticPermission(true),
		Location:    &fakeLocation{err: errors.New("no satellites")},
		Geocoder:    &fakeGeocoder{},
		Weather:     &fakeWeather{},
	}

	if _, err := a.Assemble(context.Background()); err == nil {
		t.Fatal("expected error when no fix is available")
	}
}

func TestAssembleDegradedEnrichment(t *testing.T) {
	a := &Assembler{
		Permissions:  geodata.StaticPermission(true),
		Location:     &fakeLocation{fix: geodata.Fix{Latitude: -33.8688, Longitude: 151.2093}},
		Geocoder:     &fakeGeocoder{result: geocode.Fallback(-33.8688, 151.2093)},
		Weather:      &fakeWeather{reading: weather.Unknown()},
		MagTimeout:   50 * time.Millisecond,
		Magnetometer: &fakeMagnetometer{
			samples: make(chan geodata.MagneticSample), // never fires
		},
	}

	data, err := a.Assemble(context.Background())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if data.Address != "-33.868800, 151.209300" {
		t.Fatalf("fallback address = %q", data.Address)
	}
	if data.PlaceName != geodata.UnknownPlace {
		t.Fatalf("place name = %q", data.PlaceName)
	}
	if data.Temperature != nil || data.WeatherCondition != geodata.UnknownCondition {
		t.Fatalf("weather = %v %q", data.Temperature, data.WeatherCondition)
	}
	if data.MagneticField != nil {
		t.Fatalf("magnetic field = %v, want nil", data.MagneticField)
	}
}

func TestAssembleNilOptionalSources(t *testing.T) {
	a := &Assembler{
		Permissions: geodata.StaticPermission(true),
		Location:    &fakeLocation{fix: geodata.Fix{Latitude: 1, Longitude: 2}},
	}

	data, err := a.Assemble(context.Background())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if data.PlaceName != geodata.UnknownPlace || data.WeatherCondition != geodata.UnknownCondition {
		t.Fatalf("expected fallback enrichment, got %q / %q", data.PlaceName, data.WeatherCondition)
	}
	if data.MagneticField != nil {
		t.Fatal("expected nil magnetic field without a magnetometer")
	}
}
