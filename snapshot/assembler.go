// Package snapshot assembles complete geo snapshots from location, reverse
// geocoding, weather and magnetometer sources.
package snapshot

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sddion/geoshot/geocode"
	"github.com/sddion/geoshot/geodata"
	"github.com/sddion/geoshot/sensors"
	"github.com/sddion/geoshot/weather"
)

// ReverseGeocoder resolves coordinates to a human-readable place.
type ReverseGeocoder interface {
	Reverse(ctx context.Context, lat, lon float64) geocode.Result
}

// WeatherSource reports current conditions at a coordinate.
type WeatherSource interface {
	Current(ctx context.Context, lat, lon float64) weather.Reading
}

// Assembler builds GeoData snapshots. Permission and location are hard
// requirements; everything else degrades to fallback values on failure.
type Assembler struct {
	Permissions  geodata.PermissionChecker
	Location     geodata.LocationProvider
	Geocoder     ReverseGeocoder
	Weather      WeatherSource
	Magnetometer geodata.Magnetometer

	// MagTimeout bounds the magnetometer read. <= 0 selects the sensors
	// package default of one second.
	MagTimeout time.Duration

	now func() time.Time
}

func (a *Assembler) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now()
}

// Assemble produces a complete snapshot for the current position. It fails
// only when location permission is missing or no fix can be obtained; the
// enrichment fields never fail the snapshot. The geocode, weather and
// magnetometer lookups run concurrently and the result is stamped after all
// of them have settled.
func (a *Assembler) Assemble(ctx context.Context) (*geodata.GeoData, error) {
	if a.Permissions == nil || !a.Permissions.LocationGranted() {
		return nil, fmt.Errorf("location permission not granted")
	}

	fix, err := a.Location.CurrentFix(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire location fix: %w", err)
	}

	data := &geodata.GeoData{
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
		Altitude:  fix.Altitude,
		Speed:     fix.Speed,
		PlusCode:  geodata.PlusCode(fix.Latitude, fix.Longitude),
	}

	var wg sync.WaitGroup
	var place geocode.Result
	var reading weather.Reading
	var magnitude *float64

	wg.Add(2)
	go func() {
		defer wg.Done()
		if a.Geocoder != nil {
			place = a.Geocoder.Reverse(ctx, fix.Latitude, fix.Longitude)
		} else {
			place = geocode.Fallback(fix.Latitude, fix.Longitude)
		}
	}()
	go func() {
		defer wg.Done()
		if a.Weather != nil {
			reading = a.Weather.Current(ctx, fix.Latitude, fix.Longitude)
		} else {
			reading = weather.Unknown()
		}
	}()

	if a.Magnetometer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, ok := sensors.ReadMagnitude(ctx, a.Magnetometer, a.MagTimeout); ok {
				magnitude = geodata.Float64(v)
			}
		}()
	}

	wg.Wait()

	data.Address = place.Address
	data.PlaceName = place.PlaceName
	data.Temperature = reading.Temperature
	data.WeatherCondition = reading.Condition
	data.MagneticField = magnitude
	data.DateTime = a.clock()

	log.Printf("[Snapshot] assembled %.6f,%.6f place=%q condition=%q",
		data.Latitude, data.Longitude, data.PlaceName, data.WeatherCondition)
	return data, nil
}
