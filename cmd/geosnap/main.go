// geosnap takes one geo snapshot and prints it as JSON: position, address,
// weather, magnetic field and the local map tile path. Intended for captures
// scripted around the camera as well as quick hardware checks.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/sddion/geoshot"
	"github.com/sddion/geoshot/geodata"
	"github.com/sddion/geoshot/internal/config"
	"github.com/sddion/geoshot/internal/sources"
)

// fixedLocation serves a coordinate given on the command line instead of a
// live GPS fix.
type fixedLocation struct {
	lat, lon float64
}

func (f fixedLocation) CurrentFix(ctx context.Context) (geodata.Fix, error) {
	return geodata.Fix{Latitude: f.lat, Longitude: f.lon, Time: time.Now()}, nil
}

type output struct {
	*geodata.GeoData
	MapTile string `json:"mapTile"`
}

// fixedRequested reports whether -lat or -lon was given on the command
// line. Set-ness matters, not value: (0, 0) is a valid coordinate.
func fixedRequested(fs *flag.FlagSet) bool {
	requested := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "lat" || f.Name == "lon" {
			requested = true
		}
	})
	return requested
}

func main() {
	settingsPath := flag.String("settings", "", "settings file path (default: per-user settings)")
	sensorsPath := flag.String("sensors", "config/sensors.yaml", "path to sensors.yaml")
	lat := flag.Float64("lat", 0, "skip GPS hardware and use this latitude")
	lon := flag.Float64("lon", 0, "skip GPS hardware and use this longitude")
	timeout := flag.Duration("timeout", 30*time.Second, "overall snapshot deadline")
	noTile := flag.Bool("no-tile", false, "skip the map tile fetch")
	flag.Parse()

	log.SetFlags(0)

	var settings *config.Settings
	var err error
	if *settingsPath != "" {
		settings, err = config.LoadSettingsFrom(*settingsPath)
	} else {
		settings, err = config.LoadSettings()
	}
	if err != nil {
		log.Fatalf("load settings: %v", err)
	}

	var location geodata.LocationProvider
	var magnetometer geodata.Magnetometer

	if fixedRequested(flag.CommandLine) {
		location = fixedLocation{lat: *lat, lon: *lon}
	} else {
		sensorsCfg, err := config.LoadSensorsConfig(*sensorsPath)
		if err != nil {
			log.Fatalf("load sensors config: %v", err)
		}
		src, err := sources.OpenLocation(sensorsCfg)
		if err != nil {
			log.Fatalf("open gps source: %v", err)
		}
		defer src.Close()
		location = src

		magnetometer, err = sources.OpenMagnetometer(sensorsCfg)
		if err != nil {
			log.Fatalf("open magnetometer: %v", err)
		}
		if magnetometer != nil {
			defer magnetometer.Close()
		}
	}

	engine, err := geoshot.New(geoshot.Options{
		CacheDir:       settings.CacheDir,
		CacheMaxSizeMB: settings.CacheMaxSizeMB,
		TileURL:        settings.TileURL,
		TileZoom:       settings.TileZoom,
		GeocodeURL:     settings.GeocodeURL,
		WeatherURL:     settings.WeatherURL,
		UserAgent:      settings.UserAgent,
		MagTimeout:     time.Duration(settings.MagTimeoutMs) * time.Millisecond,
		Permissions:    geodata.StaticPermission(true),
		Location:       location,
		Magnetometer:   magnetometer,
	})
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	data, err := engine.AssembleSnapshot(ctx)
	if err != nil {
		log.Fatalf("snapshot: %v", err)
	}

	out := output{GeoData: data}
	if !*noTile {
		out.MapTile = engine.GetTile(ctx, data.Latitude, data.Longitude, settings.TileZoom)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
