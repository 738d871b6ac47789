// Package geoshot is the geo-data acquisition and map-tile caching pipeline
// behind a GPS camera overlay. It gathers location, reverse geocoding,
// weather and magnetometer readings from independent unreliable sources,
// merges them into coherent snapshots with partial-failure tolerance, and
// maintains a disk-backed cache of map tiles. It serves both one-shot
// capture lookups and a throttled continuous live stream.
package geoshot

import (
	"context"
	"fmt"
	"time"

	"github.com/sddion/geoshot/geocode"
	"github.com/sddion/geoshot/geodata"
	"github.com/sddion/geoshot/internal/config"
	"github.com/sddion/geoshot/internal/ratelimit"
	"github.com/sddion/geoshot/live"
	"github.com/sddion/geoshot/snapshot"
	"github.com/sddion/geoshot/tiles"
	"github.com/sddion/geoshot/weather"
)

// Options wires an Engine. Permissions and Location are required for
// snapshots; OpenLocation is additionally required for live streams.
type Options struct {
	// CacheDir holds downloaded map tiles.
	CacheDir string
	// CacheMaxSizeMB bounds the tile cache. <= 0 selects 250 MB.
	CacheMaxSizeMB int
	// TileURL is the slippy tile source base URL.
	TileURL string
	// TileZoom is the zoom level for overlay thumbnails. 0 selects
	// tiles.DefaultZoom.
	TileZoom int
	// GeocodeURL is the Nominatim-compatible reverse geocoding base URL.
	GeocodeURL string
	// WeatherURL is the Open-Meteo compatible forecast base URL.
	WeatherURL string
	// UserAgent identifies this client to all three providers.
	UserAgent string

	// RefreshInterval gates full refreshes on the live stream. <= 0
	// selects 15s.
	RefreshInterval time.Duration
	// PermissionPoll is the live stream permission re-check cadence.
	// <= 0 selects 2s.
	PermissionPoll time.Duration
	// MagTimeout bounds one-shot magnetometer reads. <= 0 selects 1s.
	MagTimeout time.Duration

	Permissions  geodata.PermissionChecker
	Location     geodata.LocationProvider
	Magnetometer geodata.Magnetometer

	// OpenLocation subscribes to continuous position updates for live
	// streams. Optional when only one-shot snapshots are used.
	OpenLocation func() (geodata.LocationStream, error)
	// OpenMagnetometer subscribes to magnetometer samples for live
	// streams. Optional.
	OpenMagnetometer func() (geodata.Magnetometer, error)

	// OnRateLimited, if set, is notified when an upstream provider starts
	// throttling us.
	OnRateLimited func(provider string, until time.Time)
	// OnRateRecovered, if set, is notified when the provider recovers.
	OnRateRecovered func(provider string)
}

// Engine is the facade over the snapshot assembler, the tile cache and the
// live stream constructor. Safe for concurrent use.
type Engine struct {
	opts      Options
	limits    *ratelimit.Handler
	tiles     *tiles.Cache
	geocoder  *geocode.Client
	weather   *weather.Client
	assembler *snapshot.Assembler
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Permissions == nil {
		return nil, fmt.Errorf("geoshot: Options.Permissions is required")
	}
	if opts.Location == nil {
		return nil, fmt.Errorf("geoshot: Options.Location is required")
	}

	defaults := config.DefaultSettings()
	if opts.CacheDir == "" {
		opts.CacheDir = defaults.CacheDir
	}
	if opts.TileURL == "" {
		opts.TileURL = defaults.TileURL
	}
	if opts.GeocodeURL == "" {
		opts.GeocodeURL = defaults.GeocodeURL
	}
	if opts.WeatherURL == "" {
		opts.WeatherURL = defaults.WeatherURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaults.UserAgent
	}

	limits := ratelimit.NewHandler(ratelimit.DefaultBackoff())
	if opts.OnRateLimited != nil {
		limits.OnLimited(opts.OnRateLimited)
	}
	if opts.OnRateRecovered != nil {
		limits.OnRecovered(opts.OnRateRecovered)
	}

	tileCache := tiles.NewCache(tiles.Config{
		BaseDir:   opts.CacheDir,
		TileURL:   opts.TileURL,
		UserAgent: opts.UserAgent,
		MaxSizeMB: opts.CacheMaxSizeMB,
		Limits:    limits,
	})
	geocoder := geocode.NewClient(geocode.Config{
		BaseURL:   opts.GeocodeURL,
		UserAgent: opts.UserAgent,
		Limits:    limits,
	})
	weatherClient := weather.NewClient(weather.Config{
		BaseURL:   opts.WeatherURL,
		UserAgent: opts.UserAgent,
		Limits:    limits,
	})

	return &Engine{
		opts:     opts,
		limits:   limits,
		tiles:    tileCache,
		geocoder: geocoder,
		weather:  weatherClient,
		assembler: &snapshot.Assembler{
			Permissions:  opts.Permissions,
			Location:     opts.Location,
			Geocoder:     geocoder,
			Weather:      weatherClient,
			Magnetometer: opts.Magnetometer,
			MagTimeout:   opts.MagTimeout,
		},
	}, nil
}

// AssembleSnapshot produces one complete snapshot for the current position.
// See snapshot.Assembler for the failure semantics.
func (e *Engine) AssembleSnapshot(ctx context.Context) (*geodata.GeoData, error) {
	return e.assembler.Assemble(ctx)
}

// GetTile returns a renderable URI for the map tile covering the coordinate:
// a local file path when cached or downloadable, the remote URL otherwise.
func (e *Engine) GetTile(ctx context.Context, lat, lon float64, zoom int) string {
	return e.tiles.GetTile(ctx, lat, lon, zoom)
}

// TileStats reports tile cache usage: entry count plus current and maximum
// size in bytes.
func (e *Engine) TileStats() (entries int, sizeBytes, maxBytes int64) {
	return e.tiles.Stats()
}

// ClearTiles empties the tile cache.
func (e *Engine) ClearTiles() error {
	return e.tiles.Clear()
}

// NewLiveStream creates a live overlay stream. The stream starts in the
// requested enabled state; onUpdate may be nil.
func (e *Engine) NewLiveStream(enabled bool, onUpdate func(data *geodata.GeoData, tileURI string)) *live.Session {
	zoom := e.opts.TileZoom
	if zoom == 0 {
		zoom = tiles.DefaultZoom
	}
	s := live.NewSession(live.Config{
		Assembler:        e.assembler,
		Tiles:            e.tiles,
		Permissions:      e.opts.Permissions,
		OpenLocation:     e.opts.OpenLocation,
		OpenMagnetometer: e.opts.OpenMagnetometer,
		Zoom:             zoom,
		RefreshInterval:  e.opts.RefreshInterval,
		PermissionPoll:   e.opts.PermissionPoll,
		OnUpdate:         onUpdate,
	})
	if enabled {
		s.SetEnabled(true)
	}
	return s
}

// Close releases background workers owned by the engine.
func (e *Engine) Close() error {
	return e.tiles.Close()
}
