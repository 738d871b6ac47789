// Package live maintains a continuously refreshed geo snapshot for the
// camera overlay. It subscribes to position and magnetometer streams and
// throttles expensive network refreshes behind a freshness gate: cheap local
// fields update on every tick, while address, weather and the map tile are
// re-fetched at most once per refresh interval.
package live

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sddion/geoshot/geodata"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateLive
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateLive:
		return "live"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Defaults for the session timers.
const (
	DefaultRefreshInterval = 15 * time.Second
	DefaultPermissionPoll  = 2 * time.Second
)

// SnapshotSource produces full geo snapshots. Satisfied by
// snapshot.Assembler.
type SnapshotSource interface {
	Assemble(ctx context.Context) (*geodata.GeoData, error)
}

// TileSource resolves a coordinate to a map tile URI. Satisfied by
// tiles.Cache.
type TileSource interface {
	GetTile(ctx context.Context, lat, lon float64, zoom int) string
}

// Config wires a Session. Assembler, Tiles, Permissions and OpenLocation are
// required; OpenMagnetometer is optional.
type Config struct {
	Assembler   SnapshotSource
	Tiles       TileSource
	Permissions geodata.PermissionChecker

	// OpenLocation subscribes to continuous position updates. Called on
	// every idle-to-starting transition; the stream is closed when the
	// session stops.
	OpenLocation func() (geodata.LocationStream, error)

	// OpenMagnetometer subscribes to magnetometer samples. May be nil.
	OpenMagnetometer func() (geodata.Magnetometer, error)

	// Zoom is the tile zoom level for the overlay thumbnail.
	Zoom int

	// RefreshInterval is the freshness gate for full refreshes. <= 0
	// selects DefaultRefreshInterval.
	RefreshInterval time.Duration

	// PermissionPoll is how often permission is re-checked while the
	// session wants to run but permission is missing. <= 0 selects
	// DefaultPermissionPoll.
	PermissionPoll time.Duration

	// OnUpdate, if set, is invoked after every snapshot change with the
	// new snapshot and tile URI. Called from session goroutines; must not
	// block.
	OnUpdate func(data *geodata.GeoData, tileURI string)

	now func() time.Time
}

// Session is the live overlay stream. All exported methods are safe for
// concurrent use.
type Session struct {
	cfg             Config
	refreshInterval time.Duration
	permissionPoll  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	enabled    bool
	generation uint64
	data       *geodata.GeoData
	tileURI    string
	loading    bool
	lastFull   time.Time
	refreshing bool
	runStop    chan struct{}
	closed     bool
}

// NewSession creates an idle session. Call SetEnabled(true) to start it.
func NewSession(cfg Config) *Session {
	refresh := cfg.RefreshInterval
	if refresh <= 0 {
		refresh = DefaultRefreshInterval
	}
	poll := cfg.PermissionPoll
	if poll <= 0 {
		poll = DefaultPermissionPoll
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:             cfg,
		refreshInterval: refresh,
		permissionPoll:  poll,
		ctx:             ctx,
		cancel:          cancel,
		state:           StateIdle,
	}
	go s.permissionLoop()
	return s
}

func (s *Session) clock() time.Time {
	if s.cfg.now != nil {
		return s.cfg.now()
	}
	return time.Now()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the latest snapshot, the tile URI for it, and whether the
// first full refresh is still in flight. The snapshot is a copy.
func (s *Session) Current() (*geodata.GeoData, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Clone(), s.tileURI, s.loading
}

// SetEnabled starts or stops the stream. Enabling without location
// permission leaves the session idle; the permission poller promotes it once
// permission appears. Disabling keeps the last snapshot so the overlay never
// regresses to empty.
func (s *Session) SetEnabled(enabled bool) {
	s.mu.Lock()
	if s.closed || s.enabled == enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = enabled

	if !enabled {
		s.stopRunLocked(StateStopped)
		s.mu.Unlock()
		return
	}
	if s.cfg.Permissions != nil && s.cfg.Permissions.LocationGranted() {
		s.startRunLocked()
	}
	s.mu.Unlock()
}

// Close stops the stream and all timers. The session cannot be reused.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.enabled = false
	s.stopRunLocked(StateStopped)
	s.mu.Unlock()
	s.cancel()
	return nil
}

// stopRunLocked tears down the active run, if any, and bumps the generation
// so in-flight refresh results are discarded.
func (s *Session) stopRunLocked(next State) {
	s.generation++
	if s.runStop != nil {
		close(s.runStop)
		s.runStop = nil
	}
	s.refreshing = false
	s.state = next
}

func (s *Session) startRunLocked() {
	s.generation++
	gen := s.generation
	stop := make(chan struct{})
	s.runStop = stop
	s.refreshing = false
	s.state = StateStarting
	s.loading = true
	go s.run(gen, stop)
}

// permissionLoop promotes an enabled-but-idle session once permission is
// granted.
func (s *Session) permissionLoop() {
	ticker := time.NewTicker(s.permissionPoll)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
		s.mu.Lock()
		waiting := s.enabled && s.runStop == nil && !s.closed
		if waiting && s.cfg.Permissions != nil && s.cfg.Permissions.LocationGranted() {
			log.Printf("[LiveStream] location permission granted, starting")
			s.startRunLocked()
		}
		s.mu.Unlock()
	}
}

// run is one enable-to-disable lifetime of the stream.
func (s *Session) run(gen uint64, stop chan struct{}) {
	// First full refresh. The stream goes live whether or not it
	// succeeded; a failed first attempt just means the overlay starts
	// empty and fills in on the next gated refresh.
	s.fullRefresh(gen)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.state = StateLive
	s.loading = false
	s.mu.Unlock()

	stream, err := s.cfg.OpenLocation()
	if err != nil {
		log.Printf("[LiveStream] position stream unavailable: %v", err)
		// Leave the live state rather than reporting live with no
		// subscriptions. The permission poller sees runStop cleared and
		// retries while the session stays enabled.
		s.mu.Lock()
		if s.generation == gen {
			s.stopRunLocked(StateStopped)
		}
		s.mu.Unlock()
		return
	}
	defer stream.Close()

	var magCh <-chan geodata.MagneticSample
	if s.cfg.OpenMagnetometer != nil {
		if mag, err := s.cfg.OpenMagnetometer(); err != nil {
			log.Printf("[LiveStream] magnetometer unavailable: %v", err)
		} else if mag != nil && mag.Available() {
			defer mag.Close()
			magCh = mag.Samples()
		} else if mag != nil {
			mag.Close()
		}
	}

	for {
		select {
		case <-stop:
			return
		case <-s.ctx.Done():
			return
		case fix, ok := <-stream.Fixes():
			if !ok {
				return
			}
			s.handleFix(gen, fix)
		case sample, ok := <-magCh:
			if !ok {
				magCh = nil
				continue
			}
			s.mergeMagnetic(gen, sample)
		}
	}
}

// handleFix applies the freshness gate: stale snapshots trigger a full
// refresh, fresh ones get a cheap positional merge. A tick that lands while
// a refresh is already in flight degrades to a partial merge instead of
// stacking a second network fan-out.
func (s *Session) handleFix(gen uint64, fix geodata.Fix) {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	stale := s.clock().Sub(s.lastFull) > s.refreshInterval
	if stale && !s.refreshing {
		s.refreshing = true
		s.mu.Unlock()
		go func() {
			s.fullRefresh(gen)
			s.mu.Lock()
			if s.generation == gen {
				s.refreshing = false
			}
			s.mu.Unlock()
		}()
		return
	}
	s.mergePositionLocked(fix)
	data, uri := s.data.Clone(), s.tileURI
	s.mu.Unlock()
	if data != nil {
		s.notify(data, uri)
	}
}

// mergePositionLocked overwrites only the cheap positional fields, leaving
// the last full refresh's address, weather, plus code and tile untouched.
func (s *Session) mergePositionLocked(fix geodata.Fix) {
	if s.data == nil {
		return
	}
	next := s.data.Clone()
	next.Latitude = fix.Latitude
	next.Longitude = fix.Longitude
	next.Altitude = fix.Altitude
	next.Speed = fix.Speed
	next.DateTime = s.clock()
	s.data = next
}

// mergeMagnetic overwrites only the magnetic field. It bypasses the
// freshness gate; the field is local and cheap.
func (s *Session) mergeMagnetic(gen uint64, sample geodata.MagneticSample) {
	s.mu.Lock()
	if s.generation != gen || s.data == nil {
		s.mu.Unlock()
		return
	}
	next := s.data.Clone()
	next.MagneticField = geodata.Float64(sample.Magnitude())
	s.data = next
	data, uri := next.Clone(), s.tileURI
	s.mu.Unlock()
	s.notify(data, uri)
}

// fullRefresh runs the assembler and tile fetch, then installs the result if
// the session has not moved on. A failed snapshot keeps the previous data in
// place.
func (s *Session) fullRefresh(gen uint64) {
	data, err := s.cfg.Assembler.Assemble(s.ctx)
	if err != nil {
		log.Printf("[LiveStream] refresh failed: %v", err)
		s.mu.Lock()
		if s.generation == gen {
			s.lastFull = s.clock()
		}
		s.mu.Unlock()
		return
	}
	uri := s.cfg.Tiles.GetTile(s.ctx, data.Latitude, data.Longitude, s.cfg.Zoom)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	// Keep a magnetometer reading that arrived while the refresh was in
	// flight if the new snapshot has none.
	if data.MagneticField == nil && s.data != nil {
		data.MagneticField = s.data.MagneticField
	}
	s.data = data
	s.tileURI = uri
	s.lastFull = s.clock()
	out, outURI := data.Clone(), uri
	s.mu.Unlock()
	s.notify(out, outURI)
}

func (s *Session) notify(data *geodata.GeoData, tileURI string) {
	if s.cfg.OnUpdate != nil {
		s.cfg.OnUpdate(data, tileURI)
	}
}
