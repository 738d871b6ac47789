package sensors

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/jacobsa/go-serial/serial"

	"github.com/sddion/geoshot/geodata"
)

// knotsToMetersPerSecond converts NMEA ground speed to m/s.
const knotsToMetersPerSecond = 0.514444

// NMEAConfig configures an NMEASource.
type NMEAConfig struct {
	// Port is the serial device, e.g. "/dev/ttyACM0".
	Port string
	// BaudRate defaults to 9600.
	BaudRate uint
	// Buffer is the fix channel depth. <= 0 selects 8.
	Buffer int
}

// NMEASource reads RMC and GGA sentences from a serial GPS receiver. It
// serves both one-shot position reads and a continuous fix stream: CurrentFix
// returns the latest parsed fix, blocking until a first fix arrives, and
// Fixes delivers every fix as it is assembled. Fixes are dropped when the
// stream consumer falls behind.
type NMEASource struct {
	out  chan geodata.Fix
	stop chan struct{}
	once sync.Once

	mu       sync.Mutex
	latest   geodata.Fix
	hasFix   bool
	firstFix chan struct{}

	// altitude is carried from GGA into subsequent RMC fixes.
	altitude *float64

	port io.ReadCloser
}

// OpenNMEASource opens the serial port and starts the reader goroutine.
func OpenNMEASource(cfg NMEAConfig) (*NMEASource, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = 9600
	}
	port, err := serial.Open(serial.OpenOptions{
		PortName:        cfg.Port,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %q: %w", cfg.Port, err)
	}

	s := newNMEASource(cfg.Buffer)
	s.port = port
	go s.readLoop(port)
	log.Printf("[GPS] reading NMEA from %s at %d baud", cfg.Port, baud)
	return s, nil
}

func newNMEASource(buffer int) *NMEASource {
	if buffer <= 0 {
		buffer = 8
	}
	return &NMEASource{
		out:      make(chan geodata.Fix, buffer),
		stop:     make(chan struct{}),
		firstFix: make(chan struct{}),
	}
}

// CurrentFix returns the most recent fix, waiting for the first one if the
// receiver has not locked on yet.
func (s *NMEASource) CurrentFix(ctx context.Context) (geodata.Fix, error) {
	s.mu.Lock()
	if s.hasFix {
		fix := s.latest
		s.mu.Unlock()
		return fix, nil
	}
	first := s.firstFix
	s.mu.Unlock()

	select {
	case <-first:
	case <-s.stop:
		return geodata.Fix{}, fmt.Errorf("gps source closed")
	case <-ctx.Done():
		return geodata.Fix{}, fmt.Errorf("waiting for gps fix: %w", ctx.Err())
	}

	s.mu.Lock()
	fix := s.latest
	s.mu.Unlock()
	return fix, nil
}

// Fixes returns the fix stream. Closed on Close.
func (s *NMEASource) Fixes() <-chan geodata.Fix { return s.out }

// Close stops the reader and closes the port.
func (s *NMEASource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		if s.port != nil {
			err = s.port.Close()
		}
	})
	return err
}

func (s *NMEASource) readLoop(r io.Reader) {
	defer close(s.out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case <-s.stop:
			return
		default:
		}
		s.handleSentence(strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		select {
		case <-s.stop:
		default:
			log.Printf("[GPS] serial read error: %v", err)
		}
	}
}

// handleSentence parses a single NMEA line and updates state. RMC carries
// position, speed and time; GGA carries altitude, which is folded into the
// next RMC fix.
func (s *NMEASource) handleSentence(line string) {
	if line == "" || !strings.HasPrefix(line, "$") {
		return
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		return
	}

	switch v := sentence.(type) {
	case nmea.RMC:
		if v.Validity != nmea.ValidRMC {
			return
		}
		speed := v.Speed * knotsToMetersPerSecond
		fix := geodata.Fix{
			Latitude:  v.Latitude,
			Longitude: v.Longitude,
			Speed:     geodata.Float64(speed),
			Time:      mergeNMEATime(v.Date, v.Time),
		}
		s.mu.Lock()
		fix.Altitude = s.altitude
		s.latest = fix
		wasFirst := !s.hasFix
		s.hasFix = true
		s.mu.Unlock()
		if wasFirst {
			close(s.firstFix)
		}
		select {
		case s.out <- fix:
		default: // consumer behind, drop
		}
	case nmea.GGA:
		if v.FixQuality == nmea.Invalid {
			return
		}
		s.mu.Lock()
		s.altitude = geodata.Float64(v.Altitude)
		s.mu.Unlock()
	}
}

func mergeNMEATime(d nmea.Date, t nmea.Time) time.Time {
	if !d.Valid || !t.Valid {
		return time.Now().UTC()
	}
	// Two-digit year pivot: 80-99 are 19xx, everything else 20xx.
	year := 2000 + d.YY
	if d.YY >= 80 {
		year = 1900 + d.YY
	}
	return time.Date(year, time.Month(d.MM), d.DD,
		t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}
