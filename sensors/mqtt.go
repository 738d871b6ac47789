package sensors

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/sddion/geoshot/geodata"
)

// MQTTConfig configures the MQTT-backed sensor sources.
type MQTTConfig struct {
	// Broker is the broker URL, e.g. "tcp://localhost:1883".
	Broker string
	// ClientID identifies this subscriber to the broker.
	ClientID string
	// FixTopic carries GPS fix JSON messages.
	FixTopic string
	// MagTopic carries magnetometer JSON messages.
	MagTopic string
	// ConnectTimeout defaults to 5s.
	ConnectTimeout time.Duration
}

// fixPayload is the wire format published by GPS producers: decimal degrees
// plus ground speed in knots.
type fixPayload struct {
	Time       string   `json:"time"`
	Date       string   `json:"date"`
	Latitude   float64  `json:"lat"`
	Longitude  float64  `json:"lon"`
	Altitude   *float64 `json:"alt,omitempty"`
	SpeedKnots float64  `json:"speed_knots"`
	Validity   string   `json:"validity"`
}

// magPayload is the wire format for magnetometer samples. Axis values are
// µT×10 as int16, norm is the magnitude in µT.
type magPayload struct {
	Mx   int16   `json:"mx"`
	My   int16   `json:"my"`
	Mz   int16   `json:"mz"`
	Norm float64 `json:"norm"`
	Time string  `json:"time"`
}

// MQTTSource consumes GPS fixes published over MQTT and exposes them as both
// a one-shot position read and a continuous stream.
type MQTTSource struct {
	client mqtt.Client
	out    chan geodata.Fix
	stop   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	latest   geodata.Fix
	hasFix   bool
	firstFix chan struct{}
}

// OpenMQTTSource connects to the broker and subscribes to the fix topic.
func OpenMQTTSource(cfg MQTTConfig) (*MQTTSource, error) {
	client, err := connectMQTT(cfg, "-gps")
	if err != nil {
		return nil, err
	}

	s := &MQTTSource{
		client:   client,
		out:      make(chan geodata.Fix, 8),
		stop:     make(chan struct{}),
		firstFix: make(chan struct{}),
	}
	token := client.Subscribe(cfg.FixTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		s.handleMessage(msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("subscribe %q: %w", cfg.FixTopic, token.Error())
	}
	log.Printf("[GPS] subscribed to %s on %s", cfg.FixTopic, cfg.Broker)
	return s, nil
}

// CurrentFix returns the most recent fix, waiting for the first one if none
// has been received yet.
func (s *MQTTSource) CurrentFix(ctx context.Context) (geodata.Fix, error) {
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
func (s *MQTTSource) Fixes() <-chan geodata.Fix { return s.out }

// Close unsubscribes and disconnects from the broker. The fix channel stays
// open but delivers nothing further; a broker callback may still be in
// flight when Disconnect returns.
func (s *MQTTSource) Close() error {
	s.once.Do(func() {
		close(s.stop)
		s.client.Disconnect(250)
	})
	return nil
}

func (s *MQTTSource) handleMessage(payload []byte) {
	select {
	case <-s.stop:
		return
	default:
	}
	var p fixPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Printf("[GPS] mqtt payload unmarshal error: %v", err)
		return
	}
	if p.Validity != "" && p.Validity != "A" {
		return
	}
	fix := geodata.Fix{
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		Altitude:  p.Altitude,
		Speed:     geodata.Float64(p.SpeedKnots * knotsToMetersPerSecond),
		Time:      parsePayloadTime(p.Date, p.Time),
	}

	s.mu.Lock()
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
}

func parsePayloadTime(date, clock string) time.Time {
	if date != "" && clock != "" {
		if t, err := time.Parse("2006-01-02 15:04:05", date+" "+clock); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

// MQTTMagnetometer consumes magnetometer samples published over MQTT.
type MQTTMagnetometer struct {
	client mqtt.Client
	out    chan geodata.MagneticSample
	stop   chan struct{}
	once   sync.Once
}

// OpenMQTTMagnetometer connects to the broker and subscribes to the
// magnetometer topic.
func OpenMQTTMagnetometer(cfg MQTTConfig) (*MQTTMagnetometer, error) {
	client, err := connectMQTT(cfg, "-mag")
	if err != nil {
		return nil, err
	}

	m := &MQTTMagnetometer{
		client: client,
		out:    make(chan geodata.MagneticSample, 4),
		stop:   make(chan struct{}),
	}
	token := client.Subscribe(cfg.MagTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		m.handleMessage(msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("subscribe %q: %w", cfg.MagTopic, token.Error())
	}
	log.Printf("[Magnetometer] subscribed to %s on %s", cfg.MagTopic, cfg.Broker)
	return m, nil
}

// Available always reports true for a connected subscriber.
func (m *MQTTMagnetometer) Available() bool { return true }

// Samples returns the sample channel. Closed on Close.
func (m *MQTTMagnetometer) Samples() <-chan geodata.MagneticSample { return m.out }

// Close unsubscribes and disconnects from the broker. The sample channel
// stays open but delivers nothing further.
func (m *MQTTMagnetometer) Close() error {
	m.once.Do(func() {
		close(m.stop)
		m.client.Disconnect(250)
	})
	return nil
}

func (m *MQTTMagnetometer) handleMessage(payload []byte) {
	select {
	case <-m.stop:
		return
	default:
	}
	var p magPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		log.Printf("[Magnetometer] mqtt payload unmarshal error: %v", err)
		return
	}
	sample := geodata.MagneticSample{
		X:    float64(p.Mx) / 10.0,
		Y:    float64(p.My) / 10.0,
		Z:    float64(p.Mz) / 10.0,
		Time: time.Now(),
	}
	if t, err := time.Parse(time.RFC3339, p.Time); err == nil {
		sample.Time = t
	}
	select {
	case m.out <- sample:
	default:
	}
}

func connectMQTT(cfg MQTTConfig, suffix string) (mqtt.Client, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID + suffix).
		SetConnectTimeout(timeout)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker %q: %w", cfg.Broker, token.Error())
	}
	return client, nil
}
