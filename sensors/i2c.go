package sensors

import (
	"encoding/binary"
	"fmt"
	"log"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/sddion/geoshot/geodata"
)

// HMC5883L-class register map.
const (
	regConfigA = 0x00
	regConfigB = 0x01
	regMode    = 0x02
	regDataX   = 0x03

	// modeContinuous puts the sensor in continuous measurement mode.
	modeContinuous = 0x00

	// DefaultMagnetometerAddr is the fixed I2C address of HMC5883L parts.
	DefaultMagnetometerAddr = 0x1E
)

// lsbPerGauss at the default gain (±1.3 Ga range). 1 gauss = 100 µT.
const lsbPerGauss = 1090.0

// I2CMagnetometerConfig configures an I2CMagnetometer.
type I2CMagnetometerConfig struct {
	// Bus is the I2C bus name or number, e.g. "1". Empty selects the first
	// available bus.
	Bus string
	// Addr is the device address. 0 selects DefaultMagnetometerAddr.
	Addr uint16
	// SampleHz is the polling rate. <= 0 selects 1 Hz.
	SampleHz int
	// Buffer is the sample channel depth. <= 0 selects 4.
	Buffer int
}

// I2CMagnetometer reads an HMC5883L-class 3-axis magnetometer over I2C and
// publishes samples in microtesla on a channel. Samples are dropped, not
// queued, when the consumer falls behind.
type I2CMagnetometer struct {
	dev     *i2c.Dev
	bus     i2c.BusCloser
	out     chan geodata.MagneticSample
	stop    chan struct{}
	stopped sync.Once
}

var hostInitOnce sync.Once

// OpenI2CMagnetometer initializes the periph host, opens the bus, puts the
// device into continuous measurement mode, and starts the sampling loop.
func OpenI2CMagnetometer(cfg I2CMagnetometerConfig) (*I2CMagnetometer, error) {
	var initErr error
	hostInitOnce.Do(func() {
		_, initErr = host.Init()
	})
	if initErr != nil {
		return nil, fmt.Errorf("periph host init: %w", initErr)
	}

	bus, err := i2creg.Open(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", cfg.Bus, err)
	}

	addr := cfg.Addr
	if addr == 0 {
		addr = DefaultMagnetometerAddr
	}
	dev := &i2c.Dev{Bus: bus, Addr: addr}

	// 8-sample averaging, 15 Hz output, normal measurement; default gain;
	// continuous mode.
	if err := dev.Tx([]byte{regConfigA, 0x70}, nil); err != nil {
		bus.Close()
		return nil, fmt.Errorf("configure magnetometer: %w", err)
	}
	if err := dev.Tx([]byte{regConfigB, 0x20}, nil); err != nil {
		bus.Close()
		return nil, fmt.Errorf("configure magnetometer gain: %w", err)
	}
	if err := dev.Tx([]byte{regMode, modeContinuous}, nil); err != nil {
		bus.Close()
		return nil, fmt.Errorf("set magnetometer mode: %w", err)
	}

	hz := cfg.SampleHz
	if hz <= 0 {
		hz = 1
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 4
	}

	m := &I2CMagnetometer{
		dev:  dev,
		bus:  bus,
		out:  make(chan geodata.MagneticSample, buffer),
		stop: make(chan struct{}),
	}
	go m.run(time.Second / time.Duration(hz))
	log.Printf("[Magnetometer] i2c device 0x%X on bus %q sampling at %d Hz", addr, cfg.Bus, hz)
	return m, nil
}

// Available always reports true for an opened device.
func (m *I2CMagnetometer) Available() bool { return true }

// Samples returns the sample channel. Closed on Close.
func (m *I2CMagnetometer) Samples() <-chan geodata.MagneticSample { return m.out }

// Close stops sampling and releases the bus.
func (m *I2CMagnetometer) Close() error {
	m.stopped.Do(func() { close(m.stop) })
	return nil
}

func (m *I2CMagnetometer) run(interval time.Duration) {
	defer close(m.out)
	defer m.bus.Close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			s, err := m.read()
			if err != nil {
				log.Printf("[Magnetometer] read error: %v", err)
				continue
			}
			select {
			case m.out <- s:
			default: // consumer behind, drop
			}
		}
	}
}

func (m *I2CMagnetometer) read() (geodata.MagneticSample, error) {
	// Data registers are X, Z, Y, big endian, starting at 0x03.
	buf := make([]byte, 6)
	if err := m.dev.Tx([]byte{regDataX}, buf); err != nil {
		return geodata.MagneticSample{}, err
	}

	rawX := int16(binary.BigEndian.Uint16(buf[0:2]))
	rawZ := int16(binary.BigEndian.Uint16(buf[2:4]))
	rawY := int16(binary.BigEndian.Uint16(buf[4:6]))

	toMicrotesla := func(raw int16) float64 {
		return float64(raw) / lsbPerGauss * 100.0
	}
	return geodata.MagneticSample{
		X:    toMicrotesla(rawX),
		Y:    toMicrotesla(rawY),
		Z:    toMicrotesla(rawZ),
		Time: time.Now(),
	}, nil
}
