// Package sensors provides the hardware-facing location and magnetometer
// sources consumed by the snapshot assembler and the live stream: a serial
// NMEA GPS reader, an I2C magnetometer, and MQTT-backed variants for setups
// where the sensors are produced on another host.
package sensors

import (
	"context"
	"time"

	"github.com/sddion/geoshot/geodata"
)

// DefaultMagnetometerTimeout bounds a one-shot magnetic field read.
const DefaultMagnetometerTimeout = time.Second

// ReadMagnitude performs a one-shot magnetic field read: it waits for a
// single sample and returns its Euclidean magnitude in microtesla. The read
// is hard-bounded by the timeout (DefaultMagnetometerTimeout when <= 0);
// whichever of sample, timeout, or context cancellation happens first wins,
// and the reported ok is false unless a sample arrived. An unavailable or
// nil magnetometer resolves immediately.
func ReadMagnitude(ctx context.Context, m geodata.Magnetometer, timeout time.Duration) (float64, bool) {
	if m == nil || !m.Available() {
		return 0, false
	}
	if timeout <= 0 {
		timeout = DefaultMagnetometerTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case s, ok := <-m.Samples():
		if !ok {
			return 0, false
		}
		return s.Magnitude(), true
	case <-timer.C:
		return 0, false
	case <-ctx.Done():
		return 0, false
	}
}
