package geodata

import "context"

// PermissionChecker reports whether location access has been granted by the
// embedding platform. Daemons typically use StaticPermission(true); mobile
// embedders bridge their platform permission state.
type PermissionChecker interface {
	LocationGranted() bool
}

// StaticPermission is a fixed PermissionChecker.
type StaticPermission bool

func (p StaticPermission) LocationGranted() bool { return bool(p) }

// LocationProvider acquires a single position fix. Implementations block
// until a fix is available or the context expires.
type LocationProvider interface {
	CurrentFix(ctx context.Context) (Fix, error)
}

// LocationStream delivers continuous position fixes. The channel is closed
// when the stream is torn down.
type LocationStream interface {
	Fixes() <-chan Fix
	Close() error
}

// Magnetometer delivers continuous magnetic field samples. Available reports
// whether the hardware is present; Samples on an unavailable magnetometer
// never delivers.
type Magnetometer interface {
	Available() bool
	Samples() <-chan MagneticSample
	Close() error
}
