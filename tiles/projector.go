// Package tiles maps coordinates onto the standard Web Mercator tile grid
// and maintains a disk-backed cache of downloaded map tiles.
package tiles

import "math"

// Web Mercator constants. Latitudes beyond the mercator limit have no tile
// representation; Project clamps rather than failing since a ground-level
// camera never reaches them.
const (
	MinLat = -85.051129
	MaxLat = 85.051129
	MinLon = -180.0
	MaxLon = 180.0

	MinZoom = 0
	MaxZoom = 19

	// DefaultZoom is the overlay thumbnail zoom level.
	DefaultZoom = 15

	// TileSize is the edge length of a slippy tile in pixels.
	TileSize = 256
)

// Project converts a coordinate to tile indices at the given zoom using the
// standard spherical mercator tiling scheme. Results are clamped into
// [0, 2^zoom); the formula is deterministic and needs no I/O.
func Project(lat, lon float64, zoom int) (x, y int) {
	if lat < MinLat {
		lat = MinLat
	} else if lat > MaxLat {
		lat = MaxLat
	}

	n := float64(int(1) << zoom)
	latRad := lat * math.Pi / 180.0

	x = int(math.Floor((lon + 180.0) / 360.0 * n))
	y = int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))

	maxTile := int(n) - 1
	x = clamp(x, 0, maxTile)
	y = clamp(y, 0, maxTile)
	return x, y
}

// Bounds returns the geographic bounding box (south, west, north, east) of a
// tile, the inverse of Project at the tile corners.
func Bounds(x, y, zoom int) (south, west, north, east float64) {
	n := float64(int(1) << zoom)

	west = float64(x)/n*360.0 - 180.0
	east = float64(x+1)/n*360.0 - 180.0

	north = math.Atan(math.Sinh(math.Pi*(1-2*float64(y)/n))) * 180.0 / math.Pi
	south = math.Atan(math.Sinh(math.Pi*(1-2*float64(y+1)/n))) * 180.0 / math.Pi
	return south, west, north, east
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
