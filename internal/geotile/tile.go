package geotile

import (
	"errors"
	"fmt"
	"math"
)

// Constants for validation and estimation
const (
	MinZoom = 0
	MaxZoom = 22

	MinLat = -85.051129 // Web Mercator limit
	MaxLat = 85.051129
	MinLon = -180.0
	MaxLon = 180.0

	// AverageTileBytes is the assumed size of one raster tile, used only for estimates
	AverageTileBytes = 50 * 1024

	DefaultBatchSize = 10
)

var (
	ErrInvalidBounds = errors.New("invalid bounds")
	ErrInvalidZoom   = errors.New("invalid zoom")
)

// Coordinate addresses one slippy-map tile
type Coordinate struct {
	X    int `json:"x"`
	Y    int `json:"y"`
	Zoom int `json:"zoom"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Zoom, c.X, c.Y)
}

// LatLng is a WGS84 point
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Bounds represents a geographic bounding box
type Bounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Validate checks if the bounding box is usable for a download
func (b Bounds) Validate() error {
	if b.South >= b.North {
		return fmt.Errorf("%w: south (%f) must be less than north (%f)", ErrInvalidBounds, b.South, b.North)
	}
	if b.West >= b.East {
		return fmt.Errorf("%w: west (%f) must be less than east (%f)", ErrInvalidBounds, b.West, b.East)
	}
	if b.South < MinLat || b.North > MaxLat {
		return fmt.Errorf("%w: latitude out of range [%f, %f]: south=%f, north=%f", ErrInvalidBounds, MinLat, MaxLat, b.South, b.North)
	}
	if b.West < MinLon || b.East > MaxLon {
		return fmt.Errorf("%w: longitude out of range [-180, 180]: west=%f, east=%f", ErrInvalidBounds, b.West, b.East)
	}
	return nil
}

// Center returns the midpoint of the box
func (b Bounds) Center() LatLng {
	return LatLng{Lat: (b.North + b.South) / 2, Lng: (b.East + b.West) / 2}
}

// ValidateZoom checks a zoom level against the supported range
func ValidateZoom(zoom int) error {
	if zoom < MinZoom || zoom > MaxZoom {
		return fmt.Errorf("%w: zoom level %d out of range [%d, %d]", ErrInvalidZoom, zoom, MinZoom, MaxZoom)
	}
	return nil
}

// TileForPoint converts latitude/longitude to the tile containing it.
// Input is not validated; out-of-range coordinates give meaningless tiles.
func TileForPoint(lat, lon float64, zoom int) Coordinate {
	n := math.Exp2(float64(zoom))
	latRad := lat * math.Pi / 180.0
	x := math.Floor((lon + 180.0) / 360.0 * n)
	y := math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n)
	return Coordinate{X: int(x), Y: int(y), Zoom: zoom}
}

// TileToLatLon returns the north-west corner of a tile
func TileToLatLon(c Coordinate) LatLng {
	n := math.Exp2(float64(c.Zoom))
	lon := float64(c.X)/n*360.0 - 180.0
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(c.Y)/n)))
	return LatLng{Lat: latRad * 180.0 / math.Pi, Lng: lon}
}
