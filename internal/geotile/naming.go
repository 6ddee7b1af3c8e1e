package geotile

import (
	"fmt"
	"math"
)

// FormatCoordinate formats a coordinate with a hemisphere suffix, e.g. 25.0330N
func FormatCoordinate(coord float64, isLat bool) string {
	dir := "E"
	switch {
	case isLat && coord < 0:
		dir = "S"
	case isLat:
		dir = "N"
	case coord < 0:
		dir = "W"
	}
	return fmt.Sprintf("%.4f%s", math.Abs(coord), dir)
}

// AreaName is the display name used when a download request has none
func AreaName(b Bounds, zoom int) string {
	c := b.Center()
	return fmt.Sprintf("Area %s %s z%d", FormatCoordinate(c.Lat, true), FormatCoordinate(c.Lng, false), zoom)
}
