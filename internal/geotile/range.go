package geotile

import "fmt"

// Range is the rectangle of tiles covering a bounding box at one zoom level
type Range struct {
	MinX int `json:"minX"`
	MaxX int `json:"maxX"`
	MinY int `json:"minY"`
	MaxY int `json:"maxY"`
	Zoom int `json:"zoom"`
}

// Cols returns the number of columns in the range
func (r Range) Cols() int {
	return r.MaxX - r.MinX + 1
}

// Rows returns the number of rows in the range
func (r Range) Rows() int {
	return r.MaxY - r.MinY + 1
}

// Count returns the number of tiles in the range
func (r Range) Count() int {
	return r.Cols() * r.Rows()
}

// Contains reports whether c lies inside the range
func (r Range) Contains(c Coordinate) bool {
	return c.Zoom == r.Zoom &&
		c.X >= r.MinX && c.X <= r.MaxX &&
		c.Y >= r.MinY && c.Y <= r.MaxY
}

// Coordinates lists every tile in the range, column by column
func (r Range) Coordinates() []Coordinate {
	tiles := make([]Coordinate, 0, r.Count())
	for x := r.MinX; x <= r.MaxX; x++ {
		for y := r.MinY; y <= r.MaxY; y++ {
			tiles = append(tiles, Coordinate{X: x, Y: y, Zoom: r.Zoom})
		}
	}
	return tiles
}

// TileRangeForBounds computes the tile rectangle spanned by the north-west and
// south-east corners. Y grows southward, so min/max are taken over both corners
// rather than assumed from which corner is north.
func TileRangeForBounds(b Bounds, zoom int) Range {
	nw := TileForPoint(b.North, b.West, zoom)
	se := TileForPoint(b.South, b.East, zoom)

	r := Range{
		MinX: min(nw.X, se.X),
		MaxX: max(nw.X, se.X),
		MinY: min(nw.Y, se.Y),
		MaxY: max(nw.Y, se.Y),
		Zoom: zoom,
	}

	// A corner exactly on the antimeridian or the projection edge lands one past the last tile
	maxTile := (1 << zoom) - 1
	r.MinX, r.MaxX = clamp(r.MinX, 0, maxTile), clamp(r.MaxX, 0, maxTile)
	r.MinY, r.MaxY = clamp(r.MinY, 0, maxTile), clamp(r.MaxY, 0, maxTile)
	return r
}

// TilesForBounds validates the request and lists all tile coordinates covering it
func TilesForBounds(b Bounds, zoom int) ([]Coordinate, error) {
	if err := ValidateZoom(zoom); err != nil {
		return nil, err
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return TileRangeForBounds(b, zoom).Coordinates(), nil
}

// Estimate is a pre-download size approximation
type Estimate struct {
	TileCount      int   `json:"tileCount"`
	EstimatedBytes int64 `json:"estimatedBytes"`
}

// EstimateDownloadSize estimates how many tiles and bytes a download would take.
// Bytes assume AverageTileBytes per tile and are not measured.
func EstimateDownloadSize(b Bounds, zoom int) Estimate {
	count := TileRangeForBounds(b, zoom).Count()
	return Estimate{
		TileCount:      count,
		EstimatedBytes: int64(count) * AverageTileBytes,
	}
}

// HumanSize formats the estimated bytes for display
func (e Estimate) HumanSize() string {
	return FormatBytes(e.EstimatedBytes)
}

// FormatBytes renders a byte count as B, KB, MB or GB
func FormatBytes(bytes int64) string {
	const unit = 1024
	switch {
	case bytes < unit:
		return fmt.Sprintf("%d B", bytes)
	case bytes < unit*unit:
		return fmt.Sprintf("%.2f KB", float64(bytes)/unit)
	case bytes < unit*unit*unit:
		return fmt.Sprintf("%.2f MB", float64(bytes)/(unit*unit))
	default:
		return fmt.Sprintf("%.2f GB", float64(bytes)/(unit*unit*unit))
	}
}

// Batch groups tiles into fixed-size batches for concurrent processing
func Batch(tiles []Coordinate, batchSize int) [][]Coordinate {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	batches := make([][]Coordinate, 0, (len(tiles)+batchSize-1)/batchSize)
	for i := 0; i < len(tiles); i += batchSize {
		end := min(i+batchSize, len(tiles))
		batches = append(batches, tiles[i:end])
	}

	return batches
}

func clamp(val, lo, hi int) int {
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}
