package geotile

import (
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileForPoint_MatchesMaptile(t *testing.T) {
	for zoom := 0; zoom <= 18; zoom += 3 {
		for lat := -80.0; lat <= 80.0; lat += 13.37 {
			for lon := -179.0; lon <= 179.0; lon += 29.71 {
				got := TileForPoint(lat, lon, zoom)
				want := maptile.At(orb.Point{lon, lat}, maptile.Zoom(zoom))
				assert.Equal(t, int(want.X), got.X, "x at %f,%f z%d", lat, lon, zoom)
				assert.Equal(t, int(want.Y), got.Y, "y at %f,%f z%d", lat, lon, zoom)
				assert.Equal(t, zoom, got.Zoom)
			}
		}
	}
}

func TestTileForPoint_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		lat := rng.Float64()*170 - 85
		lon := rng.Float64()*360 - 180
		zoom := rng.Intn(MaxZoom + 1)
		assert.Equal(t, TileForPoint(lat, lon, zoom), TileForPoint(lat, lon, zoom))
	}
}

func TestTileToLatLon_RoundTrip(t *testing.T) {
	c := Coordinate{X: 6861, Y: 3506, Zoom: 13}
	nw := TileToLatLon(c)
	// nudge inside the tile so floor lands on c
	assert.Equal(t, c, TileForPoint(nw.Lat-1e-7, nw.Lng+1e-7, c.Zoom))
}

func TestTileRangeForBounds_TaipeiScenario(t *testing.T) {
	b := Bounds{North: 25.05, South: 25.01, East: 121.58, West: 121.55}

	r := TileRangeForBounds(b, 13)
	assert.Equal(t, Range{MinX: 6861, MaxX: 6862, MinY: 3506, MaxY: 3507, Zoom: 13}, r)

	est := EstimateDownloadSize(b, 13)
	assert.Equal(t, r.Count(), est.TileCount)
	assert.Equal(t, 4, est.TileCount)
	assert.Equal(t, int64(4*AverageTileBytes), est.EstimatedBytes)
	assert.Equal(t, "200.00 KB", est.HumanSize())
}

func TestTileRangeForBounds_ContainsCorners(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 300; i++ {
		south := rng.Float64()*160 - 80
		north := south + rng.Float64()*(80-south) + 1e-6
		west := rng.Float64()*350 - 175
		east := west + rng.Float64()*(175-west) + 1e-6
		zoom := rng.Intn(16)
		b := Bounds{North: north, South: south, East: east, West: west}

		r := TileRangeForBounds(b, zoom)
		require.LessOrEqual(t, r.MinX, r.MaxX)
		require.LessOrEqual(t, r.MinY, r.MaxY)

		for _, corner := range [][2]float64{{north, west}, {north, east}, {south, west}, {south, east}} {
			assert.True(t, r.Contains(TileForPoint(corner[0], corner[1], zoom)), "corner %v of %+v z%d", corner, b, zoom)
		}

		est := EstimateDownloadSize(b, zoom)
		assert.Equal(t, (r.MaxX-r.MinX+1)*(r.MaxY-r.MinY+1), est.TileCount)
	}
}

func TestTileRangeForBounds_ClampsAntimeridian(t *testing.T) {
	r := TileRangeForBounds(Bounds{North: 10, South: -10, East: 180, West: 170}, 2)
	assert.Equal(t, 3, r.MaxX)
}

func TestTilesForBounds(t *testing.T) {
	b := Bounds{North: 25.05, South: 25.01, East: 121.58, West: 121.55}

	tiles, err := TilesForBounds(b, 13)
	require.NoError(t, err)
	assert.Equal(t, []Coordinate{
		{X: 6861, Y: 3506, Zoom: 13},
		{X: 6861, Y: 3507, Zoom: 13},
		{X: 6862, Y: 3506, Zoom: 13},
		{X: 6862, Y: 3507, Zoom: 13},
	}, tiles)

	_, err = TilesForBounds(b, 30)
	assert.ErrorIs(t, err, ErrInvalidZoom)

	_, err = TilesForBounds(Bounds{North: 25.01, South: 25.05, East: 121.58, West: 121.55}, 13)
	assert.ErrorIs(t, err, ErrInvalidBounds)

	_, err = TilesForBounds(Bounds{North: 89, South: 80, East: 1, West: 0}, 3)
	assert.ErrorIs(t, err, ErrInvalidBounds)
}

func TestBatch(t *testing.T) {
	tiles := Range{MinX: 0, MaxX: 4, MinY: 0, MaxY: 4, Zoom: 5}.Coordinates()
	require.Len(t, tiles, 25)

	batches := Batch(tiles, 10)
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 10)
	assert.Len(t, batches[1], 10)
	assert.Len(t, batches[2], 5)
	assert.Equal(t, tiles[20], batches[2][0])

	assert.Len(t, Batch(tiles, 0), 3, "non-positive size falls back to the default")
	assert.Empty(t, Batch(nil, 10))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.50 KB", FormatBytes(1536))
	assert.Equal(t, "2.00 MB", FormatBytes(2*1024*1024))
	assert.Equal(t, "1.00 GB", FormatBytes(1024*1024*1024))
}

func TestAreaName(t *testing.T) {
	assert.Equal(t, "25.0330N", FormatCoordinate(25.033, true))
	assert.Equal(t, "33.8688S", FormatCoordinate(-33.8688, true))
	assert.Equal(t, "0.1276W", FormatCoordinate(-0.1276, false))
	assert.Equal(t, "121.5654E", FormatCoordinate(121.5654, false))

	b := Bounds{North: 25.05, South: 25.01, East: 121.58, West: 121.55}
	assert.Equal(t, "Area 25.0300N 121.5650E z13", AreaName(b, 13))
}
