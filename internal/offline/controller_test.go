package offline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripmap-offline/internal/geotile"
	"tripmap-offline/internal/storage"
	"tripmap-offline/internal/storage/badgerstore"
)

type switchableNetwork struct {
	online atomic.Bool
}

func (n *switchableNetwork) IsOnline() bool { return n.online.Load() }

type stubFetcher struct {
	fail bool
}

func (f *stubFetcher) RequestKey(c geotile.Coordinate) string {
	return "https://tiles.test/" + c.String() + ".png"
}

func (f *stubFetcher) FetchTile(ctx context.Context, c geotile.Coordinate) ([]byte, error) {
	if f.fail {
		return nil, errors.New("connection reset")
	}
	return []byte("live:" + c.String()), nil
}

func newTestController(t *testing.T) (*Controller, *switchableNetwork, *storage.Store, *MemoryFeed) {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	backend, err := badgerstore.Open("", nil)
	require.NoError(t, err)
	store := storage.New(backend, logrus.NewEntry(log))
	t.Cleanup(func() { store.Close() })

	network := &switchableNetwork{}
	network.online.Store(true)
	feed := NewMemoryFeed()
	return New(network, store, &stubFetcher{}, feed, logrus.NewEntry(log)), network, store, feed
}

func TestController_OfflineModeIsDerived(t *testing.T) {
	c, network, _, _ := newTestController(t)
	assert.False(t, c.IsOfflineMode())

	network.online.Store(false)
	assert.True(t, c.IsOfflineMode())

	network.online.Store(true)
	assert.False(t, c.IsOfflineMode())
}

func TestController_Tile(t *testing.T) {
	ctx := context.Background()
	c, network, store, _ := newTestController(t)

	cached := geotile.Coordinate{X: 6861, Y: 3506, Zoom: 13}
	missing := geotile.Coordinate{X: 1, Y: 1, Zoom: 13}
	require.NoError(t, store.PutTile(ctx, c.fetcher.RequestKey(cached), []byte("cached-bytes")))

	tile, err := c.Tile(ctx, cached)
	require.NoError(t, err)
	assert.Equal(t, SourceLive, tile.Source)
	assert.Equal(t, []byte("live:13/6861/3506"), tile.Data)

	network.online.Store(false)

	tile, err = c.Tile(ctx, cached)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, tile.Source)
	assert.Equal(t, []byte("cached-bytes"), tile.Data)
	assert.False(t, tile.StoredAt.IsZero())

	tile, err = c.Tile(ctx, missing)
	require.NoError(t, err)
	assert.Equal(t, SourceNone, tile.Source)
	assert.Nil(t, tile.Data)
}

func TestController_LiveTileFailureIsAnError(t *testing.T) {
	c, _, _, _ := newTestController(t)
	c.fetcher = &stubFetcher{fail: true}

	_, err := c.Tile(context.Background(), geotile.Coordinate{Zoom: 1})
	assert.Error(t, err)
}

func TestController_LocationsSwitchSource(t *testing.T) {
	ctx := context.Background()
	c, network, _, feed := newTestController(t)

	snapshot := []storage.CachedLocation{
		{SubjectID: "alice", Latitude: 25.03, Longitude: 121.56, Label: "Alice"},
		{SubjectID: "bob", Latitude: 25.04, Longitude: 121.57, Label: "Bob"},
	}
	feed.SetLocations(snapshot)
	require.NoError(t, c.RecordLocations(ctx, snapshot))

	// Live feed moves on; the cache keeps the recorded snapshot
	feed.SetLocations([]storage.CachedLocation{{SubjectID: "alice", Latitude: 26, Longitude: 122}})

	live, err := c.Locations(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, 26.0, live[0].Latitude)

	network.online.Store(false)
	cached, err := c.Locations(ctx)
	require.NoError(t, err)
	assert.Equal(t, snapshot, cached)

	assert.ErrorIs(t, c.RecordLocations(ctx, nil), ErrOffline)

	_, ok, err := c.store.LastSync(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestController_MeetupPoint(t *testing.T) {
	ctx := context.Background()
	c, network, _, feed := newTestController(t)

	_, err := c.MeetupPoint(ctx, "g1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	point := storage.CachedMeetupPoint{GroupID: "g1", Latitude: 25.0478, Longitude: 121.5170, Label: "Main station"}
	feed.SetMeetupPoint(point)
	require.NoError(t, c.RecordMeetupPoint(ctx, point))

	network.online.Store(false)
	got, err := c.MeetupPoint(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "Main station", got.Label)

	assert.ErrorIs(t, c.RecordMeetupPoint(ctx, point), ErrOffline)
}

func TestController_CoveringAreas(t *testing.T) {
	ctx := context.Background()
	c, _, store, _ := newTestController(t)

	city := geotile.Bounds{North: 25.2, South: 24.9, East: 121.7, West: 121.4}
	district := geotile.Bounds{North: 25.05, South: 25.01, East: 121.58, West: 121.55}
	elsewhere := geotile.Bounds{North: 35.8, South: 35.6, East: 139.9, West: 139.6}

	for id, b := range map[string]geotile.Bounds{"city": city, "district": district, "tokyo": elsewhere} {
		require.NoError(t, store.SaveArea(ctx, storage.DownloadedArea{ID: id, Name: id, Bounds: b, Center: b.Center(), Zoom: 13}))
	}

	areas, err := c.CoveringAreas(ctx, 25.03, 121.565)
	require.NoError(t, err)
	require.Len(t, areas, 2)
	assert.Equal(t, "district", areas[0].ID)
	assert.Equal(t, "city", areas[1].ID)

	areas, err = c.CoveringAreas(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, areas)
}
