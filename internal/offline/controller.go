package offline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/golang/geo/s2"
	"github.com/sirupsen/logrus"

	"tripmap-offline/internal/geotile"
	"tripmap-offline/internal/storage"
	"tripmap-offline/internal/tileclient"
)

// ErrOffline is returned when live data is written while offline
var ErrOffline = errors.New("offline")

// TileSource says where a served tile came from
type TileSource string

const (
	SourceLive  TileSource = "live"
	SourceCache TileSource = "cache"
	SourceNone  TileSource = "none" // offline miss, render nothing
)

// Tile is the result of a tile request. Data is nil when Source is SourceNone.
type Tile struct {
	Data     []byte
	Source   TileSource
	StoredAt time.Time
}

// Connectivity is read to decide the serving path
type Connectivity interface {
	IsOnline() bool
}

// LiveFeed is the live location source used while online
type LiveFeed interface {
	Locations(ctx context.Context) ([]storage.CachedLocation, error)
	MeetupPoint(ctx context.Context, groupID string) (*storage.CachedMeetupPoint, error)
}

// Controller routes tile and location reads to live sources or the offline store
type Controller struct {
	network Connectivity
	store   *storage.Store
	fetcher tileclient.Fetcher
	feed    LiveFeed
	log     *logrus.Entry
	now     func() time.Time
}

// New creates a controller
func New(network Connectivity, store *storage.Store, fetcher tileclient.Fetcher, feed LiveFeed, log *logrus.Entry) *Controller {
	return &Controller{
		network: network,
		store:   store,
		fetcher: fetcher,
		feed:    feed,
		log:     log.WithField("component", "offline"),
		now:     time.Now,
	}
}

// IsOfflineMode is derived from the network monitor on every call
func (c *Controller) IsOfflineMode() bool {
	return !c.network.IsOnline()
}

// Tile serves a tile live when online and from the store when offline.
// An offline miss is not an error; it returns SourceNone.
func (c *Controller) Tile(ctx context.Context, coord geotile.Coordinate) (*Tile, error) {
	if !c.IsOfflineMode() {
		data, err := c.fetcher.FetchTile(ctx, coord)
		if err != nil {
			return nil, err
		}
		return &Tile{Data: data, Source: SourceLive}, nil
	}

	rec, err := c.store.GetTile(ctx, c.fetcher.RequestKey(coord))
	if errors.Is(err, storage.ErrNotFound) {
		return &Tile{Source: SourceNone}, nil
	}
	if err != nil {
		return nil, err
	}
	return &Tile{Data: rec.Blob, Source: SourceCache, StoredAt: rec.StoredAt}, nil
}

// Locations returns live locations when online and the cached snapshot when offline
func (c *Controller) Locations(ctx context.Context) ([]storage.CachedLocation, error) {
	if c.IsOfflineMode() {
		return c.store.CachedLocations(ctx)
	}
	return c.feed.Locations(ctx)
}

// MeetupPoint returns a group's meetup point from the live feed or the cache.
// Returns storage.ErrNotFound if there is none.
func (c *Controller) MeetupPoint(ctx context.Context, groupID string) (*storage.CachedMeetupPoint, error) {
	if c.IsOfflineMode() {
		return c.store.MeetupPoint(ctx, groupID)
	}
	return c.feed.MeetupPoint(ctx, groupID)
}

// RecordLocations caches a live location snapshot and stamps the sync time.
// Only live data is cached, so it fails with ErrOffline when offline.
func (c *Controller) RecordLocations(ctx context.Context, locations []storage.CachedLocation) error {
	if c.IsOfflineMode() {
		return ErrOffline
	}
	if err := c.store.SaveCachedLocations(ctx, locations); err != nil {
		return err
	}
	return c.markSynced(ctx)
}

// RecordMeetupPoint caches a live meetup point
func (c *Controller) RecordMeetupPoint(ctx context.Context, point storage.CachedMeetupPoint) error {
	if c.IsOfflineMode() {
		return ErrOffline
	}
	if err := c.store.SaveMeetupPoint(ctx, point); err != nil {
		return err
	}
	return c.markSynced(ctx)
}

func (c *Controller) markSynced(ctx context.Context) error {
	if err := c.store.SetLastSync(ctx, c.now()); err != nil {
		return fmt.Errorf("failed to record last sync: %w", err)
	}
	return nil
}

// CoveringAreas returns the downloaded areas containing the point, the one
// whose center is closest first
func (c *Controller) CoveringAreas(ctx context.Context, lat, lng float64) ([]storage.DownloadedArea, error) {
	areas, err := c.store.ListAreas(ctx)
	if err != nil {
		return nil, err
	}

	point := s2.LatLngFromDegrees(lat, lng)
	type hit struct {
		area     storage.DownloadedArea
		distance float64
	}

	var hits []hit
	for _, area := range areas {
		if !areaRect(area.Bounds).ContainsLatLng(point) {
			continue
		}
		center := s2.LatLngFromDegrees(area.Center.Lat, area.Center.Lng)
		hits = append(hits, hit{area: area, distance: point.Distance(center).Radians()})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })

	result := make([]storage.DownloadedArea, len(hits))
	for i, h := range hits {
		result[i] = h.area
	}
	return result, nil
}

func areaRect(b geotile.Bounds) s2.Rect {
	return s2.RectFromLatLng(s2.LatLngFromDegrees(b.South, b.West)).
		AddPoint(s2.LatLngFromDegrees(b.North, b.East))
}
