package downloader

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tripmap-offline/internal/geotile"
	"tripmap-offline/internal/storage"
	"tripmap-offline/internal/tileclient"
)

// Status is the state of one download run
type Status string

const (
	StatusPreparing   Status = "preparing"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Terminal reports whether no further progress events follow
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Progress represents download progress of one area
type Progress struct {
	AreaID          string `json:"areaId"`
	TotalTiles      int    `json:"totalTiles"`
	DownloadedTiles int    `json:"downloadedTiles"`
	Percentage      int    `json:"percentage"`
	Status          Status `json:"status"`
	Error           string `json:"error,omitempty"`
}

// Request describes an area to download. ID may be empty; one is generated.
type Request struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Bounds geotile.Bounds `json:"bounds"`
	Center geotile.LatLng `json:"center"`
	Zoom   int            `json:"zoom"`
}

// Options tune a Downloader
type Options struct {
	BatchSize   int           // tiles fetched concurrently per batch
	TileTimeout time.Duration // per-tile fetch deadline, 0 means none
	TrackEvent  func(event string, properties map[string]interface{})
}

// Downloader fetches every tile of an area in sequential batches and persists them
type Downloader struct {
	fetcher            tileclient.Fetcher
	store              *storage.Store
	batchSize          int
	tileTimeout        time.Duration
	trackEventCallback func(string, map[string]interface{})
	log                *logrus.Entry
	now                func() time.Time
}

// New creates a downloader
func New(fetcher tileclient.Fetcher, store *storage.Store, log *logrus.Entry, opts Options) *Downloader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = geotile.DefaultBatchSize
	}
	return &Downloader{
		fetcher:            fetcher,
		store:              store,
		batchSize:          opts.BatchSize,
		tileTimeout:        opts.TileTimeout,
		trackEventCallback: opts.TrackEvent,
		log:                log.WithField("component", "downloader"),
		now:                time.Now,
	}
}

// trackEvent tracks an analytics event if callback is set
func (d *Downloader) trackEvent(event string, properties map[string]interface{}) {
	if d.trackEventCallback != nil {
		d.trackEventCallback(event, properties)
	}
}

// Estimate validates the request and returns the pre-download size estimate
func (d *Downloader) Estimate(bounds geotile.Bounds, zoom int) (geotile.Estimate, error) {
	if err := geotile.ValidateZoom(zoom); err != nil {
		return geotile.Estimate{}, err
	}
	if err := bounds.Validate(); err != nil {
		return geotile.Estimate{}, err
	}
	return geotile.EstimateDownloadSize(bounds, zoom), nil
}

// run tracks one DownloadArea call
type run struct {
	mu         sync.Mutex
	areaID     string
	total      int
	downloaded int
	bytes      int64
	onProgress func(Progress)
}

func (r *run) emit(p Progress) {
	if r.onProgress != nil {
		r.onProgress(p)
	}
}

func (r *run) percentage() int {
	if r.total == 0 {
		return 0
	}
	return int(math.Round(float64(r.downloaded) / float64(r.total) * 100))
}

// tileDone records one persisted tile and emits progress while holding the lock
// so events are delivered in increasing order
func (r *run) tileDone(size int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downloaded++
	r.bytes += int64(size)
	r.emit(Progress{
		AreaID:          r.areaID,
		TotalTiles:      r.total,
		DownloadedTiles: r.downloaded,
		Percentage:      r.percentage(),
		Status:          StatusDownloading,
	})
}

// DownloadArea downloads all tiles of the area, then saves its catalog entry.
//
// A failed tile fetch is logged and skipped. A failed store write, an invalid
// request or a cancelled ctx fails the whole run. onProgress may be nil; it is
// never called concurrently.
func (d *Downloader) DownloadArea(ctx context.Context, req Request, onProgress func(Progress)) (*storage.DownloadedArea, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Name == "" {
		req.Name = geotile.AreaName(req.Bounds, req.Zoom)
	}
	r := &run{areaID: req.ID, onProgress: onProgress}
	log := d.log.WithFields(logrus.Fields{"area": req.ID, "zoom": req.Zoom})

	area, err := d.download(ctx, req, r, log)
	if err != nil {
		log.WithError(err).Error("Area download failed")
		r.mu.Lock()
		r.emit(Progress{
			AreaID:          req.ID,
			TotalTiles:      r.total,
			DownloadedTiles: r.downloaded,
			Percentage:      r.percentage(),
			Status:          StatusFailed,
			Error:           err.Error(),
		})
		r.mu.Unlock()
		d.trackEvent("offline_area_failed", map[string]interface{}{
			"zoom":             req.Zoom,
			"total_tiles":      r.total,
			"downloaded_tiles": r.downloaded,
			"error":            err.Error(),
		})
		return nil, err
	}

	// Skipped tiles still count as processed, so completion is always 100
	r.emit(Progress{
		AreaID:          req.ID,
		TotalTiles:      r.total,
		DownloadedTiles: r.downloaded,
		Percentage:      100,
		Status:          StatusCompleted,
	})
	d.trackEvent("offline_area_downloaded", map[string]interface{}{
		"zoom":          req.Zoom,
		"total_tiles":   r.total,
		"tile_count":    area.TileCount,
		"failed_tiles":  r.total - area.TileCount,
		"fetched_bytes": area.FetchedBytes,
	})
	return area, nil
}

func (d *Downloader) download(ctx context.Context, req Request, r *run, log *logrus.Entry) (*storage.DownloadedArea, error) {
	tiles, err := geotile.TilesForBounds(req.Bounds, req.Zoom)
	if err != nil {
		return nil, err
	}
	r.total = len(tiles)

	r.emit(Progress{AreaID: req.ID, TotalTiles: r.total, Status: StatusPreparing})
	log.Infof("Downloading %d tiles (%s estimated)", r.total, geotile.EstimateDownloadSize(req.Bounds, req.Zoom).HumanSize())

	for i, batch := range geotile.Batch(tiles, d.batchSize) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("download cancelled before batch %d: %w", i+1, err)
		}
		if err := d.downloadBatch(ctx, batch, r, log); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	downloaded, fetched := r.downloaded, r.bytes
	r.mu.Unlock()

	center := req.Center
	if center == (geotile.LatLng{}) {
		center = req.Bounds.Center()
	}

	area := storage.DownloadedArea{
		ID:           req.ID,
		Name:         req.Name,
		Bounds:       req.Bounds,
		Center:       center,
		Zoom:         req.Zoom,
		DownloadedAt: d.now(),
		TileCount:    downloaded,
		SizeBytes:    d.store.TotalStorageSize(ctx),
		FetchedBytes: fetched,
	}
	if err := d.store.SaveArea(ctx, area); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"tiles":  downloaded,
		"failed": r.total - downloaded,
		"size":   geotile.FormatBytes(fetched),
	}).Info("Area download complete")
	return &area, nil
}

// downloadBatch fetches all tiles of one batch concurrently and waits for all of them
func (d *Downloader) downloadBatch(ctx context.Context, batch []geotile.Coordinate, r *run, log *logrus.Entry) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, coord := range batch {
		coord := coord
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			key := d.fetcher.RequestKey(coord)
			data, err := d.fetchTile(gctx, coord)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				// The request key carries the access token; log the coordinate only
				log.WithError(err).WithField("tile", coord.String()).Warn("Tile download failed, skipping")
				return nil
			}

			if err := d.store.PutTile(gctx, key, data); err != nil {
				return err
			}
			r.tileDone(len(data))
			return nil
		})
	}

	return g.Wait()
}

func (d *Downloader) fetchTile(ctx context.Context, coord geotile.Coordinate) ([]byte, error) {
	if d.tileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.tileTimeout)
		defer cancel()
	}
	return d.fetcher.FetchTile(ctx, coord)
}
