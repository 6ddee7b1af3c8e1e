package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	goruntime "runtime"
	"time"

	"github.com/google/uuid"
	"github.com/posthog/posthog-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tripmap-offline/internal/config"
	"tripmap-offline/internal/downloader"
	"tripmap-offline/internal/geotile"
	"tripmap-offline/internal/netstatus"
	"tripmap-offline/internal/offline"
	"tripmap-offline/internal/reconnect"
	"tripmap-offline/internal/storage"
	"tripmap-offline/internal/storage/badgerstore"
	"tripmap-offline/internal/storage/filestore"
	"tripmap-offline/internal/storage/redisstore"
	"tripmap-offline/internal/tileclient"
	"tripmap-offline/internal/tileserver"
)

// Set at build time via -ldflags
var (
	AppVersion  = "dev"
	PostHogKey  string
	PostHogHost string
)

const installIDKey = "install_id"

// App wires the offline subsystem together
type App struct {
	cfg       *config.Config
	log       *logrus.Entry
	store     *storage.Store
	queue     *downloader.Queue
	monitor   *netstatus.Monitor
	reconnect *reconnect.Coordinator
	server    *tileserver.Server
	phClient  posthog.Client
	installID string
}

// NewApp opens storage and builds every component. Nothing runs until Run.
func NewApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	log := logrus.NewEntry(logger)
	a := &App{cfg: cfg, log: log.WithField("component", "app")}

	backend, err := openBackend(ctx, cfg.Storage, log)
	if err != nil {
		return nil, err
	}
	a.store = storage.New(backend, log)
	a.initAnalytics(ctx)

	client, err := tileclient.New(cfg.Tiles.URLTemplate, cfg.Tiles.AccessToken, cfg.Tiles.FetchTimeout)
	if err != nil {
		a.store.Close()
		return nil, err
	}

	d := downloader.New(client, a.store, log, downloader.Options{
		BatchSize:   cfg.Tiles.BatchSize,
		TileTimeout: cfg.Tiles.FetchTimeout,
		TrackEvent:  a.TrackEvent,
	})
	a.queue = downloader.NewQueue(d, cfg.Tiles.QueueDepth, log)
	a.queue.SetCallbacks(nil, func(areaID string, area *storage.DownloadedArea, err error) {
		if err != nil {
			a.log.WithError(err).WithField("area", areaID).Error("Area download failed")
			return
		}
		a.log.WithField("area", areaID).Infof("Area download finished: %d tiles", area.TileCount)
	})

	var (
		source netstatus.Source
		manual *netstatus.ManualSource
	)
	if cfg.Network.ProbeAddress != "" {
		source = &netstatus.DialSource{
			Address:  cfg.Network.ProbeAddress,
			Interval: cfg.Network.CheckInterval,
			Timeout:  cfg.Network.DialTimeout,
		}
	} else {
		manual = netstatus.NewManualSource(true)
		source = manual
	}
	a.monitor = netstatus.NewMonitor(source, log)

	probeURL := cfg.Reconnect.ProbeURL
	if probeURL == "" {
		probeURL = client.RequestKey(geotile.Coordinate{})
	}
	a.reconnect = reconnect.New(a.monitor, &reconnect.HTTPProber{
		URL:    probeURL,
		Client: &http.Client{Timeout: cfg.Reconnect.ProbeTimeout},
	}, reconnect.Config{
		MaxAttempts:  cfg.Reconnect.MaxAttempts,
		BaseDelay:    cfg.Reconnect.BaseDelay,
		MaxDelay:     cfg.Reconnect.MaxDelay,
		ProbeTimeout: cfg.Reconnect.ProbeTimeout,
	}, log)
	a.reconnect.SetOnReconnected(func() {
		a.TrackEvent("reconnect_succeeded", nil)
	})
	a.reconnect.SetOnReconnectFailed(func(attempts int) {
		a.TrackEvent("reconnect_failed", map[string]interface{}{"attempts": attempts})
	})

	feed := offline.NewMemoryFeed()
	a.server = tileserver.NewServer(tileserver.Deps{
		Controller: offline.New(a.monitor, a.store, client, feed, log),
		Feed:       feed,
		Store:      a.store,
		Downloader: d,
		Queue:      a.queue,
		Monitor:    a.monitor,
		Reconnect:  a.reconnect,
		Manual:     manual,
	}, log)

	return a, nil
}

func openBackend(ctx context.Context, cfg config.StorageConfig, log *logrus.Entry) (storage.Backend, error) {
	switch cfg.Backend {
	case config.BackendFile:
		return filestore.Open(cfg.Path, cfg.MaxSizeMB)
	case config.BackendRedis:
		return redisstore.Open(ctx, redisstore.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
	case config.BackendBadger:
		return badgerstore.Open(cfg.Path, log)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// initAnalytics sets up PostHog when a key is configured and loads the
// per-install distinct id from metadata
func (a *App) initAnalytics(ctx context.Context) {
	key, host := PostHogKey, PostHogHost
	if a.cfg.Analytics.PosthogKey != "" {
		key, host = a.cfg.Analytics.PosthogKey, a.cfg.Analytics.PosthogHost
	}
	if key == "" {
		return
	}

	client, err := posthog.NewWithConfig(key, posthog.Config{Endpoint: host})
	if err != nil {
		a.log.WithError(err).Warn("Failed to initialize PostHog")
		return
	}
	a.phClient = client

	id, err := a.store.Meta(ctx, installIDKey)
	if err != nil {
		id = uuid.NewString()
		if err := a.store.SetMeta(ctx, installIDKey, id); err != nil {
			a.log.WithError(err).Warn("Failed to persist install id")
		}
	}
	a.installID = id
}

// TrackEvent sends an event to PostHog
func (a *App) TrackEvent(event string, props map[string]interface{}) {
	if a.phClient == nil {
		return
	}
	if err := a.phClient.Enqueue(posthog.Capture{
		DistinctId: a.installID,
		Event:      event,
		Properties: props,
	}); err != nil {
		a.log.WithError(err).WithField("event", event).Debug("Failed to enqueue analytics event")
	}
}

// Run starts the background components and the HTTP server, then blocks
// until ctx is cancelled
func (a *App) Run(ctx context.Context) error {
	a.queue.Start()
	a.reconnect.Start()

	if err := a.server.Start(a.cfg.Server.Addr); err != nil {
		return err
	}

	a.TrackEvent("app_started", map[string]interface{}{
		"version": AppVersion,
		"os":      goruntime.GOOS,
		"arch":    goruntime.GOARCH,
		"backend": a.cfg.Storage.Backend,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.monitor.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Shutdown cleans up resources
func (a *App) Shutdown() {
	a.reconnect.Close()
	a.queue.Close()
	if a.phClient != nil {
		a.phClient.Close()
	}
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close storage")
	}
}
