package storage

import (
	"time"

	"tripmap-offline/internal/geotile"
)

// TileRecord is a persisted tile blob keyed by its fetch request signature
type TileRecord struct {
	Key      string
	Blob     []byte
	StoredAt time.Time
}

// DownloadedArea is a catalog entry for a region downloaded for offline use.
// TileCount counts only tiles persisted by the run; SizeBytes is the whole
// store's usage measured after the run, not a per-area cost.
type DownloadedArea struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Bounds       geotile.Bounds `json:"bounds"`
	Center       geotile.LatLng `json:"center"`
	Zoom         int            `json:"zoom"`
	DownloadedAt time.Time      `json:"downloadedAt"`
	TileCount    int            `json:"tileCount"`
	SizeBytes    int64          `json:"sizeBytes"`
	FetchedBytes int64          `json:"fetchedBytes"` // exact bytes of tiles persisted by the run
}

// CachedLocation is the last known position of one tracked subject
type CachedLocation struct {
	SubjectID string    `json:"subjectId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	Label     string    `json:"label"`
}

// CachedMeetupPoint is the last known meetup point of a group
type CachedMeetupPoint struct {
	GroupID   string    `json:"groupId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Label     string    `json:"label"`
	Timestamp time.Time `json:"timestamp"`
}

type metadataEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
