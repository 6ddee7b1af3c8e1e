package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

const lastSyncKey = "lastSync"

// Store persists tiles, the downloaded-area catalog, cached locations, meetup
// points and sync metadata on top of a namespaced Backend
type Store struct {
	backend Backend
	log     *logrus.Entry
	now     func() time.Time
}

// New creates a store over the given backend
func New(backend Backend, log *logrus.Entry) *Store {
	return &Store{
		backend: backend,
		log:     log.WithField("component", "storage"),
		now:     time.Now,
	}
}

// PutTile stores a tile blob, replacing any previous blob for the same key
func (s *Store) PutTile(ctx context.Context, key string, blob []byte) error {
	if key == "" {
		return fmt.Errorf("tile key is empty")
	}
	if err := s.backend.Put(ctx, NamespaceTiles, key, encodeTile(s.now(), blob)); err != nil {
		return fmt.Errorf("failed to store tile: %w", err)
	}
	return nil
}

// GetTile looks up a tile; a miss returns ErrNotFound
func (s *Store) GetTile(ctx context.Context, key string) (*TileRecord, error) {
	data, err := s.backend.Get(ctx, NamespaceTiles, key)
	if err != nil {
		return nil, err
	}
	storedAt, blob, err := decodeTile(data)
	if err != nil {
		// key is the request URL and may carry a token
		return nil, fmt.Errorf("failed to decode cached tile: %w", err)
	}
	return &TileRecord{Key: key, Blob: blob, StoredAt: storedAt}, nil
}

// HasTile reports whether a tile is cached
func (s *Store) HasTile(ctx context.Context, key string) (bool, error) {
	_, err := s.backend.Get(ctx, NamespaceTiles, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// SaveArea upserts an area catalog entry
func (s *Store) SaveArea(ctx context.Context, area DownloadedArea) error {
	if area.ID == "" {
		return fmt.Errorf("area id is empty")
	}
	return s.putJSON(ctx, NamespaceAreas, area.ID, area)
}

// GetArea returns one catalog entry
func (s *Store) GetArea(ctx context.Context, id string) (*DownloadedArea, error) {
	var area DownloadedArea
	if err := s.getJSON(ctx, NamespaceAreas, id, &area); err != nil {
		return nil, err
	}
	return &area, nil
}

// ListAreas returns the catalog, most recently downloaded first
func (s *Store) ListAreas(ctx context.Context) ([]DownloadedArea, error) {
	values, err := s.backend.GetAll(ctx, NamespaceAreas)
	if err != nil {
		return nil, fmt.Errorf("failed to list areas: %w", err)
	}

	areas := make([]DownloadedArea, 0, len(values))
	for _, v := range values {
		var area DownloadedArea
		if err := json.Unmarshal(v, &area); err != nil {
			s.log.WithError(err).Warn("Skipping unreadable area record")
			continue
		}
		areas = append(areas, area)
	}

	sort.Slice(areas, func(i, j int) bool {
		if !areas[i].DownloadedAt.Equal(areas[j].DownloadedAt) {
			return areas[i].DownloadedAt.After(areas[j].DownloadedAt)
		}
		return areas[i].ID < areas[j].ID
	})
	return areas, nil
}

// DeleteArea removes the catalog entry only. Tiles stay because overlapping
// areas at the same zoom may share them.
func (s *Store) DeleteArea(ctx context.Context, id string) error {
	if err := s.backend.Delete(ctx, NamespaceAreas, id); err != nil {
		return fmt.Errorf("failed to delete area %s: %w", id, err)
	}
	return nil
}

// SaveCachedLocations atomically replaces the whole location snapshot
func (s *Store) SaveCachedLocations(ctx context.Context, locations []CachedLocation) error {
	entries := make(map[string][]byte, len(locations))
	for _, loc := range locations {
		if loc.SubjectID == "" {
			return fmt.Errorf("cached location without subject id")
		}
		data, err := json.Marshal(loc)
		if err != nil {
			return fmt.Errorf("failed to encode location: %w", err)
		}
		entries[loc.SubjectID] = data
	}

	if err := s.backend.ReplaceAll(ctx, NamespaceLocations, entries); err != nil {
		return fmt.Errorf("failed to save cached locations: %w", err)
	}
	return nil
}

// CachedLocations returns the last saved snapshot ordered by subject
func (s *Store) CachedLocations(ctx context.Context) ([]CachedLocation, error) {
	values, err := s.backend.GetAll(ctx, NamespaceLocations)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached locations: %w", err)
	}

	locations := make([]CachedLocation, 0, len(values))
	for _, v := range values {
		var loc CachedLocation
		if err := json.Unmarshal(v, &loc); err != nil {
			s.log.WithError(err).Warn("Skipping unreadable location record")
			continue
		}
		locations = append(locations, loc)
	}
	sort.Slice(locations, func(i, j int) bool { return locations[i].SubjectID < locations[j].SubjectID })
	return locations, nil
}

// SaveMeetupPoint replaces the meetup point of a group
func (s *Store) SaveMeetupPoint(ctx context.Context, point CachedMeetupPoint) error {
	if point.GroupID == "" {
		return fmt.Errorf("meetup point without group id")
	}
	return s.putJSON(ctx, NamespaceMeetups, point.GroupID, point)
}

// MeetupPoint returns the cached meetup point of a group or ErrNotFound
func (s *Store) MeetupPoint(ctx context.Context, groupID string) (*CachedMeetupPoint, error) {
	var point CachedMeetupPoint
	if err := s.getJSON(ctx, NamespaceMeetups, groupID, &point); err != nil {
		return nil, err
	}
	return &point, nil
}

// SetMeta stores a metadata value
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	return s.putJSON(ctx, NamespaceMetadata, key, metadataEntry{Key: key, Value: value})
}

// Meta reads a metadata value or ErrNotFound
func (s *Store) Meta(ctx context.Context, key string) (string, error) {
	var entry metadataEntry
	if err := s.getJSON(ctx, NamespaceMetadata, key, &entry); err != nil {
		return "", err
	}
	return entry.Value, nil
}

// SetLastSync records when live data was last cached
func (s *Store) SetLastSync(ctx context.Context, t time.Time) error {
	return s.SetMeta(ctx, lastSyncKey, t.UTC().Format(time.RFC3339Nano))
}

// LastSync returns the last sync time; ok is false if none was recorded
func (s *Store) LastSync(ctx context.Context) (t time.Time, ok bool, err error) {
	value, err := s.Meta(ctx, lastSyncKey)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err = time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to parse last sync: %w", err)
	}
	return t, true, nil
}

// TotalStorageSize returns the backend's usage estimate, or 0 when the backend
// cannot estimate or the estimate fails
func (s *Store) TotalStorageSize(ctx context.Context) int64 {
	estimator, ok := s.backend.(UsageEstimator)
	if !ok {
		return 0
	}
	usage, err := estimator.Usage(ctx)
	if err != nil {
		s.log.WithError(err).Warn("Storage usage estimate unavailable")
		return 0
	}
	return usage
}

// ClearAll removes every record of every kind
func (s *Store) ClearAll(ctx context.Context) error {
	for _, ns := range Namespaces {
		if err := s.backend.Clear(ctx, ns); err != nil {
			return fmt.Errorf("failed to clear %s: %w", ns, err)
		}
	}
	s.log.Info("Cleared all offline data")
	return nil
}

// Close releases the backend
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) putJSON(ctx context.Context, namespace, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", namespace, err)
	}
	if err := s.backend.Put(ctx, namespace, key, data); err != nil {
		return fmt.Errorf("failed to write %s record: %w", namespace, err)
	}
	return nil
}

func (s *Store) getJSON(ctx context.Context, namespace, key string, v interface{}) error {
	data, err := s.backend.Get(ctx, namespace, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s record %q: %w", namespace, key, err)
	}
	return nil
}

// Tile values are an 8-byte big-endian unix-nano timestamp followed by the blob
func encodeTile(storedAt time.Time, blob []byte) []byte {
	buf := make([]byte, 8+len(blob))
	binary.BigEndian.PutUint64(buf, uint64(storedAt.UnixNano()))
	copy(buf[8:], blob)
	return buf
}

func decodeTile(data []byte) (time.Time, []byte, error) {
	if len(data) < 8 {
		return time.Time{}, nil, fmt.Errorf("corrupt tile record (%d bytes)", len(data))
	}
	storedAt := time.Unix(0, int64(binary.BigEndian.Uint64(data[:8])))
	blob := make([]byte, len(data)-8)
	copy(blob, data[8:])
	return storedAt, blob, nil
}
