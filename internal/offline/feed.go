package offline

import (
	"context"
	"sort"
	"sync"

	"tripmap-offline/internal/storage"
)

// MemoryFeed holds the latest live data pushed by the host
type MemoryFeed struct {
	mu        sync.RWMutex
	locations map[string]storage.CachedLocation
	meetups   map[string]storage.CachedMeetupPoint
}

// NewMemoryFeed creates an empty feed
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		locations: make(map[string]storage.CachedLocation),
		meetups:   make(map[string]storage.CachedMeetupPoint),
	}
}

// SetLocations replaces the live location set
func (f *MemoryFeed) SetLocations(locations []storage.CachedLocation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locations = make(map[string]storage.CachedLocation, len(locations))
	for _, loc := range locations {
		f.locations[loc.SubjectID] = loc
	}
}

// SetMeetupPoint replaces a group's meetup point
func (f *MemoryFeed) SetMeetupPoint(point storage.CachedMeetupPoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.meetups[point.GroupID] = point
}

// Locations implements LiveFeed
func (f *MemoryFeed) Locations(ctx context.Context) ([]storage.CachedLocation, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	locations := make([]storage.CachedLocation, 0, len(f.locations))
	for _, loc := range f.locations {
		locations = append(locations, loc)
	}
	sort.Slice(locations, func(i, j int) bool { return locations[i].SubjectID < locations[j].SubjectID })
	return locations, nil
}

// MeetupPoint implements LiveFeed
func (f *MemoryFeed) MeetupPoint(ctx context.Context, groupID string) (*storage.CachedMeetupPoint, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	point, ok := f.meetups[groupID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &point, nil
}
