package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned for lookups of keys that were never written or were removed
	ErrNotFound = errors.New("not found")

	// ErrQuotaExceeded is returned by backends that enforce a size limit on writes
	ErrQuotaExceeded = errors.New("storage quota exceeded")
)

// Namespace names, one per record kind. Writes to different namespaces never conflict.
const (
	NamespaceTiles     = "mapTiles"
	NamespaceAreas     = "downloadedAreas"
	NamespaceLocations = "cachedLocations"
	NamespaceMeetups   = "meetupPoints"
	NamespaceMetadata  = "metadata"
)

// Namespaces lists every namespace the store uses
var Namespaces = []string{
	NamespaceTiles,
	NamespaceAreas,
	NamespaceLocations,
	NamespaceMeetups,
	NamespaceMetadata,
}

// Backend is a durable key-value store partitioned into independent namespaces.
// Every method is atomic for a single key; ReplaceAll is atomic for one namespace.
type Backend interface {
	Put(ctx context.Context, namespace, key string, value []byte) error
	// Get returns ErrNotFound for a missing key
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	GetAll(ctx context.Context, namespace string) ([][]byte, error)
	Delete(ctx context.Context, namespace, key string) error
	Clear(ctx context.Context, namespace string) error
	ReplaceAll(ctx context.Context, namespace string, entries map[string][]byte) error
	Close() error
}

// UsageEstimator is implemented by backends that can report approximate bytes used
type UsageEstimator interface {
	Usage(ctx context.Context) (int64, error)
}
