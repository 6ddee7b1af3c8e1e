package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"tripmap-offline/internal/storage"
)

const (
	indexFile = "store_index.json"

	// How often a changed index is written back by Put
	indexFlushInterval = 500 * time.Millisecond
)

// Entry describes one stored value on disk
type Entry struct {
	Key      string    `json:"key"`
	File     string    `json:"file"` // relative to baseDir
	Size     int64     `json:"size"`
	StoredAt time.Time `json:"storedAt"`
}

// Store is a storage.Backend that keeps each value in its own file.
// Layout: baseDir/{namespace}/{hash[:2]}/{hash}.bin with a JSON index at baseDir/store_index.json.
// Put marks the index dirty and a background worker writes it; Delete, Clear,
// ReplaceAll and Close write it right away.
type Store struct {
	baseDir  string
	maxSize  int64 // 0 means unlimited
	currSize int64 // atomic
	mu       sync.RWMutex
	index    map[string]map[string]*Entry // namespace -> key -> entry

	dirty     atomic.Bool
	flushMu   sync.Mutex // orders index writes
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Open creates the directory if needed, loads the index and starts the index flusher
func Open(baseDir string, maxSizeMB int) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	s := &Store{
		baseDir: baseDir,
		maxSize: int64(maxSizeMB) * 1024 * 1024,
		index:   make(map[string]map[string]*Entry),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	if err := s.loadIndex(); err != nil {
		return nil, fmt.Errorf("failed to load storage index: %w", err)
	}

	go s.flushWorker()

	return s, nil
}

// buildFilePath hashes the key so arbitrary request signatures map to safe file names
func buildFilePath(namespace, key string) string {
	hash := sha256.Sum256([]byte(key))
	hashStr := hex.EncodeToString(hash[:])
	return filepath.Join(namespace, hashStr[:2], hashStr+".bin")
}

// createFile writes value to a new, uniquely named file in the directory of
// rel and returns its absolute path
func (s *Store) createFile(rel, pattern string, value []byte) (string, error) {
	dir := filepath.Join(s.baseDir, filepath.Dir(rel))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create storage subdirectory: %w", err)
	}

	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("failed to create value file: %w", err)
	}
	if _, err := f.Write(value); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write value: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write value: %w", err)
	}
	return f.Name(), nil
}

func (s *Store) quotaError() error {
	return fmt.Errorf("%w: %d bytes used of %d", storage.ErrQuotaExceeded, atomic.LoadInt64(&s.currSize), s.maxSize)
}

// Put implements storage.Backend. The value is written outside the store
// lock; only the quota check, the rename and the index update hold it.
func (s *Store) Put(ctx context.Context, namespace, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rel := buildFilePath(namespace, key)
	size := int64(len(value))
	if s.maxSize > 0 && size > s.maxSize {
		return s.quotaError()
	}

	// Write to temp file first, then rename so readers never see a partial value
	tmp, err := s.createFile(rel, filepath.Base(rel)+".*.tmp", value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var oldSize int64
	old, exists := s.index[namespace][key]
	if exists {
		oldSize = old.Size
	}
	if s.maxSize > 0 && atomic.LoadInt64(&s.currSize)-oldSize+size > s.maxSize {
		os.Remove(tmp)
		return s.quotaError()
	}

	if err := os.Rename(tmp, filepath.Join(s.baseDir, rel)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit value: %w", err)
	}
	// A value written by ReplaceAll lives under its own name
	if exists && old.File != rel {
		os.Remove(filepath.Join(s.baseDir, old.File))
	}

	ns, ok := s.index[namespace]
	if !ok {
		ns = make(map[string]*Entry)
		s.index[namespace] = ns
	}
	ns[key] = &Entry{Key: key, File: rel, Size: size, StoredAt: time.Now()}
	atomic.AddInt64(&s.currSize, size-oldSize)
	s.dirty.Store(true)
	return nil
}

// Get implements storage.Backend
func (s *Store) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entry, ok := s.index[namespace][key]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}

	data, err := os.ReadFile(filepath.Join(s.baseDir, entry.File))
	if os.IsNotExist(err) {
		// File vanished underneath the index
		s.mu.Lock()
		if current, ok := s.index[namespace][key]; ok && current == entry {
			s.removeLocked(namespace, key)
		}
		s.mu.Unlock()
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read value: %w", err)
	}
	return data, nil
}

// GetAll implements storage.Backend, ordered by key
func (s *Store) GetAll(ctx context.Context, namespace string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entries := make([]*Entry, 0, len(s.index[namespace]))
	for _, e := range s.index[namespace] {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	values := make([][]byte, 0, len(entries))
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(s.baseDir, e.File))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read value %q: %w", e.Key, err)
		}
		values = append(values, data)
	}
	return values, nil
}

// Delete implements storage.Backend
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.index[namespace][key]; !ok {
		s.mu.Unlock()
		return nil
	}
	s.removeLocked(namespace, key)
	s.mu.Unlock()

	return s.Flush()
}

// Clear implements storage.Backend
func (s *Store) Clear(ctx context.Context, namespace string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.clearLocked(namespace)
	s.mu.Unlock()

	return s.Flush()
}

// ReplaceAll implements storage.Backend. New values are written under fresh
// file names first; the namespace is swapped only after every write and the
// quota check succeed, so a failure leaves the previous snapshot untouched.
func (s *Store) ReplaceAll(ctx context.Context, namespace string, entries map[string][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var newSize int64
	for _, value := range entries {
		newSize += int64(len(value))
	}
	if s.maxSize > 0 && newSize > s.maxSize {
		return s.quotaError()
	}

	staged := make(map[string]string, len(entries)) // key -> absolute path
	discard := func() {
		for _, path := range staged {
			os.Remove(path)
		}
	}
	for key, value := range entries {
		rel := buildFilePath(namespace, key)
		path, err := s.createFile(rel, strings.TrimSuffix(filepath.Base(rel), ".bin")+".*.bin", value)
		if err != nil {
			discard()
			return err
		}
		staged[key] = path
	}

	s.mu.Lock()
	var oldSize int64
	for _, e := range s.index[namespace] {
		oldSize += e.Size
	}
	if s.maxSize > 0 && atomic.LoadInt64(&s.currSize)-oldSize+newSize > s.maxSize {
		err := s.quotaError()
		s.mu.Unlock()
		discard()
		return err
	}

	now := time.Now()
	next := make(map[string]*Entry, len(staged))
	for key, path := range staged {
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			s.mu.Unlock()
			discard()
			return fmt.Errorf("failed to index value: %w", err)
		}
		next[key] = &Entry{Key: key, File: rel, Size: int64(len(entries[key])), StoredAt: now}
	}
	s.clearLocked(namespace)
	if len(next) > 0 {
		s.index[namespace] = next
	}
	atomic.AddInt64(&s.currSize, newSize)
	s.dirty.Store(true)
	s.mu.Unlock()

	return s.Flush()
}

// Usage implements storage.UsageEstimator as the sum of stored value sizes
func (s *Store) Usage(ctx context.Context) (int64, error) {
	return atomic.LoadInt64(&s.currSize), nil
}

// Stats returns the entry count, bytes used and quota
func (s *Store) Stats() (entries int, sizeBytes int64, maxBytes int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ns := range s.index {
		entries += len(ns)
	}
	return entries, atomic.LoadInt64(&s.currSize), s.maxSize
}

// Flush writes the index if it changed since the last write
func (s *Store) Flush() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if !s.dirty.Swap(false) {
		return nil
	}

	s.mu.RLock()
	data, err := json.Marshal(s.index)
	s.mu.RUnlock()
	if err != nil {
		s.dirty.Store(true)
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	if err := s.writeIndex(data); err != nil {
		s.dirty.Store(true)
		return err
	}
	return nil
}

func (s *Store) flushWorker() {
	defer close(s.done)
	ticker := time.NewTicker(indexFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// A failed write stays dirty and is retried on the next tick
			s.Flush()
		case <-s.stop:
			return
		}
	}
}

// Close implements storage.Backend. It stops the flusher and writes the index.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
	return s.Flush()
}

func (s *Store) removeLocked(namespace, key string) {
	entry, ok := s.index[namespace][key]
	if !ok {
		return
	}
	os.Remove(filepath.Join(s.baseDir, entry.File)) // Best effort cleanup
	delete(s.index[namespace], key)
	atomic.AddInt64(&s.currSize, -entry.Size)
	s.dirty.Store(true)
}

func (s *Store) clearLocked(namespace string) {
	for key := range s.index[namespace] {
		s.removeLocked(namespace, key)
	}
	delete(s.index, namespace)
}

// loadIndex loads the index from disk; a missing index means an empty store
func (s *Store) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.baseDir, indexFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read index: %w", err)
	}

	var index map[string]map[string]*Entry
	if err := json.Unmarshal(data, &index); err != nil {
		return fmt.Errorf("failed to parse index: %w", err)
	}
	if index == nil {
		index = make(map[string]map[string]*Entry)
	}

	var totalSize int64
	for _, ns := range index {
		for _, e := range ns {
			totalSize += e.Size
		}
	}
	s.index = index
	atomic.StoreInt64(&s.currSize, totalSize)
	return nil
}

// writeIndex writes the index to a temp file and renames it into place
func (s *Store) writeIndex(data []byte) error {
	indexPath := filepath.Join(s.baseDir, indexFile)
	tempPath := indexPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := os.Rename(tempPath, indexPath); err != nil {
		return fmt.Errorf("failed to rename index file: %w", err)
	}
	return nil
}
