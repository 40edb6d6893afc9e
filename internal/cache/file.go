package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrInvalidCacheKey is returned when a key contains unsafe path characters.
var ErrInvalidCacheKey = errors.New("invalid cache key: contains path separator or traversal sequence")

// ErrBackendClosed is returned by operations on a closed backend.
var ErrBackendClosed = errors.New("cache backend is closed")

// validateKeyComponent rejects keys that could escape the base directory.
func validateKeyComponent(key string) error {
	if key == "" {
		return errors.New("cache key cannot be empty")
	}
	if strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return ErrInvalidCacheKey
	}
	return nil
}

// FileBackend persists entries as one JSON file per key under a base
// directory. Writes go through a temp file and rename so a crash never leaves
// a truncated entry behind.
//
//	~/.councilgo/cache/
//	  └── <key>.json
type FileBackend struct {
	baseDir string
	mu      sync.Mutex
	closed  bool
}

// NewFileBackend creates the file store rooted at baseDir, defaulting to
// ~/.councilgo/cache.
func NewFileBackend(baseDir string) (*FileBackend, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".councilgo", "cache")
	}

	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	return &FileBackend{baseDir: baseDir}, nil
}

func (f *FileBackend) entryPath(key string) string {
	return filepath.Join(f.baseDir, key+".json")
}

// Load reads one entry; a missing key returns (nil, nil).
func (f *FileBackend) Load(key string) (*Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrBackendClosed
	}
	if err := validateKeyComponent(key); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.entryPath(key)) // #nosec G304 - key validated to prevent traversal
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cache entry: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parse cache entry: %w", err)
	}
	return &entry, nil
}

// Save writes one entry atomically.
func (f *FileBackend) Save(entry *Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrBackendClosed
	}
	if err := validateKeyComponent(entry.Key); err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	final := f.entryPath(entry.Key)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit cache entry: %w", err)
	}
	return nil
}

// Delete removes one entry; missing keys are not an error.
func (f *FileBackend) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrBackendClosed
	}
	if err := validateKeyComponent(key); err != nil {
		return err
	}

	if err := os.Remove(f.entryPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Keys lists every persisted key.
func (f *FileBackend) Keys() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrBackendClosed
	}

	dirEntries, err := os.ReadDir(f.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read cache directory: %w", err)
	}

	var keys []string
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	return keys, nil
}

// Close marks the backend closed. Files on disk are kept.
func (f *FileBackend) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
