// Package storage archives rendered page snapshots. Extraction bugs are
// usually markup surprises, so the HTML the pipeline actually saw is kept
// around for a retention window and can be replayed locally.
package storage

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Archive is the snapshot store. Keys are slash-separated paths like
// snapshots/<slug>-<timestamp>.html, valid across all backends.
type Archive interface {
	Save(ctx context.Context, key string, data []byte) (string, error)
	Read(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Config contains filesystem storage configuration
type Config struct {
	BasePath string // Base directory for all stored files
}

// DefaultConfig returns default storage configuration
func DefaultConfig() Config {
	return Config{
		BasePath: "./snapshots",
	}
}

// Storage stores snapshots on the local filesystem
type Storage struct {
	config Config
}

// New creates a new Storage instance
func New(config Config) (*Storage, error) {
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory: %w", err)
	}
	return &Storage{config: config}, nil
}

// Save writes a snapshot under the given key and returns the stored key
func (s *Storage) Save(_ context.Context, key string, data []byte) (string, error) {
	cleaned, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}

	fullPath := filepath.Join(s.config.BasePath, filepath.FromSlash(cleaned))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}

	return cleaned, nil
}

// Read returns the contents of a stored snapshot
func (s *Storage) Read(_ context.Context, key string) ([]byte, error) {
	cleaned, err := sanitizeKey(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.config.BasePath, filepath.FromSlash(cleaned)))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, nil
}

// Delete removes a snapshot; deleting a missing key is not an error
func (s *Storage) Delete(_ context.Context, key string) error {
	cleaned, err := sanitizeKey(key)
	if err != nil {
		return err
	}

	if err := os.Remove(filepath.Join(s.config.BasePath, filepath.FromSlash(cleaned))); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// List returns the keys of all stored snapshots under the prefix
func (s *Storage) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.config.BasePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.config.BasePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return keys, nil
}

// GetFullPath returns the full filesystem path for a key
func (s *Storage) GetFullPath(key string) string {
	return filepath.Join(s.config.BasePath, filepath.FromSlash(key))
}

// sanitizeKey normalizes a key and rejects anything escaping the base path
func sanitizeKey(key string) (string, error) {
	cleaned := path.Clean(strings.TrimPrefix(key, "/"))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid storage key: %q", key)
	}
	return cleaned, nil
}

// snapshotTimestampFormat is embedded in snapshot filenames by the harvester
const snapshotTimestampFormat = "20060102T150405"

// PruneSnapshots deletes snapshots older than maxAge, relying on the
// timestamp embedded in the filename. Unrecognized filenames are left alone.
func PruneSnapshots(ctx context.Context, archive Archive, maxAge time.Duration) (int, error) {
	keys, err := archive.List(ctx, "snapshots/")
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-maxAge)
	pruned := 0
	for _, key := range keys {
		stamp, ok := snapshotTimestamp(key)
		if !ok || !stamp.Before(cutoff) {
			continue
		}
		if err := archive.Delete(ctx, key); err != nil {
			log.Printf("Failed to prune snapshot %s: %v", key, err)
			continue
		}
		pruned++
	}
	return pruned, nil
}

func snapshotTimestamp(key string) (time.Time, bool) {
	name := strings.TrimSuffix(path.Base(key), path.Ext(key))
	idx := strings.LastIndex(name, "-")
	if idx == -1 || idx+1 >= len(name) {
		return time.Time{}, false
	}
	stamp, err := time.Parse(snapshotTimestampFormat, name[idx+1:])
	if err != nil {
		return time.Time{}, false
	}
	return stamp, true
}
