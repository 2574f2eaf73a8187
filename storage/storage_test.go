package storage

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	return s
}

// TestSaveAndRead tests the filesystem snapshot round trip
func TestSaveAndRead(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	key := "snapshots/example-com-widget-20250601T120000.html"
	stored, err := s.Save(ctx, key, []byte("<html><body>reviews</body></html>"))
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if stored != key {
		t.Errorf("expected stored key %q, got %q", key, stored)
	}

	data, err := s.Read(ctx, key)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "<html><body>reviews</body></html>" {
		t.Errorf("unexpected snapshot contents: %q", data)
	}
}

// TestDeleteMissingKey tests that deleting a missing snapshot is not an error
func TestDeleteMissingKey(t *testing.T) {
	s := newTestStorage(t)

	if err := s.Delete(context.Background(), "snapshots/never-existed.html"); err != nil {
		t.Errorf("expected no error deleting a missing key, got %v", err)
	}
}

// TestList tests prefix filtering over stored keys
func TestList(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	for _, key := range []string{
		"snapshots/a-20250601T120000.html",
		"snapshots/b-20250601T130000.html",
		"other/c.html",
	} {
		if _, err := s.Save(ctx, key, []byte("x")); err != nil {
			t.Fatalf("Save %s failed: %v", key, err)
		}
	}

	keys, err := s.List(ctx, "snapshots/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 keys under snapshots/, got %d: %v", len(keys), keys)
	}
}

// TestSanitizeKeyRejectsTraversal tests that keys cannot escape the base path
func TestSanitizeKeyRejectsTraversal(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"plain", "snapshots/a.html", false},
		{"leading slash", "/snapshots/a.html", false},
		{"dot dot", "../etc/passwd", true},
		{"nested dot dot", "snapshots/../../etc/passwd", true},
		{"just dot", ".", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := sanitizeKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("sanitizeKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

// TestPruneSnapshots tests age-based deletion using filename timestamps
func TestPruneSnapshots(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	oldStamp := time.Now().UTC().Add(-48 * time.Hour).Format(snapshotTimestampFormat)
	newStamp := time.Now().UTC().Format(snapshotTimestampFormat)

	oldKey := fmt.Sprintf("snapshots/stale-%s.html", oldStamp)
	newKey := fmt.Sprintf("snapshots/fresh-%s.html", newStamp)
	oddKey := "snapshots/no-timestamp.html"

	for _, key := range []string{oldKey, newKey, oddKey} {
		if _, err := s.Save(ctx, key, []byte("x")); err != nil {
			t.Fatalf("Save %s failed: %v", key, err)
		}
	}

	pruned, err := PruneSnapshots(ctx, s, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneSnapshots failed: %v", err)
	}
	if pruned != 1 {
		t.Errorf("expected 1 pruned snapshot, got %d", pruned)
	}

	remaining, err := s.List(ctx, "snapshots/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(remaining) != 2 {
		t.Errorf("expected 2 remaining snapshots, got %d: %v", len(remaining), remaining)
	}
	for _, key := range remaining {
		if key == oldKey {
			t.Errorf("stale snapshot %s should have been pruned", key)
		}
	}
}

// TestNewS3StorageMissingBucket tests error handling for missing bucket
func TestNewS3StorageMissingBucket(t *testing.T) {
	config := S3Config{
		Endpoint:        "http://localhost:9000",
		Region:          "us-east-1",
		Bucket:          "",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
	}

	if _, err := NewS3Storage(context.Background(), config); err == nil {
		t.Fatal("Expected error for missing bucket, got nil")
	}
}

// TestNewS3StorageMissingRegion tests error handling for missing region
func TestNewS3StorageMissingRegion(t *testing.T) {
	config := S3Config{
		Endpoint:        "http://localhost:9000",
		Region:          "",
		Bucket:          "test-bucket",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
	}

	if _, err := NewS3Storage(context.Background(), config); err == nil {
		t.Fatal("Expected error for missing region, got nil")
	}
}

// TestNewS3StorageMissingCredentials tests error handling for missing credentials
func TestNewS3StorageMissingCredentials(t *testing.T) {
	config := S3Config{
		Endpoint:        "http://localhost:9000",
		Region:          "us-east-1",
		Bucket:          "test-bucket",
		AccessKeyID:     "",
		SecretAccessKey: "",
		UsePathStyle:    true,
	}

	if _, err := NewS3Storage(context.Background(), config); err == nil {
		t.Fatal("Expected error for missing credentials, got nil")
	}
}

// TestContentTypeForKey tests extension to content type mapping
func TestContentTypeForKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"html", "snapshots/a.html", "text/html; charset=utf-8"},
		{"json", "snapshots/a.json", "application/json"},
		{"unknown", "snapshots/a.bin", "application/octet-stream"},
		{"no extension", "snapshots/a", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := contentTypeForKey(tt.key)
			if got != tt.want {
				t.Errorf("contentTypeForKey(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}
