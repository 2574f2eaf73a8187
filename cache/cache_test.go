package cache

import (
	"context"
	"testing"
	"time"
)

func TestNewRequiresAddress(t *testing.T) {
	if _, err := New(context.Background(), Config{Address: ""}); err == nil {
		t.Error("expected error for empty address")
	}
}

func TestRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	c, err := New(ctx, Config{Address: "localhost:6379"})
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	defer c.Close()

	key := "test:roundtrip"
	if err := c.Set(ctx, key, []byte("cached envelope"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	data, err := c.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != "cached envelope" {
		t.Errorf("unexpected cached value: %q", data)
	}

	missing, err := c.Get(ctx, "test:missing")
	if err != nil {
		t.Fatalf("Get for missing key failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing key, got %q", missing)
	}
}
