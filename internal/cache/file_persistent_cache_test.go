package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestFilePersistentCache_RoundTripAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	ctx := context.Background()

	c := NewFilePersistentCache(time.Minute, path)
	if err := c.Set(ctx, "greeting", "hello"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	reopened := NewFilePersistentCache(time.Minute, path)
	got, err := reopened.Get(ctx, "greeting")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got != "hello" {
		t.Errorf("expected %q, got %v", "hello", got)
	}
}

func TestFilePersistentCache_Expiration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	ctx := context.Background()

	c := NewFilePersistentCache(10*time.Millisecond, path)
	if err := c.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if _, err := c.Get(ctx, "k"); err == nil {
		t.Error("expected error for expired item, got nil")
	}

	if err := c.Prune(); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if _, ok := c.store["k"]; ok {
		t.Error("expected expired item to be pruned")
	}
}

func TestFilePersistentCache_MissingKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	c := NewFilePersistentCache(time.Minute, path)

	if _, err := c.Get(context.Background(), "absent"); err == nil {
		t.Error("expected error for missing key, got nil")
	}
}
