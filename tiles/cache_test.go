package tiles

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	return NewCache(Config{
		BaseDir:   t.TempDir(),
		TileURL:   "https://tiles.example.org",
		UserAgent: "geoshot-test/1.0",
	})
}

func TestGetTileDownloadsOnceThenHitsCache(t *testing.T) {
	c := testCache(t)

	var downloads int32
	c.fetch = func(ctx context.Context, url string) ([]byte, error) {
		atomic.AddInt32(&downloads, 1)
		return []byte("png-bytes"), nil
	}

	uri1 := c.GetTile(context.Background(), 48.8566, 2.3522, 15)
	if !strings.HasSuffix(uri1, "15_16598_11273.png") {
		t.Fatalf("unexpected uri %q", uri1)
	}
	if data, err := os.ReadFile(uri1); err != nil || string(data) != "png-bytes" {
		t.Fatalf("tile not persisted: %v", err)
	}

	uri2 := c.GetTile(context.Background(), 48.8566, 2.3522, 15)
	if uri2 != uri1 {
		t.Errorf("second call returned %q, want %q", uri2, uri1)
	}
	if n := atomic.LoadInt32(&downloads); n != 1 {
		t.Errorf("downloads = %d, want exactly 1", n)
	}
}

func TestGetTileFallsBackToRemoteURL(t *testing.T) {
	c := testCache(t)
	c.fetch = func(ctx context.Context, url string) ([]byte, error) {
		return nil, fmt.Errorf("connection refused")
	}

	uri := c.GetTile(context.Background(), 48.8566, 2.3522, 15)
	want := "https://tiles.example.org/15/16598/11273.png"
	if uri != want {
		t.Errorf("fallback uri = %q, want %q", uri, want)
	}

	// No negative caching: a later successful fetch repopulates.
	c.fetch = func(ctx context.Context, url string) ([]byte, error) {
		return []byte("ok"), nil
	}
	uri = c.GetTile(context.Background(), 48.8566, 2.3522, 15)
	if strings.HasPrefix(uri, "https://") {
		t.Errorf("expected local path after recovery, got %q", uri)
	}
}

func TestGetTileDefaultZoom(t *testing.T) {
	c := testCache(t)
	c.fetch = func(ctx context.Context, url string) ([]byte, error) {
		return []byte("ok"), nil
	}

	uri := c.GetTile(context.Background(), 10, 10, 0)
	if !strings.HasPrefix(filepath.Base(uri), "15_") {
		t.Errorf("zoom 0 should use default zoom 15, got %q", uri)
	}
}

func TestConcurrentRequestsCoalesce(t *testing.T) {
	c := testCache(t)

	var downloads int32
	gate := make(chan struct{})
	c.fetch = func(ctx context.Context, url string) ([]byte, error) {
		atomic.AddInt32(&downloads, 1)
		<-gate
		return []byte("ok"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.GetTile(context.Background(), 48.8566, 2.3522, 15)
		}()
	}
	close(gate)
	wg.Wait()

	if n := atomic.LoadInt32(&downloads); n != 1 {
		t.Errorf("coalesced downloads = %d, want 1", n)
	}
}

func TestAdoptsTilesFromPreviousRun(t *testing.T) {
	dir := t.TempDir()
	seed := filepath.Join(dir, "15_16598_11273.png")
	if err := os.WriteFile(seed, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}
	// Non-tile files in the cache dir must not enter the index.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	c := NewCache(Config{BaseDir: dir, TileURL: "https://tiles.example.org", UserAgent: "t"})
	c.fetch = func(ctx context.Context, url string) ([]byte, error) {
		t.Fatal("cached tile should not be re-downloaded")
		return nil, nil
	}

	uri := c.GetTile(context.Background(), 48.8566, 2.3522, 15)
	if uri != seed {
		t.Errorf("uri = %q, want %q", uri, seed)
	}
	if n, size, _ := c.Stats(); n != 1 || size != 3 {
		t.Errorf("stats = (%d entries, %d bytes), want (1, 3)", n, size)
	}
}

func TestEvictionBoundsDiskUsage(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(Config{BaseDir: dir, TileURL: "https://t.example", UserAgent: "t", MaxSizeMB: 1, RequestsPerSec: 100})
	// Shrink the bound so the test stays small.
	c.maxSize = 3 * 1024

	payload := make([]byte, 1024)
	c.fetch = func(ctx context.Context, url string) ([]byte, error) {
		return payload, nil
	}

	// Distinct tiles at distinct longitudes.
	for i := 0; i < 6; i++ {
		c.GetTile(context.Background(), 0, float64(i), 15)
	}
	c.evict() // synchronous pass; the worker also runs in background

	_, size, _ := c.Stats()
	if size > c.maxSize {
		t.Errorf("cache size %d exceeds bound %d after eviction", size, c.maxSize)
	}
}

func TestParseTileName(t *testing.T) {
	z, x, y, ok := ParseTileName("15_16598_11273.png")
	if !ok || z != 15 || x != 16598 || y != 11273 {
		t.Errorf("ParseTileName = (%d, %d, %d, %v)", z, x, y, ok)
	}
	if _, _, _, ok := ParseTileName("index.json"); ok {
		t.Error("ParseTileName should reject non-tile names")
	}
}
