package tiles

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/sddion/geoshot/internal/ratelimit"
)

// Config configures a tile Cache.
type Config struct {
	// BaseDir is the cache directory. Created lazily on first use.
	BaseDir string
	// TileURL is the tile source base URL; tiles are fetched from
	// {TileURL}/{z}/{x}/{y}.png.
	TileURL string
	// UserAgent identifies this client to the tile provider. The provider's
	// usage policy requires a descriptive value; requests without one get
	// throttled or blocked.
	UserAgent string
	// MaxSizeMB bounds on-disk cache growth; least recently used tiles are
	// evicted once exceeded. <= 0 selects the 250 MB default.
	MaxSizeMB int
	// RequestsPerSec paces downloads. <= 0 selects 2 rps.
	RequestsPerSec int
	// Limits is the shared provider rate-limit tracker. Optional.
	Limits *ratelimit.Handler
}

type entry struct {
	name       string
	size       int64
	accessTime time.Time
}

// Cache is a disk-backed map tile cache keyed by (zoom, x, y). GetTile never
// fails: a tile that cannot be served locally degrades to its remote URL so
// the caller always receives a renderable URI.
type Cache struct {
	baseDir   string
	tileURL   string
	userAgent string
	maxSize   int64
	currSize  int64 // atomic

	client  *http.Client
	limiter *rate.Limiter
	limits  *ratelimit.Handler
	group   singleflight.Group

	mu      sync.RWMutex
	index   map[string]*entry
	scanned bool

	evictCh   chan struct{}
	closeOnce sync.Once

	// fetch is the download seam, replaced in tests.
	fetch func(ctx context.Context, url string) ([]byte, error)
}

// NewCache creates a tile cache rooted at cfg.BaseDir. The directory itself
// is created lazily so a cache can be constructed before storage is writable.
func NewCache(cfg Config) *Cache {
	maxMB := cfg.MaxSizeMB
	if maxMB <= 0 {
		maxMB = 250
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 2
	}

	c := &Cache{
		baseDir:   cfg.BaseDir,
		tileURL:   strings.TrimRight(cfg.TileURL, "/"),
		userAgent: cfg.UserAgent,
		maxSize:   int64(maxMB) * 1024 * 1024,
		client:    &http.Client{Timeout: 15 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		limits:    cfg.Limits,
		index:     make(map[string]*entry),
		evictCh:   make(chan struct{}, 1),
	}
	c.fetch = c.download

	go c.evictionWorker()

	return c
}

// GetTile returns a URI for the map tile covering (lat, lon) at the given
// zoom (DefaultZoom when zoom <= 0). On a cache hit the local file path is
// returned without touching the network; on a miss the tile is downloaded
// and persisted. Every failure degrades to the remote tile URL.
func (c *Cache) GetTile(ctx context.Context, lat, lon float64, zoom int) string {
	if zoom <= 0 {
		zoom = DefaultZoom
	}
	x, y := Project(lat, lon, zoom)
	name := fmt.Sprintf("%d_%d_%d.png", zoom, x, y)
	remote := fmt.Sprintf("%s/%d/%d/%d.png", c.tileURL, zoom, x, y)

	if err := c.ensureDir(); err != nil {
		log.Printf("[TileCache] cache dir unavailable: %v", err)
		return remote
	}

	path := filepath.Join(c.baseDir, name)
	if c.touch(name, path) {
		return path
	}

	// Coalesce concurrent misses for the same tile into one download.
	v, err, _ := c.group.Do(name, func() (interface{}, error) {
		// A racing call may have just populated the file.
		if c.touch(name, path) {
			return path, nil
		}
		data, err := c.fetch(ctx, remote)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("write tile: %w", err)
		}
		c.add(name, int64(len(data)))
		return path, nil
	})
	if err != nil {
		log.Printf("[TileCache] %s unavailable, serving remote URL: %v", name, err)
		return remote
	}
	return v.(string)
}

// Stats returns the entry count plus current and maximum size in bytes.
func (c *Cache) Stats() (entries int, sizeBytes, maxBytes int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index), atomic.LoadInt64(&c.currSize), c.maxSize
}

// Clear removes all cached tiles.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for name := range c.index {
		os.Remove(filepath.Join(c.baseDir, name))
	}
	c.index = make(map[string]*entry)
	atomic.StoreInt64(&c.currSize, 0)
	return nil
}

// Close stops the background eviction worker. Cached tiles stay on disk.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() { close(c.evictCh) })
	return nil
}

// touch reports whether the tile exists locally, refreshing its access time.
func (c *Cache) touch(name, path string) bool {
	c.mu.Lock()
	e, ok := c.index[name]
	if ok {
		e.accessTime = time.Now()
	}
	c.mu.Unlock()
	if ok {
		return true
	}

	// Tiles written by an earlier process are adopted on first sight.
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	c.add(name, info.Size())
	return true
}

func (c *Cache) add(name string, size int64) {
	c.mu.Lock()
	if old, ok := c.index[name]; ok {
		atomic.AddInt64(&c.currSize, -old.size)
	}
	c.index[name] = &entry{name: name, size: size, accessTime: time.Now()}
	c.mu.Unlock()

	atomic.AddInt64(&c.currSize, size)
	if atomic.LoadInt64(&c.currSize) > c.maxSize {
		select {
		case c.evictCh <- struct{}{}:
		default:
		}
	}
}

// ensureDir creates the cache directory if missing and, once per process,
// rebuilds the in-memory index from files already on disk.
func (c *Cache) ensureDir() error {
	if err := os.MkdirAll(c.baseDir, 0755); err != nil {
		return err
	}

	c.mu.Lock()
	scanned := c.scanned
	c.scanned = true
	c.mu.Unlock()
	if !scanned {
		c.loadIndex()
	}
	return nil
}

var tileNameRE = regexp.MustCompile(`^\d+_\d+_\d+\.png$`)

func (c *Cache) loadIndex() {
	entries, err := os.ReadDir(c.baseDir)
	if err != nil {
		return
	}
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		if _, _, _, ok := ParseTileName(de.Name()); !ok {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		c.mu.Lock()
		if _, ok := c.index[de.Name()]; !ok {
			c.index[de.Name()] = &entry{name: de.Name(), size: info.Size(), accessTime: info.ModTime()}
			atomic.AddInt64(&c.currSize, info.Size())
		}
		c.mu.Unlock()
	}
}

func (c *Cache) download(ctx context.Context, url string) ([]byte, error) {
	if c.limits != nil && c.limits.IsLimited(ratelimit.ProviderTiles) {
		return nil, fmt.Errorf("tile provider rate limited")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if c.limits != nil && c.limits.CheckResponse(ratelimit.ProviderTiles, resp) {
		return nil, fmt.Errorf("tile request throttled: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tile request failed: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Cache) evictionWorker() {
	for range c.evictCh {
		c.evict()
	}
}

// evict removes least recently used tiles until the cache is back under 90%
// of its size bound.
func (c *Cache) evict() {
	c.mu.Lock()
	defer c.mu.Unlock()

	currSize := atomic.LoadInt64(&c.currSize)
	if currSize <= c.maxSize {
		return
	}
	targetSize := c.maxSize * 9 / 10

	entries := make([]*entry, 0, len(c.index))
	for _, e := range c.index {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].accessTime.Before(entries[j].accessTime)
	})

	for _, e := range entries {
		if currSize <= targetSize {
			break
		}
		os.Remove(filepath.Join(c.baseDir, e.name))
		delete(c.index, e.name)
		atomic.AddInt64(&c.currSize, -e.size)
		currSize -= e.size
	}
}

// ParseTileName extracts (zoom, x, y) from a cache file name of the form
// "{z}_{x}_{y}.png".
func ParseTileName(name string) (zoom, x, y int, ok bool) {
	if !tileNameRE.MatchString(name) {
		return 0, 0, 0, false
	}
	parts := strings.SplitN(strings.TrimSuffix(name, ".png"), "_", 3)
	zoom, _ = strconv.Atoi(parts[0])
	x, _ = strconv.Atoi(parts[1])
	y, _ = strconv.Atoi(parts[2])
	return zoom, x, y, true
}
