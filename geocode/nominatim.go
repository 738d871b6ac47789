// Package geocode resolves coordinates to human-readable place names through
// a Nominatim-compatible reverse geocoding endpoint. The client never fails:
// any transport, status, or parse problem degrades to the deterministic
// offline fallback so a capture is never blocked by an unreachable service.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"github.com/sddion/geoshot/geodata"
	"github.com/sddion/geoshot/internal/ratelimit"
)

// Result is a reverse geocoding outcome. Both fields are always populated,
// with offline fallbacks when the lookup failed.
type Result struct {
	Address   string // full display address, or "{lat}, {lon}" to 6 decimals
	PlaceName string // short label (city/town/village/county), or "Unknown Location"
}

// Config configures a Client.
type Config struct {
	// BaseURL of the Nominatim-compatible service.
	BaseURL string
	// UserAgent identifies this client. Nominatim's usage policy requires a
	// descriptive value.
	UserAgent string
	// RequestsPerSec paces lookups; Nominatim allows at most 1 rps.
	RequestsPerSec int
	// Timeout bounds a single lookup. <= 0 selects 10s.
	Timeout time.Duration
	// Limits is the shared provider rate-limit tracker. Optional.
	Limits *ratelimit.Handler
}

// Client is a reverse geocoding client with request pacing and short-lived
// result memoization.
type Client struct {
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
	limits    *ratelimit.Handler
	cache     *lru.LRU[string, Result]
}

// NewClient creates a reverse geocoding client.
func NewClient(cfg Config) *Client {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		limits:    cfg.Limits,
		cache:     lru.NewLRU[string, Result](512, nil, 24*time.Hour),
	}
}

// nominatim /reverse response body. The address object carries many more
// keys; only the place-label candidates matter here.
type reverseResponse struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		City    string `json:"city"`
		Town    string `json:"town"`
		Village string `json:"village"`
		County  string `json:"county"`
	} `json:"address"`
}

// Reverse resolves a coordinate to an address and short place label. It
// never returns an error; failures yield Fallback(lat, lon).
func (c *Client) Reverse(ctx context.Context, lat, lon float64) Result {
	key := fmt.Sprintf("%.4f,%.4f", lat, lon)
	if r, ok := c.cache.Get(key); ok {
		return r
	}

	r, err := c.lookup(ctx, lat, lon)
	if err != nil {
		log.Printf("[Geocode] reverse lookup failed, using offline fallback: %v", err)
		return Fallback(lat, lon)
	}
	c.cache.Add(key, r)
	return r
}

func (c *Client) lookup(ctx context.Context, lat, lon float64) (Result, error) {
	if c.limits != nil && c.limits.IsLimited(ratelimit.ProviderGeocode) {
		return Result{}, fmt.Errorf("geocode provider rate limited")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}

	params := url.Values{
		"lat":    {fmt.Sprintf("%f", lat)},
		"lon":    {fmt.Sprintf("%f", lon)},
		"format": {"json"},
		"zoom":   {"18"},
	}
	reqURL := fmt.Sprintf("%s/reverse?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if c.limits != nil && c.limits.CheckResponse(ratelimit.ProviderGeocode, resp) {
		return Result{}, fmt.Errorf("reverse request throttled: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("reverse request failed: status %d", resp.StatusCode)
	}

	var body reverseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("parse reverse response: %w", err)
	}

	r := Result{
		Address:   body.DisplayName,
		PlaceName: placeName(body),
	}
	if r.Address == "" {
		r.Address = geodata.FallbackAddress(lat, lon)
	}
	return r, nil
}

// placeName picks the shortest meaningful label in priority order.
func placeName(body reverseResponse) string {
	for _, candidate := range []string{
		body.Address.City,
		body.Address.Town,
		body.Address.Village,
		body.Address.County,
	} {
		if candidate != "" {
			return candidate
		}
	}
	return geodata.UnknownPlace
}

// Fallback is the deterministic offline result for a coordinate.
func Fallback(lat, lon float64) Result {
	return Result{
		Address:   geodata.FallbackAddress(lat, lon),
		PlaceName: geodata.UnknownPlace,
	}
}
