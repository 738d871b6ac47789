// Package weather fetches current conditions from an Open-Meteo compatible
// endpoint and maps its numeric weather codes onto the coarse labels the
// overlay renders. Like the geocoder, the client never fails: every problem
// degrades to an unknown reading.
package weather

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

// Reading is a current-weather result. Temperature is nil and Condition is
// "Unknown" when the lookup failed.
type Reading struct {
	Temperature *float64 // Celsius
	Condition   string
}

// Config configures a Client.
type Config struct {
	// BaseURL of the Open-Meteo compatible forecast endpoint.
	BaseURL string
	// UserAgent identifies this client to the provider.
	UserAgent string
	// RequestsPerSec paces lookups. <= 0 selects 2 rps.
	RequestsPerSec int
	// Timeout bounds a single lookup. <= 0 selects 10s.
	Timeout time.Duration
	// Limits is the shared provider rate-limit tracker. Optional.
	Limits *ratelimit.Handler
}

// Client is a current-weather client with request pacing and short-lived
// memoization; conditions do not change fast enough to justify hitting the
// provider on every capture.
type Client struct {
	baseURL   string
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
	limits    *ratelimit.Handler
	cache     *lru.LRU[string, Reading]
}

// NewClient creates a weather client.
func NewClient(cfg Config) *Client {
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 2
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
		cache:     lru.NewLRU[string, Reading](256, nil, 10*time.Minute),
	}
}

type currentWeatherResponse struct {
	CurrentWeather struct {
		Temperature float64 `json:"temperature"`
		WeatherCode int     `json:"weathercode"`
	} `json:"current_weather"`
}

// Current fetches the current conditions at a coordinate. It never returns
// an error; failures yield the unknown Reading.
func (c *Client) Current(ctx context.Context, lat, lon float64) Reading {
	key := fmt.Sprintf("%.2f,%.2f", lat, lon)
	if r, ok := c.cache.Get(key); ok {
		return r
	}

	r, err := c.lookup(ctx, lat, lon)
	if err != nil {
		log.Printf("[Weather] current conditions lookup failed: %v", err)
		return Unknown()
	}
	c.cache.Add(key, r)
	return r
}

func (c *Client) lookup(ctx context.Context, lat, lon float64) (Reading, error) {
	if c.limits != nil && c.limits.IsLimited(ratelimit.ProviderWeather) {
		return Reading{}, fmt.Errorf("weather provider rate limited")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Reading{}, err
	}

	params := url.Values{
		"latitude":        {fmt.Sprintf("%f", lat)},
		"longitude":       {fmt.Sprintf("%f", lon)},
		"current_weather": {"true"},
	}
	reqURL := fmt.Sprintf("%s/forecast?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Reading{}, err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return Reading{}, err
	}
	defer resp.Body.Close()

	if c.limits != nil && c.limits.CheckResponse(ratelimit.ProviderWeather, resp) {
		return Reading{}, fmt.Errorf("weather request throttled: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return Reading{}, fmt.Errorf("weather request failed: status %d", resp.StatusCode)
	}

	var body currentWeatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Reading{}, fmt.Errorf("parse weather response: %w", err)
	}

	return Reading{
		Temperature: geodata.Float64(body.CurrentWeather.Temperature),
		Condition:   Condition(body.CurrentWeather.WeatherCode),
	}, nil
}

// Condition maps a WMO weather code to its coarse label via ordered
// threshold bands (inclusive upper bounds).
func Condition(code int) string {
	switch {
	case code < 0:
		return geodata.UnknownCondition
	case code == 0:
		return "Clear"
	case code <= 3:
		return "Partly Cloudy"
	case code <= 49:
		return "Foggy"
	case code <= 59:
		return "Drizzle"
	case code <= 69:
		return "Rain"
	case code <= 79:
		return "Snow"
	case code <= 84:
		return "Showers"
	case code <= 99:
		return "Thunderstorm"
	default:
		return geodata.UnknownCondition
	}
}

// Unknown is the degraded reading used when the provider is unreachable.
func Unknown() Reading {
	return Reading{Temperature: nil, Condition: geodata.UnknownCondition}
}
