// Package ratelimit tracks per-provider rate-limit state for the external
// services the snapshot pipeline talks to (reverse geocoding, weather, map
// tiles). Clients consult IsLimited before a network attempt and fall back
// to their offline values while a provider is cooling down.
package ratelimit

import (
	"log"
	"net/http"
	"sync"
	"time"
)

// Provider names used across the module.
const (
	ProviderGeocode = "nominatim"
	ProviderWeather = "open-meteo"
	ProviderTiles   = "tiles"
)

// Backoff defines the cool-down intervals applied on consecutive rate-limit
// responses from the same provider. The last interval repeats.
type Backoff struct {
	Intervals []time.Duration
}

// DefaultBackoff returns the default escalation ladder.
func DefaultBackoff() Backoff {
	return Backoff{
		Intervals: []time.Duration{
			30 * time.Second,
			time.Minute,
			2 * time.Minute,
			5 * time.Minute,
		},
	}
}

type limitState struct {
	until    time.Time
	attempts int
}

// Handler records rate-limit responses and answers whether a provider is
// currently in a cool-down window. Safe for concurrent use.
type Handler struct {
	mu      sync.Mutex
	backoff Backoff
	limited map[string]*limitState
	now     func() time.Time

	onLimited   func(provider string, until time.Time)
	onRecovered func(provider string)
}

// NewHandler creates a handler with the given backoff ladder. A zero Backoff
// falls back to DefaultBackoff.
func NewHandler(backoff Backoff) *Handler {
	if len(backoff.Intervals) == 0 {
		backoff = DefaultBackoff()
	}
	return &Handler{
		backoff: backoff,
		limited: make(map[string]*limitState),
		now:     time.Now,
	}
}

// OnLimited registers a callback invoked when a provider enters a cool-down.
func (h *Handler) OnLimited(fn func(provider string, until time.Time)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onLimited = fn
}

// OnRecovered registers a callback invoked when a provider recovers.
func (h *Handler) OnRecovered(fn func(provider string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onRecovered = fn
}

// IsLimited reports whether the provider is inside a cool-down window.
func (h *Handler) IsLimited(provider string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	state, ok := h.limited[provider]
	if !ok {
		return false
	}
	// Once the window elapses attempts stay recorded; the next response
	// decides between recovery and another escalation.
	return h.now().Before(state.until)
}

// CheckResponse inspects an HTTP response for rate-limit status codes and
// updates provider state. It returns true when the response indicates the
// provider throttled us.
func (h *Handler) CheckResponse(provider string, resp *http.Response) bool {
	limited := resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusForbidden ||
		resp.StatusCode == 509 // Bandwidth Limit Exceeded

	if !limited {
		h.clear(provider)
		return false
	}
	h.record(provider, resp.StatusCode)
	return true
}

// RecordFailure marks a provider as limited without an HTTP response, e.g.
// when the transport refuses connections after aggressive use.
func (h *Handler) RecordFailure(provider string) {
	h.record(provider, 0)
}

func (h *Handler) record(provider string, statusCode int) {
	h.mu.Lock()

	state, ok := h.limited[provider]
	if !ok {
		state = &limitState{}
		h.limited[provider] = state
	} else {
		state.attempts++
	}

	idx := state.attempts
	if idx >= len(h.backoff.Intervals) {
		idx = len(h.backoff.Intervals) - 1
	}
	state.until = h.now().Add(h.backoff.Intervals[idx])
	until := state.until
	attempts := state.attempts
	fn := h.onLimited
	h.mu.Unlock()

	log.Printf("[RateLimit] %s limited (status %d, attempt %d), backing off until %s",
		provider, statusCode, attempts, until.Format(time.RFC3339))

	if fn != nil {
		go fn(provider, until)
	}
}

func (h *Handler) clear(provider string) {
	h.mu.Lock()
	if _, ok := h.limited[provider]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.limited, provider)
	fn := h.onRecovered
	h.mu.Unlock()

	log.Printf("[RateLimit] %s recovered", provider)
	if fn != nil {
		go fn(provider)
	}
}
