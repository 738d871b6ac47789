package ratelimit

import (
	"net/http"
	"testing"
	"time"
)

func respWithStatus(code int) *http.Response {
	return &http.Response{StatusCode: code}
}

func TestCheckResponseDetectsThrottling(t *testing.T) {
	h := NewHandler(Backoff{})

	if h.IsLimited(ProviderTiles) {
		t.Fatal("fresh handler should not be limited")
	}

	if !h.CheckResponse(ProviderTiles, respWithStatus(http.StatusTooManyRequests)) {
		t.Fatal("429 should report limited")
	}
	if !h.IsLimited(ProviderTiles) {
		t.Fatal("provider should be limited after 429")
	}

	// Other providers are independent.
	if h.IsLimited(ProviderGeocode) {
		t.Fatal("unrelated provider should not be limited")
	}
}

func TestRecoveryClearsState(t *testing.T) {
	h := NewHandler(Backoff{})

	h.CheckResponse(ProviderWeather, respWithStatus(http.StatusForbidden))
	if !h.IsLimited(ProviderWeather) {
		t.Fatal("403 should limit provider")
	}

	if h.CheckResponse(ProviderWeather, respWithStatus(http.StatusOK)) {
		t.Fatal("200 should not report limited")
	}
	if h.IsLimited(ProviderWeather) {
		t.Fatal("200 should clear the limit")
	}
}

func TestBackoffEscalates(t *testing.T) {
	h := NewHandler(Backoff{Intervals: []time.Duration{time.Minute, time.Hour}})
	base := time.Unix(1000, 0)
	h.now = func() time.Time { return base }

	h.CheckResponse(ProviderTiles, respWithStatus(429))
	first := h.limited[ProviderTiles].until
	if want := base.Add(time.Minute); !first.Equal(want) {
		t.Errorf("first backoff until %v, want %v", first, want)
	}

	h.CheckResponse(ProviderTiles, respWithStatus(429))
	second := h.limited[ProviderTiles].until
	if want := base.Add(time.Hour); !second.Equal(want) {
		t.Errorf("second backoff until %v, want %v", second, want)
	}

	// Ladder exhausted: interval repeats.
	h.CheckResponse(ProviderTiles, respWithStatus(429))
	third := h.limited[ProviderTiles].until
	if want := base.Add(time.Hour); !third.Equal(want) {
		t.Errorf("third backoff until %v, want %v", third, want)
	}
}

func TestWindowExpiry(t *testing.T) {
	h := NewHandler(Backoff{Intervals: []time.Duration{time.Minute}})
	base := time.Unix(1000, 0)
	now := base
	h.now = func() time.Time { return now }

	h.RecordFailure(ProviderGeocode)
	if !h.IsLimited(ProviderGeocode) {
		t.Fatal("should be limited inside window")
	}

	now = base.Add(2 * time.Minute)
	if h.IsLimited(ProviderGeocode) {
		t.Fatal("should not be limited after window elapses")
	}
}
