package geocode

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newTestClient(url string) *Client {
	return NewClient(Config{
		BaseURL:        url,
		UserAgent:      "geoshot-test/1.0",
		RequestsPerSec: 1000,
	})
}

func TestReverseParsesAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "geoshot-test/1.0" {
			t.Errorf("User-Agent = %q", got)
		}
		if r.URL.Path != "/reverse" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{
			"display_name": "10 Downing Street, Westminster, London, UK",
			"address": {"city": "London", "county": "Greater London"}
		}`)
	}))
	defer srv.Close()

	r := newTestClient(srv.URL).Reverse(context.Background(), 51.5034, -0.1276)
	if r.Address != "10 Downing Street, Westminster, London, UK" {
		t.Errorf("Address = %q", r.Address)
	}
	if r.PlaceName != "London" {
		t.Errorf("PlaceName = %q, want city to win over county", r.PlaceName)
	}
}

func TestPlaceNamePriorityOrder(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"address": {"city": "A", "town": "B", "village": "C", "county": "D"}}`, "A"},
		{`{"address": {"town": "B", "village": "C", "county": "D"}}`, "B"},
		{`{"address": {"village": "C", "county": "D"}}`, "C"},
		{`{"address": {"county": "D"}}`, "D"},
		{`{"address": {}}`, "Unknown Location"},
	}
	for _, tt := range tests {
		body := tt.body
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, body)
		}))
		r := newTestClient(srv.URL).Reverse(context.Background(), 1, 2)
		if r.PlaceName != tt.want {
			t.Errorf("body %s: PlaceName = %q, want %q", tt.body, r.PlaceName, tt.want)
		}
		srv.Close()
	}
}

func TestReverseFallbackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := newTestClient(srv.URL).Reverse(context.Background(), 48.856614, 2.352222)
	if r.Address != "48.856614, 2.352222" {
		t.Errorf("Address = %q", r.Address)
	}
	if r.PlaceName != "Unknown Location" {
		t.Errorf("PlaceName = %q", r.PlaceName)
	}
}

func TestReverseFallbackOnUnreachableHost(t *testing.T) {
	// Closed server: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	r := newTestClient(srv.URL).Reverse(context.Background(), -1.5, -2.25)
	want := Fallback(-1.5, -2.25)
	if r != want {
		t.Errorf("Reverse = %+v, want %+v", r, want)
	}
}

func TestReverseFallbackOnMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>not json</html>")
	}))
	defer srv.Close()

	r := newTestClient(srv.URL).Reverse(context.Background(), 3, 4)
	if r != Fallback(3, 4) {
		t.Errorf("Reverse = %+v, want fallback", r)
	}
}

func TestReverseMemoizesResults(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"display_name": "somewhere", "address": {"city": "X"}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	c.Reverse(context.Background(), 10, 20)
	c.Reverse(context.Background(), 10, 20)
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("server calls = %d, want 1 (second lookup should hit cache)", n)
	}
}
