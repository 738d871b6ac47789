// geooverlayd runs the live geo stream as a daemon and serves the latest
// snapshot over HTTP: a JSON endpoint for polling clients and a WebSocket
// that pushes every update, which is what the overlay UI consumes.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/posthog/posthog-go"

	"github.com/sddion/geoshot"
	"github.com/sddion/geoshot/geodata"
	"github.com/sddion/geoshot/internal/config"
	"github.com/sddion/geoshot/internal/sources"
)

type overlayPayload struct {
	*geodata.GeoData
	MapTile string `json:"mapTile"`
}

// hub fans live updates out to connected WebSocket clients and remembers the
// latest payload for the polling endpoint.
type hub struct {
	mu      sync.RWMutex
	latest  *overlayPayload
	clients map[*websocket.Conn]chan overlayPayload
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan overlayPayload)}
}

func (h *hub) publish(p overlayPayload) {
	h.mu.Lock()
	h.latest = &p
	for _, ch := range h.clients {
		select {
		case ch <- p:
		default: // slow client, drop the frame rather than stall the stream
		}
	}
	h.mu.Unlock()
}

func (h *hub) current() *overlayPayload {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

func (h *hub) add(conn *websocket.Conn) chan overlayPayload {
	ch := make(chan overlayPayload, 4)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		close(ch)
	}
	h.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func main() {
	settingsPath := flag.String("settings", "", "settings file path (default: per-user settings)")
	sensorsPath := flag.String("sensors", "config/sensors.yaml", "path to sensors.yaml")
	addr := flag.String("addr", ":8080", "HTTP listen address")
	flag.Parse()

	var settings *config.Settings
	var err error
	if *settingsPath != "" {
		settings, err = config.LoadSettingsFrom(*settingsPath)
	} else {
		settings, err = config.LoadSettings()
	}
	if err != nil {
		log.Fatalf("load settings: %v", err)
	}
	sensorsCfg, err := config.LoadSensorsConfig(*sensorsPath)
	if err != nil {
		log.Fatalf("load sensors config: %v", err)
	}

	location, err := sources.OpenLocation(sensorsCfg)
	if err != nil {
		log.Fatalf("open gps source: %v", err)
	}
	defer location.Close()

	var phClient posthog.Client
	if key := os.Getenv("POSTHOG_API_KEY"); key != "" {
		client, err := posthog.NewWithConfig(key, posthog.Config{
			Endpoint: os.Getenv("POSTHOG_HOST"),
		})
		if err != nil {
			log.Printf("failed to initialize PostHog: %v", err)
		} else {
			phClient = client
			defer phClient.Close()
		}
	}
	track := func(event string) {
		if phClient == nil {
			return
		}
		phClient.Enqueue(posthog.Capture{
			DistinctId: "geooverlayd",
			Event:      event,
		})
	}

	engine, err := geoshot.New(geoshot.Options{
		CacheDir:        settings.CacheDir,
		CacheMaxSizeMB:  settings.CacheMaxSizeMB,
		TileURL:         settings.TileURL,
		TileZoom:        settings.TileZoom,
		GeocodeURL:      settings.GeocodeURL,
		WeatherURL:      settings.WeatherURL,
		UserAgent:       settings.UserAgent,
		RefreshInterval: time.Duration(settings.RefreshSeconds) * time.Second,
		PermissionPoll:  time.Duration(settings.PermissionPollSeconds) * time.Second,
		MagTimeout:      time.Duration(settings.MagTimeoutMs) * time.Millisecond,
		Permissions:     geodata.StaticPermission(true),
		Location:        location,
		OpenLocation: func() (geodata.LocationStream, error) {
			return location, nil
		},
		OpenMagnetometer: func() (geodata.Magnetometer, error) {
			return sources.OpenMagnetometer(sensorsCfg)
		},
		OnRateLimited: func(provider string, until time.Time) {
			track("provider_rate_limited")
		},
	})
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer engine.Close()

	h := newHub()
	stream := engine.NewLiveStream(true, func(data *geodata.GeoData, tileURI string) {
		h.publish(overlayPayload{GeoData: data, MapTile: tileURI})
	})
	defer stream.Close()
	track("daemon_started")

	mux := http.NewServeMux()
	mux.HandleFunc("/api/geodata", func(w http.ResponseWriter, r *http.Request) {
		p := h.current()
		if p == nil {
			http.Error(w, "no data yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(p); err != nil {
			log.Printf("json encode error: %v", err)
		}
	})
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		entries, sizeBytes, maxBytes := engine.TileStats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int64{
			"tileEntries":   int64(entries),
			"tileSizeBytes": sizeBytes,
			"tileMaxBytes":  maxBytes,
		})
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		ch := h.add(conn)
		defer h.remove(conn)

		// Replay the latest snapshot so a fresh client renders immediately.
		if p := h.current(); p != nil {
			if err := conn.WriteJSON(p); err != nil {
				return
			}
		}
		for p := range ch {
			if err := conn.WriteJSON(p); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
		}
	})

	server := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		log.Printf("overlay server listening on %s", *addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("shutting down")
	track("daemon_stopped")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
}
