package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Settings represents persistent user preferences for the geo pipeline.
type Settings struct {
	// Cache settings
	CacheDir       string `json:"cacheDir"`
	CacheMaxSizeMB int    `json:"cacheMaxSizeMB"`

	// Tile settings
	TileURL  string `json:"tileURL"`
	TileZoom int    `json:"tileZoom"`

	// Service endpoints
	GeocodeURL string `json:"geocodeURL"`
	WeatherURL string `json:"weatherURL"`
	UserAgent  string `json:"userAgent"`

	// Live stream timers
	RefreshSeconds        int `json:"refreshSeconds"`
	PermissionPollSeconds int `json:"permissionPollSeconds"`
	MagTimeoutMs          int `json:"magTimeoutMs"`
}

// DefaultSettings returns default settings.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	cacheDir := filepath.Join(homeDir, ".geoshot", "cache", "tiles")

	return &Settings{
		CacheDir:              cacheDir,
		CacheMaxSizeMB:        250,
		TileURL:               "https://tile.openstreetmap.org",
		TileZoom:              15,
		GeocodeURL:            "https://nominatim.openstreetmap.org",
		WeatherURL:            "https://api.open-meteo.com/v1",
		UserAgent:             "geoshot/1.0",
		RefreshSeconds:        15,
		PermissionPollSeconds: 2,
		MagTimeoutMs:          1000,
	}
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	homeDir, _ := os.UserHomeDir()
	baseDir := filepath.Join(homeDir, ".geoshot", "settings")
	os.MkdirAll(baseDir, 0755)
	return filepath.Join(baseDir, "settings.json")
}

// LoadSettings loads settings from disk. A missing file yields defaults;
// missing fields in an existing file are merged with defaults.
func LoadSettings() (*Settings, error) {
	return LoadSettingsFrom(SettingsPath())
}

// LoadSettingsFrom loads and default-merges settings from an explicit path.
func LoadSettingsFrom(path string) (*Settings, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultSettings(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	// Merge with defaults for any missing fields
	defaults := DefaultSettings()
	if settings.CacheDir == "" {
		settings.CacheDir = defaults.CacheDir
	}
	if settings.CacheMaxSizeMB == 0 {
		settings.CacheMaxSizeMB = defaults.CacheMaxSizeMB
	}
	if settings.TileURL == "" {
		settings.TileURL = defaults.TileURL
	}
	if settings.TileZoom == 0 {
		settings.TileZoom = defaults.TileZoom
	}
	if settings.GeocodeURL == "" {
		settings.GeocodeURL = defaults.GeocodeURL
	}
	if settings.WeatherURL == "" {
		settings.WeatherURL = defaults.WeatherURL
	}
	if settings.UserAgent == "" {
		settings.UserAgent = defaults.UserAgent
	}
	if settings.RefreshSeconds == 0 {
		settings.RefreshSeconds = defaults.RefreshSeconds
	}
	if settings.PermissionPollSeconds == 0 {
		settings.PermissionPollSeconds = defaults.PermissionPollSeconds
	}
	if settings.MagTimeoutMs == 0 {
		settings.MagTimeoutMs = defaults.MagTimeoutMs
	}

	return &settings, nil
}

// SaveSettings saves settings to disk.
func SaveSettings(settings *Settings) error {
	return SaveSettingsTo(SettingsPath(), settings)
}

// SaveSettingsTo saves settings to an explicit path.
func SaveSettingsTo(path string, settings *Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}
