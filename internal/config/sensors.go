package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LocationSourceConfig selects the GPS backend for the daemon.
type LocationSourceConfig struct {
	// Source is "nmea" or "mqtt".
	Source     string `yaml:"source"`
	SerialPort string `yaml:"serial_port"`
	BaudRate   int    `yaml:"baud_rate"`
}

// MagnetometerSourceConfig selects the magnetometer backend.
type MagnetometerSourceConfig struct {
	// Source is "i2c", "mqtt" or "none".
	Source  string `yaml:"source"`
	I2CBus  string `yaml:"i2c_bus"`
	I2CAddr uint16 `yaml:"i2c_addr"`
}

// MQTTBrokerConfig is shared by both MQTT-backed sources.
type MQTTBrokerConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	FixTopic string `yaml:"fix_topic"`
	MagTopic string `yaml:"mag_topic"`
}

// SensorsConfig is the top-level structure for sensors.yaml.
type SensorsConfig struct {
	Location     LocationSourceConfig     `yaml:"location"`
	Magnetometer MagnetometerSourceConfig `yaml:"magnetometer"`
	MQTT         MQTTBrokerConfig         `yaml:"mqtt"`
}

// DefaultSensorsConfig returns the configuration used when no sensors.yaml
// is present: NMEA GPS on the standard Pi serial port, no magnetometer.
func DefaultSensorsConfig() *SensorsConfig {
	return &SensorsConfig{
		Location: LocationSourceConfig{
			Source:     "nmea",
			SerialPort: "/dev/serial0",
			BaudRate:   9600,
		},
		Magnetometer: MagnetometerSourceConfig{
			Source: "none",
		},
		MQTT: MQTTBrokerConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "geoshot",
			FixTopic: "geoshot/gps",
			MagTopic: "geoshot/mag",
		},
	}
}

// LoadSensorsConfig reads and validates sensors.yaml. A missing file yields
// defaults.
func LoadSensorsConfig(path string) (*SensorsConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultSensorsConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sensors config: %w", err)
	}

	cfg := DefaultSensorsConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse sensors config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks source names and the fields each source requires.
func (c *SensorsConfig) Validate() error {
	switch c.Location.Source {
	case "nmea":
		if c.Location.SerialPort == "" {
			return fmt.Errorf("location source %q requires serial_port", c.Location.Source)
		}
	case "mqtt":
		if c.MQTT.Broker == "" || c.MQTT.FixTopic == "" {
			return fmt.Errorf("location source %q requires mqtt broker and fix_topic", c.Location.Source)
		}
	default:
		return fmt.Errorf("unknown location source %q", c.Location.Source)
	}

	switch c.Magnetometer.Source {
	case "i2c", "none", "":
	case "mqtt":
		if c.MQTT.Broker == "" || c.MQTT.MagTopic == "" {
			return fmt.Errorf("magnetometer source %q requires mqtt broker and mag_topic", c.Magnetometer.Source)
		}
	default:
		return fmt.Errorf("unknown magnetometer source %q", c.Magnetometer.Source)
	}
	return nil
}
