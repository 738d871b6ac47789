// Package sources constructs the configured hardware backends for the
// command binaries.
package sources

import (
	"fmt"

	"github.com/sddion/geoshot/geodata"
	"github.com/sddion/geoshot/internal/config"
	"github.com/sddion/geoshot/sensors"
)

// LocationSource is a GPS backend serving both one-shot reads and the
// continuous stream. Both sensor backends satisfy it.
type LocationSource interface {
	geodata.LocationProvider
	geodata.LocationStream
}

// OpenLocation opens the GPS backend named by the config.
func OpenLocation(cfg *config.SensorsConfig) (LocationSource, error) {
	switch cfg.Location.Source {
	case "nmea":
		return sensors.OpenNMEASource(sensors.NMEAConfig{
			Port:     cfg.Location.SerialPort,
			BaudRate: uint(cfg.Location.BaudRate),
		})
	case "mqtt":
		return sensors.OpenMQTTSource(sensors.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			FixTopic: cfg.MQTT.FixTopic,
		})
	}
	return nil, fmt.Errorf("unknown location source %q", cfg.Location.Source)
}

// OpenMagnetometer opens the magnetometer backend named by the config. A
// "none" (or empty) source yields nil without error.
func OpenMagnetometer(cfg *config.SensorsConfig) (geodata.Magnetometer, error) {
	switch cfg.Magnetometer.Source {
	case "", "none":
		return nil, nil
	case "i2c":
		return sensors.OpenI2CMagnetometer(sensors.I2CMagnetometerConfig{
			Bus:  cfg.Magnetometer.I2CBus,
			Addr: cfg.Magnetometer.I2CAddr,
		})
	case "mqtt":
		return sensors.OpenMQTTMagnetometer(sensors.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			MagTopic: cfg.MQTT.MagTopic,
		})
	}
	return nil, fmt.Errorf("unknown magnetometer source %q", cfg.Magnetometer.Source)
}
