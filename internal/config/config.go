// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/caarlos0/env/v6"
)

// Config holds all application configuration values.
type Config struct {
	// MQTT / device management
	MQTTBroker   string
	MQTTClientID string
	DeviceID     string
	TopicRoot    string

	// GPS
	GPSSerialPort  string
	GPSBaudRate    int
	GPSReadTimeout int // milliseconds
	RecordLength   int // bytes, including the terminator slot

	// Queue
	QueuePath          string
	QueueMaxRecords    int
	QueueBufferRecords int

	// Upload
	UploadHost            string
	UploadPort            int
	UploadChunkBytes      int
	UploadMaxChunks       int
	UploadRoundBudget     int // milliseconds
	UploadResponseTimeout int // milliseconds
	UploadConnectTimeout  int // milliseconds
	UploadMinSamples      int
	UploadCheckInterval   int // milliseconds

	// Timing
	CaptureInterval int // milliseconds
	MetricsInterval int // milliseconds

	// Watchdog GPIO pin name; empty disables the hardware keep-alive.
	WatchdogGPIO string

	// Dev collector
	CollectorPort int
}

// envOverrides are applied after the file so a fleet image can share one
// config file and set the per-device values from the environment.
type envOverrides struct {
	DeviceID   string `env:"UPLINK_DEVICE_ID"`
	UploadHost string `env:"UPLINK_HOST"`
	UploadPort int    `env:"UPLINK_PORT"`
	MQTTBroker string `env:"MQTT_BROKER"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Defaults returns a Config populated with the stock values. Required
// fields (broker, device id, serial port) are left empty.
func Defaults() *Config {
	return &Config{
		TopicRoot:             "devices/",
		GPSBaudRate:           9600,
		GPSReadTimeout:        200, // ~2 NMEA sentences at 9600 bps
		RecordLength:          100,
		QueuePath:             "gpsqueue.db",
		QueueMaxRecords:       100000,
		QueueBufferRecords:    10,
		UploadHost:            "api.devices.stutzthings.com",
		UploadPort:            80,
		UploadChunkBytes:      1150,
		UploadMaxChunks:       10,
		UploadRoundBudget:     10000,
		UploadResponseTimeout: 5000,
		UploadConnectTimeout:  5000,
		UploadMinSamples:      10,
		UploadCheckInterval:   1000,
		CaptureInterval:       1000,
		MetricsInterval:       60000,
		CollectorPort:         8080,
	}
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Defaults()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if cfg.MQTTClientID == "" && cfg.DeviceID != "" {
		cfg.MQTTClientID = "gps-uplink-" + cfg.DeviceID
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	if o.DeviceID != "" {
		c.DeviceID = o.DeviceID
	}
	if o.UploadHost != "" {
		c.UploadHost = o.UploadHost
	}
	if o.UploadPort != 0 {
		c.UploadPort = o.UploadPort
	}
	if o.MQTTBroker != "" {
		c.MQTTBroker = o.MQTTBroker
	}
	return nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	switch key {
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID":
		c.MQTTClientID = value
	case "DEVICE_ID":
		c.DeviceID = value
	case "TOPIC_ROOT":
		c.TopicRoot = value

	case "GPS_SERIAL_PORT":
		c.GPSSerialPort = value
	case "GPS_BAUD_RATE":
		return setPositive(&c.GPSBaudRate, key, value)
	case "GPS_READ_TIMEOUT":
		return setPositive(&c.GPSReadTimeout, key, value)
	case "RECORD_LENGTH":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid RECORD_LENGTH %q: %w", value, err)
		}
		// "$GPGGA*hh" plus the terminator slot
		if n < 10 {
			return fmt.Errorf("RECORD_LENGTH must be at least 10, got %d", n)
		}
		c.RecordLength = n

	case "QUEUE_PATH":
		c.QueuePath = value
	case "QUEUE_MAX_RECORDS":
		return setPositive(&c.QueueMaxRecords, key, value)
	case "QUEUE_BUFFER_RECORDS":
		return setNonNegative(&c.QueueBufferRecords, key, value)

	case "UPLOAD_HOST":
		c.UploadHost = value
	case "UPLOAD_PORT":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid UPLOAD_PORT %q: %w", value, err)
		}
		if port < 1 || port > 65535 {
			return fmt.Errorf("UPLOAD_PORT must be 1-65535, got %d", port)
		}
		c.UploadPort = port
	case "UPLOAD_CHUNK_BYTES":
		return setPositive(&c.UploadChunkBytes, key, value)
	case "UPLOAD_MAX_CHUNKS":
		return setPositive(&c.UploadMaxChunks, key, value)
	case "UPLOAD_ROUND_BUDGET":
		return setPositive(&c.UploadRoundBudget, key, value)
	case "UPLOAD_RESPONSE_TIMEOUT":
		return setPositive(&c.UploadResponseTimeout, key, value)
	case "UPLOAD_CONNECT_TIMEOUT":
		return setPositive(&c.UploadConnectTimeout, key, value)
	case "UPLOAD_MIN_SAMPLES":
		return setNonNegative(&c.UploadMinSamples, key, value)
	case "UPLOAD_CHECK_INTERVAL":
		return setPositive(&c.UploadCheckInterval, key, value)

	case "CAPTURE_INTERVAL":
		return setPositive(&c.CaptureInterval, key, value)
	case "METRICS_INTERVAL":
		return setPositive(&c.MetricsInterval, key, value)

	case "WATCHDOG_GPIO":
		c.WatchdogGPIO = value

	case "COLLECTOR_PORT":
		return setPositive(&c.CollectorPort, key, value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return nil
}

func setPositive(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if n <= 0 {
		return fmt.Errorf("%s must be positive, got %d", key, n)
	}
	*dst = n
	return nil
}

func setNonNegative(dst *int, key, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if n < 0 {
		return fmt.Errorf("%s must not be negative, got %d", key, n)
	}
	*dst = n
	return nil
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.DeviceID == "" {
		return fmt.Errorf("DEVICE_ID is required")
	}
	if c.GPSSerialPort == "" {
		return fmt.Errorf("GPS_SERIAL_PORT is required")
	}
	if c.UploadHost == "" {
		return fmt.Errorf("UPLOAD_HOST is required")
	}
	if c.RecordLength >= c.UploadChunkBytes {
		return fmt.Errorf("RECORD_LENGTH (%d) must be smaller than UPLOAD_CHUNK_BYTES (%d)", c.RecordLength, c.UploadChunkBytes)
	}
	return nil
}

// UploadPath is the request path (without the leading slash) for bulk
// uploads: topic root + device id + "/gps/raw".
func (c *Config) UploadPath() string {
	return c.TopicRoot + c.DeviceID + "/gps/raw"
}

// NodeTopic is the MQTT topic prefix under which the gps node publishes
// its properties.
func (c *Config) NodeTopic() string {
	return c.TopicRoot + c.DeviceID + "/gps"
}

// InitGlobal initializes the global configuration from file.
// Only the first call has any effect.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
