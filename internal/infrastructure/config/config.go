package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for a baozi node.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Link     LinkConfig     `yaml:"link"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	OTA      OTAConfig      `yaml:"ota"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
	Boot     BootConfig     `yaml:"boot"`
}

// DeviceConfig identifies the node.
type DeviceConfig struct {
	// Name is the device name used for topics and mDNS. Empty derives
	// "baozi-<mac>" from the link interface.
	Name string `yaml:"name"`

	// Advertise publishes the node over mDNS once the bus is up.
	Advertise bool `yaml:"advertise"`

	// Service is the mDNS service type the node advertises.
	Service string `yaml:"service"`
}

// LinkConfig contains link-layer settings.
type LinkConfig struct {
	Interface       string      `yaml:"interface"`
	SSID            string      `yaml:"ssid"`
	Password        string      `yaml:"password"`
	RetryCeiling    int         `yaml:"retry_ceiling"`
	AccessPointSSID string      `yaml:"access_point_ssid"`
	PollInterval    int         `yaml:"poll_interval"` // seconds
	Wait            RetryConfig `yaml:"wait"`
}

// RetryConfig bounds a wait loop: Attempts tries, Interval seconds apart.
type RetryConfig struct {
	Attempts int `yaml:"attempts"`
	Interval int `yaml:"interval"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
	Discovery MQTTDiscoveryConfig `yaml:"discovery"`
	Wait      RetryConfig         `yaml:"wait"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
// An empty Host makes the node look for a broker over mDNS.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// MQTTDiscoveryConfig controls the mDNS broker lookup.
type MQTTDiscoveryConfig struct {
	Service string      `yaml:"service"`
	Domain  string      `yaml:"domain"`
	Timeout int         `yaml:"timeout"` // seconds per browse
	Retry   RetryConfig `yaml:"retry"`
}

// OTAConfig contains firmware-update listener settings.
type OTAConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Port            int    `yaml:"port"`
	ChunkSize       int    `yaml:"chunk_size"`
	MinImageSize    int    `yaml:"min_image_size"`
	WatchdogTimeout int    `yaml:"watchdog_timeout"` // seconds
	RebootDelay     int    `yaml:"reboot_delay"`     // seconds
	SlotsDir        string `yaml:"slots_dir"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// MetricsConfig contains Prometheus exporter settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// BootConfig contains boot supervisor settings.
type BootConfig struct {
	// Args are passed to the node binary.
	Args []string `yaml:"args"`

	// FactoryImage is run when no slot has been committed.
	FactoryImage string `yaml:"factory_image"`

	// RestartDelay is the wait in seconds before relaunching after a crash.
	RestartDelay int `yaml:"restart_delay"`

	// MaxRestartAttempts limits consecutive crash restarts. 0 means unlimited.
	MaxRestartAttempts int `yaml:"max_restart_attempts"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BAOZI_SECTION_KEY
// For example: BAOZI_LINK_SSID, BAOZI_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration, used when no file is given.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Advertise: true,
			Service:   "_baozi._udp",
		},
		Link: LinkConfig{
			Interface:       "wlan0",
			RetryCeiling:    15,
			AccessPointSSID: "BAOZI_AP",
			PollInterval:    1,
			Wait:            RetryConfig{Attempts: 15, Interval: 2},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Port: 1883,
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			Discovery: MQTTDiscoveryConfig{
				Service: "_mqtt._tcp",
				Domain:  "local.",
				Timeout: 5,
				Retry:   RetryConfig{Attempts: 15, Interval: 10},
			},
			Wait: RetryConfig{Attempts: 15, Interval: 5},
		},
		OTA: OTAConfig{
			Enabled:         true,
			Port:            3232,
			ChunkSize:       1024,
			MinImageSize:    1000,
			WatchdogTimeout: 10,
			RebootDelay:     5,
			SlotsDir:        "./data/slots",
		},
		Database: DatabaseConfig{
			Path:        "./data/baozi.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9101",
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Boot: BootConfig{
			RestartDelay:       5,
			MaxRestartAttempts: 10,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BAOZI_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("BAOZI_DEVICE_NAME"); v != "" {
		cfg.Device.Name = v
	}

	// Link
	if v := os.Getenv("BAOZI_LINK_INTERFACE"); v != "" {
		cfg.Link.Interface = v
	}
	if v := os.Getenv("BAOZI_LINK_SSID"); v != "" {
		cfg.Link.SSID = v
	}
	if v := os.Getenv("BAOZI_LINK_PASSWORD"); v != "" {
		cfg.Link.Password = v
	}

	// MQTT
	if v := os.Getenv("BAOZI_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BAOZI_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("BAOZI_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BAOZI_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// OTA
	if v := os.Getenv("BAOZI_OTA_SLOTS_DIR"); v != "" {
		cfg.OTA.SlotsDir = v
	}

	// Database
	if v := os.Getenv("BAOZI_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("BAOZI_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("BAOZI_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Link validation
	if c.Link.Interface == "" {
		errs = append(errs, "link.interface is required")
	}
	if c.Link.RetryCeiling < 1 {
		errs = append(errs, "link.retry_ceiling must be at least 1")
	}
	if (c.Link.SSID == "") != (c.Link.Password == "") {
		errs = append(errs, "link.ssid and link.password must be set together")
	}

	// MQTT validation
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.Host == "" && c.MQTT.Discovery.Service == "" {
		errs = append(errs, "mqtt.broker.host or mqtt.discovery.service is required")
	}

	// OTA validation
	if c.OTA.Enabled {
		if c.OTA.Port < 1 || c.OTA.Port > 65535 {
			errs = append(errs, "ota.port must be between 1 and 65535")
		}
		if c.OTA.ChunkSize < 1 {
			errs = append(errs, "ota.chunk_size must be positive")
		}
		if c.OTA.WatchdogTimeout < 1 {
			errs = append(errs, "ota.watchdog_timeout must be at least 1 second")
		}
		if c.OTA.SlotsDir == "" {
			errs = append(errs, "ota.slots_dir is required")
		}
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Seconds converts a whole-second config value to a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// BrokerURL returns the broker URL for host, honouring the TLS setting.
func (c MQTTConfig) BrokerURL(host string, port int) string {
	scheme := "tcp"
	if c.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}
