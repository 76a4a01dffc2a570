package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Gray Logic Zigbee bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Zigbee   ZigbeeConfig   `yaml:"zigbee"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// ZigbeeConfig contains Zigbee bridge settings.
type ZigbeeConfig struct {
	Enabled     bool                    `yaml:"enabled"`
	Transport   ZigbeeTransportConfig   `yaml:"transport"`
	Coordinator ZigbeeCoordinatorConfig `yaml:"coordinator"`
	Discovery   ZigbeeDiscoveryConfig   `yaml:"discovery"`
	Pairing     ZigbeePairingConfig     `yaml:"pairing"`

	// HealthInterval is how often bridge health is published (in seconds).
	// Default: 30
	HealthInterval int `yaml:"health_interval"`
}

// ZigbeeTransportConfig configures the link to the coordinator dongle.
type ZigbeeTransportConfig struct {
	// Device is an explicit coordinator location: a serial path or
	// tcp://host:port. Empty means glob Patterns and require exactly one match.
	Device string `yaml:"device"`

	// Patterns are the serial device globs searched when Device is empty.
	// Default: ["/dev/ttyACM*", "/dev/ttyUSB*", "/dev/cu.usbmodem*"]
	Patterns []string `yaml:"patterns"`

	// RequestTimeout bounds each coordinator request (in seconds).
	// Default: 6
	RequestTimeout int `yaml:"request_timeout"`
}

// ZigbeeCoordinatorConfig describes the local application endpoint.
type ZigbeeCoordinatorConfig struct {
	// Endpoint is the coordinator's application endpoint (1-240). Default: 1
	Endpoint int `yaml:"endpoint"`

	// ProfileID is the application profile. Default: 260 (0x0104 Home Automation)
	ProfileID int `yaml:"profile_id"`
}

// ZigbeeDiscoveryConfig contains device discovery settings.
type ZigbeeDiscoveryConfig struct {
	// RetryInterval is how long a node without endpoints waits before
	// enumeration is re-sent (in seconds). Default: 20
	RetryInterval int `yaml:"retry_interval"`

	// PollInterval is the attribute poll period of polling adapters
	// (in seconds). Default: 5
	PollInterval int `yaml:"poll_interval"`

	// BindingPrefix prefixes every binding key. Default: "zigbee"
	BindingPrefix string `yaml:"binding_prefix"`

	// MotionModelPrefix marks IAS Zone devices whose model starts with it
	// as motion sensors; the rest are contact sensors. Default: "IR"
	MotionModelPrefix string `yaml:"motion_model_prefix"`
}

// ZigbeePairingConfig contains pairing window settings.
type ZigbeePairingConfig struct {
	// DefaultTime is the window length when a request gives none
	// (in seconds, 1-254). Default: 60
	DefaultTime int `yaml:"default_time"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Database: DatabaseConfig{
			Path:        "./data/zigbee.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-zigbee",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8091,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Zigbee: ZigbeeConfig{
			Enabled: true,
			Transport: ZigbeeTransportConfig{
				Patterns:       []string{"/dev/ttyACM*", "/dev/ttyUSB*", "/dev/cu.usbmodem*"},
				RequestTimeout: 6,
			},
			Coordinator: ZigbeeCoordinatorConfig{
				Endpoint:  1,
				ProfileID: 0x0104,
			},
			Discovery: ZigbeeDiscoveryConfig{
				RetryInterval:     20,
				PollInterval:      5,
				BindingPrefix:     "zigbee",
				MotionModelPrefix: "IR",
			},
			Pairing: ZigbeePairingConfig{
				DefaultTime: 60,
			},
			HealthInterval: 30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Zigbee
	if v := os.Getenv("GRAYLOGIC_ZIGBEE_DEVICE"); v != "" {
		cfg.Zigbee.Transport.Device = v
	}
	if v := os.Getenv("GRAYLOGIC_ZIGBEE_PAIRING_TIME"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Zigbee.Pairing.DefaultTime = n
		}
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Zigbee validation
	if c.Zigbee.Enabled {
		z := c.Zigbee
		if z.Transport.Device == "" && len(z.Transport.Patterns) == 0 {
			errs = append(errs, "zigbee.transport.device or zigbee.transport.patterns is required")
		}
		if z.Transport.RequestTimeout < 1 {
			errs = append(errs, "zigbee.transport.request_timeout must be at least 1 second")
		}
		if z.Coordinator.Endpoint < 1 || z.Coordinator.Endpoint > 240 {
			errs = append(errs, "zigbee.coordinator.endpoint must be between 1 and 240")
		}
		if z.Coordinator.ProfileID < 0 || z.Coordinator.ProfileID > 0xFFFF {
			errs = append(errs, "zigbee.coordinator.profile_id must fit in 16 bits")
		}
		if z.Discovery.RetryInterval < 1 {
			errs = append(errs, "zigbee.discovery.retry_interval must be at least 1 second")
		}
		if z.Discovery.PollInterval < 1 {
			errs = append(errs, "zigbee.discovery.poll_interval must be at least 1 second")
		}
		if z.Pairing.DefaultTime < 1 || z.Pairing.DefaultTime > 254 {
			errs = append(errs, "zigbee.pairing.default_time must be between 1 and 254")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// Seconds converts a whole-second setting to a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
