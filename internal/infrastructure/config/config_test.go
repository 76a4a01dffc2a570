package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8091
zigbee:
  enabled: true
  transport:
    device: "tcp://192.168.1.40:6638"
  discovery:
    retry_interval: 10
    binding_prefix: "zb"
  pairing:
    default_time: 120
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}
	if cfg.Zigbee.Transport.Device != "tcp://192.168.1.40:6638" {
		t.Errorf("Zigbee.Transport.Device = %q", cfg.Zigbee.Transport.Device)
	}
	if cfg.Zigbee.Discovery.RetryInterval != 10 {
		t.Errorf("Zigbee.Discovery.RetryInterval = %d, want 10", cfg.Zigbee.Discovery.RetryInterval)
	}
	if cfg.Zigbee.Discovery.BindingPrefix != "zb" {
		t.Errorf("Zigbee.Discovery.BindingPrefix = %q, want %q", cfg.Zigbee.Discovery.BindingPrefix, "zb")
	}
	if cfg.Zigbee.Pairing.DefaultTime != 120 {
		t.Errorf("Zigbee.Pairing.DefaultTime = %d, want 120", cfg.Zigbee.Pairing.DefaultTime)
	}

	// Unset keys keep their defaults
	if cfg.Zigbee.Discovery.PollInterval != 5 {
		t.Errorf("Zigbee.Discovery.PollInterval = %d, want default 5", cfg.Zigbee.Discovery.PollInterval)
	}
	if cfg.Zigbee.Discovery.MotionModelPrefix != "IR" {
		t.Errorf("Zigbee.Discovery.MotionModelPrefix = %q, want default %q", cfg.Zigbee.Discovery.MotionModelPrefix, "IR")
	}
	if cfg.Zigbee.Coordinator.ProfileID != 0x0104 {
		t.Errorf("Zigbee.Coordinator.ProfileID = %#x, want 0x0104", cfg.Zigbee.Coordinator.ProfileID)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
api:
  port: 8091
zigbee:
  pairing:
    default_time: 255
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for pairing time 255, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"missing site ID", func(c *Config) { c.Site.ID = "" }, true},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, true},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, true},
		{"invalid port low", func(c *Config) { c.API.Port = 0 }, true},
		{"invalid port high", func(c *Config) { c.API.Port = 70000 }, true},
		{"no device and no patterns", func(c *Config) { c.Zigbee.Transport.Patterns = nil }, true},
		{"explicit device without patterns", func(c *Config) {
			c.Zigbee.Transport.Patterns = nil
			c.Zigbee.Transport.Device = "/dev/ttyACM0"
		}, false},
		{"request timeout zero", func(c *Config) { c.Zigbee.Transport.RequestTimeout = 0 }, true},
		{"endpoint zero", func(c *Config) { c.Zigbee.Coordinator.Endpoint = 0 }, true},
		{"endpoint above 240", func(c *Config) { c.Zigbee.Coordinator.Endpoint = 241 }, true},
		{"profile too large", func(c *Config) { c.Zigbee.Coordinator.ProfileID = 0x10000 }, true},
		{"retry interval zero", func(c *Config) { c.Zigbee.Discovery.RetryInterval = 0 }, true},
		{"poll interval zero", func(c *Config) { c.Zigbee.Discovery.PollInterval = 0 }, true},
		{"pairing time zero", func(c *Config) { c.Zigbee.Pairing.DefaultTime = 0 }, true},
		{"pairing time 254", func(c *Config) { c.Zigbee.Pairing.DefaultTime = 254 }, false},
		{"pairing time 255", func(c *Config) { c.Zigbee.Pairing.DefaultTime = 255 }, true},
		{"disabled zigbee skips its checks", func(c *Config) {
			c.Zigbee.Enabled = false
			c.Zigbee.Pairing.DefaultTime = 0
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestSeconds(t *testing.T) {
	if got := Seconds(20); got != 20*time.Second {
		t.Errorf("Seconds(20) = %v, want 20s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("GRAYLOGIC_DATABASE_PATH", "/custom/path.db")
	t.Setenv("GRAYLOGIC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("GRAYLOGIC_MQTT_USERNAME", "testuser")
	t.Setenv("GRAYLOGIC_MQTT_PASSWORD", "testpass")
	t.Setenv("GRAYLOGIC_API_HOST", "192.168.1.1")
	t.Setenv("GRAYLOGIC_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("GRAYLOGIC_ZIGBEE_DEVICE", "/dev/ttyUSB3")
	t.Setenv("GRAYLOGIC_ZIGBEE_PAIRING_TIME", "90")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Zigbee.Transport.Device != "/dev/ttyUSB3" {
		t.Errorf("Zigbee.Transport.Device = %q, want %q", cfg.Zigbee.Transport.Device, "/dev/ttyUSB3")
	}
	if cfg.Zigbee.Pairing.DefaultTime != 90 {
		t.Errorf("Zigbee.Pairing.DefaultTime = %d, want 90", cfg.Zigbee.Pairing.DefaultTime)
	}
}

func TestApplyEnvOverrides_InvalidPairingTime(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("GRAYLOGIC_ZIGBEE_PAIRING_TIME", "soon")

	applyEnvOverrides(cfg)

	if cfg.Zigbee.Pairing.DefaultTime != 60 {
		t.Errorf("Zigbee.Pairing.DefaultTime = %d, want default 60", cfg.Zigbee.Pairing.DefaultTime)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Site.ID == "" {
		t.Error("defaultConfig should have non-empty Site.ID")
	}
	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8091 {
		t.Errorf("defaultConfig API.Port = %d, want 8091", cfg.API.Port)
	}
	if cfg.Zigbee.Discovery.RetryInterval != 20 {
		t.Errorf("defaultConfig Zigbee.Discovery.RetryInterval = %d, want 20", cfg.Zigbee.Discovery.RetryInterval)
	}
	if cfg.Zigbee.Pairing.DefaultTime != 60 {
		t.Errorf("defaultConfig Zigbee.Pairing.DefaultTime = %d, want 60", cfg.Zigbee.Pairing.DefaultTime)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig should validate: %v", err)
	}
}
