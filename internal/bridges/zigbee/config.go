package zigbee

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultBridgeID identifies the bridge in MQTT health and discovery messages.
const DefaultBridgeID = "zigbee"

// Config is the runtime configuration of the Zigbee bridge.
// It is built from the zigbee section of the Gray Logic configuration.
type Config struct {
	// BridgeID is used in health and registration messages. Default: "zigbee".
	BridgeID string

	// Version is reported in health messages.
	Version string

	// Device is an explicit coordinator location (path or tcp://host:port).
	// Empty means: glob DevicePatterns and require exactly one match.
	Device string

	// DevicePatterns are the serial device globs. Default: DefaultDevicePatterns.
	DevicePatterns []string

	// RequestTimeout bounds each coordinator request. Default: 6 seconds.
	RequestTimeout time.Duration

	// Endpoint and ProfileID describe the local application endpoint.
	Endpoint  uint8
	ProfileID uint16

	// RetryInterval is the endpoint enumeration retry period. Default: 20 seconds.
	RetryInterval time.Duration

	// PollInterval is the adapter attribute poll period. Default: 5 seconds.
	PollInterval time.Duration

	// BindingPrefix prefixes binding keys. Default: "zigbee".
	BindingPrefix string

	// MotionModelPrefix selects motion sensors among IAS Zone devices.
	// Default: "IR".
	MotionModelPrefix string

	// DefaultPairingTime is used when a pairing request omits the duration.
	// Default: 60 seconds.
	DefaultPairingTime int

	// HealthInterval is how often health is published. Default: 30 seconds.
	HealthInterval time.Duration
}

// DefaultConfig returns the configuration with every default applied.
func DefaultConfig() Config {
	return Config{
		BridgeID:           DefaultBridgeID,
		Version:            "dev",
		DevicePatterns:     append([]string(nil), DefaultDevicePatterns...),
		RequestTimeout:     defaultRequestTimeout,
		Endpoint:           1,
		ProfileID:          ProfileHomeAutomation,
		RetryInterval:      DefaultRetryInterval,
		PollInterval:       DefaultPollInterval,
		BindingPrefix:      DefaultBindingPrefix,
		MotionModelPrefix:  DefaultMotionModelPrefix,
		DefaultPairingTime: DefaultPairingTime,
		HealthInterval:     30 * time.Second,
	}
}

// Validate checks the configuration, reporting every problem at once.
func (c Config) Validate() error {
	var errs []string

	if c.BridgeID == "" {
		errs = append(errs, "bridge id is required")
	}
	if c.Device == "" && len(c.DevicePatterns) == 0 {
		errs = append(errs, "device or device patterns must be set")
	}
	if c.Endpoint == 0 || c.Endpoint > 240 {
		errs = append(errs, fmt.Sprintf("endpoint must be 1-240, got %d", c.Endpoint))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, "request timeout must be positive")
	}
	if c.RetryInterval <= 0 {
		errs = append(errs, "retry interval must be positive")
	}
	if c.PollInterval <= 0 {
		errs = append(errs, "poll interval must be positive")
	}
	if c.DefaultPairingTime < MinPairingTime || c.DefaultPairingTime > MaxPairingTime {
		errs = append(errs, fmt.Sprintf("default pairing time must be %d-%d, got %d",
			MinPairingTime, MaxPairingTime, c.DefaultPairingTime))
	}

	if len(errs) > 0 {
		return errors.New("zigbee config: " + strings.Join(errs, "; "))
	}
	return nil
}

// ResolveDevice returns the configured device, or the single serial device
// matching DevicePatterns.
func (c Config) ResolveDevice() (string, error) {
	if c.Device != "" {
		return c.Device, nil
	}
	return FindDevicePath(c.DevicePatterns)
}

// ZNPConfig returns the coordinator client configuration for a device.
func (c Config) ZNPConfig(device string) ZNPConfig {
	return ZNPConfig{
		Device:         device,
		RequestTimeout: c.RequestTimeout,
		Endpoint:       c.Endpoint,
		ProfileID:      c.ProfileID,
	}
}
