package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	// The bridge runs without telemetry in that case.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed wraps the ping failure that aborted Connect.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps a batch the background writer could not deliver.
	// Device events in that batch are lost; the SQLite cache keeps the last
	// value of each device.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
