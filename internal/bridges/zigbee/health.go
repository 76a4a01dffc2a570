package zigbee

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// defaultHealthInterval is the health publish period when none is configured.
const defaultHealthInterval = 30 * time.Second

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// DiscoverySnapshot supplies discovery figures for health messages.
type DiscoverySnapshot func() (DiscoveryStatus, int)

// HealthReporter periodically publishes bridge health to MQTT.
type HealthReporter struct {
	bridgeID  string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	conn      Connector

	firmware   string
	firmwareMu sync.RWMutex

	snapshot   DiscoverySnapshot
	snapshotMu sync.RWMutex

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	BridgeID string
	Version  string

	// Interval is how often to publish. Default: 30 seconds.
	Interval time.Duration

	Publisher HealthPublisher

	// Connector provides coordinator link statistics.
	Connector Connector
}

// NewHealthReporter creates a health reporter. Call Start to begin reporting.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultHealthInterval
	}
	return &HealthReporter{
		bridgeID:  cfg.BridgeID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		conn:      cfg.Connector,
		done:      make(chan struct{}),
	}
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// SetFirmware records the coordinator firmware version for reports.
func (h *HealthReporter) SetFirmware(version string) {
	h.firmwareMu.Lock()
	h.firmware = version
	h.firmwareMu.Unlock()
}

// SetSnapshot installs the discovery figures provider.
func (h *HealthReporter) SetSnapshot(fn DiscoverySnapshot) {
	h.snapshotMu.Lock()
	h.snapshot = fn
	h.snapshotMu.Unlock()
}

// SetLogger sets the logger for this reporter.
func (h *HealthReporter) SetLogger(logger Logger) {
	h.loggerMu.Lock()
	h.logger = logger
	h.loggerMu.Unlock()
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishUnhealthy publishes an "unhealthy" status with a reason.
// Used when the coordinator cannot be brought up.
func (h *HealthReporter) PublishUnhealthy(reason string) error {
	return h.publishStatus(HealthUnhealthy, reason)
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publishStatus(status, reason)
}

// GetLWTPayload returns the Last Will and Testament payload.
func (h *HealthReporter) GetLWTPayload() ([]byte, error) {
	return json.Marshal(NewLWTMessage(h.bridgeID))
}

// GetLWTTopic returns the topic for the Last Will and Testament.
func (h *HealthReporter) GetLWTTopic() string {
	return HealthTopic()
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish initial health", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logError("failed to publish health", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.publisher == nil || !h.publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.conn == nil || !h.conn.IsConnected() {
		return HealthDegraded, "coordinator disconnected"
	}
	if stats := h.conn.Stats(); stats.Reconnecting {
		return HealthDegraded, "coordinator reconnecting"
	}
	return HealthHealthy, ""
}

// BuildMessage assembles a health message for the given status.
func (h *HealthReporter) BuildMessage(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Bridge:        h.bridgeID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Reason:        reason,
	}

	if h.conn != nil {
		stats := h.conn.Stats()
		coord := &CoordinatorStatus{
			Status:          "disconnected",
			FramesReceived:  stats.FramesRx,
			FramesSent:      stats.FramesTx,
			FramesDropped:   stats.FramesDropped,
			Errors:          stats.ErrorsTotal,
			ReconnectsTotal: stats.ReconnectsTotal,
		}
		switch {
		case stats.Connected:
			coord.Status = "connected"
		case stats.Reconnecting:
			coord.Status = "connecting"
		}
		h.firmwareMu.RLock()
		coord.Firmware = h.firmware
		h.firmwareMu.RUnlock()
		msg.Coordinator = coord
	}

	h.snapshotMu.RLock()
	snapshot := h.snapshot
	h.snapshotMu.RUnlock()
	if snapshot != nil {
		ds, devices := snapshot()
		msg.Discovery = &ds
		msg.DevicesManaged = devices
	}
	return msg
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(h.BuildMessage(status, reason))
	if err != nil {
		return err
	}
	return h.publisher.Publish(HealthTopic(), payload, 1, true)
}

func (h *HealthReporter) logError(msg string, err error) {
	h.loggerMu.RLock()
	logger := h.logger
	h.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
