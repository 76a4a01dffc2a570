package zigbee

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Bridge operation constants.
const (
	// minTopicParts is graylogic/{type}/zigbee/{id}.
	minTopicParts = 4

	// commandTimeout bounds a device command including its confirming read.
	commandTimeout = 10 * time.Second

	// startupTimeout bounds the firmware handshake and coordinator start.
	startupTimeout = 30 * time.Second
)

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Telemetry stores device values as time series. Optional.
type Telemetry interface {
	WriteDeviceEvent(key string, category int, value any, ts time.Time)
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	Config     Config
	MQTTClient MQTTClient
	Connector  Connector

	Logger Logger

	// Recorder persists discovery and provides the startup replay. Optional.
	Recorder *NodeRecorder

	// Telemetry receives device values. Optional.
	Telemetry Telemetry

	// Registerer, if set, receives the bridge's Prometheus collectors.
	Registerer prometheus.Registerer
}

// Bridge connects the Zigbee network to Gray Logic Core over MQTT.
// It handles:
//   - Bringing up the coordinator and replaying known nodes
//   - Registering bound devices and publishing their data events
//   - Device commands and pairing requests from Core
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	cfg       Config
	mqtt      MQTTClient
	conn      Connector
	health    *HealthReporter
	discovery *DiscoveryCoordinator
	pairing   *PairingWindow
	recorder  *NodeRecorder
	telemetry Telemetry
	metrics   *Metrics

	firmware   string
	firmwareMu sync.RWMutex

	// Shutdown coordination
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger Logger
}

// NewBridge creates a bridge. Call Start to bring the coordinator up.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Connector == nil {
		return nil, fmt.Errorf("coordinator connector is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:       opts.Config,
		mqtt:      opts.MQTTClient,
		conn:      opts.Connector,
		recorder:  opts.Recorder,
		telemetry: opts.Telemetry,
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}

	discovery, err := NewDiscoveryCoordinator(DiscoveryConfig{
		Conn:          opts.Connector,
		Resolver:      NewEndpointResolver(opts.Connector, opts.Config.ProfileID, opts.Logger),
		Registry:      DefaultClusterRegistry(ZoneClassifier(opts.Config.MotionModelPrefix)),
		Sink:          b,
		Observer:      b,
		RetryInterval: opts.Config.RetryInterval,
		BindingPrefix: opts.Config.BindingPrefix,
		Adapter:       AdapterOptions{PollInterval: opts.Config.PollInterval, Logger: opts.Logger},
		Logger:        opts.Logger,
	})
	if err != nil {
		ctxCancel()
		return nil, err
	}
	b.discovery = discovery
	if opts.Registerer != nil {
		b.metrics = NewMetrics(opts.Registerer, discovery.PendingRetries, opts.Connector.IsConnected)
	}
	b.pairing = NewPairingWindow(opts.Connector, b, opts.Logger)

	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  opts.Config.BridgeID,
		Version:   opts.Config.Version,
		Interval:  opts.Config.HealthInterval,
		Publisher: opts.MQTTClient,
		Connector: opts.Connector,
	})
	b.health.SetSnapshot(b.discoverySnapshot)
	if opts.Logger != nil {
		b.health.SetLogger(opts.Logger)
	}

	return b, nil
}

// Start brings the coordinator up and begins operation.
//
// Sequence: firmware handshake → coordinator start → MQTT subscriptions →
// health reporting → replay of recorded nodes.
//
// Returns:
//   - error: ErrTransport if the coordinator cannot be brought up (the
//     bridge stays inactive), or a subscription failure
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	firmware, err := b.conn.FirmwareVersion(startCtx)
	if err != nil {
		b.publishUnhealthy("coordinator unreachable")
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	b.firmwareMu.Lock()
	b.firmware = firmware
	b.firmwareMu.Unlock()
	b.health.SetFirmware(firmware)
	b.logInfo("coordinator firmware", "version", firmware)

	if err := b.conn.StartCoordinator(startCtx); err != nil {
		b.publishUnhealthy("coordinator start failed")
		if errors.Is(err, ErrTransport) {
			return err
		}
		return fmt.Errorf("%w: start coordinator: %w", ErrTransport, err)
	}
	b.logInfo("coordinator started, searching for devices")

	commandTopic := CommandSubscribeTopic()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	requestTopic := RequestSubscribeTopic()
	if err := b.mqtt.Subscribe(requestTopic, 1, b.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribe to requests: %w", err)
	}
	b.logInfo("subscribed to requests", "topic", requestTopic)

	b.health.Start(ctx)

	b.replayKnownNodes(ctx)

	b.logInfo("bridge started", "bridge_id", b.cfg.BridgeID)
	return nil
}

// replayKnownNodes feeds recorded nodes through discovery.
func (b *Bridge) replayKnownNodes(ctx context.Context) {
	if b.recorder == nil {
		return
	}
	nodes, err := b.recorder.KnownNodes(ctx)
	if err != nil {
		b.logError("failed to load known nodes", err)
		return
	}
	if len(nodes) > 0 {
		b.logInfo("replaying known nodes", "count", len(nodes))
	}
	b.discovery.Replay(nodes)
}

// Stop gracefully shuts down the bridge. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()

		b.pairing.Close()

		// Stopping discovery stops every adapter, which closes the event
		// channels the forwarders range over.
		b.discovery.Stop()

		b.health.Stop()

		b.wg.Wait()

		b.logInfo("bridge stopped")
	})
}

// DeviceReady registers a bound device with Core and starts forwarding
// its events. Implements DeviceSink.
func (b *Bridge) DeviceReady(d DeviceAdapter) {
	msg := NewRegisterMessage(b.cfg.BridgeID, d)
	if err := b.publishJSON(DiscoveryTopic(), msg, false); err != nil {
		b.logError("failed to publish device registration", err)
	}
	b.logInfo("device registered", "key", d.Key(), "name", d.Name(), "category", d.Category().Code)

	if b.recorder != nil {
		b.recorder.RecordDevice(d)
	}

	b.wg.Add(1)
	go b.forwardEvents(d)
}

// forwardEvents publishes a device's data events until its channel closes.
func (b *Bridge) forwardEvents(d DeviceAdapter) {
	defer b.wg.Done()

	var reportedDrops uint64
	for ev := range d.Events() {
		if err := b.publishJSON(StateTopic(ev.Key, ev.Category.Code), NewStateMessage(ev), true); err != nil {
			b.logError("failed to publish state", err)
		}
		if b.telemetry != nil {
			b.telemetry.WriteDeviceEvent(ev.Key, ev.Category.Code, ev.Value, ev.Timestamp)
		}
		if b.recorder != nil {
			b.recorder.RecordEvent(ev)
		}
		b.metrics.EventPublished(ev.Category)

		if dropped := d.Dropped(); dropped > reportedDrops {
			b.metrics.EventsDropped(dropped - reportedDrops)
			reportedDrops = dropped
		}
	}
}

// PairingClosed announces the end of a pairing window. Implements PairingAnnouncer.
func (b *Bridge) PairingClosed() {
	b.metrics.PairingClosed()
	msg := AnnounceMessage{
		Bridge:    b.cfg.BridgeID,
		Timestamp: time.Now().UTC(),
		Event:     AnnouncePairingClosed,
		Message:   "Pairing mode disabled",
	}
	if err := b.publishJSON(AnnounceTopic(), msg, false); err != nil {
		b.logError("failed to publish pairing announcement", err)
	}
}

// StartPairing opens the pairing window. Zero seconds uses the configured default.
func (b *Bridge) StartPairing(ctx context.Context, seconds int) (string, error) {
	if seconds == 0 {
		seconds = b.cfg.DefaultPairingTime
	}
	confirmation, err := b.pairing.Open(ctx, seconds)
	if err != nil {
		return "", err
	}
	b.metrics.PairingOpened()
	return confirmation, nil
}

// PairingState reports whether a pairing window is open and when it closes.
func (b *Bridge) PairingState() (bool, time.Time) {
	return b.pairing.IsOpen()
}

// Devices returns the bound devices.
func (b *Bridge) Devices() []DeviceAdapter {
	return b.discovery.Devices()
}

// Discovery returns the discovery coordinator.
func (b *Bridge) Discovery() *DiscoveryCoordinator {
	return b.discovery
}

// Recorder returns the node recorder, nil when not configured.
func (b *Bridge) Recorder() *NodeRecorder {
	return b.recorder
}

// Health returns the health reporter (used for the MQTT LWT).
func (b *Bridge) Health() *HealthReporter {
	return b.health
}

// DiscoveryObserver implementation: fan out to recorder and metrics.

// NodeSeen implements DiscoveryObserver.
func (b *Bridge) NodeSeen(node *Node, isNew bool) {
	b.metrics.NodeSeen(isNew)
	if b.recorder != nil {
		b.recorder.RecordNode(node)
	}
}

// EnumerationRequested implements DiscoveryObserver.
func (b *Bridge) EnumerationRequested(_ *Node, retry bool) {
	b.metrics.EnumerationRequested(retry)
}

// EndpointResolved implements DiscoveryObserver.
func (b *Bridge) EndpointResolved(node *Node, info EndpointInfo) {
	b.metrics.EndpointResolved()
	if b.recorder != nil {
		b.recorder.RecordEndpoint(node.IEEEAddress, info)
		b.recorder.RecordStatus(node.IEEEAddress, node.Status)
	}
}

// DeviceBound implements DiscoveryObserver.
func (b *Bridge) DeviceBound(d DeviceAdapter) {
	b.metrics.DeviceBound(d.Category())
	if b.recorder != nil {
		b.recorder.RecordStatus(d.Binding().Node, NodeStatusBound)
	}
}

// handleMQTTMessage routes incoming MQTT messages to appropriate handlers.
// Topics: graylogic/command/zigbee/{key}/{category},
// graylogic/request/zigbee/{request_id}.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	parts := strings.SplitN(topic, "/", minTopicParts)
	if len(parts) < minTopicParts {
		b.logError("invalid topic format", fmt.Errorf("topic: %s", topic))
		return
	}

	switch parts[1] {
	case "command":
		b.handleCommand(parts[3], payload)
	case "request":
		b.handleRequest(parts[3], payload)
	default:
		b.logError("unknown message type", fmt.Errorf("type: %s", parts[1]))
	}
}

// handleCommand passes a command value to a writable device and acknowledges it.
func (b *Bridge) handleCommand(address string, payload []byte) {
	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.logError("failed to parse command", err)
		return
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	key, category, err := ParseDeviceAddress(address)
	if err != nil {
		b.publishAckError(cmd, address, 0, ErrCodeDeviceNotFound, err.Error())
		return
	}

	b.logInfo("received command", "command_id", cmd.ID, "key", key, "category", category)

	device, err := b.discovery.Device(key, category)
	if err != nil {
		b.publishAckError(cmd, key, category, ErrCodeDeviceNotFound, err.Error())
		return
	}
	consumer, ok := device.(Consumer)
	if !ok || !device.Writable() {
		b.publishAckError(cmd, key, category, ErrCodeNotWritable, ErrNotWritable.Error())
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	if err := consumer.Consume(ctx, cmd.Value); err != nil {
		code := ErrCodeCommandFailed
		if errors.Is(err, ErrInvalidCommandValue) {
			code = ErrCodeInvalidCommand
		}
		b.logWarn("command failed", "key", key, "error", err)
		b.publishAckError(cmd, key, category, code, err.Error())
		return
	}

	b.metrics.Command(true)
	if err := b.publishJSON(AckTopic(key, category), NewAckMessage(cmd, key, category), false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

func (b *Bridge) publishAckError(cmd CommandMessage, key string, category int, code, message string) {
	b.metrics.Command(false)
	ack := NewAckError(cmd, key, category, code, message)
	if err := b.publishJSON(AckTopic(key, category), ack, false); err != nil {
		b.logError("failed to publish ack", err)
	}
}

// handleRequest processes a configuration request from Core.
func (b *Bridge) handleRequest(requestID string, payload []byte) {
	var req RequestMessage
	if err := json.Unmarshal(payload, &req); err != nil {
		b.logError("failed to parse request", err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = requestID
	}

	b.logInfo("received request", "request_id", req.RequestID, "action", req.Action)

	var resp ResponseMessage
	switch req.Action {
	case ActionStartPairing:
		resp = b.handleStartPairing(req)
	default:
		resp = failedResponse(req, ErrCodeUnknownAction, fmt.Sprintf("unknown action: %s", req.Action))
	}

	if err := b.publishJSON(ResponseTopic(req.RequestID), resp, false); err != nil {
		b.logError("failed to publish response", err)
	}
}

func (b *Bridge) handleStartPairing(req RequestMessage) ResponseMessage {
	seconds, err := req.PairingTime()
	if err != nil {
		return failedResponse(req, ErrCodeInvalidParameters, err.Error())
	}

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	confirmation, err := b.StartPairing(ctx, seconds)
	if err != nil {
		code := ErrCodeBridgeError
		if errors.Is(err, ErrInvalidPairingTime) {
			code = ErrCodeInvalidParameters
		}
		return failedResponse(req, code, err.Error())
	}

	_, closesAt := b.pairing.IsOpen()
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   true,
		Message:   confirmation,
		Data:      map[string]any{"closes_at": closesAt.UTC().Format(time.RFC3339)},
	}
}

func failedResponse(req RequestMessage, code, message string) ResponseMessage {
	return ResponseMessage{
		RequestID: req.RequestID,
		Timestamp: time.Now().UTC(),
		Success:   false,
		Error:     &ResponseError{Code: code, Message: message},
	}
}

func (b *Bridge) publishJSON(topic string, v any, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	return b.mqtt.Publish(topic, payload, 1, retained)
}

func (b *Bridge) publishUnhealthy(reason string) {
	if err := b.health.PublishUnhealthy(reason); err != nil {
		b.logError("failed to publish health", err)
	}
}

// discoverySnapshot summarises discovery for health messages.
func (b *Bridge) discoverySnapshot() (DiscoveryStatus, int) {
	nodes, _ := b.discovery.Nodes()
	ds := DiscoveryStatus{
		Nodes:          len(nodes),
		PendingRetries: b.discovery.PendingRetries(),
	}
	for _, n := range nodes {
		switch n.Status {
		case NodeStatusBound:
			ds.Bound++
		case NodeStatusPending, NodeStatusFailed:
			ds.Pending++
		}
	}
	ds.PairingOpen, _ = b.pairing.IsOpen()
	return ds, len(b.discovery.Devices())
}

// BridgeMetrics contains metrics data for the API metrics endpoint.
type BridgeMetrics struct {
	Connected      bool
	Status         string
	Firmware       string
	FramesTx       uint64
	FramesRx       uint64
	Nodes          int
	DevicesManaged int
	PendingRetries int
	PairingOpen    bool
}

// GetMetrics returns current bridge figures for the API metrics endpoint.
func (b *Bridge) GetMetrics() BridgeMetrics {
	ds, devices := b.discoverySnapshot()
	stats := b.conn.Stats()

	status := "disconnected"
	if stats.Connected {
		status = "healthy"
	}

	b.firmwareMu.RLock()
	firmware := b.firmware
	b.firmwareMu.RUnlock()

	return BridgeMetrics{
		Connected:      stats.Connected,
		Status:         status,
		Firmware:       firmware,
		FramesTx:       stats.FramesTx,
		FramesRx:       stats.FramesRx,
		Nodes:          ds.Nodes,
		DevicesManaged: devices,
		PendingRetries: ds.PendingRetries,
		PairingOpen:    ds.PairingOpen,
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if b.logger != nil {
		b.logger.Error(msg, "error", err)
	}
}
