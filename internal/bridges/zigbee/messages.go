package zigbee

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-zigbee/internal/infrastructure/mqtt"
)

// MQTT message types exchanged between Gray Logic Core and the Zigbee bridge.

// Protocol is the protocol identifier carried in every message.
const Protocol = "zigbee"

// RegisterMessage announces a bound device to Core.
// Topic: graylogic/discovery/zigbee
type RegisterMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Bridge    string    `json:"bridge"`

	// Key is the binding key; with Category it identifies the device.
	Key      string `json:"key"`
	Name     string `json:"name"`
	Category int    `json:"category"`

	// CategoryName is the category's intrinsic name, e.g. "On/Off".
	CategoryName string `json:"category_name"`

	Node     string `json:"node"`
	Endpoint uint8  `json:"endpoint"`
	Cluster  string `json:"cluster"`
	Writable bool   `json:"writable"`
}

// NewRegisterMessage builds the registration for a device.
func NewRegisterMessage(bridgeID string, d DeviceAdapter) RegisterMessage {
	b := d.Binding()
	return RegisterMessage{
		Timestamp:    time.Now().UTC(),
		Bridge:       bridgeID,
		Key:          d.Key(),
		Name:         d.Name(),
		Category:     d.Category().Code,
		CategoryName: d.Category().Name,
		Node:         b.Node.String(),
		Endpoint:     b.Endpoint,
		Cluster:      b.ClusterName,
		Writable:     d.Writable(),
	}
}

// StateMessage carries one data event.
// Topic: graylogic/state/zigbee/{key}/{category}
// QoS: 1, Retained: Yes
type StateMessage struct {
	Key       string    `json:"key"`
	Category  int       `json:"category"`
	Timestamp time.Time `json:"timestamp"`
	Value     any       `json:"value"`
	Protocol  string    `json:"protocol"`
}

// NewStateMessage builds a state message from an adapter event.
func NewStateMessage(ev Event) StateMessage {
	return StateMessage{
		Key:       ev.Key,
		Category:  ev.Category.Code,
		Timestamp: ev.Timestamp.UTC(),
		Value:     ev.Value,
		Protocol:  Protocol,
	}
}

// CommandMessage is sent from Core to a writable device.
// Topic: graylogic/command/zigbee/{key}/{category}
type CommandMessage struct {
	// ID correlates the command with its acknowledgment.
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	// Value is passed to the device's Consume, e.g. true, 1, "off".
	Value any `json:"value"`

	// Source indicates where the command originated ("api", "automation", ...).
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the device executed the command.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// Error codes for command and request failures.
const (
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeDeviceNotFound    = "DEVICE_NOT_FOUND"
	ErrCodeNotWritable       = "NOT_WRITABLE"
	ErrCodeCommandFailed     = "COMMAND_FAILED"
	ErrCodeUnknownAction     = "UNKNOWN_ACTION"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AckMessage acknowledges a command.
// Topic: graylogic/ack/zigbee/{key}/{category}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	Key       string    `json:"key"`
	Category  int       `json:"category"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`
	Error     *AckError `json:"error,omitempty"`
}

// NewAckMessage creates a successful acknowledgment.
func NewAckMessage(cmd CommandMessage, key string, category int) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		Key:       key,
		Category:  category,
		Status:    AckAccepted,
		Protocol:  Protocol,
	}
}

// NewAckError creates a failed acknowledgment.
func NewAckError(cmd CommandMessage, key string, category int, code, message string) AckMessage {
	ack := NewAckMessage(cmd, key, category)
	ack.Status = AckFailed
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// Request actions.
const (
	ActionStartPairing = "start_pairing"
)

// RequestMessage is a configuration request from Core.
// Topic: graylogic/request/zigbee/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is the requested operation; "start_pairing" is supported.
	Action string `json:"action"`

	// Params holds action parameters, e.g. {"pairing_time": 60}.
	Params map[string]any `json:"params,omitempty"`
}

// PairingTime returns the pairing_time parameter in seconds, 0 if absent.
func (m RequestMessage) PairingTime() (int, error) {
	raw, ok := m.Params["pairing_time"]
	if !ok || raw == nil {
		return 0, nil
	}
	switch v := raw.(type) {
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidPairingTime, v)
		}
		return int(v), nil
	case int:
		return v, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidPairingTime, v)
		}
		return int(n), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPairingTime, v)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: %v (%T)", ErrInvalidPairingTime, raw, raw)
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMessage answers a request.
// Topic: graylogic/response/zigbee/{request_id}
type ResponseMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`

	// Message is the human-readable confirmation.
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Error   *ResponseError `json:"error,omitempty"`
}

// Announcement events.
const (
	AnnouncePairingClosed = "pairing_closed"
)

// AnnounceMessage is an asynchronous notice to Core.
// Topic: graylogic/announce/zigbee
type AnnounceMessage struct {
	Bridge    string    `json:"bridge"`
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Message   string    `json:"message"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthOffline   HealthStatus = "offline"
	HealthStarting  HealthStatus = "starting"
	HealthStopping  HealthStatus = "stopping"
)

// HealthMessage reports bridge status.
// Topic: graylogic/health/zigbee
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	Coordinator *CoordinatorStatus `json:"coordinator,omitempty"`
	Discovery   *DiscoveryStatus   `json:"discovery,omitempty"`

	DevicesManaged int    `json:"devices_managed"`
	Reason         string `json:"reason,omitempty"`
}

// CoordinatorStatus describes the network processor link.
type CoordinatorStatus struct {
	Status          string `json:"status"`
	Firmware        string `json:"firmware,omitempty"`
	FramesReceived  uint64 `json:"frames_received"`
	FramesSent      uint64 `json:"frames_sent"`
	FramesDropped   uint64 `json:"frames_dropped"`
	Errors          uint64 `json:"errors"`
	ReconnectsTotal uint64 `json:"reconnects_total"`
}

// DiscoveryStatus summarises node discovery.
type DiscoveryStatus struct {
	Nodes          int  `json:"nodes"`
	Pending        int  `json:"pending"`
	Bound          int  `json:"bound"`
	PendingRetries int  `json:"pending_retries"`
	PairingOpen    bool `json:"pairing_open"`
}

// NewLWTMessage creates the Last Will and Testament published by the broker
// if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

// DeviceAddress is the topic suffix identifying a device: "{key}/{category}".
func DeviceAddress(key string, category int) string {
	return fmt.Sprintf("%s/%d", key, category)
}

// ParseDeviceAddress splits "{key}/{category}".
func ParseDeviceAddress(address string) (string, int, error) {
	key, cat, ok := strings.Cut(address, "/")
	if !ok || key == "" {
		return "", 0, fmt.Errorf("%w: device address %q", ErrDeviceNotFound, address)
	}
	code, err := strconv.Atoi(cat)
	if err != nil {
		return "", 0, fmt.Errorf("%w: device address %q", ErrDeviceNotFound, address)
	}
	return key, code, nil
}

// topics builds this bridge's MQTT topics.
var topics mqtt.Topics

// DiscoveryTopic returns graylogic/discovery/zigbee.
func DiscoveryTopic() string {
	return topics.BridgeDiscovery(Protocol)
}

// StateTopic returns graylogic/state/zigbee/{key}/{category}.
func StateTopic(key string, category int) string {
	return topics.BridgeState(Protocol, DeviceAddress(key, category))
}

// CommandTopic returns graylogic/command/zigbee/{key}/{category}.
func CommandTopic(key string, category int) string {
	return topics.BridgeCommand(Protocol, DeviceAddress(key, category))
}

// AckTopic returns graylogic/ack/zigbee/{key}/{category}.
func AckTopic(key string, category int) string {
	return topics.BridgeAck(Protocol, DeviceAddress(key, category))
}

// RequestTopic returns graylogic/request/zigbee/{request_id}.
func RequestTopic(requestID string) string {
	return topics.BridgeRequest(Protocol, requestID)
}

// ResponseTopic returns graylogic/response/zigbee/{request_id}.
func ResponseTopic(requestID string) string {
	return topics.BridgeResponse(Protocol, requestID)
}

// AnnounceTopic returns graylogic/announce/zigbee.
func AnnounceTopic() string {
	return topics.BridgeAnnounce(Protocol)
}

// HealthTopic returns graylogic/health/zigbee.
func HealthTopic() string {
	return topics.BridgeHealth(Protocol)
}

// CommandSubscribeTopic returns graylogic/command/zigbee/#.
func CommandSubscribeTopic() string {
	return topics.BridgeCommands(Protocol)
}

// RequestSubscribeTopic returns graylogic/request/zigbee/#.
func RequestSubscribeTopic() string {
	return topics.BridgeRequests(Protocol)
}
