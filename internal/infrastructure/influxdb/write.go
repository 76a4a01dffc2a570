package influxdb

import (
	"fmt"
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// deviceEventMeasurement holds one point per device data event.
const deviceEventMeasurement = "zigbee_device_events"

// WriteDeviceEvent writes one device data event.
//
// The value decides the field: booleans go to "on", numbers to "value",
// anything else to "state" as text. The write is non-blocking; points are
// batched and sent asynchronously.
//
// Parameters:
//   - key: Binding key of the device (e.g., "zigbee00124b0001a1b2c31")
//   - category: Host device category code (e.g., 238 for On/Off)
//   - value: The event value
//   - timestamp: When the value was observed
//
// Example:
//
//	client.WriteDeviceEvent("zigbee00124b0001a1b2c31", 243, 152.0, time.Now())
func (c *Client) WriteDeviceEvent(key string, category int, value any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		deviceEventMeasurement,
		map[string]string{
			"binding_key": key,
			"category":    strconv.Itoa(category),
		},
		eventFields(value),
		timestamp,
	)

	c.writeAPI.WritePoint(point)
}

// eventFields maps an event value onto point fields.
func eventFields(value any) map[string]interface{} {
	switch v := value.(type) {
	case bool:
		return map[string]interface{}{"on": v}
	case float64:
		return map[string]interface{}{"value": v}
	case float32:
		return map[string]interface{}{"value": float64(v)}
	case int:
		return map[string]interface{}{"value": float64(v)}
	case int64:
		return map[string]interface{}{"value": float64(v)}
	case uint64:
		return map[string]interface{}{"value": float64(v)}
	case string:
		return map[string]interface{}{"state": v}
	default:
		return map[string]interface{}{"state": fmt.Sprint(v)}
	}
}

// WriteDiscoveryStats writes a snapshot of network discovery figures.
//
// Parameters:
//   - bridgeID: Bridge identifier, used as a tag
//   - nodes: Known nodes
//   - bound: Nodes with at least one bound device
//   - pendingRetries: Nodes with an armed enumeration retry
func (c *Client) WriteDiscoveryStats(bridgeID string, nodes, bound, pendingRetries int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"zigbee_discovery",
		map[string]string{
			"bridge": bridgeID,
		},
		map[string]interface{}{
			"nodes":           nodes,
			"bound":           bound,
			"pending_retries": pendingRetries,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
