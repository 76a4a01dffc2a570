// Package zigbee implements the Zigbee protocol bridge for Gray Logic.
//
// The bridge drives a Z-Stack network processor (ZNP) over a serial port or
// a TCP serial tunnel. It discovers nodes as they join, resolves their
// endpoints, and binds supported clusters to device adapters that Core sees
// as ordinary devices.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐
//	│   Gray Logic    │   MQTT   │  Zigbee Bridge  │   ZNP    ┌─────────────┐
//	│      Core       │◄────────►│   (this pkg)    │◄────────►│ Coordinator │
//	└─────────────────┘          └─────────────────┘          └─────────────┘
//
// # Discovery Pipeline
//
//	node announce ─► DiscoveryCoordinator ─► EndpointResolver ─► DeviceBinder
//	                     │ (retry every 20s)      (descriptor,        (adapters)
//	                     ▼                         Basic identity)
//	                 nodeTable
//
//   - A node announcement records the node and requests endpoint
//     enumeration. Repeated announcements of a fully resolved node are
//     idempotent; a node with unresolved endpoints is enumerated again.
//   - Each enumerated endpoint is resolved once: its simple descriptor is
//     fetched and, when present, the Basic cluster's manufacturer and model.
//   - The DeviceBinder maps every recognised input cluster through the
//     ClusterRegistry to a device adapter.
//   - Nodes that produce no endpoint are enumerated again until one
//     resolves. Exactly one retry timer is armed per pending node.
//
// # Devices
//
// A device is identified by its binding key and category code. The key is
// the configured prefix, the node's IEEE address in hex and the endpoint
// number, e.g. "zigbee00124b0001abcdef1".
//
//   - On/Off (category 238): writable binary switch
//   - Metering (category 243): instantaneous demand
//   - IAS Zone: motion or contact sensor, classified by model prefix
//
// # Pairing
//
// Pairing windows are opened with PermitJoin for 1-254 seconds (default 60).
// Opening a window while one is open replaces the scheduled close, so exactly
// one "pairing_closed" announcement follows the last window.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
//
// # References
//
//   - Z-Stack Monitor and Test API (MT): the ZNP serial protocol
//   - Zigbee Cluster Library specification: cluster and attribute ids
package zigbee
