// Package api implements the HTTP operations surface of the Gray Logic
// Zigbee bridge.
//
// This package provides:
//   - Health and JSON system metrics for installers and monitoring
//   - Prometheus exposition of the bridge's collectors on /metrics
//   - A read-only view of what discovery has recorded and bound
//   - A pairing trigger, the HTTP twin of the MQTT start_pairing request
//   - Middleware stack (request ID, logging, recovery, body limit)
//
// # Routes
//
//	GET  /api/v1/health     bridge and coordinator status (503 when the link is down)
//	GET  /api/v1/metrics    runtime, MQTT, database and bridge figures
//	GET  /api/v1/discovery  recorded nodes, endpoints and devices, plus live devices
//	POST /api/v1/pairing    {"pairing_time": 60} opens the pairing window
//	GET  /metrics           Prometheus text format
//
// # Graceful Degradation
//
// MQTT, the database and the recorder are optional. Without a recorder the
// discovery listing only carries live devices.
package api
