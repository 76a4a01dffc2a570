package zigbee

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the bridge's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	nodesSeen       *prometheus.CounterVec
	enumerations    *prometheus.CounterVec
	endpoints       prometheus.Counter
	devicesBound    *prometheus.CounterVec
	events          *prometheus.CounterVec
	eventsDropped   prometheus.Counter
	commands        *prometheus.CounterVec
	pairingOpened   prometheus.Counter
	pairingOpen     prometheus.Gauge
	pendingRetries  prometheus.GaugeFunc
	coordinatorLink prometheus.GaugeFunc
}

// NewMetrics creates and registers the collectors.
//
// Parameters:
//   - reg: Registerer to add collectors to (prometheus.DefaultRegisterer in production)
//   - pending: Reports armed retry timers; may be nil
//   - connected: Reports the coordinator link; may be nil
func NewMetrics(reg prometheus.Registerer, pending func() int, connected func() bool) *Metrics {
	m := &Metrics{
		nodesSeen: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graylogic", Subsystem: "zigbee", Name: "node_announcements_total",
			Help: "Node announcements by whether the node was new.",
		}, []string{"new"}),
		enumerations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graylogic", Subsystem: "zigbee", Name: "endpoint_enumerations_total",
			Help: "Endpoint enumeration requests by kind (initial, retry).",
		}, []string{"kind"}),
		endpoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graylogic", Subsystem: "zigbee", Name: "endpoints_resolved_total",
			Help: "Endpoints resolved.",
		}),
		devicesBound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graylogic", Subsystem: "zigbee", Name: "devices_bound_total",
			Help: "Devices bound by category code.",
		}, []string{"category"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graylogic", Subsystem: "zigbee", Name: "device_events_total",
			Help: "Device data events published by category code.",
		}, []string{"category"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graylogic", Subsystem: "zigbee", Name: "device_events_dropped_total",
			Help: "Device data events lost to full buffers.",
		}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graylogic", Subsystem: "zigbee", Name: "commands_total",
			Help: "Device commands by result (accepted, failed).",
		}, []string{"result"}),
		pairingOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graylogic", Subsystem: "zigbee", Name: "pairing_windows_opened_total",
			Help: "Pairing windows opened.",
		}),
		pairingOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "graylogic", Subsystem: "zigbee", Name: "pairing_window_open",
			Help: "1 while a pairing window is open.",
		}),
	}

	collectors := []prometheus.Collector{
		m.nodesSeen, m.enumerations, m.endpoints, m.devicesBound,
		m.events, m.eventsDropped, m.commands, m.pairingOpened, m.pairingOpen,
	}

	if pending != nil {
		m.pendingRetries = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "graylogic", Subsystem: "zigbee", Name: "pending_retries",
			Help: "Nodes with an armed enumeration retry.",
		}, func() float64 { return float64(pending()) })
		collectors = append(collectors, m.pendingRetries)
	}
	if connected != nil {
		m.coordinatorLink = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "graylogic", Subsystem: "zigbee", Name: "coordinator_connected",
			Help: "1 while the coordinator link is up.",
		}, func() float64 {
			if connected() {
				return 1
			}
			return 0
		})
		collectors = append(collectors, m.coordinatorLink)
	}

	reg.MustRegister(collectors...)
	return m
}

// NodeSeen counts an announcement.
func (m *Metrics) NodeSeen(isNew bool) {
	if m == nil {
		return
	}
	m.nodesSeen.WithLabelValues(strconv.FormatBool(isNew)).Inc()
}

// EnumerationRequested counts an enumeration.
func (m *Metrics) EnumerationRequested(retry bool) {
	if m == nil {
		return
	}
	kind := "initial"
	if retry {
		kind = "retry"
	}
	m.enumerations.WithLabelValues(kind).Inc()
}

// EndpointResolved counts a resolved endpoint.
func (m *Metrics) EndpointResolved() {
	if m == nil {
		return
	}
	m.endpoints.Inc()
}

// DeviceBound counts a bound device.
func (m *Metrics) DeviceBound(category Category) {
	if m == nil {
		return
	}
	m.devicesBound.WithLabelValues(strconv.Itoa(category.Code)).Inc()
}

// EventPublished counts a published data event.
func (m *Metrics) EventPublished(category Category) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(strconv.Itoa(category.Code)).Inc()
}

// EventsDropped adds lost events.
func (m *Metrics) EventsDropped(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.eventsDropped.Add(float64(n))
}

// Command counts a command result.
func (m *Metrics) Command(ok bool) {
	if m == nil {
		return
	}
	result := "accepted"
	if !ok {
		result = "failed"
	}
	m.commands.WithLabelValues(result).Inc()
}

// PairingOpened records an opened window.
func (m *Metrics) PairingOpened() {
	if m == nil {
		return
	}
	m.pairingOpened.Inc()
	m.pairingOpen.Set(1)
}

// PairingClosed records a closed window.
func (m *Metrics) PairingClosed() {
	if m == nil {
		return
	}
	m.pairingOpen.Set(0)
}
