package api

import (
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-zigbee/internal/bridges/zigbee"
)

// DiscoveryData is the body of GET /api/v1/discovery. Devices are ordered
// by key and category.
type DiscoveryData struct {
	Devices  []LiveDevice     `json:"devices"`
	Recorded *RecordedData    `json:"recorded,omitempty"`
	Summary  DiscoverySummary `json:"summary"`
}

// LiveDevice is a device currently bound by the bridge.
type LiveDevice struct {
	Key          string `json:"key"`
	Category     int    `json:"category"`
	CategoryName string `json:"category_name"`
	Name         string `json:"name"`
	Node         string `json:"node"`
	Endpoint     uint8  `json:"endpoint"`
	Cluster      string `json:"cluster"`
	Writable     bool   `json:"writable"`
	LastValue    any    `json:"last_value"`
}

// RecordedData is what the recorder holds, including nodes that have not
// rejoined since the last restart.
type RecordedData struct {
	Nodes     []zigbee.RecordedNode     `json:"nodes"`
	Endpoints []zigbee.RecordedEndpoint `json:"endpoints"`
	Devices   []zigbee.RecordedDevice   `json:"devices"`
}

// DiscoverySummary provides aggregate counts.
type DiscoverySummary struct {
	LiveDevices     int            `json:"live_devices"`
	ByCategory      map[string]int `json:"by_category"`
	RecordedNodes   int            `json:"recorded_nodes"`
	NodesByStatus   map[string]int `json:"nodes_by_status"`
	PendingRetries  int            `json:"pending_retries"`
	PairingOpen     bool           `json:"pairing_open"`
	PairingClosesAt string         `json:"pairing_closes_at,omitempty"`
}

// handleDiscovery lists live devices and, when a store is configured, the
// recorded discovery state.
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	devices := s.bridge.Devices()

	data := DiscoveryData{
		Devices: make([]LiveDevice, 0, len(devices)),
		Summary: DiscoverySummary{
			ByCategory:    make(map[string]int),
			NodesByStatus: make(map[string]int),
		},
	}
	for _, d := range devices {
		b := d.Binding()
		data.Devices = append(data.Devices, LiveDevice{
			Key:          d.Key(),
			Category:     d.Category().Code,
			CategoryName: d.Category().Name,
			Name:         d.Name(),
			Node:         b.Node.String(),
			Endpoint:     b.Endpoint,
			Cluster:      b.ClusterName,
			Writable:     d.Writable(),
			LastValue:    d.LastValue(),
		})
		data.Summary.ByCategory[d.Category().Name]++
	}
	data.Summary.LiveDevices = len(data.Devices)

	m := s.bridge.GetMetrics()
	data.Summary.PendingRetries = m.PendingRetries
	if open, closesAt := s.bridge.PairingState(); open {
		data.Summary.PairingOpen = true
		data.Summary.PairingClosesAt = closesAt.UTC().Format(time.RFC3339)
	}

	if s.store != nil {
		recorded, err := s.loadRecorded(r)
		if err != nil {
			s.logger.Error("failed to load recorded discovery", "error", err)
			writeInternalError(w, "failed to load recorded discovery")
			return
		}
		data.Recorded = recorded
		data.Summary.RecordedNodes = len(recorded.Nodes)
		for _, n := range recorded.Nodes {
			data.Summary.NodesByStatus[n.Status]++
		}
	}

	writeJSON(w, http.StatusOK, data)
}

func (s *Server) loadRecorded(r *http.Request) (*RecordedData, error) {
	ctx := r.Context()

	nodes, err := s.store.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	endpoints, err := s.store.Endpoints(ctx)
	if err != nil {
		return nil, err
	}
	devices, err := s.store.Devices(ctx)
	if err != nil {
		return nil, err
	}

	rec := &RecordedData{
		Nodes:     nodes,
		Endpoints: endpoints,
		Devices:   devices,
	}
	if rec.Nodes == nil {
		rec.Nodes = []zigbee.RecordedNode{}
	}
	if rec.Endpoints == nil {
		rec.Endpoints = []zigbee.RecordedEndpoint{}
	}
	if rec.Devices == nil {
		rec.Devices = []zigbee.RecordedDevice{}
	}
	return rec, nil
}
