package zigbee

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// NodeRecorder persists what discovery has learned: nodes, resolved
// endpoints and bound devices. It is a cache, not configuration: at startup
// the recorded nodes are replayed through discovery so they are enumerated
// again without waiting for them to re-announce.
//
// The database must have the zigbee_nodes, zigbee_endpoints and
// zigbee_devices tables (see migrations).
//
// Thread Safety: All methods are safe for concurrent use.
type NodeRecorder struct {
	db     *sql.DB
	logger Logger

	nodeStmt     *sql.Stmt
	statusStmt   *sql.Stmt
	endpointStmt *sql.Stmt
	deviceStmt   *sql.Stmt
	eventStmt    *sql.Stmt
	stmtMu       sync.Mutex

	closed bool
	mu     sync.RWMutex
}

// RecordedNode is a node row.
type RecordedNode struct {
	IEEEAddress    string    `json:"ieee_address"`
	NetworkAddress string    `json:"network_address"`
	Status         string    `json:"status"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	AnnounceCount  int       `json:"announce_count"`
}

// RecordedEndpoint is an endpoint row.
type RecordedEndpoint struct {
	IEEEAddress  string    `json:"ieee_address"`
	Endpoint     uint8     `json:"endpoint"`
	ProfileID    uint16    `json:"profile_id"`
	DeviceID     uint16    `json:"device_id"`
	Manufacturer string    `json:"manufacturer,omitempty"`
	Model        string    `json:"model,omitempty"`
	Clusters     []string  `json:"clusters"`
	ResolvedAt   time.Time `json:"resolved_at"`
}

// RecordedDevice is a bound device row.
type RecordedDevice struct {
	Key         string          `json:"key"`
	Category    int             `json:"category"`
	Name        string          `json:"name"`
	IEEEAddress string          `json:"ieee_address"`
	Endpoint    uint8           `json:"endpoint"`
	Cluster     string          `json:"cluster"`
	Writable    bool            `json:"writable"`
	BoundAt     time.Time       `json:"bound_at"`
	LastValue   json.RawMessage `json:"last_value,omitempty"`
	LastEvent   *time.Time      `json:"last_event,omitempty"`
}

// NewNodeRecorder creates a recorder. Call Start before recording.
func NewNodeRecorder(db *sql.DB) *NodeRecorder {
	return &NodeRecorder{db: db}
}

// SetLogger sets the logger for the recorder.
func (r *NodeRecorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Start prepares the upsert statements. Idempotent.
func (r *NodeRecorder) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.nodeStmt != nil {
		return nil
	}

	queries := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&r.nodeStmt, `
			INSERT INTO zigbee_nodes (ieee_address, network_address, status, first_seen, last_seen, announce_count)
			VALUES (?, ?, ?, ?, ?, 1)
			ON CONFLICT(ieee_address) DO UPDATE SET
				network_address = excluded.network_address,
				last_seen = excluded.last_seen,
				announce_count = announce_count + 1
		`},
		{&r.statusStmt, `UPDATE zigbee_nodes SET status = ? WHERE ieee_address = ?`},
		{&r.endpointStmt, `
			INSERT INTO zigbee_endpoints (ieee_address, endpoint, profile_id, device_id, manufacturer, model, clusters, resolved_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(ieee_address, endpoint) DO UPDATE SET
				profile_id = excluded.profile_id,
				device_id = excluded.device_id,
				manufacturer = excluded.manufacturer,
				model = excluded.model,
				clusters = excluded.clusters,
				resolved_at = excluded.resolved_at
		`},
		{&r.deviceStmt, `
			INSERT INTO zigbee_devices (binding_key, category, name, ieee_address, endpoint, cluster, writable, bound_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(binding_key, category) DO UPDATE SET
				name = excluded.name,
				cluster = excluded.cluster,
				writable = excluded.writable,
				bound_at = excluded.bound_at
		`},
		{&r.eventStmt, `UPDATE zigbee_devices SET last_value = ?, last_event = ? WHERE binding_key = ? AND category = ?`},
	}

	for i, q := range queries {
		stmt, err := r.db.Prepare(q.query)
		if err != nil {
			for _, prev := range queries[:i] {
				(*prev.dst).Close()
				*prev.dst = nil
			}
			return fmt.Errorf("preparing recorder statement: %w", err)
		}
		*q.dst = stmt
	}

	r.log("node recorder started")
	return nil
}

// Stop closes the prepared statements. Later Record calls are ignored.
func (r *NodeRecorder) Stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	for _, s := range []**sql.Stmt{&r.nodeStmt, &r.statusStmt, &r.endpointStmt, &r.deviceStmt, &r.eventStmt} {
		if *s != nil {
			(*s).Close()
			*s = nil
		}
	}
	r.log("node recorder stopped")
}

// stmt returns a prepared statement, or nil when stopped or not started.
func (r *NodeRecorder) stmt(pick func() *sql.Stmt) *sql.Stmt {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil
	}

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()
	return pick()
}

// RecordNode upserts a node announcement.
func (r *NodeRecorder) RecordNode(n *Node) {
	s := r.stmt(func() *sql.Stmt { return r.nodeStmt })
	if s == nil {
		return
	}
	if _, err := s.Exec(n.ID, int64(n.NetworkAddress), string(n.Status), n.FirstSeen.Unix(), n.LastSeen.Unix()); err != nil {
		r.logError("recording node", err)
	}
}

// RecordStatus stores a node's discovery status.
func (r *NodeRecorder) RecordStatus(node IEEEAddress, status NodeStatus) {
	s := r.stmt(func() *sql.Stmt { return r.statusStmt })
	if s == nil {
		return
	}
	if _, err := s.Exec(string(status), node.String()); err != nil {
		r.logError("recording node status", err)
	}
}

// RecordEndpoint upserts a resolved endpoint.
func (r *NodeRecorder) RecordEndpoint(node IEEEAddress, info EndpointInfo) {
	s := r.stmt(func() *sql.Stmt { return r.endpointStmt })
	if s == nil {
		return
	}

	names := make([]string, 0, len(info.Clusters))
	for _, c := range info.Clusters {
		names = append(names, c.Name)
	}
	if _, err := s.Exec(node.String(), int64(info.Endpoint), int64(info.ProfileID), int64(info.DeviceID),
		info.Basic.Manufacturer, info.Basic.Model, strings.Join(names, ","), time.Now().Unix()); err != nil {
		r.logError("recording endpoint", err)
	}
}

// RecordDevice upserts a bound device.
func (r *NodeRecorder) RecordDevice(d DeviceAdapter) {
	s := r.stmt(func() *sql.Stmt { return r.deviceStmt })
	if s == nil {
		return
	}

	b := d.Binding()
	writable := 0
	if d.Writable() {
		writable = 1
	}
	if _, err := s.Exec(d.Key(), int64(d.Category().Code), d.Name(), b.Node.String(), int64(b.Endpoint),
		b.ClusterName, writable, time.Now().Unix()); err != nil {
		r.logError("recording device", err)
	}
}

// RecordEvent stores a device's latest value.
func (r *NodeRecorder) RecordEvent(ev Event) {
	s := r.stmt(func() *sql.Stmt { return r.eventStmt })
	if s == nil {
		return
	}

	value, err := json.Marshal(ev.Value)
	if err != nil {
		r.logError("encoding device value", err)
		return
	}
	if _, err := s.Exec(string(value), ev.Timestamp.Unix(), ev.Key, int64(ev.Category.Code)); err != nil {
		r.logError("recording device value", err)
	}
}

// KnownNodes returns the recorded nodes as announcements for replay,
// most recently seen first.
func (r *NodeRecorder) KnownNodes(ctx context.Context) ([]NodeAnnouncement, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ieee_address, network_address FROM zigbee_nodes ORDER BY last_seen DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying known nodes: %w", err)
	}
	defer rows.Close()

	var nodes []NodeAnnouncement
	for rows.Next() {
		var ieee string
		var nwk int64
		if err := rows.Scan(&ieee, &nwk); err != nil {
			return nil, err
		}
		addr, err := ParseIEEEAddress(ieee)
		if err != nil {
			r.logError("skipping recorded node", err)
			continue
		}
		nodes = append(nodes, NodeAnnouncement{IEEEAddress: addr, NetworkAddress: NetworkAddress(nwk)})
	}
	return nodes, rows.Err()
}

// Nodes returns all recorded nodes ordered by IEEE address.
func (r *NodeRecorder) Nodes(ctx context.Context) ([]RecordedNode, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ieee_address, network_address, status, first_seen, last_seen, announce_count
		FROM zigbee_nodes ORDER BY ieee_address
	`)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	var nodes []RecordedNode
	for rows.Next() {
		var n RecordedNode
		var nwk, first, last int64
		if err := rows.Scan(&n.IEEEAddress, &nwk, &n.Status, &first, &last, &n.AnnounceCount); err != nil {
			return nil, err
		}
		n.NetworkAddress = NetworkAddress(nwk).String()
		n.FirstSeen = time.Unix(first, 0).UTC()
		n.LastSeen = time.Unix(last, 0).UTC()
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// Endpoints returns all recorded endpoints ordered by node and endpoint.
func (r *NodeRecorder) Endpoints(ctx context.Context) ([]RecordedEndpoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ieee_address, endpoint, profile_id, device_id, manufacturer, model, clusters, resolved_at
		FROM zigbee_endpoints ORDER BY ieee_address, endpoint
	`)
	if err != nil {
		return nil, fmt.Errorf("querying endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []RecordedEndpoint
	for rows.Next() {
		var e RecordedEndpoint
		var ep, profile, device, resolved int64
		var clusters string
		if err := rows.Scan(&e.IEEEAddress, &ep, &profile, &device, &e.Manufacturer, &e.Model, &clusters, &resolved); err != nil {
			return nil, err
		}
		e.Endpoint = uint8(ep)
		e.ProfileID = uint16(profile)
		e.DeviceID = uint16(device)
		e.Clusters = []string{}
		if clusters != "" {
			e.Clusters = strings.Split(clusters, ",")
		}
		e.ResolvedAt = time.Unix(resolved, 0).UTC()
		endpoints = append(endpoints, e)
	}
	return endpoints, rows.Err()
}

// Devices returns all recorded devices ordered by key and category.
func (r *NodeRecorder) Devices(ctx context.Context) ([]RecordedDevice, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT binding_key, category, name, ieee_address, endpoint, cluster, writable, bound_at, last_value, last_event
		FROM zigbee_devices ORDER BY binding_key, category
	`)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []RecordedDevice
	for rows.Next() {
		var d RecordedDevice
		var ep, writable, bound int64
		var value sql.NullString
		var event sql.NullInt64
		if err := rows.Scan(&d.Key, &d.Category, &d.Name, &d.IEEEAddress, &ep, &d.Cluster,
			&writable, &bound, &value, &event); err != nil {
			return nil, err
		}
		d.Endpoint = uint8(ep)
		d.Writable = writable != 0
		d.BoundAt = time.Unix(bound, 0).UTC()
		if value.Valid {
			d.LastValue = json.RawMessage(value.String)
		}
		if event.Valid {
			t := time.Unix(event.Int64, 0).UTC()
			d.LastEvent = &t
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// NodeCount returns the number of recorded nodes.
func (r *NodeRecorder) NodeCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM zigbee_nodes`).Scan(&count)
	return count, err
}

func (r *NodeRecorder) log(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

func (r *NodeRecorder) logError(msg string, err error) {
	if r.logger != nil {
		r.logger.Error(msg, "error", err)
	}
}
