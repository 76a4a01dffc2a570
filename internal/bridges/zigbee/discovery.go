package zigbee

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultRetryInterval is how long a pending node may stay silent before
// its endpoints are enumerated again.
const DefaultRetryInterval = 20 * time.Second

// DeviceSink receives devices once they are bound and ready.
type DeviceSink interface {
	DeviceReady(device DeviceAdapter)
}

// DeviceSinkFunc adapts a function to DeviceSink.
type DeviceSinkFunc func(device DeviceAdapter)

// DeviceReady calls f(device).
func (f DeviceSinkFunc) DeviceReady(device DeviceAdapter) { f(device) }

// DiscoveryObserver receives discovery progress. All methods must be cheap;
// they run on discovery goroutines.
type DiscoveryObserver interface {
	NodeSeen(node *Node, isNew bool)
	EnumerationRequested(node *Node, retry bool)
	EndpointResolved(node *Node, info EndpointInfo)
	DeviceBound(device DeviceAdapter)
}

// DiscoveryConfig configures a DiscoveryCoordinator.
type DiscoveryConfig struct {
	Conn     Connector
	Resolver *EndpointResolver
	Registry *ClusterRegistry
	Sink     DeviceSink

	// Observer, if set, is told about discovery progress (recorder, metrics).
	Observer DiscoveryObserver

	// RetryInterval is the re-enumeration period. Default: 20 seconds.
	RetryInterval time.Duration

	// BindingPrefix is the binding key prefix. Default: "zigbee".
	BindingPrefix string

	Adapter AdapterOptions
	Logger  Logger
}

// endpointRef identifies one endpoint during resolution.
type endpointRef struct {
	node     IEEEAddress
	endpoint uint8
}

// DiscoveryCoordinator turns node announcements into bound devices.
//
// Flow per node: announcement → insert-if-absent (pending) → enumeration
// requests → endpoint notifications → describe each endpoint once →
// bind → Sink.DeviceReady for each adapter once it signals ready.
//
// A pending node has exactly one retry timer. It re-sends the enumeration
// every RetryInterval until an endpoint exposing clusters resolves, then it
// is cancelled. Repeated announcements of a node never add timers or
// devices. An endpoint whose describe failed is described again every
// RetryInterval, and a re-announcement of its node enumerates again.
//
// Thread Safety: all methods are safe for concurrent use.
type DiscoveryCoordinator struct {
	cfg    DiscoveryConfig
	table  *nodeTable
	binder *DeviceBinder

	mu         sync.Mutex
	retries    map[IEEEAddress]*time.Timer
	resolving  map[endpointRef]struct{}
	redescribe map[endpointRef]*time.Timer
	devices    map[deviceRef]DeviceAdapter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce sync.Once
}

// deviceRef identifies a device on the host: binding key plus category code.
type deviceRef struct {
	key      string
	category int
}

// NewDiscoveryCoordinator creates a coordinator and installs its handlers
// on the connector.
//
// Parameters:
//   - cfg: Coordinator configuration; Conn and Sink are required
//
// Returns:
//   - *DiscoveryCoordinator: Coordinator ready to receive announcements
//   - error: If configuration is invalid
func NewDiscoveryCoordinator(cfg DiscoveryConfig) (*DiscoveryCoordinator, error) {
	if cfg.Conn == nil {
		return nil, errors.New("discovery: connector is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("discovery: device sink is required")
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.Resolver == nil {
		cfg.Resolver = NewEndpointResolver(cfg.Conn, ProfileHomeAutomation, cfg.Logger)
	}

	table, err := newNodeTable()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &DiscoveryCoordinator{
		cfg:   cfg,
		table: table,
		binder: NewDeviceBinder(BinderConfig{
			Registry:  cfg.Registry,
			Conn:      cfg.Conn,
			Addresses: table,
			Prefix:    cfg.BindingPrefix,
			Adapter:   cfg.Adapter,
			Logger:    cfg.Logger,
		}),
		retries:    make(map[IEEEAddress]*time.Timer),
		resolving:  make(map[endpointRef]struct{}),
		redescribe: make(map[endpointRef]*time.Timer),
		devices:    make(map[deviceRef]DeviceAdapter),
		ctx:        ctx,
		cancel:     cancel,
	}

	cfg.Conn.SetHandlers(Handlers{
		OnNodeSeen:       c.OnNodeSeen,
		OnEndpoint:       c.OnEndpoint,
		OnClusterCommand: c.OnClusterCommand,
	})
	return c, nil
}

// OnNodeSeen handles a node announcement.
//
// Idempotent: a node already known only has its short address refreshed,
// unless one of its endpoints failed to resolve, in which case it is
// enumerated again. A new node is recorded as pending, gets its retry
// timer, and is enumerated.
func (c *DiscoveryCoordinator) OnNodeSeen(ann NodeAnnouncement) {
	if c.stopped() {
		return
	}

	node, isNew, err := c.table.observe(ann, time.Now())
	if err != nil {
		c.logError("recording node failed", err)
		return
	}
	if c.cfg.Observer != nil {
		c.cfg.Observer.NodeSeen(node, isNew)
	}
	if !isNew {
		if c.hasUnresolved(node.IEEEAddress) {
			c.logInfo("node re-announced with unresolved endpoints", "node", node.ID, "nwk", node.NetworkAddress.String())
			c.spawn(func(ctx context.Context) { c.enumerate(ctx, node.IEEEAddress, true) })
			return
		}
		c.logDebug("node already known", "node", node.ID, "nwk", node.NetworkAddress.String(), "status", string(node.Status))
		return
	}

	c.logInfo("new node", "node", node.ID, "nwk", node.NetworkAddress.String())
	c.armRetry(node.IEEEAddress)
	c.spawn(func(ctx context.Context) { c.enumerate(ctx, node.IEEEAddress, false) })
}

// OnEndpoint handles an endpoint notification.
// Each (node, endpoint) is described at most once at a time and never
// again once resolved.
func (c *DiscoveryCoordinator) OnEndpoint(note EndpointNotification) {
	if c.stopped() {
		return
	}

	node, ok := c.table.byNetworkAddress(note.NetworkAddress)
	if !ok {
		c.logDebug("endpoint from unknown node", "nwk", note.NetworkAddress.String(), "endpoint", note.Endpoint)
		return
	}
	if node.HasEndpoint(note.Endpoint) {
		return
	}

	ref := endpointRef{node: node.IEEEAddress, endpoint: note.Endpoint}
	c.mu.Lock()
	if _, busy := c.resolving[ref]; busy {
		c.mu.Unlock()
		return
	}
	c.resolving[ref] = struct{}{}
	c.mu.Unlock()

	c.spawn(func(ctx context.Context) {
		defer func() {
			c.mu.Lock()
			delete(c.resolving, ref)
			c.mu.Unlock()
		}()
		c.resolveEndpoint(ctx, node.IEEEAddress, note.Endpoint)
	})
}

// OnClusterCommand routes an unsolicited cluster command to the adapters
// bound to that cluster.
func (c *DiscoveryCoordinator) OnClusterCommand(cmd ClusterCommand) {
	if c.stopped() {
		return
	}

	node, ok := c.table.byNetworkAddress(cmd.Source)
	if !ok {
		c.logDebug("cluster command from unknown node", "nwk", cmd.Source.String(), "cluster", cmd.Cluster)
		return
	}

	c.mu.Lock()
	var handlers []ClusterCommandHandler
	for _, d := range c.devices {
		b := d.Binding()
		if b.Node == node.IEEEAddress && b.Endpoint == cmd.Endpoint && b.Cluster == cmd.Cluster {
			if h, ok := d.(ClusterCommandHandler); ok {
				handlers = append(handlers, h)
			}
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h.HandleClusterCommand(c.ctx, cmd)
	}
}

// Replay feeds previously known nodes through discovery, as if each had
// just announced itself.
func (c *DiscoveryCoordinator) Replay(nodes []NodeAnnouncement) {
	for _, n := range nodes {
		c.OnNodeSeen(n)
	}
}

// enumerate sends the endpoint enumeration requests for a node.
// Failures mark the node failed; the retry timer stays armed.
func (c *DiscoveryCoordinator) enumerate(ctx context.Context, ieee IEEEAddress, retry bool) {
	node, err := c.table.update(ieee, func(n *Node) bool {
		n.Attempts++
		return true
	})
	if err != nil {
		c.logError("updating node failed", err)
		return
	}
	if c.cfg.Observer != nil {
		c.cfg.Observer.EnumerationRequested(node, retry)
	}

	if err := c.cfg.Resolver.Enumerate(ctx, node.NetworkAddress); err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logDebug("endpoint enumeration failed, will retry",
			"node", node.ID, "attempt", node.Attempts, "error", err)
		c.setStatus(ieee, NodeStatusFailed)
	}
}

// resolveEndpoint describes one endpoint and binds its clusters.
func (c *DiscoveryCoordinator) resolveEndpoint(ctx context.Context, ieee IEEEAddress, endpoint uint8) {
	node, ok := c.table.get(ieee)
	if !ok {
		return
	}

	ref := endpointRef{node: ieee, endpoint: endpoint}
	info, err := c.cfg.Resolver.Describe(ctx, ieee, node.NetworkAddress, endpoint)
	if err != nil {
		if ctx.Err() == nil {
			c.logWarn("endpoint resolution failed, will retry", "node", node.ID, "endpoint", endpoint, "error", err)
			c.armRedescribe(ref)
		}
		return
	}
	c.cancelRedescribe(ref)

	// A node with several endpoints may resolve any of them first; only
	// an endpoint with clusters settles discovery.
	node, err = c.table.update(ieee, func(n *Node) bool {
		if n.HasEndpoint(endpoint) {
			return false
		}
		n.Endpoints = append(n.Endpoints, endpoint)
		if info.HasClusters() && n.Status != NodeStatusBound {
			n.Status = NodeStatusEndpointsFound
		}
		return true
	})
	if err != nil {
		c.logError("updating node failed", err)
		return
	}
	if c.cfg.Observer != nil {
		c.cfg.Observer.EndpointResolved(node, info)
	}
	if !info.HasClusters() {
		return
	}
	c.cancelRetry(ieee)

	adapters := c.binder.Bind(ieee, node.NetworkAddress, info)
	if len(adapters) == 0 {
		return
	}
	c.setStatus(ieee, NodeStatusBound)

	for _, a := range adapters {
		c.mu.Lock()
		c.devices[deviceRef{key: a.Key(), category: a.Category().Code}] = a
		c.mu.Unlock()

		a.Start(c.ctx)
		c.spawn(func(ctx context.Context) { c.awaitReady(ctx, a) })
	}
}

// awaitReady hands the adapter to the sink once it is ready.
func (c *DiscoveryCoordinator) awaitReady(ctx context.Context, a DeviceAdapter) {
	select {
	case <-a.Ready():
	case <-ctx.Done():
		return
	}
	if c.cfg.Observer != nil {
		c.cfg.Observer.DeviceBound(a)
	}
	c.cfg.Sink.DeviceReady(a)
}

func (c *DiscoveryCoordinator) setStatus(ieee IEEEAddress, status NodeStatus) {
	_, err := c.table.update(ieee, func(n *Node) bool {
		if n.Status == status || n.Status == NodeStatusBound {
			return false
		}
		// failed only overrides states that have not found endpoints yet
		if status == NodeStatusFailed && n.Status == NodeStatusEndpointsFound {
			return false
		}
		n.Status = status
		return true
	})
	if err != nil {
		c.logError("updating node status failed", err)
	}
}

// armRetry starts the node's retry timer unless one exists.
func (c *DiscoveryCoordinator) armRetry(ieee IEEEAddress) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.retries[ieee]; ok {
		return
	}

	policy := backoff.NewConstantBackOff(c.cfg.RetryInterval)
	var timer *time.Timer
	timer = time.AfterFunc(policy.NextBackOff(), func() {
		c.mu.Lock()
		current, ok := c.retries[ieee]
		if !ok || current != timer || c.ctx.Err() != nil {
			c.mu.Unlock()
			return
		}
		timer.Reset(policy.NextBackOff())
		c.mu.Unlock()

		c.logDebug("no endpoints yet, retrying enumeration", "node", ieee.String(), "error", ErrDiscoveryTimeout)
		c.spawn(func(ctx context.Context) { c.enumerate(ctx, ieee, true) })
	})
	c.retries[ieee] = timer
}

// armRedescribe schedules another describe of an endpoint that failed to
// resolve. While the timer exists the endpoint counts as unresolved.
func (c *DiscoveryCoordinator) armRedescribe(ref endpointRef) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.redescribe[ref]; ok || c.ctx.Err() != nil {
		return
	}

	policy := backoff.NewConstantBackOff(c.cfg.RetryInterval)
	var timer *time.Timer
	timer = time.AfterFunc(policy.NextBackOff(), func() {
		c.mu.Lock()
		current, ok := c.redescribe[ref]
		if !ok || current != timer || c.ctx.Err() != nil {
			c.mu.Unlock()
			return
		}
		delete(c.redescribe, ref)
		c.mu.Unlock()

		node, ok := c.table.get(ref.node)
		if !ok {
			return
		}
		c.logDebug("describing endpoint again", "node", node.ID, "endpoint", ref.endpoint)
		c.OnEndpoint(EndpointNotification{NetworkAddress: node.NetworkAddress, Endpoint: ref.endpoint})
	})
	c.redescribe[ref] = timer
}

func (c *DiscoveryCoordinator) cancelRedescribe(ref endpointRef) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.redescribe[ref]; ok {
		t.Stop()
		delete(c.redescribe, ref)
	}
}

// hasUnresolved reports whether any endpoint of the node is waiting to be
// described again.
func (c *DiscoveryCoordinator) hasUnresolved(ieee IEEEAddress) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for ref := range c.redescribe {
		if ref.node == ieee {
			return true
		}
	}
	return false
}

// cancelRetry stops and forgets the node's retry timer. Later calls are no-ops.
func (c *DiscoveryCoordinator) cancelRetry(ieee IEEEAddress) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.retries[ieee]; ok {
		t.Stop()
		delete(c.retries, ieee)
		c.logDebug("retry cancelled", "node", ieee.String())
	}
}

// PendingRetries returns the number of armed retry timers.
func (c *DiscoveryCoordinator) PendingRetries() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.retries)
}

// Nodes returns all known nodes ordered by IEEE address.
func (c *DiscoveryCoordinator) Nodes() ([]*Node, error) {
	return c.table.list("")
}

// NodesWithStatus returns nodes in one discovery status.
func (c *DiscoveryCoordinator) NodesWithStatus(status NodeStatus) ([]*Node, error) {
	return c.table.list(status)
}

// Node returns a node by IEEE address.
func (c *DiscoveryCoordinator) Node(ieee IEEEAddress) (*Node, bool) {
	return c.table.get(ieee)
}

// Device returns a bound device by binding key and category code.
func (c *DiscoveryCoordinator) Device(key string, category int) (DeviceAdapter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.devices[deviceRef{key: key, category: category}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", ErrDeviceNotFound, key, category)
	}
	return d, nil
}

// Devices returns all bound devices ordered by key and category.
func (c *DiscoveryCoordinator) Devices() []DeviceAdapter {
	c.mu.Lock()
	devices := make([]DeviceAdapter, 0, len(c.devices))
	for _, d := range c.devices {
		devices = append(devices, d)
	}
	c.mu.Unlock()

	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Key() != devices[j].Key() {
			return devices[i].Key() < devices[j].Key()
		}
		return devices[i].Category().Code < devices[j].Category().Code
	})
	return devices
}

// Stop cancels discovery work, stops every retry timer and adapter, and
// waits for in-flight work. Safe to call multiple times.
func (c *DiscoveryCoordinator) Stop() {
	c.stopOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		for ieee, t := range c.retries {
			t.Stop()
			delete(c.retries, ieee)
		}
		for ref, t := range c.redescribe {
			t.Stop()
			delete(c.redescribe, ref)
		}
		devices := make([]DeviceAdapter, 0, len(c.devices))
		for _, d := range c.devices {
			devices = append(devices, d)
		}
		c.mu.Unlock()

		c.wg.Wait()
		for _, d := range devices {
			d.Stop()
		}
	})
}

// spawn runs fn on a tracked goroutine unless the coordinator is stopping.
func (c *DiscoveryCoordinator) spawn(fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(c.ctx)
	}()
}

func (c *DiscoveryCoordinator) stopped() bool {
	return c.ctx.Err() != nil
}

func (c *DiscoveryCoordinator) logDebug(msg string, keysAndValues ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug(msg, keysAndValues...)
	}
}

func (c *DiscoveryCoordinator) logInfo(msg string, keysAndValues ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Info(msg, keysAndValues...)
	}
}

func (c *DiscoveryCoordinator) logWarn(msg string, keysAndValues ...any) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Warn(msg, keysAndValues...)
	}
}

func (c *DiscoveryCoordinator) logError(msg string, err error) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Error(msg, "error", err)
	}
}
