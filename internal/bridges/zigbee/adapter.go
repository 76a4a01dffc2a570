package zigbee

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Adapter defaults.
const (
	// DefaultPollInterval is how often polling adapters re-read their attribute.
	DefaultPollInterval = 5 * time.Second

	// DefaultEventBuffer is the capacity of an adapter's event channel.
	DefaultEventBuffer = 16

	// unknownModel is the model placeholder when the Basic cluster is
	// missing or did not answer.
	unknownModel = "[unknown model]"
)

// BasicInfo is the identity read from an endpoint's Basic cluster.
// Empty fields were not available.
type BasicInfo struct {
	Manufacturer string
	Model        string
}

// DeviceName renders "<model> by <manufacturer>", falling back to
// "[unknown model]" and omitting the manufacturer when absent.
func (b BasicInfo) DeviceName() string {
	name := b.Model
	if name == "" {
		name = unknownModel
	}
	if b.Manufacturer != "" {
		name += " by " + b.Manufacturer
	}
	return name
}

// Binding identifies the cluster an adapter is bound to.
type Binding struct {
	Node        IEEEAddress
	Endpoint    uint8
	Cluster     uint16
	ClusterName string
}

// AdapterMeta is the identity the binder assigns to a new adapter.
type AdapterMeta struct {
	// Key is the stable binding key: prefix + node IEEE + endpoint.
	Key string

	// Name is the full display name.
	Name string

	Category Category
}

// AdapterOptions tunes adapter runtime behaviour.
type AdapterOptions struct {
	PollInterval time.Duration
	EventBuffer  int
	Logger       Logger
}

func (o AdapterOptions) withDefaults() AdapterOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = DefaultEventBuffer
	}
	return o
}

// Event is one data emission from an adapter.
type Event struct {
	Key       string
	Category  Category
	Value     any
	Timestamp time.Time
}

// DeviceAdapter is the host-facing device contract.
//
// Lifecycle: constructed → Start → Ready closes once → events stream on
// Events until Stop. Events is never restarted; after Stop it is closed.
type DeviceAdapter interface {
	Key() string
	Name() string
	Category() Category
	Binding() Binding
	Writable() bool

	// Ready closes once the adapter is ready to be registered.
	Ready() <-chan struct{}

	// Events yields data events. Slow consumers lose events (see Dropped).
	Events() <-chan Event

	// LastValue returns the most recently emitted value, nil before the first.
	LastValue() any

	// Dropped returns the number of events lost to a full buffer.
	Dropped() uint64

	Start(ctx context.Context)
	Stop()
}

// Consumer is implemented by writable adapters.
type Consumer interface {
	Consume(ctx context.Context, value any) error
}

// ClusterCommandHandler is implemented by adapters driven by unsolicited
// cluster commands instead of polling.
type ClusterCommandHandler interface {
	HandleClusterCommand(ctx context.Context, cmd ClusterCommand)
}

// BoundCluster is one cluster on one endpoint of a node, as seen by an adapter.
//
// The network address is looked up on every request, so an adapter keeps
// working when its node rejoins under a new short address.
type BoundCluster struct {
	conn     Connector
	node     IEEEAddress
	endpoint uint8
	def      ClusterDef
	address  func() NetworkAddress
}

// NewBoundCluster binds a cluster definition to a node endpoint.
// address supplies the node's current short address.
func NewBoundCluster(conn Connector, node IEEEAddress, endpoint uint8, def ClusterDef, address func() NetworkAddress) *BoundCluster {
	return &BoundCluster{conn: conn, node: node, endpoint: endpoint, def: def, address: address}
}

// Definition returns the cluster definition.
func (b *BoundCluster) Definition() ClusterDef {
	return b.def
}

// Binding returns the cluster's identity.
func (b *BoundCluster) Binding() Binding {
	return Binding{Node: b.node, Endpoint: b.endpoint, Cluster: b.def.ID, ClusterName: b.def.Name}
}

// ReadAttributes reads named attributes. Attributes the device did not
// return successfully are absent from the result.
func (b *BoundCluster) ReadAttributes(ctx context.Context, names ...string) (map[string]any, error) {
	ids := make([]uint16, 0, len(names))
	for _, name := range names {
		id, err := b.def.AttributeID(name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	records, err := b.conn.ReadAttributes(ctx, b.address(), b.endpoint, b.def.ID, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %v: %w", ErrAttributeRead, b.def.Name, names, err)
	}

	values := make(map[string]any, len(records))
	for _, rec := range records {
		if rec.OK() {
			values[b.def.AttributeName(rec.ID)] = rec.Value
		}
	}
	return values, nil
}

// ReadAttribute reads a single named attribute.
func (b *BoundCluster) ReadAttribute(ctx context.Context, name string) (any, error) {
	values, err := b.ReadAttributes(ctx, name)
	if err != nil {
		return nil, err
	}
	v, ok := values[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s not returned", ErrAttributeRead, b.def.Name, name)
	}
	return v, nil
}

// WriteAttribute writes one named attribute with an explicit ZCL type.
func (b *BoundCluster) WriteAttribute(ctx context.Context, name string, typ byte, value []byte) error {
	id, err := b.def.AttributeID(name)
	if err != nil {
		return err
	}
	if err := b.conn.WriteAttribute(ctx, b.address(), b.endpoint, b.def.ID, id, typ, value); err != nil {
		if errors.Is(err, ErrAttributeWrite) {
			return err
		}
		return fmt.Errorf("%w: %s.%s: %w", ErrAttributeWrite, b.def.Name, name, err)
	}
	return nil
}

// Coordinator returns the IEEE address of the local coordinator, zero until
// the network is up.
func (b *BoundCluster) Coordinator() IEEEAddress {
	return b.conn.LocalAddress()
}

// Invoke sends a named cluster command.
func (b *BoundCluster) Invoke(ctx context.Context, name string, payload []byte) error {
	id, err := b.def.CommandID(name)
	if err != nil {
		return err
	}
	if err := b.conn.InvokeCommand(ctx, b.address(), b.endpoint, b.def.ID, id, payload); err != nil {
		if errors.Is(err, ErrCommandInvocation) {
			return err
		}
		return fmt.Errorf("%w: %s.%s: %w", ErrCommandInvocation, b.def.Name, name, err)
	}
	return nil
}

// adapterBase carries the lifecycle shared by every adapter.
type adapterBase struct {
	meta    AdapterMeta
	cluster *BoundCluster
	opts    AdapterOptions

	events    chan Event
	ready     chan struct{}
	readyOnce sync.Once

	lastMu sync.RWMutex
	last   any
	closed bool

	dropped atomic.Uint64

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// init prepares the base in place.
func (a *adapterBase) init(cluster *BoundCluster, meta AdapterMeta, opts AdapterOptions) {
	opts = opts.withDefaults()
	a.meta = meta
	a.cluster = cluster
	a.opts = opts
	a.events = make(chan Event, opts.EventBuffer)
	a.ready = make(chan struct{})
	a.cancel = func() {}
}

func (a *adapterBase) Key() string            { return a.meta.Key }
func (a *adapterBase) Name() string           { return a.meta.Name }
func (a *adapterBase) Category() Category     { return a.meta.Category }
func (a *adapterBase) Binding() Binding       { return a.cluster.Binding() }
func (a *adapterBase) Ready() <-chan struct{} { return a.ready }
func (a *adapterBase) Events() <-chan Event   { return a.events }
func (a *adapterBase) Dropped() uint64        { return a.dropped.Load() }

func (a *adapterBase) LastValue() any {
	a.lastMu.RLock()
	defer a.lastMu.RUnlock()
	return a.last
}

func (a *adapterBase) markReady() {
	a.readyOnce.Do(func() { close(a.ready) })
}

// emit records the value and publishes it without blocking.
// Values emitted after Stop are discarded.
func (a *adapterBase) emit(value any) {
	a.lastMu.Lock()
	defer a.lastMu.Unlock()
	if a.closed {
		return
	}
	a.last = value

	ev := Event{Key: a.meta.Key, Category: a.meta.Category, Value: value, Timestamp: time.Now()}
	select {
	case a.events <- ev:
	default:
		a.dropped.Add(1)
		a.logDebug("event buffer full, dropping event", "key", a.meta.Key)
	}
}

// run starts fn on a goroutine under a cancellable context. Only the first
// call has an effect.
func (a *adapterBase) run(ctx context.Context, fn func(ctx context.Context)) {
	a.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		a.cancel = cancel
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			fn(ctx)
		}()
	})
}

// Stop halts the adapter and closes its event channel. Safe to call
// multiple times, including before Start.
func (a *adapterBase) Stop() {
	a.stopOnce.Do(func() {
		a.startOnce.Do(func() {}) // a later Start must not spawn anything
		a.cancel()
		a.wg.Wait()

		a.lastMu.Lock()
		a.closed = true
		close(a.events)
		a.lastMu.Unlock()
	})
}

// poll signals readiness, fetches immediately, then every PollInterval.
// Fetch errors are logged and the previous value stands.
func (a *adapterBase) poll(ctx context.Context, fetch func(ctx context.Context) (any, error)) {
	a.markReady()

	ticker := time.NewTicker(a.opts.PollInterval)
	defer ticker.Stop()

	for {
		if v, err := fetch(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logWarn("attribute poll failed", "key", a.meta.Key, "error", err)
		} else {
			a.emit(v)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *adapterBase) logDebug(msg string, keysAndValues ...any) {
	if a.opts.Logger != nil {
		a.opts.Logger.Debug(msg, keysAndValues...)
	}
}

func (a *adapterBase) logWarn(msg string, keysAndValues ...any) {
	if a.opts.Logger != nil {
		a.opts.Logger.Warn(msg, keysAndValues...)
	}
}

// NormalizeSwitchValue converts a boolean-like value to on (true) or off (false).
//
// Accepted forms:
//   - bool
//   - integers and floats: 0 is off, 1 is on
//   - strings "1"/"0", "true"/"false", "on"/"off" (case-insensitive)
//
// Returns:
//   - bool: true for on
//   - error: ErrInvalidCommandValue for anything else
func NormalizeSwitchValue(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int:
		return numericSwitch(float64(x), v)
	case int8:
		return numericSwitch(float64(x), v)
	case int16:
		return numericSwitch(float64(x), v)
	case int32:
		return numericSwitch(float64(x), v)
	case int64:
		return numericSwitch(float64(x), v)
	case uint:
		return numericSwitch(float64(x), v)
	case uint8:
		return numericSwitch(float64(x), v)
	case uint16:
		return numericSwitch(float64(x), v)
	case uint32:
		return numericSwitch(float64(x), v)
	case uint64:
		return numericSwitch(float64(x), v)
	case float32:
		return numericSwitch(float64(x), v)
	case float64:
		return numericSwitch(x, v)
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "on":
			return true, nil
		case "0", "false", "off":
			return false, nil
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return numericSwitch(f, v)
		}
	}
	return false, fmt.Errorf("%w: %v (%T)", ErrInvalidCommandValue, v, v)
}

func numericSwitch(f float64, orig any) (bool, error) {
	switch f {
	case 1:
		return true, nil
	case 0:
		return false, nil
	}
	return false, fmt.Errorf("%w: %v", ErrInvalidCommandValue, orig)
}
