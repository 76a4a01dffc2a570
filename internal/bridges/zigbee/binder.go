package zigbee

import (
	"fmt"
	"sync"
)

// DefaultBindingPrefix is the transport prefix of binding keys.
const DefaultBindingPrefix = "zigbee"

// AddressBook resolves a node's current short address.
type AddressBook interface {
	NetworkAddressOf(node IEEEAddress) (NetworkAddress, bool)
}

// BinderConfig configures a DeviceBinder.
type BinderConfig struct {
	Registry *ClusterRegistry
	Conn     Connector

	// Addresses, if set, is consulted on every adapter request so a
	// rejoined node keeps working. Nil pins the address seen at bind time.
	Addresses AddressBook

	// Prefix is the binding key prefix. Default: "zigbee".
	Prefix  string
	Adapter AdapterOptions
	Logger  Logger
}

// bindingID is the uniqueness unit of the binder.
type bindingID struct {
	node     IEEEAddress
	endpoint uint8
	cluster  string
}

// DeviceBinder turns resolved endpoints into device adapters.
//
// Thread Safety: Bind is safe for concurrent use; concurrent binds of the
// same endpoint produce each adapter once.
type DeviceBinder struct {
	cfg BinderConfig

	mu    sync.Mutex
	bound map[bindingID]struct{}
}

// NewDeviceBinder creates a binder.
func NewDeviceBinder(cfg BinderConfig) *DeviceBinder {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultBindingPrefix
	}
	if cfg.Registry == nil {
		cfg.Registry = DefaultClusterRegistry(nil)
	}
	if cfg.Adapter.Logger == nil {
		cfg.Adapter.Logger = cfg.Logger
	}
	return &DeviceBinder{cfg: cfg, bound: make(map[bindingID]struct{})}
}

// BindingKey returns "<prefix><ieee><endpoint>", e.g. "zigbee00124b0001abcdef1".
func (b *DeviceBinder) BindingKey(node IEEEAddress, endpoint uint8) string {
	return fmt.Sprintf("%s%s%d", b.cfg.Prefix, node, endpoint)
}

// Bind creates one adapter per input cluster with a registry entry.
//
// Clusters without an entry (Basic among them) are skipped and logged as
// unrecognized. A (node, endpoint, cluster type) that was already bound
// produces nothing. The returned adapters are not started.
func (b *DeviceBinder) Bind(node IEEEAddress, nwk NetworkAddress, ep EndpointInfo) []DeviceAdapter {
	deviceName := ep.Basic.DeviceName()
	key := b.BindingKey(node, ep.Endpoint)
	address := b.addressFunc(node, nwk)

	var adapters []DeviceAdapter
	for _, def := range ep.Clusters {
		entry, ok := b.cfg.Registry.Lookup(def.Name)
		if !ok {
			b.logDebug("cluster not used for a device",
				"key", key, "cluster", def.Name, "error", ErrUnrecognizedCluster)
			continue
		}

		if !b.claim(bindingID{node: node, endpoint: ep.Endpoint, cluster: def.Name}) {
			continue
		}

		category := entry.CategoryFor(ep.Basic)
		meta := AdapterMeta{
			Key:      key,
			Name:     category.Name + " - " + deviceName,
			Category: category,
		}
		cluster := NewBoundCluster(b.cfg.Conn, node, ep.Endpoint, def, address)
		adapters = append(adapters, entry.New(cluster, meta, b.cfg.Adapter))

		b.logInfo("bound device", "key", key, "name", meta.Name, "category", category.Code)
	}
	return adapters
}

// Bound reports whether a cluster type has been bound on an endpoint.
func (b *DeviceBinder) Bound(node IEEEAddress, endpoint uint8, clusterName string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.bound[bindingID{node: node, endpoint: endpoint, cluster: clusterName}]
	return ok
}

func (b *DeviceBinder) claim(id bindingID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.bound[id]; ok {
		return false
	}
	b.bound[id] = struct{}{}
	return true
}

func (b *DeviceBinder) addressFunc(node IEEEAddress, fallback NetworkAddress) func() NetworkAddress {
	if b.cfg.Addresses == nil {
		return func() NetworkAddress { return fallback }
	}
	book := b.cfg.Addresses
	return func() NetworkAddress {
		if nwk, ok := book.NetworkAddressOf(node); ok {
			return nwk
		}
		return fallback
	}
}

func (b *DeviceBinder) logDebug(msg string, keysAndValues ...any) {
	if b.cfg.Logger != nil {
		b.cfg.Logger.Debug(msg, keysAndValues...)
	}
}

func (b *DeviceBinder) logInfo(msg string, keysAndValues ...any) {
	if b.cfg.Logger != nil {
		b.cfg.Logger.Info(msg, keysAndValues...)
	}
}
