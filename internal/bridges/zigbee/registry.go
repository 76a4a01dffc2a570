package zigbee

import (
	"sort"
	"strings"
	"sync"
)

// Category is a host device category: a numeric code plus the intrinsic
// name every adapter of that category starts its display name with.
type Category struct {
	Code int
	Name string
}

// Host device categories produced by the bridge.
var (
	CategoryOnOff         = Category{Code: 238, Name: "On/Off"}
	CategoryMetering      = Category{Code: 243, Name: "Metering"}
	CategoryMotionSensor  = Category{Code: 7, Name: "Motion Sensor"}
	CategoryContactSensor = Category{Code: 1001, Name: "Contact Sensor"}
)

// DefaultMotionModelPrefix marks IAS Zone devices reported as motion sensors.
const DefaultMotionModelPrefix = "IR"

// AdapterFactory constructs a DeviceAdapter bound to one cluster.
type AdapterFactory func(cluster *BoundCluster, meta AdapterMeta, opts AdapterOptions) DeviceAdapter

// Classifier picks a category from an endpoint's basic descriptor.
type Classifier func(info BasicInfo) Category

// RegistryEntry maps one cluster type name to an adapter constructor.
type RegistryEntry struct {
	// ClusterName is the cluster type name the entry matches, e.g. "On/Off".
	ClusterName string

	// Category is the device category produced when Classify is nil.
	Category Category

	// Classify, if set, overrides Category per device.
	Classify Classifier

	// New builds the adapter.
	New AdapterFactory
}

// CategoryFor resolves the category for a device with the given descriptor.
func (e RegistryEntry) CategoryFor(info BasicInfo) Category {
	if e.Classify != nil {
		return e.Classify(info)
	}
	return e.Category
}

// ClusterRegistry maps cluster type names to adapter constructors.
//
// Thread Safety: safe for concurrent use. Entries are normally registered
// once at startup and only read afterwards.
type ClusterRegistry struct {
	mu      sync.RWMutex
	entries map[string]RegistryEntry
}

// NewClusterRegistry creates a registry holding the given entries.
func NewClusterRegistry(entries ...RegistryEntry) *ClusterRegistry {
	r := &ClusterRegistry{entries: make(map[string]RegistryEntry, len(entries))}
	for _, e := range entries {
		r.Register(e)
	}
	return r
}

// DefaultClusterRegistry returns the registry for the clusters the bridge
// turns into devices: On/Off, Simple Metering and IAS Zone.
//
// IAS Zone devices are split into motion and contact sensors by the
// classifier; nil uses ZoneClassifier(DefaultMotionModelPrefix).
func DefaultClusterRegistry(zone Classifier) *ClusterRegistry {
	if zone == nil {
		zone = ZoneClassifier(DefaultMotionModelPrefix)
	}
	return NewClusterRegistry(
		RegistryEntry{ClusterName: ClusterNameOnOff, Category: CategoryOnOff, New: NewOnOffAdapter},
		RegistryEntry{ClusterName: ClusterNameSimpleMetering, Category: CategoryMetering, New: NewMeteringAdapter},
		RegistryEntry{ClusterName: ClusterNameIASZone, Category: CategoryContactSensor, Classify: zone, New: NewZoneAdapter},
	)
}

// Register adds or replaces the entry for e.ClusterName.
func (r *ClusterRegistry) Register(e RegistryEntry) {
	r.mu.Lock()
	r.entries[e.ClusterName] = e
	r.mu.Unlock()
}

// Lookup returns the entry for a cluster type name.
func (r *ClusterRegistry) Lookup(clusterName string) (RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[clusterName]
	return e, ok
}

// ClusterNames returns the registered cluster type names, sorted.
func (r *ClusterRegistry) ClusterNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ZoneClassifier returns the IAS Zone sub-type rule: a model identifier
// starting with prefix is a motion sensor, anything else (including an
// unknown model) is a contact sensor.
//
// This is a heuristic. The model string stands in for the ZoneType
// attribute, which the bridge does not read.
func ZoneClassifier(prefix string) Classifier {
	return func(info BasicInfo) Category {
		if prefix != "" && strings.HasPrefix(info.Model, prefix) {
			return CategoryMotionSensor
		}
		return CategoryContactSensor
	}
}
