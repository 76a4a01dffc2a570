package zigbee

import "context"

// MeteringAdapter reports a Simple Metering cluster's instantaneous demand.
type MeteringAdapter struct {
	adapterBase
}

var _ DeviceAdapter = (*MeteringAdapter)(nil)

// NewMeteringAdapter creates an adapter for a Simple Metering cluster.
func NewMeteringAdapter(cluster *BoundCluster, meta AdapterMeta, opts AdapterOptions) DeviceAdapter {
	a := &MeteringAdapter{}
	a.init(cluster, meta, opts)
	return a
}

// Writable reports false.
func (a *MeteringAdapter) Writable() bool { return false }

// Start begins polling InstantaneousDemand.
func (a *MeteringAdapter) Start(ctx context.Context) {
	a.run(ctx, func(ctx context.Context) {
		a.poll(ctx, func(ctx context.Context) (any, error) {
			return a.cluster.ReadAttribute(ctx, "InstantaneousDemand")
		})
	})
}
