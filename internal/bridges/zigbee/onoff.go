package zigbee

import (
	"context"
	"fmt"
)

// OnOffAdapter drives an On/Off cluster as a writable binary switch.
//
// The OnOff attribute is polled every PollInterval until the device's
// attribute reporting is configured by the bridge; polling and Consume
// both emit the freshly read value.
type OnOffAdapter struct {
	adapterBase
}

// Ensure OnOffAdapter implements the writable device contract.
var (
	_ DeviceAdapter = (*OnOffAdapter)(nil)
	_ Consumer      = (*OnOffAdapter)(nil)
)

// NewOnOffAdapter creates an adapter for an On/Off cluster.
func NewOnOffAdapter(cluster *BoundCluster, meta AdapterMeta, opts AdapterOptions) DeviceAdapter {
	a := &OnOffAdapter{}
	a.init(cluster, meta, opts)
	return a
}

// Writable reports true: On/Off devices accept commands.
func (a *OnOffAdapter) Writable() bool { return true }

// Start begins polling.
func (a *OnOffAdapter) Start(ctx context.Context) {
	a.run(ctx, func(ctx context.Context) {
		a.poll(ctx, a.read)
	})
}

func (a *OnOffAdapter) read(ctx context.Context) (any, error) {
	v, err := a.cluster.ReadAttribute(ctx, "OnOff")
	if err != nil {
		return nil, err
	}
	on, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("%w: OnOff has type %T", ErrAttributeRead, v)
	}
	return on, nil
}

// Consume switches the device on or off.
//
// The value is normalised with NormalizeSwitchValue, the On or Off command
// is invoked, and the attribute is re-read and emitted.
//
// Returns:
//   - error: ErrInvalidCommandValue, ErrCommandInvocation, or ErrAttributeRead
//     from the confirming read (the command itself was accepted)
func (a *OnOffAdapter) Consume(ctx context.Context, value any) error {
	on, err := NormalizeSwitchValue(value)
	if err != nil {
		return err
	}

	command := "Off"
	if on {
		command = "On"
	}
	if err := a.cluster.Invoke(ctx, command, nil); err != nil {
		return err
	}

	v, err := a.read(ctx)
	if err != nil {
		return err
	}
	a.emit(v)
	return nil
}
