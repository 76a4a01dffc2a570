package zigbee

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// zoneStatusBits names the bits of the IAS ZoneStatus bitmap, bit 0 first.
var zoneStatusBits = [16]string{
	"Alarm1",
	"Alarm2",
	"Tamper",
	"Battery",
	"SupervisionReports",
	"RestoreReports",
	"Trouble",
	"AC",
	"Reserved1",
	"Reserved2",
	"Reserved3",
	"Reserved4",
	"Reserved5",
	"Reserved6",
	"Reserved7",
	"Reserved8",
}

// Zone enrollment.
const (
	zoneEnrollSuccess byte = 0x00
	defaultZoneID     byte = 0x01
)

// ZoneState is a parsed IAS ZoneStatus bitmap.
type ZoneState struct {
	// Raw is the 16-bit bitmap as received.
	Raw uint16

	// Conditions maps each bit name to whether it is set.
	Conditions map[string]bool

	// Timestamp is when the state was captured.
	Timestamp time.Time
}

// Alarm reports the primary alarm bit (Alarm1).
func (s ZoneState) Alarm() bool {
	return s.Conditions["Alarm1"]
}

// ParseZoneStatus decodes a ZoneStatus bitmap.
func ParseZoneStatus(raw uint16, at time.Time) ZoneState {
	s := ZoneState{Raw: raw, Conditions: make(map[string]bool, len(zoneStatusBits)), Timestamp: at}
	for i, name := range zoneStatusBits {
		s.Conditions[name] = raw&(1<<i) != 0
	}
	return s
}

// ZoneAdapter reports an IAS Zone sensor.
//
// Zone sensors push their state with Zone Status Change Notifications; the
// adapter does not poll. Each notification emits "1" when Alarm1 is set and
// "0" otherwise, and the full parsed state is kept for State().
type ZoneAdapter struct {
	adapterBase

	stateMu sync.RWMutex
	state   *ZoneState
}

var (
	_ DeviceAdapter         = (*ZoneAdapter)(nil)
	_ ClusterCommandHandler = (*ZoneAdapter)(nil)
)

// NewZoneAdapter creates an adapter for an IAS Zone cluster.
func NewZoneAdapter(cluster *BoundCluster, meta AdapterMeta, opts AdapterOptions) DeviceAdapter {
	a := &ZoneAdapter{}
	a.init(cluster, meta, opts)
	return a
}

// Writable reports false.
func (a *ZoneAdapter) Writable() bool { return false }

// Start writes the coordinator's address into the sensor's IAS_CIE_Address
// so the sensor enrolls with it, then signals readiness. A failed write is
// logged and the adapter still becomes ready. Data arrives through
// HandleClusterCommand.
func (a *ZoneAdapter) Start(ctx context.Context) {
	a.run(ctx, func(ctx context.Context) {
		a.writeCIEAddress(ctx)
		a.markReady()
		<-ctx.Done()
	})
}

func (a *ZoneAdapter) writeCIEAddress(ctx context.Context) {
	cie := a.cluster.Coordinator()
	if cie == 0 {
		a.logWarn("coordinator address unknown, zone not enrolled", "key", a.meta.Key)
		return
	}
	if err := a.cluster.WriteAttribute(ctx, "IAS_CIE_Address", ZCLTypeIEEE, cie.Bytes()); err != nil {
		if ctx.Err() == nil {
			a.logWarn("writing IAS CIE address failed", "key", a.meta.Key, "error", err)
		}
		return
	}
	a.logDebug("IAS CIE address written", "key", a.meta.Key, "cie", cie.String())
}

// State returns the last parsed zone state, or false if none has arrived.
func (a *ZoneAdapter) State() (ZoneState, bool) {
	a.stateMu.RLock()
	defer a.stateMu.RUnlock()
	if a.state == nil {
		return ZoneState{}, false
	}
	return *a.state, true
}

// HandleClusterCommand processes a server-to-client IAS Zone command.
//
//   - Zone Status Change Notification: parse and emit the alarm bit.
//   - Zone Enroll Request: answer with a successful Zone Enroll Response.
func (a *ZoneAdapter) HandleClusterCommand(ctx context.Context, cmd ClusterCommand) {
	switch cmd.Command {
	case zoneStatusChangeNotification:
		state, err := a.readState(cmd.Payload)
		if err != nil {
			a.logWarn("invalid zone status", "key", a.meta.Key, "error", err)
			return
		}
		a.stateMu.Lock()
		a.state = &state
		a.stateMu.Unlock()

		a.logDebug("zone state", "key", a.meta.Key, "raw", fmt.Sprintf("0x%04x", state.Raw))
		if state.Alarm() {
			a.emit("1")
		} else {
			a.emit("0")
		}

	case zoneEnrollRequest:
		if err := a.cluster.Invoke(ctx, "ZoneEnrollResponse", []byte{zoneEnrollSuccess, defaultZoneID}); err != nil {
			a.logWarn("zone enroll response failed", "key", a.meta.Key, "error", err)
		}
	}
}

func (a *ZoneAdapter) readState(payload []byte) (ZoneState, error) {
	if len(payload) < 2 {
		return ZoneState{}, fmt.Errorf("%w: zone status %d bytes", ErrInvalidZCLFrame, len(payload))
	}
	return ParseZoneStatus(binary.LittleEndian.Uint16(payload), time.Now()), nil
}
