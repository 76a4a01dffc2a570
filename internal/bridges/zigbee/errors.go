package zigbee

import "errors"

// Domain errors for the Zigbee bridge package.
//
// The first five mirror the failure taxonomy of discovery and binding:
// only ErrTransport is fatal (at startup), everything else degrades to
// "this node/endpoint/cluster stays unbound".
var (
	// ErrTransport is returned when the coordinator cannot be reached or the
	// firmware handshake fails.
	ErrTransport = errors.New("zigbee: coordinator transport failure")

	// ErrDiscoveryTimeout is returned when a node does not answer an
	// endpoint enumeration within the retry window.
	ErrDiscoveryTimeout = errors.New("zigbee: endpoint discovery timed out")

	// ErrAttributeRead is returned when a ZCL attribute read fails.
	ErrAttributeRead = errors.New("zigbee: attribute read failed")

	// ErrUnrecognizedCluster is returned when no registry entry matches a cluster.
	ErrUnrecognizedCluster = errors.New("zigbee: unrecognized cluster")

	// ErrCommandInvocation is returned when a ZCL cluster command fails.
	ErrCommandInvocation = errors.New("zigbee: command invocation failed")

	// ErrAttributeWrite is returned when a ZCL attribute write fails.
	ErrAttributeWrite = errors.New("zigbee: attribute write failed")

	// ErrNotConnected is returned when an operation requires a coordinator
	// connection but the client is closed or disconnected.
	ErrNotConnected = errors.New("zigbee: not connected to coordinator")

	// ErrDevicePathNotFound is returned when no serial device matches the
	// configured patterns.
	ErrDevicePathNotFound = errors.New("zigbee: no coordinator device found")

	// ErrDevicePathAmbiguous is returned when more than one serial device
	// matches the configured patterns.
	ErrDevicePathAmbiguous = errors.New("zigbee: more than one coordinator device found")

	// ErrRequestFailed is returned when the coordinator answers a request
	// with a non-success status.
	ErrRequestFailed = errors.New("zigbee: coordinator request failed")

	// ErrTimeout is returned when a synchronous response does not arrive in time.
	ErrTimeout = errors.New("zigbee: operation timed out")

	// ErrInvalidZCLFrame is returned when a ZCL payload is malformed.
	ErrInvalidZCLFrame = errors.New("zigbee: invalid ZCL frame")

	// ErrUnsupportedType is returned for ZCL data types the codec does not decode.
	ErrUnsupportedType = errors.New("zigbee: unsupported ZCL data type")

	// ErrUnknownAttribute is returned when an attribute name is not defined
	// for a cluster.
	ErrUnknownAttribute = errors.New("zigbee: unknown attribute")

	// ErrUnknownCommand is returned when a command name is not defined for a cluster.
	ErrUnknownCommand = errors.New("zigbee: unknown command")

	// ErrInvalidCommandValue is returned when a consumed value cannot be
	// normalised to on/off.
	ErrInvalidCommandValue = errors.New("zigbee: invalid command value")

	// ErrInvalidPairingTime is returned for a pairing duration outside 1..254 seconds.
	ErrInvalidPairingTime = errors.New("zigbee: invalid pairing time")

	// ErrInvalidAddress is returned when an IEEE address string cannot be parsed.
	ErrInvalidAddress = errors.New("zigbee: invalid address")

	// ErrDeviceNotFound is returned when a binding key does not name a bound device.
	ErrDeviceNotFound = errors.New("zigbee: device not found")

	// ErrNotWritable is returned when a command targets a read-only device.
	ErrNotWritable = errors.New("zigbee: device is not writable")
)
