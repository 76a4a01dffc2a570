package zigbee

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// IEEEAddress is the 64-bit extended address burned into every Zigbee radio.
//
// It is the stable identity of a node: the short network address may change
// when the node rejoins, the IEEE address never does.
type IEEEAddress uint64

// NetworkAddress is the 16-bit short address assigned by the coordinator on join.
type NetworkAddress uint16

// Well-known network addresses.
const (
	// CoordinatorAddress is the short address of the network coordinator.
	CoordinatorAddress NetworkAddress = 0x0000

	// BroadcastRouters addresses all routers and the coordinator.
	BroadcastRouters NetworkAddress = 0xFFFC
)

// ieeeHexDigits is the length of the canonical IEEE address rendering.
const ieeeHexDigits = 16

// String returns the canonical rendering: 16 lowercase hex digits, no prefix.
//
// Example: 0x00124B0001ABCDEF → "00124b0001abcdef"
func (a IEEEAddress) String() string {
	return fmt.Sprintf("%016x", uint64(a))
}

// Bytes returns the address in over-the-air (little-endian) byte order.
func (a IEEEAddress) Bytes() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(a))
	return b
}

// ParseIEEEAddress parses an IEEE address string.
//
// Accepts formats:
//   - "00124b0001abcdef" — canonical form
//   - "0x00124B0001ABCDEF" — hex with prefix, any case
//   - "00:12:4b:00:01:ab:cd:ef" — colon separated
//
// Parameters:
//   - s: Address string
//
// Returns:
//   - IEEEAddress: Parsed address
//   - error: ErrInvalidAddress if parsing fails
func ParseIEEEAddress(s string) (IEEEAddress, error) {
	clean := strings.ToLower(strings.TrimSpace(s))
	clean = strings.TrimPrefix(clean, "0x")
	clean = strings.ReplaceAll(clean, ":", "")

	if clean == "" || len(clean) > ieeeHexDigits {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}

	v, err := strconv.ParseUint(clean, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return IEEEAddress(v), nil
}

// String returns the short address as "0xNNNN".
func (a NetworkAddress) String() string {
	return fmt.Sprintf("0x%04x", uint16(a))
}

// ParseNetworkAddress parses a short address such as "0x1a2b" or "1A2B".
func ParseNetworkAddress(s string) (NetworkAddress, error) {
	clean := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if clean == "" || len(clean) > 4 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	v, err := strconv.ParseUint(clean, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return NetworkAddress(v), nil
}
