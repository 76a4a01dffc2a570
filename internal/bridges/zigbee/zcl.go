package zigbee

import (
	"encoding/binary"
	"fmt"
)

// ZCL frame control bits.
const (
	zclFrameTypeCluster        byte = 0x01
	zclManufacturerSpecific    byte = 0x04
	zclDirectionServerToClient byte = 0x08
	zclDisableDefaultResponse  byte = 0x10
)

// ZCL global (profile-wide) command identifiers.
const (
	ZCLReadAttributes          byte = 0x00
	ZCLReadAttributesResponse  byte = 0x01
	ZCLWriteAttributes         byte = 0x02
	ZCLWriteAttributesResponse byte = 0x04
	ZCLReportAttributes        byte = 0x0A
	ZCLDefaultResponse         byte = 0x0B
)

// ZCL status codes used by the bridge.
const (
	ZCLStatusSuccess              byte = 0x00
	ZCLStatusFailure              byte = 0x01
	ZCLStatusUnsupClusterCommand  byte = 0x81
	ZCLStatusUnsupportedAttribute byte = 0x86
)

// ZCL attribute data types.
const (
	ZCLTypeBool       byte = 0x10
	ZCLTypeBitmap8    byte = 0x18
	ZCLTypeBitmap16   byte = 0x19
	ZCLTypeUint8      byte = 0x20
	ZCLTypeUint16     byte = 0x21
	ZCLTypeUint24     byte = 0x22
	ZCLTypeUint32     byte = 0x23
	ZCLTypeUint48     byte = 0x25
	ZCLTypeInt8       byte = 0x28
	ZCLTypeInt16      byte = 0x29
	ZCLTypeInt24      byte = 0x2A
	ZCLTypeInt32      byte = 0x2B
	ZCLTypeEnum8      byte = 0x30
	ZCLTypeEnum16     byte = 0x31
	ZCLTypeCharString byte = 0x42
	ZCLTypeIEEE       byte = 0xF0
)

// zclHeaderMin is frame control + sequence + command.
const zclHeaderMin = 3

// ZCLHeader is the decoded header of a ZCL frame.
type ZCLHeader struct {
	// ClusterSpecific is true for commands defined by the cluster,
	// false for global commands such as Read Attributes.
	ClusterSpecific bool

	// ServerToClient is the direction bit; device-originated frames set it.
	ServerToClient bool

	// DisableDefaultResponse asks the receiver not to send a Default Response.
	DisableDefaultResponse bool

	// ManufacturerCode is set when the frame is manufacturer specific.
	ManufacturerCode *uint16

	// Sequence is the transaction sequence number used for correlation.
	Sequence uint8

	// Command is the command identifier.
	Command uint8
}

// EncodeZCLFrame builds a ZCL frame from a header and payload.
func EncodeZCLFrame(h ZCLHeader, payload []byte) []byte {
	var fc byte
	if h.ClusterSpecific {
		fc |= zclFrameTypeCluster
	}
	if h.ManufacturerCode != nil {
		fc |= zclManufacturerSpecific
	}
	if h.ServerToClient {
		fc |= zclDirectionServerToClient
	}
	if h.DisableDefaultResponse {
		fc |= zclDisableDefaultResponse
	}

	buf := make([]byte, 0, zclHeaderMin+2+len(payload))
	buf = append(buf, fc)
	if h.ManufacturerCode != nil {
		buf = binary.LittleEndian.AppendUint16(buf, *h.ManufacturerCode)
	}
	buf = append(buf, h.Sequence, h.Command)
	return append(buf, payload...)
}

// ParseZCLFrame splits a ZCL frame into its header and payload.
//
// Returns:
//   - ZCLHeader: Decoded header
//   - []byte: Command payload (may be empty)
//   - error: ErrInvalidZCLFrame if the frame is truncated
func ParseZCLFrame(b []byte) (ZCLHeader, []byte, error) {
	if len(b) < zclHeaderMin {
		return ZCLHeader{}, nil, fmt.Errorf("%w: %d bytes", ErrInvalidZCLFrame, len(b))
	}

	fc := b[0]
	h := ZCLHeader{
		ClusterSpecific:        fc&zclFrameTypeCluster != 0,
		ServerToClient:         fc&zclDirectionServerToClient != 0,
		DisableDefaultResponse: fc&zclDisableDefaultResponse != 0,
	}

	rest := b[1:]
	if fc&zclManufacturerSpecific != 0 {
		if len(rest) < 2+2 {
			return ZCLHeader{}, nil, fmt.Errorf("%w: truncated manufacturer header", ErrInvalidZCLFrame)
		}
		code := binary.LittleEndian.Uint16(rest)
		h.ManufacturerCode = &code
		rest = rest[2:]
	}

	h.Sequence = rest[0]
	h.Command = rest[1]
	return h, rest[2:], nil
}

// EncodeReadAttributes builds a global Read Attributes frame.
func EncodeReadAttributes(seq uint8, ids []uint16) []byte {
	payload := make([]byte, 0, 2*len(ids))
	for _, id := range ids {
		payload = binary.LittleEndian.AppendUint16(payload, id)
	}
	return EncodeZCLFrame(ZCLHeader{Sequence: seq, Command: ZCLReadAttributes}, payload)
}

// EncodeWriteAttribute builds a global Write Attributes frame for one
// attribute. value is the already encoded attribute value.
func EncodeWriteAttribute(seq uint8, id uint16, typ byte, value []byte) []byte {
	payload := make([]byte, 0, 3+len(value))
	payload = binary.LittleEndian.AppendUint16(payload, id)
	payload = append(payload, typ)
	payload = append(payload, value...)
	return EncodeZCLFrame(ZCLHeader{Sequence: seq, Command: ZCLWriteAttributes}, payload)
}

// EncodeClusterCommand builds a client-to-server cluster-specific command frame.
func EncodeClusterCommand(seq, command uint8, payload []byte) []byte {
	return EncodeZCLFrame(ZCLHeader{
		ClusterSpecific: true,
		Sequence:        seq,
		Command:         command,
	}, payload)
}

// AttributeRecord is one entry of a Read Attributes Response.
type AttributeRecord struct {
	ID     uint16
	Status byte
	Type   byte
	Value  any
}

// OK reports whether the attribute was read successfully.
func (r AttributeRecord) OK() bool {
	return r.Status == ZCLStatusSuccess
}

// ParseReadAttributesResponse decodes the payload of a Read Attributes Response.
//
// Records are variable length, so a record with an undecodable type stops
// the walk: the records decoded so far are returned together with the error.
func ParseReadAttributesResponse(payload []byte) ([]AttributeRecord, error) {
	var records []AttributeRecord

	for len(payload) > 0 {
		if len(payload) < 3 {
			return records, fmt.Errorf("%w: truncated attribute record", ErrInvalidZCLFrame)
		}

		rec := AttributeRecord{
			ID:     binary.LittleEndian.Uint16(payload),
			Status: payload[2],
		}
		payload = payload[3:]

		if rec.Status != ZCLStatusSuccess {
			records = append(records, rec)
			continue
		}

		if len(payload) < 1 {
			return records, fmt.Errorf("%w: missing data type for 0x%04x", ErrInvalidZCLFrame, rec.ID)
		}
		rec.Type = payload[0]

		value, n, err := decodeAttributeValue(rec.Type, payload[1:])
		if err != nil {
			return records, fmt.Errorf("attribute 0x%04x: %w", rec.ID, err)
		}
		rec.Value = value
		payload = payload[1+n:]
		records = append(records, rec)
	}

	return records, nil
}

// ParseDefaultResponse decodes the payload of a Default Response.
//
// Returns:
//   - command: The command being answered
//   - status: ZCL status code
//   - error: ErrInvalidZCLFrame if truncated
func ParseDefaultResponse(payload []byte) (command, status byte, err error) {
	if len(payload) < 2 {
		return 0, 0, fmt.Errorf("%w: default response %d bytes", ErrInvalidZCLFrame, len(payload))
	}
	return payload[0], payload[1], nil
}

// ParseWriteAttributesResponse decodes the payload of a Write Attributes
// Response and returns the first non-success status.
//
// A device that accepted every attribute answers with a single success
// byte; otherwise each failed attribute gets a status + id record.
func ParseWriteAttributesResponse(payload []byte) (byte, error) {
	if len(payload) < 1 {
		return 0, fmt.Errorf("%w: empty write attributes response", ErrInvalidZCLFrame)
	}
	if len(payload) == 1 {
		return payload[0], nil
	}
	for len(payload) >= 3 {
		if payload[0] != ZCLStatusSuccess {
			return payload[0], nil
		}
		payload = payload[3:]
	}
	if len(payload) != 0 {
		return 0, fmt.Errorf("%w: truncated write attributes record", ErrInvalidZCLFrame)
	}
	return ZCLStatusSuccess, nil
}

// decodeAttributeValue decodes one typed value and reports bytes consumed.
//
// Unsigned types and enums decode to uint64, signed types to int64,
// strings to string, IEEE addresses to IEEEAddress.
func decodeAttributeValue(typ byte, b []byte) (any, int, error) {
	need := func(n int) error {
		if len(b) < n {
			return fmt.Errorf("%w: type 0x%02x needs %d bytes, have %d", ErrInvalidZCLFrame, typ, n, len(b))
		}
		return nil
	}

	switch typ {
	case ZCLTypeBool:
		if err := need(1); err != nil {
			return nil, 0, err
		}
		return b[0] != 0, 1, nil

	case ZCLTypeBitmap8, ZCLTypeUint8, ZCLTypeEnum8:
		if err := need(1); err != nil {
			return nil, 0, err
		}
		return uint64(b[0]), 1, nil

	case ZCLTypeBitmap16, ZCLTypeUint16, ZCLTypeEnum16:
		if err := need(2); err != nil {
			return nil, 0, err
		}
		return uint64(binary.LittleEndian.Uint16(b)), 2, nil

	case ZCLTypeUint24:
		return decodeUnsigned(b, 3)
	case ZCLTypeUint32:
		return decodeUnsigned(b, 4)
	case ZCLTypeUint48:
		return decodeUnsigned(b, 6)

	case ZCLTypeInt8:
		return decodeSigned(b, 1)
	case ZCLTypeInt16:
		return decodeSigned(b, 2)
	case ZCLTypeInt24:
		return decodeSigned(b, 3)
	case ZCLTypeInt32:
		return decodeSigned(b, 4)

	case ZCLTypeCharString:
		if err := need(1); err != nil {
			return nil, 0, err
		}
		n := int(b[0])
		if n == 0xFF { // invalid/absent string
			return "", 1, nil
		}
		if err := need(1 + n); err != nil {
			return nil, 0, err
		}
		return string(b[1 : 1+n]), 1 + n, nil

	case ZCLTypeIEEE:
		if err := need(8); err != nil {
			return nil, 0, err
		}
		return IEEEAddress(binary.LittleEndian.Uint64(b)), 8, nil

	default:
		return nil, 0, fmt.Errorf("%w: 0x%02x", ErrUnsupportedType, typ)
	}
}

func decodeUnsigned(b []byte, size int) (any, int, error) {
	if len(b) < size {
		return nil, 0, fmt.Errorf("%w: need %d bytes, have %d", ErrInvalidZCLFrame, size, len(b))
	}
	var v uint64
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, size, nil
}

func decodeSigned(b []byte, size int) (any, int, error) {
	raw, n, err := decodeUnsigned(b, size)
	if err != nil {
		return nil, 0, err
	}
	u := raw.(uint64)
	shift := uint(64 - 8*size)
	return int64(u<<shift) >> shift, n, nil
}
