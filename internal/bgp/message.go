package bgp

import (
	"bytes"

	"github.com/route-beacon/rib-ingester/internal/wire"
)

// Marker is the all-ones 16-byte BGP header marker, RFC 4271 §4.1. RFC 9072
// relaxes this for extended OPEN but every other message type still
// requires it.
var Marker = bytes.Repeat([]byte{0xFF}, 16)

// Header is the fixed 19-byte BGP message header.
type Header struct {
	Type   uint8
	Length uint16
}

// ReadHeader validates the marker and length and returns the header plus
// the message's payload (the bytes after the 19-byte header, sized to
// Length-19). It accepts messages up to MaxExtendedMessageSize; callers
// that have not negotiated RFC 8654 extended messages should additionally
// check Length <= MaxMessageSize themselves.
func ReadHeader(data []byte) (Header, []byte, error) {
	if len(data) < BGPHeaderSize {
		return Header{}, nil, wire.NewErrorf(wire.TruncatedMessage, "bgp header needs %d bytes, have %d", BGPHeaderSize, len(data))
	}
	if !bytes.Equal(data[0:16], Marker) {
		return Header{}, nil, wire.NewError(wire.MarkerMismatch, "bgp marker")
	}
	c := wire.NewCursor(data[16:])
	length, _ := c.ReadU16()
	msgType, _ := c.ReadU8()

	if int(length) > len(data) {
		return Header{}, nil, wire.NewErrorf(wire.TruncatedMessage, "bgp length %d exceeds buffer %d", length, len(data))
	}
	if length < BGPHeaderSize {
		return Header{}, nil, wire.NewErrorf(wire.CorruptedBgpMessage, "bgp length %d below header size %d", length, BGPHeaderSize)
	}
	if length > MaxExtendedMessageSize {
		return Header{}, nil, wire.NewErrorf(wire.CorruptedBgpMessage, "bgp length %d exceeds extended ceiling", length)
	}
	hdr := Header{Type: msgType, Length: length}
	return hdr, data[BGPHeaderSize:length], nil
}

// EncodeHeader writes the 19-byte header for a message of the given type
// wrapping a payload of payloadLen bytes.
func EncodeHeader(msgType uint8, payloadLen int) []byte {
	out := make([]byte, BGPHeaderSize)
	copy(out[0:16], Marker)
	length := BGPHeaderSize + payloadLen
	out[16] = byte(length >> 8)
	out[17] = byte(length)
	out[18] = msgType
	return out
}

// Notification is a decoded NOTIFICATION message, RFC 4271 §4.5.
type Notification struct {
	ErrorCode    uint8
	ErrorSubcode uint8
	Data         []byte
}

// ParseNotification decodes a NOTIFICATION payload (after the header).
func ParseNotification(payload []byte) (*Notification, error) {
	c := wire.NewCursor(payload)
	code, err := c.ReadU8()
	if err != nil {
		return nil, err
	}
	sub, err := c.ReadU8()
	if err != nil {
		return nil, err
	}
	data, _ := c.ReadN(c.Remaining())
	return &Notification{ErrorCode: code, ErrorSubcode: sub, Data: data}, nil
}

// HasDuplicateAttribute reports the first attribute type code that repeats
// in a path-attribute section, tracking all 256 possible type codes:
// RFC 4271 §5 forbids repeating the same attribute type in one UPDATE, and
// a strict decoder surfaces that as DuplicateAttribute instead of silently
// letting the second occurrence win.
func HasDuplicateAttribute(data []byte) (typeCode uint8, dup bool) {
	var seen [256]bool
	c := wire.NewCursor(data)
	for c.Remaining() > 0 {
		flags, err := c.ReadU8()
		if err != nil {
			return 0, false
		}
		tc, err := c.ReadU8()
		if err != nil {
			return 0, false
		}
		var attrLen int
		if flags&AttrFlagExtLength != 0 {
			v, err := c.ReadU16()
			if err != nil {
				return 0, false
			}
			attrLen = int(v)
		} else {
			v, err := c.ReadU8()
			if err != nil {
				return 0, false
			}
			attrLen = int(v)
		}
		if err := c.Skip(attrLen); err != nil {
			return 0, false
		}
		if seen[tc] {
			return tc, true
		}
		seen[tc] = true
	}
	return 0, false
}
