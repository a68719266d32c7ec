package bmp

import (
	"encoding/hex"
	"net"

	"github.com/route-beacon/rib-ingester/internal/wire"
)

// OpenBMP envelope constants. Two wire formats exist in the wild: the
// full OBMP v1.7 binary header (goBMP) carrying router identity, and a
// stripped-down legacy v2 10-byte header used by older collectors.
const (
	LegacyHeaderSize      = 10 // version(2) + collector_hash(4) + msg_len(4)
	legacyVersionExpected = 2

	obmpV17Magic      uint32 = 0x4F424D50 // "OBMP"
	obmpV17MinHdrSize        = 12         // magic(4) + ver(2) + hdr_len(2) + msg_len(4)
)

// Frame is the decoded OpenBMP envelope: the raw BMP message payload plus
// whatever router identity the v1.7 header carries (empty for legacy v2,
// which has none). This merges the teacher's two divergent decoders
// (internal/bmp/openbmp.go's plain-payload version and
// internal/history/openbmp.go's router-IP/router-hash-extracting version)
// into the one, more complete, canonical decoder.
type Frame struct {
	BMPBytes   []byte
	RouterIP   net.IP
	RouterHash string // hex-encoded, v1.7 only
}

// DecodeOpenBMPFrame decodes one OpenBMP-framed Kafka record. maxPayloadBytes
// bounds the declared message length (0 disables the bound) to guard
// against a corrupted length field driving an unbounded slice.
func DecodeOpenBMPFrame(data []byte, maxPayloadBytes int) (Frame, error) {
	if len(data) < 4 {
		return Frame{}, wire.NewErrorf(wire.TruncatedMessage, "openbmp frame needs 4 bytes, have %d", len(data))
	}
	c := wire.NewCursor(data)
	magic, _ := c.ReadU32()
	if magic == obmpV17Magic {
		return decodeV17(data, maxPayloadBytes)
	}
	return decodeLegacyV2(data, maxPayloadBytes)
}

func decodeLegacyV2(data []byte, maxPayloadBytes int) (Frame, error) {
	if len(data) < LegacyHeaderSize {
		return Frame{}, wire.NewErrorf(wire.TruncatedMessage, "openbmp v2 frame needs %d bytes, have %d", LegacyHeaderSize, len(data))
	}
	c := wire.NewCursor(data)
	version, _ := c.ReadU16()
	if version != legacyVersionExpected {
		return Frame{}, wire.NewErrorf(wire.CorruptedBgpMessage, "openbmp: unrecognized version %d (no OBMP magic)", version)
	}
	c.Skip(4) // collector_hash, unused
	msgLen, _ := c.ReadU32()
	if err := checkMsgLen(msgLen, maxPayloadBytes); err != nil {
		return Frame{}, err
	}
	total := LegacyHeaderSize + int(msgLen)
	if len(data) < total {
		return Frame{}, wire.NewErrorf(wire.TruncatedMessage, "openbmp v2 frame truncated (have %d, need %d)", len(data), total)
	}
	return Frame{BMPBytes: data[LegacyHeaderSize:total]}, nil
}

// decodeV17 parses the full OBMP v1.7 header produced by goBMP:
//
//	 0-3:  Magic "OBMP"
//	 4:    Version Major       5: Version Minor
//	 6-7:  Header Length (uint16, total header size)
//	 8-11: BMP Message Length (uint32)
//	12:    Flags               13: Message Type
//	14-17: Timestamp seconds   18-21: Timestamp microseconds
//	22-37: Collector Hash (16 bytes)
//	38-39: Collector Admin ID Length (uint16)
//	40..40+N: Collector Admin ID
//	40+N..55+N: Router Hash (16 bytes)
//	56+N..71+N: Router IP (16 bytes)
//	72+N..: Router Group, Row Count (not needed here)
func decodeV17(data []byte, maxPayloadBytes int) (Frame, error) {
	if len(data) < obmpV17MinHdrSize {
		return Frame{}, wire.NewErrorf(wire.TruncatedMessage, "openbmp v1.7 frame needs %d bytes, have %d", obmpV17MinHdrSize, len(data))
	}
	c := wire.NewCursor(data)
	c.Skip(6) // magic(4) + version major/minor(2)
	headerLen, _ := c.ReadU16()
	msgLen, _ := c.ReadU32()

	if int(headerLen) < obmpV17MinHdrSize {
		return Frame{}, wire.NewErrorf(wire.CorruptedBgpMessage, "openbmp v1.7: header_length %d too small", headerLen)
	}
	if int(headerLen) > len(data) {
		return Frame{}, wire.NewErrorf(wire.TruncatedMessage, "openbmp v1.7: header_length %d exceeds frame (%d bytes)", headerLen, len(data))
	}
	if err := checkMsgLen(msgLen, maxPayloadBytes); err != nil {
		return Frame{}, err
	}
	total := int(headerLen) + int(msgLen)
	if len(data) < total {
		return Frame{}, wire.NewErrorf(wire.TruncatedMessage, "openbmp v1.7 frame truncated (have %d, need %d)", len(data), total)
	}

	frame := Frame{BMPBytes: data[headerLen:total]}

	if headerLen >= 40 && len(data) >= 40 {
		collectorIDLen := int(data[38])<<8 | int(data[39])
		routerHashOff := 40 + collectorIDLen
		routerIPOff := routerHashOff + 16
		if routerIPOff+16 <= int(headerLen) {
			frame.RouterHash = hex.EncodeToString(data[routerHashOff : routerHashOff+16])
			frame.RouterIP = parseOBMPRouterIP(data[routerIPOff : routerIPOff+16])
		}
	}
	return frame, nil
}

func checkMsgLen(msgLen uint32, maxPayloadBytes int) error {
	if msgLen == 0 {
		return wire.NewError(wire.CorruptedBgpMessage, "openbmp: msg_len is 0")
	}
	if maxPayloadBytes > 0 && int(msgLen) > maxPayloadBytes {
		return wire.NewErrorf(wire.CorruptedBgpMessage, "openbmp: msg_len %d exceeds max_payload_bytes %d", msgLen, maxPayloadBytes)
	}
	return nil
}

// parseOBMPRouterIP extracts a net.IP from 16 bytes of OBMP router IP,
// handling the encodings goBMP and BMP-style producers both use:
// IPv4-mapped IPv6, IPv4 in the first 4 bytes with trailing zeros (goBMP),
// IPv4 in the last 4 bytes with leading zeros, and full IPv6.
func parseOBMPRouterIP(b []byte) net.IP {
	if len(b) != 16 {
		return nil
	}
	ip := net.IP(b)
	if v4 := ip.To4(); v4 != nil {
		return v4
	}

	trailingZero := true
	for i := 4; i < 16; i++ {
		if b[i] != 0 {
			trailingZero = false
			break
		}
	}
	if trailingZero && (b[0] != 0 || b[1] != 0 || b[2] != 0 || b[3] != 0) {
		return net.IP(append([]byte(nil), b[:4]...))
	}

	leadingZero := true
	for i := 0; i < 12; i++ {
		if b[i] != 0 {
			leadingZero = false
			break
		}
	}
	if leadingZero && (b[12] != 0 || b[13] != 0 || b[14] != 0 || b[15] != 0) {
		return net.IP(append([]byte(nil), b[12:16]...))
	}

	if ip.IsUnspecified() {
		return nil
	}
	cp := make(net.IP, 16)
	copy(cp, ip)
	return cp
}
