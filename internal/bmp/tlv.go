package bmp

import (
	"encoding/binary"

	"github.com/route-beacon/rib-ingester/internal/wire"
)

// parseTLVs decodes a run of type(2)+length(2)+value TLVs, the shape used
// by Initiation, Termination, Peer Up and Route Mirroring information
// elements (RFC 7854 ยง4.4). A TLV whose declared length overruns the
// buffer truncates the run rather than erroring, since Initiation/
// Termination TLVs are advisory (logging/diagnostics), not structural.
func parseTLVs(data []byte) []TLV {
	var tlvs []TLV
	off := 0
	for off+4 <= len(data) {
		typ := binary.BigEndian.Uint16(data[off : off+2])
		length := int(binary.BigEndian.Uint16(data[off+2 : off+4]))
		off += 4
		if off+length > len(data) {
			break
		}
		tlvs = append(tlvs, TLV{Type: typ, Value: data[off : off+length]})
		off += length
	}
	return tlvs
}

func encodeTLVs(tlvs []TLV) []byte {
	var out []byte
	for _, t := range tlvs {
		head := make([]byte, 4)
		binary.BigEndian.PutUint16(head[0:2], t.Type)
		binary.BigEndian.PutUint16(head[2:4], uint16(len(t.Value)))
		out = append(out, head...)
		out = append(out, t.Value...)
	}
	return out
}

// TLVString returns the first TLV of the given type as a string, or "" if
// absent. Used for SysName/SysDescr/VRF-Table-Name lookups.
func TLVString(tlvs []TLV, typ uint16) string {
	for _, t := range tlvs {
		if t.Type == typ {
			return string(t.Value)
		}
	}
	return ""
}

// parseStats decodes the Statistics Report TLV stream (RFC 7854 ยง4.8):
// type(2) + length(2) + value, where length is 4 or 8 depending on the
// counter (types 7, 8, 9, 10 are 8-byte "gauge" style per-AFI/SAFI
// counters; the rest are 4-byte monotonic counters).
func parseStats(data []byte) []Stat {
	var stats []Stat
	off := 0
	for off+4 <= len(data) {
		typ := binary.BigEndian.Uint16(data[off : off+2])
		length := int(binary.BigEndian.Uint16(data[off+2 : off+4]))
		off += 4
		if off+length > len(data) {
			break
		}
		stats = append(stats, Stat{Type: typ, Value: data[off : off+length]})
		off += length
	}
	return stats
}

func encodeStats(stats []Stat) []byte {
	var out []byte
	for _, s := range stats {
		head := make([]byte, 4)
		binary.BigEndian.PutUint16(head[0:2], s.Type)
		binary.BigEndian.PutUint16(head[2:4], uint16(len(s.Value)))
		out = append(out, head...)
		out = append(out, s.Value...)
	}
	return out
}

func bgpMessageLength(data []byte) (int, error) {
	if len(data) < 19 {
		return 0, wire.NewErrorf(wire.TruncatedMessage, "bgp message too short for header (%d bytes)", len(data))
	}
	length := int(binary.BigEndian.Uint16(data[16:18]))
	if length < 19 {
		return 0, wire.NewErrorf(wire.CorruptedBgpMessage, "invalid bgp message length %d", length)
	}
	return length, nil
}
