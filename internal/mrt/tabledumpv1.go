package mrt

import (
	"net"

	"github.com/route-beacon/rib-ingester/internal/bgp"
	"github.com/route-beacon/rib-ingester/internal/wire"
)

// TableDumpV1Status values, RFC 6396 §4.2 (always 1 in practice).
const TableDumpV1StatusValid uint8 = 1

// TableDumpV1Record is one decoded legacy TABLE_DUMP (RFC 6396 §4.2) row:
// unlike TABLE_DUMP_V2 there is no shared peer index — every record
// repeats its own peer IP/AS and carries 2-byte ASNs throughout, predating
// RFC 6793's 4-byte AS number extension.
type TableDumpV1Record struct {
	ViewNumber     uint16
	SequenceNumber uint16
	Prefix         bgp.NetworkPrefix
	Status         uint8
	OriginatedAt   uint32
	PeerIP         net.IP
	PeerAS         bgp.ASN
	Attrs          *bgp.PathAttributes
}

// ParseTableDumpV1 decodes a TABLE_DUMP payload. subtype selects the AFI
// (SubtypeTableDumpAFIIPv4/AFIIPv6); SAFI is implicitly unicast.
func ParseTableDumpV1(subtype uint16, payload []byte) (*TableDumpV1Record, error) {
	c := wire.NewCursor(payload)
	viewNum, err := c.ReadU16()
	if err != nil {
		return nil, err
	}
	seq, err := c.ReadU16()
	if err != nil {
		return nil, err
	}

	v6 := subtype == SubtypeTableDumpAFIIPv6
	ip, err := c.ReadIP(v6)
	if err != nil {
		return nil, err
	}
	prefixLen, err := c.ReadU8()
	if err != nil {
		return nil, err
	}
	status, err := c.ReadU8()
	if err != nil {
		return nil, err
	}
	originated, err := c.ReadU32()
	if err != nil {
		return nil, err
	}
	peerIP, err := c.ReadIP(v6)
	if err != nil {
		return nil, err
	}
	peerAS16, err := c.ReadU16()
	if err != nil {
		return nil, err
	}
	attrLen, err := c.ReadU16()
	if err != nil {
		return nil, err
	}
	attrData, err := c.ReadN(int(attrLen))
	if err != nil {
		return nil, err
	}

	width := 4
	if v6 {
		width = 16
	}
	canonical := make([]byte, width)
	copy(canonical, ip)
	maskHostBitsV1(canonical, int(prefixLen))

	attrs, err := parseTableDumpV1Attrs(attrData)
	if err != nil {
		return nil, err
	}

	return &TableDumpV1Record{
		ViewNumber:     viewNum,
		SequenceNumber: seq,
		Prefix:         bgp.NetworkPrefix{Bytes: canonical, Length: int(prefixLen), V6: v6},
		Status:         status,
		OriginatedAt:   originated,
		PeerIP:         peerIP,
		PeerAS:         bgp.ASN{Value: uint32(peerAS16), Is4: false},
		Attrs:          attrs,
	}, nil
}

func maskHostBitsV1(b []byte, prefixLen int) {
	fullBytes := prefixLen / 8
	rem := prefixLen % 8
	if rem != 0 && fullBytes < len(b) {
		mask := byte(0xFF << (8 - rem))
		b[fullBytes] &= mask
		fullBytes++
	}
	for i := fullBytes; i < len(b); i++ {
		b[i] = 0
	}
}

// parseTableDumpV1Attrs decodes the same flags/type/length/value attribute
// envelope as a BGP UPDATE's path attributes, but with AS_PATH segments
// carrying 2-byte ASNs (RFC 6396 §4.2 predates RFC 6793).
func parseTableDumpV1Attrs(data []byte) (*bgp.PathAttributes, error) {
	attrs := &bgp.PathAttributes{Unknown: map[uint8][]byte{}, OrigFlags: map[uint8]uint8{}}
	c := wire.NewCursor(data)
	for c.Remaining() > 0 {
		flags, err := c.ReadU8()
		if err != nil {
			return attrs, err
		}
		typeCode, err := c.ReadU8()
		if err != nil {
			return attrs, err
		}
		var attrLen int
		if flags&bgp.AttrFlagExtLength != 0 {
			v, err := c.ReadU16()
			if err != nil {
				return attrs, err
			}
			attrLen = int(v)
		} else {
			v, err := c.ReadU8()
			if err != nil {
				return attrs, err
			}
			attrLen = int(v)
		}
		attrData, err := c.ReadN(attrLen)
		if err != nil {
			return attrs, err
		}
		attrs.OrigFlags[typeCode] = flags

		switch typeCode {
		case bgp.AttrTypeOrigin:
			if len(attrData) >= 1 {
				v := attrData[0]
				attrs.Origin = &v
			}
		case bgp.AttrTypeASPath:
			attrs.ASPath = parseASPath2Byte(attrData)
		case bgp.AttrTypeNextHop:
			if len(attrData) == 4 {
				attrs.NextHop = net.IP(attrData).To4()
			}
		case bgp.AttrTypeMED:
			if len(attrData) == 4 {
				v := be32(attrData)
				attrs.MED = &v
			}
		case bgp.AttrTypeLocalPref:
			if len(attrData) == 4 {
				v := be32(attrData)
				attrs.LocalPref = &v
			}
		default:
			cp := make([]byte, len(attrData))
			copy(cp, attrData)
			attrs.Unknown[typeCode] = cp
		}
	}
	return attrs, nil
}

func parseASPath2Byte(data []byte) *bgp.AsPath {
	path := &bgp.AsPath{}
	c := wire.NewCursor(data)
	for c.Remaining() >= 2 {
		segType, _ := c.ReadU8()
		segLen, _ := c.ReadU8()
		asns := make([]bgp.ASN, 0, segLen)
		for i := 0; i < int(segLen); i++ {
			v, err := c.ReadU16()
			if err != nil {
				return path
			}
			asns = append(asns, bgp.ASN{Value: uint32(v), Is4: false})
		}
		path.Segments = append(path.Segments, bgp.Segment{Type: segType, ASNs: asns})
	}
	return path
}

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
