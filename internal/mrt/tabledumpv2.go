package mrt

import (
	"math"
	"net"

	"github.com/route-beacon/rib-ingester/internal/bgp"
	"github.com/route-beacon/rib-ingester/internal/wire"
)

// PeerType bits, RFC 6396 §4.3.1.
const (
	PeerTypeAS4Bit  uint8 = 0x02
	PeerTypeIPv6Bit uint8 = 0x01
)

// PeerEntry is one row of a PEER_INDEX_TABLE.
type PeerEntry struct {
	BGPID net.IP
	IP    net.IP
	ASN   bgp.ASN
}

// PeerIndexTable is the decoded PEER_INDEX_TABLE record (RFC 6396 §4.3.1),
// the dictionary every subsequent RIB entry in the dump indexes into by
// position.
type PeerIndexTable struct {
	CollectorBGPID net.IP
	ViewName       string
	Peers          []PeerEntry
}

// ParsePeerIndexTable decodes a PEER_INDEX_TABLE payload.
func ParsePeerIndexTable(payload []byte) (*PeerIndexTable, error) {
	c := wire.NewCursor(payload)
	bgpID, err := c.ReadN(4)
	if err != nil {
		return nil, err
	}
	viewLen, err := c.ReadU16()
	if err != nil {
		return nil, err
	}
	viewBytes, err := c.ReadN(int(viewLen))
	if err != nil {
		return nil, err
	}
	peerCount, err := c.ReadU16()
	if err != nil {
		return nil, err
	}

	t := &PeerIndexTable{CollectorBGPID: net.IP(append([]byte(nil), bgpID...)), ViewName: string(viewBytes)}
	for i := 0; i < int(peerCount); i++ {
		ptype, err := c.ReadU8()
		if err != nil {
			return nil, err
		}
		peerBGPID, err := c.ReadN(4)
		if err != nil {
			return nil, err
		}
		v6 := ptype&PeerTypeIPv6Bit != 0
		peerIP, err := c.ReadIP(v6)
		if err != nil {
			return nil, err
		}
		var asn bgp.ASN
		if ptype&PeerTypeAS4Bit != 0 {
			v, err := c.ReadU32()
			if err != nil {
				return nil, err
			}
			asn = bgp.ASN{Value: v, Is4: true}
		} else {
			v, err := c.ReadU16()
			if err != nil {
				return nil, err
			}
			asn = bgp.ASN{Value: uint32(v), Is4: false}
		}
		t.Peers = append(t.Peers, PeerEntry{
			BGPID: net.IP(append([]byte(nil), peerBGPID...)),
			IP:    peerIP,
			ASN:   asn,
		})
	}
	if c.Remaining() > 0 {
		// GEO_PEER_TABLE's optional extension (some collectors append
		// geo info straight after the peer table rather than as a
		// separate record); this decoder does not require it to be absent
		// but does not currently read it here — geo entries are surfaced
		// via ParseGeoPeerTable against the dedicated MRT subtype.
		_ = c
	}
	return t, nil
}

// Peer resolves a RIB entry's peer ordinal against the table, returning
// InvalidPeerIndex (never panicking) for an out-of-range index per
// spec.md's peer-index invariant.
func (t *PeerIndexTable) Peer(idx uint16) (PeerEntry, error) {
	if int(idx) >= len(t.Peers) {
		return PeerEntry{}, wire.NewErrorf(wire.InvalidPeerIndex, "peer index %d out of range (table has %d peers)", idx, len(t.Peers))
	}
	return t.Peers[idx], nil
}

// RIBEntry is one peer's announcement of a single prefix in a
// TABLE_DUMP_V2 RIB_* record, RFC 6396 §4.3.2/4.3.4.
type RIBEntry struct {
	PeerIndex     uint16
	OriginatedAt  uint32
	PathID        *uint32 // ADD-PATH variants only
	Attrs         *bgp.PathAttributes
}

// RIBRecord is a decoded RIB_IPV4_UNICAST/RIB_IPV6_UNICAST/RIB_GENERIC
// record: one prefix and every peer's entry for it.
type RIBRecord struct {
	SequenceNumber uint32
	Prefix         bgp.NetworkPrefix
	AFI            uint16
	SAFI           uint8
	Entries        []RIBEntry
}

// ParseRIBRecord decodes a TABLE_DUMP_V2 RIB_* payload. subtype selects
// the NLRI encoding (IPv4/IPv6 unicast fix the AFI/SAFI; RIB_GENERIC
// carries them explicitly) and whether entries carry an ADD-PATH path
// identifier.
func ParseRIBRecord(subtype uint16, payload []byte) (*RIBRecord, error) {
	c := wire.NewCursor(payload)
	seq, err := c.ReadU32()
	if err != nil {
		return nil, err
	}

	rec := &RIBRecord{SequenceNumber: seq}
	hasAddPath := subtype == SubtypeRIBIPv4UnicastAddPath || subtype == SubtypeRIBIPv4MulticastAddPath ||
		subtype == SubtypeRIBIPv6UnicastAddPath || subtype == SubtypeRIBIPv6MulticastAddPath ||
		subtype == SubtypeRIBGenericAddPath

	switch subtype {
	case SubtypeRIBIPv4Unicast, SubtypeRIBIPv4UnicastAddPath:
		rec.AFI, rec.SAFI = bgp.AFIIPv4, bgp.SAFIUnicast
	case SubtypeRIBIPv4Multicast, SubtypeRIBIPv4MulticastAddPath:
		rec.AFI, rec.SAFI = bgp.AFIIPv4, bgp.SAFIMulticast
	case SubtypeRIBIPv6Unicast, SubtypeRIBIPv6UnicastAddPath:
		rec.AFI, rec.SAFI = bgp.AFIIPv6, bgp.SAFIUnicast
	case SubtypeRIBIPv6Multicast, SubtypeRIBIPv6MulticastAddPath:
		rec.AFI, rec.SAFI = bgp.AFIIPv6, bgp.SAFIMulticast
	case SubtypeRIBGeneric, SubtypeRIBGenericAddPath:
		afi, err := c.ReadU16()
		if err != nil {
			return nil, err
		}
		safi, err := c.ReadU8()
		if err != nil {
			return nil, err
		}
		rec.AFI, rec.SAFI = afi, safi
	default:
		return nil, wire.NewErrorf(wire.UnknownMrtType, "unrecognized TABLE_DUMP_V2 subtype %d", subtype)
	}

	maxBits := 32
	if rec.AFI == bgp.AFIIPv6 {
		maxBits = 128
	}
	length, canonical, err := c.ReadPrefix(maxBits)
	if err != nil {
		return nil, err
	}
	rec.Prefix = bgp.NetworkPrefix{Bytes: canonical, Length: length, V6: rec.AFI == bgp.AFIIPv6}

	entryCount, err := c.ReadU16()
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(entryCount); i++ {
		var pathID *uint32
		if hasAddPath {
			v, err := c.ReadU32()
			if err != nil {
				return nil, err
			}
			pathID = &v
		}
		peerIdx, err := c.ReadU16()
		if err != nil {
			return nil, err
		}
		originated, err := c.ReadU32()
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
		// TABLE_DUMP_V2 attributes are always encoded with 4-byte ASNs
		// and carry no ADD-PATH-tagged NLRI of their own (the path id
		// lives in the RIB entry header, not inside MP_REACH), so the
		// hasAddPath argument to ParsePathAttributes is always false here.
		attrs, err := bgp.ParsePathAttributes(attrData, false, true) // TABLE_DUMP_V2 is always 4-byte ASN (RFC 8050)
		if err != nil {
			return nil, err
		}
		rec.Entries = append(rec.Entries, RIBEntry{
			PeerIndex:    peerIdx,
			OriginatedAt: originated,
			PathID:       pathID,
			Attrs:        attrs,
		})
	}
	return rec, nil
}

// GeoPeerEntry is one peer's coordinates in a GEO_PEER_TABLE record.
// Latitude/Longitude are math.NaN() when the collector withholds location
// for privacy — RFC 6397's documented convention, stored unnormalized per
// SPEC_FULL.md §9's Open Question resolution.
type GeoPeerEntry struct {
	PeerIndex uint16
	Latitude  float64
	Longitude float64
}

// GeoPeerTable is the decoded GEO_PEER_TABLE record.
type GeoPeerTable struct {
	CollectorBGPID net.IP
	Peers          []GeoPeerEntry
}

// ParseGeoPeerTable decodes a GEO_PEER_TABLE payload: 4-byte collector
// BGP ID, 2-byte peer count, then per-peer {2-byte peer index, 4-byte
// IEEE-754 latitude, 4-byte IEEE-754 longitude}.
func ParseGeoPeerTable(payload []byte) (*GeoPeerTable, error) {
	c := wire.NewCursor(payload)
	bgpID, err := c.ReadN(4)
	if err != nil {
		return nil, err
	}
	count, err := c.ReadU16()
	if err != nil {
		return nil, err
	}
	t := &GeoPeerTable{CollectorBGPID: net.IP(append([]byte(nil), bgpID...))}
	for i := 0; i < int(count); i++ {
		idx, err := c.ReadU16()
		if err != nil {
			return nil, err
		}
		latBits, err := c.ReadU32()
		if err != nil {
			return nil, err
		}
		lonBits, err := c.ReadU32()
		if err != nil {
			return nil, err
		}
		t.Peers = append(t.Peers, GeoPeerEntry{
			PeerIndex: idx,
			Latitude:  float64(math.Float32frombits(latBits)),
			Longitude: float64(math.Float32frombits(lonBits)),
		})
	}
	return t, nil
}
