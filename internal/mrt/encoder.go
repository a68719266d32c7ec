package mrt

import (
	"crypto/sha256"
	"encoding/binary"
	"net"

	"github.com/route-beacon/rib-ingester/internal/bgp"
)

// EncodePeerIndexTable serializes a PeerIndexTable, the inverse of
// ParsePeerIndexTable.
func EncodePeerIndexTable(t *PeerIndexTable) []byte {
	out := make([]byte, 0, 64)
	out = append(out, t.CollectorBGPID.To4()...)
	view := []byte(t.ViewName)
	vl := make([]byte, 2)
	binary.BigEndian.PutUint16(vl, uint16(len(view)))
	out = append(out, vl...)
	out = append(out, view...)
	pc := make([]byte, 2)
	binary.BigEndian.PutUint16(pc, uint16(len(t.Peers)))
	out = append(out, pc...)
	for _, p := range t.Peers {
		ptype := uint8(0)
		if p.ASN.Is4 {
			ptype |= PeerTypeAS4Bit
		}
		v6 := p.IP.To4() == nil
		if v6 {
			ptype |= PeerTypeIPv6Bit
		}
		out = append(out, ptype)
		out = append(out, p.BGPID.To4()...)
		if v6 {
			out = append(out, p.IP.To16()...)
		} else {
			out = append(out, p.IP.To4()...)
		}
		if p.ASN.Is4 {
			v := make([]byte, 4)
			binary.BigEndian.PutUint32(v, p.ASN.Value)
			out = append(out, v...)
		} else {
			v := make([]byte, 2)
			binary.BigEndian.PutUint16(v, uint16(p.ASN.Value))
			out = append(out, v...)
		}
	}
	return out
}

// AttrSetKey hashes an attribute set's encoded bytes so a writer can group
// entries that share an identical attribute set under one encoded blob,
// mirroring how real collectors (and the teacher's batch-oriented
// Pipeline.Run/FlushBatch pattern) amortize repeated encode work across
// many prefixes that share one best-path's attributes. Used by RIBWriter
// (grouping RIB entries) and internal/elem.UpdatesWriter (grouping
// BgpElem values into one UPDATE's NLRI).
func AttrSetKey(encoded []byte) [32]byte {
	return sha256.Sum256(encoded)
}

// RIBWriter accumulates RIB_* records for a single TABLE_DUMP_V2 dump,
// batching repeated attribute sets by hash so a prefix sharing its best
// path's attributes with many peers encodes that attribute blob once.
type RIBWriter struct {
	attrCache map[[32]byte][]byte
}

// NewRIBWriter returns an empty writer.
func NewRIBWriter() *RIBWriter {
	return &RIBWriter{attrCache: make(map[[32]byte][]byte)}
}

// EncodeRIBRecord serializes one RIB_* record (RFC 6396 §4.3.2/4.3.4).
// hasAddPath controls whether each entry is prefixed with a path
// identifier (the ADD-PATH subtypes).
func (w *RIBWriter) EncodeRIBRecord(rec *RIBRecord, hasAddPath bool) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, rec.SequenceNumber)

	if rec.SAFI != bgp.SAFIUnicast || (rec.AFI != bgp.AFIIPv4 && rec.AFI != bgp.AFIIPv6) {
		afisafi := make([]byte, 3)
		binary.BigEndian.PutUint16(afisafi[0:2], rec.AFI)
		afisafi[2] = rec.SAFI
		out = append(out, afisafi...)
	}

	byteLen := (rec.Prefix.Length + 7) / 8
	out = append(out, byte(rec.Prefix.Length))
	out = append(out, rec.Prefix.Bytes[:byteLen]...)

	ec := make([]byte, 2)
	binary.BigEndian.PutUint16(ec, uint16(len(rec.Entries)))
	out = append(out, ec...)

	for _, e := range rec.Entries {
		if hasAddPath && e.PathID != nil {
			v := make([]byte, 4)
			binary.BigEndian.PutUint32(v, *e.PathID)
			out = append(out, v...)
		}
		hdr := make([]byte, 8)
		binary.BigEndian.PutUint16(hdr[0:2], e.PeerIndex)
		binary.BigEndian.PutUint32(hdr[2:6], e.OriginatedAt)
		attrBytes := w.cachedEncode(e.Attrs)
		binary.BigEndian.PutUint16(hdr[6:8], uint16(len(attrBytes)))
		out = append(out, hdr...)
		out = append(out, attrBytes...)
	}
	return out
}

func (w *RIBWriter) cachedEncode(attrs *bgp.PathAttributes) []byte {
	if attrs == nil {
		return nil
	}
	encoded := attrs.EncodeAttributes()
	key := AttrSetKey(encoded)
	if cached, ok := w.attrCache[key]; ok {
		return cached
	}
	w.attrCache[key] = encoded
	return encoded
}

// EncodeBGP4MP wraps a BGP message (from bgp.EncodeUpdate or similar) in a
// BGP4MP_MESSAGE_AS4 record, the inverse of ParseBGP4MP for the common
// live-feed case (4-byte ASNs, no local/state-change variants).
func EncodeBGP4MP(timestamp uint32, peerAS, localAS bgp.ASN, iface uint16, peerIP, localIP net.IP, bgpMessage []byte) []byte {
	v6 := peerIP.To4() == nil
	afi := bgp.AFIIPv4
	if v6 {
		afi = bgp.AFIIPv6
	}

	body := make([]byte, 0, 16+len(bgpMessage))
	pas := make([]byte, 4)
	binary.BigEndian.PutUint32(pas, peerAS.Value)
	las := make([]byte, 4)
	binary.BigEndian.PutUint32(las, localAS.Value)
	body = append(body, pas...)
	body = append(body, las...)
	ifb := make([]byte, 2)
	binary.BigEndian.PutUint16(ifb, iface)
	body = append(body, ifb...)
	afib := make([]byte, 2)
	binary.BigEndian.PutUint16(afib, afi)
	body = append(body, afib...)
	if v6 {
		body = append(body, peerIP.To16()...)
		body = append(body, localIP.To16()...)
	} else {
		body = append(body, peerIP.To4()...)
		body = append(body, localIP.To4()...)
	}
	body = append(body, bgpMessage...)

	out := EncodeHeader(timestamp, 0, TypeBGP4MP, SubtypeBGP4MPMessageAS4, len(body))
	return append(out, body...)
}
