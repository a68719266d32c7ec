package history

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/route-beacon/rib-ingester/internal/bgp"
	"github.com/route-beacon/rib-ingester/internal/bmp"
	"github.com/route-beacon/rib-ingester/internal/config"
	"github.com/route-beacon/rib-ingester/internal/filter"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// --- Test helpers for building OpenBMP / BMP / BGP frames ---

// buildBGPUpdate constructs a BGP UPDATE message with the given components.
func buildBGPUpdate(withdrawn []byte, pathAttrs []byte, nlri []byte) []byte {
	bodyLen := 2 + len(withdrawn) + 2 + len(pathAttrs) + len(nlri)
	totalLen := 19 + bodyLen

	msg := make([]byte, totalLen)
	for i := 0; i < 16; i++ {
		msg[i] = 0xFF
	}
	binary.BigEndian.PutUint16(msg[16:18], uint16(totalLen))
	msg[18] = 2 // type = UPDATE

	offset := 19
	binary.BigEndian.PutUint16(msg[offset:offset+2], uint16(len(withdrawn)))
	offset += 2
	copy(msg[offset:], withdrawn)
	offset += len(withdrawn)

	binary.BigEndian.PutUint16(msg[offset:offset+2], uint16(len(pathAttrs)))
	offset += 2
	copy(msg[offset:], pathAttrs)
	offset += len(pathAttrs)

	copy(msg[offset:], nlri)
	return msg
}

// buildPathAttr constructs a single BGP path attribute.
func buildPathAttr(flags byte, typeCode byte, data []byte) []byte {
	if len(data) > 255 {
		attr := make([]byte, 4+len(data))
		attr[0] = flags | 0x10
		attr[1] = typeCode
		binary.BigEndian.PutUint16(attr[2:4], uint16(len(data)))
		copy(attr[4:], data)
		return attr
	}
	attr := make([]byte, 3+len(data))
	attr[0] = flags
	attr[1] = typeCode
	attr[2] = byte(len(data))
	copy(attr[3:], data)
	return attr
}

// buildPerPeerHeader constructs a 42-byte BMP per-peer header.
// peerType: 0=Global, 1=RD, 2=Local, 3=LocRIB
// peerAddr: 4-byte IPv4 address (12 zero bytes + 4 IPv4, per BMP spec).
func buildPerPeerHeader(peerType uint8, peerFlags uint8, peerAddr [4]byte, distinguisher uint64) []byte {
	hdr := make([]byte, bmp.PerPeerHeaderSize)
	hdr[0] = peerType
	hdr[1] = peerFlags
	binary.BigEndian.PutUint64(hdr[2:10], distinguisher)
	// Peer address: 16 bytes at offset 10 (12 zero bytes + 4 IPv4 bytes).
	copy(hdr[22:26], peerAddr[:])
	// AS, BGPID, timestamps at offset 26-41 (zero unless overwritten by callers).
	return hdr
}

// buildBMPRouteMonitoring builds a BMP Route Monitoring message wrapping a BGP UPDATE.
func buildBMPRouteMonitoring(peerType uint8, peerFlags uint8, peerAddr [4]byte, distinguisher uint64, bgpUpdate []byte) []byte {
	pph := buildPerPeerHeader(peerType, peerFlags, peerAddr, distinguisher)

	msgLen := bmp.CommonHeaderSize + len(pph) + len(bgpUpdate)
	msg := make([]byte, msgLen)

	// Common header: version(1) + msg_length(4) + msg_type(1)
	msg[0] = 3 // BMP version
	binary.BigEndian.PutUint32(msg[1:5], uint32(msgLen))
	msg[5] = bmp.MsgTypeRouteMonitoring

	offset := bmp.CommonHeaderSize
	copy(msg[offset:], pph)
	offset += len(pph)
	copy(msg[offset:], bgpUpdate)

	return msg
}

// wrapOpenBMP wraps a BMP message in a legacy OpenBMP v2 frame.
func wrapOpenBMP(bmpMsg []byte) []byte {
	frame := make([]byte, bmp.LegacyHeaderSize+len(bmpMsg))
	binary.BigEndian.PutUint16(frame[0:2], 2)                    // version = 2
	binary.BigEndian.PutUint32(frame[2:6], 0)                    // collector_hash
	binary.BigEndian.PutUint32(frame[6:10], uint32(len(bmpMsg))) // msg_len
	copy(frame[bmp.LegacyHeaderSize:], bmpMsg)
	return frame
}

// newTestHistoryPipeline creates a Pipeline with nil writer for testing processRecord.
func newTestHistoryPipeline() *Pipeline {
	return NewPipeline(nil, 1000, 200, 16*1024*1024, false, nil, zap.NewNop(), nil)
}

// wrapOpenBMPV17 wraps a BMP message in an OpenBMP v1.7 frame with a router IP.
func wrapOpenBMPV17(bmpMsg []byte, routerIP [4]byte) []byte {
	hdrLen := uint16(78)
	frame := make([]byte, int(hdrLen)+len(bmpMsg))
	binary.BigEndian.PutUint32(frame[0:4], 0x4F424D50) // "OBMP" magic
	frame[4] = 1                                       // major version
	frame[5] = 7                                       // minor version
	binary.BigEndian.PutUint16(frame[6:8], hdrLen)
	binary.BigEndian.PutUint32(frame[8:12], uint32(len(bmpMsg)))
	frame[12] = 0x80 // flags
	frame[13] = 12   // message type: BMP_RAW
	binary.BigEndian.PutUint16(frame[38:40], 0) // admin ID len = 0
	// Router IP at offset 56 (first 4 bytes for IPv4)
	copy(frame[56:60], routerIP[:])
	binary.BigEndian.PutUint16(frame[72:74], 0) // router group len
	binary.BigEndian.PutUint32(frame[74:78], 1) // row count
	copy(frame[hdrLen:], bmpMsg)
	return frame
}

// buildBMPPeerUp constructs a BMP Peer Up message for pipeline tests.
func buildBMPPeerUp(peerType uint8, localASN uint32, use4ByteASN bool) []byte {
	if peerType == bmp.PeerTypeLocRIB {
		totalLen := bmp.CommonHeaderSize + bmp.PerPeerHeaderSize
		msg := make([]byte, totalLen)
		msg[0] = 3 // BMP version
		binary.BigEndian.PutUint32(msg[1:5], uint32(totalLen))
		msg[5] = bmp.MsgTypePeerUp
		msg[bmp.CommonHeaderSize] = peerType
		return msg
	}

	sentOpen := buildBGPOPEN(localASN, use4ByteASN)
	receivedOpen := buildBGPOPEN(65002, false)

	bodyLen := bmp.PerPeerHeaderSize + 16 + 2 + 2 + len(sentOpen) + len(receivedOpen)
	totalLen := bmp.CommonHeaderSize + bodyLen
	msg := make([]byte, totalLen)

	msg[0] = 3 // BMP version
	binary.BigEndian.PutUint32(msg[1:5], uint32(totalLen))
	msg[5] = bmp.MsgTypePeerUp
	msg[bmp.CommonHeaderSize] = peerType

	offset := bmp.CommonHeaderSize + bmp.PerPeerHeaderSize + 16
	binary.BigEndian.PutUint16(msg[offset:offset+2], 179)
	binary.BigEndian.PutUint16(msg[offset+2:offset+4], 179)

	sentOpenOffset := offset + 4
	copy(msg[sentOpenOffset:], sentOpen)
	copy(msg[sentOpenOffset+len(sentOpen):], receivedOpen)
	return msg
}

// buildBGPOPEN constructs a BGP OPEN message (full 19-byte header included)
// with configurable ASN and BGP Identifier 10.0.0.1.
func buildBGPOPEN(asn uint32, use4ByteASN bool) []byte {
	var optParams []byte
	if use4ByteASN {
		optParams = make([]byte, 8)
		optParams[0] = 2  // parameter type = Capabilities
		optParams[1] = 6  // parameter length
		optParams[2] = 65 // capability code = 4-byte ASN
		optParams[3] = 4  // capability length
		binary.BigEndian.PutUint32(optParams[4:8], asn)
	}

	totalLen := 29 + len(optParams)
	msg := make([]byte, totalLen)
	for i := 0; i < 16; i++ {
		msg[i] = 0xFF
	}
	binary.BigEndian.PutUint16(msg[16:18], uint16(totalLen))
	msg[18] = 1 // type = OPEN
	msg[19] = 4 // version = 4
	if use4ByteASN {
		binary.BigEndian.PutUint16(msg[20:22], 23456)
	} else {
		binary.BigEndian.PutUint16(msg[20:22], uint16(asn))
	}
	binary.BigEndian.PutUint16(msg[22:24], 180) // hold time
	msg[24] = 10
	msg[25] = 0
	msg[26] = 0
	msg[27] = 1 // BGP ID = 10.0.0.1
	msg[28] = uint8(len(optParams))
	copy(msg[29:], optParams)
	return msg
}

// --- History processRecord tests ---

func TestHistoryProcessRecord_BasicRoute(t *testing.T) {
	p := newTestHistoryPipeline()

	// Build a valid BGP UPDATE with one IPv4 prefix: 10.0.0.0/24.
	nlri := []byte{24, 10, 0, 0} // 10.0.0.0/24
	originAttr := buildPathAttr(0x40, bgp.AttrTypeOrigin, []byte{0})
	nexthopAttr := buildPathAttr(0x40, bgp.AttrTypeNextHop, []byte{192, 168, 1, 1})
	asPathData := []byte{
		bgp.ASPathSegmentSequence, 2,
		0, 0, 0xFD, 0xE9, // AS65001
		0, 0, 0xFD, 0xEA, // AS65002
	}
	asPathAttr := buildPathAttr(0x40, bgp.AttrTypeASPath, asPathData)
	pathAttrs := append(originAttr, asPathAttr...)
	pathAttrs = append(pathAttrs, nexthopAttr...)

	bgpUpdate := buildBGPUpdate(nil, pathAttrs, nlri)
	bmpMsg := buildBMPRouteMonitoring(bmp.PeerTypeLocRIB, 0, [4]byte{10, 0, 0, 1}, 0, bgpUpdate)
	frame := wrapOpenBMP(bmpMsg)

	rec := &kgo.Record{Value: frame, Topic: "gobmp.raw"}
	rows := p.processRecord(context.Background(), rec)

	if len(rows) != 1 {
		t.Fatalf("expected 1 HistoryRow, got %d", len(rows))
	}
	row := rows[0]
	if row.Elem.Prefix.String() != "10.0.0.0/24" {
		t.Errorf("expected prefix '10.0.0.0/24', got '%s'", row.Elem.Prefix.String())
	}
	if row.Elem.IPVersion() != 4 {
		t.Errorf("expected IP version 4, got %d", row.Elem.IPVersion())
	}
	if row.Elem.Type.String() != "announce" {
		t.Errorf("expected type 'announce', got '%s'", row.Elem.Type.String())
	}
	if row.Elem.NextHop.String() != "192.168.1.1" {
		t.Errorf("expected nexthop '192.168.1.1', got '%s'", row.Elem.NextHop.String())
	}
	if row.Elem.ASPath.String() != "65001 65002" {
		t.Errorf("expected as_path '65001 65002', got '%s'", row.Elem.ASPath.String())
	}
	if got := bgp.OriginValues[*row.Elem.Origin]; got != "IGP" {
		t.Errorf("expected origin 'IGP', got '%s'", got)
	}
	if !row.FromLocRIB {
		t.Error("expected FromLocRIB=true for a Loc-RIB peer")
	}
	if row.TableName != "" {
		t.Errorf("expected empty TableName for a Loc-RIB peer with distinguisher 0, got '%s'", row.TableName)
	}
	if len(row.EventID) != 32 {
		t.Errorf("expected 32-byte EventID, got %d bytes", len(row.EventID))
	}
	if row.BMPRaw == nil {
		t.Error("expected BMPRaw to be non-nil")
	}
	if row.Topic != "gobmp.raw" {
		t.Errorf("expected Topic 'gobmp.raw', got '%s'", row.Topic)
	}
}

func TestHistoryProcessRecord_RDPeerGetsTableName(t *testing.T) {
	p := newTestHistoryPipeline()

	nlri := []byte{24, 10, 0, 0}
	originAttr := buildPathAttr(0x40, bgp.AttrTypeOrigin, []byte{0})
	nexthopAttr := buildPathAttr(0x40, bgp.AttrTypeNextHop, []byte{192, 168, 1, 1})
	pathAttrs := append(originAttr, nexthopAttr...)
	bgpUpdate := buildBGPUpdate(nil, pathAttrs, nlri)

	bmpMsg := buildBMPRouteMonitoring(bmp.PeerTypeRD, 0, [4]byte{10, 0, 0, 1}, 42, bgpUpdate)
	frame := wrapOpenBMP(bmpMsg)

	rows := p.processRecord(context.Background(), &kgo.Record{Value: frame, Topic: "gobmp.raw"})
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].TableName != "rd-42" {
		t.Errorf("expected TableName 'rd-42', got %q", rows[0].TableName)
	}
}

func TestHistoryProcessRecord_NonLocRIBPeerFields(t *testing.T) {
	p := newTestHistoryPipeline()

	// peer_type=0 (Global), post-policy flag set (L-bit).
	nlri := []byte{24, 10, 0, 0}
	originAttr := buildPathAttr(0x40, bgp.AttrTypeOrigin, []byte{0})
	nexthopAttr := buildPathAttr(0x40, bgp.AttrTypeNextHop, []byte{192, 168, 1, 1})
	pathAttrs := append(originAttr, nexthopAttr...)
	bgpUpdate := buildBGPUpdate(nil, pathAttrs, nlri)

	bmpMsg := buildBMPRouteMonitoring(bmp.PeerTypeGlobal, bmp.PeerFlagPostPolicy, [4]byte{10, 0, 0, 1}, 0, bgpUpdate)
	// Set PeerAS (65001) at BMP offset 6+26=32.
	binary.BigEndian.PutUint32(bmpMsg[32:36], 65001)
	frame := wrapOpenBMPV17(bmpMsg, [4]byte{10, 0, 0, 2})

	rec := &kgo.Record{Value: frame, Topic: "gobmp.raw"}
	rows := p.processRecord(context.Background(), rec)

	if len(rows) != 1 {
		t.Fatalf("expected 1 row for non-Loc-RIB peer, got %d", len(rows))
	}
	row := rows[0]
	if row.FromLocRIB {
		t.Error("expected FromLocRIB=false for a Global peer")
	}
	if row.Elem.PeerIP.String() != "10.0.0.1" {
		t.Errorf("expected PeerIP '10.0.0.1', got '%s'", row.Elem.PeerIP.String())
	}
	if row.Elem.PeerASN.Value != 65001 {
		t.Errorf("expected PeerASN 65001, got %d", row.Elem.PeerASN.Value)
	}
	// No Peer Up has been seen, so router identity falls back to the
	// OpenBMP envelope's router IP.
	if row.RouterID != "10.0.0.2" {
		t.Errorf("expected RouterID '10.0.0.2' (OBMP router IP fallback), got '%s'", row.RouterID)
	}
	if row.Elem.Prefix.String() != "10.0.0.0/24" {
		t.Errorf("expected prefix '10.0.0.0/24', got '%s'", row.Elem.Prefix.String())
	}
	if row.Elem.Type.String() != "announce" {
		t.Errorf("expected type 'announce', got '%s'", row.Elem.Type.String())
	}
}

func TestHistoryProcessRecord_SkipEOR(t *testing.T) {
	p := newTestHistoryPipeline()

	// Empty BGP UPDATE = IPv4 EOR marker; elem.Project returns nothing.
	bgpUpdate := buildBGPUpdate(nil, nil, nil)
	bmpMsg := buildBMPRouteMonitoring(bmp.PeerTypeLocRIB, 0, [4]byte{10, 0, 0, 1}, 0, bgpUpdate)
	frame := wrapOpenBMP(bmpMsg)

	rec := &kgo.Record{Value: frame, Topic: "gobmp.raw"}
	rows := p.processRecord(context.Background(), rec)

	if len(rows) != 0 {
		t.Errorf("expected 0 rows for EOR marker, got %d", len(rows))
	}
}

func TestHistoryProcessRecord_MultiPrefix(t *testing.T) {
	p := newTestHistoryPipeline()

	// 3 IPv4 announcements in a single UPDATE.
	nlri := []byte{
		24, 10, 0, 0, // 10.0.0.0/24
		24, 10, 0, 1, // 10.0.1.0/24
		24, 10, 0, 2, // 10.0.2.0/24
	}
	originAttr := buildPathAttr(0x40, bgp.AttrTypeOrigin, []byte{0})
	nexthopAttr := buildPathAttr(0x40, bgp.AttrTypeNextHop, []byte{192, 168, 1, 1})
	pathAttrs := append(originAttr, nexthopAttr...)
	bgpUpdate := buildBGPUpdate(nil, pathAttrs, nlri)

	bmpMsg := buildBMPRouteMonitoring(bmp.PeerTypeLocRIB, 0, [4]byte{10, 0, 0, 1}, 0, bgpUpdate)
	frame := wrapOpenBMP(bmpMsg)

	rec := &kgo.Record{Value: frame, Topic: "gobmp.raw"}
	rows := p.processRecord(context.Background(), rec)

	if len(rows) != 3 {
		t.Fatalf("expected 3 HistoryRows, got %d", len(rows))
	}

	prefixes := make(map[string]bool)
	for _, row := range rows {
		prefixes[row.Elem.Prefix.String()] = true
	}
	for _, expected := range []string{"10.0.0.0/24", "10.0.1.0/24", "10.0.2.0/24"} {
		if !prefixes[expected] {
			t.Errorf("expected prefix '%s' in results", expected)
		}
	}

	// Per-prefix event IDs: every row must have a DIFFERENT EventID.
	for i := 0; i < len(rows); i++ {
		for j := i + 1; j < len(rows); j++ {
			if bytes.Equal(rows[i].EventID, rows[j].EventID) {
				t.Errorf("rows[%d] and rows[%d] have the same EventID (prefix=%s, prefix=%s) -- per-prefix event IDs broken",
					i, j, rows[i].Elem.Prefix.String(), rows[j].Elem.Prefix.String())
			}
		}
	}
}

func TestHistoryProcessRecord_MultiMessage(t *testing.T) {
	p := newTestHistoryPipeline()

	// Build two separate BMP Route Monitoring messages, each with one prefix,
	// and concatenate them in a single OpenBMP frame.
	nlri1 := []byte{24, 10, 0, 0} // 10.0.0.0/24
	originAttr := buildPathAttr(0x40, bgp.AttrTypeOrigin, []byte{0})
	nexthopAttr := buildPathAttr(0x40, bgp.AttrTypeNextHop, []byte{192, 168, 1, 1})
	pathAttrs := append(originAttr, nexthopAttr...)
	bgpUpdate1 := buildBGPUpdate(nil, pathAttrs, nlri1)
	bmpMsg1 := buildBMPRouteMonitoring(bmp.PeerTypeLocRIB, 0, [4]byte{10, 0, 0, 1}, 0, bgpUpdate1)

	nlri2 := []byte{16, 172, 16} // 172.16.0.0/16
	bgpUpdate2 := buildBGPUpdate(nil, pathAttrs, nlri2)
	bmpMsg2 := buildBMPRouteMonitoring(bmp.PeerTypeLocRIB, 0, [4]byte{10, 0, 0, 1}, 0, bgpUpdate2)

	combined := make([]byte, 0, len(bmpMsg1)+len(bmpMsg2))
	combined = append(combined, bmpMsg1...)
	combined = append(combined, bmpMsg2...)

	frame := wrapOpenBMP(combined)

	rec := &kgo.Record{Value: frame, Topic: "gobmp.raw"}
	rows := p.processRecord(context.Background(), rec)

	if len(rows) != 2 {
		t.Fatalf("expected 2 HistoryRows from 2 BMP messages, got %d", len(rows))
	}

	prefixes := make(map[string]bool)
	for _, row := range rows {
		prefixes[row.Elem.Prefix.String()] = true
	}
	if !prefixes["10.0.0.0/24"] {
		t.Error("expected prefix '10.0.0.0/24' from first BMP message")
	}
	if !prefixes["172.16.0.0/16"] {
		t.Error("expected prefix '172.16.0.0/16' from second BMP message")
	}
}

// --- Peer Up ASN pipeline tests ---

func TestHistoryProcessRecord_PeerUpASN(t *testing.T) {
	p := newTestHistoryPipeline()

	// Build a non-Loc-RIB Peer Up with ASN 65001 (BGP ID 10.0.0.1 in Sent OPEN).
	peerUpMsg := buildBMPPeerUp(bmp.PeerTypeGlobal, 65001, false)
	frame := wrapOpenBMPV17(peerUpMsg, [4]byte{10, 0, 0, 9})

	rec := &kgo.Record{Value: frame, Topic: "gobmp.raw"}
	rows := p.processRecord(context.Background(), rec)

	if len(rows) != 0 {
		t.Errorf("expected 0 rows for Peer Up, got %d", len(rows))
	}

	if p.asnCache["10.0.0.1"] != 65001 {
		t.Errorf("expected asnCache[10.0.0.1]=65001, got %d", p.asnCache["10.0.0.1"])
	}
}

func TestHistoryProcessRecord_PeerUpASN_CacheHit(t *testing.T) {
	p := newTestHistoryPipeline()

	peerUpMsg := buildBMPPeerUp(bmp.PeerTypeGlobal, 65001, false)
	frame := wrapOpenBMPV17(peerUpMsg, [4]byte{10, 0, 0, 9})

	// First Peer Up — populates cache.
	rec := &kgo.Record{Value: frame, Topic: "gobmp.raw"}
	p.processRecord(context.Background(), rec)

	if p.asnCache["10.0.0.1"] != 65001 {
		t.Fatalf("expected asnCache populated after first Peer Up")
	}

	// Second Peer Up with same ASN — cache hit, no UpsertRouter call.
	// (If UpsertRouter were called with nil pool, it would panic.)
	p.processRecord(context.Background(), rec)

	if p.asnCache["10.0.0.1"] != 65001 {
		t.Errorf("expected asnCache unchanged, got %d", p.asnCache["10.0.0.1"])
	}
}

func TestHistoryProcessRecord_PeerUpLocRIB_NoASN(t *testing.T) {
	p := newTestHistoryPipeline()

	// Build a Loc-RIB Peer Up. Should not trigger ASN extraction.
	peerUpMsg := buildBMPPeerUp(bmp.PeerTypeLocRIB, 0, false)
	frame := wrapOpenBMPV17(peerUpMsg, [4]byte{10, 0, 0, 1})

	rec := &kgo.Record{Value: frame, Topic: "gobmp.raw"}
	rows := p.processRecord(context.Background(), rec)

	if len(rows) != 0 {
		t.Errorf("expected 0 rows for Loc-RIB Peer Up, got %d", len(rows))
	}
	if len(p.asnCache) != 0 {
		t.Errorf("expected empty asnCache for Loc-RIB Peer Up, got %v", p.asnCache)
	}
}

func TestHistoryProcessRecord_LocRIBPeerUp_RegistersRouter(t *testing.T) {
	p := newTestHistoryPipeline()

	// Build a Loc-RIB Peer Up with BGP ID 10.0.0.2 in the per-peer header.
	peerUpMsg := buildBMPPeerUp(bmp.PeerTypeLocRIB, 0, false)
	// BGP ID at common header (6) + per-peer header offset 30 = 36.
	peerUpMsg[36] = 10
	peerUpMsg[37] = 0
	peerUpMsg[38] = 0
	peerUpMsg[39] = 2

	// OBMP router IP is 0.0.0.0 for Loc-RIB (peer address is zeros). The
	// handler must use the per-peer header's own BGP ID, not the OBMP IP.
	frame := wrapOpenBMPV17(peerUpMsg, [4]byte{0, 0, 0, 0})

	rec := &kgo.Record{Value: frame, Topic: "gobmp.raw"}
	rows := p.processRecord(context.Background(), rec)

	if len(rows) != 0 {
		t.Errorf("expected 0 route rows for Loc-RIB Peer Up, got %d", len(rows))
	}
	if len(p.asnCache) != 0 {
		t.Errorf("expected empty asnCache, got %v", p.asnCache)
	}
}

func TestHistoryProcessRecord_PeerUp4ByteASN(t *testing.T) {
	p := newTestHistoryPipeline()

	// Build a non-Loc-RIB Peer Up with 4-byte ASN 400000.
	peerUpMsg := buildBMPPeerUp(bmp.PeerTypeGlobal, 400000, true)
	frame := wrapOpenBMPV17(peerUpMsg, [4]byte{10, 0, 0, 9})

	rec := &kgo.Record{Value: frame, Topic: "gobmp.raw"}
	p.processRecord(context.Background(), rec)

	if p.asnCache["10.0.0.1"] != 400000 {
		t.Errorf("expected asnCache[10.0.0.1]=400000, got %d", p.asnCache["10.0.0.1"])
	}
}

func TestHistoryPipeline_RouterMetaStored(t *testing.T) {
	meta := map[string]config.RouterMeta{
		"10.0.0.2": {Name: "bgp-router-ceos", Location: "docker-lab"},
	}
	p := NewPipeline(nil, 1000, 200, 16*1024*1024, false, nil, zap.NewNop(), meta)

	got, ok := p.routerMeta["10.0.0.2"]
	if !ok {
		t.Fatal("expected routerMeta to contain 10.0.0.2")
	}
	if got.Name != "bgp-router-ceos" {
		t.Errorf("expected Name 'bgp-router-ceos', got %q", got.Name)
	}
	if got.Location != "docker-lab" {
		t.Errorf("expected Location 'docker-lab', got %q", got.Location)
	}
}

func TestHistoryPipeline_NilRouterMetaDefaultsToEmptyMap(t *testing.T) {
	p := NewPipeline(nil, 1000, 200, 16*1024*1024, false, nil, zap.NewNop(), nil)
	if p.routerMeta == nil {
		t.Fatal("expected routerMeta to be initialized, got nil")
	}
	if len(p.routerMeta) != 0 {
		t.Errorf("expected empty routerMeta, got %d entries", len(p.routerMeta))
	}
}

func TestHistoryPipeline_NilFiltersDefaultsToMatchAll(t *testing.T) {
	p := NewPipeline(nil, 1000, 200, 16*1024*1024, false, nil, zap.NewNop(), nil)
	if p.filters == nil {
		t.Fatal("expected filters to default to a non-nil, vacuously-matching Set")
	}
}

func TestHistoryProcessRecord_PeerUpASN_UsesBGPIDNotOBMPIP(t *testing.T) {
	p := newTestHistoryPipeline()

	// Simulate a collector quirk where the OBMP header's router IP is the
	// monitored peer's address (172.30.0.30), NOT the BMP speaker
	// (10.0.0.1). The Sent OPEN's BGP ID (10.0.0.1) is the speaker's real
	// identity and must be what gets cached.
	peerUpMsg := buildBMPPeerUp(bmp.PeerTypeGlobal, 65002, false)
	frame := wrapOpenBMPV17(peerUpMsg, [4]byte{172, 30, 0, 30})

	rec := &kgo.Record{Value: frame, Topic: "gobmp.raw"}
	p.processRecord(context.Background(), rec)

	if p.asnCache["10.0.0.1"] != 65002 {
		t.Errorf("expected asnCache[10.0.0.1]=65002, got %d", p.asnCache["10.0.0.1"])
	}
	if _, exists := p.asnCache["172.30.0.30"]; exists {
		t.Error("ASN should NOT be cached under OBMP peer IP 172.30.0.30")
	}
}

func TestHistoryProcessRecord_FiltersDropNonMatchingElements(t *testing.T) {
	p := newTestHistoryPipeline()
	s, err := filter.Compile([]string{"peer_asn=99999"})
	if err != nil {
		t.Fatalf("unexpected filter compile error: %v", err)
	}
	p.filters = s

	nlri := []byte{24, 10, 0, 0}
	originAttr := buildPathAttr(0x40, bgp.AttrTypeOrigin, []byte{0})
	nexthopAttr := buildPathAttr(0x40, bgp.AttrTypeNextHop, []byte{192, 168, 1, 1})
	pathAttrs := append(originAttr, nexthopAttr...)
	bgpUpdate := buildBGPUpdate(nil, pathAttrs, nlri)
	bmpMsg := buildBMPRouteMonitoring(bmp.PeerTypeLocRIB, 0, [4]byte{10, 0, 0, 1}, 0, bgpUpdate)
	frame := wrapOpenBMP(bmpMsg)

	rows := p.processRecord(context.Background(), &kgo.Record{Value: frame, Topic: "gobmp.raw"})
	if len(rows) != 0 {
		t.Errorf("expected the peer_asn=99999 filter to drop every element, got %d rows", len(rows))
	}
}
