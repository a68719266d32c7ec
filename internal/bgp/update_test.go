package bgp

import (
	"encoding/binary"
	"testing"

	"github.com/route-beacon/rib-ingester/internal/wire"
)

// buildBGPUpdate constructs a BGP UPDATE message with the given components.
func buildBGPUpdate(withdrawn []byte, pathAttrs []byte, nlri []byte) []byte {
	bodyLen := 2 + len(withdrawn) + 2 + len(pathAttrs) + len(nlri)
	totalLen := 19 + bodyLen

	msg := make([]byte, totalLen)
	for i := 0; i < 16; i++ {
		msg[i] = 0xFF
	}
	binary.BigEndian.PutUint16(msg[16:18], uint16(totalLen))
	msg[18] = MsgTypeUpdate

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

// buildPathAttr constructs a single path attribute.
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

func TestParseUpdate_IPv4Announcement(t *testing.T) {
	nlri := []byte{24, 10, 0, 0} // 10.0.0.0/24

	originAttr := buildPathAttr(0x40, AttrTypeOrigin, []byte{0}) // IGP
	nexthopAttr := buildPathAttr(0x40, AttrTypeNextHop, []byte{192, 168, 1, 1})
	pathAttrs := append(originAttr, nexthopAttr...)

	msg := buildBGPUpdate(nil, pathAttrs, nlri)

	u, err := ParseUpdate(msg, false, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(u.NLRI) != 1 || len(u.WithdrawnRoutes) != 0 {
		t.Fatalf("expected 1 NLRI, 0 withdrawn, got %d/%d", len(u.NLRI), len(u.WithdrawnRoutes))
	}
	if u.NLRI[0].String() != "10.0.0.0/24" {
		t.Errorf("expected prefix '10.0.0.0/24', got '%s'", u.NLRI[0].String())
	}
	if u.Attrs.Origin == nil || OriginValues[*u.Attrs.Origin] != "IGP" {
		t.Errorf("expected origin IGP, got %v", u.Attrs.Origin)
	}
	if u.Attrs.NextHop.String() != "192.168.1.1" {
		t.Errorf("expected nexthop '192.168.1.1', got '%s'", u.Attrs.NextHop)
	}
}

func TestParseUpdate_IPv4Withdrawal(t *testing.T) {
	withdrawn := []byte{16, 172, 16} // 172.16.0.0/16

	msg := buildBGPUpdate(withdrawn, nil, nil)

	u, err := ParseUpdate(msg, false, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(u.WithdrawnRoutes) != 1 {
		t.Fatalf("expected 1 withdrawn, got %d", len(u.WithdrawnRoutes))
	}
	if u.WithdrawnRoutes[0].String() != "172.16.0.0/16" {
		t.Errorf("expected prefix '172.16.0.0/16', got '%s'", u.WithdrawnRoutes[0].String())
	}
}

func TestParseUpdate_ASPath(t *testing.T) {
	asPathData := []byte{
		ASPathSegmentSequence, 3,
		0, 0, 0xFB, 0xF0, // AS64496
		0, 0, 0xFB, 0xF1, // AS64497
		0, 0, 0xFB, 0xF2, // AS64498
	}
	asPathAttr := buildPathAttr(0x40, AttrTypeASPath, asPathData)

	nlri := []byte{24, 10, 0, 0}
	originAttr := buildPathAttr(0x40, AttrTypeOrigin, []byte{0})
	nexthopAttr := buildPathAttr(0x40, AttrTypeNextHop, []byte{192, 168, 1, 1})
	pathAttrs := append(originAttr, append(asPathAttr, nexthopAttr...)...)

	msg := buildBGPUpdate(nil, pathAttrs, nlri)

	u, err := ParseUpdate(msg, false, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Attrs.ASPath.String() != "64496 64497 64498" {
		t.Errorf("expected AS_PATH '64496 64497 64498', got '%s'", u.Attrs.ASPath.String())
	}
}

func TestParseUpdate_StandardCommunities(t *testing.T) {
	commData := []byte{
		0xFB, 0xF0, 0x00, 0x64, // 64496:100
		0xFB, 0xF0, 0x00, 0xC8, // 64496:200
	}
	commAttr := buildPathAttr(0xC0, AttrTypeCommunity, commData)

	nlri := []byte{24, 10, 0, 0}
	originAttr := buildPathAttr(0x40, AttrTypeOrigin, []byte{0})
	nexthopAttr := buildPathAttr(0x40, AttrTypeNextHop, []byte{192, 168, 1, 1})
	pathAttrs := append(originAttr, append(commAttr, nexthopAttr...)...)

	msg := buildBGPUpdate(nil, pathAttrs, nlri)

	u, err := ParseUpdate(msg, false, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(u.Attrs.Communities) != 2 {
		t.Fatalf("expected 2 communities, got %d", len(u.Attrs.Communities))
	}
	if u.Attrs.Communities[0].String() != "64496:100" {
		t.Errorf("expected '64496:100', got '%s'", u.Attrs.Communities[0].String())
	}
	if u.Attrs.Communities[1].String() != "64496:200" {
		t.Errorf("expected '64496:200', got '%s'", u.Attrs.Communities[1].String())
	}
}

func TestParseUpdate_LargeCommunities(t *testing.T) {
	lcData := make([]byte, 12)
	binary.BigEndian.PutUint32(lcData[0:4], 64496)
	binary.BigEndian.PutUint32(lcData[4:8], 1)
	binary.BigEndian.PutUint32(lcData[8:12], 2)

	lcAttr := buildPathAttr(0xC0, AttrTypeLargeCommunity, lcData)

	nlri := []byte{24, 10, 0, 0}
	originAttr := buildPathAttr(0x40, AttrTypeOrigin, []byte{0})
	nexthopAttr := buildPathAttr(0x40, AttrTypeNextHop, []byte{192, 168, 1, 1})
	pathAttrs := append(originAttr, append(lcAttr, nexthopAttr...)...)

	msg := buildBGPUpdate(nil, pathAttrs, nlri)

	u, err := ParseUpdate(msg, false, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(u.Attrs.LargeComms) != 1 {
		t.Fatalf("expected 1 large community, got %d", len(u.Attrs.LargeComms))
	}
	if u.Attrs.LargeComms[0].String() != "64496:1:2" {
		t.Errorf("expected '64496:1:2', got '%s'", u.Attrs.LargeComms[0].String())
	}
}

func TestParseUpdate_AddPath(t *testing.T) {
	nlri := []byte{
		0, 0, 0, 42, // path_id=42
		24, 10, 0, 0,
	}

	originAttr := buildPathAttr(0x40, AttrTypeOrigin, []byte{0})
	nexthopAttr := buildPathAttr(0x40, AttrTypeNextHop, []byte{192, 168, 1, 1})
	pathAttrs := append(originAttr, nexthopAttr...)

	msg := buildBGPUpdate(nil, pathAttrs, nlri)

	u, err := ParseUpdate(msg, true, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(u.NLRI) != 1 {
		t.Fatalf("expected 1 NLRI, got %d", len(u.NLRI))
	}
	if u.NLRI[0].PathID == nil || *u.NLRI[0].PathID != 42 {
		t.Errorf("expected PathID=42, got %v", u.NLRI[0].PathID)
	}
}

func TestParseUpdate_IPv6MPReach(t *testing.T) {
	nh := []byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	mpReach := make([]byte, 0, 4+16+1+5)
	mpReach = append(mpReach, 0, 2) // AFI=2 (IPv6)
	mpReach = append(mpReach, 1)    // SAFI=1 (unicast)
	mpReach = append(mpReach, 16)   // NH len
	mpReach = append(mpReach, nh...)
	mpReach = append(mpReach, 0)                      // SNPA count
	mpReach = append(mpReach, 32)                      // prefix len = /32
	mpReach = append(mpReach, 0x20, 0x01, 0x0d, 0xb8) // 4 bytes of prefix

	mpReachAttr := buildPathAttr(0x80, AttrTypeMPReachNLRI, mpReach)
	originAttr := buildPathAttr(0x40, AttrTypeOrigin, []byte{0})
	pathAttrs := append(originAttr, mpReachAttr...)

	msg := buildBGPUpdate(nil, pathAttrs, nil)

	u, err := ParseUpdate(msg, false, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(u.NLRI) != 1 {
		t.Fatalf("expected 1 NLRI, got %d", len(u.NLRI))
	}
	if u.NLRI[0].String() != "2001:db8::/32" {
		t.Errorf("expected prefix '2001:db8::/32', got '%s'", u.NLRI[0].String())
	}
	if u.Attrs.MPReachNextHop.String() != "2001:db8::1" {
		t.Errorf("expected nexthop '2001:db8::1', got '%s'", u.Attrs.MPReachNextHop)
	}
}

func TestParseUpdate_IPv6MPUnreach(t *testing.T) {
	mpUnreach := []byte{
		0, 2, // AFI=2
		1,  // SAFI=1
		48, // prefix len
		0x20, 0x01, 0x0d, 0xb8, 0x00, 0x01, // 6 bytes of prefix
	}
	mpUnreachAttr := buildPathAttr(0x80, AttrTypeMPUnreachNLRI, mpUnreach)

	msg := buildBGPUpdate(nil, mpUnreachAttr, nil)

	u, err := ParseUpdate(msg, false, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(u.WithdrawnRoutes) != 1 {
		t.Fatalf("expected 1 withdrawn, got %d", len(u.WithdrawnRoutes))
	}
	if u.WithdrawnRoutes[0].String() != "2001:db8:1::/48" {
		t.Errorf("expected prefix '2001:db8:1::/48', got '%s'", u.WithdrawnRoutes[0].String())
	}
}

func TestParseUpdate_MEDAndLocalPref(t *testing.T) {
	nlri := []byte{24, 10, 0, 0}
	originAttr := buildPathAttr(0x40, AttrTypeOrigin, []byte{0})
	nexthopAttr := buildPathAttr(0x40, AttrTypeNextHop, []byte{192, 168, 1, 1})

	medData := make([]byte, 4)
	binary.BigEndian.PutUint32(medData, 100)
	medAttr := buildPathAttr(0x80, AttrTypeMED, medData)

	lpData := make([]byte, 4)
	binary.BigEndian.PutUint32(lpData, 200)
	lpAttr := buildPathAttr(0x40, AttrTypeLocalPref, lpData)

	pathAttrs := append(originAttr, nexthopAttr...)
	pathAttrs = append(pathAttrs, medAttr...)
	pathAttrs = append(pathAttrs, lpAttr...)

	msg := buildBGPUpdate(nil, pathAttrs, nlri)

	u, err := ParseUpdate(msg, false, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Attrs.MED == nil || *u.Attrs.MED != 100 {
		t.Errorf("expected MED=100, got %v", u.Attrs.MED)
	}
	if u.Attrs.LocalPref == nil || *u.Attrs.LocalPref != 200 {
		t.Errorf("expected LocalPref=200, got %v", u.Attrs.LocalPref)
	}
}

func TestParseUpdate_UnknownAttribute(t *testing.T) {
	nlri := []byte{24, 10, 0, 0}
	originAttr := buildPathAttr(0x40, AttrTypeOrigin, []byte{0})
	nexthopAttr := buildPathAttr(0x40, AttrTypeNextHop, []byte{192, 168, 1, 1})
	unknownAttr := buildPathAttr(0xC0, 99, []byte{0xDE, 0xAD})
	pathAttrs := append(originAttr, nexthopAttr...)
	pathAttrs = append(pathAttrs, unknownAttr...)

	msg := buildBGPUpdate(nil, pathAttrs, nlri)

	u, err := ParseUpdate(msg, false, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw, ok := u.Attrs.Unknown[99]
	if !ok {
		t.Fatal("expected unknown attribute 99 to be preserved")
	}
	if len(raw) != 2 || raw[0] != 0xDE || raw[1] != 0xAD {
		t.Errorf("expected unknown attr bytes [DE AD], got %x", raw)
	}
}

func TestParseUpdate_TruncatedAttrHeader(t *testing.T) {
	pathAttrs := []byte{0x40} // only flags, no type code
	nlri := []byte{24, 10, 0, 0}
	msg := buildBGPUpdate(nil, pathAttrs, nlri)

	_, err := ParseUpdate(msg, false, true)
	if err == nil {
		t.Fatal("expected error for truncated attr header")
	}
}

func TestParseUpdate_TruncatedAttrLength(t *testing.T) {
	pathAttrs := []byte{0x50, AttrTypeOrigin} // extended length flag, no length bytes
	nlri := []byte{24, 10, 0, 0}
	msg := buildBGPUpdate(nil, pathAttrs, nlri)

	_, err := ParseUpdate(msg, false, true)
	if err == nil {
		t.Fatal("expected error for truncated extended attr length")
	}
}

func TestParseUpdate_AttrDataTruncated(t *testing.T) {
	pathAttrs := []byte{0x40, AttrTypeOrigin, 4, 0x00, 0x00} // claims 4 bytes, has 2
	nlri := []byte{24, 10, 0, 0}
	msg := buildBGPUpdate(nil, pathAttrs, nlri)

	_, err := ParseUpdate(msg, false, true)
	if err == nil {
		t.Fatal("expected error for truncated attr data")
	}
}

func TestParseUpdate_UnsupportedSAFI_MPReach(t *testing.T) {
	mpReach := make([]byte, 0, 32)
	mpReach = append(mpReach, 0, 1) // AFI=1 (IPv4)
	mpReach = append(mpReach, 4)    // SAFI=4 (unsupported: MPLS labels)
	mpReach = append(mpReach, 4)    // NH len = 4
	mpReach = append(mpReach, 192, 168, 1, 1)
	mpReach = append(mpReach, 0) // SNPA count
	mpReach = append(mpReach, 24, 10, 0, 0)

	mpReachAttr := buildPathAttr(0x80, AttrTypeMPReachNLRI, mpReach)
	originAttr := buildPathAttr(0x40, AttrTypeOrigin, []byte{0})
	pathAttrs := append(originAttr, mpReachAttr...)

	msg := buildBGPUpdate(nil, pathAttrs, nil)

	u, err := ParseUpdate(msg, false, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(u.NLRI) != 0 {
		t.Errorf("expected 0 NLRI for unsupported SAFI, got %d", len(u.NLRI))
	}
}

func TestParseUpdate_MPReachWithNonZeroSNPA(t *testing.T) {
	nh := []byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	mpReach := make([]byte, 0, 64)
	mpReach = append(mpReach, 0, 2) // AFI=2 (IPv6)
	mpReach = append(mpReach, 1)    // SAFI=1 (unicast)
	mpReach = append(mpReach, 16)   // NH len
	mpReach = append(mpReach, nh...)
	mpReach = append(mpReach, 1)          // SNPA count = 1
	mpReach = append(mpReach, 4)          // SNPA length = 4 semi-octets (2 bytes)
	mpReach = append(mpReach, 0xAB, 0xCD) // SNPA data
	mpReach = append(mpReach, 32)         // prefix len = /32
	mpReach = append(mpReach, 0x20, 0x01, 0x0d, 0xb8)

	mpReachAttr := buildPathAttr(0x80, AttrTypeMPReachNLRI, mpReach)
	originAttr := buildPathAttr(0x40, AttrTypeOrigin, []byte{0})
	pathAttrs := append(originAttr, mpReachAttr...)

	msg := buildBGPUpdate(nil, pathAttrs, nil)

	u, err := ParseUpdate(msg, false, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(u.NLRI) != 1 {
		t.Fatalf("expected 1 NLRI, got %d", len(u.NLRI))
	}
	if u.NLRI[0].String() != "2001:db8::/32" {
		t.Errorf("expected prefix '2001:db8::/32', got '%s'", u.NLRI[0].String())
	}
	if u.Attrs.MPReachNextHop.String() != "2001:db8::1" {
		t.Errorf("expected nexthop '2001:db8::1', got '%s'", u.Attrs.MPReachNextHop)
	}
}

func TestParseUpdate_AS4PathMerge(t *testing.T) {
	// A legacy (non-AS4) BGP4MP_MESSAGE peer's AS_PATH carries 2-byte ASNs,
	// AS_TRANS (23456) standing in for every ASN too wide to fit; AS4_PATH
	// carries the real 4-byte ASNs alongside it, per RFC 6793 §4.2.
	asPathData := []byte{
		ASPathSegmentSequence, 2,
		0x5B, 0xA0, // AS_TRANS
		0x5B, 0xA0, // AS_TRANS
	}
	as4PathData := []byte{
		ASPathSegmentSequence, 2,
		0, 1, 0x00, 0x00, // AS65536
		0, 1, 0x00, 0x01, // AS65537
	}
	asPathAttr := buildPathAttr(0x40, AttrTypeASPath, asPathData)
	as4PathAttr := buildPathAttr(0xC0, AttrTypeAS4Path, as4PathData)
	originAttr := buildPathAttr(0x40, AttrTypeOrigin, []byte{0})
	pathAttrs := append(originAttr, append(asPathAttr, as4PathAttr...)...)

	msg := buildBGPUpdate(nil, pathAttrs, []byte{24, 10, 0, 0})

	u, err := ParseUpdate(msg, false, false) // asnIs4=false: legacy 2-byte AS_PATH
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Attrs.ASPath.String() != "65536 65537" {
		t.Errorf("expected AS4_PATH to fully replace a same-length AS_PATH, got %q", u.Attrs.ASPath.String())
	}
}

func TestParseUpdate_DuplicateAttribute(t *testing.T) {
	originAttr := buildPathAttr(0x40, AttrTypeOrigin, []byte{0}) // IGP
	dupOriginAttr := buildPathAttr(0x40, AttrTypeOrigin, []byte{2})
	nexthopAttr := buildPathAttr(0x40, AttrTypeNextHop, []byte{192, 168, 1, 1})
	pathAttrs := append(originAttr, append(dupOriginAttr, nexthopAttr...)...)

	msg := buildBGPUpdate(nil, pathAttrs, []byte{24, 10, 0, 0})

	u, err := ParseUpdate(msg, false, true)
	pe, ok := err.(*wire.ParserError)
	if !ok || pe.Kind != wire.DuplicateAttribute {
		t.Fatalf("expected DuplicateAttribute error, got %v", err)
	}
	if u.Attrs.Origin == nil || *u.Attrs.Origin != 0 {
		t.Errorf("expected the first ORIGIN occurrence to survive, got %v", u.Attrs.Origin)
	}
	if u.Attrs.NextHop.String() != "192.168.1.1" {
		t.Errorf("expected the rest of the attribute set to still decode, got nexthop %v", u.Attrs.NextHop)
	}
}
