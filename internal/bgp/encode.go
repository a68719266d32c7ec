package bgp

import "encoding/binary"

// EncodeAttributes serializes a PathAttributes back into the wire flags/
// type/length/value envelope, the inverse of ParsePathAttributes. Each
// parseXxx function in attributes.go has an obvious encodeXxx counterpart
// here; OrigFlags (when present for a type) is reused verbatim, including
// the extended-length bit, which is also set for any value over 255 bytes.
// Attributes absent from the struct are simply omitted; Unknown attributes
// are re-emitted with their captured flags. The output is not always
// byte-identical to the parsed input: attributes are written in a fixed
// type order with Unknown ones last (in map iteration order), AS_PATH and
// AGGREGATOR are always written with 4-byte ASNs, AS4_PATH and
// AS4_AGGREGATOR are not re-emitted (they were merged on parse),
// MP_REACH_NLRI is rebuilt with an SNPA count of 0, and a discarded
// duplicate occurrence is not reproduced.
func (a *PathAttributes) EncodeAttributes() []byte {
	var out []byte
	emit := func(typeCode uint8, defaultFlags uint8, value []byte) {
		flags := defaultFlags
		extLen := false
		if f, ok := a.OrigFlags[typeCode]; ok {
			flags = f &^ AttrFlagExtLength // length bit re-applied below
			extLen = f&AttrFlagExtLength != 0
		}
		if extLen || len(value) > 255 {
			flags |= AttrFlagExtLength
			hdr := []byte{flags, typeCode, 0, 0}
			binary.BigEndian.PutUint16(hdr[2:4], uint16(len(value)))
			out = append(out, hdr...)
		} else {
			out = append(out, flags, typeCode, byte(len(value)))
		}
		out = append(out, value...)
	}

	if a.Origin != nil {
		emit(AttrTypeOrigin, AttrFlagTransitive, []byte{*a.Origin})
	}
	if a.ASPath != nil {
		emit(AttrTypeASPath, AttrFlagTransitive, encodeASPath(a.ASPath))
	}
	if a.NextHop != nil {
		if v4 := a.NextHop.To4(); v4 != nil {
			emit(AttrTypeNextHop, AttrFlagTransitive, []byte(v4))
		}
	}
	if a.MED != nil {
		v := make([]byte, 4)
		binary.BigEndian.PutUint32(v, *a.MED)
		emit(AttrTypeMED, AttrFlagOptional, v)
	}
	if a.LocalPref != nil {
		v := make([]byte, 4)
		binary.BigEndian.PutUint32(v, *a.LocalPref)
		emit(AttrTypeLocalPref, AttrFlagTransitive, v)
	}
	if a.AtomicAggregate {
		emit(AttrTypeAtomicAggr, AttrFlagTransitive, nil)
	}
	if a.Aggregator != nil {
		v := make([]byte, 8)
		binary.BigEndian.PutUint32(v[0:4], a.Aggregator.ASN.Value)
		copy(v[4:8], a.Aggregator.IP.To4())
		emit(AttrTypeAggregator, AttrFlagOptional|AttrFlagTransitive, v)
	}
	if len(a.Communities) > 0 {
		emit(AttrTypeCommunity, AttrFlagOptional|AttrFlagTransitive, encodeFixedWidthCommunities(a.Communities))
	}
	if a.OriginatorID != nil {
		if v4 := a.OriginatorID.To4(); v4 != nil {
			emit(AttrTypeOriginatorID, AttrFlagOptional, []byte(v4))
		}
	}
	if len(a.ClusterList) > 0 {
		var v []byte
		for _, c := range a.ClusterList {
			v = append(v, c...)
		}
		emit(AttrTypeClusterList, AttrFlagOptional, v)
	}
	if a.MPReachAFI != 0 {
		emit(AttrTypeMPReachNLRI, AttrFlagOptional, encodeMPReach(a))
	}
	if a.MPUnreachAFI != 0 {
		emit(AttrTypeMPUnreachNLRI, AttrFlagOptional, encodeMPUnreach(a))
	}
	if len(a.ExtComms) > 0 {
		emit(AttrTypeExtCommunity, AttrFlagOptional|AttrFlagTransitive, encodeFixedWidthCommunities(a.ExtComms))
	}
	if len(a.LargeComms) > 0 {
		emit(AttrTypeLargeCommunity, AttrFlagOptional|AttrFlagTransitive, encodeFixedWidthCommunities(a.LargeComms))
	}
	if a.AIGP != nil {
		v := make([]byte, 11)
		v[0] = 1
		binary.BigEndian.PutUint16(v[1:3], 11)
		binary.BigEndian.PutUint64(v[3:11], *a.AIGP)
		emit(AttrTypeAIGP, AttrFlagOptional, v)
	}
	if a.OTC != nil {
		v := make([]byte, 4)
		binary.BigEndian.PutUint32(v, a.OTC.Value)
		emit(AttrTypeOTC, AttrFlagOptional|AttrFlagTransitive, v)
	}
	for typeCode, raw := range a.Unknown {
		emit(typeCode, AttrFlagOptional, raw)
	}
	return out
}

func encodeASPath(p *AsPath) []byte {
	var out []byte
	for _, seg := range p.Segments {
		out = append(out, seg.Type, byte(len(seg.ASNs)))
		for _, asn := range seg.ASNs {
			v := make([]byte, 4)
			binary.BigEndian.PutUint32(v, asn.Value)
			out = append(out, v...)
		}
	}
	return out
}

func encodeFixedWidthCommunities(cs []Community) []byte {
	var out []byte
	for _, c := range cs {
		out = append(out, c.Raw...)
	}
	return out
}

func encodeMPReach(a *PathAttributes) []byte {
	var nh []byte
	if a.MPReachNextHop.To4() != nil && a.MPReachAFI == AFIIPv4 {
		nh = []byte(a.MPReachNextHop.To4())
	} else {
		nh = []byte(a.MPReachNextHop.To16())
	}
	out := make([]byte, 0, 4+1+len(nh)+1)
	out = append(out, byte(a.MPReachAFI>>8), byte(a.MPReachAFI))
	out = append(out, a.MPReachSAFI)
	out = append(out, byte(len(nh)))
	out = append(out, nh...)
	out = append(out, 0) // SNPA count, always 0 on encode
	out = append(out, encodeNLRIPrefixes(a.MPAnnounced)...)
	return out
}

func encodeMPUnreach(a *PathAttributes) []byte {
	out := []byte{byte(a.MPUnreachAFI >> 8), byte(a.MPUnreachAFI), a.MPUnreachSAFI}
	out = append(out, encodeNLRIPrefixes(a.MPWithdrawn)...)
	return out
}

// encodeNLRIPrefixes is the inverse of parseNLRIPrefixes.
func encodeNLRIPrefixes(prefixes []NetworkPrefix) []byte {
	var out []byte
	for _, p := range prefixes {
		if p.PathID != nil {
			v := make([]byte, 4)
			binary.BigEndian.PutUint32(v, *p.PathID)
			out = append(out, v...)
		}
		byteLen := (p.Length + 7) / 8
		out = append(out, byte(p.Length))
		out = append(out, p.Bytes[:byteLen]...)
	}
	return out
}

// EncodeUpdate serializes an Update back into a full BGP message
// (19-byte header included).
func EncodeUpdate(u *Update) []byte {
	var withdrawn []NetworkPrefix
	var nlri []NetworkPrefix
	for _, p := range u.WithdrawnRoutes {
		if p.V6 {
			continue // carried via MP_UNREACH instead
		}
		withdrawn = append(withdrawn, p)
	}
	for _, p := range u.NLRI {
		if p.V6 {
			continue // carried via MP_REACH instead
		}
		nlri = append(nlri, p)
	}

	withdrawnBytes := encodeNLRIPrefixes(withdrawn)
	var attrBytes []byte
	if u.Attrs != nil {
		attrBytes = u.Attrs.EncodeAttributes()
	}
	nlriBytes := encodeNLRIPrefixes(nlri)

	body := make([]byte, 0, 4+len(withdrawnBytes)+len(attrBytes)+len(nlriBytes))
	wl := make([]byte, 2)
	binary.BigEndian.PutUint16(wl, uint16(len(withdrawnBytes)))
	body = append(body, wl...)
	body = append(body, withdrawnBytes...)
	al := make([]byte, 2)
	binary.BigEndian.PutUint16(al, uint16(len(attrBytes)))
	body = append(body, al...)
	body = append(body, attrBytes...)
	body = append(body, nlriBytes...)

	out := EncodeHeader(MsgTypeUpdate, len(body))
	return append(out, body...)
}
