package bgp

import (
	"encoding/binary"
	"net"

	"github.com/route-beacon/rib-ingester/internal/wire"
)

// ParsePathAttributes parses the path attributes section of a BGP UPDATE,
// generalizing the teacher's dispatch-loop style (internal/bgp/attributes.go)
// to the full closed attribute set in spec.md §4.4 (C5). An attribute
// whose value has the wrong length for its type is left unset and no
// error is reported for it. A repeated type keeps its first occurrence and
// yields a DuplicateAttribute error once the whole set has been parsed. A
// malformed MP_REACH_NLRI/MP_UNREACH_NLRI value, or an attribute header or
// length that runs past the data, stops the parse: the attributes read so
// far are returned with the error and the attributes after it are not
// parsed.
// asnIs4 selects the wire width AS_PATH segments use — 2 bytes per ASN for
// a legacy (non-AS4) BGP4MP_MESSAGE/TABLE_DUMP context, 4 bytes otherwise
// (RFC 6793); AS4_PATH segments are always 4 bytes regardless, since
// AS4_PATH only exists to carry the wide ASNs a 2-byte AS_PATH can't.
func ParsePathAttributes(data []byte, hasAddPath bool, asnIs4 bool) (*PathAttributes, error) {
	attrs := &PathAttributes{
		Unknown:   make(map[uint8][]byte),
		OrigFlags: make(map[uint8]uint8),
	}

	// A pre-pass flags the first repeated attribute type (RFC 4271 §5
	// forbids it); the main loop below still uses its own seen-set so the
	// repeated occurrence is actually discarded rather than just reported.
	var dupErr error
	if tc, dup := HasDuplicateAttribute(data); dup {
		dupErr = wire.NewErrorf(wire.DuplicateAttribute, "attribute type %d repeated", tc)
	}

	c := wire.NewCursor(data)
	var as4Path *AsPath
	var as4Aggregator *Aggregator
	var seen [256]bool

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
		if flags&AttrFlagExtLength != 0 {
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
			return attrs, wire.NewErrorf(wire.TruncatedMessage, "attr type %d wants %d bytes", typeCode, attrLen)
		}

		if seen[typeCode] {
			continue // duplicate occurrence discarded, first one wins
		}
		seen[typeCode] = true
		attrs.OrigFlags[typeCode] = flags

		switch typeCode {
		case AttrTypeOrigin:
			if len(attrData) >= 1 {
				v := attrData[0]
				attrs.Origin = &v
			}
		case AttrTypeASPath:
			attrs.ASPath = parseASPathAttr(attrData, asnIs4)
		case AttrTypeAS4Path:
			as4Path = parseASPathAttr(attrData, true)
		case AttrTypeNextHop:
			if len(attrData) == 4 {
				attrs.NextHop = net.IP(attrData).To4()
			}
		case AttrTypeMED:
			if len(attrData) == 4 {
				v := binary.BigEndian.Uint32(attrData)
				attrs.MED = &v
			}
		case AttrTypeLocalPref:
			if len(attrData) == 4 {
				v := binary.BigEndian.Uint32(attrData)
				attrs.LocalPref = &v
			}
		case AttrTypeAtomicAggr:
			attrs.AtomicAggregate = true
		case AttrTypeAggregator:
			if a := parseAggregator(attrData, asnIs4); a != nil {
				attrs.Aggregator = a
			}
		case AttrTypeAS4Aggregator:
			if a := parseAggregator(attrData, true); a != nil {
				as4Aggregator = a
			}
		case AttrTypeCommunity:
			attrs.Communities = parseFixedWidthCommunities(attrData, 4, CommunityStandard)
		case AttrTypeOriginatorID:
			if len(attrData) == 4 {
				attrs.OriginatorID = net.IP(attrData).To4()
			}
		case AttrTypeClusterList:
			for i := 0; i+4 <= len(attrData); i += 4 {
				entry := make([]byte, 4)
				copy(entry, attrData[i:i+4])
				attrs.ClusterList = append(attrs.ClusterList, entry)
			}
		case AttrTypeMPReachNLRI:
			if err := parseMPReachNLRI(attrData, attrs, hasAddPath); err != nil {
				return attrs, err
			}
		case AttrTypeMPUnreachNLRI:
			if err := parseMPUnreachNLRI(attrData, attrs, hasAddPath); err != nil {
				return attrs, err
			}
		case AttrTypeExtCommunity:
			attrs.ExtComms = parseFixedWidthCommunities(attrData, 8, CommunityExtended)
		case AttrTypeLargeCommunity:
			attrs.LargeComms = parseFixedWidthCommunities(attrData, 12, CommunityLarge)
		case AttrTypeAIGP:
			// RFC 7311: one TLV, type 1, 11-byte total (3-byte header + 8-byte value).
			if len(attrData) >= 11 && attrData[0] == 1 {
				v := binary.BigEndian.Uint64(attrData[3:11])
				attrs.AIGP = &v
			}
		case AttrTypeOTC:
			if len(attrData) == 4 {
				v := binary.BigEndian.Uint32(attrData)
				attrs.OTC = &ASN{Value: v, Is4: true}
			}
		default:
			cp := make([]byte, len(attrData))
			copy(cp, attrData)
			attrs.Unknown[typeCode] = cp
		}
	}

	mergeAS4(attrs, as4Path, as4Aggregator)
	if dupErr != nil {
		return attrs, dupErr
	}
	return attrs, nil
}

// mergeAS4 applies RFC 6793 §4.2.3: when both AS_PATH and AS4_PATH are
// present, the new AS4_PATH segments replace the trailing
// min(len(AS4_PATH), len(AS_PATH)) segments of AS_PATH (segment-for-segment,
// not ASN-for-ASN, matching common implementation practice and the
// teacher's "is there a richer path available" precedence pattern from its
// MP_REACH-over-NEXT_HOP preference).
func mergeAS4(attrs *PathAttributes, as4Path *AsPath, as4Agg *Aggregator) {
	if attrs.Aggregator == nil && as4Agg != nil {
		attrs.Aggregator = as4Agg
	}
	if as4Path == nil || attrs.ASPath == nil {
		return
	}
	old := attrs.ASPath.Segments
	add := as4Path.Segments
	if len(add) >= len(old) {
		attrs.ASPath = as4Path
		return
	}
	merged := make([]Segment, 0, len(old))
	merged = append(merged, old[:len(old)-len(add)]...)
	merged = append(merged, add...)
	attrs.ASPath = &AsPath{Segments: merged}
}

// parseASPathAttr decodes AS_PATH/AS4_PATH segments. is4 selects 4-byte
// (RFC 6793) vs 2-byte (pre-RFC 6793) ASNs per segment member, mirroring
// internal/mrt/tabledumpv1.go's parseASPath2Byte for the legacy width.
func parseASPathAttr(data []byte, is4 bool) *AsPath {
	path := &AsPath{}
	c := wire.NewCursor(data)
	for c.Remaining() >= 2 {
		segType, _ := c.ReadU8()
		segLen, _ := c.ReadU8()
		asns := make([]ASN, 0, segLen)
		for i := 0; i < int(segLen); i++ {
			if is4 {
				v, err := c.ReadU32()
				if err != nil {
					return path
				}
				asns = append(asns, ASN{Value: v, Is4: true})
				continue
			}
			v, err := c.ReadU16()
			if err != nil {
				return path
			}
			asns = append(asns, ASN{Value: uint32(v), Is4: false})
		}
		path.Segments = append(path.Segments, Segment{Type: segType, ASNs: asns})
	}
	return path
}

func parseAggregator(data []byte, is4 bool) *Aggregator {
	if is4 && len(data) == 8 {
		return &Aggregator{ASN: ASN{Value: binary.BigEndian.Uint32(data[0:4]), Is4: true}, IP: net.IP(data[4:8]).To4()}
	}
	if !is4 && len(data) == 6 {
		return &Aggregator{ASN: ASN{Value: uint32(binary.BigEndian.Uint16(data[0:2])), Is4: false}, IP: net.IP(data[2:6]).To4()}
	}
	return nil
}

func parseFixedWidthCommunities(data []byte, width int, kind CommunityKind) []Community {
	var out []Community
	for i := 0; i+width <= len(data); i += width {
		raw := make([]byte, width)
		copy(raw, data[i:i+width])
		out = append(out, Community{Kind: kind, Raw: raw})
	}
	return out
}

func parseMPReachNLRI(data []byte, attrs *PathAttributes, hasAddPath bool) error {
	c := wire.NewCursor(data)
	afi, err := c.ReadU16()
	if err != nil {
		return err
	}
	safi, err := c.ReadU8()
	if err != nil {
		return err
	}
	attrs.MPReachAFI = afi
	attrs.MPReachSAFI = safi

	nhLen, err := c.ReadU8()
	if err != nil {
		return err
	}
	nhData, err := c.ReadN(int(nhLen))
	if err != nil {
		return err
	}
	switch len(nhData) {
	case 4:
		attrs.MPReachNextHop = net.IP(nhData).To4()
	case 16:
		ip := make(net.IP, 16)
		copy(ip, nhData)
		attrs.MPReachNextHop = ip
	case 32:
		// Global + link-local (RFC 2545); the global address is canonical.
		ip := make(net.IP, 16)
		copy(ip, nhData[:16])
		attrs.MPReachNextHop = ip
	}

	// SNPA: 1-byte count, then N x {1-byte length in semi-octets, value}.
	snpaCount, err := c.ReadU8()
	if err != nil {
		return err
	}
	for i := 0; i < int(snpaCount); i++ {
		snpaLen, err := c.ReadU8()
		if err != nil {
			return err
		}
		if err := c.Skip((int(snpaLen) + 1) / 2); err != nil {
			return err
		}
	}

	if safi != SAFIUnicast && safi != SAFIMulticast {
		return nil // other SAFIs (VPN, flowspec, ...) out of spec.md's scope
	}
	rest, err := c.ReadN(c.Remaining())
	if err != nil {
		return err
	}
	prefixes, err := parseNLRIPrefixes(rest, afi == AFIIPv6, hasAddPath)
	if err != nil {
		return err
	}
	attrs.MPAnnounced = prefixes
	return nil
}

func parseMPUnreachNLRI(data []byte, attrs *PathAttributes, hasAddPath bool) error {
	c := wire.NewCursor(data)
	afi, err := c.ReadU16()
	if err != nil {
		return err
	}
	safi, err := c.ReadU8()
	if err != nil {
		return err
	}
	attrs.MPUnreachAFI = afi
	attrs.MPUnreachSAFI = safi
	if safi != SAFIUnicast && safi != SAFIMulticast {
		return nil
	}
	rest, err := c.ReadN(c.Remaining())
	if err != nil {
		return err
	}
	prefixes, err := parseNLRIPrefixes(rest, afi == AFIIPv6, hasAddPath)
	if err != nil {
		return err
	}
	attrs.MPWithdrawn = prefixes
	return nil
}

// parseNLRIPrefixes parses a run of (optional path-id + length-prefixed
// value) NLRI entries, per RFC 4271 §4.3 and RFC 7911's ADD-PATH variant.
func parseNLRIPrefixes(data []byte, v6 bool, hasAddPath bool) ([]NetworkPrefix, error) {
	var out []NetworkPrefix
	c := wire.NewCursor(data)
	maxBits := 32
	if v6 {
		maxBits = 128
	}
	for c.Remaining() > 0 {
		var pathID *uint32
		if hasAddPath {
			v, err := c.ReadU32()
			if err != nil {
				return out, err
			}
			pathID = &v
		}
		length, canonical, err := c.ReadPrefix(maxBits)
		if err != nil {
			return out, err
		}
		out = append(out, NetworkPrefix{Bytes: canonical, Length: length, V6: v6, PathID: pathID})
	}
	return out, nil
}

// OriginASN extracts the origin AS number from an AsPath, returning nil
// when there is no unambiguous origin: the path is empty, ends in a
// confederation segment, consists only of AS_SET segments, or ends in an
// AS_SET with more than one member.
func OriginASN(path *AsPath) *ASN {
	if path == nil {
		return nil
	}
	origins := path.OriginASNs()
	if len(origins) != 1 {
		return nil
	}
	return &origins[0]
}
