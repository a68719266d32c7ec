package bgp

import (
	"github.com/route-beacon/rib-ingester/internal/wire"
)

// ParseUpdate decodes a full BGP message buffer (including the 19-byte
// header) into an Update, generalizing the teacher's ParseUpdate. It
// returns (nil, nil) for any message type other than UPDATE so callers can
// dispatch a BMP/MRT BGP4MP payload without a separate type check first.
// asnIs4 must reflect the ASN width the embedding context uses (BMP and
// BGP4MP_MESSAGE_AS4 are always 4-byte; a legacy BGP4MP_MESSAGE record is
// 2-byte — see BGP4MPRecord.PeerAS.Is4) since AS_PATH's wire width isn't
// self-describing within the UPDATE itself.
func ParseUpdate(data []byte, hasAddPath bool, asnIs4 bool) (*Update, error) {
	hdr, payload, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	if hdr.Type != MsgTypeUpdate {
		return nil, nil
	}
	return parseUpdatePayload(payload, hasAddPath, asnIs4)
}

func parseUpdatePayload(data []byte, hasAddPath bool, asnIs4 bool) (*Update, error) {
	c := wire.NewCursor(data)

	withdrawnLen, err := c.ReadU16()
	if err != nil {
		return nil, err
	}
	withdrawnRaw, err := c.ReadN(int(withdrawnLen))
	if err != nil {
		return nil, err
	}
	withdrawn, err := parseNLRIPrefixes(withdrawnRaw, false, hasAddPath)
	if err != nil {
		return nil, err
	}

	totalAttrLen, err := c.ReadU16()
	if err != nil {
		return nil, err
	}
	attrRaw, err := c.ReadN(int(totalAttrLen))
	if err != nil {
		return nil, err
	}
	attrs, attrErr := ParsePathAttributes(attrRaw, hasAddPath, asnIs4)
	// DuplicateAttribute is non-fatal: the duplicate occurrence is already
	// discarded by ParsePathAttributes, and attrs reflects the survivors,
	// so decoding continues and the error is only reported alongside the
	// otherwise-valid Update. Any other error means the attribute stream
	// itself desynced and the whole UPDATE is unusable.
	if attrErr != nil {
		if kind, ok := wire.KindOf(attrErr); !ok || kind != wire.DuplicateAttribute {
			return nil, attrErr
		}
	}

	nlriRaw, err := c.ReadN(c.Remaining())
	if err != nil {
		return nil, err
	}
	nlri, err := parseNLRIPrefixes(nlriRaw, false, hasAddPath)
	if err != nil {
		return nil, err
	}

	// Merge MP_REACH/MP_UNREACH NLRI into the legacy-shaped withdraw/announce
	// lists so callers (principally internal/elem) see one unified view,
	// matching the teacher's approach of emitting one RouteEvent stream
	// across both legacy and MP NLRI sources.
	if len(attrs.MPAnnounced) > 0 {
		nlri = append(nlri, attrs.MPAnnounced...)
	}
	if len(attrs.MPWithdrawn) > 0 {
		withdrawn = append(withdrawn, attrs.MPWithdrawn...)
	}

	return &Update{WithdrawnRoutes: withdrawn, NLRI: nlri, Attrs: attrs}, attrErr
}

// DetectEORAFI reports the AFI/SAFI of an End-of-RIB marker, defaulting to
// IPv4 unicast for a message with empty withdrawn/attrs/NLRI sections (RFC
// 4724 §2), or extracting it from an MP_UNREACH_NLRI-only UPDATE.
func DetectEORAFI(data []byte) uint16 {
	hdr, payload, err := ReadHeader(data)
	if err != nil || hdr.Type != MsgTypeUpdate {
		return 0
	}
	u, _ := parseUpdatePayload(payload, false, true)
	if u == nil {
		return 0
	}
	if u.Attrs != nil && u.Attrs.MPUnreachAFI != 0 {
		return u.Attrs.MPUnreachAFI
	}
	if len(u.WithdrawnRoutes) == 0 && len(u.NLRI) == 0 {
		return AFIIPv4
	}
	return 0
}
