package elem

import (
	"net"
	"time"

	"github.com/route-beacon/rib-ingester/internal/bgp"
	"github.com/route-beacon/rib-ingester/internal/mrt"
)

// updateGroupKey identifies one output BGP4MP_MESSAGE_AS4 record: elements
// sharing a (second-resolution timestamp, peer, direction, address family,
// attribute-set hash) all pack into a single UPDATE's NLRI or withdrawn
// list, mirroring how a real BGP speaker batches routes that share one
// best path's attributes into a single UPDATE instead of one per prefix.
type updateGroupKey struct {
	second   int64
	peerIP   string
	peerASN  uint32
	v6       bool
	withdraw bool
	attrHash [32]byte
}

type updateGroup struct {
	ts       time.Time
	peerIP   net.IP
	peerASN  bgp.ASN
	attrs    *bgp.PathAttributes
	prefixes []bgp.NetworkPrefix
}

// UpdatesWriter batches BgpElem values into BGP4MP_MESSAGE_AS4 MRT records
// — the encode-direction counterpart of Project, and the "Updates" sibling
// of mrt.RIBWriter for the live-message path rather than the periodic
// TABLE_DUMP_V2 snapshot path. It calls mrt.EncodeBGP4MP once per group.
type UpdatesWriter struct {
	LocalAS   bgp.ASN
	LocalIP   net.IP
	Interface uint16
}

// NewUpdatesWriter returns a writer that stamps every emitted BGP4MP record
// with the given local-side session identity. BgpElem only models the peer
// side of a route (spec.md §2's per-element fields); the BGP4MP envelope
// additionally carries the collector's own AS/IP/interface, which a decoded
// element has no way to recover, so the caller supplies it once up front.
func NewUpdatesWriter(localAS bgp.ASN, localIP net.IP, iface uint16) *UpdatesWriter {
	return &UpdatesWriter{LocalAS: localAS, LocalIP: localIP, Interface: iface}
}

// EncodeElements groups els by (second, peer, direction, address family,
// attribute set) and returns one encoded BGP4MP_MESSAGE_AS4 record per
// group, in first-seen-group order. Withdrawals use the legacy
// withdrawn-routes list for IPv4 unicast and MP_UNREACH_NLRI for IPv6;
// announcements use the legacy NLRI list or MP_REACH_NLRI the same way.
func (w *UpdatesWriter) EncodeElements(els []BgpElem) [][]byte {
	order := make([]updateGroupKey, 0, len(els))
	groups := make(map[updateGroupKey]*updateGroup, len(els))

	for _, e := range els {
		key := updateGroupKey{
			second:  e.Timestamp.Unix(),
			peerIP:  e.PeerIP.String(),
			peerASN: e.PeerASN.Value,
			v6:      e.Prefix.V6,
		}
		if e.Type == Withdraw {
			key.withdraw = true
		} else {
			key.attrHash = mrt.AttrSetKey(attrsFromElem(e).EncodeAttributes())
		}

		g, ok := groups[key]
		if !ok {
			g = &updateGroup{ts: e.Timestamp, peerIP: e.PeerIP, peerASN: e.PeerASN}
			if e.Type == Announce {
				g.attrs = attrsFromElem(e)
			}
			groups[key] = g
			order = append(order, key)
		}
		g.prefixes = append(g.prefixes, e.Prefix)
	}

	out := make([][]byte, 0, len(order))
	for _, key := range order {
		g := groups[key]
		u := &bgp.Update{}
		switch {
		case key.withdraw && key.v6:
			u.Attrs = &bgp.PathAttributes{
				MPUnreachAFI:  bgp.AFIIPv6,
				MPUnreachSAFI: bgp.SAFIUnicast,
				MPWithdrawn:   g.prefixes,
			}
		case key.withdraw:
			u.WithdrawnRoutes = g.prefixes
		case key.v6:
			g.attrs.MPAnnounced = g.prefixes
			u.Attrs = g.attrs
		default:
			u.NLRI = g.prefixes
			u.Attrs = g.attrs
		}
		msg := bgp.EncodeUpdate(u)
		out = append(out, mrt.EncodeBGP4MP(uint32(g.ts.Unix()), g.peerASN, w.LocalAS, w.Interface, g.peerIP, w.LocalIP, msg))
	}
	return out
}

// attrsFromElem reconstructs the shared PathAttributes view a group of
// elements with identical attributes was originally projected from — the
// inverse of Project's attribute flattening.
func attrsFromElem(e BgpElem) *bgp.PathAttributes {
	a := &bgp.PathAttributes{
		Origin:          e.Origin,
		ASPath:          e.ASPath,
		MED:             e.MED,
		LocalPref:       e.LocalPref,
		AtomicAggregate: e.AtomicAggregate,
		Aggregator:      e.Aggregator,
	}
	for _, c := range e.Communities {
		switch c.Kind {
		case bgp.CommunityStandard:
			a.Communities = append(a.Communities, c)
		case bgp.CommunityExtended, bgp.CommunityIPv6Extended:
			a.ExtComms = append(a.ExtComms, c)
		case bgp.CommunityLarge:
			a.LargeComms = append(a.LargeComms, c)
		}
	}
	if e.Prefix.V6 {
		a.MPReachNextHop = e.NextHop
		a.MPReachAFI = bgp.AFIIPv6
		a.MPReachSAFI = bgp.SAFIUnicast
	} else {
		a.NextHop = e.NextHop
	}
	return a
}
