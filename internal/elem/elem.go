// Package elem implements the elementor (spec.md §4.8): it projects one
// decoded BGP UPDATE, together with the peer/timestamp context carried by
// its enclosing MRT or BMP record, into a flat sequence of self-contained
// per-prefix BgpElem values — the shape consumers actually want to filter,
// aggregate, or re-encode.
package elem

import (
	"net"
	"time"

	"github.com/route-beacon/rib-ingester/internal/bgp"
)

// Type distinguishes an announcement from a withdrawal.
type Type uint8

const (
	Announce Type = iota
	Withdraw
)

func (t Type) String() string {
	if t == Withdraw {
		return "withdraw"
	}
	return "announce"
}

// BgpElem is a self-contained per-prefix view of one UPDATE, per spec.md
// §2 ("timestamp, elem_type, peer_ip, peer_asn, prefix, next_hop, as_path,
// origin_asns, origin, local_pref, med, communities, atomic, aggregator").
// Pointer/slice fields alias the source Update's PathAttributes rather
// than deep-copying them — every element from the same UPDATE shares one
// clone-on-write view of its attribute set, cheap to produce even when a
// single announcement carries thousands of prefixes.
type BgpElem struct {
	Timestamp  time.Time
	Type       Type
	PeerIP     net.IP
	PeerASN    bgp.ASN
	Prefix     bgp.NetworkPrefix
	NextHop    net.IP
	ASPath     *bgp.AsPath
	OriginASNs []bgp.ASN
	Origin     *uint8
	LocalPref  *uint32
	MED        *uint32
	// Communities merges Standard, Extended, IPv6-Extended and Large
	// communities into one slice; C9's community filter matches
	// Community.String() regardless of encoding, so callers never need to
	// know which wire form a given community used.
	Communities     []bgp.Community
	AtomicAggregate bool
	Aggregator      *bgp.Aggregator
}

// PeerContext is the per-record context the enclosing MRT/BMP envelope
// supplies — Project has no way to derive timestamp or peer identity from
// the UPDATE bytes alone.
type PeerContext struct {
	Timestamp time.Time
	PeerIP    net.IP
	PeerASN   bgp.ASN
}

// Options controls Project's End-of-RIB handling.
type Options struct {
	// IncludeEndOfRIB, if true, emits an End-of-RIB marker UPDATE as a
	// zero-length element slice is still returned — Project never
	// fabricates a synthetic element for it either way; setting this only
	// suppresses the implicit detection/skip, left for callers that want
	// to detect EOR themselves via Update.IsEndOfRIB.
	IncludeEndOfRIB bool
}

// Project expands u into its constituent BgpElem values, in on-wire order:
// announcements (NLRI, including MP_REACH-merged entries) first, then
// withdrawals (WithdrawnRoutes, including MP_UNREACH-merged entries),
// matching spec.md §5's ordering invariant.
func Project(u *bgp.Update, ctx PeerContext, opts Options) []BgpElem {
	if u == nil {
		return nil
	}
	if !opts.IncludeEndOfRIB && isEndOfRIB(u) {
		return nil
	}

	var origin *uint8
	var localPref, med *uint32
	var asPath *bgp.AsPath
	var originASNs []bgp.ASN
	var communities []bgp.Community
	var atomic bool
	var aggregator *bgp.Aggregator
	nextHop := net.IP(nil)

	if u.Attrs != nil {
		origin = u.Attrs.Origin
		localPref = u.Attrs.LocalPref
		med = u.Attrs.MED
		asPath = u.Attrs.ASPath
		atomic = u.Attrs.AtomicAggregate
		aggregator = u.Attrs.Aggregator
		if asPath != nil {
			originASNs = asPath.OriginASNs()
		}
		communities = mergeCommunities(u.Attrs)
		// MP_REACH's next hop overrides attribute 3 (spec.md §4.8).
		if u.Attrs.MPReachNextHop != nil {
			nextHop = u.Attrs.MPReachNextHop
		} else {
			nextHop = u.Attrs.NextHop
		}
	}

	elems := make([]BgpElem, 0, len(u.NLRI)+len(u.WithdrawnRoutes))
	for _, p := range u.NLRI {
		elems = append(elems, BgpElem{
			Timestamp:       ctx.Timestamp,
			Type:            Announce,
			PeerIP:          ctx.PeerIP,
			PeerASN:         ctx.PeerASN,
			Prefix:          p,
			NextHop:         nextHop,
			ASPath:          asPath,
			OriginASNs:      originASNs,
			Origin:          origin,
			LocalPref:       localPref,
			MED:             med,
			Communities:     communities,
			AtomicAggregate: atomic,
			Aggregator:      aggregator,
		})
	}
	for _, p := range u.WithdrawnRoutes {
		elems = append(elems, BgpElem{
			Timestamp: ctx.Timestamp,
			Type:      Withdraw,
			PeerIP:    ctx.PeerIP,
			PeerASN:   ctx.PeerASN,
			Prefix:    p,
		})
	}
	return elems
}

func mergeCommunities(a *bgp.PathAttributes) []bgp.Community {
	if len(a.Communities) == 0 && len(a.ExtComms) == 0 && len(a.LargeComms) == 0 {
		return nil
	}
	out := make([]bgp.Community, 0, len(a.Communities)+len(a.ExtComms)+len(a.LargeComms))
	out = append(out, a.Communities...)
	out = append(out, a.ExtComms...)
	out = append(out, a.LargeComms...)
	return out
}

func isEndOfRIB(u *bgp.Update) bool {
	return u.IsEndOfRIB(bgp.AFIIPv4, bgp.SAFIUnicast) ||
		u.IsEndOfRIB(bgp.AFIIPv6, bgp.SAFIUnicast) ||
		u.IsEndOfRIB(bgp.AFIIPv4, bgp.SAFIMulticast) ||
		u.IsEndOfRIB(bgp.AFIIPv6, bgp.SAFIMulticast)
}

// IPVersion returns 4 or 6 for e's prefix family, the value the C9
// ip_version filter matches against.
func (e BgpElem) IPVersion() int {
	if e.Prefix.V6 {
		return 6
	}
	return 4
}
