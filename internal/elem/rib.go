package elem

import (
	"net"
	"time"

	"github.com/route-beacon/rib-ingester/internal/bgp"
	"github.com/route-beacon/rib-ingester/internal/mrt"
)

// ProjectRIB expands a TABLE_DUMP_V2 RIB_* record into one announce
// element per entry, resolving each entry's peer ordinal against peers
// (spec.md's peer-index invariant: an out-of-range ordinal surfaces
// InvalidPeerIndex, never a panic, and that entry alone is skipped).
func ProjectRIB(rec *mrt.RIBRecord, peers *mrt.PeerIndexTable) ([]BgpElem, []error) {
	var elems []BgpElem
	var errs []error
	for _, entry := range rec.Entries {
		peer, err := peers.Peer(entry.PeerIndex)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		var origin *uint8
		var localPref, med *uint32
		var asPath *bgp.AsPath
		var originASNs []bgp.ASN
		var communities []bgp.Community
		var nextHop net.IP
		if entry.Attrs != nil {
			nextHop = entry.Attrs.NextHop
			origin = entry.Attrs.Origin
			localPref = entry.Attrs.LocalPref
			med = entry.Attrs.MED
			asPath = entry.Attrs.ASPath
			if entry.Attrs.MPReachNextHop != nil {
				nextHop = entry.Attrs.MPReachNextHop
			}
			if asPath != nil {
				originASNs = asPath.OriginASNs()
			}
			communities = mergeCommunities(entry.Attrs)
		}
		elems = append(elems, BgpElem{
			Timestamp:  time.Unix(int64(entry.OriginatedAt), 0).UTC(),
			Type:       Announce,
			PeerIP:     peer.IP,
			PeerASN:    peer.ASN,
			Prefix:     withPathID(rec.Prefix, entry.PathID),
			NextHop:    nextHop,
			ASPath:     asPath,
			OriginASNs: originASNs,
			Origin:     origin,
			LocalPref:  localPref,
			MED:        med,
			Communities: communities,
		})
	}
	return elems, errs
}

func withPathID(p bgp.NetworkPrefix, pathID *uint32) bgp.NetworkPrefix {
	p.PathID = pathID
	return p
}
