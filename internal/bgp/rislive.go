package bgp

import (
	"encoding/json"
	"net"
	"strconv"
	"strings"

	"github.com/route-beacon/rib-ingester/internal/wire"
)

// RISLiveMessage is the decoded form of a RIPE RIS Live WebSocket frame's
// outer envelope, spec.md §6: an object with type "ris_message" and a
// data sub-object. Only the UPDATE variant of data.type carries route
// data; OPEN/NOTIFICATION/KEEPALIVE/RIS_PEER_STATE are state-transition
// notices the caller can pass through without projecting to elements.
type RISLiveMessage struct {
	Type string      `json:"type"`
	Data RISLiveData `json:"data"`
}

// RISLiveData is the RIS Live "data" sub-object.
type RISLiveData struct {
	Timestamp     float64               `json:"timestamp"`
	Peer          string                `json:"peer"`
	PeerASN       string                `json:"peer_asn"`
	ID            string                `json:"id"`
	Type          string                `json:"type"` // UPDATE, OPEN, NOTIFICATION, KEEPALIVE, RIS_PEER_STATE
	Host          string                `json:"host"`
	Announcements []RISLiveAnnouncement `json:"announcements"`
	Withdrawals   []string              `json:"withdrawals"`
	Path          []json.RawMessage     `json:"path"` // mixed int / []int (AS_SET) entries
	Community     [][2]int64            `json:"community"`
	Origin        string                `json:"origin"`
	MED           *uint32               `json:"med"`
	LocalPref     *uint32               `json:"local_pref"`
}

// RISLiveAnnouncement groups one next-hop with the prefixes reached
// through it, per spec.md §6's "announcements (list of {next_hop,
// prefixes})".
type RISLiveAnnouncement struct {
	NextHop  string   `json:"next_hop"`
	Prefixes []string `json:"prefixes"`
}

// ParseRISLive decodes one RIS Live JSON frame into an Update carrying the
// same PathAttributes shape the binary decoders produce, so downstream
// code (internal/elem.Project) treats RIS Live and MRT/BMP input
// identically regardless of wire origin.
func ParseRISLive(raw []byte) (*RISLiveMessage, *Update, error) {
	var msg RISLiveMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, nil, wire.NewErrorf(wire.CorruptedBgpMessage, "ris_live json: %v", err)
	}
	if msg.Data.Type != "UPDATE" {
		return &msg, nil, nil
	}

	attrs := &PathAttributes{Unknown: map[uint8][]byte{}, OrigFlags: map[uint8]uint8{}}
	if msg.Data.Origin != "" {
		for code, name := range OriginValues {
			if name == msg.Data.Origin {
				c := code
				attrs.Origin = &c
			}
		}
	}
	attrs.MED = msg.Data.MED
	attrs.LocalPref = msg.Data.LocalPref
	if path := parseRISLivePath(msg.Data.Path); path != nil {
		attrs.ASPath = path
	}
	for _, c := range msg.Data.Community {
		raw := make([]byte, 4)
		raw[0] = byte(c[0] >> 8)
		raw[1] = byte(c[0])
		raw[2] = byte(c[1] >> 8)
		raw[3] = byte(c[1])
		attrs.Communities = append(attrs.Communities, Community{Kind: CommunityStandard, Raw: raw})
	}

	var nlri []NetworkPrefix
	for _, ann := range msg.Data.Announcements {
		nh := net.ParseIP(ann.NextHop)
		for _, p := range ann.Prefixes {
			np, err := parseCIDRPrefix(p)
			if err != nil {
				continue
			}
			nlri = append(nlri, np)
		}
		if nh != nil {
			if nh.To4() != nil {
				attrs.NextHop = nh.To4()
			} else {
				attrs.MPReachNextHop = nh
			}
		}
	}

	var withdrawn []NetworkPrefix
	for _, p := range msg.Data.Withdrawals {
		np, err := parseCIDRPrefix(p)
		if err != nil {
			continue
		}
		withdrawn = append(withdrawn, np)
	}

	return &msg, &Update{WithdrawnRoutes: withdrawn, NLRI: nlri, Attrs: attrs}, nil
}

func parseCIDRPrefix(s string) (NetworkPrefix, error) {
	ip, ipnet, err := net.ParseCIDR(s)
	if err != nil {
		return NetworkPrefix{}, err
	}
	ones, _ := ipnet.Mask.Size()
	v6 := ip.To4() == nil
	width := 4
	if v6 {
		width = 16
	}
	b := make([]byte, width)
	if v6 {
		copy(b, ipnet.IP.To16())
	} else {
		copy(b, ipnet.IP.To4())
	}
	return NetworkPrefix{Bytes: b, Length: ones, V6: v6}, nil
}

// parseRISLivePath decodes RIS Live's mixed path array: plain numbers are
// AS_SEQUENCE hops, nested arrays are AS_SET segments (RIS Live flattens
// confederation handling upstream, so this package only sees SET/SEQUENCE).
func parseRISLivePath(path []json.RawMessage) *AsPath {
	if len(path) == 0 {
		return nil
	}
	ap := &AsPath{}
	var seq []ASN
	flushSeq := func() {
		if len(seq) > 0 {
			ap.Segments = append(ap.Segments, Segment{Type: ASPathSegmentSequence, ASNs: seq})
			seq = nil
		}
	}
	for _, raw := range path {
		s := strings.TrimSpace(string(raw))
		if strings.HasPrefix(s, "[") {
			flushSeq()
			var set []int64
			if err := json.Unmarshal(raw, &set); err != nil {
				continue
			}
			asns := make([]ASN, len(set))
			for i, v := range set {
				asns[i] = ASN{Value: uint32(v), Is4: true}
			}
			ap.Segments = append(ap.Segments, Segment{Type: ASPathSegmentSet, ASNs: asns})
			continue
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		seq = append(seq, ASN{Value: uint32(v), Is4: true})
	}
	flushSeq()
	return ap
}
