// Package filter implements the closed filter engine (spec.md §4.9): a
// fixed set of predicates over elem.BgpElem, compiled once at startup and
// ANDed together during iteration. Grounded on CSUNetSec-protoparse's
// filter/mrtFilter.go — same Filter-func-slice/FilterAll AND-combinator
// shape, generalized from *mrt.MrtBufferStack predicates to BgpElem
// predicates and extended with the community/ts_start/ts_end/elem_type/
// ip_version predicates protoparse's filter set doesn't have.
package filter

import (
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/armon/go-radix"
	"github.com/pkg/errors"

	"github.com/route-beacon/rib-ingester/internal/elem"
)

// Predicate is one compiled filter, evaluated against a single element.
// Mirrors protoparse's `type Filter func(mbs *mrt.MrtBufferStack) bool`.
type Predicate func(e *elem.BgpElem) bool

// PrefixMode selects how the prefix filter matches relative to the
// compiled prefix set.
type PrefixMode uint8

const (
	// PrefixExact requires the element's prefix to equal one compiled
	// entry exactly (same address and mask length).
	PrefixExact PrefixMode = iota
	// PrefixSuper widens the match: the element's prefix may be a
	// super-prefix (shorter mask, covering) of a compiled entry.
	PrefixSuper
	// PrefixSub narrows the match: the element's prefix may be a
	// sub-prefix (longer mask, covered by) a compiled entry.
	PrefixSub
)

// Set is a compiled, ANDed collection of predicates. The zero Set matches
// every element (an empty AND is vacuously true), matching protoparse's
// FilterAll behavior on an empty/nil filter slice.
type Set struct {
	predicates []Predicate
}

// Len reports how many predicates are currently compiled into s.
func (s *Set) Len() int { return len(s.predicates) }

// Match runs every compiled predicate against e, short-circuiting on the
// first failure (protoparse's FilterAll).
func (s *Set) Match(e *elem.BgpElem) bool {
	for _, p := range s.predicates {
		if !p(e) {
			return false
		}
	}
	return true
}

// add appends a predicate, wrapping it in negation first if neg is set.
func (s *Set) add(neg bool, p Predicate) {
	if neg {
		inner := p
		p = func(e *elem.BgpElem) bool { return !inner(e) }
	}
	s.predicates = append(s.predicates, p)
}

// AddOriginASN compiles an origin_asn filter: matches when asn is present
// in the element's origin_asns.
func (s *Set) AddOriginASN(asn uint32, negate bool) {
	s.add(negate, func(e *elem.BgpElem) bool {
		for _, o := range e.OriginASNs {
			if o.Value == asn {
				return true
			}
		}
		return false
	})
}

// AddPeerASN compiles a peer_asn filter.
func (s *Set) AddPeerASN(asn uint32, negate bool) {
	s.add(negate, func(e *elem.BgpElem) bool { return e.PeerASN.Value == asn })
}

// AddPeerIP compiles a peer_ip filter. raw must parse as an IP address;
// compilation failures surface immediately, per spec.md's "surfaced as
// typed errors at add-time, not at iterate-time".
func (s *Set) AddPeerIP(raw string, negate bool) error {
	ip := net.ParseIP(raw)
	if ip == nil {
		return errors.Errorf("filter: malformed peer_ip address %q", raw)
	}
	s.add(negate, func(e *elem.BgpElem) bool { return e.PeerIP.Equal(ip) })
	return nil
}

// AddPrefix compiles a prefix filter over one or more CIDR strings
// (comma-separated, matching protoparse's NewPrefixFilterFromString
// sep-split convention), in mode.
func (s *Set) AddPrefix(raw string, mode PrefixMode, negate bool) error {
	cidrs := strings.Split(raw, ",")
	tree := radix.New()
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			return errors.Wrapf(err, "filter: malformed prefix %q", c)
		}
		tree.Insert(prefixKey(ipnet.IP, ipnet), struct{}{})
	}

	match := func(e *elem.BgpElem) bool {
		key := prefixKeyFromElem(e)
		switch mode {
		case PrefixExact:
			_, ok := tree.Get(key)
			return ok
		case PrefixSuper:
			// The element's prefix is a super-prefix of (covers) some
			// compiled entry: any compiled key that has `key` as a prefix.
			found := false
			tree.WalkPrefix(key, func(string, interface{}) bool {
				found = true
				return true
			})
			return found
		case PrefixSub:
			// The element's prefix is a sub-prefix of (covered by) some
			// compiled entry: walk key's own prefixes in the tree.
			_, _, ok := tree.LongestPrefix(key)
			return ok
		}
		return false
	}
	s.add(negate, match)
	return nil
}

// prefixKey renders an IP/mask pair as the bitstring radix.Tree keys on,
// so prefix containment reduces to trie prefix-walks instead of per-entry
// CIDR arithmetic — grounded on protoparse's util.PrefixTree concept, but
// against go-radix's real published tree rather than a hand-rolled one.
func prefixKey(ip net.IP, ipnet *net.IPNet) string {
	ones, _ := ipnet.Mask.Size()
	return bitString(ip, ones)
}

func prefixKeyFromElem(e *elem.BgpElem) string {
	return bitString(e.Prefix.IP(), e.Prefix.Length)
}

func bitString(ip net.IP, bits int) string {
	v4 := ip.To4()
	var b []byte
	if v4 != nil {
		b = v4
	} else {
		b = ip.To16()
	}
	var sb strings.Builder
	for i := 0; i < bits && i < len(b)*8; i++ {
		byteIdx, bitIdx := i/8, 7-i%8
		if b[byteIdx]&(1<<uint(bitIdx)) != 0 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// AddElemType compiles an elem_type filter; want is "announce" or
// "withdraw".
func (s *Set) AddElemType(want string, negate bool) error {
	var t elem.Type
	switch strings.ToLower(want) {
	case "announce":
		t = elem.Announce
	case "withdraw":
		t = elem.Withdraw
	default:
		return errors.Errorf("filter: unknown elem_type %q (want announce|withdraw)", want)
	}
	s.add(negate, func(e *elem.BgpElem) bool { return e.Type == t })
	return nil
}

// AddIPVersion compiles an ip_version filter; want is 4 or 6.
func (s *Set) AddIPVersion(want int, negate bool) error {
	if want != 4 && want != 6 {
		return errors.Errorf("filter: unsupported ip_version %d (want 4 or 6)", want)
	}
	s.add(negate, func(e *elem.BgpElem) bool { return e.IPVersion() == want })
	return nil
}

// AddTimestampStart compiles ts_start: elements at or after t. Per
// spec.md, ts_start/ts_end cannot be negated.
func (s *Set) AddTimestampStart(t time.Time) {
	s.predicates = append(s.predicates, func(e *elem.BgpElem) bool { return !e.Timestamp.Before(t) })
}

// AddTimestampEnd compiles ts_end: elements at or before t.
func (s *Set) AddTimestampEnd(t time.Time) {
	s.predicates = append(s.predicates, func(e *elem.BgpElem) bool { return !e.Timestamp.After(t) })
}

// AddASPath compiles an as_path filter: pattern is a regular expression
// matched against the space-joined ASN string of the path (AsPath.String).
func (s *Set) AddASPath(pattern string, negate bool) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return errors.Wrapf(err, "filter: bad as_path regex %q", pattern)
	}
	s.add(negate, func(e *elem.BgpElem) bool {
		if e.ASPath == nil {
			return false
		}
		return re.MatchString(e.ASPath.String())
	})
	return nil
}

// AddCommunity compiles a community filter: substring matches over the
// canonical string form of any community attached to the element.
func (s *Set) AddCommunity(substr string, negate bool) {
	s.add(negate, func(e *elem.BgpElem) bool {
		for _, c := range e.Communities {
			if strings.Contains(c.String(), substr) {
				return true
			}
		}
		return false
	})
}

// Compile builds a Set from a list of "key=value" filter-spec strings (an
// optional leading "!" negates), the form internal/config's
// ingest.filters entries and cmd/ribingest's --filter flag both use.
// Recognized keys: origin_asn, peer_asn, peer_ip, prefix, prefix_super,
// prefix_sub, elem_type, ip_version, ts_start, ts_end, as_path, community.
// Compilation failures are returned immediately rather than discovered
// only once elements start flowing through Match.
func Compile(specs []string) (*Set, error) {
	s := &Set{}
	for _, spec := range specs {
		key, value, negate, err := splitSpec(spec)
		if err != nil {
			return nil, err
		}
		switch key {
		case "origin_asn":
			asn, err := ParseUint32(value)
			if err != nil {
				return nil, err
			}
			s.AddOriginASN(asn, negate)
		case "peer_asn":
			asn, err := ParseUint32(value)
			if err != nil {
				return nil, err
			}
			s.AddPeerASN(asn, negate)
		case "peer_ip":
			if err := s.AddPeerIP(value, negate); err != nil {
				return nil, err
			}
		case "prefix":
			if err := s.AddPrefix(value, PrefixExact, negate); err != nil {
				return nil, err
			}
		case "prefix_super":
			if err := s.AddPrefix(value, PrefixSuper, negate); err != nil {
				return nil, err
			}
		case "prefix_sub":
			if err := s.AddPrefix(value, PrefixSub, negate); err != nil {
				return nil, err
			}
		case "elem_type":
			if err := s.AddElemType(value, negate); err != nil {
				return nil, err
			}
		case "ip_version":
			v, err := strconv.Atoi(value)
			if err != nil {
				return nil, errors.Wrapf(err, "filter: bad ip_version %q", value)
			}
			if err := s.AddIPVersion(v, negate); err != nil {
				return nil, err
			}
		case "ts_start":
			t, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return nil, errors.Wrapf(err, "filter: bad ts_start %q", value)
			}
			s.AddTimestampStart(t)
		case "ts_end":
			t, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return nil, errors.Wrapf(err, "filter: bad ts_end %q", value)
			}
			s.AddTimestampEnd(t)
		case "as_path":
			if err := s.AddASPath(value, negate); err != nil {
				return nil, err
			}
		case "community":
			s.AddCommunity(value, negate)
		default:
			return nil, errors.Errorf("filter: unknown filter key %q in spec %q", key, spec)
		}
	}
	return s, nil
}

func splitSpec(spec string) (key, value string, negate bool, err error) {
	if strings.HasPrefix(spec, "!") {
		negate = true
		spec = spec[1:]
	}
	idx := strings.Index(spec, "=")
	if idx < 0 {
		return "", "", false, errors.Errorf("filter: malformed filter spec %q (want key=value)", spec)
	}
	return spec[:idx], spec[idx+1:], negate, nil
}

// ParseUint32 is a small helper for CLI/config callers turning a decimal
// ASN string into the uint32 AddOriginASN/AddPeerASN expect, surfacing a
// wrapped error in the same style as the rest of this package's
// compile-time failures.
func ParseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "filter: bad integer %q", s)
	}
	return uint32(v), nil
}
