package mrt

import (
	"net"

	"github.com/route-beacon/rib-ingester/internal/bgp"
	"github.com/route-beacon/rib-ingester/internal/wire"
)

// BGP4MPRecord is a decoded BGP4MP/BGP4MP_ET MESSAGE* record: the peer
// session identity plus the embedded BGP message bytes. Grounded on
// CSUNetSec-protoparse's bgp4mpHdrBuf.Parse, generalized to also accept
// the STATE_CHANGE subtype (decoded as OldState/NewState only, no BGP
// payload) per RFC 6396 §4.4.1.
type BGP4MPRecord struct {
	PeerAS    bgp.ASN
	LocalAS   bgp.ASN
	Interface uint16
	AFI       uint16
	PeerIP    net.IP
	LocalIP   net.IP

	// IsStateChange is true for SubtypeBGP4MPStateChange[AS4]; OldState/
	// NewState are then populated and BGPMessage is nil.
	IsStateChange bool
	OldState      uint16
	NewState      uint16

	BGPMessage []byte
}

// ParseBGP4MP decodes an MRT record payload whose header.Type is
// TypeBGP4MP or TypeBGP4MPET.
func ParseBGP4MP(hdr Header, payload []byte) (*BGP4MPRecord, error) {
	is4 := hdr.Subtype == SubtypeBGP4MPMessageAS4 || hdr.Subtype == SubtypeBGP4MPStateChangeAS4 || hdr.Subtype == SubtypeBGP4MPMessageAS4Local
	isStateChange := hdr.Subtype == SubtypeBGP4MPStateChange || hdr.Subtype == SubtypeBGP4MPStateChangeAS4

	c := wire.NewCursor(payload)
	rec := &BGP4MPRecord{IsStateChange: isStateChange}

	if is4 {
		peerAS, err := c.ReadU32()
		if err != nil {
			return nil, err
		}
		localAS, err := c.ReadU32()
		if err != nil {
			return nil, err
		}
		rec.PeerAS = bgp.ASN{Value: peerAS, Is4: true}
		rec.LocalAS = bgp.ASN{Value: localAS, Is4: true}
	} else {
		peerAS, err := c.ReadU16()
		if err != nil {
			return nil, err
		}
		localAS, err := c.ReadU16()
		if err != nil {
			return nil, err
		}
		rec.PeerAS = bgp.ASN{Value: uint32(peerAS), Is4: false}
		rec.LocalAS = bgp.ASN{Value: uint32(localAS), Is4: false}
	}

	iface, err := c.ReadU16()
	if err != nil {
		return nil, err
	}
	rec.Interface = iface

	afi, err := c.ReadU16()
	if err != nil {
		return nil, err
	}
	rec.AFI = afi

	v6 := afi == bgp.AFIIPv6
	peerIP, err := c.ReadIP(v6)
	if err != nil {
		return nil, err
	}
	localIP, err := c.ReadIP(v6)
	if err != nil {
		return nil, err
	}
	rec.PeerIP = peerIP
	rec.LocalIP = localIP

	if isStateChange {
		old, err := c.ReadU16()
		if err != nil {
			return nil, err
		}
		nw, err := c.ReadU16()
		if err != nil {
			return nil, err
		}
		rec.OldState, rec.NewState = old, nw
		return rec, nil
	}

	msg, err := c.ReadN(c.Remaining())
	if err != nil {
		return nil, err
	}
	rec.BGPMessage = msg
	return rec, nil
}
