package bgp

import "github.com/route-beacon/rib-ingester/internal/wire"

// Capability codes this package recognizes, RFC 5492 + extensions.
const (
	CapMultiprotocol  uint8 = 1  // RFC 2858/4760
	CapRouteRefresh   uint8 = 2  // RFC 2918
	CapASN4           uint8 = 65 // RFC 6793
	CapAddPath        uint8 = 69 // RFC 7911
	CapExtendedMsg    uint8 = 6  // RFC 8654
	CapExtendedNextHop uint8 = 5 // RFC 8950
)

// AddPathDirection, RFC 7911 §4.
const (
	AddPathReceive uint8 = 1
	AddPathSend    uint8 = 2
	AddPathBoth    uint8 = 3
)

// Capability is one decoded OPEN optional-parameter capability (RFC 5492
// §4: 1-byte code, 1-byte length, value).
type Capability struct {
	Code  uint8
	Value []byte
}

// AddPathCapability is the decoded value of an ADD-PATH capability entry
// (RFC 7911 §4: 2-byte AFI, 1-byte SAFI, 1-byte send/receive).
type AddPathCapability struct {
	AFI       uint16
	SAFI      uint8
	Direction uint8
}

// Open is a decoded BGP OPEN message, RFC 4271 §4.2.
type Open struct {
	Version     uint8
	MyASN       uint16 // 2-byte ASN as carried in the fixed header; see ASN4 capability for the real ASN
	HoldTime    uint16
	BGPIdentifier []byte // 4 bytes
	Capabilities []Capability

	AddPath        []AddPathCapability
	ASN4           *uint32
	ExtendedMsg    bool
	MultiprotocolAFISAFI [][2]uint16 // packed AFI<<8|SAFI-adjacent pairs: [AFI, SAFI]
}

// ParseOpen decodes an OPEN payload (after the 19-byte header). It supports
// both the classic RFC 5492 optional-parameters encoding and RFC 9072's
// extended encoding (param type 255 wrapping a 2-byte length).
func ParseOpen(payload []byte) (*Open, error) {
	c := wire.NewCursor(payload)
	version, err := c.ReadU8()
	if err != nil {
		return nil, err
	}
	asn, err := c.ReadU16()
	if err != nil {
		return nil, err
	}
	hold, err := c.ReadU16()
	if err != nil {
		return nil, err
	}
	bgpID, err := c.ReadN(4)
	if err != nil {
		return nil, err
	}
	optLen, err := c.ReadU8()
	if err != nil {
		return nil, err
	}
	optData, err := c.ReadN(int(optLen))
	if err != nil {
		return nil, err
	}

	o := &Open{Version: version, MyASN: asn, HoldTime: hold, BGPIdentifier: append([]byte(nil), bgpID...)}
	if err := parseOptionalParams(optData, o); err != nil {
		return nil, err
	}
	return o, nil
}

func parseOptionalParams(data []byte, o *Open) error {
	c := wire.NewCursor(data)
	for c.Remaining() > 0 {
		paramType, err := c.ReadU8()
		if err != nil {
			return err
		}

		var paramLen int
		if paramType == 255 {
			// RFC 9072: extended length, real type + 2-byte length follow.
			realType, err := c.ReadU8()
			if err != nil {
				return err
			}
			l, err := c.ReadU16()
			if err != nil {
				return err
			}
			paramType = realType
			paramLen = int(l)
		} else {
			l, err := c.ReadU8()
			if err != nil {
				return err
			}
			paramLen = int(l)
		}

		paramData, err := c.ReadN(paramLen)
		if err != nil {
			return err
		}
		if paramType != 2 { // 2 = Capabilities (RFC 5492 §3)
			continue
		}
		if err := parseCapabilities(paramData, o); err != nil {
			return err
		}
	}
	return nil
}

func parseCapabilities(data []byte, o *Open) error {
	c := wire.NewCursor(data)
	for c.Remaining() > 0 {
		code, err := c.ReadU8()
		if err != nil {
			return err
		}
		length, err := c.ReadU8()
		if err != nil {
			return err
		}
		value, err := c.ReadN(int(length))
		if err != nil {
			return err
		}
		o.Capabilities = append(o.Capabilities, Capability{Code: code, Value: append([]byte(nil), value...)})

		switch code {
		case CapASN4:
			if len(value) == 4 {
				v := uint32(value[0])<<24 | uint32(value[1])<<16 | uint32(value[2])<<8 | uint32(value[3])
				o.ASN4 = &v
			}
		case CapExtendedMsg:
			o.ExtendedMsg = true
		case CapAddPath:
			vc := wire.NewCursor(value)
			for vc.Remaining() >= 4 {
				afi, _ := vc.ReadU16()
				safi, _ := vc.ReadU8()
				dir, _ := vc.ReadU8()
				o.AddPath = append(o.AddPath, AddPathCapability{AFI: afi, SAFI: safi, Direction: dir})
			}
		case CapMultiprotocol:
			if len(value) == 4 {
				afi := uint16(value[0])<<8 | uint16(value[1])
				safi := uint16(value[3])
				o.MultiprotocolAFISAFI = append(o.MultiprotocolAFISAFI, [2]uint16{afi, safi})
			}
		}
	}
	return nil
}

// NegotiatedAddPath reports whether the peer advertised ADD-PATH receive
// capability for the given AFI/SAFI — the condition spec.md requires
// before a decoder may assume NLRI entries carry a path identifier.
func (o *Open) NegotiatedAddPath(afi uint16, safi uint8) bool {
	for _, cap := range o.AddPath {
		if cap.AFI == afi && cap.SAFI == safi && (cap.Direction == AddPathReceive || cap.Direction == AddPathBoth) {
			return true
		}
	}
	return false
}
