package bmp

import "net"

// BMP message type codes (RFC 7854 ยง4.1).
const (
	MsgTypeRouteMonitoring  uint8 = 0
	MsgTypeStatisticsReport uint8 = 1
	MsgTypePeerDown         uint8 = 2
	MsgTypePeerUp           uint8 = 3
	MsgTypeInitiation       uint8 = 4
	MsgTypeTermination      uint8 = 5
	MsgTypeRouteMirroring   uint8 = 6
)

// BMP peer types (RFC 7854 ยง4.2, RFC 9069 ยง4.1).
const (
	PeerTypeGlobal uint8 = 0
	PeerTypeRD     uint8 = 1
	PeerTypeLocal  uint8 = 2
	PeerTypeLocRIB uint8 = 3 // RFC 9069
)

// Per-peer header flag bits (RFC 7854 ยง4.2, RFC 8671 ยง3, RFC 9069 ยง4.2).
// These are genuinely distinct bits of the single-octet peer_flags field;
// there is no "add-path" bit among them in any RFC — ADD-PATH use on a
// given session is conveyed out of band (via OPEN capability negotiation
// logged by the monitored router, or local config), never sniffed from
// this field. Callers that need per-message ADD-PATH awareness must pass
// it in explicitly, the same way internal/bgp.ParsePathAttributes does.
const (
	PeerFlagIPv6        uint8 = 0x80 // V-flag: peer address field is IPv6
	PeerFlagPostPolicy  uint8 = 0x40 // L-flag: post-policy Adj-RIB-In
	PeerFlagLegacyASPath uint8 = 0x20 // A-flag: peer uses 2-byte AS_PATH segments
	PeerFlagAdjRIBOut   uint8 = 0x10 // O-flag (RFC 8671): message reflects Adj-RIB-Out
	PeerFlagLocRIBFiltered uint8 = 0x08 // F-flag (RFC 9069 ยง4.2): Loc-RIB instance is filtered
)

// Header sizes.
const (
	CommonHeaderSize  = 6  // version(1) + msg_length(4) + msg_type(1)
	PerPeerHeaderSize = 42 // peer_type(1) + flags(1) + distinguisher(8) + addr(16) + AS(4) + BGPID(4) + ts_sec(4) + ts_usec(4)
)

// Information TLV type codes used in Initiation, Termination, Peer Up and
// Route Mirroring messages (RFC 7854 ยง4.4/4.10/4.9, RFC 9069 ยง4.3).
const (
	TLVTypeString    uint16 = 0 // free-form, also "Table Name" context in RFC 9069 Stats
	TLVTypeSysDescr  uint16 = 1
	TLVTypeSysName   uint16 = 2
	TLVTypeVRFTable  uint16 = 3 // RFC 9069: VRF/Table Name
	TLVTypeAdminLabel uint16 = 4
)

// Route Mirroring TLV type codes (RFC 7854 ยง4.7).
const (
	MirrorTLVBGPMessage  uint16 = 0
	MirrorTLVInformation uint16 = 1
)

// Peer Down Notification reason codes (RFC 7854 ยง4.9).
const (
	PeerDownReasonLocalNotification    uint8 = 1 // local system closed, NOTIFICATION follows
	PeerDownReasonLocalNoNotification  uint8 = 2 // local system closed, FSM event code follows
	PeerDownReasonRemoteNotification   uint8 = 3 // remote system closed, NOTIFICATION follows
	PeerDownReasonRemoteNoNotification uint8 = 4 // remote system closed, no data
	PeerDownReasonPeerDeConfigured     uint8 = 5 // peer de-configured, no data
)

// Statistics Report TLV type codes (RFC 7854 ยง4.8, RFC 9069 ยง4.4).
const (
	StatPrefixesRejected        uint16 = 0
	StatDuplicatePrefix         uint16 = 1
	StatDuplicateWithdraw       uint16 = 2
	StatInvalidClusterLoop      uint16 = 3
	StatInvalidAsPathLoop       uint16 = 4
	StatInvalidOriginatorID     uint16 = 5
	StatInvalidASConfedLoop     uint16 = 6
	StatAdjRIBInRoutes          uint16 = 7
	StatLocRIBRoutes            uint16 = 8
	StatPerAfiSafiAdjRIBInRoutes uint16 = 9
	StatPerAfiSafiLocRIBRoutes   uint16 = 10
	StatUpdatesTreatedAsWithdraw uint16 = 11
	StatPrefixesTreatedAsWithdraw uint16 = 12
	StatDuplicateUpdates        uint16 = 13
	StatLocRIBMarkedStale        uint16 = 14 // RFC 9069
	StatRoutesInPrePolicyAdjRIBOut  uint16 = 16
	StatRoutesInPostPolicyAdjRIBOut uint16 = 17
)

// BMPVersion is the only BMP protocol version this package understands.
const BMPVersion uint8 = 3

// CommonHeader is the 6-byte header prefixing every BMP message.
type CommonHeader struct {
	Version   uint8
	Length    uint32 // total message length, including this header
	MsgType   uint8
}

// PerPeerHeader is the 42-byte header prefixing Route Monitoring,
// Statistics Report, Peer Down, Peer Up and Route Mirroring messages.
type PerPeerHeader struct {
	PeerType      uint8
	PeerFlags     uint8
	Distinguisher uint64
	Address       net.IP
	ASN           uint32
	BGPIdentifier net.IP
	TimestampSec  uint32
	TimestampUsec uint32
}

func (h PerPeerHeader) IsIPv6() bool       { return h.PeerFlags&PeerFlagIPv6 != 0 }
func (h PerPeerHeader) IsPostPolicy() bool { return h.PeerFlags&PeerFlagPostPolicy != 0 }
func (h PerPeerHeader) IsLegacyASPath() bool { return h.PeerFlags&PeerFlagLegacyASPath != 0 }
func (h PerPeerHeader) IsAdjRIBOut() bool  { return h.PeerFlags&PeerFlagAdjRIBOut != 0 }
func (h PerPeerHeader) IsLocRIB() bool     { return h.PeerType == PeerTypeLocRIB }
func (h PerPeerHeader) IsLocRIBFiltered() bool {
	return h.IsLocRIB() && h.PeerFlags&PeerFlagLocRIBFiltered != 0
}

// TLV is a generic type-length-value element as used by Initiation,
// Termination, Peer Up and Route Mirroring messages; Statistics Report
// counters use the same type(2)+length(2)+value shape, decoded as Stat.
type TLV struct {
	Type  uint16
	Value []byte
}

// RouteMonitoring is a decoded Route Monitoring message (RFC 7854 ยง4.6):
// a per-peer header directly followed by one BGP UPDATE. RFC 9069 widens
// this to allow the encapsulated message to carry Loc-RIB semantics
// (End-of-RIB markers, stale marking) without changing the wire shape.
type RouteMonitoring struct {
	Peer       PerPeerHeader
	BGPMessage []byte
}

// StatisticsReport is a decoded Statistics Report message (RFC 7854 ยง4.8).
type StatisticsReport struct {
	Peer  PerPeerHeader
	Stats []Stat
}

// Stat is one counter TLV from a Statistics Report. Value is 4 or 8 bytes
// big-endian depending on the counter; AsUint64/AsUint32 interpret it.
type Stat struct {
	Type  uint16
	Value []byte
}

func (s Stat) AsUint32() uint32 {
	if len(s.Value) < 4 {
		return 0
	}
	return uint32(s.Value[0])<<24 | uint32(s.Value[1])<<16 | uint32(s.Value[2])<<8 | uint32(s.Value[3])
}

func (s Stat) AsUint64() uint64 {
	if len(s.Value) < 8 {
		return uint64(s.AsUint32())
	}
	var v uint64
	for _, b := range s.Value[:8] {
		v = v<<8 | uint64(b)
	}
	return v
}

// PeerDown is a decoded Peer Down Notification (RFC 7854 ยง4.9).
type PeerDown struct {
	Peer              PerPeerHeader
	Reason            uint8
	NotificationBytes []byte // reasons 1 and 3
	FSMEventCode      uint16 // reason 2
}

// PeerUp is a decoded Peer Up Notification (RFC 7854 ยง4.10, RFC 8671).
type PeerUp struct {
	Peer        PerPeerHeader
	LocalAddress net.IP
	LocalPort   uint16
	RemotePort  uint16
	SentOpen    []byte
	ReceivedOpen []byte
	TLVs        []TLV
}

// Initiation is a decoded Initiation message (RFC 7854 ยง4.3).
type Initiation struct {
	TLVs []TLV
}

// Termination is a decoded Termination message (RFC 7854 ยง4.5).
type Termination struct {
	TLVs []TLV
}

// RouteMirroring is a decoded Route Mirroring message (RFC 7854 ยง4.7).
type RouteMirroring struct {
	Peer PerPeerHeader
	TLVs []TLV
}

// Message is one fully-decoded BMP message: the common header plus
// exactly one of the typed bodies below, selected by Header.MsgType.
type Message struct {
	Header           CommonHeader
	RouteMonitoring  *RouteMonitoring
	StatisticsReport *StatisticsReport
	PeerDown         *PeerDown
	PeerUp           *PeerUp
	Initiation       *Initiation
	Termination      *Termination
	RouteMirroring   *RouteMirroring
}
