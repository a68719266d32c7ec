package bmp

import (
	"encoding/binary"

	"github.com/route-beacon/rib-ingester/internal/wire"
)

// Parse decodes exactly one BMP message from the front of data. data may
// contain trailing bytes belonging to a subsequent message; use ParseAll
// to decode an entire concatenated stream (the shape a single goBMP TCP
// read, and therefore a single Kafka record, commonly takes).
func Parse(data []byte) (*Message, int, error) {
	hdr, body, err := ParseCommonHeader(data)
	if err != nil {
		return nil, 0, err
	}
	msg := &Message{Header: hdr}

	switch hdr.MsgType {
	case MsgTypeRouteMonitoring:
		rm, err := parseRouteMonitoring(body)
		if err != nil {
			return nil, 0, err
		}
		msg.RouteMonitoring = rm
	case MsgTypeStatisticsReport:
		sr, err := parseStatisticsReport(body)
		if err != nil {
			return nil, 0, err
		}
		msg.StatisticsReport = sr
	case MsgTypePeerDown:
		pd, err := parsePeerDown(body)
		if err != nil {
			return nil, 0, err
		}
		msg.PeerDown = pd
	case MsgTypePeerUp:
		pu, err := parsePeerUp(body)
		if err != nil {
			return nil, 0, err
		}
		msg.PeerUp = pu
	case MsgTypeInitiation:
		msg.Initiation = &Initiation{TLVs: parseTLVs(body)}
	case MsgTypeTermination:
		msg.Termination = &Termination{TLVs: parseTLVs(body)}
	case MsgTypeRouteMirroring:
		rmi, err := parseRouteMirroring(body)
		if err != nil {
			return nil, 0, err
		}
		msg.RouteMirroring = rmi
	default:
		return nil, 0, wire.NewErrorf(wire.UnknownBgpMessageType, "bmp: unknown message type %d", hdr.MsgType)
	}

	return msg, int(hdr.Length), nil
}

// ParseAll decodes every BMP message concatenated in data, stopping at the
// first decode failure (which it returns alongside whatever messages
// decoded successfully before it), since a malformed message invalidates
// the framing needed to locate the next one.
func ParseAll(data []byte) ([]*Message, error) {
	var msgs []*Message
	off := 0
	for off < len(data) {
		msg, consumed, err := Parse(data[off:])
		if err != nil {
			return msgs, err
		}
		msgs = append(msgs, msg)
		off += consumed
	}
	return msgs, nil
}

func parseRouteMonitoring(data []byte) (*RouteMonitoring, error) {
	peer, rest, err := ParsePerPeerHeader(data)
	if err != nil {
		return nil, err
	}
	return &RouteMonitoring{Peer: peer, BGPMessage: rest}, nil
}

func parseStatisticsReport(data []byte) (*StatisticsReport, error) {
	peer, rest, err := ParsePerPeerHeader(data)
	if err != nil {
		return nil, err
	}
	if len(rest) < 4 {
		return nil, wire.NewErrorf(wire.TruncatedMessage, "stats report missing stats_count (%d bytes)", len(rest))
	}
	_ = binary.BigEndian.Uint32(rest[0:4]) // stats_count; trust the TLV framing over a stale count
	stats := parseStats(rest[4:])
	return &StatisticsReport{Peer: peer, Stats: stats}, nil
}

func parsePeerDown(data []byte) (*PeerDown, error) {
	peer, rest, err := ParsePerPeerHeader(data)
	if err != nil {
		return nil, err
	}
	if len(rest) < 1 {
		return nil, wire.NewErrorf(wire.TruncatedMessage, "peer down missing reason byte")
	}
	pd := &PeerDown{Peer: peer, Reason: rest[0]}
	switch rest[0] {
	case PeerDownReasonLocalNotification, PeerDownReasonRemoteNotification:
		pd.NotificationBytes = rest[1:]
	case PeerDownReasonLocalNoNotification:
		if len(rest) >= 3 {
			pd.FSMEventCode = binary.BigEndian.Uint16(rest[1:3])
		}
	}
	return pd, nil
}

func parsePeerUp(data []byte) (*PeerUp, error) {
	peer, rest, err := ParsePerPeerHeader(data)
	if err != nil {
		return nil, err
	}
	if len(rest) < 20 {
		return nil, wire.NewErrorf(wire.TruncatedMessage, "peer up too short for local address/ports (%d bytes)", len(rest))
	}
	pu := &PeerUp{Peer: peer}
	if peer.PeerFlags&PeerFlagIPv6 != 0 {
		pu.LocalAddress = append([]byte(nil), rest[0:16]...)
	} else {
		pu.LocalAddress = ipv4FromBytes(rest[12:16])
	}
	pu.LocalPort = binary.BigEndian.Uint16(rest[16:18])
	pu.RemotePort = binary.BigEndian.Uint16(rest[18:20])
	rest = rest[20:]

	sentLen, err := bgpMessageLength(rest)
	if err != nil {
		return nil, err
	}
	if sentLen > len(rest) {
		return nil, wire.NewErrorf(wire.TruncatedMessage, "peer up sent-OPEN length %d exceeds remaining %d", sentLen, len(rest))
	}
	pu.SentOpen = rest[:sentLen]
	rest = rest[sentLen:]

	recvLen, err := bgpMessageLength(rest)
	if err != nil {
		return nil, err
	}
	if recvLen > len(rest) {
		return nil, wire.NewErrorf(wire.TruncatedMessage, "peer up received-OPEN length %d exceeds remaining %d", recvLen, len(rest))
	}
	pu.ReceivedOpen = rest[:recvLen]
	rest = rest[recvLen:]

	pu.TLVs = parseTLVs(rest)
	return pu, nil
}

func parseRouteMirroring(data []byte) (*RouteMirroring, error) {
	peer, rest, err := ParsePerPeerHeader(data)
	if err != nil {
		return nil, err
	}
	return &RouteMirroring{Peer: peer, TLVs: parseTLVs(rest)}, nil
}
