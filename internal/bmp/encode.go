package bmp

import "encoding/binary"

// Encode serializes msg back to its wire form, the inverse of Parse. Used
// by the history pipeline and by round-trip tests.
func (m *Message) Encode() []byte {
	var body []byte
	switch m.Header.MsgType {
	case MsgTypeRouteMonitoring:
		body = append(EncodePerPeerHeader(m.RouteMonitoring.Peer), m.RouteMonitoring.BGPMessage...)
	case MsgTypeStatisticsReport:
		count := make([]byte, 4)
		binary.BigEndian.PutUint32(count, uint32(len(m.StatisticsReport.Stats)))
		body = append(EncodePerPeerHeader(m.StatisticsReport.Peer), count...)
		body = append(body, encodeStats(m.StatisticsReport.Stats)...)
	case MsgTypePeerDown:
		body = append(EncodePerPeerHeader(m.PeerDown.Peer), m.PeerDown.Reason)
		switch m.PeerDown.Reason {
		case PeerDownReasonLocalNotification, PeerDownReasonRemoteNotification:
			body = append(body, m.PeerDown.NotificationBytes...)
		case PeerDownReasonLocalNoNotification:
			fsm := make([]byte, 2)
			binary.BigEndian.PutUint16(fsm, m.PeerDown.FSMEventCode)
			body = append(body, fsm...)
		}
	case MsgTypePeerUp:
		pu := m.PeerUp
		body = EncodePerPeerHeader(pu.Peer)
		local := make([]byte, 16)
		if pu.Peer.PeerFlags&PeerFlagIPv6 != 0 {
			if v6 := pu.LocalAddress.To16(); v6 != nil {
				copy(local, v6)
			}
		} else if v4 := pu.LocalAddress.To4(); v4 != nil {
			copy(local[12:], v4)
		}
		body = append(body, local...)
		ports := make([]byte, 4)
		binary.BigEndian.PutUint16(ports[0:2], pu.LocalPort)
		binary.BigEndian.PutUint16(ports[2:4], pu.RemotePort)
		body = append(body, ports...)
		body = append(body, pu.SentOpen...)
		body = append(body, pu.ReceivedOpen...)
		body = append(body, encodeTLVs(pu.TLVs)...)
	case MsgTypeInitiation:
		body = encodeTLVs(m.Initiation.TLVs)
	case MsgTypeTermination:
		body = encodeTLVs(m.Termination.TLVs)
	case MsgTypeRouteMirroring:
		body = append(EncodePerPeerHeader(m.RouteMirroring.Peer), encodeTLVs(m.RouteMirroring.TLVs)...)
	}
	return append(EncodeCommonHeader(m.Header.MsgType, len(body)), body...)
}
