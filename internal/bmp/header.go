package bmp

import (
	"encoding/binary"

	"github.com/route-beacon/rib-ingester/internal/wire"
)

// ParseCommonHeader reads the 6-byte BMP common header from the front of
// data and returns it along with the message body (CommonHeader.Length
// bytes total, header included) trimmed to exactly that length.
func ParseCommonHeader(data []byte) (CommonHeader, []byte, error) {
	c := wire.NewCursor(data)
	version, err := c.ReadU8()
	if err != nil {
		return CommonHeader{}, nil, err
	}
	if version != BMPVersion {
		return CommonHeader{}, nil, wire.NewErrorf(wire.InvalidBmpVersion, "bmp: unsupported version %d (expected %d)", version, BMPVersion)
	}
	length, err := c.ReadU32()
	if err != nil {
		return CommonHeader{}, nil, err
	}
	msgType, err := c.ReadU8()
	if err != nil {
		return CommonHeader{}, nil, err
	}
	if length < CommonHeaderSize {
		return CommonHeader{}, nil, wire.NewErrorf(wire.CorruptedBgpMessage, "bmp: declared length %d smaller than common header size %d", length, CommonHeaderSize)
	}
	if int(length) > len(data) {
		return CommonHeader{}, nil, wire.NewErrorf(wire.TruncatedMessage, "bmp: declared length %d exceeds available data %d", length, len(data))
	}
	hdr := CommonHeader{Version: version, Length: length, MsgType: msgType}
	return hdr, data[CommonHeaderSize:length], nil
}

// EncodeCommonHeader writes the 6-byte header for a message whose body
// (excluding this header) is bodyLen bytes.
func EncodeCommonHeader(msgType uint8, bodyLen int) []byte {
	out := make([]byte, CommonHeaderSize)
	out[0] = BMPVersion
	binary.BigEndian.PutUint32(out[1:5], uint32(CommonHeaderSize+bodyLen))
	out[5] = msgType
	return out
}

// ParsePerPeerHeader reads the 42-byte per-peer header fixing the teacher's
// latent bug of treating peer_flags as a 2-byte field (RFC 7854 ยง4.2 makes
// it one octet at offset 1, immediately followed by the 8-byte
// distinguisher at offset 2).
func ParsePerPeerHeader(data []byte) (PerPeerHeader, []byte, error) {
	c := wire.NewCursor(data)
	peerType, err := c.ReadU8()
	if err != nil {
		return PerPeerHeader{}, nil, err
	}
	flags, err := c.ReadU8()
	if err != nil {
		return PerPeerHeader{}, nil, err
	}
	distinguisher, err := c.ReadU64()
	if err != nil {
		return PerPeerHeader{}, nil, err
	}
	addrBytes, err := c.ReadN(16)
	if err != nil {
		return PerPeerHeader{}, nil, err
	}
	asn, err := c.ReadU32()
	if err != nil {
		return PerPeerHeader{}, nil, err
	}
	bgpIDBytes, err := c.ReadN(4)
	if err != nil {
		return PerPeerHeader{}, nil, err
	}
	tsSec, err := c.ReadU32()
	if err != nil {
		return PerPeerHeader{}, nil, err
	}
	tsUsec, err := c.ReadU32()
	if err != nil {
		return PerPeerHeader{}, nil, err
	}

	addr := make([]byte, 16)
	copy(addr, addrBytes)
	hdr := PerPeerHeader{
		PeerType:      peerType,
		PeerFlags:     flags,
		Distinguisher: distinguisher,
		ASN:           asn,
		BGPIdentifier: ipv4FromBytes(bgpIDBytes),
		TimestampSec:  tsSec,
		TimestampUsec: tsUsec,
	}
	if flags&PeerFlagIPv6 != 0 {
		ip := make([]byte, 16)
		copy(ip, addr)
		hdr.Address = ip
	} else {
		hdr.Address = ipv4FromBytes(addr[12:16])
	}

	return hdr, data[PerPeerHeaderSize:], nil
}

func ipv4FromBytes(b []byte) []byte {
	ip := make([]byte, 4)
	copy(ip, b)
	return ip
}

// EncodePerPeerHeader is the inverse of ParsePerPeerHeader.
func EncodePerPeerHeader(h PerPeerHeader) []byte {
	out := make([]byte, PerPeerHeaderSize)
	out[0] = h.PeerType
	out[1] = h.PeerFlags
	binary.BigEndian.PutUint64(out[2:10], h.Distinguisher)
	if h.PeerFlags&PeerFlagIPv6 != 0 {
		if v6 := h.Address.To16(); v6 != nil {
			copy(out[10:26], v6)
		}
	} else if v4 := h.Address.To4(); v4 != nil {
		copy(out[22:26], v4)
	}
	binary.BigEndian.PutUint32(out[26:30], h.ASN)
	if v4 := h.BGPIdentifier.To4(); v4 != nil {
		copy(out[30:34], v4)
	}
	binary.BigEndian.PutUint32(out[34:38], h.TimestampSec)
	binary.BigEndian.PutUint32(out[38:42], h.TimestampUsec)
	return out
}
