package mrt

import (
	"encoding/binary"
	"testing"

	"github.com/route-beacon/rib-ingester/internal/wire"
)

func buildHeader(typ, subtype uint16, payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(out[0:4], 1700000000)
	binary.BigEndian.PutUint16(out[4:6], typ)
	binary.BigEndian.PutUint16(out[6:8], subtype)
	binary.BigEndian.PutUint32(out[8:12], uint32(len(payload)))
	copy(out[HeaderSize:], payload)
	return out
}

func TestReadHeader_RoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4}
	raw := buildHeader(TypeBGP4MP, SubtypeBGP4MPMessageAS4, payload)

	hdr, got, total, err := ReadHeader(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hdr.Type != TypeBGP4MP || hdr.Subtype != SubtypeBGP4MPMessageAS4 {
		t.Fatalf("unexpected header: %+v", hdr)
	}
	if total != len(raw) {
		t.Errorf("expected total %d, got %d", len(raw), total)
	}
	if string(got) != string(payload) {
		t.Errorf("expected payload %v, got %v", payload, got)
	}
}

func TestReadHeader_Truncated(t *testing.T) {
	raw := buildHeader(TypeBGP4MP, SubtypeBGP4MPMessageAS4, []byte{1, 2, 3, 4})
	_, _, _, err := ReadHeader(raw[:len(raw)-2])
	if err == nil {
		t.Fatal("expected error for truncated record")
	}
	if kind, ok := wire.KindOf(err); !ok || kind != wire.TruncatedMessage {
		t.Errorf("expected TruncatedMessage, got %v", err)
	}
}

func TestReadHeader_ExtendedTimestamp(t *testing.T) {
	payload := []byte{9, 9}
	body := make([]byte, HeaderSize+4+len(payload))
	binary.BigEndian.PutUint32(body[0:4], 1700000000)
	binary.BigEndian.PutUint16(body[4:6], TypeBGP4MPET)
	binary.BigEndian.PutUint16(body[6:8], SubtypeBGP4MPMessageAS4)
	binary.BigEndian.PutUint32(body[8:12], uint32(len(payload)))
	binary.BigEndian.PutUint32(body[12:16], 123456)
	copy(body[16:], payload)

	hdr, got, total, err := ReadHeader(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hdr.MicrosecondsET != 123456 {
		t.Errorf("expected micros 123456, got %d", hdr.MicrosecondsET)
	}
	if total != len(body) {
		t.Errorf("expected total %d, got %d", len(body), total)
	}
	if string(got) != string(payload) {
		t.Errorf("expected payload %v, got %v", payload, got)
	}
}

func TestSplitMRT_NeedsMoreData(t *testing.T) {
	raw := buildHeader(TypeBGP4MP, SubtypeBGP4MPMessageAS4, []byte{1, 2, 3, 4})
	advance, token, err := SplitMRT(raw[:len(raw)-1], false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if advance != 0 || token != nil {
		t.Errorf("expected scanner to request more data, got advance=%d token=%v", advance, token)
	}
}

func TestSplitMRT_FullRecord(t *testing.T) {
	raw := buildHeader(TypeBGP4MP, SubtypeBGP4MPMessageAS4, []byte{1, 2, 3, 4})
	advance, token, err := SplitMRT(raw, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if advance != len(raw) {
		t.Errorf("expected advance %d, got %d", len(raw), advance)
	}
	if string(token) != string(raw) {
		t.Errorf("expected token to equal input record")
	}
}
