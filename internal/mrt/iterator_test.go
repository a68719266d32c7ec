package mrt

import (
	"bytes"
	"io"
	"testing"

	"github.com/route-beacon/rib-ingester/internal/wire"
)

// Scenario 6: a truncated BGP4MP record whose declared length exceeds the
// remaining bytes. The default Reader stops (zero elements surfaced, no
// panic); the FallibleReader reports TruncatedMessage then reaches EOF.
func TestReader_TruncatedRecord_StopsWithoutPanic(t *testing.T) {
	good := buildHeader(TypeBGP4MP, SubtypeBGP4MPMessageAS4, []byte{1, 2, 3, 4})
	truncated := buildHeader(TypeBGP4MP, SubtypeBGP4MPMessageAS4, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	truncated = truncated[:len(truncated)-4] // declared length now exceeds actual bytes

	stream := append(append([]byte{}, good...), truncated...)
	r := NewReader(bytes.NewReader(stream), 64*1024)

	rec, err := r.Next()
	if err != nil {
		t.Fatalf("unexpected error on first record: %v", err)
	}
	if rec.Header.Type != TypeBGP4MP {
		t.Fatalf("unexpected first record: %+v", rec)
	}

	// The scanner sees the truncated tail and, once it has hit EOF with no
	// way to complete the record, surfaces TruncatedMessage rather than
	// silently dropping it or panicking.
	_, err = r.Next()
	if kind, ok := wire.KindOf(err); !ok || kind != wire.TruncatedMessage {
		t.Fatalf("expected TruncatedMessage for the truncated trailing record, got %v", err)
	}
}

func TestFallibleReader_SkipsAndReportsTruncated(t *testing.T) {
	good := buildHeader(TypeBGP4MP, SubtypeBGP4MPMessageAS4, []byte{1, 2, 3, 4})
	truncated := buildHeader(TypeBGP4MP, SubtypeBGP4MPMessageAS4, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	truncated = truncated[:len(truncated)-4] // declared length now exceeds actual bytes
	stream := append(append([]byte{}, good...), truncated...)

	var reported []error
	r := NewFallibleReader(bytes.NewReader(stream), 64*1024, func(err error) {
		reported = append(reported, err)
	})

	rec, err := r.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header.Type != TypeBGP4MP {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if len(reported) != 1 {
		t.Fatalf("expected exactly one reported error for the truncated tail, got %v", reported)
	}
	if kind, ok := wire.KindOf(reported[0]); !ok || kind != wire.TruncatedMessage {
		t.Fatalf("expected TruncatedMessage to be reported, got %v", reported[0])
	}
}

func TestSplitMRT_DeclaredLengthExceedsAtEOF(t *testing.T) {
	// A header declaring more payload than is actually present, with no
	// more data arriving (atEOF=true): the scanner must report an error
	// rather than requesting more data forever.
	raw := buildHeader(TypeBGP4MP, SubtypeBGP4MPMessageAS4, []byte{1, 2, 3, 4})
	short := raw[:len(raw)-2]

	_, _, err := SplitMRT(short, true)
	if err == nil {
		t.Fatal("expected an error for a record truncated at EOF")
	}
	if kind, ok := wire.KindOf(err); !ok || kind != wire.TruncatedMessage {
		t.Errorf("expected TruncatedMessage, got %v", err)
	}
}
