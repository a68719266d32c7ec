package mrt

import (
	"bufio"
	"io"

	"github.com/route-beacon/rib-ingester/internal/wire"
)

// Record is one fully-framed MRT record: the decoded common header plus
// its raw payload bytes (not yet dispatched to a subtype decoder).
type Record struct {
	Header  Header
	Payload []byte
}

// Reader streams Records out of an io.Reader, grounded on
// CSUNetSec-protoparse's SplitMrt paired with bufio.Scanner, and on
// bgpfix's mrt-reader.go buffering idiom for short-read handling. The
// caller supplies an already-decompressed byte stream; gzip/bzip2
// transport framing is an external collaborator per spec.md §6.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r for record-at-a-time MRT decoding. maxRecordBytes
// bounds a single record's header+payload size (bufio.Scanner's internal
// buffer cap) to guard against a corrupted length field requesting an
// unbounded allocation.
func NewReader(r io.Reader, maxRecordBytes int) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)
	s.Split(SplitMRT)
	return &Reader{scanner: s}
}

// Next returns the next Record, or io.EOF when the stream is exhausted.
// A malformed record (e.g. truncated mid-header at EOF) surfaces as a
// *wire.ParserError; the default iterator's contract is "stop on first
// error" — callers wanting the fallible-iterator re-sync behavior spec.md
// §3 describes should use Fallible instead.
func (r *Reader) Next() (Record, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return Record{}, err
		}
		return Record{}, io.EOF
	}
	tok := r.scanner.Bytes()
	cp := make([]byte, len(tok))
	copy(cp, tok)
	hdr, payload, _, err := ReadHeader(cp)
	if err != nil {
		return Record{}, err
	}
	return Record{Header: hdr, Payload: payload}, nil
}

// FallibleReader is the re-syncing counterpart to Reader: a record that
// fails to decode is skipped (with its error reported via the optional
// onError callback) rather than stopping the stream, per spec.md §7's
// "framer re-sync" propagation policy — one corrupt record must not
// abort an entire archive read.
type FallibleReader struct {
	inner   *Reader
	onError func(error)
	done    bool
}

// NewFallibleReader wraps r the same way NewReader does, but Next skips
// (instead of returning) any record whose header fails to decode.
func NewFallibleReader(r io.Reader, maxRecordBytes int, onError func(error)) *FallibleReader {
	return &FallibleReader{inner: NewReader(r, maxRecordBytes), onError: onError}
}

// Next returns the next successfully-framed Record, skipping over and
// reporting any records that fail to parse, until the stream ends. A
// framing error that stops the underlying scanner (such as a record
// truncated at the end of the stream) is reported once, after which Next
// returns io.EOF.
func (f *FallibleReader) Next() (Record, error) {
	for {
		if f.done {
			return Record{}, io.EOF
		}
		rec, err := f.inner.Next()
		if err == io.EOF {
			return Record{}, io.EOF
		}
		if err != nil {
			if _, isParserErr := err.(*wire.ParserError); isParserErr {
				if f.onError != nil {
					f.onError(err)
				}
				if f.inner.scanner.Err() != nil {
					f.done = true
				}
				continue
			}
			return Record{}, err
		}
		return rec, nil
	}
}
