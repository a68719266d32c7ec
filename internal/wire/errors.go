// Package wire holds the byte-cursor primitives and the error taxonomy
// shared by the mrt, bgp, and bmp decoders.
package wire

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of error categories the decoders can report.
// Callers switch on Kind instead of matching error strings.
type ErrorKind uint8

const (
	TruncatedMessage ErrorKind = iota
	MarkerMismatch
	UnknownMrtType
	UnknownBgpMessageType
	MalformedAttribute
	DuplicateAttribute
	InvalidPrefix
	InvalidPeerIndex
	InvalidBmpVersion
	UnknownTlvType
	UnknownTlvValue
	CorruptedBgpMessage
	IoError
	DeprecatedAttribute
)

func (k ErrorKind) String() string {
	switch k {
	case TruncatedMessage:
		return "TruncatedMessage"
	case MarkerMismatch:
		return "MarkerMismatch"
	case UnknownMrtType:
		return "UnknownMrtType"
	case UnknownBgpMessageType:
		return "UnknownBgpMessageType"
	case MalformedAttribute:
		return "MalformedAttribute"
	case DuplicateAttribute:
		return "DuplicateAttribute"
	case InvalidPrefix:
		return "InvalidPrefix"
	case InvalidPeerIndex:
		return "InvalidPeerIndex"
	case InvalidBmpVersion:
		return "InvalidBmpVersion"
	case UnknownTlvType:
		return "UnknownTlvType"
	case UnknownTlvValue:
		return "UnknownTlvValue"
	case CorruptedBgpMessage:
		return "CorruptedBgpMessage"
	case IoError:
		return "IoError"
	case DeprecatedAttribute:
		return "DeprecatedAttribute"
	default:
		return "Unknown"
	}
}

// ParserError is the typed error surfaced at every decoder boundary.
// It carries the offending raw bytes when available so callers can log or
// replay the failing record without re-reading the stream.
type ParserError struct {
	Kind    ErrorKind
	Context string // e.g. "attribute type 14", "peer index 3"
	Raw     []byte // offending bytes, nil if not captured
	Inner   error  // wrapped cause, e.g. an IoError
}

func (e *ParserError) Error() string {
	if e.Context != "" {
		if e.Inner != nil {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.Context, e.Inner)
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.Context)
	}
	if e.Inner != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Inner)
	}
	return e.Kind.String()
}

func (e *ParserError) Unwrap() error { return e.Inner }

// NewError builds a ParserError without raw bytes attached.
func NewError(kind ErrorKind, context string) *ParserError {
	return &ParserError{Kind: kind, Context: context}
}

// NewErrorf builds a ParserError with a formatted context string.
func NewErrorf(kind ErrorKind, format string, args ...any) *ParserError {
	return &ParserError{Kind: kind, Context: fmt.Sprintf(format, args...)}
}

// WithRaw attaches the offending raw bytes to an existing error for
// downstream logging, per the fallible-iterator contract in spec.md §7.
func WithRaw(err error, raw []byte) error {
	if pe, ok := err.(*ParserError); ok {
		cp := *pe
		cp.Raw = raw
		return &cp
	}
	return &ParserError{Kind: CorruptedBgpMessage, Raw: raw, Inner: err}
}

// KindOf extracts the ErrorKind from err, if it is (or wraps) a ParserError.
func KindOf(err error) (ErrorKind, bool) {
	var pe *ParserError
	if !errors.As(err, &pe) {
		return 0, false
	}
	return pe.Kind, true
}
