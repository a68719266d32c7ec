package wire

import (
	"encoding/binary"
	"net"
)

// Cursor is a bounds-checked reader over an immutable byte slice. Every
// operation fails with a TruncatedMessage ParserError instead of panicking
// when fewer bytes remain than requested, per spec.md §4.1.
type Cursor struct {
	buf []byte
	off int
}

// NewCursor wraps buf for reading. buf is not copied; the cursor does not
// outlive the caller's ownership of it.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.off }

// Offset returns the current read offset.
func (c *Cursor) Offset() int { return c.off }

// Len returns the total length of the underlying buffer.
func (c *Cursor) Len() int { return len(c.buf) }

func (c *Cursor) need(n int) error {
	if c.Remaining() < n {
		return NewErrorf(TruncatedMessage, "need %d bytes, have %d", n, c.Remaining())
	}
	return nil
}

// ReadU8 reads one byte.
func (c *Cursor) ReadU8() (uint8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.buf[c.off]
	c.off++
	return v, nil
}

// ReadU16 reads a big-endian uint16.
func (c *Cursor) ReadU16() (uint16, error) {
	if err := c.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(c.buf[c.off : c.off+2])
	c.off += 2
	return v, nil
}

// ReadU32 reads a big-endian uint32.
func (c *Cursor) ReadU32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(c.buf[c.off : c.off+4])
	c.off += 4
	return v, nil
}

// ReadU64 reads a big-endian uint64.
func (c *Cursor) ReadU64() (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(c.buf[c.off : c.off+8])
	c.off += 8
	return v, nil
}

// ReadN reads and returns the next n bytes as a slice referencing the
// underlying buffer. Callers that retain the slice past the cursor's
// lifetime must copy it.
func (c *Cursor) ReadN(n int) ([]byte, error) {
	if err := c.need(n); err != nil {
		return nil, err
	}
	v := c.buf[c.off : c.off+n]
	c.off += n
	return v, nil
}

// Skip advances the cursor by n bytes without returning them.
func (c *Cursor) Skip(n int) error {
	if err := c.need(n); err != nil {
		return err
	}
	c.off += n
	return nil
}

// ReadIP reads a 4-byte (IPv4) or 16-byte (IPv6) address.
func (c *Cursor) ReadIP(v6 bool) (net.IP, error) {
	n := 4
	if v6 {
		n = 16
	}
	b, err := c.ReadN(n)
	if err != nil {
		return nil, err
	}
	ip := make(net.IP, n)
	copy(ip, b)
	return ip, nil
}

// ReadPrefix reads a bit-packed prefix: one length byte followed by
// ceil(length/8) value bytes, per spec.md §4.1. maxBits bounds the length
// (32 for IPv4, 128 for IPv6); host bits beyond length are accepted as-is
// on input and zeroed in the returned, canonical byte slice.
func (c *Cursor) ReadPrefix(maxBits int) (length int, canonical []byte, err error) {
	lb, err := c.ReadU8()
	if err != nil {
		return 0, nil, err
	}
	length = int(lb)
	if length > maxBits {
		return 0, nil, NewErrorf(InvalidPrefix, "prefix length %d exceeds max %d", length, maxBits)
	}
	byteLen := (length + 7) / 8
	raw, err := c.ReadN(byteLen)
	if err != nil {
		return 0, nil, err
	}
	totalBytes := maxBits / 8
	canonical = make([]byte, totalBytes)
	copy(canonical, raw)
	maskHostBits(canonical, length)
	return length, canonical, nil
}

func maskHostBits(b []byte, prefixLen int) {
	fullBytes := prefixLen / 8
	rem := prefixLen % 8
	if rem != 0 && fullBytes < len(b) {
		mask := byte(0xFF << (8 - rem))
		b[fullBytes] &= mask
		fullBytes++
	}
	for i := fullBytes; i < len(b); i++ {
		b[i] = 0
	}
}

// Sub creates a child cursor over exactly n bytes and advances the parent
// past that subrange regardless of whether the child consumes it, per
// spec.md §4.1 and §9 ("End-of-stream inside nested lengths").
func (c *Cursor) Sub(n int) (*Cursor, error) {
	b, err := c.ReadN(n)
	if err != nil {
		return nil, err
	}
	return NewCursor(b), nil
}
