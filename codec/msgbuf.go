// Package codec implements the three interoperable binary codecs that ride
// on Murphy transports: the generic tagged message, the schema-driven
// struct codec, and the recursive native/TLV encoding, plus the MsgBuf
// push/pull helper they share.
package codec

import (
	"github.com/murphy-substrate/core/errs"
)

const (
	minGrowChunk    = 64
	defaultCapacity = 4096
)

// MsgBuf is a growable byte buffer supporting alignment-free reserve/pull
// cycles: Reserve grows the buffer and returns a slice to fill, Pull
// advances a read cursor over already-written bytes, Trim shrinks the
// written length back down, and Steal hands the backing array to a caller
// (e.g. a transport) without a copy.
type MsgBuf struct {
	buf    []byte
	read   int // cursor consumed by Pull
	maxCap int // 0 == unbounded
}

// NewMsgBuf constructs an empty MsgBuf with the default starting capacity.
func NewMsgBuf() *MsgBuf {
	return &MsgBuf{buf: make([]byte, 0, defaultCapacity)}
}

// WithMaxCapacity caps how large the buffer may grow; Reserve past the cap
// fails with errs.OutOfMemory.
func (m *MsgBuf) WithMaxCapacity(n int) *MsgBuf {
	m.maxCap = n
	return m
}

// Len returns the number of written, unread bytes.
func (m *MsgBuf) Len() int { return len(m.buf) - m.read }

// Bytes returns the unread portion of the buffer.
func (m *MsgBuf) Bytes() []byte { return m.buf[m.read:] }

// Reserve grows the buffer by n bytes (geometric growth, minimum chunk 64 B)
// and returns a slice over the newly appended region for the caller to fill.
func (m *MsgBuf) Reserve(n int) ([]byte, error) {
	if n < 0 {
		return nil, errs.New(errs.KindInvalidArgument, "negative reserve size")
	}
	want := len(m.buf) + n
	if m.maxCap > 0 && want > m.maxCap {
		return nil, errs.New(errs.KindOutOfMemory, "reserve exceeds configured ceiling")
	}
	if cap(m.buf) < want {
		grow := cap(m.buf) * 2
		if grow < want {
			grow = want
		}
		if grow-cap(m.buf) < minGrowChunk {
			grow = cap(m.buf) + minGrowChunk
			if grow < want {
				grow = want
			}
		}
		nb := make([]byte, len(m.buf), grow)
		copy(nb, m.buf)
		m.buf = nb
	}
	start := len(m.buf)
	m.buf = m.buf[:want]
	return m.buf[start:want], nil
}

// Trim releases bytes at the end of the buffer that a Reserve call reserved
// but the caller did not actually fill (e.g. a short read), shrinking the
// written length by n.
func (m *MsgBuf) Trim(n int) {
	if n < 0 || n > len(m.buf) {
		n = len(m.buf)
	}
	m.buf = m.buf[:len(m.buf)-n]
}

// Pull advances the read cursor past n bytes of the unread region.
func (m *MsgBuf) Pull(n int) {
	m.read += n
	if m.read == len(m.buf) {
		m.buf = m.buf[:0]
		m.read = 0
	}
}

// Steal hands the unread bytes to the caller, resetting this MsgBuf to
// empty without copying the returned slice.
func (m *MsgBuf) Steal() []byte {
	out := m.buf[m.read:]
	m.buf = nil
	m.read = 0
	return out
}

// Reset empties the buffer, keeping its backing array for reuse.
func (m *MsgBuf) Reset() {
	m.buf = m.buf[:0]
	m.read = 0
}
