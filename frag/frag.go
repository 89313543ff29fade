// Package frag implements the append-only fragment buffer (§4.3): writers
// reserve space and fill it from a read, readers pull whole length-framed
// payloads out in order.
package frag

import (
	"encoding/binary"

	"github.com/murphy-substrate/core/codec"
	"github.com/murphy-substrate/core/errs"
)

const lengthPrefixSize = 4

// Buffer is an append-only byte buffer yielding length-framed payloads: each
// frame is a big-endian u32 length followed by that many payload bytes.
type Buffer struct {
	buf      *codec.MsgBuf
	maxFrame int // 0 == unbounded
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithMaxFrame caps the length a frame may declare; a longer length fails
// Pull with errs.Protocol rather than allocating unbounded memory.
func WithMaxFrame(n int) Option {
	return func(b *Buffer) { b.maxFrame = n }
}

// New constructs an empty Buffer.
func New(opts ...Option) *Buffer {
	b := &Buffer{buf: codec.NewMsgBuf()}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Alloc reserves n bytes for the caller to fill (typically from a read(fd)
// call), returning a slice over the newly reserved region.
func (b *Buffer) Alloc(n int) ([]byte, error) {
	s, err := b.buf.Reserve(n)
	if err != nil {
		return nil, errs.Wrap(errs.KindOutOfMemory, "fragment buffer allocation failed", err)
	}
	return s, nil
}

// Trim releases the trailing n bytes of the most recent Alloc that were not
// actually filled (e.g. a short read returned fewer bytes than reserved).
func (b *Buffer) Trim(n int) {
	b.buf.Trim(n)
}

// Pull returns the next complete frame's payload and true if at least one
// whole frame is available, advancing the cursor past it. The returned
// slice is valid until the next Alloc call. It returns (nil, false) when
// fewer than one full frame is buffered, and a protocol error if the
// declared length exceeds the configured ceiling.
func (b *Buffer) Pull() ([]byte, bool, error) {
	avail := b.buf.Bytes()
	if len(avail) < lengthPrefixSize {
		return nil, false, nil
	}
	n := binary.BigEndian.Uint32(avail[:lengthPrefixSize])
	if b.maxFrame > 0 && int(n) > b.maxFrame {
		return nil, false, errs.New(errs.KindProtocol, "frame length exceeds configured ceiling")
	}
	total := lengthPrefixSize + int(n)
	if len(avail) < total {
		return nil, false, nil
	}
	payload := avail[lengthPrefixSize:total]
	b.buf.Pull(total)
	return payload, true, nil
}

// PushFrame appends a complete frame (length prefix + payload) for
// in-process producers that build frames directly rather than reading them
// off a socket via Alloc/Trim.
func (b *Buffer) PushFrame(payload []byte) error {
	s, err := b.buf.Reserve(lengthPrefixSize + len(payload))
	if err != nil {
		return errs.Wrap(errs.KindOutOfMemory, "fragment buffer allocation failed", err)
	}
	binary.BigEndian.PutUint32(s[:lengthPrefixSize], uint32(len(payload)))
	copy(s[lengthPrefixSize:], payload)
	return nil
}

// Len reports the number of unread, buffered bytes (complete or partial).
func (b *Buffer) Len() int { return b.buf.Len() }
