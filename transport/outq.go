//go:build linux

package transport

import (
	"container/ring"

	"github.com/murphy-substrate/core/errs"
)

// outQueue is a bounded circular queue of pending output frames, backed by
// container/ring. Writes never silently drop on EAGAIN: push fails with
// errs.Again once the queued byte total would exceed capacity, and the
// owning Transport drains it from a write-readiness watch, firing
// Callbacks.OnWritable each time the queue drains empty.
type outQueue struct {
	head     *ring.Ring // oldest unsent frame, nil when empty
	tail     *ring.Ring
	n        int
	bytes    int
	capacity int // bytes; 0 == unbounded
}

func newOutQueue(capacity int) *outQueue {
	return &outQueue{capacity: capacity}
}

// push appends frame to the back of the queue.
func (q *outQueue) push(frame []byte) error {
	if q.capacity > 0 && q.bytes+len(frame) > q.capacity {
		return errs.New(errs.KindAgain, "transport output queue full")
	}
	r := ring.New(1)
	r.Value = frame
	if q.tail == nil {
		q.head, q.tail = r, r
	} else {
		q.tail.Link(r)
		q.tail = r
	}
	q.n++
	q.bytes += len(frame)
	return nil
}

// peek returns the oldest unsent frame without removing it.
func (q *outQueue) peek() ([]byte, bool) {
	if q.head == nil {
		return nil, false
	}
	return q.head.Value.([]byte), true
}

// advance accounts for n bytes of the front frame having been written,
// dropping it from the queue entirely once fully consumed.
func (q *outQueue) advance(n int) {
	if q.head == nil || n <= 0 {
		return
	}
	frame := q.head.Value.([]byte)
	if n >= len(frame) {
		q.pop()
		return
	}
	q.bytes -= n
	q.head.Value = frame[n:]
}

// pop discards the front frame outright (used by advance once the whole
// frame has been written).
func (q *outQueue) pop() {
	if q.head == nil {
		return
	}
	frame := q.head.Value.([]byte)
	q.bytes -= len(frame)
	q.n--
	if q.head == q.tail {
		q.head, q.tail = nil, nil
		return
	}
	prev, next := q.head.Prev(), q.head.Next()
	prev.Unlink(1)
	q.head = next
}

func (q *outQueue) empty() bool { return q.head == nil }

func (q *outQueue) queuedBytes() int { return q.bytes }
