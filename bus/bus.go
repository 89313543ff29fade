// Package bus implements the event bus: a per-loop registry of watches
// over a process-wide table of monotonically assigned event IDs.
// Grounded on GoCodeAlone/modular's eventbus/memory.go for the overall
// shape (name-keyed subscriptions, sync vs. async delivery), adapted to a
// single-threaded loop: dispatch never spawns a goroutine, and the async
// path schedules through the owning eventloop.Loop's deferred callback
// mechanism instead of a channel. Subscription identity uses
// github.com/google/uuid, kept distinct from the bus's own event-ID
// namespace; storage and deletion-safe iteration over watches reuse the
// ht package's hash table rather than a bare map, so a watch deleted from
// within its own dispatch behaves like any other HT entry removed
// mid-iteration.
package bus

import (
	"sync"

	"github.com/google/uuid"

	"github.com/murphy-substrate/core/codec"
	"github.com/murphy-substrate/core/eventloop"
	"github.com/murphy-substrate/core/ht"
	"github.com/murphy-substrate/core/logging"
)

var (
	idMu     sync.Mutex
	idByName = map[string]uint32{}
	nameByID = map[uint32]string{}
	nextID   uint32
)

// IDOf returns the process-wide u32 assigned to name, minting one on first
// use. This registry is typically populated before any loop starts
// running, though the lazy-mint itself is safe to call at any time.
func IDOf(name string) uint32 {
	idMu.Lock()
	defer idMu.Unlock()
	if id, ok := idByName[name]; ok {
		return id
	}
	nextID++
	id := nextID
	idByName[name] = id
	nameByID[id] = name
	return id
}

// NameOf reverse-looks-up an event ID minted by IDOf.
func NameOf(id uint32) (string, bool) {
	idMu.Lock()
	defer idMu.Unlock()
	name, ok := nameByID[id]
	return name, ok
}

// BitMask is a compact, variable-size set of event IDs: word i's bit j
// covers event ID 64*i+j. The zero value is the empty mask.
type BitMask []uint64

// MaskOf builds a BitMask covering exactly the given IDs.
func MaskOf(ids ...uint32) BitMask {
	var m BitMask
	for _, id := range ids {
		m.Set(id)
	}
	return m
}

// Set adds id to the mask, growing it if necessary.
func (m *BitMask) Set(id uint32) {
	word := int(id / 64)
	for len(*m) <= word {
		*m = append(*m, 0)
	}
	(*m)[word] |= 1 << (id % 64)
}

// Test reports whether id is a member of the mask.
func (m BitMask) Test(id uint32) bool {
	word := int(id / 64)
	if word >= len(m) {
		return false
	}
	return m[word]&(1<<(id%64)) != 0
}

// PayloadFormat selects how a watch wants Emit's payload delivered.
type PayloadFormat int

const (
	FormatNative  PayloadFormat = iota // whatever Go value the emitter passed
	FormatMessage                      // codec.Message, requires EmitMessage/EmitMessageAsync
	FormatJSON                         // codec.Message rendered to JSON bytes
)

// Event is delivered to a watch callback on a matching Emit.
type Event struct {
	ID     uint32
	Name   string
	Format PayloadFormat

	Native  any
	Message *codec.Message
	JSON    []byte
}

// Callback handles one delivered Event.
type Callback func(*Event)

// Watch is a live subscription returned by Watch/WatchID, used to Unwatch.
type Watch struct {
	Handle uuid.UUID

	single   bool
	singleID uint32
	mask     BitMask
	format   PayloadFormat
	cb       Callback
}

func (w *Watch) matches(id uint32) bool {
	if w.single {
		return w.singleID == id
	}
	return w.mask.Test(id)
}

type config struct {
	logger *logging.Logger
}

// Option configures a Bus constructed via New.
type Option func(*config)

// WithLogger attaches a logger, defaulting to logging.NoOp.
func WithLogger(l *logging.Logger) Option {
	return func(c *config) { c.logger = l }
}

// Bus binds one set of watches to an eventloop.Loop. Emit (synchronous)
// runs callbacks in the caller's stack frame; EmitAsync defers delivery to
// the loop's next deferred-callback pass.
type Bus struct {
	loop   *eventloop.Loop
	logger *logging.Logger

	watches *ht.Table[uuid.UUID, *Watch]
}

func New(loop *eventloop.Loop, opts ...Option) *Bus {
	cfg := config{logger: logging.NoOp()}
	for _, o := range opts {
		if o != nil {
			o(&cfg)
		}
	}
	return &Bus{
		loop:    loop,
		logger:  cfg.logger,
		watches: ht.New[uuid.UUID, *Watch](hashUUID),
	}
}

func hashUUID(id uuid.UUID) uint32 {
	var h uint32
	for i, b := range id {
		h ^= uint32(b) << uint((i%4)*8)
	}
	return h
}

// Watch registers cb for every event ID set in mask, delivered in format.
func (b *Bus) Watch(mask BitMask, format PayloadFormat, cb Callback) *Watch {
	w := &Watch{Handle: uuid.New(), mask: mask, format: format, cb: cb}
	b.insert(w)
	return w
}

// WatchID registers cb for exactly one event ID.
func (b *Bus) WatchID(id uint32, format PayloadFormat, cb Callback) *Watch {
	w := &Watch{Handle: uuid.New(), single: true, singleID: id, format: format, cb: cb}
	b.insert(w)
	return w
}

func (b *Bus) insert(w *Watch) {
	if _, err := b.watches.Insert(w.Handle, w); err != nil {
		// uuid.New() collisions are practically impossible; retry once with
		// a fresh handle rather than surfacing an error from a subscribe call.
		w.Handle = uuid.New()
		_, _ = b.watches.Insert(w.Handle, w)
	}
}

// Unwatch removes a subscription. Calling this from within w's own
// callback lets the current dispatch complete; the watch is then gone
// from the next Emit onward.
func (b *Bus) Unwatch(w *Watch) {
	_, _ = b.watches.Delete(w.Handle)
}

// Emit synchronously dispatches a native-payload event to every matching
// watch, in the watch table's iteration order (see ht.Iterator). The bus
// keeps no busy guard of its own; a watch removed mid-dispatch is handled
// by the iterator's deletion fixup.
func (b *Bus) Emit(id uint32, native any) {
	b.dispatch(&Event{ID: id, Name: b.nameOrUnknown(id), Format: FormatNative, Native: native})
}

// EmitMessage synchronously dispatches a generic-message payload. Watches
// requesting FormatJSON receive it re-encoded from msg.
func (b *Bus) EmitMessage(id uint32, msg *codec.Message) {
	b.dispatch(&Event{ID: id, Name: b.nameOrUnknown(id), Format: FormatMessage, Message: msg})
}

// EmitAsync schedules a native-payload event for delivery on the loop's
// next deferred-callback pass rather than immediately.
func (b *Bus) EmitAsync(id uint32, native any) {
	b.deferDispatch(&Event{ID: id, Name: b.nameOrUnknown(id), Format: FormatNative, Native: native})
}

// EmitMessageAsync is EmitMessage's deferred counterpart.
func (b *Bus) EmitMessageAsync(id uint32, msg *codec.Message) {
	b.deferDispatch(&Event{ID: id, Name: b.nameOrUnknown(id), Format: FormatMessage, Message: msg})
}

func (b *Bus) nameOrUnknown(id uint32) string {
	if name, ok := NameOf(id); ok {
		return name
	}
	return ""
}

func (b *Bus) deferDispatch(ev *Event) {
	var d *eventloop.Deferred
	d = b.loop.AddDeferred(func(*eventloop.Deferred) {
		_ = b.loop.DelDeferred(d)
		b.dispatch(ev)
	}, nil)
}

// dispatch walks watches via ht's mutation-safe iterator, so a callback
// that calls Unwatch (on itself or another watch) or Watch does not disturb
// the entries already queued for this pass.
func (b *Bus) dispatch(ev *Event) {
	it := b.watches.ForEach(ht.Forward)
	defer it.Close()

	delivered := 0
	for {
		_, w, ok := it.Next()
		if !ok {
			break
		}
		if !w.matches(ev.ID) {
			continue
		}
		delivered++
		b.deliver(w, ev)
	}

	if delivered == 0 {
		b.logger.Info().Str("event", ev.Name).Int("id", int(ev.ID)).Log("emit with no watchers")
	}
}

func (b *Bus) deliver(w *Watch, ev *Event) {
	out := *ev
	out.Format = w.format
	if w.format == FormatJSON && out.JSON == nil {
		if out.Message == nil {
			b.logger.Warning().Str("event", ev.Name).Log("watch wants JSON but event carries no message")
			return
		}
		data, err := codec.EncodeJSON(out.Message)
		if err != nil {
			b.logger.Err().Err(err).Str("event", ev.Name).Log("encode event as JSON")
			return
		}
		out.JSON = data
	}
	if w.format == FormatMessage && out.Message == nil {
		b.logger.Warning().Str("event", ev.Name).Log("watch wants a message but event carries a native payload")
		return
	}
	w.cb(&out)
}

// Len reports the number of live watches, for tests and diagnostics.
func (b *Bus) Len() int { return b.watches.Len() }
