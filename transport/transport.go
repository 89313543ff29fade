//go:build linux

// Package transport implements the transport core (§4.6 TR): address
// resolution over a process-wide, prefix-keyed factory registry, and the
// Transport/Listener types shared by every concrete driver
// (transport/stream, transport/datagram, transport/ipc). A Transport is
// driven entirely by its owning eventloop.Loop — per §4.6, because
// dispatch is single-threaded, no locks are needed inside a transport.
package transport

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/murphy-substrate/core/codec"
	"github.com/murphy-substrate/core/errs"
	"github.com/murphy-substrate/core/eventloop"
	"github.com/murphy-substrate/core/frag"
	"github.com/murphy-substrate/core/logging"
)

// PayloadMode selects how a Transport encodes outgoing data and decodes
// incoming frames, per §4.4/§4.6. A Transport is in exactly one mode for
// its lifetime; no driver switches a transport to another mode.
type PayloadMode int

const (
	ModeRaw    PayloadMode = iota // send_raw: caller-framed opaque bytes
	ModeMsg                       // send_msg: codec.Message or schema struct, §6 record-tag framing
	ModeJSON                      // send_json: codec.Message rendered as JSON
	ModeNative                    // send_native: codec.Value, recursive TLV encoding
)

// State is a Transport's lifecycle position.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateListening
	StateClosed
)

// Callbacks are the event-driven handlers a caller attaches via Config.
// Exactly one OnRecv* field fires per inbound frame, selected by the
// transport's Mode.
type Callbacks struct {
	OnConnection func(l *Listener, t *Transport) // accepted on a listener
	OnClosed     func(t *Transport, err error)   // fatal error or peer close
	OnWritable   func(t *Transport)              // outq backpressure cleared

	OnRecvRaw    func(t *Transport, data []byte)
	OnRecvMsg    func(t *Transport, msg *codec.Message)
	OnRecvJSON   func(t *Transport, data []byte)
	OnRecvNative func(t *Transport, v codec.Value)
	// OnRecvStruct fires for a ModeMsg frame whose record-tag is non-zero
	// (§6: "other values are user-registered custom-struct IDs"); v is the
	// *T returned by codec.DecodeStruct for the descriptor registered under
	// tag.
	OnRecvStruct func(t *Transport, tag uint16, v any)
}

// Config carries the per-transport settings a driver's Dial/Listen takes.
type Config struct {
	Mode      PayloadMode
	MaxFrame  int // frag.Buffer frame ceiling; 0 == unbounded
	OutQueue  int // output queue byte ceiling; 0 == defaultOutQueue
	Callbacks Callbacks
	Logger    *logging.Logger
}

const defaultOutQueue = 1 << 20 // 1 MiB

// FDOps is the minimal raw-I/O contract a concrete driver (stream,
// datagram) supplies; Transport owns everything above this line: framing,
// mode dispatch, the output queue, and watch registration.
type FDOps interface {
	FD() int
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Close() error
}

// Transport is one open connection or datagram endpoint. ModeMsg frames
// carry the record-tag passed to SendMsg/SendStruct (§6 framing). ModeNative
// encodes and decodes with a nil *codec.TypeRemap, so no type-id remapping
// is applied, and no driver offers an option to set one.
type Transport struct {
	loop   *eventloop.Loop
	addr   Address
	mode   PayloadMode
	cb     Callbacks
	logger *logging.Logger

	state State
	ops   FDOps
	framed bool // true: length-prefixed stream framing via frag.Buffer; false: one read == one frame (datagram/ipc)

	in  *frag.Buffer
	out *outQueue

	readWatch  *eventloop.IoWatch
	writeWatch *eventloop.IoWatch

	dead bool
}

// NewTransport is the constructor concrete drivers call once a connection
// is established (post-connect, post-accept, or an internal peer pairing).
func NewTransport(loop *eventloop.Loop, addr Address, cfg Config, ops FDOps, framed bool) *Transport {
	outCap := cfg.OutQueue
	if outCap <= 0 {
		outCap = defaultOutQueue
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NoOp()
	}
	return &Transport{
		loop:   loop,
		addr:   addr,
		mode:   cfg.Mode,
		cb:     cfg.Callbacks,
		logger: logger,
		state:  StateConnected,
		ops:    ops,
		framed: framed,
		in:     frag.New(frag.WithMaxFrame(cfg.MaxFrame)),
		out:    newOutQueue(outCap),
	}
}

// RegisterIO arms the read watch against the loop's poller; the write watch
// is added on demand by enqueue. Drivers call this once a Transport's
// underlying fd is ready to be multiplexed (transport/ipc calls it with each
// endpoint's eventfd).
func (t *Transport) RegisterIO() error {
	w, err := t.loop.AddIoWatch(t.ops.FD(), eventloop.EventRead, eventloop.LevelTriggered, t.handleReadable, nil)
	if err != nil {
		return err
	}
	t.readWatch = w
	return nil
}

// Address returns the peer/local address this transport resolved from.
func (t *Transport) Address() Address { return t.addr }

// Mode returns the transport's fixed payload mode.
func (t *Transport) Mode() PayloadMode { return t.mode }

// State reports the transport's lifecycle position.
func (t *Transport) State() State { return t.state }

func (t *Transport) handleReadable(_ *eventloop.IoWatch, _ eventloop.IOEvents) {
	if t.dead {
		return
	}
	if t.framed {
		t.readFramed()
	} else {
		t.readWhole()
	}
}

// readFramed services a stream transport: read whatever is available into
// the fragment buffer, then pull and dispatch every complete frame it now
// contains, in arrival order (§4.6 "within one transport, receive events
// are delivered in arrival order").
func (t *Transport) readFramed() {
	const chunk = 4096
	buf, err := t.in.Alloc(chunk)
	if err != nil {
		t.fail(err)
		return
	}
	n, rerr := t.ops.Read(buf)
	if n < chunk {
		t.in.Trim(chunk - n)
	}
	if rerr != nil {
		if errs.Of(rerr) == errs.KindAgain {
			return
		}
		t.fail(rerr)
		return
	}
	if n == 0 {
		t.fail(errs.New(errs.KindClosed, "peer closed the connection"))
		return
	}
	for {
		payload, ok, perr := t.in.Pull()
		if perr != nil {
			t.fail(perr)
			return
		}
		if !ok {
			return
		}
		if t.dead {
			return
		}
		t.dispatch(payload)
	}
}

// readWhole services a datagram/ipc-style transport where a single read
// yields exactly one complete frame.
func (t *Transport) readWhole() {
	buf := make([]byte, 65536)
	n, err := t.ops.Read(buf)
	if err != nil {
		if errs.Of(err) == errs.KindAgain {
			return
		}
		t.fail(err)
		return
	}
	if n == 0 {
		t.fail(errs.New(errs.KindClosed, "peer closed the connection"))
		return
	}
	t.dispatch(buf[:n])
}

// dispatch decodes one complete record and invokes the mode-matched
// callback. A decoder error is a fatal receive error (§4.6 "Failure
// semantics"): it disconnects the transport and emits OnClosed(err).
func (t *Transport) dispatch(payload []byte) {
	switch t.mode {
	case ModeRaw:
		if t.cb.OnRecvRaw != nil {
			t.cb.OnRecvRaw(t, payload)
		}
	case ModeMsg:
		tag, body, ferr := codec.DecodeFrame(payload)
		if ferr != nil {
			t.fail(ferr)
			return
		}
		// §6 wire framing: record-tag 0 is the generic tagged message;
		// any other value is a user-registered custom-struct ID (I-COD-3:
		// a tag this transport's codec registry doesn't recognize fails
		// with KindUnsupported rather than being mis-decoded as generic).
		if tag == codec.DefaultRecordTag {
			msg, derr := codec.DecodeMessage(body)
			if derr != nil {
				t.fail(derr)
				return
			}
			if t.cb.OnRecvMsg != nil {
				t.cb.OnRecvMsg(t, msg)
			}
			break
		}
		desc, ok := codec.LookupType(tag)
		if !ok {
			t.fail(errs.New(errs.KindUnsupported, "unrecognized record-type tag"))
			return
		}
		v, derr := codec.DecodeStruct(desc, body)
		if derr != nil {
			t.fail(derr)
			return
		}
		if t.cb.OnRecvStruct != nil {
			t.cb.OnRecvStruct(t, tag, v)
		}
	case ModeJSON:
		if t.cb.OnRecvJSON != nil {
			t.cb.OnRecvJSON(t, payload)
		}
	case ModeNative:
		v, _, derr := codec.DecodeNative(payload, nil)
		if derr != nil {
			t.fail(derr)
			return
		}
		if t.cb.OnRecvNative != nil {
			t.cb.OnRecvNative(t, v)
		}
	default:
		t.fail(errs.New(errs.KindProtocol, "no wire decoder for this payload mode"))
	}
}

// SendRaw queues caller-framed bytes for output. Valid only in ModeRaw.
func (t *Transport) SendRaw(data []byte) error {
	if t.mode != ModeRaw {
		return errs.New(errs.KindInvalidArgument, "SendRaw requires ModeRaw")
	}
	return t.enqueue(data)
}

// SendMsg encodes msg as a generic tagged message under recordTag and
// queues it for output. Valid only in ModeMsg.
func (t *Transport) SendMsg(recordTag uint16, msg *codec.Message) error {
	if t.mode != ModeMsg {
		return errs.New(errs.KindInvalidArgument, "SendMsg requires ModeMsg")
	}
	body := codec.NewMsgBuf()
	if err := codec.EncodeMessage(body, msg); err != nil {
		return err
	}
	return t.enqueue(codec.EncodeFrame(recordTag, body.Bytes()))
}

// SendStruct encodes v through desc's schema-driven struct codec and queues
// it under desc.Tag's record-tag (§6: non-zero record-tag == user-registered
// custom-struct ID). Valid only in ModeMsg, and desc.Tag must not be
// codec.DefaultRecordTag (reserved for SendMsg's generic path).
func (t *Transport) SendStruct(desc *codec.Descriptor, v any) error {
	if t.mode != ModeMsg {
		return errs.New(errs.KindInvalidArgument, "SendStruct requires ModeMsg")
	}
	if desc.Tag == codec.DefaultRecordTag {
		return errs.New(errs.KindInvalidArgument, "SendStruct requires a non-zero record-type tag")
	}
	body, err := codec.EncodeStruct(desc, v)
	if err != nil {
		return err
	}
	return t.enqueue(codec.EncodeFrame(desc.Tag, body))
}

// SendJSON queues msg's JSON rendering for output. Valid only in ModeJSON.
func (t *Transport) SendJSON(msg *codec.Message) error {
	if t.mode != ModeJSON {
		return errs.New(errs.KindInvalidArgument, "SendJSON requires ModeJSON")
	}
	data, err := codec.EncodeJSON(msg)
	if err != nil {
		return err
	}
	return t.enqueue(data)
}

// SendNative encodes v as a recursive TLV value and queues it for output.
// Valid only in ModeNative.
func (t *Transport) SendNative(v codec.Value) error {
	if t.mode != ModeNative {
		return errs.New(errs.KindInvalidArgument, "SendNative requires ModeNative")
	}
	buf := codec.NewMsgBuf()
	if err := codec.EncodeNative(buf, v, nil); err != nil {
		return err
	}
	return t.enqueue(buf.Bytes())
}

// enqueue frames data (length-prefixing it when framed) and pushes it onto
// the output queue, arming the write watch if it wasn't already.
func (t *Transport) enqueue(data []byte) error {
	if t.dead {
		return errs.New(errs.KindClosed, "transport is closed")
	}
	frame := data
	if t.framed {
		const lengthPrefixSize = 4
		frame = make([]byte, lengthPrefixSize+len(data))
		binary.BigEndian.PutUint32(frame[:lengthPrefixSize], uint32(len(data)))
		copy(frame[lengthPrefixSize:], data)
	}
	if err := t.out.push(frame); err != nil {
		return err
	}
	return t.armWrite()
}

func (t *Transport) armWrite() error {
	if t.writeWatch != nil {
		return nil
	}
	w, err := t.loop.AddIoWatch(t.ops.FD(), eventloop.EventWrite, eventloop.LevelTriggered, t.handleWritable, nil)
	if err != nil {
		return err
	}
	t.writeWatch = w
	return nil
}

func (t *Transport) handleWritable(_ *eventloop.IoWatch, _ eventloop.IOEvents) {
	if t.dead {
		return
	}
	for {
		frame, ok := t.out.peek()
		if !ok {
			break
		}
		n, err := t.ops.Write(frame)
		if err != nil {
			if errs.Of(err) == errs.KindAgain {
				return
			}
			t.fail(err)
			return
		}
		t.out.advance(n)
	}
	// queue drained: disarm the write watch and notify the caller.
	if t.writeWatch != nil {
		_ = t.loop.DelIoWatch(t.writeWatch)
		t.writeWatch = nil
	}
	if t.cb.OnWritable != nil {
		t.cb.OnWritable(t)
	}
}

// fail tears the transport down after a fatal error, emitting OnClosed.
func (t *Transport) fail(err error) {
	if t.dead {
		return
	}
	t.Close()
	if t.cb.OnClosed != nil {
		t.cb.OnClosed(t, err)
	}
}

// Close tears the transport down: unregisters its watches and releases the
// underlying fd. Safe to call from within one of the transport's own
// callbacks (I-EL-2 applies transitively through eventloop.IoWatch).
func (t *Transport) Close() error {
	if t.dead {
		return nil
	}
	t.dead = true
	t.state = StateClosed
	if t.readWatch != nil {
		_ = t.loop.DelIoWatch(t.readWatch)
	}
	if t.writeWatch != nil {
		_ = t.loop.DelIoWatch(t.writeWatch)
	}
	return t.ops.Close()
}

// Listener is a passive, listening transport; it has no payload mode of
// its own and produces a new Transport per accepted connection via
// Callbacks.OnConnection.
type Listener struct {
	loop *eventloop.Loop
	addr Address
	cb   Callbacks

	acceptFD int
	watch    *eventloop.IoWatch

	accept func() (FDOps, Address, error) // driver-supplied accept(2) wrapper
	cfg    Config

	dead bool
}

func NewListener(loop *eventloop.Loop, addr Address, cfg Config, acceptFD int, accept func() (FDOps, Address, error)) *Listener {
	return &Listener{loop: loop, addr: addr, cb: cfg.Callbacks, acceptFD: acceptFD, accept: accept, cfg: cfg}
}

func (l *Listener) RegisterIO() error {
	w, err := l.loop.AddIoWatch(l.acceptFD, eventloop.EventRead, eventloop.LevelTriggered, l.handleAcceptable, nil)
	if err != nil {
		return err
	}
	l.watch = w
	return nil
}

// handleAcceptable runs accept(2) in a loop until it would block. Per
// §4.6's "Failure semantics": an accept failure rejects the incoming
// connection but never tears the listener itself down.
func (l *Listener) handleAcceptable(_ *eventloop.IoWatch, _ eventloop.IOEvents) {
	for {
		ops, peer, err := l.accept()
		if err != nil {
			if errs.Of(err) == errs.KindAgain {
				return
			}
			continue // reject this one connection attempt, keep listening
		}
		// every listener-produced transport is a stream connection, so it
		// always uses length-prefixed framing (datagram/ipc never listen).
		t := NewTransport(l.loop, peer, l.cfg, ops, true)
		if err := t.RegisterIO(); err != nil {
			_ = ops.Close()
			continue
		}
		if l.cb.OnConnection != nil {
			l.cb.OnConnection(l, t)
		}
	}
}

// Address returns the address this listener is bound to.
func (l *Listener) Address() Address { return l.addr }

// Close stops accepting new connections and releases the listening fd.
// Already-accepted Transports are unaffected.
func (l *Listener) Close() error {
	if l.dead {
		return nil
	}
	l.dead = true
	if l.watch != nil {
		_ = l.loop.DelIoWatch(l.watch)
	}
	return unix.Close(l.acceptFD)
}
