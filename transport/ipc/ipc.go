//go:build linux

// Package ipc implements the "internal" TR driver: transports that pass
// messages by value between two loops in the same process rather than
// through a socket (§4.6). Grounded on the teacher eventloop's
// fastWakeupCh idiom — signaling a waiting loop without routing data
// through the kernel — reused here as a per-pair eventfd that only ever
// carries a wakeup count; the message itself travels over an in-memory
// queue guarded by a mutex, since the two ends of a pair may belong to
// loops running on different goroutines.
package ipc

import (
	"encoding/binary"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/murphy-substrate/core/errs"
	"github.com/murphy-substrate/core/eventloop"
	"github.com/murphy-substrate/core/transport"
)

// Register installs the "internal" factory into the process-wide transport
// registry.
func Register() {
	transport.RegisterFactory(factory{})
}

type binding struct {
	loop *eventloop.Loop
	cfg  transport.Config
}

var (
	mu       sync.Mutex
	bindings = map[string]*binding{}
)

// Bind registers name as an internal rendezvous point: a later
// Dial("internal:"+name) from any loop in the process pairs a new
// Transport against loop/cfg, delivered through cfg.Callbacks.OnConnection
// (its Listener argument is always nil — ipc has no socket to listen on).
func Bind(loop *eventloop.Loop, name string, cfg transport.Config) error {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := bindings[name]; exists {
		return errs.New(errs.KindExists, "internal transport name already bound: "+name)
	}
	bindings[name] = &binding{loop: loop, cfg: cfg}
	return nil
}

// Unbind removes a name previously registered with Bind.
func Unbind(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(bindings, name)
}

type factory struct{}

func (factory) Prefix() string { return "internal" }

func (factory) ResolveAddress(rest string) (transport.Address, error) {
	return transport.Address{Family: transport.FamilyInternal, Path: rest}, nil
}

func (factory) Dial(loop *eventloop.Loop, addr transport.Address, cfg transport.Config) (*transport.Transport, error) {
	mu.Lock()
	b, ok := bindings[addr.Path]
	mu.Unlock()
	if !ok {
		return nil, errs.New(errs.KindNotFound, "no internal transport bound as "+addr.Path)
	}

	clientEnd, serverEnd, err := newPair()
	if err != nil {
		return nil, err
	}

	serverAddr := transport.Address{Prefix: "internal", Family: transport.FamilyInternal, Path: addr.Path}
	serverT := transport.NewTransport(b.loop, serverAddr, b.cfg, serverEnd, false)
	if err := serverT.RegisterIO(); err != nil {
		_ = clientEnd.Close()
		_ = serverEnd.Close()
		return nil, err
	}

	clientT := transport.NewTransport(loop, addr, cfg, clientEnd, false)
	if err := clientT.RegisterIO(); err != nil {
		_ = clientT.Close()
		_ = serverT.Close()
		return nil, err
	}

	if b.cfg.Callbacks.OnConnection != nil {
		b.cfg.Callbacks.OnConnection(nil, serverT)
	}
	return clientT, nil
}

// Listen is unsupported: ipc pairing goes through Bind/Dial, not a socket
// listen/accept loop.
func (factory) Listen(*eventloop.Loop, transport.Address, transport.Config) (*transport.Listener, error) {
	return nil, errs.New(errs.KindUnsupported, "internal transports use Bind, not Listen")
}

// ipcEndpoint is one side of a paired internal transport: Write pushes onto
// the peer's queue and pings its eventfd; Read decrements this endpoint's
// own eventfd count by one and pops one queued message.
type ipcEndpoint struct {
	efd  int
	peer *ipcEndpoint

	mu    sync.Mutex
	queue [][]byte
}

// eventfd is created with EFD_SEMAPHORE so each Read decrements the
// counter by exactly one instead of zeroing it: Write increments the
// counter by one per queued message, so a burst of N writes before the
// loop polls leaves the counter at N, and the fd stays readable (counter
// > 0) until exactly N reads have drained it. Without EFD_SEMAPHORE, the
// first Read would zero the whole counter while only one message had been
// popped from the queue, stranding the rest until some unrelated wakeup.
func newPair() (a, b *ipcEndpoint, err error) {
	fda, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK|unix.EFD_SEMAPHORE)
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindIO, "eventfd", err)
	}
	fdb, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK|unix.EFD_SEMAPHORE)
	if err != nil {
		_ = unix.Close(fda)
		return nil, nil, errs.Wrap(errs.KindIO, "eventfd", err)
	}
	a = &ipcEndpoint{efd: fda}
	b = &ipcEndpoint{efd: fdb}
	a.peer, b.peer = b, a
	return a, b, nil
}

func (e *ipcEndpoint) FD() int { return e.efd }

func (e *ipcEndpoint) Read(buf []byte) (int, error) {
	var drain [8]byte
	_, _ = unix.Read(e.efd, drain[:]) // EFD_SEMAPHORE: decrements the counter by one; errors are benign (already drained)

	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return 0, errs.New(errs.KindAgain, "would block")
	}
	msg := e.queue[0]
	e.queue = e.queue[1:]
	e.mu.Unlock()

	if len(msg) > len(buf) {
		return 0, errs.New(errs.KindProtocol, "internal transport message exceeds read buffer")
	}
	return copy(buf, msg), nil
}

func (e *ipcEndpoint) Write(buf []byte) (int, error) {
	msg := append([]byte(nil), buf...)
	peer := e.peer
	peer.mu.Lock()
	peer.queue = append(peer.queue, msg)
	peer.mu.Unlock()

	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	_, _ = unix.Write(peer.efd, one[:]) // wakes the peer loop if it's blocked in poll
	return len(buf), nil
}

func (e *ipcEndpoint) Close() error { return unix.Close(e.efd) }
