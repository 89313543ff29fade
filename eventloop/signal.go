//go:build linux

package eventloop

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/murphy-substrate/core/errs"
)

// SignalCallback runs when a handler's signal is delivered. Multiple
// handlers registered for the same signal fire in registration order.
type SignalCallback func(h *SignalHandler, sig unix.Signal)

// SignalHandler is a handle returned by Loop.AddSignalHandler.
type SignalHandler struct {
	id       uint64
	sig      unix.Signal
	callback SignalCallback
	UserData any
	dead     bool
}

// Signal reports which signal this handler was registered for.
func (h *SignalHandler) Signal() unix.Signal { return h.sig }

// signalSet is a loop's share of the process-wide signalfd channel: signals
// are materialized as loop events via a signal-safe fd, translated back to
// the loop thread before any handler runs.
type signalSet struct {
	loop     *Loop
	mu       sync.Mutex
	handlers map[unix.Signal][]*SignalHandler
	nextID   uint64
	fd       int
	mask     unix.Sigset_t
	watch    *IoWatch
}

func newSignalSet(loop *Loop) *signalSet {
	return &signalSet{loop: loop, handlers: make(map[unix.Signal][]*SignalHandler), fd: -1}
}

// Only one loop per process may own the signalfd channel: at most one
// per-process signal-handling channel exists at a time.
var (
	processSignalMu    sync.Mutex
	processSignalOwner *Loop
)

func sigsetAdd(set *unix.Sigset_t, sig unix.Signal) {
	bit := uint(sig) - 1
	set.Val[bit/64] |= 1 << (bit % 64)
}

// AddSignalHandler installs cb for sig. The first AddSignalHandler call made
// anywhere in the process creates the shared signalfd and blocks the signal
// via the process signal mask (required for signalfd semantics); subsequent
// calls on the same owning loop extend the mask and apply it to the existing
// signalfd in place.
func (l *Loop) AddSignalHandler(sig unix.Signal, cb SignalCallback, userData any) (*SignalHandler, error) {
	processSignalMu.Lock()
	if processSignalOwner == nil {
		processSignalOwner = l
	} else if processSignalOwner != l {
		processSignalMu.Unlock()
		return nil, errs.New(errs.KindExists, "signal channel already owned by another loop")
	}
	processSignalMu.Unlock()

	s := l.signals
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	h := &SignalHandler{id: s.nextID, sig: sig, callback: cb, UserData: userData}

	alreadyMasked := false
	for existing := range s.handlers {
		if existing == sig {
			alreadyMasked = true
			break
		}
	}
	s.handlers[sig] = append(s.handlers[sig], h)

	if !alreadyMasked {
		sigsetAdd(&s.mask, sig)
		if err := unix.PthreadSigmask(unix.SIG_BLOCK, &s.mask, nil); err != nil {
			return nil, errs.Wrap(errs.KindIO, "pthread_sigmask", err)
		}
		if err := s.reinstall(); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (s *signalSet) reinstall() error {
	flags := unix.SFD_NONBLOCK | unix.SFD_CLOEXEC
	fd, err := unix.Signalfd(s.fd, &s.mask, flags)
	if err != nil {
		return errs.Wrap(errs.KindIO, "signalfd", err)
	}
	if s.fd < 0 {
		s.fd = fd
		watch, err := s.loop.AddIoWatch(fd, EventRead, LevelTriggered, s.dispatch, nil)
		if err != nil {
			_ = unix.Close(fd)
			s.fd = -1
			return err
		}
		s.watch = watch
	}
	return nil
}

// del removes a single handler (dispatch compacts it out). The signalfd is
// closed only when the Loop shuts down; the process's blocked-signal mask is
// never unblocked.
func (s *signalSet) del(h *SignalHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.handlers[h.sig]
	if !ok {
		return errs.New(errs.KindNotFound, "signal handler not registered")
	}
	for _, cand := range list {
		if cand == h {
			h.dead = true
			return nil
		}
	}
	return errs.New(errs.KindNotFound, "signal handler not registered")
}

func (s *signalSet) dispatch(w *IoWatch, events IOEvents) {
	var buf [unsafe.Sizeof(unix.SignalfdSiginfo{})]byte
	for {
		n, err := unix.Read(s.fd, buf[:])
		if err != nil || n != len(buf) {
			return
		}
		info := (*unix.SignalfdSiginfo)(unsafe.Pointer(&buf[0]))
		sig := unix.Signal(info.Signo)

		s.mu.Lock()
		handlers := append([]*SignalHandler(nil), s.handlers[sig]...)
		s.mu.Unlock()

		for _, h := range handlers {
			if h.dead {
				continue
			}
			h.callback(h, sig)
		}
		s.compact(sig)
	}
}

func (s *signalSet) compact(sig unix.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := s.handlers[sig][:0]
	for _, h := range s.handlers[sig] {
		if !h.dead {
			live = append(live, h)
		}
	}
	if len(live) == 0 {
		delete(s.handlers, sig)
	} else {
		s.handlers[sig] = live
	}
}

func (s *signalSet) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fd >= 0 {
		_ = unix.Close(s.fd)
		s.fd = -1
	}
}
