//go:build linux

package eventloop

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/murphy-substrate/core/errs"
)

const maxFDs = 65536

// IOCallback is invoked with the readiness mask reported by the poller.
type IOCallback func(IOEvents)

type fdInfo struct {
	callback IOCallback
	events   IOEvents
	trigger  TriggerMode
	active   bool
}

// poller is an epoll-backed multiplexer: one fd, direct-indexed fd table,
// inline dispatch outside the registration lock.
type poller struct {
	epfd    int32
	version atomic.Uint64

	eventBuf [256]unix.EpollEvent
	fds      [maxFDs]fdInfo
	fdMu     sync.RWMutex
	closed   atomic.Bool
}

func newPoller() *poller { return &poller{} }

func (p *poller) init() error {
	if p.closed.Load() {
		return errs.New(errs.KindClosed, "poller closed")
	}
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return errs.Wrap(errs.KindIO, "epoll_create1", err)
	}
	p.epfd = int32(fd)
	return nil
}

func (p *poller) close() error {
	p.closed.Store(true)
	if p.epfd > 0 {
		return unix.Close(int(p.epfd))
	}
	return nil
}

func (p *poller) register(fd int, events IOEvents, trigger TriggerMode, cb IOCallback) error {
	if p.closed.Load() {
		return errs.New(errs.KindClosed, "poller closed")
	}
	if fd < 0 || fd >= maxFDs {
		return errs.New(errs.KindRange, "fd out of supported range")
	}

	p.fdMu.Lock()
	if p.fds[fd].active {
		p.fdMu.Unlock()
		return errs.New(errs.KindExists, "fd already registered")
	}
	p.fds[fd] = fdInfo{callback: cb, events: events, trigger: trigger, active: true}
	p.version.Add(1)
	p.fdMu.Unlock()

	ev := &unix.EpollEvent{Events: eventsToEpoll(events, trigger), Fd: int32(fd)}
	if err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.fdMu.Lock()
		p.fds[fd] = fdInfo{}
		p.fdMu.Unlock()
		return errs.Wrap(errs.KindIO, "epoll_ctl add", err)
	}
	return nil
}

func (p *poller) unregister(fd int) error {
	if fd < 0 || fd >= maxFDs {
		return errs.New(errs.KindRange, "fd out of supported range")
	}
	p.fdMu.Lock()
	if !p.fds[fd].active {
		p.fdMu.Unlock()
		return errs.New(errs.KindNotFound, "fd not registered")
	}
	p.fds[fd] = fdInfo{}
	p.version.Add(1)
	p.fdMu.Unlock()

	if err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return errs.Wrap(errs.KindIO, "epoll_ctl del", err)
	}
	return nil
}

func (p *poller) modify(fd int, events IOEvents, trigger TriggerMode) error {
	if fd < 0 || fd >= maxFDs {
		return errs.New(errs.KindRange, "fd out of supported range")
	}
	p.fdMu.Lock()
	if !p.fds[fd].active {
		p.fdMu.Unlock()
		return errs.New(errs.KindNotFound, "fd not registered")
	}
	p.fds[fd].events = events
	p.fds[fd].trigger = trigger
	p.version.Add(1)
	p.fdMu.Unlock()

	ev := &unix.EpollEvent{Events: eventsToEpoll(events, trigger), Fd: int32(fd)}
	if err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return errs.Wrap(errs.KindIO, "epoll_ctl mod", err)
	}
	return nil
}

// pollIO blocks for up to timeoutMs and dispatches ready callbacks inline,
// returning the number of fds reported ready.
func (p *poller) pollIO(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, errs.New(errs.KindClosed, "poller closed")
	}

	v := p.version.Load()
	n, err := unix.EpollWait(int(p.epfd), p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, errs.Wrap(errs.KindIO, "epoll_wait", err)
	}
	if p.version.Load() != v {
		// Registrations changed mid-wait; the event buffer may reference
		// fds that were unregistered. Discard this batch rather than race.
		return 0, nil
	}

	p.dispatch(n)
	return n, nil
}

func (p *poller) dispatch(n int) {
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		if fd < 0 || fd >= maxFDs {
			continue
		}
		p.fdMu.RLock()
		info := p.fds[fd]
		p.fdMu.RUnlock()
		if info.active && info.callback != nil {
			info.callback(epollToEvents(p.eventBuf[i].Events))
		}
	}
}

func eventsToEpoll(events IOEvents, trigger TriggerMode) uint32 {
	var e uint32
	if events&EventRead != 0 {
		e |= unix.EPOLLIN
	}
	if events&EventWrite != 0 {
		e |= unix.EPOLLOUT
	}
	if events&EventPriority != 0 {
		e |= unix.EPOLLPRI
	}
	if events&EventRdHangup != 0 {
		e |= unix.EPOLLRDHUP
	}
	if trigger == EdgeTriggered {
		e |= unix.EPOLLET
	}
	return e
}

func epollToEvents(epollEvents uint32) IOEvents {
	var e IOEvents
	if epollEvents&unix.EPOLLIN != 0 {
		e |= EventRead
	}
	if epollEvents&unix.EPOLLOUT != 0 {
		e |= EventWrite
	}
	if epollEvents&unix.EPOLLPRI != 0 {
		e |= EventPriority
	}
	// HUP delivers regardless of requested mask or trigger mode.
	if epollEvents&unix.EPOLLHUP != 0 {
		e |= EventHangup
	}
	if epollEvents&unix.EPOLLRDHUP != 0 {
		e |= EventRdHangup
	}
	if epollEvents&unix.EPOLLERR != 0 {
		e |= EventError
	}
	return e
}
