//go:build linux

package eventloop

import "github.com/murphy-substrate/core/errs"

// SuperLoopGlue are the callbacks a foreign host loop supplies when it
// takes over this Loop's multiplexing, i.e. reverse sub-loop embedding.
// The host uses our epoll fd as one of its own watches and drives dispatch
// by calling PollEvents/PollIO instead of us calling epoll_wait directly.
type SuperLoopGlue struct {
	AddIO      func(fd int, events IOEvents, cb func(events IOEvents)) (token any, err error)
	DelIO      func(token any)
	AddTimer   func(periodMs uint32, cb func()) (token any)
	DelTimer   func(token any)
	ModTimer   func(token any, periodMs uint32)
	AddDefer   func(cb func()) (token any)
	DelDefer   func(token any)
	ModDefer   func(token any, enabled bool)
	Unregister func()
}

// BindSuperLoop hands this Loop off to a foreign host loop. Once bound, Run
// must not be called (the host pumps the loop via PollEvents/PollIO); at
// most one super-loop may be bound at a time (I-EL invariants mirror the
// single-owner rule used for signals).
//
// Every AddIoWatch/AddTimer/AddDeferred call made after binding is
// delegated to the matching glue callback instead of this loop's own
// poller/timerSet/deferredSet, per §3's "the core loop delegates its
// multiplexing to a host loop through callbacks". This is a reduced
// contract in one respect: entities registered *before* the bind (this
// loop's own wake-fd watch, created in New()) are not retroactively
// migrated onto the host and continue to live on this loop's internal
// poller, reachable only through PollEvents/PollIO. Callers that want a
// fully host-driven loop should bind immediately after New(), before
// registering anything else.
func (l *Loop) BindSuperLoop(glue SuperLoopGlue) error {
	if l.super != nil {
		return errs.New(errs.KindExists, "a super-loop is already bound")
	}
	l.super = &glue
	return nil
}

// UnbindSuperLoop releases the binding, calling the glue's Unregister hook
// if provided.
func (l *Loop) UnbindSuperLoop() {
	if l.super == nil {
		return
	}
	if l.super.Unregister != nil {
		l.super.Unregister()
	}
	l.super = nil
}

// PollEvents performs a single nonblocking poll of this loop's own
// multiplexer, caching any ready events for PollIO to hand out one at a
// time. Intended to be called by a bound super-loop's glue code.
func (l *Loop) PollEvents() (int, error) {
	n, err := l.poller.pollIO(0)
	l.lastPollCount = n
	return n, err
}

// PollIO is a placeholder hand-off point for super-loop glue that wants to
// pull cached events one at a time rather than via the batched callback
// dispatch PollEvents already performed; since this loop's poller dispatches
// inline during pollIO, PollIO here simply reports whether the most recent
// PollEvents call found any work.
func (l *Loop) PollIO() bool {
	return l.lastPollCount > 0
}
