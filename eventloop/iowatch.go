//go:build linux

package eventloop

import "github.com/murphy-substrate/core/errs"

// IOHandler is invoked with the readiness mask reported for a watch.
type IOHandler func(w *IoWatch, events IOEvents)

// IoWatch is a handle returned by Loop.AddIoWatch.
type IoWatch struct {
	fd       int
	events   IOEvents
	trigger  TriggerMode
	callback IOHandler
	UserData any
	dead     bool
	loop     *Loop

	// viaHost and hostToken are set when this watch was registered through
	// a bound SuperLoopGlue instead of the loop's own poller; see
	// BindSuperLoop.
	viaHost   bool
	hostToken any
}

// FD returns the watched file descriptor.
func (w *IoWatch) FD() int { return w.fd }

// AddIoWatch registers fd for the given readiness mask, delivered with
// trigger as its trigger mode. If a super-loop is bound and supplies AddIO,
// registration is delegated to the host instead of this loop's own poller
// (§3 SuperLoop: "the core loop delegates its multiplexing to a host loop
// through callbacks"); the host drives trigger semantics itself in that
// case.
func (l *Loop) AddIoWatch(fd int, events IOEvents, trigger TriggerMode, cb IOHandler, userData any) (*IoWatch, error) {
	w := &IoWatch{fd: fd, events: events, trigger: trigger, callback: cb, UserData: userData, loop: l}
	if l.super != nil && l.super.AddIO != nil {
		token, err := l.super.AddIO(fd, events, func(ev IOEvents) {
			l.dispatchIO(w, ev)
		})
		if err != nil {
			return nil, err
		}
		w.viaHost = true
		w.hostToken = token
		l.ioWatches = append(l.ioWatches, w)
		return w, nil
	}
	if err := l.poller.register(fd, events, trigger, func(ev IOEvents) {
		l.dispatchIO(w, ev)
	}); err != nil {
		return nil, err
	}
	l.ioWatches = append(l.ioWatches, w)
	return w, nil
}

// ModIoWatch changes a watch's mask and/or trigger mode in place. Not
// supported for a watch registered through a super-loop (the host owns its
// own readiness semantics); del and re-add via AddIoWatch instead.
func (l *Loop) ModIoWatch(w *IoWatch, events IOEvents, trigger TriggerMode) error {
	if w.dead {
		return errs.New(errs.KindNotFound, "io watch not registered")
	}
	if w.viaHost {
		return errs.New(errs.KindUnsupported, "ModIoWatch is not supported for a super-loop-delegated watch")
	}
	if err := l.poller.modify(w.fd, events, trigger); err != nil {
		return err
	}
	w.events = events
	w.trigger = trigger
	return nil
}

// DelIoWatch unregisters a watch. Per I-EL-2, calling this from within the
// watch's own callback is safe: the poller has already captured the
// readiness mask for this dispatch, so unregistering now only affects
// future polls. A watch registered through a super-loop is unregistered
// via the glue's DelIO instead of this loop's own poller.
func (l *Loop) DelIoWatch(w *IoWatch) error {
	if w.dead {
		return errs.New(errs.KindNotFound, "io watch not registered")
	}
	if w.viaHost {
		if l.super != nil && l.super.DelIO != nil {
			l.super.DelIO(w.hostToken)
		}
	} else if err := l.poller.unregister(w.fd); err != nil {
		return err
	}
	w.dead = true
	for i, cand := range l.ioWatches {
		if cand == w {
			l.ioWatches = append(l.ioWatches[:i], l.ioWatches[i+1:]...)
			break
		}
	}
	return nil
}

func (l *Loop) dispatchIO(w *IoWatch, ev IOEvents) {
	if w.dead || w.callback == nil {
		return
	}
	w.callback(w, ev)
}
