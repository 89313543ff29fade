//go:build linux

package eventloop

import (
	"context"
	"encoding/binary"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/murphy-substrate/core/errs"
	"github.com/murphy-substrate/core/logging"
)

var loopIDCounter atomic.Uint64

// Loop is a single-threaded, cooperative event loop: a prepare -> poll ->
// dispatch cycle multiplexing I/O readiness, timers, deferred/idle
// callbacks, signals, and embedded sub-loops.
type Loop struct {
	id uint64

	state    *fastState
	poller   *poller
	timers   *timerSet
	deferred *deferredSet
	signals  *signalSet
	subloops *subLoopSet
	super    *SuperLoopGlue

	ioWatches []*IoWatch

	defaultTrigger TriggerMode
	logger         *logging.Logger
	metricsEnabled bool
	metrics        *TickMetrics

	wakeFD int

	quitRequested bool
	exitCode      int
	running       bool

	busyDepth     int
	lastPollCount int

	runDone chan struct{}
}

// New constructs a Loop. The loop owns an epoll instance and an eventfd
// used to interrupt a blocked poll from Shutdown/Quit or context
// cancellation; both are released by Destroy.
func New(opts ...Option) (*Loop, error) {
	cfg := resolveOptions(opts)

	l := &Loop{
		id:             loopIDCounter.Add(1),
		state:          newFastState(StateCreated),
		poller:         newPoller(),
		timers:         newTimerSet(),
		deferred:       newDeferredSet(),
		subloops:       newSubLoopSet(),
		defaultTrigger: cfg.defaultTrigger,
		logger:         cfg.logger,
		metricsEnabled: cfg.metrics,
	}
	l.signals = newSignalSet(l)
	if cfg.metrics {
		l.metrics = newTickMetrics()
	}

	if err := l.poller.init(); err != nil {
		return nil, err
	}

	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = l.poller.close()
		return nil, errs.Wrap(errs.KindIO, "eventfd", err)
	}
	l.wakeFD = fd
	if _, err := l.AddIoWatch(fd, EventRead, LevelTriggered, l.drainWake, nil); err != nil {
		_ = unix.Close(fd)
		_ = l.poller.close()
		return nil, err
	}

	return l, nil
}

func (l *Loop) drainWake(_ *IoWatch, _ IOEvents) {
	var buf [8]byte
	_, _ = unix.Read(l.wakeFD, buf[:])
}

func (l *Loop) wake() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, _ = unix.Write(l.wakeFD, buf[:])
}

// State reports the loop's current lifecycle position.
func (l *Loop) State() LoopState { return l.state.load() }

// Metrics returns the loop's tick metrics, or nil if WithMetrics(true) was
// not passed to New.
func (l *Loop) Metrics() *TickMetrics { return l.metrics }

// Timer registration, delegated to timerSet, or to a bound super-loop's
// glue when one supplies AddTimer (§3 SuperLoop).

// AddTimer schedules cb to run every periodMs, or once if periodMs is 0.
func (l *Loop) AddTimer(periodMs uint32, cb TimerCallback, userData any) *Timer {
	if l.super != nil && l.super.AddTimer != nil {
		return l.addHostTimer(periodMs, cb, userData)
	}
	return l.timers.add(l, int64(periodMs)*1000, cb, userData)
}

// addHostTimer registers periodMs/cb through the bound super-loop's
// AddTimer instead of this loop's own timerSet. The host's callback shape
// (func()) carries no re-arm decision, so the wrapper applies the same
// periodic/one-shot bookkeeping AddTimer's caller expects: a one-shot timer
// (periodMs == 0) or a callback returning false tells the host to stop
// calling back via DelTimer.
func (l *Loop) addHostTimer(periodMs uint32, cb TimerCallback, userData any) *Timer {
	t := &Timer{
		periodUs: int64(periodMs) * 1000,
		callback: cb,
		UserData: userData,
		state:    TimerArmed,
		loop:     l,
		index:    -1,
		viaHost:  true,
	}
	t.hostToken = l.super.AddTimer(periodMs, func() {
		if t.dead {
			return
		}
		t.state = TimerFiring
		keepGoing := cb(t)
		if t.dead {
			return
		}
		if t.periodUs == 0 || !keepGoing {
			t.state = TimerDead
			t.dead = true
			if l.super != nil && l.super.DelTimer != nil {
				l.super.DelTimer(t.hostToken)
			}
			return
		}
		t.state = TimerArmed
	})
	return t
}

// ModTimer re-arms t against a new period, per mode.
func (l *Loop) ModTimer(t *Timer, periodMs uint32, mode ReArmMode) error {
	if t.viaHost {
		if t.dead {
			return errs.New(errs.KindNotFound, "timer not registered")
		}
		t.periodUs = int64(periodMs) * 1000
		if l.super != nil && l.super.ModTimer != nil {
			l.super.ModTimer(t.hostToken, periodMs)
		}
		return nil
	}
	return l.timers.mod(t, int64(periodMs)*1000, mode)
}

// DelTimer removes t. Safe to call from t's own callback (I-EL-2).
func (l *Loop) DelTimer(t *Timer) error {
	if t.viaHost {
		if t.dead {
			return errs.New(errs.KindNotFound, "timer not registered")
		}
		t.dead = true
		t.state = TimerDead
		if l.super != nil && l.super.DelTimer != nil {
			l.super.DelTimer(t.hostToken)
		}
		return nil
	}
	return l.timers.del(t)
}

// Deferred/idle registration, delegated to deferredSet, or to a bound
// super-loop's glue when one supplies AddDefer (§3 SuperLoop).

// AddDeferred registers a callback that runs once per cycle, after I/O and
// timers, for as long as it stays enabled.
func (l *Loop) AddDeferred(cb DeferredCallback, userData any) *Deferred {
	if l.super != nil && l.super.AddDefer != nil {
		return l.addHostDeferred(cb, userData)
	}
	return l.deferred.add(cb, userData)
}

// addHostDeferred registers cb through the bound super-loop's AddDefer
// instead of this loop's own deferredSet; the host calls the wrapper once
// per its own cycle, and the wrapper itself honors Enabled/dead.
func (l *Loop) addHostDeferred(cb DeferredCallback, userData any) *Deferred {
	d := &Deferred{callback: cb, UserData: userData, enabled: true, viaHost: true}
	d.hostToken = l.super.AddDefer(func() {
		if d.dead || !d.enabled {
			return
		}
		d.callback(d)
	})
	return d
}

// DelDeferred removes d. Safe to call from d's own callback (I-EL-2).
func (l *Loop) DelDeferred(d *Deferred) error {
	if d.viaHost {
		if d.dead {
			return errs.New(errs.KindNotFound, "deferred not registered")
		}
		d.dead = true
		if l.super != nil && l.super.DelDefer != nil {
			l.super.DelDefer(d.hostToken)
		}
		return nil
	}
	return l.deferred.del(d)
}

// Sub-loop registration, delegated to subLoopSet.

// AddSubLoop embeds a foreign loop, pumped once per cycle via ops.
func (l *Loop) AddSubLoop(ops SubLoopOps, userData any) *SubLoop {
	return l.subloops.add(ops, userData)
}

// DelSubLoop stops pumping sl.
func (l *Loop) DelSubLoop(sl *SubLoop) {
	l.subloops.del(sl)
}

// Quit requests the loop stop after the current cycle finishes; exitCode is
// what Run will return. Safe to call re-entrantly from any callback (S5).
func (l *Loop) Quit(exitCode int) {
	l.quitRequested = true
	l.exitCode = exitCode
	l.wake()
}

// Shutdown is Quit with a zero exit code, named for parity with the
// general Go convention of a Shutdown method; ctx is accepted for callers
// that want to race a forced exit against a deadline, but Quit itself
// never blocks.
func (l *Loop) Shutdown(ctx context.Context) error {
	l.Quit(0)
	return nil
}

// Destroy releases the loop's own resources (epoll fd, eventfd, signalfd).
// Must only be called after Run has returned.
func (l *Loop) Destroy() error {
	if l.signals != nil {
		l.signals.close()
	}
	if l.wakeFD > 0 {
		_ = unix.Close(l.wakeFD)
	}
	return l.poller.close()
}

// Run drives cycles until Quit is called or ctx is done, returning the exit
// code passed to Quit (0 on context cancellation without an explicit Quit).
func (l *Loop) Run(ctx context.Context) (int, error) {
	if l.running {
		return 0, ErrReentrantRun
	}
	if !l.state.tryTransition(StateCreated, StateRunning) &&
		!l.state.tryTransition(StateTerminated, StateRunning) {
		return 0, ErrLoopAlreadyRunning
	}
	l.running = true
	l.quitRequested = false
	l.runDone = make(chan struct{})
	defer func() {
		l.running = false
		close(l.runDone)
	}()

	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				l.Quit(0)
			case <-l.runDone:
			}
		}()
	}

	for !l.quitRequested {
		if err := l.tick(); err != nil {
			l.state.store(StateTerminated)
			return l.exitCode, err
		}
	}
	l.state.store(StateTerminated)
	return l.exitCode, nil
}

// tick runs exactly one prepare -> poll -> dispatch cycle.
func (l *Loop) tick() error {
	start := time.Now()

	subFDs, owner, subTimeout := l.subloops.prepareAndQuery()

	timeout := l.timers.nextTimeoutMs()
	if subTimeout >= 0 && (timeout < 0 || subTimeout < timeout) {
		timeout = subTimeout
	}

	pollFDs := make([]unix.PollFd, 0, 1+len(subFDs))
	pollFDs = append(pollFDs, unix.PollFd{Fd: l.poller.epfd, Events: unix.POLLIN})
	pollFDs = append(pollFDs, subFDs...)

	if _, err := unix.Poll(pollFDs, timeout); err != nil && err != unix.EINTR {
		return errs.Wrap(errs.KindIO, "poll", err)
	}

	l.busyDepth++

	ioCount := 0
	if pollFDs[0].Revents&unix.POLLIN != 0 {
		n, err := l.poller.pollIO(0)
		if err != nil {
			l.busyDepth--
			return err
		}
		ioCount = n
	}

	timerCount := l.timers.expired(l.dispatchTimer)
	deferredCount := l.deferred.run(l.dispatchDeferred)

	if len(subFDs) > 0 {
		copy(subFDs, pollFDs[1:])
		l.subloops.checkAndDispatch(subFDs, owner)
	}

	l.busyDepth--

	if l.metricsEnabled {
		l.metrics.recordTick(time.Since(start), ioCount, timerCount, deferredCount)
	}
	return nil
}

func (l *Loop) dispatchTimer(t *Timer) bool {
	return t.callback(t)
}

func (l *Loop) dispatchDeferred(d *Deferred) {
	d.callback(d)
}

// Busy reports whether the loop is currently inside a dispatch phase; true
// only while a callback made from within tick() is (transitively) running.
func (l *Loop) Busy() bool { return l.busyDepth > 0 }
