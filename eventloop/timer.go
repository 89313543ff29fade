package eventloop

import (
	"container/heap"
	"time"

	"github.com/murphy-substrate/core/errs"
)

// TimerState is a timer's lifecycle position: created -> armed ->
// (firing -> armed)* -> dead. dead is reachable from any state and is
// always resolved after the outermost dispatch returns.
type TimerState uint32

const (
	TimerCreated TimerState = iota
	TimerArmed
	TimerFiring
	TimerDead
)

// TimerCallback fires on expiry. The return value decides whether a
// periodic timer (periodUs != 0) re-arms for another period; it is ignored
// for one-shot timers, which always go dead after firing once.
type TimerCallback func(t *Timer) bool

// ReArmMode selects how ModTimer recomputes a timer's schedule.
type ReArmMode int

const (
	// ReArmRestart re-arms the timer against the new period, counted from
	// now, discarding whatever remained of the current countdown.
	ReArmRestart ReArmMode = iota
	// ReArmReseat lets the current countdown finish unmolested, and only
	// changes the period used for subsequent re-arms.
	ReArmReseat
)

// Timer is a handle returned by Loop.AddTimer.
type Timer struct {
	id       uint64
	periodUs int64 // 0 => one-shot
	expiryUs int64
	callback TimerCallback
	UserData any

	state TimerState
	dead  bool
	index int // heap index, maintained by container/heap

	loop *Loop

	// viaHost and hostToken are set when this timer was registered through
	// a bound SuperLoopGlue instead of this loop's own timerSet; see
	// BindSuperLoop. index is unused (stays -1) for such timers.
	viaHost   bool
	hostToken any
}

// State reports the timer's current lifecycle position.
func (t *Timer) State() TimerState { return t.state }

func nowMicros() int64 { return time.Now().UnixMicro() }

type timerHeap []*Timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].expiryUs < h[j].expiryUs }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// timerSet keeps live timers ordered by absolute expiry (I-EL-3) and maps
// ids for O(1) Mod/Del.
type timerSet struct {
	h      timerHeap
	byID   map[uint64]*Timer
	nextID uint64
}

func newTimerSet() *timerSet {
	return &timerSet{byID: make(map[uint64]*Timer)}
}

func (s *timerSet) len() int { return len(s.h) }

func (s *timerSet) add(loop *Loop, periodUs int64, cb TimerCallback, userData any) *Timer {
	s.nextID++
	t := &Timer{
		id:       s.nextID,
		periodUs: periodUs,
		expiryUs: nowMicros() + periodUs,
		callback: cb,
		UserData: userData,
		state:    TimerArmed,
		loop:     loop,
	}
	heap.Push(&s.h, t)
	s.byID[t.id] = t
	return t
}

func (s *timerSet) del(t *Timer) error {
	if _, ok := s.byID[t.id]; !ok {
		return errs.New(errs.KindNotFound, "timer not registered")
	}
	delete(s.byID, t.id)
	t.dead = true
	if t.index >= 0 && t.index < len(s.h) && s.h[t.index] == t {
		heap.Remove(&s.h, t.index)
	}
	t.state = TimerDead
	return nil
}

func (s *timerSet) mod(t *Timer, periodUs int64, mode ReArmMode) error {
	if _, ok := s.byID[t.id]; !ok {
		return errs.New(errs.KindNotFound, "timer not registered")
	}
	t.periodUs = periodUs
	if mode == ReArmRestart {
		t.expiryUs = nowMicros() + periodUs
	}
	if t.index >= 0 && t.index < len(s.h) {
		heap.Fix(&s.h, t.index)
	}
	return nil
}

// earliestExpiry returns the absolute expiry (µs) of the soonest-firing
// timer, and whether any timer is armed at all.
func (s *timerSet) earliestExpiry() (int64, bool) {
	if len(s.h) == 0 {
		return 0, false
	}
	return s.h[0].expiryUs, true
}

// nextTimeoutMs computes the poll timeout as max(0, expiry-now) converted
// to ms with ceiling semantics, and 0 bumped to 1 so a
// just-expired timer never causes a busy-spin. -1 means "no timer armed,
// block indefinitely" (tick passes it to poll unchanged).
func (s *timerSet) nextTimeoutMs() int {
	expiry, ok := s.earliestExpiry()
	if !ok {
		return -1
	}
	remainingUs := expiry - nowMicros()
	if remainingUs <= 0 {
		return 1
	}
	ms := (remainingUs + 999) / 1000
	if ms <= 0 {
		ms = 1
	}
	return int(ms)
}

// expired pops every timer whose expiry has passed, in expiry order (P5),
// invoking dispatch for each (dispatch is expected to call t.callback under
// the loop's busy guard and report its return value). Re-arming happens
// after dispatch returns, so recursive AddTimer/DelTimer calls made from
// within the callback observe a consistent heap.
func (s *timerSet) expired(dispatch func(t *Timer) bool) int {
	now := nowMicros()
	fired := 0
	for len(s.h) > 0 && s.h[0].expiryUs <= now {
		t := heap.Pop(&s.h).(*Timer)
		if t.dead {
			delete(s.byID, t.id)
			continue
		}
		t.state = TimerFiring
		fired++
		keepGoing := dispatch(t)
		if t.dead {
			delete(s.byID, t.id)
			continue
		}
		if t.periodUs == 0 || !keepGoing {
			delete(s.byID, t.id)
			t.state = TimerDead
			continue
		}
		t.state = TimerArmed
		t.expiryUs += t.periodUs
		if t.expiryUs <= now {
			// Clock jumped or the handler ran long; resync instead of
			// spinning through every missed period.
			t.expiryUs = now + t.periodUs
		}
		heap.Push(&s.h, t)
	}
	return fired
}
