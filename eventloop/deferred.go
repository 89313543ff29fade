package eventloop

import "github.com/murphy-substrate/core/errs"

// DeferredCallback runs once per enabled cycle, after I/O and timers.
type DeferredCallback func(d *Deferred)

// Deferred is a handle returned by Loop.AddDeferred, also usable for the
// loop's idle callbacks (an idle callback is an ordinary Deferred that
// stays enabled until it disables or deletes itself).
type Deferred struct {
	id       uint64
	callback DeferredCallback
	UserData any
	enabled  bool
	dead     bool

	// viaHost and hostToken are set when this deferred was registered
	// through a bound SuperLoopGlue instead of this loop's own
	// deferredSet; see BindSuperLoop.
	viaHost   bool
	hostToken any
}

// Enabled reports whether the deferred will run on the next cycle that
// dispatches deferred callbacks.
func (d *Deferred) Enabled() bool { return d.enabled && !d.dead }

// SetEnabled toggles the deferred. The dispatch loop re-checks enabled just
// before invoking, so re-enabling mid-cycle is visible within the same
// cycle, and a deferred disabled mid-cycle before its turn is skipped;
// disabling one that has already fired this cycle (including self-disable
// from within the callback) takes effect from the next cycle.
func (d *Deferred) SetEnabled(enabled bool) { d.enabled = enabled }

// deferredSet keeps deferred/idle callbacks in registration order, which
// dispatch preserves on every cycle.
type deferredSet struct {
	list   []*Deferred
	byID   map[uint64]*Deferred
	nextID uint64
}

func newDeferredSet() *deferredSet {
	return &deferredSet{byID: make(map[uint64]*Deferred)}
}

func (s *deferredSet) add(cb DeferredCallback, userData any) *Deferred {
	s.nextID++
	d := &Deferred{id: s.nextID, callback: cb, UserData: userData, enabled: true}
	s.list = append(s.list, d)
	s.byID[d.id] = d
	return d
}

func (s *deferredSet) del(d *Deferred) error {
	if _, ok := s.byID[d.id]; !ok {
		return errs.New(errs.KindNotFound, "deferred not registered")
	}
	delete(s.byID, d.id)
	d.dead = true
	return nil
}

// run invokes dispatch once per live, enabled deferred, in registration
// order, re-scanning the list until a full pass fires nothing new. This
// lets both a newly added deferred (appended during this pass) and a
// deferred re-enabled by an earlier one in the list fire within the same
// turn (I-EL-4), regardless of where in registration order the toggle
// happened. After the pass, dead entries are compacted out of the backing
// slice.
func (s *deferredSet) run(dispatch func(d *Deferred)) int {
	firedThisCycle := make(map[uint64]bool)
	fired := 0
	for {
		progressed := false
		for _, d := range s.list {
			if d.dead || !d.enabled || firedThisCycle[d.id] {
				continue
			}
			firedThisCycle[d.id] = true
			fired++
			progressed = true
			dispatch(d)
		}
		if !progressed {
			break
		}
	}
	s.sweep()
	return fired
}

func (s *deferredSet) sweep() {
	live := s.list[:0]
	for _, d := range s.list {
		if !d.dead {
			live = append(live, d)
		}
	}
	s.list = live
}

func (s *deferredSet) hasEnabled() bool {
	for _, d := range s.list {
		if !d.dead && d.enabled {
			return true
		}
	}
	return false
}
