//go:build linux

package eventloop

import "golang.org/x/sys/unix"

// SubLoopOps are the four callbacks a foreign event loop (e.g. a GUI
// toolkit's main loop) provides so it can be pumped from this Loop without
// threading: sub-loop embedding.
type SubLoopOps struct {
	// Prepare runs before poll every cycle. A false return means the
	// sub-loop has nothing pending and Query should still be consulted for
	// its timeout preference.
	Prepare func(userData any) bool
	// Query returns the sub-loop's desired fds (merged into the main poll)
	// and its preferred timeout in ms, or -1 for no preference.
	Query func(userData any) (fds []unix.PollFd, timeoutMs int)
	// Check runs after poll with the same fds (Revents now populated) and
	// reports whether Dispatch should run this cycle.
	Check func(userData any, fds []unix.PollFd) bool
	// Dispatch runs the sub-loop's own pending work for one cycle.
	Dispatch func(userData any)
}

// SubLoop is a handle returned by Loop.AddSubLoop.
type SubLoop struct {
	id       uint64
	ops      SubLoopOps
	UserData any
	dead     bool
}

type subLoopSet struct {
	list   []*SubLoop
	nextID uint64
}

func newSubLoopSet() *subLoopSet { return &subLoopSet{} }

func (s *subLoopSet) add(ops SubLoopOps, userData any) *SubLoop {
	s.nextID++
	sl := &SubLoop{id: s.nextID, ops: ops, UserData: userData}
	s.list = append(s.list, sl)
	return sl
}

func (s *subLoopSet) del(sl *SubLoop) {
	sl.dead = true
}

func (s *subLoopSet) sweep() {
	live := s.list[:0]
	for _, sl := range s.list {
		if !sl.dead {
			live = append(live, sl)
		}
	}
	s.list = live
}

// prepareAndQuery runs Prepare then Query for every live sub-loop, in
// registration order, returning the merged fd list (tagged by owning
// sub-loop index) and the tightest requested timeout.
func (s *subLoopSet) prepareAndQuery() (merged []unix.PollFd, owner []int, timeoutMs int) {
	timeoutMs = -1
	for i, sl := range s.list {
		if sl.dead {
			continue
		}
		if sl.ops.Prepare != nil {
			sl.ops.Prepare(sl.UserData)
		}
		if sl.ops.Query == nil {
			continue
		}
		fds, want := sl.ops.Query(sl.UserData)
		for _, fd := range fds {
			merged = append(merged, fd)
			owner = append(owner, i)
		}
		if want >= 0 && (timeoutMs < 0 || want < timeoutMs) {
			timeoutMs = want
		}
	}
	return
}

// checkAndDispatch runs Check/Dispatch for every sub-loop whose fds are
// present in merged, in registration order.
func (s *subLoopSet) checkAndDispatch(merged []unix.PollFd, owner []int) {
	for i, sl := range s.list {
		if sl.dead || sl.ops.Check == nil {
			continue
		}
		var own []unix.PollFd
		for j, o := range owner {
			if o == i {
				own = append(own, merged[j])
			}
		}
		if len(own) == 0 {
			continue
		}
		if sl.ops.Check(sl.UserData, own) && sl.ops.Dispatch != nil {
			sl.ops.Dispatch(sl.UserData)
		}
	}
	s.sweep()
}
