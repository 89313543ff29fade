//go:build linux

package eventloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHost is a minimal stand-in for a foreign host loop, recording every
// registration/removal made through SuperLoopGlue so tests can assert that
// Add/Del/Mod calls are actually delegated instead of falling back to this
// loop's own poller/timerSet/deferredSet.
type fakeHost struct {
	nextToken int

	ioCBs   map[int]func(IOEvents)
	delIO   []int
	timerCB map[int]func()
	delTmr  []int
	modTmr  []hostModTimer
	deferCB map[int]func()
	delDfr  []int
}

type hostModTimer struct {
	token    int
	periodMs uint32
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		ioCBs:   map[int]func(IOEvents){},
		timerCB: map[int]func(){},
		deferCB: map[int]func(){},
	}
}

func (h *fakeHost) glue() SuperLoopGlue {
	return SuperLoopGlue{
		AddIO: func(fd int, events IOEvents, cb func(events IOEvents)) (any, error) {
			h.nextToken++
			token := h.nextToken
			h.ioCBs[token] = cb
			return token, nil
		},
		DelIO: func(token any) {
			h.delIO = append(h.delIO, token.(int))
			delete(h.ioCBs, token.(int))
		},
		AddTimer: func(periodMs uint32, cb func()) any {
			h.nextToken++
			token := h.nextToken
			h.timerCB[token] = cb
			return token
		},
		DelTimer: func(token any) {
			h.delTmr = append(h.delTmr, token.(int))
			delete(h.timerCB, token.(int))
		},
		ModTimer: func(token any, periodMs uint32) {
			h.modTmr = append(h.modTmr, hostModTimer{token.(int), periodMs})
		},
		AddDefer: func(cb func()) any {
			h.nextToken++
			token := h.nextToken
			h.deferCB[token] = cb
			return token
		},
		DelDefer: func(token any) {
			h.delDfr = append(h.delDfr, token.(int))
			delete(h.deferCB, token.(int))
		},
	}
}

// TestBindSuperLoop_DelegatesIoWatch: once a super-loop is bound,
// AddIoWatch registers through the glue's AddIO instead of this loop's own
// poller, and firing the host-held callback dispatches the original
// handler; DelIoWatch removes it through DelIO.
func TestBindSuperLoop_DelegatesIoWatch(t *testing.T) {
	l := newTestLoop(t)
	host := newFakeHost()
	require.NoError(t, l.BindSuperLoop(host.glue()))

	var fired IOEvents
	w, err := l.AddIoWatch(99, EventRead, LevelTriggered, func(_ *IoWatch, ev IOEvents) {
		fired = ev
	}, nil)
	require.NoError(t, err)
	assert.True(t, w.viaHost)
	require.Len(t, host.ioCBs, 1)

	for _, cb := range host.ioCBs {
		cb(EventRead)
	}
	assert.Equal(t, EventRead, fired)

	require.NoError(t, l.DelIoWatch(w))
	assert.Contains(t, host.delIO, w.hostToken.(int))
}

// TestBindSuperLoop_DelegatesTimer: AddTimer routes through the glue's
// AddTimer; firing the host-held callback for a one-shot timer also
// triggers a DelTimer back to the host, matching a one-shot timer's
// created -> armed -> firing -> dead transition even when the host (not
// this loop's timerSet) owns its schedule.
func TestBindSuperLoop_DelegatesTimer(t *testing.T) {
	l := newTestLoop(t)
	host := newFakeHost()
	require.NoError(t, l.BindSuperLoop(host.glue()))

	var fired bool
	tm := l.AddTimer(0, func(*Timer) bool {
		fired = true
		return false
	}, nil)
	require.True(t, tm.viaHost)
	require.Len(t, host.timerCB, 1)

	for _, cb := range host.timerCB {
		cb()
	}
	assert.True(t, fired)
	assert.Equal(t, TimerDead, tm.State())
	assert.Contains(t, host.delTmr, tm.hostToken.(int))
}

// TestBindSuperLoop_DelegatesDeferred: AddDeferred routes through the
// glue's AddDefer, and the wrapper respects SetEnabled(false) the same way
// the internal deferredSet would (no-op, rather than firing).
func TestBindSuperLoop_DelegatesDeferred(t *testing.T) {
	l := newTestLoop(t)
	host := newFakeHost()
	require.NoError(t, l.BindSuperLoop(host.glue()))

	calls := 0
	d := l.AddDeferred(func(*Deferred) { calls++ }, nil)
	require.True(t, d.viaHost)
	require.Len(t, host.deferCB, 1)

	var hostCB func()
	for _, cb := range host.deferCB {
		hostCB = cb
	}
	hostCB()
	assert.Equal(t, 1, calls)

	d.SetEnabled(false)
	hostCB()
	assert.Equal(t, 1, calls, "disabled deferred must not fire")

	require.NoError(t, l.DelDeferred(d))
	assert.Contains(t, host.delDfr, d.hostToken.(int))
}
