package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/murphy-substrate/core/eventloop"
)

func newTestLoop(t *testing.T) *eventloop.Loop {
	t.Helper()
	l, err := eventloop.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Destroy() })
	return l
}

func TestIDOf_StableAndProcessWide(t *testing.T) {
	a := IDOf("murphy.test.alpha")
	b := IDOf("murphy.test.alpha")
	c := IDOf("murphy.test.beta")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	name, ok := NameOf(a)
	require.True(t, ok)
	assert.Equal(t, "murphy.test.alpha", name)
}

func TestBitMask_SetAndTest(t *testing.T) {
	var m BitMask
	m.Set(3)
	m.Set(130)
	assert.True(t, m.Test(3))
	assert.True(t, m.Test(130))
	assert.False(t, m.Test(4))
	assert.False(t, m.Test(129))
}

func TestWatchID_ReceivesOnlyItsID(t *testing.T) {
	l := newTestLoop(t)
	b := New(l)

	idA := IDOf("bus.test.a")
	idB := IDOf("bus.test.b")

	var got []uint32
	b.WatchID(idA, FormatNative, func(ev *Event) { got = append(got, ev.ID) })

	b.Emit(idA, "payload-a")
	b.Emit(idB, "payload-b")

	assert.Equal(t, []uint32{idA}, got)
}

func TestWatch_MaskDeliversToAllMatchingIDs(t *testing.T) {
	l := newTestLoop(t)
	b := New(l)

	idA := IDOf("bus.test.mask.a")
	idB := IDOf("bus.test.mask.b")
	idC := IDOf("bus.test.mask.c")

	var got []uint32
	b.Watch(MaskOf(idA, idB), FormatNative, func(ev *Event) { got = append(got, ev.ID) })

	b.Emit(idA, nil)
	b.Emit(idB, nil)
	b.Emit(idC, nil)

	assert.ElementsMatch(t, []uint32{idA, idB}, got)
}

func TestEmit_RunsInCallerFrame(t *testing.T) {
	l := newTestLoop(t)
	b := New(l)

	id := IDOf("bus.test.sync")
	fired := false
	b.WatchID(id, FormatNative, func(*Event) { fired = true })

	b.Emit(id, nil)
	assert.True(t, fired, "Emit must deliver before returning")
}

func TestEmitAsync_DeliversOnNextCycle(t *testing.T) {
	l := newTestLoop(t)
	b := New(l)

	id := IDOf("bus.test.async")
	done := make(chan struct{})
	var fired bool
	b.WatchID(id, FormatNative, func(*Event) {
		fired = true
		close(done)
	})

	b.EmitAsync(id, nil)
	assert.False(t, fired, "EmitAsync must not deliver synchronously")

	l.AddTimer(50, func(*eventloop.Timer) bool {
		l.Quit(0)
		return false
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := l.Run(ctx)
	require.NoError(t, err)
	assert.True(t, fired)
}

func TestUnwatch_StopsFurtherDelivery(t *testing.T) {
	l := newTestLoop(t)
	b := New(l)

	id := IDOf("bus.test.unwatch")
	count := 0
	w := b.WatchID(id, FormatNative, func(*Event) { count++ })

	b.Emit(id, nil)
	b.Unwatch(w)
	b.Emit(id, nil)

	assert.Equal(t, 1, count)
}

func TestUnwatch_DuringOwnDispatchCompletesCurrentEmit(t *testing.T) {
	l := newTestLoop(t)
	b := New(l)

	id := IDOf("bus.test.unwatch-self")
	count := 0
	var w *Watch
	w = b.WatchID(id, FormatNative, func(*Event) {
		count++
		b.Unwatch(w)
	})

	b.Emit(id, nil) // self-removing callback still runs this time
	b.Emit(id, nil) // but not again
	assert.Equal(t, 1, count)
}

func TestWatch_FormatMessageRejectsNativePayload(t *testing.T) {
	l := newTestLoop(t)
	b := New(l)

	id := IDOf("bus.test.format-mismatch")
	called := false
	b.WatchID(id, FormatMessage, func(*Event) { called = true })

	b.Emit(id, "native payload, not a message")
	assert.False(t, called, "a Message-format watch must not fire on a native-only event")
}
