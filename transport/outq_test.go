//go:build linux

package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/murphy-substrate/core/errs"
)

func TestOutQueue_PushPeekAdvanceDrainsInOrder(t *testing.T) {
	q := newOutQueue(0)
	require.NoError(t, q.push([]byte("first")))
	require.NoError(t, q.push([]byte("second")))

	frame, ok := q.peek()
	require.True(t, ok)
	assert.Equal(t, "first", string(frame))

	q.advance(len(frame)) // full send of "first"
	frame, ok = q.peek()
	require.True(t, ok)
	assert.Equal(t, "second", string(frame))

	q.advance(3) // partial send of "second"
	frame, ok = q.peek()
	require.True(t, ok)
	assert.Equal(t, "ond", string(frame))

	q.advance(3)
	assert.True(t, q.empty())
}

func TestOutQueue_PushOverCapacityFailsWithAgain(t *testing.T) {
	q := newOutQueue(4)
	require.NoError(t, q.push([]byte("ab")))
	err := q.push([]byte("abc"))
	require.Error(t, err)
	assert.Equal(t, errs.KindAgain, errs.Of(err))
}

func TestOutQueue_PopDropsFrameAndUpdatesByteCount(t *testing.T) {
	q := newOutQueue(0)
	require.NoError(t, q.push([]byte("hello")))
	assert.Equal(t, 5, q.queuedBytes())
	q.pop()
	assert.True(t, q.empty())
	assert.Equal(t, 0, q.queuedBytes())
}
