package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type widget struct {
	a, b int64
	s    string
}

func TestPool_AllocFreeReuse(t *testing.T) {
	p := New[widget](WithChunkBytes(256))

	c1, e1, err := p.Alloc()
	require.NoError(t, err)
	require.NotEqual(t, CookieNone, c1)
	e1.a = 42

	got, ok := p.Get(c1)
	require.True(t, ok)
	require.Equal(t, int64(42), got.a)

	require.NoError(t, p.Free(c1))
	_, ok = p.Get(c1)
	require.False(t, ok, "freed cookie must not resolve")

	c2, _, err := p.Alloc()
	require.NoError(t, err)
	require.Equal(t, c1, c2, "freed slot should be reused by next alloc (first-fit)")
}

func TestPool_CookieStabilityAcrossGrowth(t *testing.T) {
	p := New[widget](WithChunkBytes(128))

	var cookies []Cookie
	for i := 0; i < 500; i++ {
		c, e, err := p.Alloc()
		require.NoError(t, err)
		e.a = int64(i)
		cookies = append(cookies, c)
	}

	for i, c := range cookies {
		v, ok := p.Get(c)
		require.True(t, ok)
		require.Equal(t, int64(i), v.a, "cookie %d must still resolve to its original entry", c)
	}
}

func TestPool_RangeErrors(t *testing.T) {
	p := New[widget]()

	_, ok := p.Get(CookieNone)
	require.False(t, ok)

	_, ok = p.Get(Cookie(9999))
	require.False(t, ok)

	require.ErrorIs(t, p.Free(Cookie(9999)), ErrRange)
}

func TestPool_Ceiling(t *testing.T) {
	p := New[widget](WithChunkBytes(128), WithCeiling(3))

	for i := 0; i < 3; i++ {
		_, _, err := p.Alloc()
		require.NoError(t, err)
	}
	_, _, err := p.Alloc()
	require.ErrorIs(t, err, ErrOutOfSpace)
}

func TestPool_PointerStability(t *testing.T) {
	p := New[widget](WithChunkBytes(64))

	c, e, err := p.Alloc()
	require.NoError(t, err)
	e.s = "hello"

	// force growth by allocating many more entries
	for i := 0; i < 100; i++ {
		_, _, err := p.Alloc()
		require.NoError(t, err)
	}

	v, ok := p.Get(c)
	require.True(t, ok)
	require.Equal(t, "hello", v.s, "pointer/cookie must remain valid across chunk growth")
}
