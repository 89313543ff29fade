package ht

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/murphy-substrate/core/errs"
	"github.com/murphy-substrate/core/pool"
)

func newStringTable[V any]() *Table[string, V] {
	return New[string, V](HashString)
}

func TestTable_InsertLookupDelete(t *testing.T) {
	tb := newStringTable[int]()

	c, err := tb.Insert("a", 1)
	require.NoError(t, err)
	require.NotZero(t, c)

	v, ok := tb.Lookup("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	_, err = tb.Insert("a", 2)
	require.ErrorIs(t, err, errs.Exists)

	v, ok = tb.Delete("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	_, ok = tb.Lookup("a")
	require.False(t, ok)
}

func TestTable_CookieStability(t *testing.T) {
	tb := newStringTable[int]()

	c, err := tb.Insert("k", 99)
	require.NoError(t, err)

	k, v, ok := tb.LookupCookie(c)
	require.True(t, ok)
	require.Equal(t, "k", k)
	require.Equal(t, 99, v)

	_, _, ok = tb.DeleteCookie(c)
	require.True(t, ok)

	_, _, ok = tb.LookupCookie(c)
	require.False(t, ok, "cookie must not resolve after delete")
}

func TestTable_ForEachOrderAndChurn(t *testing.T) {
	tb := newStringTable[int]()

	const n = 1000
	cookies := make([]pool.Cookie, n)
	for i := 0; i < n; i++ {
		c, err := tb.Insert(fmt.Sprintf("k%d", i), i)
		require.NoError(t, err)
		cookies[i] = c
	}

	it := tb.ForEach(Forward)
	i := 0
	var survivors []int
	for {
		_, v, ok := it.Next()
		if !ok {
			break
		}
		if i%3 == 2 {
			_, _, _ = tb.DeleteCookie(cookies[v])
		} else {
			survivors = append(survivors, v)
		}
		i++
	}

	require.Equal(t, n, i, "iteration must visit every originally-inserted entry exactly once")

	expected := (n*2 + 2) / 3
	require.Equal(t, expected, tb.Len())

	it2 := tb.ForEach(Forward)
	var after []int
	for {
		_, v, ok := it2.Next()
		if !ok {
			break
		}
		after = append(after, v)
	}
	require.Equal(t, survivors, after)
}
