// Package ht implements the hash table primitive: bucket-chained entries
// backed by a chunk pool (for stable cookies and pointer identity) plus an
// insertion-ordered list of non-empty buckets that iteration walks, kept
// consistent under in-callback deletion.
package ht

import (
	"github.com/murphy-substrate/core/errs"
	"github.com/murphy-substrate/core/pool"
)

// Direction selects the order ForEach walks entries in.
type Direction int

const (
	Forward Direction = iota
	Reverse
)

type entry[K comparable, V any] struct {
	key    K
	value  V
	cookie pool.Cookie
	bucket int

	chainPrev, chainNext *entry[K, V]
}

type bucketSlot[K comparable, V any] struct {
	head *entry[K, V]
	used bool
	// links within the insertion-ordered used-bucket list
	uPrev, uNext int
}

// Table is a generic hash table with stable cookies and mutation-safe
// iteration. The zero value is not usable; construct with New.
type Table[K comparable, V any] struct {
	hash func(K) uint32

	buckets []bucketSlot[K, V]
	entries *pool.Pool[entry[K, V]]
	count   int

	usedHead, usedTail int // bucket indices, -1 if empty

	iters []*Iterator[K, V]
}

// New constructs a Table using hash as the bucket-selection function for K.
// Use HashString, HashBlob, HashUint, or HashPointer (wrapped to take K) for
// the well-known key-type contracts, or a custom function for other K.
func New[K comparable, V any](hash func(K) uint32) *Table[K, V] {
	n := primeAtLeast(11)
	t := &Table[K, V]{
		hash:     hash,
		buckets:  make([]bucketSlot[K, V], n),
		entries:  pool.New[entry[K, V]](),
		usedHead: -1,
		usedTail: -1,
	}
	for i := range t.buckets {
		t.buckets[i].uPrev, t.buckets[i].uNext = -1, -1
	}
	return t
}

// Len returns the number of entries currently stored.
func (t *Table[K, V]) Len() int { return t.count }

func (t *Table[K, V]) bucketIndex(key K) int {
	return int(t.hash(key) % uint32(len(t.buckets)))
}

// Insert adds key/value, minting a fresh cookie for the entry. Returns
// errs.Exists if key is already present.
func (t *Table[K, V]) Insert(key K, value V) (pool.Cookie, error) {
	bi := t.bucketIndex(key)
	var last *entry[K, V]
	for e := t.buckets[bi].head; e != nil; e = e.chainNext {
		if e.key == key {
			return pool.CookieNone, errs.New(errs.KindExists, "duplicate key")
		}
		last = e
	}

	cookie, slot, err := t.entries.Alloc()
	if err != nil {
		return pool.CookieNone, errs.Wrap(errs.KindOutOfMemory, "entry allocation failed", err)
	}
	slot.key = key
	slot.value = value
	slot.cookie = cookie
	slot.bucket = bi

	slot.chainNext = nil
	slot.chainPrev = last
	if last != nil {
		last.chainNext = slot
	} else {
		t.buckets[bi].head = slot
	}

	if !t.buckets[bi].used {
		t.linkUsedBucket(bi)
	}
	t.count++
	return cookie, nil
}

func (t *Table[K, V]) linkUsedBucket(bi int) {
	t.buckets[bi].used = true
	t.buckets[bi].uPrev = t.usedTail
	t.buckets[bi].uNext = -1
	if t.usedTail >= 0 {
		t.buckets[t.usedTail].uNext = bi
	} else {
		t.usedHead = bi
	}
	t.usedTail = bi
}

func (t *Table[K, V]) unlinkUsedBucket(bi int) {
	b := &t.buckets[bi]
	b.used = false
	if b.uPrev >= 0 {
		t.buckets[b.uPrev].uNext = b.uNext
	} else {
		t.usedHead = b.uNext
	}
	if b.uNext >= 0 {
		t.buckets[b.uNext].uPrev = b.uPrev
	} else {
		t.usedTail = b.uPrev
	}
	b.uPrev, b.uNext = -1, -1
}

// Lookup returns the value for key, or (zero, false) if absent.
func (t *Table[K, V]) Lookup(key K) (V, bool) {
	bi := t.bucketIndex(key)
	for e := t.buckets[bi].head; e != nil; e = e.chainNext {
		if e.key == key {
			return e.value, true
		}
	}
	var zero V
	return zero, false
}

// LookupCookie resolves a cookie directly and returns the stored key along
// with the value. It takes no key and checks none: a cookie whose entry was
// deleted does not resolve, but once a later Insert reuses that pool slot the
// same cookie resolves to the new entry.
func (t *Table[K, V]) LookupCookie(cookie pool.Cookie) (K, V, bool) {
	e, ok := t.entries.Get(cookie)
	if !ok {
		var k K
		var v V
		return k, v, false
	}
	return e.key, e.value, true
}

// Delete removes key, fixing up any active iterators positioned on the
// removed entry or about to enter the bucket it emptied.
func (t *Table[K, V]) Delete(key K) (V, bool) {
	bi := t.bucketIndex(key)
	for e := t.buckets[bi].head; e != nil; e = e.chainNext {
		if e.key == key {
			v := e.value
			t.removeEntry(e)
			return v, true
		}
	}
	var zero V
	return zero, false
}

// DeleteCookie removes the entry identified by cookie.
func (t *Table[K, V]) DeleteCookie(cookie pool.Cookie) (K, V, bool) {
	e, ok := t.entries.Get(cookie)
	if !ok {
		var k K
		var v V
		return k, v, false
	}
	k, v := e.key, e.value
	t.removeEntry(e)
	return k, v, true
}

func (t *Table[K, V]) removeEntry(e *entry[K, V]) {
	bi := e.bucket

	for _, it := range t.iters {
		it.onDelete(e)
	}

	if e.chainPrev != nil {
		e.chainPrev.chainNext = e.chainNext
	} else {
		t.buckets[bi].head = e.chainNext
	}
	if e.chainNext != nil {
		e.chainNext.chainPrev = e.chainPrev
	}

	cookie := e.cookie
	_ = t.entries.Free(cookie)
	t.count--

	if t.buckets[bi].head == nil && t.buckets[bi].used {
		t.unlinkUsedBucket(bi)
	}
}

// Iterator walks a Table's entries bucket by bucket, in the order the
// buckets became non-empty, and each bucket's chain in insertion order
// (Reverse walks the exact opposite). Entries in different buckets are
// therefore not in overall insertion order. It remains valid across
// deletion of the entry currently visited.
type Iterator[K comparable, V any] struct {
	t         *Table[K, V]
	dir       Direction
	bucket    int // current bucket index, -1 when exhausted
	cur       *entry[K, V]
	exhausted bool
}

// ForEach begins an iteration in the given direction. The returned Iterator
// is registered with the table so that deleting the entry it is currently
// positioned on (from within a callback driven by Next) does not invalidate
// it: Next always advances to the true successor.
func (t *Table[K, V]) ForEach(dir Direction) *Iterator[K, V] {
	it := &Iterator[K, V]{t: t, dir: dir}
	if dir == Forward {
		it.bucket = t.usedHead
	} else {
		it.bucket = t.usedTail
	}
	it.advanceToEntry()
	t.iters = append(t.iters, it)
	return it
}

// Close detaches the iterator from the table's mutation-fixup list. Callers
// that exhaust an Iterator via repeated Next calls (until ok is false) do
// not need to call Close explicitly, as Next does it automatically.
func (it *Iterator[K, V]) Close() {
	if it.t == nil {
		return
	}
	for i, o := range it.t.iters {
		if o == it {
			it.t.iters = append(it.t.iters[:i], it.t.iters[i+1:]...)
			break
		}
	}
	it.t = nil
}

// advanceToEntry walks forward from it.bucket until it finds a bucket with
// a chain head, setting it.cur, or exhausts the used-bucket list.
func (it *Iterator[K, V]) advanceToEntry() {
	for it.bucket >= 0 {
		b := &it.t.buckets[it.bucket]
		if b.head != nil {
			if it.dir == Forward {
				it.cur = b.head
			} else {
				it.cur = chainTail(b.head)
			}
			return
		}
		it.bucket = it.nextBucket(it.bucket)
	}
	it.cur = nil
	it.exhausted = true
}

func chainTail[K comparable, V any](e *entry[K, V]) *entry[K, V] {
	for e.chainNext != nil {
		e = e.chainNext
	}
	return e
}

func (it *Iterator[K, V]) nextBucket(bi int) int {
	if it.dir == Forward {
		return it.t.buckets[bi].uNext
	}
	return it.t.buckets[bi].uPrev
}

// Next returns the next key/value pair in the iteration, or ok == false once
// exhausted (at which point the iterator is automatically closed).
func (it *Iterator[K, V]) Next() (key K, value V, ok bool) {
	if it.exhausted || it.cur == nil {
		it.Close()
		var k K
		var v V
		return k, v, false
	}
	e := it.cur
	key, value = e.key, e.value

	if it.dir == Forward {
		it.cur = e.chainNext
	} else {
		it.cur = e.chainPrev
	}
	if it.cur == nil {
		it.bucket = it.nextBucket(it.bucket)
		it.advanceToEntry()
	}
	return key, value, true
}

// onDelete fixes up the iterator's position if e is the entry it is
// currently visiting or about to visit within its current bucket.
func (it *Iterator[K, V]) onDelete(e *entry[K, V]) {
	if it.cur != e {
		return
	}
	// Advance to the true successor within the chain first, falling back to
	// the next used bucket if the chain is exhausted.
	if it.dir == Forward {
		it.cur = e.chainNext
	} else {
		it.cur = e.chainPrev
	}
	if it.cur == nil {
		// The bucket this entry lived in may itself be unlinked by the
		// caller (removeEntry) right after onDelete returns; capture the
		// next used bucket now while e.bucket's links are still intact.
		it.bucket = it.nextBucket(e.bucket)
		it.advanceToEntry()
	}
}
