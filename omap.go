package taurus

import (
	"cmp"
	"iter"

	rb "github.com/glycerine/rbtree"
)

// omap is an ordered map on a red-black tree. Ranging
// over it with all() visits keys in sorted order, so a
// Close() that walks every peer does so in the same
// order on every run, which keeps test logs comparable.
//
// get2/setIfAbsent/delkey are O(log n). Like the builtin map, an
// omap does no locking; the registry only touches it
// from the consumer goroutine. Deleting the current key
// from inside an all() loop is allowed.
type omap[K cmp.Ordered, V any] struct {
	tree *rb.Tree

	// bumped on every insert/delete, so all() can
	// tell when its cached order went stale.
	version int64

	ordercache   []*okv[K, V]
	cacheversion int64
}

type okv[K cmp.Ordered, V any] struct {
	key K
	val V
}

func newOmap[K cmp.Ordered, V any]() *omap[K, V] {
	return &omap[K, V]{
		tree: rb.NewTree(func(a, b rb.Item) int {
			return cmp.Compare(a.(*okv[K, V]).key, b.(*okv[K, V]).key)
		}),
	}
}

func (s *omap[K, V]) Len() int {
	return s.tree.Len()
}

func (s *omap[K, V]) invalidate() {
	s.version++
	s.ordercache = nil
	s.cacheversion = 0
}

// setIfAbsent inserts only when key is missing.
func (s *omap[K, V]) setIfAbsent(key K, val V) (inserted bool) {
	query := &okv[K, V]{key: key, val: val}
	if _, found := s.tree.FindGE_isEqual(query); found {
		return false
	}
	s.invalidate()
	s.tree.InsertGetIt(query)
	return true
}

func (s *omap[K, V]) get2(key K) (val V, found bool) {
	var it rb.Iterator
	it, found = s.tree.FindGE_isEqual(&okv[K, V]{key: key})
	if found {
		val = it.Item().(*okv[K, V]).val
	}
	return
}

// delkey deletes key if present.
func (s *omap[K, V]) delkey(key K) (found bool) {
	var it rb.Iterator
	it, found = s.tree.FindGE_isEqual(&okv[K, V]{key: key})
	if found {
		s.invalidate()
		s.tree.DeleteWithIterator(it)
	}
	return
}

// all ranges in key order. Repeated full scans with no
// change in between reuse a cached slice instead of
// walking the tree. Keys the body deletes before we
// reach them are skipped.
func (s *omap[K, V]) all() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		vers := s.version
		if s.ordercache == nil || s.cacheversion != vers || len(s.ordercache) != s.tree.Len() {
			s.ordercache = s.ordercache[:0]
			for it := s.tree.Min(); !it.Limit(); it = it.Next() {
				s.ordercache = append(s.ordercache, it.Item().(*okv[K, V]))
			}
			s.cacheversion = vers
		}
		// iterate a private copy; the body may delete.
		snap := append([]*okv[K, V](nil), s.ordercache...)
		for _, kv := range snap {
			if s.version != vers {
				// skip keys deleted behind our back.
				if _, ok := s.get2(kv.key); !ok {
					continue
				}
			}
			if !yield(kv.key, kv.val) {
				return
			}
		}
	}
}
