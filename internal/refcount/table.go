// Package refcount holds values alive for as long as something references them.
package refcount

import (
	"maps"
	"slices"
)

// Table maps keys to values with a reference count per key. A value is present
// exactly while its count is above zero. Table is not safe for concurrent use.
type Table[K comparable, V any] struct {
	counts map[K]int
	values map[K]V
}

func New[K comparable, V any]() *Table[K, V] {
	return &Table[K, V]{
		counts: make(map[K]int),
		values: make(map[K]V),
	}
}

// Acquire adds one reference to key, storing v on the first reference.
// It reports whether this was the first reference.
func (t *Table[K, V]) Acquire(key K, v V) bool {
	t.counts[key]++
	if t.counts[key] == 1 {
		t.values[key] = v
		return true
	}
	return false
}

// Set replaces the value of a live key without touching its count. It reports
// false and stores nothing when key is not live.
func (t *Table[K, V]) Set(key K, v V) bool {
	if t.counts[key] == 0 {
		return false
	}
	t.values[key] = v
	return true
}

// Release drops one reference and evicts the key once none remain.
// It reports whether the key was evicted. Releasing an absent key is a no-op.
func (t *Table[K, V]) Release(key K) bool {
	n, ok := t.counts[key]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(t.counts, key)
		delete(t.values, key)
		return true
	}
	t.counts[key] = n - 1
	return false
}

func (t *Table[K, V]) Count(key K) int {
	return t.counts[key]
}

func (t *Table[K, V]) Get(key K) (V, bool) {
	v, ok := t.values[key]
	return v, ok
}

func (t *Table[K, V]) Len() int {
	return len(t.values)
}

func (t *Table[K, V]) Keys() []K {
	return slices.Collect(maps.Keys(t.values))
}

func (t *Table[K, V]) Values() []V {
	return slices.Collect(maps.Values(t.values))
}
