// Package dsa provides the data structures behind the keyword index.
// Uses go-radix for a compressed prefix tree.
package dsa

import (
	"github.com/armon/go-radix"
)

// Trie wraps go-radix as a typed, ordered key registry. Keys sharing a
// prefix (chunk_000, chunk_001, ...) compress into shared nodes.
type Trie[V any] struct {
	tree *radix.Tree
}

// NewTrie creates an empty tree.
func NewTrie[V any]() *Trie[V] {
	return &Trie[V]{tree: radix.New()}
}

// Insert adds or replaces a key. It reports whether the key already existed.
func (t *Trie[V]) Insert(key string, value V) bool {
	_, updated := t.tree.Insert(key, value)
	return updated
}

// Get looks up a key.
func (t *Trie[V]) Get(key string) (V, bool) {
	val, found := t.tree.Get(key)
	if !found {
		var zero V
		return zero, false
	}
	v, ok := val.(V)
	return v, ok
}

// WithPrefix returns the values whose keys start with prefix, in key order.
func (t *Trie[V]) WithPrefix(prefix string) []V {
	var out []V
	t.tree.WalkPrefix(prefix, func(_ string, v interface{}) bool {
		if val, ok := v.(V); ok {
			out = append(out, val)
		}
		return false
	})
	return out
}

// Len returns the number of keys.
func (t *Trie[V]) Len() int {
	return t.tree.Len()
}
