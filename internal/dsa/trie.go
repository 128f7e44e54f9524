package dsa

import (
	"github.com/armon/go-radix"
)

// PrefixIndex is a radix tree keyed by string. Citation ids share long
// prefixes ("CIT-3-"), so WithPrefix selects every citation of a block.
type PrefixIndex[V any] struct {
	tree *radix.Tree
}

// NewPrefixIndex creates an empty index.
func NewPrefixIndex[V any]() *PrefixIndex[V] {
	return &PrefixIndex[V]{tree: radix.New()}
}

// Insert sets key to value, replacing any previous value.
func (p *PrefixIndex[V]) Insert(key string, value V) {
	p.tree.Insert(key, value)
}

// Get looks up key.
func (p *PrefixIndex[V]) Get(key string) (V, bool) {
	val, found := p.tree.Get(key)
	if !found {
		var zero V
		return zero, false
	}
	v, ok := val.(V)
	return v, ok
}

// WithPrefix returns the values whose keys start with prefix, in key order.
func (p *PrefixIndex[V]) WithPrefix(prefix string) []V {
	var out []V
	p.tree.WalkPrefix(prefix, func(_ string, val interface{}) bool {
		if v, ok := val.(V); ok {
			out = append(out, v)
		}
		return false
	})
	return out
}

// Len returns the number of keys.
func (p *PrefixIndex[V]) Len() int {
	return p.tree.Len()
}
