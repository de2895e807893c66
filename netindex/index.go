package netindex

import (
	"fmt"
	"net/netip"

	"github.com/jmeggitt/netrange_summary.git/cidr"
)

// Index maps discovered networks to a value and answers most-specific containment queries. Implementations are not
// safe for concurrent mutation.
type Index[T any] interface {
	// Insert adds a prefix. Inserting a prefix that is already present replaces its value.
	Insert(prefix netip.Prefix, value T)
	// Get returns the value of exactly this prefix.
	Get(prefix netip.Prefix) (value T, present bool)
	// Find returns the value of the smallest inserted prefix containing addr.
	Find(addr netip.Addr) (value T, present bool)
	// Length is the number of distinct prefixes inserted.
	Length() int
}

const (
	KindTree = "tree"
	KindTrie = "trie"
	KindMap  = "map"
)

func New[T any](kind string) (Index[T], error) {
	switch kind {
	case KindTree, "":
		return NewTree[T](), nil
	case KindTrie:
		return NewTrie[T](), nil
	case KindMap:
		prefixMap := MakePrefixMap[T]()
		return &prefixMap, nil
	}

	return nil, fmt.Errorf("unknown index kind %q", kind)
}

// InsertRange decomposes [start, end] into prefixes and inserts each of them with the same value. Prefixes which
// are already present keep their value. It returns the prefixes which were inserted.
func InsertRange[T any](index Index[T], start, end netip.Addr, value T) ([]netip.Prefix, error) {
	prefixes, err := cidr.Decompose(start, end)
	if err != nil {
		return nil, err
	}

	inserted := prefixes[:0]
	for _, prefix := range prefixes {
		if _, present := index.Get(prefix); present {
			continue
		}

		index.Insert(prefix, value)
		inserted = append(inserted, prefix)
	}

	return inserted, nil
}
