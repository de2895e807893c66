package netindex

import (
	"encoding/binary"
	"net/netip"
	"sort"
)

type trieEntry[T any] struct {
	prefix netip.Prefix
	value  T
}

type trieNode[T any] struct {
	children map[uint16]*trieNode[T]
	// entries whose prefix length ends within this level, most specific first
	entries []trieEntry[T]
}

// Trie indexes prefixes by address digit. IPv4 descends one level per byte while IPv6 descends one level per 16-bit
// word. A prefix is stored on the deepest level whose digits it fully determines, so a lookup only ever follows the
// digits of the address itself and scans the short entry list on each level it passes.
type Trie[T any] struct {
	ipv4   *trieNode[T]
	ipv6   *trieNode[T]
	length int
}

func NewTrie[T any]() *Trie[T] {
	return &Trie[T]{
		ipv4: new(trieNode[T]),
		ipv6: new(trieNode[T]),
	}
}

func (trie *Trie[T]) Length() int {
	return trie.length
}

func stride(addr netip.Addr) int {
	if addr.Is4() {
		return 8
	}
	return 16
}

// digit extracts the address digit used to descend from the given level.
func digit(addr netip.Addr, level int) uint16 {
	if addr.Is4() {
		bytes := addr.As4()
		return uint16(bytes[level])
	}

	bytes := addr.As16()
	return binary.BigEndian.Uint16(bytes[2*level:])
}

func (trie *Trie[T]) root(addr netip.Addr) *trieNode[T] {
	if addr.Is4() {
		return trie.ipv4
	}
	return trie.ipv6
}

func (trie *Trie[T]) Insert(prefix netip.Prefix, value T) {
	prefix = prefix.Masked()
	addr := prefix.Addr()

	node := trie.root(addr)
	for level := 0; level < prefix.Bits()/stride(addr); level++ {
		key := digit(addr, level)

		if node.children == nil {
			node.children = make(map[uint16]*trieNode[T])
		}

		child, ok := node.children[key]
		if !ok {
			child = new(trieNode[T])
			node.children[key] = child
		}
		node = child
	}

	for i := range node.entries {
		if node.entries[i].prefix == prefix {
			node.entries[i].value = value
			return
		}
	}

	node.entries = append(node.entries, trieEntry[T]{prefix: prefix, value: value})
	sort.SliceStable(node.entries, func(i, j int) bool {
		return node.entries[i].prefix.Bits() > node.entries[j].prefix.Bits()
	})
	trie.length++
}

func (trie *Trie[T]) Get(prefix netip.Prefix) (value T, present bool) {
	prefix = prefix.Masked()
	addr := prefix.Addr()

	node := trie.root(addr)
	for level := 0; node != nil && level < prefix.Bits()/stride(addr); level++ {
		node = node.children[digit(addr, level)]
	}

	if node == nil {
		return
	}

	for _, entry := range node.entries {
		if entry.prefix == prefix {
			return entry.value, true
		}
	}

	return
}

func (trie *Trie[T]) Find(addr netip.Addr) (value T, present bool) {
	levels := addr.BitLen() / stride(addr)

	node := trie.root(addr)
	for level := 0; node != nil; level++ {
		for _, entry := range node.entries {
			if entry.prefix.Contains(addr) {
				// Entries on deeper levels are always more specific than the ones already seen
				value, present = entry.value, true
				break
			}
		}

		if level == levels {
			break
		}

		node = node.children[digit(addr, level)]
	}

	return
}
