package netindex

import (
	"fmt"
	"net/netip"
	"sort"

	"github.com/jmeggitt/netrange_summary.git/cidr"
)

type nodeIndex int32

const noNode nodeIndex = -1

type treeNode[T any] struct {
	span     Range
	value    T
	hasValue bool
	// children are disjoint with children[0] to the left of children[1]. A missing child is noNode and a lone child
	// is always held in children[0].
	children [2]nodeIndex
	height   int
}

// Tree is a containment tree over inserted prefixes. Every node holds at most two disjoint children that fit
// within it. Nodes without a value are synthetic and only exist to group siblings so that a node never needs more
// than two children.
//
// Nodes live in an arena and refer to each other by index. The root of each address family is a synthetic node
// spanning the whole family, so every insertion fits under it.
type Tree[T any] struct {
	nodes  []treeNode[T]
	free   []nodeIndex
	ipv4   nodeIndex
	ipv6   nodeIndex
	length int
}

func NewTree[T any]() *Tree[T] {
	tree := new(Tree[T])
	tree.ipv4 = tree.newNode(familyRange(32))
	tree.ipv6 = tree.newNode(familyRange(128))
	return tree
}

// newNode allocates a synthetic node. The span must be well-formed.
func (tree *Tree[T]) newNode(span Range) nodeIndex {
	if span.Begin.Cmp(span.End) > 0 {
		panic(fmt.Sprintf("netindex: node constructed with invalid range %s", span))
	}

	node := treeNode[T]{
		span:     span,
		children: [2]nodeIndex{noNode, noNode},
		height:   1,
	}

	if count := len(tree.free); count > 0 {
		index := tree.free[count-1]
		tree.free = tree.free[:count-1]
		tree.nodes[index] = node
		return index
	}

	tree.nodes = append(tree.nodes, node)
	return nodeIndex(len(tree.nodes) - 1)
}

func (tree *Tree[T]) release(index nodeIndex) {
	tree.nodes[index] = treeNode[T]{children: [2]nodeIndex{noNode, noNode}}
	tree.free = append(tree.free, index)
}

func (tree *Tree[T]) root(addr netip.Addr) nodeIndex {
	if addr.Is4() {
		return tree.ipv4
	}
	return tree.ipv6
}

func (tree *Tree[T]) Length() int {
	return tree.length
}

func (tree *Tree[T]) Insert(prefix netip.Prefix, value T) {
	span := RangeOf(prefix)
	root := tree.root(prefix.Addr())

	if !tree.nodes[root].span.Includes(span) {
		panic(fmt.Sprintf("netindex: %s does not fit under root %s", prefix, tree.nodes[root].span))
	}

	tree.insert(root, span, value)
}

func (tree *Tree[T]) insert(at nodeIndex, span Range, value T) {
	if tree.nodes[at].span.Equal(span) {
		if !tree.nodes[at].hasValue {
			tree.length++
		}
		tree.nodes[at].value = value
		tree.nodes[at].hasValue = true
		return
	}

	candidates := tree.childList(at)

	for i := 0; i < len(candidates); {
		child := tree.nodes[candidates[i]]

		switch {
		case child.span.Includes(span):
			// Siblings are disjoint, so a child holding the new range rules out any partial overlap elsewhere
			tree.insert(candidates[i], span, value)
			tree.updateHeight(at)
			return
		case child.span.Overlaps(span):
			if child.hasValue {
				panic(fmt.Sprintf("netindex: %s partially overlaps indexed range %s", span, child.span))
			}

			// A synthetic grouping straddles the new range, so dissolve it and reconsider its children in its place
			grandchildren := tree.childList(candidates[i])
			tree.release(candidates[i])
			candidates = append(candidates[:i], append(grandchildren, candidates[i+1:]...)...)
			continue
		}

		i++
	}

	created := tree.newNode(span)
	tree.nodes[created].value = value
	tree.nodes[created].hasValue = true
	tree.length++

	var inner, outer []nodeIndex
	for _, candidate := range candidates {
		if span.Includes(tree.nodes[candidate].span) {
			inner = append(inner, candidate)
		} else {
			outer = append(outer, candidate)
		}
	}

	tree.setChildren(created, inner)
	tree.setChildren(at, append(outer, created))
}

func (tree *Tree[T]) childList(at nodeIndex) []nodeIndex {
	list := make([]nodeIndex, 0, 2)
	for _, child := range tree.nodes[at].children {
		if child != noNode {
			list = append(list, child)
		}
	}
	return list
}

// setChildren assigns a set of disjoint nodes as the children of at. When there are more than two, adjacent pairs
// are grouped under synthetic nodes, always picking the pair which results in the shortest subtree.
func (tree *Tree[T]) setChildren(at nodeIndex, list []nodeIndex) {
	sort.Slice(list, func(i, j int) bool {
		return tree.nodes[list[i]].span.LeftOf(tree.nodes[list[j]].span)
	})

	for len(list) > 2 {
		best := 0
		bestHeight := -1
		for i := 0; i+1 < len(list); i++ {
			height := max(tree.nodes[list[i]].height, tree.nodes[list[i+1]].height)
			if bestHeight == -1 || height < bestHeight {
				best, bestHeight = i, height
			}
		}

		group := tree.newNode(Span(tree.nodes[list[best]].span, tree.nodes[list[best+1]].span))
		tree.nodes[group].children = [2]nodeIndex{list[best], list[best+1]}
		tree.updateHeight(group)

		list[best] = group
		list = append(list[:best+1], list[best+2:]...)
	}

	children := [2]nodeIndex{noNode, noNode}
	copy(children[:], list)
	tree.nodes[at].children = children
	tree.updateHeight(at)
}

func (tree *Tree[T]) updateHeight(at nodeIndex) {
	height := 0
	for _, child := range tree.nodes[at].children {
		if child != noNode && tree.nodes[child].height > height {
			height = tree.nodes[child].height
		}
	}
	tree.nodes[at].height = height + 1
}

func (tree *Tree[T]) Find(addr netip.Addr) (value T, present bool) {
	target := cidr.ToUint(addr)

	for at := tree.root(addr); at != noNode; {
		node := &tree.nodes[at]
		if node.hasValue {
			value, present = node.value, true
		}

		next := noNode
		for _, child := range node.children {
			if child != noNode && tree.nodes[child].span.ContainsValue(target) {
				next = child
				break
			}
		}
		at = next
	}

	return
}

// Get returns the value of a node spanning exactly the prefix. Synthetic nodes have no value.
func (tree *Tree[T]) Get(prefix netip.Prefix) (value T, present bool) {
	span := RangeOf(prefix)

	for at := tree.root(prefix.Addr()); at != noNode; {
		node := &tree.nodes[at]
		if node.span.Equal(span) {
			return node.value, node.hasValue
		}

		next := noNode
		for _, child := range node.children {
			if child != noNode && tree.nodes[child].span.Includes(span) {
				next = child
				break
			}
		}
		at = next
	}

	return
}
