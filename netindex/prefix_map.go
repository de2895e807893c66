package netindex

import "net/netip"

// PrefixMap is the flat variant of Index. Lookups check the map once for every prefix length between the most and
// least specific prefix inserted for the address family, so it degrades once many lengths are in use.
type PrefixMap[T any] struct {
	// An ordered map like a BTreeMap could have been better, but I was unable to find a good generic implementation
	inner map[netip.Prefix]T
	ipv4  prefixBitRange
	ipv6  prefixBitRange
}

func MakePrefixMap[T any]() PrefixMap[T] {
	return PrefixMap[T]{
		make(map[netip.Prefix]T),
		prefixBitRange{32, 0},
		prefixBitRange{128, 0},
	}
}

func (prefixMap *PrefixMap[T]) Length() int {
	return len(prefixMap.inner)
}

func (prefixMap *PrefixMap[T]) Insert(prefix netip.Prefix, value T) {
	prefixMap.inner[prefix.Masked()] = value

	if prefix.Addr().Is4() {
		prefixMap.ipv4.add(prefix.Bits())
	} else {
		prefixMap.ipv6.add(prefix.Bits())
	}
}

func (prefixMap *PrefixMap[T]) Get(prefix netip.Prefix) (value T, present bool) {
	value, present = prefixMap.inner[prefix.Masked()]
	return
}

func (prefixMap *PrefixMap[T]) Find(addr netip.Addr) (value T, present bool) {
	_, value, present = prefixMap.FindPrefix(addr)
	return
}

// FindPrefix works like Find, but also returns the matching prefix.
func (prefixMap *PrefixMap[T]) FindPrefix(addr netip.Addr) (prefix netip.Prefix, value T, present bool) {
	bitRange := prefixMap.ipv4

	if addr.Is6() {
		bitRange = prefixMap.ipv6
	}

	for bits := bitRange.max; bits >= bitRange.min && !present; bits-- {
		prefix = netip.PrefixFrom(addr, bits).Masked()
		value, present = prefixMap.inner[prefix]
	}

	if !present {
		prefix = netip.Prefix{}
	}

	return
}

type prefixBitRange struct {
	min int
	max int
}

func (bitRange *prefixBitRange) add(value int) {
	if value < bitRange.min {
		bitRange.min = value
	}

	if value > bitRange.max {
		bitRange.max = value
	}
}
