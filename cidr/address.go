package cidr

import (
	"encoding/binary"
	"math"
	"net/netip"

	"lukechampine.com/uint128"
)

// ToUint converts an address into its integer form. IPv4 addresses occupy the low 32 bits.
func ToUint(addr netip.Addr) uint128.Uint128 {
	if addr.Is4() {
		bytes := addr.As4()
		return uint128.From64(uint64(binary.BigEndian.Uint32(bytes[:])))
	}

	bytes := addr.As16()
	return uint128.FromBytesBE(bytes[:])
}

// FromUint is the inverse of ToUint for an address family of the given bit width (32 or 128).
func FromUint(value uint128.Uint128, width int) netip.Addr {
	if width == 32 {
		var bytes [4]byte
		binary.BigEndian.PutUint32(bytes[:], uint32(value.Lo))
		return netip.AddrFrom4(bytes)
	}

	var bytes [16]byte
	binary.BigEndian.PutUint64(bytes[:8], value.Hi)
	binary.BigEndian.PutUint64(bytes[8:], value.Lo)
	return netip.AddrFrom16(bytes)
}

// HostMask returns a value with the lowest bits set.
func HostMask(bits int) uint128.Uint128 {
	switch {
	case bits <= 0:
		return uint128.Zero
	case bits >= 128:
		return uint128.Max
	case bits >= 64:
		return uint128.New(math.MaxUint64, uint64(1)<<uint(bits-64)-1)
	default:
		return uint128.New(uint64(1)<<uint(bits)-1, 0)
	}
}

func not(value uint128.Uint128) uint128.Uint128 {
	return value.Xor(uint128.Max)
}

// FamilyMax is the largest address value for a family of the given width.
func FamilyMax(width int) uint128.Uint128 {
	return HostMask(width)
}
