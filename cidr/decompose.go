package cidr

import (
	"errors"
	"net/netip"

	"lukechampine.com/uint128"
)

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrFamilyMismatch = errors.New("start and end addresses are from different families")
	ErrReversedRange  = errors.New("start address is after end address")
)

// Block is an aligned CIDR block in integer form. Base always has the bits below the prefix cleared.
type Block struct {
	Base  uint128.Uint128
	Bits  int
	Width int
}

func (block Block) First() uint128.Uint128 {
	return block.Base
}

func (block Block) Last() uint128.Uint128 {
	return block.Base.Or(HostMask(block.Width - block.Bits))
}

func (block Block) Prefix() netip.Prefix {
	return netip.PrefixFrom(FromUint(block.Base, block.Width), block.Bits)
}

func (block Block) String() string {
	return block.Prefix().String()
}

// split divides the block into its two halves one bit more specific.
func (block Block) split() (low, high Block) {
	low = Block{Base: block.Base, Bits: block.Bits + 1, Width: block.Width}
	high = low
	high.Base = block.Base.Or(HostMask(block.Width - block.Bits - 1).Add64(1))
	return
}

// Decompose returns the smallest ordered list of CIDR prefixes which exactly covers [start, end].
func Decompose(start, end netip.Addr) ([]netip.Prefix, error) {
	if !start.IsValid() || !end.IsValid() {
		return nil, ErrInvalidAddress
	}

	if start.BitLen() != end.BitLen() {
		return nil, ErrFamilyMismatch
	}

	if start.Compare(end) > 0 {
		return nil, ErrReversedRange
	}

	blocks := DecomposeRange(ToUint(start), ToUint(end), start.BitLen())

	prefixes := make([]netip.Prefix, 0, len(blocks))
	for _, block := range blocks {
		prefixes = append(prefixes, block.Prefix())
	}

	return prefixes, nil
}

// DecomposeRange works like Decompose on integer addresses of the given width. The caller guarantees start <= end.
func DecomposeRange(start, end uint128.Uint128, width int) []Block {
	hostBits := 128 - start.Xor(end).LeadingZeros()

	// Smallest aligned block holding both endpoints
	top := Block{
		Base:  start.And(not(HostMask(hostBits))),
		Bits:  width - hostBits,
		Width: width,
	}

	// Halves are only examined when the enclosing block overhangs the range
	return cover(nil, top, start, end)
}

func cover(blocks []Block, block Block, start, end uint128.Uint128) []Block {
	if block.First().Cmp(start) >= 0 && block.Last().Cmp(end) <= 0 {
		return append(blocks, block)
	}

	if block.Last().Cmp(start) < 0 || block.First().Cmp(end) > 0 {
		return blocks
	}

	low, high := block.split()

	blocks = cover(blocks, low, start, end)
	return cover(blocks, high, start, end)
}
