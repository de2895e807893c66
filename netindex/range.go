package netindex

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/jmeggitt/netrange_summary.git/cidr"
	"lukechampine.com/uint128"
)

var ErrInvalidRange = errors.New("range begins after it ends")

// Range is an inclusive span of addresses within one family. Unlike a prefix it does not need to be aligned.
type Range struct {
	Begin, End uint128.Uint128
	Width      int
}

func NewRange(begin, end uint128.Uint128, width int) (Range, error) {
	if begin.Cmp(end) > 0 {
		return Range{}, fmt.Errorf("%w: %s > %s", ErrInvalidRange, begin, end)
	}

	return Range{Begin: begin, End: end, Width: width}, nil
}

// RangeOf returns the span covered by a prefix.
func RangeOf(prefix netip.Prefix) Range {
	prefix = prefix.Masked()
	width := prefix.Addr().BitLen()
	begin := cidr.ToUint(prefix.Addr())

	return Range{
		Begin: begin,
		End:   begin.Or(cidr.HostMask(width - prefix.Bits())),
		Width: width,
	}
}

func familyRange(width int) Range {
	return Range{Begin: uint128.Zero, End: cidr.FamilyMax(width), Width: width}
}

func (r Range) Equal(other Range) bool {
	return r.Width == other.Width && r.Begin.Equals(other.Begin) && r.End.Equals(other.End)
}

// Includes reports whether other fits entirely within r.
func (r Range) Includes(other Range) bool {
	return r.Begin.Cmp(other.Begin) <= 0 && other.End.Cmp(r.End) <= 0
}

// ContainedBy reports whether r fits entirely within other.
func (r Range) ContainedBy(other Range) bool {
	return other.Includes(r)
}

// Overlaps reports a partial overlap, where the ranges intersect but neither holds the other.
func (r Range) Overlaps(other Range) bool {
	intersects := r.Begin.Cmp(other.End) <= 0 && other.Begin.Cmp(r.End) <= 0
	return intersects && !r.Includes(other) && !other.Includes(r)
}

func (r Range) LeftOf(other Range) bool {
	return r.End.Cmp(other.Begin) < 0
}

func (r Range) RightOf(other Range) bool {
	return other.End.Cmp(r.Begin) < 0
}

func (r Range) ContainsValue(value uint128.Uint128) bool {
	return r.Begin.Cmp(value) <= 0 && value.Cmp(r.End) <= 0
}

// Span returns the smallest range covering both inputs.
func Span(a, b Range) Range {
	span := a
	if b.Begin.Cmp(span.Begin) < 0 {
		span.Begin = b.Begin
	}
	if b.End.Cmp(span.End) > 0 {
		span.End = b.End
	}
	return span
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s]", cidr.FromUint(r.Begin, r.Width), cidr.FromUint(r.End, r.Width))
}
