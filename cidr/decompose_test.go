package cidr

import (
	"math/rand"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"lukechampine.com/uint128"
)

func prefixStrings(prefixes []netip.Prefix) []string {
	var out []string
	for _, prefix := range prefixes {
		out = append(out, prefix.String())
	}
	return out
}

func TestDecompose(t *testing.T) {
	tests := []struct {
		start, end string
		expected   []string
	}{
		{"10.0.0.0", "10.0.0.255", []string{"10.0.0.0/24"}},
		{"10.0.0.7", "10.0.0.7", []string{"10.0.0.7/32"}},
		{"0.0.0.0", "255.255.255.255", []string{"0.0.0.0/0"}},
		{"192.168.0.0", "192.168.255.255", []string{"192.168.0.0/16"}},
		{"10.0.0.0", "10.0.2.255", []string{"10.0.0.0/23", "10.0.2.0/24"}},
		{"10.0.0.255", "10.0.1.0", []string{"10.0.0.255/32", "10.0.1.0/32"}},
		{"10.0.0.1", "10.0.0.254", []string{
			"10.0.0.1/32", "10.0.0.2/31", "10.0.0.4/30", "10.0.0.8/29", "10.0.0.16/28", "10.0.0.32/27", "10.0.0.64/26",
			"10.0.0.128/26", "10.0.0.192/27", "10.0.0.224/28", "10.0.0.240/29", "10.0.0.248/30", "10.0.0.252/31",
			"10.0.0.254/32",
		}},
		{"2001:db8::", "2001:db8::ffff", []string{"2001:db8::/112"}},
		{"2001:db8::", "2001:db9:ffff:ffff:ffff:ffff:ffff:ffff", []string{"2001:db8::/31"}},
		{"::", "ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff", []string{"::/0"}},
		{"2001:db8::1", "2001:db8::2", []string{"2001:db8::1/128", "2001:db8::2/128"}},
	}

	for _, test := range tests {
		prefixes, err := Decompose(netip.MustParseAddr(test.start), netip.MustParseAddr(test.end))
		require.NoError(t, err, test.start+"-"+test.end)
		assert.Equal(t, test.expected, prefixStrings(prefixes), test.start+"-"+test.end)
	}
}

func TestDecomposeErrors(t *testing.T) {
	_, err := Decompose(netip.MustParseAddr("10.0.0.2"), netip.MustParseAddr("10.0.0.1"))
	assert.ErrorIs(t, err, ErrReversedRange)

	_, err = Decompose(netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("2001:db8::1"))
	assert.ErrorIs(t, err, ErrFamilyMismatch)

	_, err = Decompose(netip.Addr{}, netip.MustParseAddr("10.0.0.1"))
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

// checkCoverage verifies that blocks are aligned, contiguous, exactly span [start, end] and could not be merged into
// their parent block without leaving the range.
func checkCoverage(t *testing.T, blocks []Block, start, end uint128.Uint128) {
	require.NotEmpty(t, blocks)
	assert.True(t, blocks[0].First().Equals(start), "first block must begin at start")
	assert.True(t, blocks[len(blocks)-1].Last().Equals(end), "last block must end at end")

	for i, block := range blocks {
		assert.True(t, block.Base.And(HostMask(block.Width-block.Bits)).IsZero(), "block %s is not aligned", block)

		if i > 0 {
			assert.True(t, blocks[i-1].Last().Add64(1).Equals(block.First()), "gap or overlap before %s", block)
		}

		if block.Bits > 0 {
			parent := Block{Base: block.Base.And(not(HostMask(block.Width - block.Bits + 1))), Bits: block.Bits - 1, Width: block.Width}
			fits := parent.First().Cmp(start) >= 0 && parent.Last().Cmp(end) <= 0
			assert.False(t, fits, "block %s could have been expanded to %s", block, parent)
		}
	}
}

func TestDecomposeRangeCoverageIPv4(t *testing.T) {
	random := rand.New(rand.NewSource(42))

	for i := 0; i < 2000; i++ {
		a, b := uint64(random.Uint32()), uint64(random.Uint32())
		if i%3 == 0 {
			// Keep some ranges small so host routes and short runs are exercised
			b = a + uint64(random.Intn(600))
			if b > 0xffffffff {
				b = 0xffffffff
			}
		}
		if a > b {
			a, b = b, a
		}

		start, end := uint128.From64(a), uint128.From64(b)
		checkCoverage(t, DecomposeRange(start, end, 32), start, end)
	}
}

func TestDecomposeRangeCoverageIPv6(t *testing.T) {
	random := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		start := uint128.New(random.Uint64(), random.Uint64())
		end := uint128.New(random.Uint64(), random.Uint64())
		if start.Cmp(end) > 0 {
			start, end = end, start
		}

		blocks := DecomposeRange(start, end, 128)
		checkCoverage(t, blocks, start, end)
		assert.LessOrEqual(t, len(blocks), 2*128)
	}
}

func TestAddressConversion(t *testing.T) {
	for _, literal := range []string{"0.0.0.0", "1.2.3.4", "255.255.255.255", "::", "2001:db8::1", "ffff::ffff"} {
		addr := netip.MustParseAddr(literal)
		assert.Equal(t, addr, FromUint(ToUint(addr), addr.BitLen()))
	}

	assert.True(t, HostMask(32).Equals64(0xffffffff))
	assert.True(t, HostMask(64).Equals(uint128.New(^uint64(0), 0)))
	assert.True(t, HostMask(65).Equals(uint128.New(^uint64(0), 1)))
	assert.True(t, HostMask(0).IsZero())
}
