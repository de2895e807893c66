package netindex

import (
	"encoding/binary"
	"math/rand"
	"net/netip"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKinds = []string{KindTree, KindTrie, KindMap}

func makeIndex(t testing.TB, kind string) Index[string] {
	index, err := New[string](kind)
	require.NoError(t, err)
	return index
}

func expectContains(t *testing.T, index Index[string], key netip.Addr, expected string) {
	t.Helper()
	value, present := index.Find(key)

	if !present {
		t.Fatal("Failed to find expected key", key)
	}

	if value != expected {
		t.Fatalf("Index value \"%s\" does not match expected \"%s\" for %s", value, expected, key)
	}
}

func expectMissing(t *testing.T, index Index[string], key netip.Addr) {
	t.Helper()
	if value, present := index.Find(key); present {
		t.Fatalf("Expected %s to be missing, but found \"%s\"", key, value)
	}
}

func TestIndex_Find(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(kind, func(t *testing.T) {
			index := makeIndex(t, kind)

			// Add prefixes at varying depths
			index.Insert(netip.MustParsePrefix("1.0.0.0/8"), "a")
			index.Insert(netip.MustParsePrefix("1.2.0.0/16"), "b")
			index.Insert(netip.MustParsePrefix("1.2.3.0/24"), "c")
			index.Insert(netip.MustParsePrefix("1.2.3.4/32"), "d")

			// Add some prefixes that start with the same bytes as the ones above to try to confuse it
			index.Insert(netip.MustParsePrefix("0100::/8"), "e")
			index.Insert(netip.MustParsePrefix("0102::/15"), "f")

			// Try overwriting some prefixes to ensure it handles it correctly
			index.Insert(netip.MustParsePrefix("1.0.0.0/8"), "g")
			index.Insert(netip.MustParsePrefix("0100::/8"), "h")

			assert.Equal(t, 6, index.Length())

			// Test across IPs of different specificity
			expectContains(t, index, netip.MustParseAddr("1.23.19.23"), "g")
			expectContains(t, index, netip.MustParseAddr("1.2.123.2"), "b")
			expectContains(t, index, netip.MustParseAddr("1.2.0.0"), "b")
			expectContains(t, index, netip.MustParseAddr("1.2.3.22"), "c")
			expectContains(t, index, netip.MustParseAddr("1.2.3.4"), "d")
			expectContains(t, index, netip.MustParseAddr("0103::1"), "f")
			expectContains(t, index, netip.MustParseAddr("01ff::1"), "h")

			expectMissing(t, index, netip.MustParseAddr("2.0.0.0"))
			expectMissing(t, index, netip.MustParseAddr("0.255.255.255"))
			expectMissing(t, index, netip.MustParseAddr("2001:db8::1"))
		})
	}
}

func TestIndexEdgeCases(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(kind, func(t *testing.T) {
			index := makeIndex(t, kind)

			index.Insert(netip.MustParsePrefix("0.0.0.0/0"), "h")
			index.Insert(netip.MustParsePrefix("1.2.128.0/17"), "i")
			index.Insert(netip.MustParsePrefix("1.2.3.4/32"), "j")
			index.Insert(netip.MustParsePrefix("5.6.7.8/32"), "k")

			expectContains(t, index, netip.MustParseAddr("22.1.24.6"), "h")
			expectContains(t, index, netip.MustParseAddr("0.0.0.0"), "h")
			expectContains(t, index, netip.MustParseAddr("255.255.255.255"), "h")

			expectContains(t, index, netip.MustParseAddr("1.2.133.235"), "i")
			expectContains(t, index, netip.MustParseAddr("1.2.128.0"), "i")
			expectContains(t, index, netip.MustParseAddr("1.2.255.255"), "i")

			expectContains(t, index, netip.MustParseAddr("1.2.3.4"), "j")
			expectContains(t, index, netip.MustParseAddr("5.6.7.8"), "k")

			// IPv6 is not covered by the IPv4 default route
			expectMissing(t, index, netip.MustParseAddr("::1"))
		})
	}
}

// Nested prefixes are inserted least specific first, then most specific first, to cover both the subset and the
// superset insertion paths.
func TestIndexNestingOrder(t *testing.T) {
	prefixes := []string{"10.0.0.0/8", "10.1.0.0/16", "10.1.2.0/24", "10.1.2.128/25"}

	for _, kind := range allKinds {
		for _, reverse := range []bool{false, true} {
			t.Run(kind+"/reverse="+strconv.FormatBool(reverse), func(t *testing.T) {
				index := makeIndex(t, kind)

				for i := range prefixes {
					prefix := prefixes[i]
					if reverse {
						prefix = prefixes[len(prefixes)-1-i]
					}
					index.Insert(netip.MustParsePrefix(prefix), prefix)
				}

				expectContains(t, index, netip.MustParseAddr("10.200.0.1"), "10.0.0.0/8")
				expectContains(t, index, netip.MustParseAddr("10.1.200.1"), "10.1.0.0/16")
				expectContains(t, index, netip.MustParseAddr("10.1.2.1"), "10.1.2.0/24")
				expectContains(t, index, netip.MustParseAddr("10.1.2.200"), "10.1.2.128/25")
				expectMissing(t, index, netip.MustParseAddr("11.0.0.0"))
			})
		}
	}
}

func TestIndexBitLenIPv4(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(kind, func(t *testing.T) {
			index := makeIndex(t, kind)

			addrBuffer := [4]byte{0, 0, 0, 0}
			for bitLen := 32; bitLen > 0; bitLen-- {
				mapValue := strconv.FormatInt(int64(bitLen), 10)

				addrBits := uint32(1) << (32 - bitLen)

				binary.BigEndian.PutUint32(addrBuffer[:], addrBits)
				firstAddr := netip.AddrFrom4(addrBuffer)

				binary.BigEndian.PutUint32(addrBuffer[:], addrBits|(addrBits-1))
				lastAddr := netip.AddrFrom4(addrBuffer)

				index.Insert(netip.PrefixFrom(firstAddr, bitLen), mapValue)

				expectContains(t, index, firstAddr, mapValue)
				expectContains(t, index, lastAddr, mapValue)

				if x, ok := index.Find(firstAddr.Prev()); ok && x == mapValue {
					t.Fatal("Address", firstAddr.Prev(), "should not be present in index for bit length of", bitLen)
				}

				if x, ok := index.Find(lastAddr.Next()); ok && x == mapValue {
					t.Fatal("Address", lastAddr.Next(), "should not be present in index for bit length of", bitLen)
				}
			}
		})
	}
}

func TestIndexBitLenIPv6(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(kind, func(t *testing.T) {
			index := makeIndex(t, kind)

			addrBuffer := [16]byte{}
			for bitLen := 128; bitLen > 0; bitLen-- {
				mapValue := strconv.FormatInt(int64(bitLen), 10)

				var hi, lo uint64 = 0, 0
				if bitLen <= 64 {
					hi = uint64(1) << (64 - bitLen)
				} else {
					lo = uint64(1) << (128 - bitLen)
				}

				binary.BigEndian.PutUint64(addrBuffer[0:8], hi)
				binary.BigEndian.PutUint64(addrBuffer[8:16], lo)
				firstAddr := netip.AddrFrom16(addrBuffer)

				if bitLen <= 64 {
					hi = hi | (hi - 1)
					lo = ^lo
				} else {
					lo = lo | (lo - 1)
				}

				binary.BigEndian.PutUint64(addrBuffer[0:8], hi)
				binary.BigEndian.PutUint64(addrBuffer[8:16], lo)
				lastAddr := netip.AddrFrom16(addrBuffer)

				index.Insert(netip.PrefixFrom(firstAddr, bitLen), mapValue)

				expectContains(t, index, firstAddr, mapValue)
				expectContains(t, index, lastAddr, mapValue)

				if x, ok := index.Find(firstAddr.Prev()); ok && x == mapValue {
					t.Fatal("Address", firstAddr.Prev(), "should not be present in index for bit length of", bitLen)
				}

				if x, ok := index.Find(lastAddr.Next()); ok && x == mapValue {
					t.Fatal("Address", lastAddr.Next(), "should not be present in index for bit length of", bitLen)
				}
			}
		})
	}
}

func TestInsertRange(t *testing.T) {
	index := makeIndex(t, KindTree)

	prefixes, err := InsertRange(index, netip.MustParseAddr("10.0.0.1"), netip.MustParseAddr("10.0.0.254"), "inner")
	require.NoError(t, err)
	assert.Len(t, prefixes, 14)

	for _, prefix := range prefixes {
		assert.NotEqual(t, "10.0.0.0/24", prefix.String())
	}

	expectContains(t, index, netip.MustParseAddr("10.0.0.1"), "inner")
	expectContains(t, index, netip.MustParseAddr("10.0.0.128"), "inner")
	expectContains(t, index, netip.MustParseAddr("10.0.0.254"), "inner")
	expectMissing(t, index, netip.MustParseAddr("10.0.0.0"))
	expectMissing(t, index, netip.MustParseAddr("10.0.0.255"))

	_, err = InsertRange(index, netip.MustParseAddr("10.0.0.9"), netip.MustParseAddr("10.0.0.1"), "reversed")
	assert.Error(t, err)
}

func TestIndex_Get(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(kind, func(t *testing.T) {
			index := makeIndex(t, kind)

			index.Insert(netip.MustParsePrefix("81.2.0.0/16"), "outer")
			index.Insert(netip.MustParsePrefix("81.2.4.0/24"), "left")
			index.Insert(netip.MustParsePrefix("81.2.9.0/24"), "right")
			index.Insert(netip.MustParsePrefix("2001:db8::/48"), "v6")

			for prefix, expected := range map[string]string{
				"81.2.0.0/16":   "outer",
				"81.2.4.0/24":   "left",
				"81.2.9.77/24":  "right",
				"2001:db8::/48": "v6",
			} {
				value, present := index.Get(netip.MustParsePrefix(prefix))
				assert.True(t, present, prefix)
				assert.Equal(t, expected, value, prefix)
			}

			// Covered or covering prefixes are not exact matches, nor is any synthetic grouping in the tree
			for _, prefix := range []string{"81.2.4.0/25", "81.2.0.0/15", "81.2.0.0/20", "81.2.8.0/21", "2001:db8::/32", "0.0.0.0/0"} {
				_, present := index.Get(netip.MustParsePrefix(prefix))
				assert.False(t, present, prefix)
			}
		})
	}
}

func TestInsertRangeKeepsExistingPrefixes(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(kind, func(t *testing.T) {
			index := makeIndex(t, kind)
			index.Insert(netip.MustParsePrefix("81.2.2.0/24"), "first")

			prefixes, err := InsertRange(index, netip.MustParseAddr("81.2.0.0"), netip.MustParseAddr("81.2.2.255"), "second")
			require.NoError(t, err)
			assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("81.2.0.0/23")}, prefixes)

			expectContains(t, index, netip.MustParseAddr("81.2.2.1"), "first")
			expectContains(t, index, netip.MustParseAddr("81.2.1.1"), "second")
			assert.Equal(t, 2, index.Length())
		})
	}
}

// randomPrefixes produces a mix of nested and disjoint prefixes with a value naming the prefix itself.
func randomPrefixes(random *rand.Rand, count int) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, count)
	for i := 0; i < count; i++ {
		var bytes [4]byte
		binary.BigEndian.PutUint32(bytes[:], random.Uint32())
		bits := 8 + random.Intn(25)
		prefixes = append(prefixes, netip.PrefixFrom(netip.AddrFrom4(bytes), bits).Masked())
	}
	return prefixes
}

// All index variants must agree with each other on randomly generated data.
func TestIndexVariantsAgree(t *testing.T) {
	random := rand.New(rand.NewSource(1234))
	prefixes := randomPrefixes(random, 3000)

	indexes := make([]Index[string], 0, len(allKinds))
	for _, kind := range allKinds {
		index := makeIndex(t, kind)
		for _, prefix := range prefixes {
			index.Insert(prefix, prefix.String())
		}
		indexes = append(indexes, index)
	}

	for i := 0; i < 20000; i++ {
		var bytes [4]byte
		if i%2 == 0 {
			// Bias half the lookups to be inside an indexed prefix
			bytes = prefixes[random.Intn(len(prefixes))].Addr().As4()
			bytes[3] ^= byte(random.Intn(256))
		} else {
			binary.BigEndian.PutUint32(bytes[:], random.Uint32())
		}
		addr := netip.AddrFrom4(bytes)

		expected, expectedOk := indexes[0].Find(addr)
		for j, index := range indexes[1:] {
			value, ok := index.Find(addr)
			require.Equal(t, expectedOk, ok, "%s presence differs for %s", allKinds[j+1], addr)
			require.Equal(t, expected, value, "%s value differs for %s", allKinds[j+1], addr)
		}
	}
}

func benchmarkFind(b *testing.B, kind string, count int) {
	random := rand.New(rand.NewSource(99))
	index := makeIndex(b, kind)
	for _, prefix := range randomPrefixes(random, count) {
		index.Insert(prefix, prefix.String())
	}

	addrs := make([]netip.Addr, 1024)
	for i := range addrs {
		var bytes [4]byte
		binary.BigEndian.PutUint32(bytes[:], random.Uint32())
		addrs[i] = netip.AddrFrom4(bytes)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		index.Find(addrs[i%len(addrs)])
	}
}

func BenchmarkTreeFind(b *testing.B)      { benchmarkFind(b, KindTree, 50000) }
func BenchmarkTrieFind(b *testing.B)      { benchmarkFind(b, KindTrie, 50000) }
func BenchmarkPrefixMapFind(b *testing.B) { benchmarkFind(b, KindMap, 50000) }
