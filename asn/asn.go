package asn

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jmeggitt/netrange_summary.git/aggregator"
	"github.com/jmeggitt/netrange_summary.git/cidr"
	"github.com/jmeggitt/netrange_summary.git/netindex"
	"github.com/jmeggitt/netrange_summary.git/util"
)

const (
	CaidaPrefix2AsnIpv4   = "https://publicdata.caida.org/datasets/routing/routeviews-prefix2as/"
	CaidaPrefix2AsnIpv6   = "https://publicdata.caida.org/datasets/routing/routeviews6-prefix2as/"
	Prefix2AsnCreationLog = "pfx2as-creation.log"
)

// RefreshPeriod is the time between refreshes of the IpToAsn mapping. CAIDA recommends a refresh period of between 12
// and 24 hours, so we use the lower recommended duration
const RefreshPeriod = 12 * time.Hour

var ErrNoPrefix = errors.New("no announced prefix covers address")

// IpToAsn maps addresses to the most specific announced prefix covering them using the CAIDA routeviews prefix2as
// datasets. It is safe for concurrent use.
type IpToAsn struct {
	lock        sync.RWMutex
	asnMap      netindex.PrefixMap[uint32]
	lastRefresh time.Time
	httpClient  *http.Client
	searchDirs  []string
}

func NewIpToAsn() *IpToAsn {
	return &IpToAsn{
		asnMap:     netindex.MakePrefixMap[uint32](),
		httpClient: http.DefaultClient,
		searchDirs: []string{CaidaPrefix2AsnIpv4, CaidaPrefix2AsnIpv6},
	}
}

// CreateIpToAsn downloads the latest IPv4 and IPv6 datasets.
func CreateIpToAsn(ctx context.Context) (ipToAsn *IpToAsn, err error) {
	ipToAsn = NewIpToAsn()
	err = ipToAsn.Refresh(ctx)
	return
}

func (ipToAsn *IpToAsn) LastRefresh() time.Time {
	ipToAsn.lock.RLock()
	defer ipToAsn.lock.RUnlock()
	return ipToAsn.lastRefresh
}

func (ipToAsn *IpToAsn) Length() int {
	ipToAsn.lock.RLock()
	defer ipToAsn.lock.RUnlock()
	return ipToAsn.asnMap.Length()
}

// Refresh replaces the current mapping with the latest published datasets. The current mapping is kept if either
// download fails.
func (ipToAsn *IpToAsn) Refresh(ctx context.Context) error {
	fresh := netindex.MakePrefixMap[uint32]()

	for _, searchDir := range ipToAsn.searchDirs {
		if err := ipToAsn.refreshFromSource(ctx, &fresh, searchDir); err != nil {
			return err
		}
	}

	ipToAsn.lock.Lock()
	ipToAsn.asnMap = fresh
	ipToAsn.lastRefresh = time.Now()
	ipToAsn.lock.Unlock()
	return nil
}

// Maintain refreshes the mapping every RefreshPeriod until the context is cancelled.
func (ipToAsn *IpToAsn) Maintain(ctx context.Context) {
	for {
		wait := RefreshPeriod - time.Since(ipToAsn.LastRefresh())

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		// Since it will probably succeed on the next attempt it should be close enough even if we encounter an error
		// every so often. Just log errors instead of stopping.
		if err := ipToAsn.Refresh(ctx); err != nil {
			log.Warn("Got error while attempting to refresh IP to ASN", "err", err)

			ipToAsn.lock.Lock()
			ipToAsn.lastRefresh = time.Now()
			ipToAsn.lock.Unlock()
		}
	}
}

func (ipToAsn *IpToAsn) refreshFromSource(ctx context.Context, target *netindex.PrefixMap[uint32], searchDir string) (err error) {
	var searchUrl string
	if searchUrl, err = ipToAsn.latestCaidaData(ctx, searchDir); err != nil {
		return
	}

	log.Info("Downloading prefix2as dataset", "url", searchUrl)
	body, err := ipToAsn.get(ctx, searchUrl)
	if err != nil {
		return
	}
	defer util.CloseAndLogErrors("Error while closing HTTP response:", body)

	gzipReader, err := gzip.NewReader(body)
	if err != nil {
		return
	}

	return loadInto(target, gzipReader)
}

// LoadFile adds the prefixes of a local prefix2as file to the mapping. Files ending in .gz are decompressed.
func (ipToAsn *IpToAsn) LoadFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer util.CloseAndLogErrors("Error while closing prefix2as file:", file)

	var reader io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		gzipReader, err := gzip.NewReader(file)
		if err != nil {
			return err
		}
		reader = gzipReader
	}

	return ipToAsn.Load(reader)
}

// Load adds the prefixes of a decompressed prefix2as dataset to the mapping.
func (ipToAsn *IpToAsn) Load(reader io.Reader) error {
	ipToAsn.lock.Lock()
	defer ipToAsn.lock.Unlock()

	if err := loadInto(&ipToAsn.asnMap, reader); err != nil {
		return err
	}

	ipToAsn.lastRefresh = time.Now()
	return nil
}

func loadInto(target *netindex.PrefixMap[uint32], reader io.Reader) error {
	scanner := bufio.NewScanner(reader)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		prefix, asn, err := parseAsnLine(line)
		if err != nil {
			log.Error("Failed to parse CAIDA asn line", "line", line)
			return err
		}

		if shouldIncludeAsnPrefix(prefix, asn) {
			target.Insert(prefix.Masked(), asn)
		}
	}

	return scanner.Err()
}

func (ipToAsn *IpToAsn) Get(addr netip.Addr) (asn uint32, present bool) {
	ipToAsn.lock.RLock()
	defer ipToAsn.lock.RUnlock()
	return ipToAsn.asnMap.Find(addr.Unmap())
}

// Resolve reports the most specific announced prefix covering the address as its network.
func (ipToAsn *IpToAsn) Resolve(_ context.Context, addr netip.Addr) (resolution aggregator.Resolution, err error) {
	ipToAsn.lock.RLock()
	prefix, asn, present := ipToAsn.asnMap.FindPrefix(addr.Unmap())
	ipToAsn.lock.RUnlock()

	if !present {
		return resolution, ErrNoPrefix
	}

	width := prefix.Addr().BitLen()
	resolution.Start = prefix.Addr()
	resolution.End = cidr.FromUint(cidr.ToUint(resolution.Start).Or(cidr.HostMask(width-prefix.Bits())), width)
	resolution.Info = aggregator.NetworkInfo{
		Handle: "AS" + strconv.FormatUint(uint64(asn), 10),
		ASN:    asn,
		Source: "caida",
	}
	return
}

// shouldIncludeAsnPrefix checks that address meets the following conditions:
//   - The prefix corresponds to a public global unicast address
//   - The prefix is not too specific (greater than a /24 in IPv4 or a /48 in IPv6)
//   - The ASN is in the public globally assigned range
func shouldIncludeAsnPrefix(prefix netip.Prefix, asn uint32) bool {
	return prefix.Addr().IsGlobalUnicast() &&
		!prefix.Addr().Is4In6() &&
		!prefix.Addr().IsPrivate() &&
		!isPrefixTooSpecific(prefix) &&
		isPublicAsn(asn)
}

func isPrefixTooSpecific(prefix netip.Prefix) bool {
	if prefix.Addr().Is4() {
		return prefix.Bits() > 24
	}
	return prefix.Bits() > 48
}

type rangeInclusive struct {
	min, max uint32
}

// reservedAsnRanges holds inclusive ranges of ASN values which have been reserved for various uses. These do not
// include unallocated ranges as they may be allocated in the future. These ranges are non-overlapping and are in
// ascending order.
var reservedAsnRanges = []rangeInclusive{
	{min: 0, max: 0},                   // Reserved (RFC7607)
	{min: 23456, max: 23456},           // AS_TRANS (RFC6793)
	{min: 64496, max: 64511},           // Documentation (RFC5398)
	{min: 64512, max: 65534},           // Private use (RFC6996)
	{min: 65535, max: 65535},           // Reserved (RFC7300)
	{min: 65536, max: 65551},           // Documentation (RFC5398)
	{min: 65552, max: 131071},          // Reserved
	{min: 4200000000, max: 4294967294}, // Private use (RFC6996)
	{min: 4294967295, max: 4294967295}, // Reserved (RFC7300)
}

func isPublicAsn(asn uint32) bool {
	for _, reservedRange := range reservedAsnRanges {
		if asn < reservedRange.min {
			break
		}

		if asn <= reservedRange.max {
			return false
		}
	}

	return true
}

// Parses a line to extract info about the range of addresses and the ASN it refers to. Multi-origin and AS set entries
// are reduced to their first ASN.
func parseAsnLine(input string) (prefix netip.Prefix, asn uint32, err error) {
	segments := strings.SplitN(input, "\t", 3)

	if len(segments) != 3 {
		err = errors.New("unexpected end of line: Not enough segments to parse")
		return
	}

	var addr netip.Addr
	if addr, err = netip.ParseAddr(segments[0]); err != nil {
		return
	}

	var parsedInt uint64
	if parsedInt, err = strconv.ParseUint(segments[1], 10, 8); err != nil {
		return
	}

	if prefix = netip.PrefixFrom(addr, int(parsedInt)); !prefix.IsValid() {
		err = fmt.Errorf("invalid prefix length %d for %s", parsedInt, addr)
		return
	}

	if splitIndex := strings.IndexAny(segments[2], ",_"); splitIndex != -1 {
		segments[2] = segments[2][:splitIndex]
	}

	parsedInt, err = strconv.ParseUint(segments[2], 10, 32)
	asn = uint32(parsedInt)

	return
}

func (ipToAsn *IpToAsn) get(ctx context.Context, url string) (io.ReadCloser, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	response, err := ipToAsn.httpClient.Do(request)
	if err != nil {
		return nil, err
	}

	if response.StatusCode != http.StatusOK {
		util.CloseAndLogErrors("Error while closing HTTP response:", response.Body)
		return nil, fmt.Errorf("GET %s returned status %d", url, response.StatusCode)
	}

	return response.Body, nil
}

func (ipToAsn *IpToAsn) latestCaidaData(ctx context.Context, searchDir string) (url string, err error) {
	body, err := ipToAsn.get(ctx, searchDir+Prefix2AsnCreationLog)
	if err != nil {
		return
	}
	defer util.CloseAndLogErrors("Error while closing HTTP response:", body)

	scanner := bufio.NewScanner(body)

	lastLine := ""
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lastLine = line
		}
	}

	if err = scanner.Err(); err != nil {
		return
	}

	// Get the latest entry in file
	lastSeparator := strings.LastIndexByte(lastLine, '\t')
	if lastSeparator == -1 {
		err = errors.New("unable to parse most recent pfx2asn file")
		return
	}

	url = searchDir + lastLine[lastSeparator+1:]
	return
}
