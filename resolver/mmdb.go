package resolver

import (
	"context"
	"net"
	"net/netip"

	"github.com/jmeggitt/netrange_summary.git/aggregator"
	"github.com/jmeggitt/netrange_summary.git/cidr"
	"github.com/jmeggitt/netrange_summary.git/util"
	"github.com/oschwald/geoip2-golang"
	"github.com/oschwald/maxminddb-golang"
)

type asnRecord struct {
	Number       uint32 `maxminddb:"autonomous_system_number"`
	Organization string `maxminddb:"autonomous_system_organization"`
}

// MMDB resolves networks from a local MaxMind ASN database, optionally adding the country from a second database.
type MMDB struct {
	asnDB     *maxminddb.Reader
	countryDB *geoip2.Reader
}

// OpenMMDB opens the ASN database and, when countryPath is not empty, the country database.
func OpenMMDB(asnPath, countryPath string) (*MMDB, error) {
	asnDB, err := maxminddb.Open(asnPath)
	if err != nil {
		return nil, err
	}

	mmdb := &MMDB{asnDB: asnDB}

	if countryPath != "" {
		if mmdb.countryDB, err = geoip2.Open(countryPath); err != nil {
			util.CloseAndLogErrors("Error while closing ASN database:", asnDB)
			return nil, err
		}
	}

	return mmdb, nil
}

func (mmdb *MMDB) Resolve(_ context.Context, addr netip.Addr) (resolution aggregator.Resolution, err error) {
	ip := net.IP(addr.AsSlice())

	var record asnRecord
	network, ok, err := mmdb.asnDB.LookupNetwork(ip, &record)
	if err != nil {
		return
	}

	if !ok || record.Number == 0 {
		return resolution, ErrNotFound
	}

	if resolution.Start, resolution.End, err = networkRange(network); err != nil {
		return
	}

	resolution.Info = aggregator.NetworkInfo{
		Name:   record.Organization,
		ASN:    record.Number,
		Source: "mmdb",
	}

	if mmdb.countryDB != nil {
		// Country information is only decoration, so a failure here is not worth failing the lookup over
		if country, err := mmdb.countryDB.Country(ip); err == nil {
			resolution.Info.Country = country.Country.IsoCode
		}
	}

	return
}

// networkRange converts a network into its first and last address.
func networkRange(network *net.IPNet) (start, end netip.Addr, err error) {
	addr, ok := netip.AddrFromSlice(network.IP)
	if !ok {
		return start, end, cidr.ErrInvalidAddress
	}
	addr = addr.Unmap()

	ones, _ := network.Mask.Size()
	if addr.Is4() && ones > 32 {
		ones -= 96
	}

	prefix := netip.PrefixFrom(addr, ones).Masked()
	width := prefix.Addr().BitLen()

	start = prefix.Addr()
	end = cidr.FromUint(cidr.ToUint(start).Or(cidr.HostMask(width-prefix.Bits())), width)
	return
}

func (mmdb *MMDB) Close() error {
	if mmdb.countryDB != nil {
		util.CloseAndLogErrors("Error while closing country database:", mmdb.countryDB)
	}
	return mmdb.asnDB.Close()
}
