package aggregator

import (
	"context"
	"net/netip"
	"strings"
	"time"
)

// Observation is a single address sighting from the input stream.
type Observation struct {
	Address string
	Time    time.Time
	HasTime bool
	// NewFile marks the first observation of an input file. Files are individually time ordered, but the stream as a
	// whole is not.
	NewFile bool
	Source  string
}

// NetworkInfo describes a resolved network. It is carried through to reports but never interpreted.
type NetworkInfo struct {
	Handle  string `json:"handle,omitempty"`
	Name    string `json:"name,omitempty"`
	Country string `json:"country,omitempty"`
	ASN     uint32 `json:"asn,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Resolution is the result of resolving an address to the network holding it.
type Resolution struct {
	Start netip.Addr  `json:"start"`
	End   netip.Addr  `json:"end"`
	Info  NetworkInfo `json:"info"`
}

// Resolver looks up the network for an address. Implementations are expected to be slow, so the aggregator calls
// them as rarely as it can.
type Resolver interface {
	Resolve(ctx context.Context, addr netip.Addr) (Resolution, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, addr netip.Addr) (Resolution, error)

func (resolve ResolverFunc) Resolve(ctx context.Context, addr netip.Addr) (Resolution, error) {
	return resolve(ctx, addr)
}

// NetworkRecord is a discovered network and its usage.
type NetworkRecord struct {
	Start  netip.Addr
	End    netip.Addr
	Blocks []netip.Prefix
	Info   NetworkInfo
	Stats  *ObservationStats
}

// snapshot copies the record so it can be read while the aggregator keeps updating the original.
func (record *NetworkRecord) snapshot() *NetworkRecord {
	stats := *record.Stats
	return &NetworkRecord{
		Start:  record.Start,
		End:    record.End,
		Blocks: append([]netip.Prefix(nil), record.Blocks...),
		Info:   record.Info,
		Stats:  &stats,
	}
}

// CIDR renders the blocks covering the network separated by spaces.
func (record *NetworkRecord) CIDR() string {
	blocks := make([]string, 0, len(record.Blocks))
	for _, block := range record.Blocks {
		blocks = append(blocks, block.String())
	}
	return strings.Join(blocks, " ")
}
