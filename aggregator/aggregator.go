package aggregator

import (
	"context"
	"fmt"
	"math/rand"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jmeggitt/netrange_summary.git/netindex"
)

// Outcome is the result of processing a single observation.
type Outcome int

const (
	// NetAlreadyRetrieved means the address was inside a known network and its statistics were updated.
	NetAlreadyRetrieved Outcome = iota
	// NetNotFoundBetweenIntervals means the address is unknown, but it arrived between samples so it was skipped.
	NetNotFoundBetweenIntervals
	// NetNotFound means the address is unknown and the resolver was asked for its network.
	NetNotFound
	AddressError
	AddressExcluded
	TimeError
)

var outcomeNames = map[Outcome]string{
	NetAlreadyRetrieved:         "net_already_retrieved",
	NetNotFoundBetweenIntervals: "net_not_found_between_intervals",
	NetNotFound:                 "net_not_found",
	AddressError:                "address_error",
	AddressExcluded:             "address_excluded",
	TimeError:                   "time_error",
}

func (outcome Outcome) String() string {
	if name, ok := outcomeNames[outcome]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(outcome))
}

const (
	DefaultRateInterval  = time.Hour
	DefaultProgressEvery = 100000
)

type Options struct {
	// SamplingInterval thins lookups of unknown addresses. Zero disables sampling.
	SamplingInterval time.Duration
	// MagnitudeBucket is the granularity observations are grouped by for the magnitude statistic.
	MagnitudeBucket time.Duration
	// RateInterval is the period used for rate rankings when sampling is disabled.
	RateInterval time.Duration
	// Random drives sampling jitter.
	Random *rand.Rand
	// Index holds discovered networks. Defaults to a netindex.Tree.
	Index netindex.Index[*NetworkRecord]
	// ReviewEvery retries unresolved addresses against the index after this many observations. Zero only reviews
	// them in FinishCalculations.
	ReviewEvery   int
	ProgressEvery int
	// ErrorSampleLimit caps how many rejected observations of each kind are kept. Unresolved observations are always
	// kept since they are retried. Zero uses DefaultErrorSampleLimit and a negative limit keeps everything.
	ErrorSampleLimit int
	Metrics          *Metrics
}

// Aggregator consumes a time ordered stream of observations, discovers the networks they belong to and keeps usage
// statistics for each network.
//
// Process must only be called from a single goroutine. The read methods may be used concurrently with it, so the
// records they return are copies.
type Aggregator struct {
	lock     sync.RWMutex
	resolver Resolver
	options  Options
	index    netindex.Index[*NetworkRecord]
	records  []*NetworkRecord
	sampling *SamplingState
	errors   ErrorLog
	outcomes map[Outcome]int

	previous    time.Time
	hasPrevious bool
	processed   int
	finished    bool
}

func New(resolver Resolver, options Options) *Aggregator {
	if options.MagnitudeBucket <= 0 {
		options.MagnitudeBucket = DefaultMagnitudeBucket
	}

	if options.RateInterval <= 0 {
		options.RateInterval = DefaultRateInterval
	}

	if options.ProgressEvery <= 0 {
		options.ProgressEvery = DefaultProgressEvery
	}

	if options.ErrorSampleLimit == 0 {
		options.ErrorSampleLimit = DefaultErrorSampleLimit
	}

	index := options.Index
	if index == nil {
		index = netindex.NewTree[*NetworkRecord]()
	}

	return &Aggregator{
		resolver: resolver,
		options:  options,
		index:    index,
		sampling: NewSamplingState(options.SamplingInterval, options.Random),
		errors:   ErrorLog{limit: options.ErrorSampleLimit},
		outcomes: make(map[Outcome]int),
	}
}

// Run processes observations until the channel is closed or the context is cancelled. Cancellation leaves the
// aggregator in a consistent state, so FinishCalculations and reporting can still be done afterwards.
func (aggregator *Aggregator) Run(ctx context.Context, observations <-chan Observation) error {
	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping aggregation early", "processed", aggregator.Processed())
			return ctx.Err()
		case observation, ok := <-observations:
			if !ok {
				return nil
			}
			aggregator.Process(ctx, observation)
		}
	}
}

// Process handles a single observation.
func (aggregator *Aggregator) Process(ctx context.Context, observation Observation) (outcome Outcome) {
	defer func() {
		aggregator.lock.Lock()
		aggregator.outcomes[outcome]++
		aggregator.processed++
		processed := aggregator.processed
		aggregator.lock.Unlock()

		aggregator.options.Metrics.observe(outcome)

		if processed%aggregator.options.ProgressEvery == 0 {
			log.Info("Aggregation progress", "processed", processed, "networks", aggregator.NetworkCount())
		}

		if every := aggregator.options.ReviewEvery; every > 0 && processed%every == 0 {
			aggregator.ReviewErrors()
		}
	}()

	if observation.NewFile {
		aggregator.hasPrevious = false
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(observation.Address))
	if err != nil {
		aggregator.recordError(observation, AddressErrorKind, netip.Addr{}, err.Error())
		return AddressError
	}
	addr = addr.Unmap()

	if !isEligible(addr) {
		aggregator.recordError(observation, ExcludedErrorKind, addr, "not a global unicast address")
		return AddressExcluded
	}

	if !observation.HasTime {
		aggregator.recordError(observation, TimeErrorKind, addr, "missing timestamp")
		return TimeError
	}

	if aggregator.hasPrevious && observation.Time.Before(aggregator.previous) {
		detail := fmt.Sprintf("out of order, previous observation was at %s", aggregator.previous.Format(time.RFC3339))
		aggregator.recordError(observation, TimeErrorKind, addr, detail)
		return TimeError
	}
	aggregator.previous, aggregator.hasPrevious = observation.Time, true

	aggregator.lock.Lock()
	record, found := aggregator.index.Find(addr)
	if found {
		record.Stats.Observed(observation.Time)
	}
	aggregator.lock.Unlock()

	if found {
		return NetAlreadyRetrieved
	}

	if aggregator.sampling.Skip(observation.Time) {
		return NetNotFoundBetweenIntervals
	}

	aggregator.resolve(ctx, addr, observation)
	return NetNotFound
}

// isEligible reports whether the address is publicly routable and worth resolving.
func isEligible(addr netip.Addr) bool {
	return addr.IsGlobalUnicast() && !addr.IsPrivate()
}

func (aggregator *Aggregator) resolve(ctx context.Context, addr netip.Addr, observation Observation) {
	log.Debug("Resolving network", "addr", addr)

	started := time.Now()
	resolution, err := aggregator.resolver.Resolve(ctx, addr)
	aggregator.options.Metrics.resolved(started)
	aggregator.sampling.Advance(observation.Time)

	if err != nil {
		log.Warn("Unable to resolve network", "addr", addr, "err", err)
		aggregator.recordError(observation, ResolveErrorKind, addr, err.Error())
		return
	}

	start, end := resolution.Start.Unmap(), resolution.End.Unmap()
	if !start.IsValid() || !end.IsValid() || start.BitLen() != addr.BitLen() ||
		addr.Less(start) || end.Less(addr) {
		detail := fmt.Sprintf("resolved range %s - %s does not contain the address", resolution.Start, resolution.End)
		log.Warn("Discarding resolution", "addr", addr, "start", resolution.Start, "end", resolution.End)
		aggregator.recordError(observation, ResolveErrorKind, addr, detail)
		return
	}

	record := &NetworkRecord{
		Start: start,
		End:   end,
		Info:  resolution.Info,
		Stats: NewObservationStats(observation.Time, aggregator.options.MagnitudeBucket),
	}

	// Blocks already owned by an earlier network stay with it
	aggregator.lock.Lock()
	record.Blocks, err = netindex.InsertRange(aggregator.index, start, end, record)
	if err == nil {
		aggregator.records = append(aggregator.records, record)
	}
	count := len(aggregator.records)
	aggregator.lock.Unlock()

	if err != nil {
		aggregator.recordError(observation, ResolveErrorKind, addr, err.Error())
		return
	}

	aggregator.options.Metrics.setNetworks(count)
	log.Debug("Discovered network", "cidr", record.CIDR(), "name", record.Info.Name)
}

func (aggregator *Aggregator) recordError(observation Observation, kind ErrorKind, addr netip.Addr, detail string) {
	aggregator.lock.Lock()
	defer aggregator.lock.Unlock()

	aggregator.errors.add(ObservationError{
		Kind:    kind,
		Address: observation.Address,
		Addr:    addr,
		Time:    observation.Time,
		HasTime: observation.HasTime,
		Detail:  detail,
	})
}

// ReviewErrors retries every unresolved observation against the index, since the network may have been discovered
// through a later observation. Observations which now match are counted toward their network. It returns the number
// of recovered observations.
func (aggregator *Aggregator) ReviewErrors() int {
	aggregator.lock.Lock()
	defer aggregator.lock.Unlock()

	remaining := aggregator.errors.Unresolved[:0]
	recovered := 0

	for _, entry := range aggregator.errors.Unresolved {
		if record, ok := aggregator.index.Find(entry.Addr); ok {
			record.Stats.Backfill(entry.Time)
			recovered++
			continue
		}
		remaining = append(remaining, entry)
	}

	aggregator.errors.Unresolved = remaining

	if recovered > 0 {
		log.Info("Recovered unresolved observations", "recovered", recovered, "remaining", len(remaining))
	}
	return recovered
}

// FinishCalculations reviews outstanding errors and closes the statistics of every network. Reports should only be
// generated afterwards.
func (aggregator *Aggregator) FinishCalculations() {
	aggregator.ReviewErrors()

	aggregator.lock.Lock()
	defer aggregator.lock.Unlock()

	for _, record := range aggregator.records {
		record.Stats.FinishCalculations()
	}
	aggregator.finished = true
}

func (aggregator *Aggregator) Finished() bool {
	aggregator.lock.RLock()
	defer aggregator.lock.RUnlock()
	return aggregator.finished
}

// Lookup returns a copy of the network an address belongs to, if it has been discovered.
func (aggregator *Aggregator) Lookup(addr netip.Addr) (*NetworkRecord, bool) {
	aggregator.lock.RLock()
	defer aggregator.lock.RUnlock()

	record, ok := aggregator.index.Find(addr.Unmap())
	if !ok {
		return nil, false
	}
	return record.snapshot(), true
}

// Records returns a copy of every discovered network in the order it was discovered.
func (aggregator *Aggregator) Records() []*NetworkRecord {
	aggregator.lock.RLock()
	defer aggregator.lock.RUnlock()

	records := make([]*NetworkRecord, 0, len(aggregator.records))
	for _, record := range aggregator.records {
		records = append(records, record.snapshot())
	}
	return records
}

func (aggregator *Aggregator) NetworkCount() int {
	aggregator.lock.RLock()
	defer aggregator.lock.RUnlock()
	return len(aggregator.records)
}

func (aggregator *Aggregator) Processed() int {
	aggregator.lock.RLock()
	defer aggregator.lock.RUnlock()
	return aggregator.processed
}

// Errors returns a copy of the error log.
func (aggregator *Aggregator) Errors() ErrorLog {
	aggregator.lock.RLock()
	defer aggregator.lock.RUnlock()
	return aggregator.errors.clone()
}

// RateInterval is the period rate rankings are computed over.
func (aggregator *Aggregator) RateInterval() time.Duration {
	if aggregator.sampling.Enabled() {
		return aggregator.sampling.Interval
	}
	return aggregator.options.RateInterval
}

type Summary struct {
	Processed  int            `json:"processed"`
	Networks   int            `json:"networks"`
	Outcomes   map[string]int `json:"outcomes"`
	Unresolved int            `json:"unresolved"`
	Finished   bool           `json:"finished"`
}

func (aggregator *Aggregator) Summary() Summary {
	aggregator.lock.RLock()
	defer aggregator.lock.RUnlock()

	outcomes := make(map[string]int, len(aggregator.outcomes))
	for outcome, count := range aggregator.outcomes {
		outcomes[outcome.String()] = count
	}

	return Summary{
		Processed:  aggregator.processed,
		Networks:   len(aggregator.records),
		Outcomes:   outcomes,
		Unresolved: len(aggregator.errors.Unresolved),
		Finished:   aggregator.finished,
	}
}

type RankKey string

const (
	ByTotal     RankKey = "total"
	ByRate      RankKey = "rate"
	ByMagnitude RankKey = "magnitude"
)

var RankKeys = []RankKey{ByTotal, ByRate, ByMagnitude}

func ParseRankKey(value string) (RankKey, error) {
	for _, key := range RankKeys {
		if string(key) == value {
			return key, nil
		}
	}
	return "", fmt.Errorf("unknown ranking %q", value)
}

// Ranked returns up to limit networks ordered by the given key, highest first. A limit of zero or less returns every
// network.
func (aggregator *Aggregator) Ranked(key RankKey, limit int) []*NetworkRecord {
	records := aggregator.Records()
	interval := aggregator.RateInterval()

	score := func(record *NetworkRecord) (float64, float64) {
		stats := record.Stats
		switch key {
		case ByRate:
			return stats.Rate(interval), float64(stats.Total)
		case ByMagnitude:
			return float64(stats.GreatestMagnitude), stats.AverageMagnitude
		default:
			return float64(stats.Total), 0
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		primaryI, secondaryI := score(records[i])
		primaryJ, secondaryJ := score(records[j])

		if primaryI != primaryJ {
			return primaryI > primaryJ
		}
		if secondaryI != secondaryJ {
			return secondaryI > secondaryJ
		}
		if !records[i].Stats.FirstSeen.Equal(records[j].Stats.FirstSeen) {
			return records[i].Stats.FirstSeen.Before(records[j].Stats.FirstSeen)
		}
		return records[i].Start.Less(records[j].Start)
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}
