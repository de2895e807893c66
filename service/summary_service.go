package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jmeggitt/netrange_summary.git/aggregator"
	"github.com/jmeggitt/netrange_summary.git/asn"
	"github.com/jmeggitt/netrange_summary.git/config"
	"github.com/jmeggitt/netrange_summary.git/netindex"
	"github.com/jmeggitt/netrange_summary.git/report"
	"github.com/jmeggitt/netrange_summary.git/resolver"
	"github.com/jmeggitt/netrange_summary.git/source"
	"github.com/jmeggitt/netrange_summary.git/util"
	"golang.org/x/sync/errgroup"
)

const (
	ResolverRdap  = "rdap"
	ResolverMmdb  = "mmdb"
	ResolverCaida = "caida"
)

// Observations buffered between the input files and the aggregator
const observationBuffer = 1024

type SummaryOptions struct {
	// Paths are read in order. Standard input is read when there are none.
	Paths []string

	IndexKind    string
	SamplingSeed int64
	Aggregation  aggregator.Options

	Resolver        string
	RdapUrl         string
	RdapRate        float64
	ResolverTimeout time.Duration
	MmdbAsnPath     string
	MmdbCountryPath string
	CaidaPaths      []string

	RedisAddr     string
	RedisPassword string
	CacheSize     int
	CacheDuration time.Duration

	OutputDir string
	Formats   []report.Format
	TopN      int
}

// SummaryOptionsFromConfig reads every option from the environment.
func SummaryOptionsFromConfig() (options SummaryOptions, err error) {
	if options.Formats, err = report.ParseFormats(config.ReportFormats.GetStrings()); err != nil {
		return
	}

	options.IndexKind = config.IndexKind.GetString()
	options.SamplingSeed = config.SamplingSeed.GetInt64()
	options.Aggregation = aggregator.Options{
		SamplingInterval: config.SamplingInterval.GetDuration(),
		MagnitudeBucket:  config.MagnitudeBucket.GetDuration(),
		RateInterval:     config.RateInterval.GetDuration(),
		ReviewEvery:      config.ReviewEvery.GetInt(),
		ProgressEvery:    config.ProgressEvery.GetInt(),
		ErrorSampleLimit: config.ErrorSampleLimit.GetInt(),
	}

	options.Resolver = config.Resolver.GetString()
	options.RdapUrl = config.RdapUrl.GetString()
	options.RdapRate = config.RdapRate.GetFloat()
	options.ResolverTimeout = config.ResolverTimeout.GetDuration()
	options.MmdbAsnPath = config.MmdbAsnPath.GetString()
	options.MmdbCountryPath = config.MmdbCountryPath.GetString()
	options.CaidaPaths = config.CaidaPaths.GetStrings()

	options.RedisAddr = config.RedisAddr.GetString()
	options.RedisPassword = config.RedisPassword.GetString()
	options.CacheSize = config.ResolverCacheSize.GetInt()
	options.CacheDuration = config.CacheDuration.GetDuration()

	options.OutputDir = config.OutputDir.GetString()
	options.TopN = config.TopScores.GetInt()
	return
}

// SummaryService aggregates the input into networks, then writes the reports. Reports are still written when the run
// is interrupted.
type SummaryService struct {
	options SummaryOptions
	closers []io.Closer
}

func NewSummaryService(options SummaryOptions) *SummaryService {
	return &SummaryService{options: options}
}

func (summary *SummaryService) Name() string {
	return "SummaryService"
}

func (summary *SummaryService) Init(ctx context.Context, state *ApplicationState) error {
	networkResolver, err := summary.makeResolver(ctx, state)
	if err != nil {
		summary.close()
		return err
	}

	index, err := netindex.New[*aggregator.NetworkRecord](summary.options.IndexKind)
	if err != nil {
		summary.close()
		return err
	}

	options := summary.options.Aggregation
	options.Index = index
	if summary.options.SamplingSeed != 0 {
		options.Random = rand.New(rand.NewSource(summary.options.SamplingSeed))
	}
	if state.Registry != nil {
		options.Metrics = aggregator.NewMetrics(state.Registry)
	}

	state.Aggregator = aggregator.New(networkResolver, options)
	return nil
}

func (summary *SummaryService) resolverKind() string {
	if summary.options.Resolver != "" {
		return summary.options.Resolver
	}

	if summary.options.MmdbAsnPath != "" {
		return ResolverMmdb
	}
	return ResolverRdap
}

func (summary *SummaryService) makeResolver(ctx context.Context, state *ApplicationState) (aggregator.Resolver, error) {
	var base aggregator.Resolver

	switch kind := summary.resolverKind(); kind {
	case ResolverRdap:
		log.Info("Resolving networks with RDAP", "url", summary.options.RdapUrl)
		base = resolver.NewRDAP(summary.options.RdapUrl, summary.options.RdapRate, summary.options.ResolverTimeout)
	case ResolverMmdb:
		log.Info("Resolving networks with MaxMind database", "path", summary.options.MmdbAsnPath)
		mmdb, err := resolver.OpenMMDB(summary.options.MmdbAsnPath, summary.options.MmdbCountryPath)
		if err != nil {
			return nil, err
		}
		summary.closers = append(summary.closers, mmdb)
		base = mmdb
	case ResolverCaida:
		ipToAsn, err := summary.loadIpToAsn(ctx)
		if err != nil {
			return nil, err
		}
		state.IpToAsn = ipToAsn
		base = ipToAsn
	default:
		return nil, fmt.Errorf("unknown resolver %q", kind)
	}

	var store resolver.Store
	if summary.options.RedisAddr != "" {
		redisStore := resolver.NewRedisStore(summary.options.RedisAddr, summary.options.RedisPassword)
		summary.closers = append(summary.closers, redisStore)

		if err := redisStore.Ping(ctx); err != nil {
			log.Warn("Redis is unreachable, continuing without a shared cache", "addr", summary.options.RedisAddr, "err", err)
		} else {
			store = redisStore
		}
	}

	return resolver.NewCache(base, summary.options.CacheSize, store, summary.options.CacheDuration)
}

func (summary *SummaryService) loadIpToAsn(ctx context.Context) (*asn.IpToAsn, error) {
	if len(summary.options.CaidaPaths) == 0 {
		log.Info("Downloading latest CAIDA prefix2as datasets")
		return asn.CreateIpToAsn(ctx)
	}

	ipToAsn := asn.NewIpToAsn()
	for _, path := range summary.options.CaidaPaths {
		log.Info("Loading prefix2as dataset", "path", path)
		if err := ipToAsn.LoadFile(path); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return ipToAsn, nil
}

func (summary *SummaryService) Run(ctx context.Context, state *ApplicationState) error {
	defer summary.close()

	err := summary.aggregate(ctx, state.Aggregator)
	if errors.Is(err, context.Canceled) {
		log.Warn("Interrupted, reporting on the input read so far")
		err = nil
	}

	state.Aggregator.FinishCalculations()

	networkSummary := state.Aggregator.Summary()
	log.Info("Finished aggregation", "processed", networkSummary.Processed, "networks", networkSummary.Networks,
		"unresolved", networkSummary.Unresolved)

	writer := report.Writer{Dir: summary.options.OutputDir, Formats: summary.options.Formats, TopN: summary.options.TopN}
	_, reportErr := writer.Write(state.Aggregator)

	return errors.Join(err, reportErr)
}

func (summary *SummaryService) aggregate(ctx context.Context, target *aggregator.Aggregator) error {
	observations := make(chan aggregator.Observation, observationBuffer)
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		defer close(observations)

		if len(summary.options.Paths) == 0 {
			return source.Stream(groupCtx, os.Stdin, "stdin", observations)
		}
		return source.Files{Paths: summary.options.Paths}.Stream(groupCtx, observations)
	})

	group.Go(func() error {
		return target.Run(groupCtx, observations)
	})

	return group.Wait()
}

func (summary *SummaryService) close() {
	for _, closer := range summary.closers {
		util.CloseAndLogErrors("Error while closing resolver:", closer)
	}
	summary.closers = nil
}
