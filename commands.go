package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmeggitt/netrange_summary.git/config"
	"github.com/jmeggitt/netrange_summary.git/report"
	"github.com/jmeggitt/netrange_summary.git/rest_api"
	"github.com/jmeggitt/netrange_summary.git/service"
	"github.com/jmeggitt/netrange_summary.git/util"
	"github.com/spf13/cobra"
)

var (
	logLevel         string
	outputDir        string
	reportFormats    []string
	topScores        int
	indexKind        string
	resolverKind     string
	caidaPaths       []string
	samplingInterval time.Duration
	samplingSeed     int64
	apiAddr          string

	rootCmd = &cobra.Command{
		Use:   "netrange-summary",
		Short: "Summarize address observations by the networks they belong to",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.SetupLogging(logLevel)
		},
		SilenceUsage: true,
	}

	summarizeCmd = &cobra.Command{
		Use:   "summarize [log file...]",
		Short: "Aggregate log files into ranked network reports",
		Long: `Reads every log file in order (standard input when none are given), resolves the network of each
address and writes reports ranked by total, rate and magnitude to the output directory.`,
		RunE: runSummarize,
	}

	serveCmd = &cobra.Command{
		Use:   "serve [log file...]",
		Short: "Aggregate log files and serve the results over HTTP",
		RunE:  runServe,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", config.LogLevel.GetString(), "debug, info, warn or error")

	for _, cmd := range []*cobra.Command{summarizeCmd, serveCmd} {
		flags := cmd.Flags()
		flags.StringVarP(&outputDir, "output", "o", config.OutputDir.GetString(), "directory reports are written to")
		flags.StringSliceVar(&reportFormats, "formats", config.ReportFormats.GetStrings(), "report formats (csv, tsv)")
		flags.IntVar(&topScores, "top", config.TopScores.GetInt(), "networks listed in each ranked report, 0 for all")
		flags.StringVar(&indexKind, "index", config.IndexKind.GetString(), "network index (tree, trie or map)")
		flags.StringVar(&resolverKind, "resolver", config.Resolver.GetString(), "network source (rdap, mmdb or caida)")
		flags.StringSliceVar(&caidaPaths, "caida", config.CaidaPaths.GetStrings(), "local prefix2as files for the caida resolver")
		flags.DurationVar(&samplingInterval, "sampling-interval", config.SamplingInterval.GetDuration(), "minimum spacing of lookups for unknown addresses, 0 to disable")
		flags.Int64Var(&samplingSeed, "seed", config.SamplingSeed.GetInt64(), "sampling seed, 0 to seed from the clock")
	}

	serveCmd.Flags().StringVar(&apiAddr, "addr", config.ApiAddr.GetString(), "address the REST API listens on")

	rootCmd.AddCommand(summarizeCmd, serveCmd)
}

// summaryOptions applies the command line flags over the environment configuration
func summaryOptions(paths []string) (options service.SummaryOptions, err error) {
	if options, err = service.SummaryOptionsFromConfig(); err != nil {
		return
	}

	if options.Formats, err = report.ParseFormats(reportFormats); err != nil {
		return
	}

	options.Paths = paths
	options.OutputDir = outputDir
	options.TopN = topScores
	options.IndexKind = indexKind
	options.Resolver = resolverKind
	options.CaidaPaths = caidaPaths
	options.SamplingSeed = samplingSeed
	options.Aggregation.SamplingInterval = samplingInterval
	return
}

// Interrupts cancel the context so that services can stop early and still report
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func runServices(ctx context.Context, services []service.Service) error {
	state := service.InitApplicationState()

	if err := service.InitServices(ctx, state, services); err != nil {
		return err
	}

	return service.RunServices(ctx, state, services)
}

func runSummarize(cmd *cobra.Command, args []string) error {
	options, err := summaryOptions(args)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	return runServices(ctx, []service.Service{service.NewSummaryService(options)})
}

func runServe(cmd *cobra.Command, args []string) error {
	options, err := summaryOptions(args)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	// The summary must be initialized first since the REST API reads the aggregator it creates
	services := []service.Service{
		service.NewSummaryService(options),
		rest_api.NewRestApiService(apiAddr, options.TopN),
	}

	if options.Resolver == service.ResolverCaida && len(options.CaidaPaths) == 0 {
		services = append(services, service.IpToAsnService{})
	}

	return runServices(ctx, services)
}
