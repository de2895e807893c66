package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jmeggitt/netrange_summary.git/aggregator"
	"github.com/jmeggitt/netrange_summary.git/util"
)

const ErrorsReport = "errors"

// Format is a delimited text layout for reports.
type Format struct {
	Extension string
	Delimiter rune
}

var (
	CSV = Format{Extension: "csv", Delimiter: ','}
	TSV = Format{Extension: "tsv", Delimiter: '\t'}
)

func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "csv":
		return CSV, nil
	case "tsv":
		return TSV, nil
	}
	return Format{}, fmt.Errorf("unknown report format %q", name)
}

func ParseFormats(names []string) ([]Format, error) {
	formats := make([]Format, 0, len(names))
	for _, name := range names {
		format, err := ParseFormat(name)
		if err != nil {
			return nil, err
		}
		formats = append(formats, format)
	}
	return formats, nil
}

// Source is the finished state reports are generated from.
type Source interface {
	Ranked(key aggregator.RankKey, limit int) []*aggregator.NetworkRecord
	Errors() aggregator.ErrorLog
	RateInterval() time.Duration
}

// Writer writes the ranked and error reports of a run into Dir, one set per format.
type Writer struct {
	Dir     string
	Formats []Format
	// TopN limits the networks in each ranked report. Zero or less writes every network.
	TopN int
}

type job struct {
	format Format
	name   string
	rows   [][]string
}

type result struct {
	path string
	err  error
}

// Name of the file holding a ranking.
func Name(key aggregator.RankKey) string {
	return "by_" + string(key)
}

// Write generates every report and returns the paths written. Files are written concurrently and all of them are
// attempted even if one fails.
func (writer Writer) Write(source Source) ([]string, error) {
	if err := os.MkdirAll(writer.Dir, 0o755); err != nil {
		return nil, err
	}

	// Snapshot everything up front so each format reports the same data
	var tables []job
	interval := source.RateInterval()
	for _, key := range aggregator.RankKeys {
		tables = append(tables, job{name: Name(key), rows: RankedRows(source.Ranked(key, writer.TopN), interval)})
	}
	tables = append(tables, job{name: ErrorsReport, rows: ErrorRows(source.Errors())})

	input, output := util.MakeWorkGroup(len(tables)*len(writer.Formats), len(tables)*len(writer.Formats), func(task job, out chan result) {
		path := filepath.Join(writer.Dir, task.name+"."+task.format.Extension)
		out <- result{path: path, err: writeFile(path, task.format, task.rows)}
	})

	for _, format := range writer.Formats {
		for _, table := range tables {
			table.format = format
			input <- table
		}
	}
	close(input)

	var paths []string
	var errs []error
	for written := range output {
		if written.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", written.path, written.err))
			continue
		}
		log.Info("Wrote report", "path", written.path)
		paths = append(paths, written.path)
	}

	return paths, errors.Join(errs...)
}

func writeFile(path string, format Format, rows [][]string) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return
	}

	defer func() {
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
	}()

	csvWriter := csv.NewWriter(file)
	csvWriter.Comma = format.Delimiter

	if err = csvWriter.WriteAll(rows); err != nil {
		return
	}
	return csvWriter.Error()
}

var RankedHeader = []string{
	"rank", "cidr", "start", "end", "name", "handle", "asn", "country", "total", "first_seen", "last_seen",
	"shortest_interval", "longest_interval", "rate", "least_magnitude", "greatest_magnitude", "magnitude_sum",
	"magnitude_count", "average_magnitude",
}

var ErrorHeader = []string{"kind", "address", "time", "detail"}

// RankedRows renders ranked networks with a header row.
func RankedRows(records []*aggregator.NetworkRecord, interval time.Duration) [][]string {
	rows := make([][]string, 0, len(records)+1)
	rows = append(rows, RankedHeader)

	for i, record := range records {
		stats := record.Stats

		asn := ""
		if record.Info.ASN != 0 {
			asn = strconv.FormatUint(uint64(record.Info.ASN), 10)
		}

		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			record.CIDR(),
			record.Start.String(),
			record.End.String(),
			record.Info.Name,
			record.Info.Handle,
			asn,
			record.Info.Country,
			strconv.Itoa(stats.Total),
			formatTime(stats.FirstSeen),
			formatTime(stats.LastSeen),
			formatInterval(stats.ShortestInterval),
			formatInterval(stats.LongestInterval),
			strconv.FormatFloat(stats.Rate(interval), 'f', 4, 64),
			strconv.Itoa(stats.LeastMagnitude),
			strconv.Itoa(stats.GreatestMagnitude),
			strconv.Itoa(stats.MagnitudeSum),
			strconv.Itoa(stats.MagnitudeCount),
			strconv.FormatFloat(stats.AverageMagnitude, 'f', 2, 64),
		})
	}

	return rows
}

// ErrorRows renders every rejected observation with a header row.
func ErrorRows(errorLog aggregator.ErrorLog) [][]string {
	entries := errorLog.All()

	rows := make([][]string, 0, len(entries)+1)
	rows = append(rows, ErrorHeader)

	for _, entry := range entries {
		timestamp := ""
		if entry.HasTime {
			timestamp = formatTime(entry.Time)
		}
		rows = append(rows, []string{string(entry.Kind), entry.Address, timestamp, entry.Detail})
	}

	kinds := slices.Sorted(maps.Keys(errorLog.Omitted))
	for _, kind := range kinds {
		detail := fmt.Sprintf("%d more observations omitted", errorLog.Omitted[kind])
		rows = append(rows, []string{string(kind), "", "", detail})
	}

	return rows
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// Networks observed once have no interval
func formatInterval(seconds int64) string {
	if seconds < 0 {
		return ""
	}
	return strconv.FormatInt(seconds, 10)
}
