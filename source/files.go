package source

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/charmbracelet/log"
	"github.com/jmeggitt/netrange_summary.git/aggregator"
	"github.com/jmeggitt/netrange_summary.git/util"
)

var ErrNoTimestamp = errors.New("no recognised timestamp")

var (
	// [10/Oct/2000:13:55:36 -0700] as written by Apache and nginx
	commonLogTime = regexp.MustCompile(`\[(\d{2}/[A-Za-z]{3}/\d{4}:\d{2}:\d{2}:\d{2} [+-]\d{4})]`)
	rfc3339Time   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?`)
	unixTime      = regexp.MustCompile(`^\d{9,10}(?:\.\d+)?$`)
)

const commonLogLayout = "02/Jan/2006:15:04:05 -0700"

// ParseLine extracts the address literal and timestamp from a log line. The address is always the first field, where
// fields are separated by whitespace or commas. The address is returned even when no timestamp could be found.
func ParseLine(line string) (address string, timestamp time.Time, err error) {
	fields := strings.FieldsFunc(line, isFieldSeparator)
	if len(fields) == 0 {
		return "", time.Time{}, io.ErrUnexpectedEOF
	}

	address = strings.Trim(fields[0], "[]\"")
	timestamp, err = parseTimestamp(line, fields)
	return
}

func isFieldSeparator(r rune) bool {
	return r == ',' || unicode.IsSpace(r)
}

func parseTimestamp(line string, fields []string) (time.Time, error) {
	if match := commonLogTime.FindStringSubmatch(line); match != nil {
		return time.Parse(commonLogLayout, match[1])
	}

	if match := rfc3339Time.FindString(line); match != "" {
		return parseIsoTime(match)
	}

	// Unix seconds are only trusted in a dedicated column right after the address or at the end of the line
	candidates := fields[1:]
	if len(candidates) > 1 {
		candidates = []string{candidates[0], candidates[len(candidates)-1]}
	}

	for _, candidate := range candidates {
		if unixTime.MatchString(candidate) {
			seconds, err := strconv.ParseFloat(candidate, 64)
			if err != nil {
				return time.Time{}, err
			}
			return time.Unix(int64(seconds), 0).UTC(), nil
		}
	}

	return time.Time{}, ErrNoTimestamp
}

func parseIsoTime(value string) (time.Time, error) {
	value = strings.Replace(value, " ", "T", 1)

	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05Z0700", "2006-01-02T15:04:05"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse time %q", value)
}

// Files streams observations from log files in the order given. Files ending in .gz are decompressed.
type Files struct {
	Paths []string
}

// Stream sends an observation for every usable line to out. The first observation of every file is marked with
// NewFile. The channel is not closed.
func (files Files) Stream(ctx context.Context, out chan<- aggregator.Observation) error {
	for _, path := range files.Paths {
		if err := streamFile(ctx, path, out); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	return nil
}

func streamFile(ctx context.Context, path string, out chan<- aggregator.Observation) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer util.CloseAndLogErrors("Error while closing input file:", file)

	var reader io.Reader = file
	if strings.HasSuffix(path, ".gz") {
		gzipReader, err := gzip.NewReader(file)
		if err != nil {
			return err
		}
		defer util.CloseAndLogErrors("Error while closing gzip reader:", gzipReader)
		reader = gzipReader
	}

	log.Info("Reading observations", "path", path)
	return Stream(ctx, reader, path, out)
}

// Stream reads observations from a single time ordered input.
func Stream(ctx context.Context, reader io.Reader, name string, out chan<- aggregator.Observation) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		address, timestamp, err := ParseLine(line)
		observation := aggregator.Observation{
			Address: address,
			Time:    timestamp,
			HasTime: err == nil,
			NewFile: first,
			Source:  name,
		}
		first = false

		select {
		case out <- observation:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return scanner.Err()
}
