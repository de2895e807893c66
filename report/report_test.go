package report

import (
	"encoding/csv"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmeggitt/netrange_summary.git/aggregator"
	"github.com/jmeggitt/netrange_summary.git/cidr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2023, 3, 14, 12, 0, 0, 0, time.UTC)

type staticSource struct {
	ranked   map[aggregator.RankKey][]*aggregator.NetworkRecord
	errorLog aggregator.ErrorLog
}

func (source staticSource) Ranked(key aggregator.RankKey, limit int) []*aggregator.NetworkRecord {
	records := source.ranked[key]
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}

func (source staticSource) Errors() aggregator.ErrorLog {
	return source.errorLog
}

func (staticSource) RateInterval() time.Duration {
	return time.Hour
}

func makeRecord(prefix string, observations ...int) *aggregator.NetworkRecord {
	block := netip.MustParsePrefix(prefix)
	stats := aggregator.NewObservationStats(baseTime, time.Minute)
	for _, seconds := range observations {
		stats.Observed(baseTime.Add(time.Duration(seconds) * time.Second))
	}
	stats.FinishCalculations()

	width := block.Addr().BitLen()
	last := cidr.FromUint(cidr.ToUint(block.Addr()).Or(cidr.HostMask(width-block.Bits())), width)

	return &aggregator.NetworkRecord{
		Start:  block.Addr(),
		End:    last,
		Blocks: []netip.Prefix{block},
		Info:   aggregator.NetworkInfo{Name: "NET-" + prefix, Handle: "H-" + prefix, ASN: 20712, Country: "GB"},
		Stats:  stats,
	}
}

func readTable(t *testing.T, path string, delimiter rune) [][]string {
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comma = delimiter
	rows, err := reader.ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRankedRows(t *testing.T) {
	single := makeRecord("81.2.69.0/28")
	busy := makeRecord("5.6.7.0/24", 1, 4, 14)

	rows := RankedRows([]*aggregator.NetworkRecord{busy, single}, time.Hour)
	require.Len(t, rows, 3)
	assert.Equal(t, RankedHeader, rows[0])
	assert.Equal(t, []string{
		"1", "5.6.7.0/24", "5.6.7.0", "5.6.7.255", "NET-5.6.7.0/24", "H-5.6.7.0/24", "20712", "GB", "4",
		"2023-03-14T12:00:00Z", "2023-03-14T12:00:14Z", "1", "10", "4.0000", "4", "4", "4", "1", "4.00",
	}, rows[1])

	// A single observation leaves the intervals empty
	assert.Equal(t, "2", rows[2][0])
	assert.Equal(t, "", rows[2][11])
	assert.Equal(t, "", rows[2][12])
}

func TestErrorRows(t *testing.T) {
	rows := ErrorRows(aggregator.ErrorLog{
		Address: []aggregator.ObservationError{{Kind: aggregator.AddressErrorKind, Address: "bogus", Detail: "bad"}},
		Unresolved: []aggregator.ObservationError{{
			Kind: aggregator.ResolveErrorKind, Address: "81.2.69.1", Time: baseTime, HasTime: true, Detail: "not found",
		}},
	})

	assert.Equal(t, [][]string{
		ErrorHeader,
		{"address", "bogus", "", "bad"},
		{"unresolved", "81.2.69.1", "2023-03-14T12:00:00Z", "not found"},
	}, rows)
}

func TestErrorRowsCountsOmitted(t *testing.T) {
	rows := ErrorRows(aggregator.ErrorLog{
		Excluded: []aggregator.ObservationError{{Kind: aggregator.ExcludedErrorKind, Address: "10.0.0.1"}},
		Omitted:  map[aggregator.ErrorKind]int{aggregator.TimeErrorKind: 4, aggregator.ExcludedErrorKind: 12},
	})

	assert.Equal(t, [][]string{
		ErrorHeader,
		{"excluded", "10.0.0.1", "", ""},
		{"excluded", "", "", "12 more observations omitted"},
		{"time", "", "", "4 more observations omitted"},
	}, rows)
}

func TestWriterWritesEveryReport(t *testing.T) {
	records := []*aggregator.NetworkRecord{
		makeRecord("5.6.7.0/24", 1, 2, 3),
		makeRecord("81.2.69.0/28", 1),
		makeRecord("2001:db8::/32"),
	}

	source := staticSource{
		ranked: map[aggregator.RankKey][]*aggregator.NetworkRecord{
			aggregator.ByTotal:     records,
			aggregator.ByRate:      records,
			aggregator.ByMagnitude: records,
		},
		errorLog: aggregator.ErrorLog{
			Time: []aggregator.ObservationError{{Kind: aggregator.TimeErrorKind, Address: "5.6.7.8"}},
		},
	}

	dir := filepath.Join(t.TempDir(), "nested", "reports")
	writer := Writer{Dir: dir, Formats: []Format{CSV, TSV}, TopN: 2}

	paths, err := writer.Write(source)
	require.NoError(t, err)
	assert.Len(t, paths, 8)

	for _, format := range writer.Formats {
		for _, key := range aggregator.RankKeys {
			rows := readTable(t, filepath.Join(dir, Name(key)+"."+format.Extension), format.Delimiter)
			require.Len(t, rows, 3, "header plus the top two networks")
			assert.Equal(t, RankedHeader, rows[0])
			assert.Equal(t, "5.6.7.0/24", rows[1][1])
		}

		rows := readTable(t, filepath.Join(dir, ErrorsReport+"."+format.Extension), format.Delimiter)
		assert.Equal(t, [][]string{ErrorHeader, {"time", "5.6.7.8", "", ""}}, rows)
	}
}

func TestWriterReportsFailures(t *testing.T) {
	// A file where the directory should be
	dir := filepath.Join(t.TempDir(), "reports")
	require.NoError(t, os.WriteFile(dir, nil, 0o644))

	_, err := Writer{Dir: dir, Formats: []Format{CSV}}.Write(staticSource{})
	assert.Error(t, err)
}

func TestParseFormats(t *testing.T) {
	formats, err := ParseFormats([]string{"csv", " TSV "})
	require.NoError(t, err)
	assert.Equal(t, []Format{CSV, TSV}, formats)

	_, err = ParseFormats([]string{"xlsx"})
	assert.Error(t, err)
}
