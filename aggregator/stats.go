package aggregator

import (
	"time"
)

const DefaultMagnitudeBucket = time.Minute

// ObservationStats tracks usage of a single network. The first observation is recorded on creation.
//
// Magnitude is the number of observations which share a time bucket. A bucket is only counted once it is closed,
// either by an observation in a later bucket or by FinishCalculations.
type ObservationStats struct {
	Total     int
	FirstSeen time.Time
	LastSeen  time.Time

	// Seconds between consecutive observations. Both are -1 until a second observation arrives.
	ShortestInterval int64
	LongestInterval  int64

	LeastMagnitude    int
	GreatestMagnitude int
	MagnitudeSum      int
	MagnitudeCount    int
	AverageMagnitude  float64

	bucketSize  time.Duration
	bucket      time.Time
	bucketCount int
	previous    time.Time
}

func NewObservationStats(timestamp time.Time, bucketSize time.Duration) *ObservationStats {
	if bucketSize <= 0 {
		bucketSize = DefaultMagnitudeBucket
	}

	return &ObservationStats{
		Total:            1,
		FirstSeen:        timestamp,
		LastSeen:         timestamp,
		ShortestInterval: -1,
		LongestInterval:  -1,
		bucketSize:       bucketSize,
		bucket:           timestamp.Truncate(bucketSize),
		bucketCount:      1,
		previous:         timestamp,
	}
}

// Observed records another observation of the network.
func (stats *ObservationStats) Observed(timestamp time.Time) {
	stats.seen(timestamp)

	// Going back in time only happens across input files, where the gap is meaningless
	if !timestamp.Before(stats.previous) {
		gap := int64(timestamp.Sub(stats.previous) / time.Second)

		if stats.ShortestInterval < 0 || gap < stats.ShortestInterval {
			stats.ShortestInterval = gap
		}

		if gap > stats.LongestInterval {
			stats.LongestInterval = gap
		}
	}
	stats.previous = timestamp

	bucket := timestamp.Truncate(stats.bucketSize)
	if bucket.Equal(stats.bucket) {
		stats.bucketCount++
		return
	}

	stats.closeBucket()
	stats.bucket = bucket
	stats.bucketCount = 1
}

// Backfill counts an observation recovered after the fact. Only the totals and the seen range are affected since the
// observation is out of sequence.
func (stats *ObservationStats) Backfill(timestamp time.Time) {
	stats.seen(timestamp)
}

func (stats *ObservationStats) seen(timestamp time.Time) {
	stats.Total++

	if timestamp.Before(stats.FirstSeen) {
		stats.FirstSeen = timestamp
	}

	if timestamp.After(stats.LastSeen) {
		stats.LastSeen = timestamp
	}
}

func (stats *ObservationStats) closeBucket() {
	if stats.bucketCount == 0 {
		return
	}

	if stats.MagnitudeCount == 0 || stats.bucketCount < stats.LeastMagnitude {
		stats.LeastMagnitude = stats.bucketCount
	}

	if stats.bucketCount > stats.GreatestMagnitude {
		stats.GreatestMagnitude = stats.bucketCount
	}

	stats.MagnitudeSum += stats.bucketCount
	stats.MagnitudeCount++
	stats.bucketCount = 0
}

// FinishCalculations closes the open magnitude bucket and computes the average. Calling it again is harmless.
func (stats *ObservationStats) FinishCalculations() {
	stats.closeBucket()

	if stats.MagnitudeCount > 0 {
		stats.AverageMagnitude = float64(stats.MagnitudeSum) / float64(stats.MagnitudeCount)
	}
}

// Rate is the average number of observations per interval over the period the network was seen.
func (stats *ObservationStats) Rate(interval time.Duration) float64 {
	if interval <= 0 {
		return float64(stats.Total)
	}

	intervals := int64(stats.LastSeen.Sub(stats.FirstSeen)/interval) + 1
	return float64(stats.Total) / float64(intervals)
}
