package aggregator

import (
	"math/rand"
	"time"
)

// SamplingState decides when a lookup for an unindexed address may be made. After each lookup the next one is
// delayed by a random offset within the interval so that repeated runs over similar data do not all query at the
// same moments.
type SamplingState struct {
	Interval   time.Duration
	NextSample time.Time
	random     *rand.Rand
}

// NewSamplingState creates the sampling state. An interval of zero disables sampling.
func NewSamplingState(interval time.Duration, random *rand.Rand) *SamplingState {
	if random == nil {
		random = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &SamplingState{
		Interval: interval,
		random:   random,
	}
}

func (sampling *SamplingState) Enabled() bool {
	return sampling.Interval > 0
}

// Skip reports whether a lookup at the given time falls between samples.
func (sampling *SamplingState) Skip(timestamp time.Time) bool {
	return sampling.Enabled() && timestamp.Before(sampling.NextSample)
}

// Advance picks the next sample second in [timestamp, timestamp + Interval).
func (sampling *SamplingState) Advance(timestamp time.Time) {
	if !sampling.Enabled() {
		return
	}

	var offset int64
	if seconds := int64(sampling.Interval / time.Second); seconds > 0 {
		offset = sampling.random.Int63n(seconds)
	}

	sampling.NextSample = timestamp.Truncate(time.Second).Add(time.Duration(offset) * time.Second)
}
