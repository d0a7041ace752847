package replay

import (
	"fmt"
	"math"
)

// RateLimiterSpec gates inserts and samples on a target sample-to-insert
// ratio and a minimum population floor.
//
// With diff = inserts*SamplesPerInsert - samples, an insert is allowed while
// the table holds fewer than MinSizeToSample items or diff stays within
// MaxDiff, and a sample is allowed once MinSizeToSample items are held and
// diff stays above MinDiff.
type RateLimiterSpec struct {
	SamplesPerInsert float64 `yaml:"samples_per_insert" cbor:"samples_per_insert"`
	MinSizeToSample  int     `yaml:"min_size_to_sample" cbor:"min_size_to_sample"`
	MinDiff          float64 `yaml:"min_diff" cbor:"min_diff"`
	MaxDiff          float64 `yaml:"max_diff" cbor:"max_diff"`
}

// MinSize blocks sampling until n items have been inserted and never blocks
// inserts.
func MinSize(n int) RateLimiterSpec {
	return RateLimiterSpec{
		SamplesPerInsert: 1,
		MinSizeToSample:  n,
		MinDiff:          math.Inf(-1),
		MaxDiff:          math.Inf(1),
	}
}

// SampleToInsertRatio keeps the observed sample-to-insert ratio within
// errorBuffer of samplesPerInsert once minSize items are held.
func SampleToInsertRatio(samplesPerInsert float64, minSize int, errorBuffer float64) RateLimiterSpec {
	offset := samplesPerInsert * float64(minSize)
	return RateLimiterSpec{
		SamplesPerInsert: samplesPerInsert,
		MinSizeToSample:  minSize,
		MinDiff:          offset - errorBuffer,
		MaxDiff:          offset + errorBuffer,
	}
}

// Queue makes a table behave like a bounded queue of size items where every
// item is sampled exactly once.
func Queue(size int) RateLimiterSpec {
	return RateLimiterSpec{
		SamplesPerInsert: 1,
		MinSizeToSample:  1,
		MinDiff:          0,
		MaxDiff:          float64(size),
	}
}

// Validate checks the limiter bounds.
func (r RateLimiterSpec) Validate() error {
	if r.SamplesPerInsert <= 0 {
		return fmt.Errorf("samples_per_insert must be positive, got %v", r.SamplesPerInsert)
	}
	if r.MinSizeToSample < 1 {
		return fmt.Errorf("min_size_to_sample must be at least 1, got %d", r.MinSizeToSample)
	}
	if r.MinDiff > r.MaxDiff {
		return fmt.Errorf("min_diff %v exceeds max_diff %v", r.MinDiff, r.MaxDiff)
	}
	return nil
}

func (r RateLimiterSpec) canInsert(size int, inserts, samples int64) bool {
	if size+1 <= r.MinSizeToSample {
		return true
	}
	diff := float64(inserts+1)*r.SamplesPerInsert - float64(samples)
	return diff <= r.MaxDiff
}

func (r RateLimiterSpec) canSample(size int, inserts, samples int64) bool {
	if size < r.MinSizeToSample {
		return false
	}
	diff := float64(inserts)*r.SamplesPerInsert - float64(samples+1)
	return diff >= r.MinDiff
}
