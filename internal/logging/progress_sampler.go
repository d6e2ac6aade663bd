package logging

import "strings"

// ProgressSampler suppresses repetitive per-window progress logs. It emits
// when completion crosses a percentage bucket or when the stage changes.
type ProgressSampler struct {
	bucketSize float64
	lastStage  string
	lastBucket int
}

// NewProgressSampler constructs a sampler with the given bucket width in
// percent. Non-positive widths fall back to 10%.
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// Percent converts a done/total pair to a percentage. A zero total is 100%.
func Percent(done, total int) float64 {
	if total <= 0 {
		return 100
	}
	return float64(done) * 100 / float64(total)
}

// ShouldLog reports whether progress at done/total in stage is worth logging.
// The final unit of work always logs.
func (s *ProgressSampler) ShouldLog(done, total int, stage string) bool {
	if s == nil {
		return true
	}
	stage = strings.TrimSpace(stage)
	emit := false
	if stage != "" && stage != s.lastStage {
		s.lastStage = stage
		s.lastBucket = -1
		emit = true
	}
	percent := Percent(done, total)
	bucket := int(percent / s.bucketSize)
	if percent >= 100 {
		bucket = int(100/s.bucketSize) + 1
	}
	if bucket > s.lastBucket {
		s.lastBucket = bucket
		emit = true
	}
	return emit
}

