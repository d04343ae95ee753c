package models

// AttendanceSample is what a client observed about itself during one bucket.
// Merging is shallow: a later sample's fields overwrite the earlier ones for
// the same bucket.
type AttendanceSample struct {
	OnStage bool `json:"onStage"`
	Playing bool `json:"playing"`
}

// AttendanceRecord maps time buckets (epoch seconds truncated to the sampling
// interval) to what the viewer was doing. Grows monotonically in bucket count
// for the session's duration; flushed to the server on every sampling tick.
type AttendanceRecord struct {
	ViewerID string                     `json:"viewer_id"`
	Buckets  map[int64]AttendanceSample `json:"buckets"`
}

// Merge folds other's buckets into r, last write wins per bucket.
func (r *AttendanceRecord) Merge(other map[int64]AttendanceSample) {
	if r.Buckets == nil {
		r.Buckets = make(map[int64]AttendanceSample, len(other))
	}
	for bucket, sample := range other {
		r.Buckets[bucket] = sample
	}
}

// Bucket truncates an epoch-seconds timestamp to the sampling interval.
func Bucket(epochSec, bucketSize int64) int64 {
	if bucketSize <= 0 {
		return epochSec
	}
	return epochSec / bucketSize * bucketSize
}
