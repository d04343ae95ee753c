package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBucketTruncation(t *testing.T) {
	assert.Equal(t, int64(120), Bucket(149, 30))
	assert.Equal(t, int64(150), Bucket(150, 30))
	assert.Equal(t, int64(149), Bucket(149, 0), "non-positive size leaves the timestamp alone")
}

func TestMergeLastWriteWins(t *testing.T) {
	r := AttendanceRecord{ViewerID: "viewer-1"}

	r.Merge(map[int64]AttendanceSample{
		30: {OnStage: false, Playing: true},
		60: {OnStage: false, Playing: true},
	})
	r.Merge(map[int64]AttendanceSample{
		60: {OnStage: true, Playing: true},
		90: {OnStage: true, Playing: false},
	})

	assert.Len(t, r.Buckets, 3)
	assert.Equal(t, AttendanceSample{OnStage: false, Playing: true}, r.Buckets[30])
	assert.Equal(t, AttendanceSample{OnStage: true, Playing: true}, r.Buckets[60], "later sample overwrites the bucket")
	assert.Equal(t, AttendanceSample{OnStage: true, Playing: false}, r.Buckets[90])
}
