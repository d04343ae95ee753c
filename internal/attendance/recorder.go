package attendance

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classlive/coordinator/internal/models"
)

// Pusher uploads the viewer's full bucket mapping. Implemented by
// apiclient.Client; the server merges per bucket, last write wins.
type Pusher interface {
	PushAttendance(ctx context.Context, sessionID uuid.UUID, viewerID string, buckets map[int64]models.AttendanceSample) error
}

// SampleFunc reports what the viewer is doing right now. record says whether
// this tick counts toward attendance; a tick outside the broadcast window is
// skipped, not recorded. done ends recording for good, which is how a kicked
// or departed viewer winds down.
type SampleFunc func() (sample models.AttendanceSample, record, done bool)

// Recorder samples the viewer's state on a fixed interval and pushes the
// accumulated bucket map to the server on every tick. Pushing the whole map
// each time makes a lost push harmless; the next one carries everything.
type Recorder struct {
	pusher     Pusher
	sessionID  uuid.UUID
	viewerID   string
	bucketSize int64
	interval   time.Duration
	sample     SampleFunc
	logger     *zap.Logger

	mu     sync.Mutex
	record models.AttendanceRecord
}

// NewRecorder creates a recorder. bucketSize is in seconds.
func NewRecorder(pusher Pusher, sessionID uuid.UUID, viewerID string, bucketSize int64, interval time.Duration, sample SampleFunc, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		pusher:     pusher,
		sessionID:  sessionID,
		viewerID:   viewerID,
		bucketSize: bucketSize,
		interval:   interval,
		sample:     sample,
		logger:     logger,
		record:     models.AttendanceRecord{ViewerID: viewerID},
	}
}

// Run samples until ctx is cancelled or the sample func reports the viewer
// is done. Push failures are logged and swallowed; attendance is advisory
// and must never take the session down.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sample, record, done := r.sample()
			if done {
				return
			}
			if !record {
				continue
			}
			bucket := models.Bucket(now.Unix(), r.bucketSize)
			r.mu.Lock()
			r.record.Merge(map[int64]models.AttendanceSample{bucket: sample})
			r.mu.Unlock()
			r.push(ctx)
		}
	}
}

// Buckets returns a copy of what has been recorded so far.
func (r *Recorder) Buckets() map[int64]models.AttendanceSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]models.AttendanceSample, len(r.record.Buckets))
	for k, v := range r.record.Buckets {
		out[k] = v
	}
	return out
}

func (r *Recorder) push(ctx context.Context) {
	pushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := r.pusher.PushAttendance(pushCtx, r.sessionID, r.viewerID, r.Buckets()); err != nil {
		r.logger.Warn("attendance push failed",
			zap.String("session_id", r.sessionID.String()),
			zap.String("viewer_id", r.viewerID),
			zap.Error(err))
	}
}
