package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlive/coordinator/internal/models"
	"github.com/classlive/coordinator/internal/workflow"
)

type fakePusher struct {
	mu     sync.Mutex
	pushes []map[int64]models.AttendanceSample
}

func (f *fakePusher) PushAttendance(ctx context.Context, sessionID uuid.UUID, viewerID string, buckets map[int64]models.AttendanceSample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot := make(map[int64]models.AttendanceSample, len(buckets))
	for k, v := range buckets {
		snapshot[k] = v
	}
	f.pushes = append(f.pushes, snapshot)
	return nil
}

func (f *fakePusher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pushes)
}

func TestRecorderPushesFullMapEachTick(t *testing.T) {
	pusher := &fakePusher{}
	r := NewRecorder(pusher, uuid.New(), "viewer-1", 1, 5*time.Millisecond,
		func() (models.AttendanceSample, bool, bool) {
			return models.AttendanceSample{Playing: true}, true, false
		}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	require.Eventually(t, func() bool { return pusher.count() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	pusher.mu.Lock()
	defer pusher.mu.Unlock()
	// Later pushes carry at least everything earlier ones did.
	assert.GreaterOrEqual(t, len(pusher.pushes[len(pusher.pushes)-1]), len(pusher.pushes[0]))
}

func TestRecorderStopsWhenViewerDone(t *testing.T) {
	pusher := &fakePusher{}
	var mu sync.Mutex
	active := true
	r := NewRecorder(pusher, uuid.New(), "viewer-1", 1, 5*time.Millisecond,
		func() (models.AttendanceSample, bool, bool) {
			mu.Lock()
			defer mu.Unlock()
			return models.AttendanceSample{}, active, !active
		}, nil)

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool { return pusher.count() >= 1 }, time.Second, 5*time.Millisecond)
	mu.Lock()
	active = false
	mu.Unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recorder kept running after the viewer was done")
	}
}

func TestRecorderSkipsTicksOutsideBroadcast(t *testing.T) {
	pusher := &fakePusher{}
	var mu sync.Mutex
	record := false
	ticks := 0
	r := NewRecorder(pusher, uuid.New(), "viewer-1", 1, 5*time.Millisecond,
		func() (models.AttendanceSample, bool, bool) {
			mu.Lock()
			defer mu.Unlock()
			ticks++
			return models.AttendanceSample{Playing: true}, record, false
		}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	// Ticks arrive but nothing is recorded or pushed until the gate opens.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return ticks >= 3
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, pusher.count())
	assert.Empty(t, r.Buckets())

	mu.Lock()
	record = true
	mu.Unlock()
	require.Eventually(t, func() bool { return pusher.count() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestParticipantSamplerGatesOnLiveState(t *testing.T) {
	tests := []struct {
		name         string
		state        workflow.State
		live         models.LiveState
		playing      bool
		needManifest bool
		wantSample   models.AttendanceSample
		wantRecord   bool
		wantDone     bool
	}{
		{
			name:  "asked before the broadcast starts",
			state: workflow.StateAsked, live: models.LiveIdle,
		},
		{
			name:  "asked while running",
			state: workflow.StateAsked, live: models.LiveRunning, playing: true,
			wantSample: models.AttendanceSample{Playing: true}, wantRecord: true,
		},
		{
			name:  "on stage while running",
			state: workflow.StateAccepted, live: models.LiveRunning, playing: true,
			wantSample: models.AttendanceSample{OnStage: true, Playing: true}, wantRecord: true,
		},
		{
			name:  "still counted while stopping",
			state: workflow.StateAsked, live: models.LiveStopping, playing: true,
			wantSample: models.AttendanceSample{Playing: true}, wantRecord: true,
		},
		{
			name:  "not counted after stop",
			state: workflow.StateAsked, live: models.LiveStopped, playing: true,
		},
		{
			name:  "raw waits for the manifest",
			state: workflow.StateAsked, live: models.LiveRunning, needManifest: true,
		},
		{
			name:  "raw counts once playable",
			state: workflow.StateAsked, live: models.LiveRunning, playing: true, needManifest: true,
			wantSample: models.AttendanceSample{Playing: true}, wantRecord: true,
		},
		{
			name:  "kicked ends recording",
			state: workflow.StateKicked, live: models.LiveRunning, playing: true,
			wantDone: true,
		},
		{
			name:  "departed viewer ends recording",
			state: workflow.StateIdle, live: models.LiveRunning, playing: true,
			wantDone: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sample := ParticipantSampler(
				func() workflow.State { return tc.state },
				func() models.LiveState { return tc.live },
				func() bool { return tc.playing },
				tc.needManifest,
			)
			got, record, done := sample()
			assert.Equal(t, tc.wantSample, got)
			assert.Equal(t, tc.wantRecord, record)
			assert.Equal(t, tc.wantDone, done)
		})
	}
}
