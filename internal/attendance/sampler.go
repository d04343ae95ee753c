package attendance

import (
	"github.com/classlive/coordinator/internal/models"
	"github.com/classlive/coordinator/internal/workflow"
)

// ParticipantSampler builds the SampleFunc for a joined viewer. Attendance
// accrues only while the broadcast is RUNNING or STOPPING; raw-distribution
// sessions also wait until the manifest is actually playable. Ticks outside
// that window are skipped. A kicked viewer, or one back to idle, ends
// recording.
func ParticipantSampler(state func() workflow.State, live func() models.LiveState, playing func() bool, needManifest bool) SampleFunc {
	return func() (models.AttendanceSample, bool, bool) {
		st := state()
		if st == workflow.StateKicked || st == workflow.StateIdle {
			return models.AttendanceSample{}, false, true
		}
		switch live() {
		case models.LiveRunning, models.LiveStopping:
		default:
			return models.AttendanceSample{}, false, false
		}
		isPlaying := playing()
		if needManifest && !isPlaying {
			return models.AttendanceSample{}, false, false
		}
		return models.AttendanceSample{
			OnStage: st == workflow.StateAccepted,
			Playing: isPlaying,
		}, true, false
	}
}
