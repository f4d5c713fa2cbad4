package stage

import (
	"time"

	"dubber/internal/queue"
)

// Begin marks the named stage as running on the job and records the start time.
// It returns the stage record for the Execute body to fill in, or nil when the
// job does not carry that stage.
func Begin(job *queue.Job, name string, now time.Time) *queue.Stage {
	st := job.StageByName(name)
	if st == nil {
		return nil
	}
	started := now.UTC()
	st.Status = queue.StageProcessing
	st.StartedAt = &started
	st.Attempts++
	return st
}

// Finish marks the stage as completed and stamps the end time.
func Finish(st *queue.Stage, now time.Time) {
	if st == nil {
		return
	}
	ended := now.UTC()
	st.Status = queue.StageCompleted
	st.EndedAt = &ended
}

// Fail marks the stage as failed and stamps the end time. The stage keeps its
// attempt count so retry handling can decide whether to run it again.
func Fail(st *queue.Stage, now time.Time) {
	if st == nil {
		return
	}
	ended := now.UTC()
	st.Status = queue.StageFailed
	st.EndedAt = &ended
}

// Rearm returns a failed stage to pending so the runner can retry it.
func Rearm(st *queue.Stage) {
	if st == nil {
		return
	}
	st.Status = queue.StagePending
	st.EndedAt = nil
}
