package sources

import (
	"time"

	"github.com/ternarybob/colligo/internal/models"
)

// ResumePoint derives where a job's fetch generation starts from the
// persisted cursor.
//
// Three cases:
//   - no cursor, or a forced full re-fetch: a fresh generation over the
//     job's whole window;
//   - cursor with an in-flight page token: resume that generation at the
//     recorded page, with the same lower bound it was started with;
//   - completed cursor: a new incremental generation starting after the
//     last completed upper bound.
//
// An in-flight token always wins, including during a forced full re-fetch:
// once the forced generation has advanced past its first page, the recorded
// token is the only way the generation terminates. Force-full resets happen
// once, against the cursor loaded at job start, not per page.
func ResumePoint(job *models.Job, cursor *models.Cursor) (since time.Time, pageToken string, generation int) {
	if cursor == nil {
		return job.Window.Start, "", 1
	}

	if cursor.InFlight() {
		return cursor.WindowStart, cursor.PageToken, cursor.Generation
	}

	if job.ForceFull {
		return job.Window.Start, "", cursor.Generation + 1
	}

	return cursor.LastCompleted, "", cursor.Generation + 1
}

// UpperBound resolves the inclusive upper time bound for a fetch: the job
// window's end when set, otherwise now.
func UpperBound(job *models.Job) time.Time {
	if !job.Window.End.IsZero() {
		return job.Window.End
	}
	return time.Now()
}
