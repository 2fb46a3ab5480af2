package sources

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/colligo/internal/models"
)

func resumeJob(forceFull bool) *models.Job {
	return models.NewJob(models.SourceGitLab, "p1", models.ResourceIssues, models.Window{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}, forceFull)
}

func TestResumePoint(t *testing.T) {
	windowStart := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	midWindow := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	completed := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		job            *models.Job
		cursor         *models.Cursor
		wantSince      time.Time
		wantPageToken  string
		wantGeneration int
	}{
		{
			name:           "no cursor starts a fresh generation over the window",
			job:            resumeJob(false),
			cursor:         nil,
			wantSince:      windowStart,
			wantPageToken:  "",
			wantGeneration: 1,
		},
		{
			name: "in-flight cursor resumes its generation at the recorded page",
			job:  resumeJob(false),
			cursor: &models.Cursor{
				PageToken:   "7",
				WindowStart: midWindow,
				Generation:  3,
			},
			wantSince:      midWindow,
			wantPageToken:  "7",
			wantGeneration: 3,
		},
		{
			name: "completed cursor starts an incremental generation",
			job:  resumeJob(false),
			cursor: &models.Cursor{
				LastCompleted: completed,
				Generation:    2,
			},
			wantSince:      completed,
			wantPageToken:  "",
			wantGeneration: 3,
		},
		{
			name: "force full ignores a completed cursor but keeps generations monotonic",
			job:  resumeJob(true),
			cursor: &models.Cursor{
				LastCompleted: completed,
				Generation:    4,
			},
			wantSince:      windowStart,
			wantPageToken:  "",
			wantGeneration: 5,
		},
		{
			// The forced generation's own intermediate pages carry an
			// in-flight token; resuming it is the only way the generation
			// terminates.
			name: "in-flight token wins even under force full",
			job:  resumeJob(true),
			cursor: &models.Cursor{
				PageToken:   "7",
				WindowStart: midWindow,
				Generation:  5,
			},
			wantSince:      midWindow,
			wantPageToken:  "7",
			wantGeneration: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			since, pageToken, generation := ResumePoint(tt.job, tt.cursor)
			assert.Equal(t, tt.wantSince, since)
			assert.Equal(t, tt.wantPageToken, pageToken)
			assert.Equal(t, tt.wantGeneration, generation)
		})
	}
}

func TestUpperBound(t *testing.T) {
	bounded := resumeJob(false)
	assert.Equal(t, bounded.Window.End, UpperBound(bounded))

	open := resumeJob(false)
	open.Window.End = time.Time{}
	assert.WithinDuration(t, time.Now(), UpperBound(open), time.Second)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	policy := RetryPolicy{
		InitialBackoff:    time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}

	assert.Equal(t, time.Second, policy.Backoff(0, 0))
	assert.Equal(t, 2*time.Second, policy.Backoff(1, 0))
	assert.Equal(t, 4*time.Second, policy.Backoff(2, 0))
	assert.Equal(t, 10*time.Second, policy.Backoff(5, 0), "capped at max backoff")

	// A provider-suggested delay replaces the base.
	assert.Equal(t, 6*time.Second, policy.Backoff(1, 3*time.Second))
}
