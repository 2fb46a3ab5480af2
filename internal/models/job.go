// -----------------------------------------------------------------------
// Extraction Job - Immutable unit of extraction work
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Source identifies the external system a job extracts from.
type Source string

const (
	SourceGitLab  Source = "gitlab"
	SourceAWSCost Source = "awscost"
)

// Resource identifies one logical table of extracted data.
type Resource string

const (
	ResourceCommits       Resource = "commits"
	ResourceMergeRequests Resource = "merge_requests"
	ResourceIssues        Resource = "issues"
	ResourcePipelines     Resource = "pipelines"
	ResourceCostRecords   Resource = "cost_records"
)

// GitLabResources lists the resources extracted per GitLab project.
var GitLabResources = []Resource{
	ResourceCommits,
	ResourceMergeRequests,
	ResourceIssues,
	ResourcePipelines,
}

// AWSCostResources lists the resources extracted per AWS account.
var AWSCostResources = []Resource{
	ResourceCostRecords,
}

// Window bounds a fetch in time. A zero Start means "from the beginning of
// the configured extraction range", a zero End means "up to now".
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Job is one unit of extraction work for a (source, project, resource)
// combination. Jobs are immutable once enqueued; a worker consumes each job
// exactly once and reports a terminal JobResult.
type Job struct {
	ID        string    `json:"id"`
	Source    Source    `json:"source"`
	ProjectID string    `json:"project_id"` // GitLab project id or AWS account id
	Resource  Resource  `json:"resource"`
	Window    Window    `json:"window"`
	ForceFull bool      `json:"force_full"` // ignore persisted cursor, re-fetch the whole window
	CreatedAt time.Time `json:"created_at"`
}

// NewJob creates a new extraction job.
func NewJob(source Source, projectID string, resource Resource, window Window, forceFull bool) *Job {
	return &Job{
		ID:        uuid.New().String(),
		Source:    source,
		ProjectID: projectID,
		Resource:  resource,
		Window:    window,
		ForceFull: forceFull,
		CreatedAt: time.Now(),
	}
}

// Key returns the natural (source, project, resource) key the job operates on.
func (j *Job) Key() string {
	return fmt.Sprintf("%s|%s|%s", j.Source, j.ProjectID, j.Resource)
}

// Name returns a human-readable job name for logging.
func (j *Job) Name() string {
	return fmt.Sprintf("%s[%s/%s]", j.Source, j.ProjectID, j.Resource)
}

// JobStatus is the terminal state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusSkipped   JobStatus = "skipped" // already up to date, nothing fetched
)

// JobResult is the terminal report a worker produces for one job.
type JobResult struct {
	JobID    string        `json:"job_id"`
	Source   Source        `json:"source"`
	Project  string        `json:"project"`
	Resource Resource      `json:"resource"`
	Status   JobStatus     `json:"status"`
	Error    string        `json:"error,omitempty"`
	Pages    int           `json:"pages"`
	Records  int           `json:"records"`
	Duration time.Duration `json:"duration"`
}
