package models

import (
	"time"

	"github.com/google/uuid"
)

// RunSummary aggregates the per-job outcomes of one orchestrator invocation.
// It is appended to the run-history table when a run completes and never
// mutated afterwards.
type RunSummary struct {
	RunID          string        `json:"run_id"`
	StartedAt      time.Time     `json:"started_at"`
	CompletedAt    time.Time     `json:"completed_at"`
	Elapsed        time.Duration `json:"elapsed"`
	TotalJobs      int           `json:"total_jobs"`
	Succeeded      int           `json:"succeeded"`
	Failed         int           `json:"failed"`
	Skipped        int           `json:"skipped"`
	RecordsWritten int           `json:"records_written"`
	Results        []JobResult   `json:"results"`
}

// NewRunSummary creates an empty summary for a run starting now.
func NewRunSummary() *RunSummary {
	return &RunSummary{
		RunID:     uuid.New().String(),
		StartedAt: time.Now(),
	}
}

// Add records one terminal job result into the summary tallies.
func (s *RunSummary) Add(result JobResult) {
	s.Results = append(s.Results, result)
	s.TotalJobs++
	s.RecordsWritten += result.Records

	switch result.Status {
	case JobStatusSucceeded:
		s.Succeeded++
	case JobStatusFailed:
		s.Failed++
	case JobStatusSkipped:
		s.Skipped++
	}
}

// Finish stamps the completion time and elapsed duration.
func (s *RunSummary) Finish() {
	s.CompletedAt = time.Now()
	s.Elapsed = s.CompletedAt.Sub(s.StartedAt)
}

// HasFailures reports whether any job ended Failed. The process exit code
// is nonzero exactly when this is true.
func (s *RunSummary) HasFailures() bool {
	return s.Failed > 0
}

// FailedResults returns the results of all failed jobs, for operator output.
func (s *RunSummary) FailedResults() []JobResult {
	var failed []JobResult
	for _, r := range s.Results {
		if r.Status == JobStatusFailed {
			failed = append(failed, r)
		}
	}
	return failed
}
