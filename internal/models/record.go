// -----------------------------------------------------------------------
// Record - Normalized unit of extracted data
// -----------------------------------------------------------------------

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is the normalized envelope every extracted unit is stored in, one
// per commit, merge request, issue, pipeline run or cost line item.
//
// The natural key (Source, ProjectID, Resource, ExternalID) is unique across
// re-fetches; writes are upserts keyed by it, so re-running extraction
// replaces rather than duplicates. Fields holds the resource-specific
// normalized payload as JSON.
type Record struct {
	ID         string          `json:"id"` // natural key, see NaturalKey
	Source     Source          `json:"source"`
	ProjectID  string          `json:"project_id"`
	Resource   Resource        `json:"resource"`
	ExternalID string          `json:"external_id"`
	FetchedAt  time.Time       `json:"fetched_at"`
	Fields     json.RawMessage `json:"fields"`
}

// NaturalKey builds the unique record key for a natural key tuple.
func NaturalKey(source Source, projectID string, resource Resource, externalID string) string {
	return fmt.Sprintf("%s|%s|%s|%s", source, projectID, resource, externalID)
}

// NewRecord builds a Record envelope around a normalized payload. The payload
// must marshal to JSON; provider fields the payload struct does not declare
// are dropped during normalization, never stored.
func NewRecord(source Source, projectID string, resource Resource, externalID string, payload interface{}) (Record, error) {
	fields, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal record payload: %w", err)
	}

	return Record{
		ID:         NaturalKey(source, projectID, resource, externalID),
		Source:     source,
		ProjectID:  projectID,
		Resource:   resource,
		ExternalID: externalID,
		FetchedAt:  time.Now(),
		Fields:     fields,
	}, nil
}

// Commit is the normalized payload for one repository commit.
type Commit struct {
	SHA         string    `json:"sha"`
	ShortID     string    `json:"short_id"`
	Title       string    `json:"title"`
	AuthorName  string    `json:"author_name"`
	AuthorEmail string    `json:"author_email"`
	CommittedAt time.Time `json:"committed_at"`
	Additions   int       `json:"additions"`
	Deletions   int       `json:"deletions"`
	ChangedLOC  int       `json:"changed_loc"`
}

// MergeRequest is the normalized payload for one merged merge request.
type MergeRequest struct {
	IID          int        `json:"iid"`
	Title        string     `json:"title"`
	State        string     `json:"state"`
	AuthorID     int        `json:"author_id"`
	AuthorName   string     `json:"author_name"`
	SourceBranch string     `json:"source_branch"`
	TargetBranch string     `json:"target_branch"`
	CreatedAt    time.Time  `json:"created_at"`
	MergedAt     *time.Time `json:"merged_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Issue is the normalized payload for one issue.
type Issue struct {
	IID       int        `json:"iid"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	AuthorID  int        `json:"author_id"`
	Labels    []string   `json:"labels,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Pipeline is the normalized payload for one pipeline run.
type Pipeline struct {
	PipelineID int        `json:"pipeline_id"`
	Ref        string     `json:"ref"`
	SHA        string     `json:"sha"`
	Status     string     `json:"status"`
	Sourced    string     `json:"source"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// CostLine is the normalized payload for one cost/usage line item.
type CostLine struct {
	AccountID   string    `json:"account_id"`
	Service     string    `json:"service"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Amount      float64   `json:"amount"`
	Unit        string    `json:"unit"`
	UsageAmount float64   `json:"usage_amount"`
	UsageUnit   string    `json:"usage_unit,omitempty"`
	Estimated   bool      `json:"estimated"`
}
