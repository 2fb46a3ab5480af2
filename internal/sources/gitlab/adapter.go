package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/sources"
)

// Adapter extracts commits, merge requests, issues and pipelines per GitLab
// project. Each FetchPage call fetches exactly one API page and returns the
// cursor the caller advances to after persisting the page.
type Adapter struct {
	client *Client
}

// NewAdapter creates a GitLab source adapter over an API client.
func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client}
}

// Source returns the source identifier.
func (a *Adapter) Source() models.Source {
	return models.SourceGitLab
}

// Resources returns the resources this adapter can extract.
func (a *Adapter) Resources() []models.Resource {
	return models.GitLabResources
}

// FetchPage fetches one page of the job's resource, scoped to the window the
// cursor resume point dictates.
func (a *Adapter) FetchPage(ctx context.Context, job *models.Job, cursor *models.Cursor) (*interfaces.Page, error) {
	since, pageToken, generation := sources.ResumePoint(job, cursor)
	until := sources.UpperBound(job)

	path, params, err := a.endpoint(job, since, until)
	if err != nil {
		return nil, err
	}

	body, nextPage, err := a.client.GetPage(ctx, path, params, pageToken)
	if err != nil {
		return nil, err
	}

	records, err := a.normalize(job, body)
	if err != nil {
		return nil, &models.FatalFetchError{
			Source:   models.SourceGitLab,
			Endpoint: path,
			Message:  fmt.Sprintf("malformed response: %v", err),
		}
	}

	next := &models.Cursor{
		Key:        models.CursorKey(job.Source, job.ProjectID, job.Resource),
		Source:     job.Source,
		ProjectID:  job.ProjectID,
		Resource:   job.Resource,
		Generation: generation,
	}
	if nextPage == "" {
		// Generation complete: the next run fetches changes after this bound.
		next.LastCompleted = until
		return &interfaces.Page{Records: records, NextCursor: next, Done: true}, nil
	}

	next.PageToken = nextPage
	next.WindowStart = since
	return &interfaces.Page{Records: records, NextCursor: next, Done: false}, nil
}

// endpoint maps a job resource to its API path and time-window parameters.
// Project identifiers may be numeric IDs or namespace/path strings; paths are
// URL-escaped into a single path segment as the API requires.
func (a *Adapter) endpoint(job *models.Job, since, until time.Time) (string, url.Values, error) {
	project := url.PathEscape(job.ProjectID)
	params := url.Values{}

	switch job.Resource {
	case models.ResourceCommits:
		params.Set("with_stats", "true")
		params.Set("since", since.Format(time.RFC3339))
		params.Set("until", until.Format(time.RFC3339))
		return fmt.Sprintf("/projects/%s/repository/commits", project), params, nil

	case models.ResourceMergeRequests:
		params.Set("state", "merged")
		params.Set("updated_after", since.Format(time.RFC3339))
		params.Set("updated_before", until.Format(time.RFC3339))
		return fmt.Sprintf("/projects/%s/merge_requests", project), params, nil

	case models.ResourceIssues:
		params.Set("updated_after", since.Format(time.RFC3339))
		params.Set("updated_before", until.Format(time.RFC3339))
		return fmt.Sprintf("/projects/%s/issues", project), params, nil

	case models.ResourcePipelines:
		params.Set("updated_after", since.Format(time.RFC3339))
		params.Set("updated_before", until.Format(time.RFC3339))
		return fmt.Sprintf("/projects/%s/pipelines", project), params, nil

	default:
		return "", nil, models.NewConfigError("gitlab adapter does not handle resource %q", job.Resource)
	}
}

// normalize decodes one page body into normalized records.
func (a *Adapter) normalize(job *models.Job, body []byte) ([]models.Record, error) {
	switch job.Resource {
	case models.ResourceCommits:
		var items []apiCommit
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
		records := make([]models.Record, 0, len(items))
		for _, item := range items {
			record, err := item.toRecord(job.ProjectID)
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		}
		return records, nil

	case models.ResourceMergeRequests:
		var items []apiMergeRequest
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
		records := make([]models.Record, 0, len(items))
		for _, item := range items {
			record, err := item.toRecord(job.ProjectID)
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		}
		return records, nil

	case models.ResourceIssues:
		var items []apiIssue
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
		records := make([]models.Record, 0, len(items))
		for _, item := range items {
			record, err := item.toRecord(job.ProjectID)
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		}
		return records, nil

	case models.ResourcePipelines:
		var items []apiPipeline
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
		records := make([]models.Record, 0, len(items))
		for _, item := range items {
			record, err := item.toRecord(job.ProjectID)
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		}
		return records, nil

	default:
		return nil, fmt.Errorf("unhandled resource %q", job.Resource)
	}
}
