package gitlab

import (
	"strconv"
	"time"

	"github.com/ternarybob/colligo/internal/models"
)

// Wire types mirror the subset of the GitLab v4 API responses the extractor
// keeps. Provider fields absent here are dropped at decode time.

type apiCommit struct {
	ID             string    `json:"id"`
	ShortID        string    `json:"short_id"`
	Title          string    `json:"title"`
	AuthorName     string    `json:"author_name"`
	AuthorEmail    string    `json:"author_email"`
	CommittedDate  time.Time `json:"committed_date"`
	Stats          *apiStats `json:"stats,omitempty"`
}

type apiStats struct {
	Additions int `json:"additions"`
	Deletions int `json:"deletions"`
	Total     int `json:"total"`
}

type apiUser struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type apiMergeRequest struct {
	IID          int        `json:"iid"`
	Title        string     `json:"title"`
	State        string     `json:"state"`
	Author       apiUser    `json:"author"`
	SourceBranch string     `json:"source_branch"`
	TargetBranch string     `json:"target_branch"`
	CreatedAt    time.Time  `json:"created_at"`
	MergedAt     *time.Time `json:"merged_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type apiIssue struct {
	IID       int        `json:"iid"`
	Title     string     `json:"title"`
	State     string     `json:"state"`
	Author    apiUser    `json:"author"`
	Labels    []string   `json:"labels"`
	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type apiPipeline struct {
	ID         int        `json:"id"`
	Ref        string     `json:"ref"`
	SHA        string     `json:"sha"`
	Status     string     `json:"status"`
	Source     string     `json:"source"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (c apiCommit) toRecord(projectID string) (models.Record, error) {
	payload := models.Commit{
		SHA:         c.ID,
		ShortID:     c.ShortID,
		Title:       c.Title,
		AuthorName:  c.AuthorName,
		AuthorEmail: c.AuthorEmail,
		CommittedAt: c.CommittedDate,
	}
	if c.Stats != nil {
		payload.Additions = c.Stats.Additions
		payload.Deletions = c.Stats.Deletions
		payload.ChangedLOC = c.Stats.Total
	}
	return models.NewRecord(models.SourceGitLab, projectID, models.ResourceCommits, c.ID, payload)
}

func (m apiMergeRequest) toRecord(projectID string) (models.Record, error) {
	payload := models.MergeRequest{
		IID:          m.IID,
		Title:        m.Title,
		State:        m.State,
		AuthorID:     m.Author.ID,
		AuthorName:   m.Author.Name,
		SourceBranch: m.SourceBranch,
		TargetBranch: m.TargetBranch,
		CreatedAt:    m.CreatedAt,
		MergedAt:     m.MergedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	return models.NewRecord(models.SourceGitLab, projectID, models.ResourceMergeRequests, strconv.Itoa(m.IID), payload)
}

func (i apiIssue) toRecord(projectID string) (models.Record, error) {
	payload := models.Issue{
		IID:       i.IID,
		Title:     i.Title,
		State:     i.State,
		AuthorID:  i.Author.ID,
		Labels:    i.Labels,
		CreatedAt: i.CreatedAt,
		ClosedAt:  i.ClosedAt,
		UpdatedAt: i.UpdatedAt,
	}
	return models.NewRecord(models.SourceGitLab, projectID, models.ResourceIssues, strconv.Itoa(i.IID), payload)
}

func (p apiPipeline) toRecord(projectID string) (models.Record, error) {
	payload := models.Pipeline{
		PipelineID: p.ID,
		Ref:        p.Ref,
		SHA:        p.SHA,
		Status:     p.Status,
		Sourced:    p.Source,
		CreatedAt:  p.CreatedAt,
		FinishedAt: p.FinishedAt,
		UpdatedAt:  p.UpdatedAt,
	}
	return models.NewRecord(models.SourceGitLab, projectID, models.ResourcePipelines, strconv.Itoa(p.ID), payload)
}
