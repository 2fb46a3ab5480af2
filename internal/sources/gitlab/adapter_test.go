package gitlab

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/sources"
)

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()

	return NewClient(server.URL, "test-token",
		WithHTTPClient(server.Client()),
		WithLogger(common.GetLogger()),
		WithRateLimit(1000),
		WithRetryPolicy(sources.RetryPolicy{
			MaxAttempts:       3,
			InitialBackoff:    time.Millisecond,
			MaxBackoff:        10 * time.Millisecond,
			BackoffMultiplier: 2.0,
		}),
	)
}

func issueJSON(iid int, title string) map[string]interface{} {
	return map[string]interface{}{
		"iid":        iid,
		"title":      title,
		"state":      "opened",
		"author":     map[string]interface{}{"id": 7, "name": "dev"},
		"labels":     []string{"bug"},
		"created_at": "2024-01-02T10:00:00Z",
		"updated_at": "2024-01-03T10:00:00Z",
	}
}

func testWindow() models.Window {
	return models.Window{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestAdapter_FetchPagePaginates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v4/projects/p1/issues", r.URL.Path)
		assert.Equal(t, "2024-01-01T00:00:00Z", r.URL.Query().Get("updated_after"))

		page := r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")
		if page == "" || page == "1" {
			w.Header().Set("X-Next-Page", "2")
			json.NewEncoder(w).Encode([]interface{}{issueJSON(1, "first"), issueJSON(2, "second")})
			return
		}
		// Last page: no X-Next-Page header.
		json.NewEncoder(w).Encode([]interface{}{issueJSON(3, "third")})
	}))
	defer server.Close()

	adapter := NewAdapter(newTestClient(t, server))
	job := models.NewJob(models.SourceGitLab, "p1", models.ResourceIssues, testWindow(), false)

	first, err := adapter.FetchPage(context.Background(), job, nil)
	require.NoError(t, err)
	assert.Len(t, first.Records, 2)
	assert.False(t, first.Done)
	assert.Equal(t, "2", first.NextCursor.PageToken)
	assert.Equal(t, 1, first.NextCursor.Generation)
	assert.Equal(t, job.Window.Start, first.NextCursor.WindowStart)

	second, err := adapter.FetchPage(context.Background(), job, first.NextCursor)
	require.NoError(t, err)
	assert.Len(t, second.Records, 1)
	assert.True(t, second.Done)
	assert.False(t, second.NextCursor.InFlight())
	assert.Equal(t, job.Window.End, second.NextCursor.LastCompleted)

	record := first.Records[0]
	assert.Equal(t, models.SourceGitLab, record.Source)
	assert.Equal(t, "gitlab|p1|issues|1", record.ID)
}

func TestAdapter_IncrementalFetchStartsAfterLastCompleted(t *testing.T) {
	lastCompleted := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, lastCompleted.Format(time.RFC3339), r.URL.Query().Get("updated_after"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "[]")
	}))
	defer server.Close()

	adapter := NewAdapter(newTestClient(t, server))
	job := models.NewJob(models.SourceGitLab, "p1", models.ResourceIssues, testWindow(), false)

	cursor := &models.Cursor{
		Key:           models.CursorKey(job.Source, job.ProjectID, job.Resource),
		Source:        job.Source,
		ProjectID:     job.ProjectID,
		Resource:      job.Resource,
		LastCompleted: lastCompleted,
		Generation:    1,
	}

	page, err := adapter.FetchPage(context.Background(), job, cursor)
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.True(t, page.Done)
	assert.Equal(t, 2, page.NextCursor.Generation)
}

func TestAdapter_RetriesRateLimitThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]interface{}{issueJSON(1, "after retry")})
	}))
	defer server.Close()

	adapter := NewAdapter(newTestClient(t, server))
	job := models.NewJob(models.SourceGitLab, "p1", models.ResourceIssues, testWindow(), false)

	page, err := adapter.FetchPage(context.Background(), job, nil)
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAdapter_UnauthorizedFailsWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	adapter := NewAdapter(newTestClient(t, server))
	job := models.NewJob(models.SourceGitLab, "p1", models.ResourceCommits, testWindow(), false)

	_, err := adapter.FetchPage(context.Background(), job, nil)
	require.Error(t, err)
	assert.True(t, models.IsFatalFetch(err))
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestAdapter_ServerErrorsExhaustIntoTransient(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	adapter := NewAdapter(newTestClient(t, server))
	job := models.NewJob(models.SourceGitLab, "p1", models.ResourcePipelines, testWindow(), false)

	_, err := adapter.FetchPage(context.Background(), job, nil)
	require.Error(t, err)
	assert.True(t, models.IsTransientFetch(err))
	assert.Equal(t, int32(3), calls.Load(), "all attempts consumed")
}

func TestClient_QuotaExhaustionSuspendsNextRequest(t *testing.T) {
	var calls atomic.Int32
	var secondRequestAt time.Time
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			// Quota spent: next request must wait for the reset.
			w.Header().Set("RateLimit-Remaining", "0")
			w.Header().Set("RateLimit-Reset", strconv.FormatInt(time.Now().Add(150*time.Millisecond).Unix()+1, 10))
		} else {
			secondRequestAt = time.Now()
		}
		fmt.Fprint(w, "[]")
	}))
	defer server.Close()

	client := newTestClient(t, server)
	start := time.Now()

	_, _, err := client.GetPage(context.Background(), "/projects/p1/issues", nil, "")
	require.NoError(t, err)
	_, _, err = client.GetPage(context.Background(), "/projects/p1/issues", nil, "")
	require.NoError(t, err)

	assert.True(t, secondRequestAt.Sub(start) >= 150*time.Millisecond,
		"second request must wait for the reported quota reset")
}

func TestAdapter_CommitStatsNormalized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("with_stats"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{
			"id": "abc123def",
			"short_id": "abc123",
			"title": "fix pagination",
			"author_name": "dev",
			"author_email": "dev@example.com",
			"committed_date": "2024-02-01T12:00:00Z",
			"stats": {"additions": 10, "deletions": 4, "total": 14}
		}]`)
	}))
	defer server.Close()

	adapter := NewAdapter(newTestClient(t, server))
	job := models.NewJob(models.SourceGitLab, "group/app", models.ResourceCommits, testWindow(), false)

	page, err := adapter.FetchPage(context.Background(), job, nil)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)

	var commit models.Commit
	require.NoError(t, json.Unmarshal(page.Records[0].Fields, &commit))
	assert.Equal(t, "abc123def", commit.SHA)
	assert.Equal(t, 14, commit.ChangedLOC)
	assert.Equal(t, "gitlab|group/app|commits|abc123def", page.Records[0].ID)
}
