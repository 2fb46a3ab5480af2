package badger

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

func newTestManager(t *testing.T) interfaces.StorageManager {
	t.Helper()

	manager, err := NewManager(common.GetLogger(), &common.BadgerConfig{
		Path:       t.TempDir(),
		SyncWrites: false, // tests don't need fsync
	})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	return manager
}

func testRecord(t *testing.T, externalID, title string) models.Record {
	t.Helper()

	record, err := models.NewRecord(models.SourceGitLab, "p1", models.ResourceIssues, externalID, models.Issue{
		IID:   42,
		Title: title,
		State: "opened",
	})
	require.NoError(t, err)
	return record
}

func TestRecordStorage_UpsertReplacesByNaturalKey(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	first := testRecord(t, "42", "login broken")
	written, err := manager.Records().UpsertPage(ctx, []models.Record{first})
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	// Same natural key, updated payload: the issue was closed and re-fetched.
	second := testRecord(t, "42", "login broken (fixed)")
	written, err = manager.Records().UpsertPage(ctx, []models.Record{second})
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	records, err := manager.Records().ListByResource(ctx, models.ResourceIssues)
	require.NoError(t, err)
	require.Len(t, records, 1, "upsert must replace, not append")

	var issue models.Issue
	require.NoError(t, json.Unmarshal(records[0].Fields, &issue))
	assert.Equal(t, "login broken (fixed)", issue.Title)
}

func TestRecordStorage_IdempotentRewrite(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	page := []models.Record{
		testRecord(t, "1", "a"),
		testRecord(t, "2", "b"),
		testRecord(t, "3", "c"),
	}

	// Writing the same page twice simulates a re-run against an unchanged
	// remote: the stored set must be identical after the second write.
	_, err := manager.Records().UpsertPage(ctx, page)
	require.NoError(t, err)
	_, err = manager.Records().UpsertPage(ctx, page)
	require.NoError(t, err)

	counts, err := manager.Records().CountByResource(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[models.ResourceIssues])
}

func TestRecordStorage_CountByProject(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	r1, err := models.NewRecord(models.SourceGitLab, "p1", models.ResourceCommits, "sha1", models.Commit{SHA: "sha1"})
	require.NoError(t, err)
	r2, err := models.NewRecord(models.SourceGitLab, "p1", models.ResourceCommits, "sha2", models.Commit{SHA: "sha2"})
	require.NoError(t, err)
	r3, err := models.NewRecord(models.SourceGitLab, "p2", models.ResourceCommits, "sha3", models.Commit{SHA: "sha3"})
	require.NoError(t, err)

	_, err = manager.Records().UpsertPage(ctx, []models.Record{r1, r2, r3})
	require.NoError(t, err)

	counts, err := manager.Records().CountByProject(ctx, models.ResourceCommits)
	require.NoError(t, err)
	assert.Equal(t, 2, counts["gitlab/p1"])
	assert.Equal(t, 1, counts["gitlab/p2"])
}

func TestCursorStorage_LoadMissingSignalsInitialFetch(t *testing.T) {
	manager := newTestManager(t)

	_, err := manager.Cursors().Load(context.Background(), models.SourceGitLab, "p1", models.ResourceIssues)
	assert.ErrorIs(t, err, interfaces.ErrCursorNotFound)
}

func TestCursorStorage_AdvanceAndLoad(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	cursor := &models.Cursor{
		Source:      models.SourceGitLab,
		ProjectID:   "p1",
		Resource:    models.ResourceCommits,
		PageToken:   "3",
		WindowStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Generation:  1,
	}
	require.NoError(t, manager.Cursors().Advance(ctx, cursor))

	loaded, err := manager.Cursors().Load(ctx, models.SourceGitLab, "p1", models.ResourceCommits)
	require.NoError(t, err)
	assert.Equal(t, "3", loaded.PageToken)
	assert.Equal(t, 1, loaded.Generation)
	assert.True(t, loaded.InFlight())
	assert.False(t, loaded.UpdatedAt.IsZero())
}

func TestCursorStorage_RejectsStaleGeneration(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	current := &models.Cursor{
		Source:     models.SourceGitLab,
		ProjectID:  "p1",
		Resource:   models.ResourceIssues,
		Generation: 3,
	}
	require.NoError(t, manager.Cursors().Advance(ctx, current))

	stale := &models.Cursor{
		Source:     models.SourceGitLab,
		ProjectID:  "p1",
		Resource:   models.ResourceIssues,
		Generation: 2,
	}
	err := manager.Cursors().Advance(ctx, stale)
	require.Error(t, err)
	assert.True(t, models.IsPersistence(err))
}

func TestCursorStorage_ConcurrentAdvanceDifferentKeys(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	projects := []string{"p1", "p2", "p3", "p4"}

	var wg sync.WaitGroup
	errs := make(chan error, len(projects)*10)
	for _, project := range projects {
		wg.Add(1)
		go func(project string) {
			defer wg.Done()
			for gen := 1; gen <= 10; gen++ {
				errs <- manager.Cursors().Advance(ctx, &models.Cursor{
					Source:     models.SourceGitLab,
					ProjectID:  project,
					Resource:   models.ResourceCommits,
					Generation: gen,
				})
			}
		}(project)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	cursors, err := manager.Cursors().List(ctx)
	require.NoError(t, err)
	assert.Len(t, cursors, len(projects))
	for _, cursor := range cursors {
		assert.Equal(t, 10, cursor.Generation)
	}
}

func TestRunStorage_AppendsHistory(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		summary := models.NewRunSummary()
		summary.Add(models.JobResult{
			JobID:    "job",
			Source:   models.SourceGitLab,
			Project:  "p1",
			Resource: models.ResourceIssues,
			Status:   models.JobStatusSucceeded,
			Records:  i,
		})
		summary.Finish()
		require.NoError(t, manager.Runs().SaveSummary(ctx, summary))
	}

	summaries, err := manager.Runs().ListSummaries(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, summaries, 3)

	limited, err := manager.Runs().ListSummaries(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
