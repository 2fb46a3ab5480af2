package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

// jobExecutor runs one extraction job: page fetch, durable record write,
// cursor advance, repeated until the source reports the generation done.
//
// The write-then-advance order is the crash-safety contract: if the process
// dies between the two, the next run re-fetches the page and the upsert
// overwrites the same natural keys.
type jobExecutor struct {
	adapters map[models.Source]interfaces.SourceAdapter
	storage  interfaces.StorageManager
	logger   arbor.ILogger
}

func (e *jobExecutor) Execute(ctx context.Context, job *models.Job) models.JobResult {
	started := time.Now()
	result := models.JobResult{
		JobID:    job.ID,
		Source:   job.Source,
		Project:  job.ProjectID,
		Resource: job.Resource,
		Status:   models.JobStatusRunning,
	}

	adapter, ok := e.adapters[job.Source]
	if !ok {
		result.Status = models.JobStatusFailed
		result.Error = "no adapter registered for source " + string(job.Source)
		result.Duration = time.Since(started)
		return result
	}

	cursor, err := e.storage.Cursors().Load(ctx, job.Source, job.ProjectID, job.Resource)
	if err != nil {
		if !errors.Is(err, interfaces.ErrCursorNotFound) {
			result.Status = models.JobStatusFailed
			result.Error = err.Error()
			result.Duration = time.Since(started)
			return result
		}
		cursor = nil
	}
	hadCursor := cursor != nil && !job.ForceFull

	// A forced full re-fetch discards the loaded position once, here. The
	// pages the forced generation then advances through resume normally, or
	// the fetch loop could never terminate.
	if job.ForceFull && cursor != nil {
		cursor = &models.Cursor{
			Key:        cursor.Key,
			Source:     cursor.Source,
			ProjectID:  cursor.ProjectID,
			Resource:   cursor.Resource,
			Generation: cursor.Generation,
		}
	}

	for {
		page, err := adapter.FetchPage(ctx, job, cursor)
		if err != nil {
			result.Status = models.JobStatusFailed
			result.Error = err.Error()
			result.Duration = time.Since(started)
			e.logger.Warn().
				Str("job", job.Name()).
				Int("pages", result.Pages).
				Err(err).
				Msg("Job failed, progress up to the last advanced cursor is kept")
			return result
		}

		if len(page.Records) > 0 {
			written, err := e.storage.Records().UpsertPage(ctx, page.Records)
			if err != nil {
				result.Status = models.JobStatusFailed
				result.Error = err.Error()
				result.Duration = time.Since(started)
				return result
			}
			result.Records += written
		}

		// Advance only after the page is durably stored.
		if err := e.storage.Cursors().Advance(ctx, page.NextCursor); err != nil {
			result.Status = models.JobStatusFailed
			result.Error = err.Error()
			result.Duration = time.Since(started)
			return result
		}
		result.Pages++

		if page.Done {
			break
		}
		cursor = page.NextCursor

		// A cancelled run stops cleanly at a page boundary; the in-flight
		// cursor lets the next run resume mid-generation.
		if ctx.Err() != nil {
			result.Status = models.JobStatusFailed
			result.Error = ctx.Err().Error()
			result.Duration = time.Since(started)
			return result
		}
	}

	result.Status = models.JobStatusSucceeded
	if hadCursor && result.Records == 0 {
		// Incremental run with nothing new since the last completed fetch.
		result.Status = models.JobStatusSkipped
	}
	result.Duration = time.Since(started)
	return result
}
