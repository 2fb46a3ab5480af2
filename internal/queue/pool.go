// Package queue provides the in-process job queue and worker pool that
// drive parallel extraction.
package queue

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/models"
)

// Executor runs one job to completion and reports its terminal result.
type Executor interface {
	Execute(ctx context.Context, job *models.Job) models.JobResult
}

// WorkerPool processes enqueued jobs with bounded parallelism: a global
// worker count plus a per-source cap, so one source hitting its rate limit
// cannot occupy every worker and starve the other source.
//
// Jobs are consumed in enqueue order. On context cancellation workers finish
// the job they hold (the executor decides how much of it) and drain; no job
// is abandoned between a page write and its cursor advance.
type WorkerPool struct {
	executor   Executor
	logger     arbor.ILogger
	numWorkers int
	perSource  int

	jobs    chan *models.Job
	results chan models.JobResult

	slots map[models.Source]chan struct{}
	wg    sync.WaitGroup
}

// NewWorkerPool creates a pool with numWorkers global workers and at most
// perSource jobs in flight per source. capacity bounds the job queue.
func NewWorkerPool(executor Executor, logger arbor.ILogger, numWorkers, perSource, capacity int) *WorkerPool {
	return &WorkerPool{
		executor:   executor,
		logger:     logger,
		numWorkers: numWorkers,
		perSource:  perSource,
		jobs:       make(chan *models.Job, capacity),
		results:    make(chan models.JobResult, capacity),
		slots: map[models.Source]chan struct{}{
			models.SourceGitLab:  make(chan struct{}, perSource),
			models.SourceAWSCost: make(chan struct{}, perSource),
		},
	}
}

// Enqueue adds a job to the queue. Call before Start, or from a single
// producer; Close after the last job.
func (wp *WorkerPool) Enqueue(job *models.Job) {
	wp.jobs <- job
}

// Close marks the end of the job stream. Workers exit once the queue drains.
func (wp *WorkerPool) Close() {
	close(wp.jobs)
}

// Results returns the channel terminal job results are reported on. It is
// closed after all workers have drained.
func (wp *WorkerPool) Results() <-chan models.JobResult {
	return wp.results
}

// Start launches the workers. The results channel closes when every worker
// has exited.
func (wp *WorkerPool) Start(ctx context.Context) {
	wp.logger.Info().
		Int("num_workers", wp.numWorkers).
		Int("per_source", wp.perSource).
		Msg("Starting worker pool")

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i)
	}

	go func() {
		wp.wg.Wait()
		close(wp.results)
	}()
}

// worker is the main worker loop.
func (wp *WorkerPool) worker(ctx context.Context, workerID int) {
	defer wp.wg.Done()

	for job := range wp.jobs {
		if !wp.acquireSlot(ctx, job.Source) {
			// Shutting down: report the job as failed-by-cancellation so the
			// run summary accounts for every enqueued job.
			wp.results <- models.JobResult{
				JobID:    job.ID,
				Source:   job.Source,
				Project:  job.ProjectID,
				Resource: job.Resource,
				Status:   models.JobStatusFailed,
				Error:    ctx.Err().Error(),
			}
			continue
		}

		wp.logger.Debug().
			Int("worker_id", workerID).
			Str("job", job.Name()).
			Msg("Processing job")

		result := wp.executor.Execute(ctx, job)
		wp.releaseSlot(job.Source)

		wp.results <- result
	}
}

// acquireSlot takes a per-source slot, or reports false on cancellation.
func (wp *WorkerPool) acquireSlot(ctx context.Context, source models.Source) bool {
	if ctx.Err() != nil {
		return false
	}

	slot, ok := wp.slots[source]
	if !ok {
		return true
	}

	select {
	case slot <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (wp *WorkerPool) releaseSlot(source models.Source) {
	if slot, ok := wp.slots[source]; ok {
		<-slot
	}
}
