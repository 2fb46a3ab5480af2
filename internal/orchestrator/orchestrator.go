// Package orchestrator plans and runs extraction: it resolves the requested
// scope into jobs, dispatches them to the worker pool, and aggregates the
// terminal results into a persisted run summary.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/queue"
)

// RunOptions selects which sources a run extracts from.
type RunOptions struct {
	GitLab bool
	AWS    bool

	// ForceFull ignores persisted cursors and re-fetches whole windows.
	ForceFull bool
}

// Sources resolves the requested source list.
func (o RunOptions) Sources() []models.Source {
	var selected []models.Source
	if o.GitLab {
		selected = append(selected, models.SourceGitLab)
	}
	if o.AWS {
		selected = append(selected, models.SourceAWSCost)
	}
	return selected
}

// Orchestrator coordinates one extraction run end to end.
type Orchestrator struct {
	config   *common.Config
	storage  interfaces.StorageManager
	adapters map[models.Source]interfaces.SourceAdapter
	logger   arbor.ILogger

	// runMu serializes whole runs. Two concurrent runs would own the same
	// (source, project, resource) keys and interleave generations.
	runMu sync.Mutex

	// progressInterval controls in-flight progress logging; tests shorten it.
	progressInterval time.Duration
}

// New creates an orchestrator over the configured adapters. Adapters are
// registered only for sources whose credentials are available; requesting an
// unregistered source is a configuration error at run time.
func New(config *common.Config, storage interfaces.StorageManager, logger arbor.ILogger) *Orchestrator {
	return &Orchestrator{
		config:           config,
		storage:          storage,
		adapters:         make(map[models.Source]interfaces.SourceAdapter),
		logger:           logger,
		progressInterval: 10 * time.Second,
	}
}

// Register adds a source adapter.
func (o *Orchestrator) Register(adapter interfaces.SourceAdapter) {
	o.adapters[adapter.Source()] = adapter
}

// Run executes one extraction run for the requested sources and returns its
// summary. A request for a source with no registered adapter fails before
// any job is dispatched; an empty request is a valid no-op run (the stored
// dataset can be inspected without extracting). Runs are serialized: a
// second caller blocks until the first completes.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*models.RunSummary, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	summary := models.NewRunSummary()

	jobs, err := o.buildJobs(opts)
	if err != nil {
		return nil, err
	}

	o.logger.Info().
		Str("run_id", summary.RunID).
		Int("jobs", len(jobs)).
		Msg("Extraction run planned")

	if len(jobs) > 0 {
		executor := &jobExecutor{
			adapters: o.adapters,
			storage:  o.storage,
			logger:   o.logger,
		}

		pool := queue.NewWorkerPool(executor, o.logger,
			o.config.Queue.Concurrency, o.config.Queue.PerSourceConcurrency, len(jobs))
		for _, job := range jobs {
			pool.Enqueue(job)
		}
		pool.Close()
		pool.Start(ctx)

		o.collect(ctx, pool, summary, len(jobs))
	}

	summary.Finish()

	if err := o.storage.Runs().SaveSummary(ctx, summary); err != nil {
		o.logger.Error().Err(err).Msg("Failed to persist run summary")
	}

	o.logger.Info().
		Str("run_id", summary.RunID).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Int("records", summary.RecordsWritten).
		Dur("elapsed", summary.Elapsed).
		Msg("Extraction run completed")

	return summary, nil
}

// buildJobs resolves the run scope into the job list. Every configured
// (project, resource) and (account, cost) combination of a requested source
// becomes exactly one job.
func (o *Orchestrator) buildJobs(opts RunOptions) ([]*models.Job, error) {
	start, end, err := o.config.Window()
	if err != nil {
		return nil, err
	}
	window := models.Window{Start: start, End: end}

	var jobs []*models.Job
	for _, source := range opts.Sources() {
		if _, ok := o.adapters[source]; !ok {
			return nil, models.NewConfigError("source %s requested but not configured (missing credentials?)", source)
		}

		switch source {
		case models.SourceGitLab:
			if len(o.config.GitLab.Projects) == 0 {
				return nil, models.NewConfigError("source gitlab requested but no projects configured")
			}
			resources, err := gitlabResources(o.config.GitLabResources())
			if err != nil {
				return nil, err
			}
			for _, project := range o.config.GitLab.Projects {
				for _, resource := range resources {
					jobs = append(jobs, models.NewJob(source, project, resource, window, opts.ForceFull))
				}
			}

		case models.SourceAWSCost:
			if len(o.config.AWS.Accounts) == 0 {
				return nil, models.NewConfigError("source awscost requested but no accounts configured")
			}
			for accountID := range o.config.AWS.Accounts {
				jobs = append(jobs, models.NewJob(source, accountID, models.ResourceCostRecords, window, opts.ForceFull))
			}
		}
	}

	return jobs, nil
}

// gitlabResources resolves configured resource names to their typed values.
// A misspelled name is bad input and must fail before anything dispatches,
// not at fetch time inside a worker.
func gitlabResources(names []string) ([]models.Resource, error) {
	resources := make([]models.Resource, 0, len(names))
	for _, name := range names {
		resource := models.Resource(name)
		known := false
		for _, valid := range models.GitLabResources {
			if resource == valid {
				known = true
				break
			}
		}
		if !known {
			return nil, models.NewConfigError("unknown gitlab resource %q", name)
		}
		resources = append(resources, resource)
	}
	return resources, nil
}

// collect drains the result channel into the summary, logging progress while
// jobs are in flight.
func (o *Orchestrator) collect(ctx context.Context, pool *queue.WorkerPool, summary *models.RunSummary, total int) {
	ticker := time.NewTicker(o.progressInterval)
	defer ticker.Stop()

	done := 0
	for {
		select {
		case result, ok := <-pool.Results():
			if !ok {
				return
			}
			done++
			summary.Add(result)

			event := o.logger.Info()
			if result.Status == models.JobStatusFailed {
				event = o.logger.Warn()
			}
			event.
				Str("source", string(result.Source)).
				Str("project", result.Project).
				Str("resource", string(result.Resource)).
				Str("status", string(result.Status)).
				Int("records", result.Records).
				Dur("duration", result.Duration).
				Msg("Job finished")

		case <-ticker.C:
			o.logger.Info().
				Int("done", done).
				Int("total", total).
				Int("records", summary.RecordsWritten).
				Msg("Extraction in progress")
		}
	}
}
