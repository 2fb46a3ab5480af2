// Package export renders the stored dataset outward: JSONL files per
// resource table and aggregate dataset statistics.
package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"golang.org/x/sync/errgroup"
)

// Exporter writes resource tables out of storage.
type Exporter struct {
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

// New creates an exporter over the dataset storage.
func New(storage interfaces.StorageManager, logger arbor.ILogger) *Exporter {
	return &Exporter{storage: storage, logger: logger}
}

// allResources lists every resource table in export order.
var allResources = []models.Resource{
	models.ResourceCommits,
	models.ResourceMergeRequests,
	models.ResourceIssues,
	models.ResourcePipelines,
	models.ResourceCostRecords,
}

// WriteJSONL exports each non-empty resource table to <dir>/<resource>.jsonl,
// one record envelope per line, tables in parallel. Existing files are
// replaced so repeated exports of an unchanged dataset are identical.
func (e *Exporter) WriteJSONL(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	group, ctx := errgroup.WithContext(ctx)
	for _, resource := range allResources {
		group.Go(func() error {
			return e.exportResource(ctx, dir, resource)
		})
	}
	return group.Wait()
}

func (e *Exporter) exportResource(ctx context.Context, dir string, resource models.Resource) error {
	records, err := e.storage.Records().ListByResource(ctx, resource)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", resource, err)
	}
	if len(records) == 0 {
		return nil
	}

	path := filepath.Join(dir, fmt.Sprintf("%s.jsonl", resource))
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	encoder := json.NewEncoder(writer)
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			return fmt.Errorf("failed to encode record %s: %w", record.ID, err)
		}
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}

	e.logger.Info().
		Str("resource", string(resource)).
		Int("records", len(records)).
		Str("path", path).
		Msg("Resource exported")
	return nil
}

// DatasetStats is an aggregate view over the stored dataset.
type DatasetStats struct {
	TotalRecords int                     `json:"total_records"`
	ByResource   map[models.Resource]int `json:"by_resource"`
	ByProject    map[string]int          `json:"by_project"` // "source/project" -> count
	Cursors      []models.Cursor         `json:"cursors"`
	RecentRuns   []models.RunSummary     `json:"recent_runs"`
}

// Stats collects dataset statistics: record counts per resource and per
// project, cursor positions, and the most recent run summaries.
func (e *Exporter) Stats(ctx context.Context) (*DatasetStats, error) {
	byResource, err := e.storage.Records().CountByResource(ctx)
	if err != nil {
		return nil, err
	}

	byProject := make(map[string]int)
	total := 0
	for resource, count := range byResource {
		total += count
		counts, err := e.storage.Records().CountByProject(ctx, resource)
		if err != nil {
			return nil, err
		}
		for key, n := range counts {
			byProject[key] += n
		}
	}

	cursors, err := e.storage.Cursors().List(ctx)
	if err != nil {
		return nil, err
	}

	runs, err := e.storage.Runs().ListSummaries(ctx, 10)
	if err != nil {
		return nil, err
	}

	return &DatasetStats{
		TotalRecords: total,
		ByResource:   byResource,
		ByProject:    byProject,
		Cursors:      cursors,
		RecentRuns:   runs,
	}, nil
}
