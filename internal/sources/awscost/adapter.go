// Package awscost implements the AWS cost extraction source over the Cost
// Explorer API, one extraction scope per configured account profile.
package awscost

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/aws/smithy-go"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/sources"
	"golang.org/x/time/rate"
)

const (
	costDateFormat = "2006-01-02"

	// Cost Explorer allows very few requests per second per account.
	defaultRateLimit = 2
)

// CostExplorerAPI is the Cost Explorer surface the adapter consumes. The
// real client satisfies it; tests substitute a stub.
type CostExplorerAPI interface {
	GetCostAndUsage(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error)
}

// Adapter extracts daily cost and usage line items per AWS account, grouped
// by service. Each account maps to a named shared-config profile.
type Adapter struct {
	clients     map[string]CostExplorerAPI // account ID -> client
	granularity types.Granularity
	logger      arbor.ILogger
	limiter     *rate.Limiter
	policy      sources.RetryPolicy
}

// NewAdapter builds one Cost Explorer client per configured account using
// that account's shared-config profile.
func NewAdapter(ctx context.Context, cfg *common.AWSConfig, policy sources.RetryPolicy, logger arbor.ILogger) (*Adapter, error) {
	clients := make(map[string]CostExplorerAPI, len(cfg.Accounts))
	for accountID, profile := range cfg.Accounts {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithSharedConfigProfile(profile),
			awsconfig.WithRegion(cfg.Region),
		)
		if err != nil {
			return nil, models.NewConfigError("failed to load AWS profile %q for account %s: %v", profile, accountID, err)
		}
		clients[accountID] = costexplorer.NewFromConfig(awsCfg)
	}

	return newAdapter(clients, cfg.Granularity, policy, logger), nil
}

// NewAdapterWithClients wires pre-built clients, used by tests.
func NewAdapterWithClients(clients map[string]CostExplorerAPI, granularity string, policy sources.RetryPolicy, logger arbor.ILogger) *Adapter {
	return newAdapter(clients, granularity, policy, logger)
}

func newAdapter(clients map[string]CostExplorerAPI, granularity string, policy sources.RetryPolicy, logger arbor.ILogger) *Adapter {
	return &Adapter{
		clients:     clients,
		granularity: types.Granularity(granularity),
		logger:      logger,
		limiter:     rate.NewLimiter(rate.Limit(defaultRateLimit), defaultRateLimit),
		policy:      policy,
	}
}

// Source returns the source identifier.
func (a *Adapter) Source() models.Source {
	return models.SourceAWSCost
}

// Resources returns the resources this adapter can extract.
func (a *Adapter) Resources() []models.Resource {
	return models.AWSCostResources
}

// AccountIDs returns the configured account identifiers, one extraction
// scope each.
func (a *Adapter) AccountIDs() []string {
	ids := make([]string, 0, len(a.clients))
	for id := range a.clients {
		ids = append(ids, id)
	}
	return ids
}

// FetchPage fetches one Cost Explorer result page for the job's account.
func (a *Adapter) FetchPage(ctx context.Context, job *models.Job, cursor *models.Cursor) (*interfaces.Page, error) {
	client, ok := a.clients[job.ProjectID]
	if !ok {
		return nil, models.NewConfigError("no AWS client configured for account %s", job.ProjectID)
	}

	since, pageToken, generation := sources.ResumePoint(job, cursor)
	until := sources.UpperBound(job)

	next := &models.Cursor{
		Key:        models.CursorKey(job.Source, job.ProjectID, job.Resource),
		Source:     job.Source,
		ProjectID:  job.ProjectID,
		Resource:   job.Resource,
		Generation: generation,
	}

	start := since.Format(costDateFormat)
	end := until.Format(costDateFormat)
	if start >= end {
		// Less than one granularity period since the last completed fetch.
		next.LastCompleted = cursorBound(cursor, since)
		return &interfaces.Page{Records: nil, NextCursor: next, Done: true}, nil
	}

	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod: &types.DateInterval{
			Start: aws.String(start),
			End:   aws.String(end),
		},
		Granularity: a.granularity,
		Metrics:     []string{"UnblendedCost", "UsageQuantity"},
		GroupBy: []types.GroupDefinition{
			{Type: types.GroupDefinitionTypeDimension, Key: aws.String("SERVICE")},
		},
	}
	if pageToken != "" {
		input.NextPageToken = aws.String(pageToken)
	}

	endpoint := fmt.Sprintf("cost-explorer/%s", job.ProjectID)
	var output *costexplorer.GetCostAndUsageOutput
	err := sources.Retry(ctx, a.policy, a.logger, models.SourceAWSCost, endpoint, func(ctx context.Context) (time.Duration, error) {
		if err := a.limiter.Wait(ctx); err != nil {
			return 0, err
		}

		var err error
		output, err = client.GetCostAndUsage(ctx, input)
		if err != nil {
			return 0, classify(endpoint, err)
		}
		return 0, nil
	})
	if err != nil {
		return nil, err
	}

	records, err := a.normalize(job.ProjectID, output.ResultsByTime)
	if err != nil {
		return nil, err
	}

	if output.NextPageToken == nil || *output.NextPageToken == "" {
		next.LastCompleted = until
		return &interfaces.Page{Records: records, NextCursor: next, Done: true}, nil
	}

	next.PageToken = *output.NextPageToken
	next.WindowStart = since
	return &interfaces.Page{Records: records, NextCursor: next, Done: false}, nil
}

// cursorBound keeps an existing completed bound instead of regressing it.
func cursorBound(cursor *models.Cursor, fallback time.Time) time.Time {
	if cursor != nil && cursor.LastCompleted.After(fallback) {
		return cursor.LastCompleted
	}
	return fallback
}

// normalize flattens grouped results into one cost line per (period, service).
func (a *Adapter) normalize(accountID string, results []types.ResultByTime) ([]models.Record, error) {
	var records []models.Record
	for _, result := range results {
		if result.TimePeriod == nil {
			continue
		}
		periodStart, err := time.Parse(costDateFormat, aws.ToString(result.TimePeriod.Start))
		if err != nil {
			return nil, fmt.Errorf("malformed cost period start: %w", err)
		}
		periodEnd, err := time.Parse(costDateFormat, aws.ToString(result.TimePeriod.End))
		if err != nil {
			return nil, fmt.Errorf("malformed cost period end: %w", err)
		}

		for _, group := range result.Groups {
			if len(group.Keys) == 0 {
				continue
			}
			service := group.Keys[0]

			line := models.CostLine{
				AccountID:   accountID,
				Service:     service,
				PeriodStart: periodStart,
				PeriodEnd:   periodEnd,
				Estimated:   result.Estimated,
			}
			if cost, ok := group.Metrics["UnblendedCost"]; ok {
				line.Amount = parseAmount(cost.Amount)
				line.Unit = aws.ToString(cost.Unit)
			}
			if usage, ok := group.Metrics["UsageQuantity"]; ok {
				line.UsageAmount = parseAmount(usage.Amount)
				line.UsageUnit = aws.ToString(usage.Unit)
			}

			// One line per service per period; re-fetches overwrite in place.
			externalID := fmt.Sprintf("%s|%s", periodStart.Format(costDateFormat), service)
			record, err := models.NewRecord(models.SourceAWSCost, accountID, models.ResourceCostRecords, externalID, line)
			if err != nil {
				return nil, err
			}
			records = append(records, record)
		}
	}
	return records, nil
}

func parseAmount(amount *string) float64 {
	if amount == nil {
		return 0
	}
	value, err := strconv.ParseFloat(*amount, 64)
	if err != nil {
		return 0
	}
	return value
}

// classify maps a Cost Explorer error to the fetch error taxonomy.
// Throttling is transient; credential and request errors are fatal.
func classify(endpoint string, err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	switch apiErr.ErrorCode() {
	case "ThrottlingException", "Throttling", "TooManyRequestsException", "RequestLimitExceeded", "LimitExceededException":
		return fmt.Errorf("cost explorer throttled: %w", err)
	case "AccessDeniedException", "UnrecognizedClientException", "InvalidClientTokenId",
		"ExpiredToken", "ExpiredTokenException", "ValidationException", "DataUnavailableException":
		return &models.FatalFetchError{
			Source:   models.SourceAWSCost,
			Endpoint: endpoint,
			Message:  fmt.Sprintf("%s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage()),
		}
	default:
		return err
	}
}
