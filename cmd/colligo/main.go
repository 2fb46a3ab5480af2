package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/export"
	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/orchestrator"
	"github.com/ternarybob/colligo/internal/sources"
	"github.com/ternarybob/colligo/internal/sources/awscost"
	"github.com/ternarybob/colligo/internal/sources/gitlab"
	"github.com/ternarybob/colligo/internal/storage"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles  configPaths // Multiple -config flags supported
	secretsFile  = flag.String("secrets", "colligo-secrets.yaml", "Secrets file path (YAML)")
	fromGitLab   = flag.Bool("gitlab", false, "Extract from GitLab")
	fromAWS      = flag.Bool("aws", false, "Extract AWS cost data")
	fromAll      = flag.Bool("all", false, "Extract from every configured source")
	forceFull    = flag.Bool("full", false, "Ignore cursors and re-fetch the whole window")
	showStats    = flag.Bool("stats", false, "Print dataset statistics")
	exportDir    = flag.String("export", "", "Export the dataset as JSONL files into this directory")
	daemonMode   = flag.Bool("daemon", false, "Keep running and extract on the configured schedule")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	// Global state
	config *common.Config
	logger arbor.ILogger
)

func init() {
	// Register custom flag for multiple config files
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	// Deferred cleanup (storage close) must run before the process exits.
	os.Exit(run())
}

func run() int {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Colligo version %s\n", common.GetFullVersion())
		return 0
	}

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("colligo.toml"); err == nil {
			configFiles = append(configFiles, "colligo.toml")
		} else if _, err := os.Stat("deployments/local/colligo.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/colligo.toml")
		}
	}

	// Startup order: config, logger, banner, storage.
	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("Failed to load configuration")
		return 1
	}

	logger = common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	secrets, err := common.LoadSecrets(*secretsFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load secrets")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStorageManager(logger, config)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open storage")
		return 1
	}
	defer store.Close()

	o := orchestrator.New(config, store, logger)
	if err := registerSources(ctx, o, secrets); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize sources")
		return 1
	}

	// -all means "every configured source": a source without credentials is
	// excluded. Requesting a source explicitly without credentials is an
	// error inside the orchestrator.
	opts := orchestrator.RunOptions{
		GitLab:    *fromGitLab || (*fromAll && secrets.HasGitLab()),
		AWS:       *fromAWS || (*fromAll && len(config.AWS.Accounts) > 0),
		ForceFull: *forceFull,
	}

	exporter := export.New(store, logger)

	if *daemonMode {
		return runDaemon(ctx, o, opts)
	}

	exitCode := 0
	if opts.GitLab || opts.AWS {
		summary, err := o.Run(ctx, opts)
		if err != nil {
			logger.Fatal().Err(err).Msg("Extraction run failed")
			return 1
		}
		printSummary(summary)
		if summary.HasFailures() {
			exitCode = 1
		}
	}

	if *showStats {
		stats, err := exporter.Stats(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to collect dataset statistics")
			return 1
		}
		printStats(stats)
	}

	if *exportDir != "" {
		if err := exporter.WriteJSONL(ctx, *exportDir); err != nil {
			logger.Fatal().Err(err).Msg("Export failed")
			return 1
		}
	}

	return exitCode
}

// registerSources wires an adapter for each source whose credentials are
// available. Requesting an unregistered source fails inside the
// orchestrator as a configuration error.
func registerSources(ctx context.Context, o *orchestrator.Orchestrator, secrets *common.Secrets) error {
	policy := sources.PolicyFromConfig(config.Retry)

	if secrets.HasGitLab() {
		client := gitlab.NewClient(secrets.GitLabHost, secrets.GitLabToken,
			gitlab.WithLogger(logger),
			gitlab.WithRateLimit(config.GitLab.RateLimit),
			gitlab.WithPerPage(config.GitLab.PerPage),
			gitlab.WithRetryPolicy(policy),
		)
		o.Register(gitlab.NewAdapter(client))
		logger.Debug().Str("host", secrets.GitLabHost).Msg("GitLab source registered")
	}

	if len(config.AWS.Accounts) > 0 {
		adapter, err := awscost.NewAdapter(ctx, &config.AWS, policy, logger)
		if err != nil {
			return err
		}
		o.Register(adapter)
		logger.Debug().Int("accounts", len(config.AWS.Accounts)).Msg("AWS cost source registered")
	}

	return nil
}

// cronLogger adapts the application logger to the scheduler's interface so
// skipped overlapping ticks are visible.
type cronLogger struct {
	logger arbor.ILogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Msg(msg)
}

// runDaemon runs extraction on the configured cron schedule until a signal
// arrives. An empty schedule is a configuration error in daemon mode. A run
// that outlasts the schedule interval must not overlap the next tick: two
// concurrent runs would own the same cursor keys, so overlapping ticks are
// skipped.
func runDaemon(ctx context.Context, o *orchestrator.Orchestrator, opts orchestrator.RunOptions) int {
	if config.Extract.Schedule == "" {
		logger.Fatal().Msg("Daemon mode requires extract.schedule in configuration")
		return 1
	}

	var hadFailures atomic.Bool

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})))
	_, err := scheduler.AddFunc(config.Extract.Schedule, func() {
		summary, err := o.Run(ctx, opts)
		if err != nil {
			logger.Error().Err(err).Msg("Scheduled extraction run failed")
			hadFailures.Store(true)
			return
		}
		printSummary(summary)
		if summary.HasFailures() {
			hadFailures.Store(true)
		}
	})
	if err != nil {
		logger.Fatal().Err(err).Str("schedule", config.Extract.Schedule).Msg("Invalid cron schedule")
		return 1
	}

	logger.Info().Str("schedule", config.Extract.Schedule).Msg("Daemon started")
	scheduler.Start()

	<-ctx.Done()
	logger.Info().Msg("Shutting down...")

	// Let an in-flight scheduled run finish before exiting.
	<-scheduler.Stop().Done()

	// The exit contract covers daemon runs too: nonzero if any tick failed.
	if hadFailures.Load() {
		return 1
	}
	return 0
}

// printSummary writes the post-run result table to stdout.
func printSummary(summary *models.RunSummary) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SOURCE\tPROJECT\tRESOURCE\tSTATUS\tPAGES\tRECORDS\tDURATION")
	for _, r := range summary.Results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			r.Source, r.Project, r.Resource, r.Status, r.Pages, r.Records, r.Duration.Round(time.Millisecond))
		if r.Error != "" {
			fmt.Fprintf(w, "\t\t\t  %s\t\t\t\n", r.Error)
		}
	}
	w.Flush()

	fmt.Printf("\n%d jobs: %d succeeded, %d failed, %d skipped, %d records in %s\n",
		summary.TotalJobs, summary.Succeeded, summary.Failed, summary.Skipped,
		summary.RecordsWritten, summary.Elapsed.Round(time.Millisecond))
}

// printStats writes the dataset overview to stdout.
func printStats(stats *export.DatasetStats) {
	fmt.Printf("Dataset: %d records\n\n", stats.TotalRecords)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RESOURCE\tRECORDS")
	for _, resource := range []models.Resource{
		models.ResourceCommits, models.ResourceMergeRequests, models.ResourceIssues,
		models.ResourcePipelines, models.ResourceCostRecords,
	} {
		if count, ok := stats.ByResource[resource]; ok && count > 0 {
			fmt.Fprintf(w, "%s\t%d\n", resource, count)
		}
	}
	w.Flush()

	if len(stats.ByProject) > 0 {
		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PROJECT\tRECORDS")
		for project, count := range stats.ByProject {
			fmt.Fprintf(w, "%s\t%d\n", project, count)
		}
		w.Flush()
	}

	if len(stats.Cursors) > 0 {
		fmt.Println()
		w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CURSOR\tGENERATION\tLAST COMPLETED\tIN FLIGHT")
		for _, cursor := range stats.Cursors {
			fmt.Fprintf(w, "%s\t%d\t%s\t%v\n",
				cursor.Key, cursor.Generation, cursor.LastCompleted.Format(time.RFC3339), cursor.InFlight())
		}
		w.Flush()
	}
}
