package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"regexp"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/muesli/termenv"
	"github.com/ternarybob/arbor"

	"cimon/internal/common"
	"cimon/internal/gitlab"
	"cimon/internal/graph"
	"cimon/internal/models"
	"cimon/internal/monitor"
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
	targetFlag   = flag.String("target", "", "Target job regex, matched from the start of the job name")
	tokenFlag    = flag.String("token", "", "GitLab token (overrides the configured token file)")
	forceManual  = flag.Bool("force-manual", false, "Play target jobs marked as manual")
	stress       = flag.Bool("stress", false, "Stresstest job(s): retry the target on every completion and tally results")
	rev          = flag.String("rev", "", "Repository git revision (default: HEAD)")
	pipelineURL  = flag.String("pipeline-url", "", "URL of the pipeline to use, instead of auto-detecting it")
	projectFlag  = flag.String("project", "", "Project path namespace/name (overrides config)")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	// Global state
	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			common.WriteCrashFile(r, string(debug.Stack()))
			os.Exit(1)
		}
	}()

	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Cimon version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	if *rev != "" && *pipelineURL != "" {
		fmt.Fprintln(os.Stderr, "-rev and -pipeline-url are mutually exclusive")
		os.Exit(1)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner
	if len(configFiles) == 0 {
		if _, err := os.Stat("cimon.toml"); err == nil {
			configFiles = append(configFiles, "cimon.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	if *projectFlag != "" {
		config.GitLab.Project = *projectFlag
	}

	logger = common.InitLogger(config).WithCorrelationId(uuid.New().String())
	common.PrintBanner(common.GetVersion())
	common.InstallCrashHandler("")

	os.Exit(run())
}

// run carries the whole monitoring session so deferred cleanup is not
// skipped by os.Exit in main.
func run() int {
	start := time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	common.SafeGo(logger, "signal-watcher", func() {
		<-sigChan
		logger.Info().Msg("Interrupt signal received")
		cancel()
	})

	token, err := gitlab.ReadToken(*tokenFlag, config.GitLab.TokenFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to read token")
		return 1
	}
	if token == "" {
		logger.Warn().Str("token_file", config.GitLab.TokenFile).Msg("No token found, running anonymously; job mutations will be rejected")
	}

	opts := []gitlab.ClientOption{
		gitlab.WithBaseURL(config.GitLab.URL),
		gitlab.WithLogger(logger),
		gitlab.WithRateLimit(config.GitLab.RateLimit),
	}
	if config.GitLab.AuthMethod == "oauth" {
		opts = append(opts, gitlab.WithOAuth(ctx))
	}
	client := gitlab.NewClient(token, opts...)

	project, pipeline, sha, err := resolvePipeline(ctx, client)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 1
		}
		logger.Fatal().Err(err).Msg("Failed to resolve pipeline")
		return 1
	}

	fmt.Printf("Revision: %s\n", sha)
	fmt.Printf("Pipeline: %s\n", pipeline.WebURL)

	out := termenv.NewOutput(os.Stdout)
	printer := monitor.NewPrinter(out)

	target, deps, err := resolveDependencies(ctx, client, out, project.PathWithNamespace, sha)
	if err != nil {
		if errors.Is(err, errNoMatchingJobs) {
			fmt.Println(out.String("The job(s) were not found in the pipeline.").Foreground(termenv.ANSIRed).String())
			return 1
		}
		logger.Fatal().Err(err).Msg("Failed to compute job dependencies")
		return 1
	}

	service := gitlab.NewPipelineService(client, project.ID)
	m := monitor.New(monitor.Options{
		Service:           service,
		PipelineID:        pipeline.ID,
		Target:            target,
		Dependencies:      deps,
		ForceManual:       *forceManual,
		Stress:            *stress,
		JobsInterval:      config.JobsInterval(),
		CancelConcurrency: config.Monitor.CancelConcurrency,
		Printer:           printer,
		Logger:            logger,
	})

	outcome, err := m.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return 1
		}
		logger.Fatal().Err(err).Msg("Pipeline monitoring failed")
		return 1
	}

	if outcome.Handoff {
		if err := monitor.StreamLog(ctx, service, outcome.JobID, config.LogInterval(), printer); err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Fatal().Err(err).Msg("Log streaming failed")
			}
			return 1
		}
		// Streaming completion, not job success, decides this exit path.
		printDuration(start)
		return 0
	}

	printDuration(start)
	return outcome.ExitCode
}

// resolvePipeline turns the CLI selection (explicit pipeline URL, or a
// revision in the configured project) into a concrete project and pipeline.
func resolvePipeline(ctx context.Context, client *gitlab.Client) (*models.Project, *models.Pipeline, string, error) {
	if *pipelineURL != "" {
		projectPath, pipelineID, err := gitlab.ParsePipelineURL(config.GitLab.URL, *pipelineURL)
		if err != nil {
			return nil, nil, "", err
		}
		project, err := client.Project(ctx, projectPath)
		if err != nil {
			return nil, nil, "", err
		}
		pipeline, err := client.Pipeline(ctx, project.ID, pipelineID)
		if err != nil {
			return nil, nil, "", err
		}
		return project, pipeline, pipeline.SHA, nil
	}

	project, err := client.Project(ctx, config.GitLab.Project)
	if err != nil {
		return nil, nil, "", err
	}

	sha := *rev
	if sha == "" {
		out, err := exec.CommandContext(ctx, "git", "rev-parse", "HEAD").Output()
		if err != nil {
			return nil, nil, "", fmt.Errorf("failed to resolve HEAD, pass -rev or -pipeline-url: %w", err)
		}
		sha = strings.TrimSpace(string(out))
	}

	pipeline, err := client.WaitForPipeline(ctx, project.ID, sha, config.JobsInterval(), config.PipelineWaitTimeout())
	if err != nil {
		return nil, nil, "", err
	}
	return project, pipeline, sha, nil
}

var errNoMatchingJobs = errors.New("no jobs match the target pattern")

// resolveDependencies compiles the target pattern and computes the names
// of every job the matched jobs transitively need. Without a -target flag
// the monitor observes the whole pipeline and mutates nothing.
func resolveDependencies(ctx context.Context, client *gitlab.Client, out *termenv.Output, projectPath, sha string) (*regexp.Regexp, map[string]struct{}, error) {
	if *targetFlag == "" {
		return nil, nil, nil
	}

	fmt.Println("🞋 job: " + out.String(*targetFlag).Foreground(termenv.ANSIBlue).String())

	target, err := monitor.CompileTarget(strings.TrimSpace(*targetFlag))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid target pattern: %w", err)
	}

	dag, err := graph.Fetch(ctx, client, projectPath, sha)
	if err != nil {
		return nil, nil, err
	}

	filtered := dag.Filter(target)
	if len(filtered) == 0 {
		return nil, nil, errNoMatchingJobs
	}

	fmt.Println(out.String("\nDetected job dependencies:\n").Foreground(termenv.ANSIYellow).String())
	graph.Print(os.Stdout, filtered)

	return target, filtered.Dependencies(), nil
}

func printDuration(start time.Time) {
	fmt.Printf("⏲ Duration of script execution: %0.1f minutes\n", time.Since(start).Minutes())
}
