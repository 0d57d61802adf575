package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"l7agent/pkg/api/heartbeatpb"
	"l7agent/pkg/command"
	"l7agent/pkg/config"
	"l7agent/pkg/executor"
	"l7agent/pkg/heartbeat"
	"l7agent/pkg/report"
	"l7agent/pkg/requester"
)

var version = "0.1.0"

// shutdownTimeout bounds the wait for workers after an interrupt. It matches
// the drain timeout so an in-flight body read can finish.
const shutdownTimeout = requester.DefaultDrainTimeout + 5*time.Second

// errSingleRequestFailed is returned when --test produced no response
var errSingleRequestFailed = errors.New("single request failed")

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := config.Defaults()

	cmd := &cobra.Command{
		Use:   "l7agent",
		Short: "Distributed HTTP load generation agent",
		Long: `l7agent floods an HTTP target with concurrent requests.

Without --server the agent runs one local command built from the flags and
exits when --time elapses or on interrupt. With --server (or L7_SERVER) it
heartbeats to a controller and runs the commands the controller sends.

Examples:
  l7agent -u https://example.com -c 64 -t 30
  l7agent -u 'https://example.com/[a-z]{8}' --random -H 'Accept-Encoding: gzip'
  l7agent -u https://example.com --ip-file ips.txt --normal-output
  l7agent --server https://controller.example:8443`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}

	flags := cmd.Flags()
	flags.Uint32VarP(&opts.ConcurrentCount, "concurrent-count", "c", opts.ConcurrentCount, "Number of concurrent workers")
	flags.StringVarP(&opts.URL, "url", "u", opts.URL, "Target URL, a pattern with --random")
	flags.Uint64VarP(&opts.TimeSeconds, "time", "t", opts.TimeSeconds, "Run duration in seconds, 0 runs until interrupted")
	flags.StringVarP(&opts.IP, "ip", "i", opts.IP, "Send every request to this address")
	flags.StringVar(&opts.IPFile, "ip-file", opts.IPFile, "Spread requests over the addresses listed in this file")
	flags.StringArrayVarP(&opts.Headers, "header", "H", nil, "Request header 'Name: Value', can be repeated")
	flags.StringVar(&opts.Body, "body", opts.Body, "Request body")
	flags.StringVar(&opts.Method, "method", opts.Method, "HTTP method")
	flags.Uint64Var(&opts.TimeoutSeconds, "timeout", opts.TimeoutSeconds, "Per request timeout in seconds")
	flags.BoolVar(&opts.Random, "random", opts.Random, "Expand [class]{n} patterns of the URL per request")
	flags.BoolVar(&opts.Test, "test", opts.Test, "Send a single request and print the response")
	flags.StringVar(&opts.Server, "server", opts.Server, "Controller URL (env "+config.EnvServer+")")
	flags.StringVar(&opts.LogLevel, "log-level", opts.LogLevel, "Log level (debug, info, warn, error)")
	flags.BoolVar(&opts.NormalOutput, "normal-output", opts.NormalOutput, "Report statistics as log lines instead of a live view")
	flags.StringVar(&opts.ReportDir, "report-dir", opts.ReportDir, "Directory receiving the summary of a stand-alone run")
	flags.StringVar(&opts.StatusAddr, "status-addr", opts.StatusAddr, "Address of the local status API, e.g. :9090")

	return cmd
}

func run(ctx context.Context, opts config.Options) error {
	level, err := opts.Level()
	if err != nil {
		return err
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("version", version).Str("mode", opts.Describe()).Msg("Starting agent")

	stats := requester.NewStatistics()
	exec := executor.New(stats, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if opts.StatusAddr != "" {
		var store *report.Store
		if opts.ReportDir != "" {
			if store, err = report.NewStore(opts.ReportDir); err != nil {
				return err
			}
		}
		handler := NewAPIHandler(exec, report.NewSampler(nil, logger), store, logger)
		g.Go(func() error {
			return serveStatus(gctx, opts.StatusAddr, handler, logger)
		})
	}

	g.Go(func() error {
		defer cancel()
		if opts.Controlled() {
			return runControlled(gctx, opts, exec, logger)
		}
		return runStandalone(gctx, opts, exec, logger)
	})

	return g.Wait()
}

func runControlled(ctx context.Context, opts config.Options, exec *executor.Executor, logger zerolog.Logger) error {
	conn, err := heartbeat.Dial(opts.Server)
	if err != nil {
		return err
	}
	defer conn.Close()

	// controlled agents only report as log lines
	if opts.NormalOutput {
		reporter := report.NewReporter(exec.Statistics(), "remote", true, nil, nil, logger)
		go func() { _ = reporter.Run(ctx) }()
	}

	hb := heartbeat.NewClient(heartbeatpb.NewHeartbeatServiceClient(conn), exec, heartbeat.DefaultConfig(), nil, logger)
	err = hb.Run(ctx)

	stopWorkers(exec, logger)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runStandalone(ctx context.Context, opts config.Options, exec *executor.Executor, logger zerolog.Logger) error {
	c, err := opts.Command()
	if err != nil {
		return err
	}

	start := time.Now()
	const runID = 1
	if _, err := exec.Execute(ctx, command.ParallelCommands{c}, runID); err != nil {
		return err
	}

	reportCtx, stopReport := context.WithCancel(ctx)
	defer stopReport()
	if !opts.Test {
		reporter := report.NewReporter(exec.Statistics(), c.Method, opts.NormalOutput, os.Stdout, nil, logger)
		go func() { _ = reporter.Run(reportCtx) }()
	}

	reason := requester.ErrTimeLimitReached
	if err := exec.Wait(ctx); err != nil {
		reason = requester.ErrStopRequested
		logger.Info().Msg("Interrupted, stopping workers")
		stopWorkers(exec, logger)
	}
	stopReport()
	end := time.Now()

	results := exec.PopResults()
	if opts.Test {
		return printSingle(results, logger)
	}

	final := results[len(results)-1].(*command.RequestResult)
	summary := requester.NewSummary(
		start.UTC().Format("20060102T150405Z"),
		&requester.Request{Method: c.Method, URL: c.URL},
		int(c.ConcurrentCount),
		start, end, reason, final.Stats,
	)
	logSummary(summary, logger)

	if opts.ReportDir != "" {
		store, err := report.NewStore(opts.ReportDir)
		if err != nil {
			return err
		}
		if err := store.Save(summary); err != nil {
			return fmt.Errorf("failed to save run summary: %w", err)
		}
		logger.Info().Str("dir", opts.ReportDir).Str("run_id", summary.RunID).Msg("Saved run summary")
	}
	return nil
}

func stopWorkers(exec *executor.Executor, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := exec.ShutdownWorkers(ctx); err != nil {
		logger.Error().Err(err).Msg("Workers did not stop in time")
	}
}

func printSingle(results []command.Result, logger zerolog.Logger) error {
	for _, r := range results {
		if single, ok := r.(*command.SingleResult); ok {
			logger.Info().Uint32("code", single.Code).Int("content_length", len(single.Content)).Msg("Single request finished")
			fmt.Println(single.Content)
			return nil
		}
	}
	return errSingleRequestFailed
}

func logSummary(s *requester.Summary, logger zerolog.Logger) {
	logger.Info().
		Str("target", s.Target).
		Str("method", s.Method).
		Int("concurrency", s.Concurrency).
		Float64("duration_seconds", s.Duration).
		Uint64("requests", s.Stats.Requests).
		Uint64("status_2xx", s.Stats.Status2xx).
		Uint64("status_3xx", s.Stats.Status3xx).
		Uint64("status_4xx", s.Stats.Status4xx).
		Uint64("status_5xx", s.Stats.Status5xx).
		Uint64("status_other", s.Stats.Other).
		Uint64("bytes", s.Stats.Bytes).
		Float64("actual_qps", s.ActualQPS).
		Msg("Run summary")
}
