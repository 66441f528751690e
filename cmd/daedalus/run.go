package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	natsconn "github.com/wehubfusion/Daedalus/internal/nats"
	"github.com/wehubfusion/Daedalus/internal/tracing"
	"github.com/wehubfusion/Daedalus/internal/workflowfile"
	"github.com/wehubfusion/Daedalus/pkg/actions"
	"github.com/wehubfusion/Daedalus/pkg/callback"
	"github.com/wehubfusion/Daedalus/pkg/concurrency"
	"github.com/wehubfusion/Daedalus/pkg/credentials"
	"github.com/wehubfusion/Daedalus/pkg/plugins/all"
	"github.com/wehubfusion/Daedalus/pkg/storage"
	"github.com/wehubfusion/Daedalus/pkg/workflow"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

type runOptions struct {
	input          string
	inputFile      string
	executionID    string
	natsURL        string
	resultSubject  string
	sentryDSN      string
	otlpEndpoint   string
	environment    string
	archiveConn    string
	archiveBucket  string
	waitBackground time.Duration
	pretty         bool
}

func newRunCmd() *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Execute a workflow file and print its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.input, "input", "", "Trigger input as a JSON object")
	f.StringVar(&o.inputFile, "input-file", "", "Read trigger input from a JSON file")
	f.StringVar(&o.executionID, "execution-id", "", "Execution id (default: random UUID)")
	f.StringVar(&o.natsURL, "nats-url", envOr("DAEDALUS_NATS_URL", ""), "Publish run reports to this NATS server")
	f.StringVar(&o.resultSubject, "result-subject", envOr("DAEDALUS_RESULT_SUBJECT", "workflow.result"), "Subject for completion records")
	f.StringVar(&o.sentryDSN, "sentry-dsn", envOr("DAEDALUS_SENTRY_DSN", ""), "Report failed runs to Sentry")
	f.StringVar(&o.otlpEndpoint, "otlp-endpoint", envOr("DAEDALUS_OTLP_ENDPOINT", ""), "OTLP/HTTP collector host:port for traces")
	f.StringVar(&o.environment, "environment", envOr("DAEDALUS_ENVIRONMENT", "development"), "Deployment environment tag")
	f.StringVar(&o.archiveConn, "archive-connection", envOr("DAEDALUS_ARCHIVE_CONNECTION", ""), "Azure Storage connection string for run records")
	f.StringVar(&o.archiveBucket, "archive-container", envOr("DAEDALUS_ARCHIVE_CONTAINER", "workflow-runs"), "Container for run records")
	f.DurationVar(&o.waitBackground, "wait-background", 0, "Wait up to this long for race/any branches still running")
	f.BoolVar(&o.pretty, "pretty", false, "Indent the JSON output")
	return cmd
}

func (o *runOptions) run(cmd *cobra.Command, path string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	undo := concurrency.SetMaxProcs(logger)
	defer undo()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	f, err := workflowfile.Load(path)
	if err != nil {
		return err
	}
	trigger, err := o.triggerInput()
	if err != nil {
		return err
	}
	executionID := o.executionID
	if executionID == "" {
		executionID = uuid.NewString()
	}

	shutdownTracing, err := tracing.SetupTracing(ctx, tracing.TracingConfig{
		ServiceName:    "daedalus",
		ServiceVersion: "1.0.0",
		Environment:    o.environment,
		OTLPEndpoint:   o.otlpEndpoint,
		Insecure:       true,
		SampleRatio:    1.0,
	}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = tracing.ShutdownTracing(shutdownTracing, logger) }()

	reporter, closeReporter, err := o.reporter(ctx, logger)
	if err != nil {
		return err
	}
	defer closeReporter()

	var fetcher credentials.Fetcher = credentials.NewEnvFetcher(all.CredentialKeys...)
	if len(f.Credentials) > 0 {
		fetcher = credentials.Chain{credentials.NewStaticFetcher(f.Credentials), fetcher}
	}

	reg := actions.NewRegistry()
	bundle, err := all.Register(reg, all.Options{Credentials: fetcher, Logger: logger})
	if err != nil {
		return err
	}
	defer bundle.Close()

	cfg := concurrency.LoadConfig()
	logger.Debug("Concurrency configured", zap.String("config", cfg.String()))

	limiter := cfg.NewLimiter()
	metrics := workflow.NewMetricsCollector()
	engine, err := workflow.NewEngine(reg,
		workflow.WithLogger(logger),
		workflow.WithReporter(reporter),
		workflow.WithTracer(otel.Tracer("daedalus")),
		workflow.WithLimiter(limiter),
		workflow.WithMetrics(metrics),
	)
	if err != nil {
		return err
	}

	out := engine.Execute(ctx, f.Input(executionID, trigger))
	if o.waitBackground > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, o.waitBackground)
		if err := out.WaitBackground(waitCtx); err != nil {
			logger.Warn("Background branches still running", zap.Error(err))
		}
		cancel()
	}

	m := metrics.GetMetrics()
	logger.Info("Run summary",
		zap.Int64("nodes", m.NodesExecuted),
		zap.Int64("failed", m.NodesFailed),
		zap.Duration("avgNodeTime", metrics.AverageNodeTime()),
		zap.Float64("errorRate", metrics.ErrorRate()),
		zap.Duration("avgLimiterWait", limiter.GetAverageWaitTime()),
		zap.Strings("openCircuits", limiter.OpenCircuits()))

	enc := json.NewEncoder(cmd.OutOrStdout())
	if o.pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if !out.Success {
		return fmt.Errorf("workflow failed: %s", firstError(out))
	}
	return nil
}

// firstError is the run's fatal error or the first node failure recorded.
func firstError(out *workflow.ExecutionOutput) string {
	if out.Error != "" {
		return out.Error
	}
	for _, id := range out.Order {
		if res := out.Results[id]; !res.Success {
			return fmt.Sprintf("node %q: %s", id, res.Error)
		}
	}
	return "unknown error"
}

// triggerInput reads --input or --input-file. Nil means the file default.
func (o *runOptions) triggerInput() (map[string]any, error) {
	raw := []byte(o.input)
	if o.inputFile != "" {
		if o.input != "" {
			return nil, fmt.Errorf("--input and --input-file are mutually exclusive")
		}
		data, err := os.ReadFile(o.inputFile)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var in map[string]any
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("trigger input must be a JSON object: %w", err)
	}
	return in, nil
}

// reporter assembles the configured reporters. The log reporter is always
// present.
func (o *runOptions) reporter(ctx context.Context, logger *zap.Logger) (callback.Reporter, func(), error) {
	reporters := callback.MultiReporter{callback.NewLogReporter(logger)}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if o.natsURL != "" {
		connCfg := natsconn.DefaultConnectionConfig(o.natsURL)
		connCfg.Logger = logger
		conn, err := natsconn.Connect(ctx, connCfg)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = natsconn.Close(conn) })

		js, err := natsconn.JetStream(conn, connCfg)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		natsCfg := callback.DefaultNATSConfig()
		natsCfg.ResultSubject = o.resultSubject
		natsCfg.Logger = logger
		r, err := callback.NewNATSReporter(callback.WrapJetStream(js), natsCfg)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		reporters = append(reporters, r)
	}

	if o.sentryDSN != "" {
		r, err := callback.NewSentryReporterFromOptions(sentry.ClientOptions{
			Dsn:         o.sentryDSN,
			Environment: o.environment,
		})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to initialize sentry: %w", err)
		}
		reporters = append(reporters, r)
	}

	if o.archiveConn != "" {
		client, err := storage.NewAzureBlobClient(o.archiveConn, logger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		archive, err := storage.NewRunArchive(client, o.archiveBucket, logger)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		r, err := callback.NewArchiveReporter(archive)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		reporters = append(reporters, r)
	}

	return reporters, closeAll, nil
}
