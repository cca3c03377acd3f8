package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"github.com/mhadocs/docsync/internal/canonical"
	"github.com/mhadocs/docsync/internal/config"
	"github.com/mhadocs/docsync/internal/engine"
	"github.com/mhadocs/docsync/internal/index"
	"github.com/mhadocs/docsync/internal/remote"
	"github.com/mhadocs/docsync/internal/retry"
	"github.com/mhadocs/docsync/internal/telemetry"
	"github.com/mhadocs/docsync/internal/versions"
)

func newSyncCmd() *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Upload new and changed documents, then reconcile deletions",
		Long: `Sync compares every document in the combined index against the persisted
state and uploads what is new or changed. Unless --skip-reconcile is set, the
run then removes remote objects the index no longer names.

A run takes an exclusive lock; a second concurrent run fails fast.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEngine(cmd, runModeSync)
		},
	}
	addConfigFlag(syncCmd)
	syncCmd.Flags().Bool("dry-run", false, "Plan and log without remote calls or state writes")
	syncCmd.Flags().Bool("skip-reconcile", false, "Leave deletions to a separate reconcile run")
	syncCmd.Flags().Bool("include-unknown", false, "Also delete remote files with no recorded identity")
	return syncCmd
}

func newPlanCmd() *cobra.Command {
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a sync would do without touching the remote store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEngine(cmd, runModePlan)
		},
	}
	addConfigFlag(planCmd)
	return planCmd
}

func newReconcileCmd() *cobra.Command {
	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Remove remote objects the combined index no longer names",
		Long: `Reconcile plans deletions from the persisted state (authoritative) plus the
remote listing, and removes stale objects one by one. The combined index file
itself and any configured protected ids are never deleted. Remote files with
no recorded identity are only removed with --include-unknown.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEngine(cmd, runModeReconcile)
		},
	}
	addConfigFlag(reconcileCmd)
	reconcileCmd.Flags().Bool("dry-run", false, "Plan and log without remote calls or state writes")
	reconcileCmd.Flags().Bool("include-unknown", false, "Also delete remote files with no recorded identity")
	return reconcileCmd
}

type runMode int

const (
	runModeSync runMode = iota
	runModePlan
	runModeReconcile
)

func addConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	_ = cmd.MarkFlagRequired("config")
}

// boolFlag returns the flag's value when the user set it on the command line,
// fallback otherwise. An explicit --name=false overrides a true fallback from
// config, which a plain GetBool could not distinguish from "unset".
func boolFlag(cmd *cobra.Command, name string, fallback bool) bool {
	flags := cmd.Flags()
	if flags.Lookup(name) == nil || !flags.Changed(name) {
		return fallback
	}
	value, _ := flags.GetBool(name)
	return value
}

func runEngine(cmd *cobra.Command, mode runMode) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := buildLogger()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return err
	}

	dryRun := boolFlag(cmd, "dry-run", cfg.Sync.DryRun) || mode == runModePlan
	includeUnknown := boolFlag(cmd, "include-unknown", cfg.Sync.IncludeUnknown)
	skipReconcile := boolFlag(cmd, "skip-reconcile", false)

	idx, err := loadIndex(cfg)
	if err != nil {
		return err
	}

	var client remote.Client
	if !dryRun {
		apiKey, err := cfg.VectorStore.GetAPIKey()
		if err != nil {
			return err
		}
		clientOpts := []remote.VectorStoreOption{}
		if cfg.VectorStore.Endpoint != "" {
			clientOpts = append(clientOpts, remote.WithEndpoint(cfg.VectorStore.Endpoint))
		}
		client, err = remote.NewVectorStoreClient(cfg.VectorStore.ID, apiKey, clientOpts...)
		if err != nil {
			return err
		}
	}

	opts, err := engineOptions(cfg, logger)
	if err != nil {
		return err
	}
	opts.DryRun = dryRun
	opts.IncludeUnknown = includeUnknown
	opts.SkipReconcile = skipReconcile
	opts.ReconcileOnly = mode == runModeReconcile

	meterProvider, err := buildMeterProvider(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	if sdkMP, ok := meterProvider.(*sdkmetric.MeterProvider); ok {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := sdkMP.Shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", zap.Error(err))
			}
		}()
	}

	metrics, err := telemetry.NewSyncMetrics(meterProvider)
	if err != nil {
		return fmt.Errorf("failed to set up metrics: %w", err)
	}

	eng := engine.New(client, opts, logger, metrics)
	summary, err := eng.Run(ctx, idx)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		return fmt.Errorf("run completed with %d failed documents", summary.Failed)
	}
	return nil
}

// buildMeterProvider initializes metrics export when the config enables it and
// falls back to a no-op provider otherwise.
func buildMeterProvider(ctx context.Context, cfg *config.Config, logger *zap.Logger) (metric.MeterProvider, error) {
	opts := []telemetry.MeterProviderOption{
		telemetry.WithMeterServiceVersion(versions.GetVersionInfo().Version),
		telemetry.WithMeterLogger(logger),
	}
	if tc := cfg.Telemetry; tc != nil {
		opts = append(opts,
			telemetry.WithMeterEnabled(tc.Enabled),
			telemetry.WithMeterServiceName(tc.GetServiceName()),
			telemetry.WithMeterEndpoint(tc.GetEndpoint()),
			telemetry.WithMeterInsecure(tc.GetInsecure()),
		)
		if tc.ServiceVersion != "" {
			opts = append(opts, telemetry.WithMeterServiceVersion(tc.ServiceVersion))
		}
	}
	return telemetry.NewMeterProvider(ctx, opts...)
}

// loadIndex builds the combined index from the configured manifest and corpus
// directories.
func loadIndex(cfg *config.Config) (*index.Index, error) {
	hasher := canonical.NewHasher(cfg.Sync.VolatileFields)

	loaderOpts := []index.LoaderOption{
		index.WithDefaultType(cfg.Sync.DefaultDocumentType),
	}
	for docType, dir := range cfg.Paths.CorpusDirs {
		loaderOpts = append(loaderOpts, index.WithCorpusDir(docType, dir))
	}
	if cfg.Paths.DefaultCorpusDir != "" {
		loaderOpts = append(loaderOpts, index.WithDefaultDir(cfg.Paths.DefaultCorpusDir))
	}

	return index.NewLoader(hasher, loaderOpts...).Load(cfg.Paths.Manifest)
}

func engineOptions(cfg *config.Config, logger *zap.Logger) (engine.Options, error) {
	baseDelay, err := cfg.RetryBaseDelay()
	if err != nil {
		return engine.Options{}, err
	}
	attemptTimeout, err := cfg.AttemptTimeout()
	if err != nil {
		return engine.Options{}, err
	}
	staleThreshold, err := cfg.StaleLockThreshold()
	if err != nil {
		return engine.Options{}, err
	}

	return engine.Options{
		StatePath:          cfg.Paths.StateFile,
		LockPath:           cfg.Paths.LockFile,
		StaleLockThreshold: staleThreshold,
		Concurrency:        cfg.Sync.Concurrency,
		FailureRateLimit:   cfg.Sync.FailureRateLimit,
		Protected:          cfg.Sync.ProtectedIDs,
		Retry: retry.Policy{
			MaxAttempts:     cfg.Sync.MaxRetries,
			InitialInterval: baseDelay,
			AttemptTimeout:  attemptTimeout,
		}.WithLogger(logger),
	}, nil
}
