package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aidosk/court-docket-crawler/internal/config"
	"github.com/aidosk/court-docket-crawler/internal/docket"
	"github.com/aidosk/court-docket-crawler/internal/logging"
	"github.com/aidosk/court-docket-crawler/internal/metrics"
	"github.com/aidosk/court-docket-crawler/internal/ops"
	"github.com/aidosk/court-docket-crawler/internal/orchestrator"
	"github.com/aidosk/court-docket-crawler/internal/progress"
	"github.com/aidosk/court-docket-crawler/internal/resilience"
	"github.com/aidosk/court-docket-crawler/internal/store"
	"github.com/aidosk/court-docket-crawler/internal/worker"
)

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse",
		Short: "Fill gaps, then extend the forward scan",
		Long: `Runs the full harvest pass over every configured partition: first
replays the missing sequence numbers below the high-water mark, then
probes forward until the consecutive-empty cutoff.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd, orchestrator.ModeParse)
		},
	}
}

func newGapsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gaps",
		Short: "Replay missing sequence numbers only",
		Long: `Recomputes the gap set below each partition's high-water mark and
queries only those numbers. The forward scan is not extended.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd, orchestrator.ModeGaps)
		},
	}
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Re-query persisted cases due for a refresh",
		Long: `Selects persisted cases matching the update filter that have not
been refreshed within the configured interval and re-queries them,
oldest first. Upserts refresh parties and events in place.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvest(cmd, orchestrator.ModeUpdate)
		},
	}
}

func runHarvest(cmd *cobra.Command, mode orchestrator.Mode) error {
	ctx := cmd.Context()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Quiet:       cfg.Logging.Quiet,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	st, err := store.NewPostgres(ctx, cfg.DB, logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer st.Close()

	breaker := resilience.NewBreaker(cfg.Breaker.ToBreaker(), logger)
	reporter := progress.NewZapReporter(logger, cfg.Logging.Quiet)

	// The factory closes over the orchestrator for its run id; workers
	// are only built once Run is underway.
	var orch *orchestrator.Orchestrator
	factory := func(part docket.Partition) orchestrator.Worker {
		return worker.NewFromConfig(cfg, part, breaker, st, reporter, orch.RunID(), logger)
	}
	orch = orchestrator.New(cfg.Harvest, cfg.Update, st, factory, reporter, logger)

	var opsServer *ops.Server
	if cfg.Ops.Enabled {
		opsServer = ops.NewServer(cfg.Ops, logger)
		go func() {
			if err := opsServer.Start(); err != nil {
				logger.Error("ops endpoint failed", zap.Error(err))
			}
		}()
	}

	partitions := orchestrator.PartitionsFromConfig(cfg)
	if len(partitions) == 0 {
		return fmt.Errorf("no partitions match court_type %q and the target region filter", cfg.CourtType)
	}
	summary := orch.Run(ctx, mode, partitions)

	if opsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Harvest.ShutdownGrace())
		defer cancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("ops endpoint shutdown", zap.Error(err))
		}
	}

	if ctx.Err() != nil {
		// Interrupted runs resume from persisted state next time.
		logger.Warn("run interrupted", zap.Error(ctx.Err()))
		return nil
	}
	logCompletion(logger, summary)
	return nil
}

// logCompletion records the run outcome. Partition failures are contained:
// they surface in the log and the summary, never in the exit code, which
// is reserved for unrecoverable startup errors.
func logCompletion(logger *zap.Logger, s orchestrator.Summary) {
	failed := 0
	for _, ps := range s.Partitions {
		if ps.Failed {
			failed++
		}
	}
	if failed > 0 {
		logger.Error("run finished with failed partitions",
			zap.Int("failed", failed),
			zap.Int("partitions", len(s.Partitions)),
		)
		return
	}
	logger.Info("run finished", zap.Int("partitions", len(s.Partitions)))
}
