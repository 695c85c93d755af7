// Package orchestrator coordinates the harvest: it fans partitions out
// to isolated workers, reconciles gaps, extends the forward scan, and
// aggregates the run summary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aidosk/court-docket-crawler/internal/config"
	"github.com/aidosk/court-docket-crawler/internal/docket"
	"github.com/aidosk/court-docket-crawler/internal/metrics"
	"github.com/aidosk/court-docket-crawler/internal/progress"
	"github.com/aidosk/court-docket-crawler/internal/resilience"
	"github.com/aidosk/court-docket-crawler/internal/store"
	"github.com/aidosk/court-docket-crawler/internal/worker"
)

// Mode selects what a run does.
type Mode string

// Run modes.
const (
	// ModeParse fills known gaps, then extends the forward scan.
	ModeParse Mode = "parse"
	// ModeGaps replays the gap set only.
	ModeGaps Mode = "gaps"
	// ModeUpdate re-queries persisted cases due for a refresh.
	ModeUpdate Mode = "update"
)

// Worker is the per-partition harvest unit. Implemented by
// worker.RegionWorker.
type Worker interface {
	Partition() docket.Partition
	Initialize(ctx context.Context) bool
	SearchAndSave(ctx context.Context, seq int) (worker.Outcome, error)
	Close()
}

// Factory builds a fresh Worker (fresh session, fresh auth) for one
// partition. Called again on every whole-worker restart.
type Factory func(part docket.Partition) Worker

// PartitionSummary aggregates one partition's results.
type PartitionSummary struct {
	Partition    string
	Hits         int
	Misses       int
	RecordsSaved int
	GapsFilled   int
	Restarts     int
	Failed       bool
	Err          error
}

// Summary aggregates one run.
type Summary struct {
	RunID      uuid.UUID
	Mode       Mode
	Started    time.Time
	Finished   time.Time
	Partitions []PartitionSummary
}

// Failed reports whether any partition was marked failed.
func (s Summary) Failed() bool {
	for _, p := range s.Partitions {
		if p.Failed {
			return true
		}
	}
	return false
}

// Orchestrator runs harvest passes over the configured partitions.
type Orchestrator struct {
	cfg      config.HarvestConfig
	update   config.UpdateConfig
	store    store.Store
	factory  Factory
	reporter progress.Reporter
	logger   *zap.Logger
	runID    uuid.UUID

	sleep func(ctx context.Context, d time.Duration) error
}

// New builds an Orchestrator.
func New(
	cfg config.HarvestConfig,
	update config.UpdateConfig,
	st store.Store,
	factory Factory,
	reporter progress.Reporter,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reporter == nil {
		reporter = progress.Nop{}
	}
	return &Orchestrator{
		cfg:      cfg,
		update:   update,
		store:    st,
		factory:  factory,
		reporter: reporter,
		logger:   logger,
		runID:    uuid.New(),
		sleep:    sleepCtx,
	}
}

// RunID returns the identifier stamped on this run's events.
func (o *Orchestrator) RunID() uuid.UUID { return o.runID }

// Run executes one pass in the given mode over all partitions,
// concurrently up to MaxParallelRegions, each partition strictly
// sequential inside. A cancelled context stops dispatching and drains
// in-flight work; partition failures never block other partitions.
func (o *Orchestrator) Run(ctx context.Context, mode Mode, partitions []docket.Partition) Summary {
	summary := Summary{
		RunID:      o.runID,
		Mode:       mode,
		Started:    time.Now().UTC(),
		Partitions: make([]PartitionSummary, len(partitions)),
	}
	o.reporter.Report(progress.Event{
		RunID:   o.runID,
		TS:      summary.Started,
		Stage:   progress.StageRunStart,
		Outcome: string(mode),
	})
	metrics.SetActiveRegions(float64(len(partitions)))
	defer metrics.SetActiveRegions(0)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxParallelRegions)
	for i, part := range partitions {
		i, part := i, part
		g.Go(func() error {
			summary.Partitions[i] = o.runPartition(gctx, mode, part)
			return nil
		})
	}
	_ = g.Wait() // partition errors live in the summaries

	summary.Finished = time.Now().UTC()
	o.reporter.Report(progress.Event{
		RunID:   o.runID,
		TS:      summary.Finished,
		Stage:   progress.StageRunDone,
		Outcome: string(mode),
		Dur:     summary.Finished.Sub(summary.Started),
	})
	o.logSummary(summary)
	return summary
}

// runPartition drives one partition through the selected mode with up to
// MaxWorkerRestarts whole-worker restarts. The position cursor lives
// outside the worker, so a restart resumes where the failed worker left
// off instead of repeating completed queries.
func (o *Orchestrator) runPartition(ctx context.Context, mode Mode, part docket.Partition) PartitionSummary {
	ps := PartitionSummary{Partition: part.Key}
	o.reporter.Report(progress.Event{
		RunID:     o.runID,
		TS:        time.Now().UTC(),
		Stage:     progress.StagePartitionStart,
		Partition: part.Key,
		Outcome:   string(mode),
	})

	plan, err := o.buildPlan(ctx, mode, part)
	if err != nil {
		ps.Failed = true
		ps.Err = fmt.Errorf("plan partition %s: %w", part.Key, err)
		o.finishPartition(&ps)
		return ps
	}

	for {
		w := o.factory(part)
		if !w.Initialize(ctx) {
			w.Close()
			if ctx.Err() != nil {
				ps.Err = ctx.Err()
				break
			}
			if !o.restart(&ps, part, errors.New("initialization failed")) {
				break
			}
			continue
		}

		err := o.drainPlan(ctx, w, plan, &ps)
		w.Close()
		if err == nil || ctx.Err() != nil {
			ps.Err = err
			break
		}
		if errors.Is(err, resilience.ErrCircuitOpen) {
			// The shared upstream is down; restarting a worker cannot help.
			ps.Failed = true
			ps.Err = err
			break
		}
		if !o.restart(&ps, part, err) {
			break
		}
	}

	o.finishPartition(&ps)
	return ps
}

// restart accounts one whole-worker restart. Returns false once the
// budget is spent, marking the partition failed.
func (o *Orchestrator) restart(ps *PartitionSummary, part docket.Partition, cause error) bool {
	if ps.Restarts >= o.cfg.MaxWorkerRestarts {
		ps.Failed = true
		ps.Err = fmt.Errorf("partition %s failed after %d worker restarts: %w", part.Key, ps.Restarts, cause)
		return false
	}
	ps.Restarts++
	metrics.ObserveWorkerRestart(part.Key)
	o.logger.Warn("restarting partition worker",
		zap.String("partition", part.Key),
		zap.Int("restart", ps.Restarts),
		zap.Error(cause),
	)
	return true
}

func (o *Orchestrator) finishPartition(ps *PartitionSummary) {
	note := ""
	if ps.Err != nil {
		note = ps.Err.Error()
	}
	outcome := "completed"
	if ps.Failed {
		outcome = "failed"
	}
	o.reporter.Report(progress.Event{
		RunID:     o.runID,
		TS:        time.Now().UTC(),
		Stage:     progress.StagePartitionDone,
		Partition: ps.Partition,
		Outcome:   outcome,
		Note:      note,
	})
}

func (o *Orchestrator) logSummary(s Summary) {
	for _, ps := range s.Partitions {
		o.logger.Info("partition summary",
			zap.String("partition", ps.Partition),
			zap.Int("hits", ps.Hits),
			zap.Int("misses", ps.Misses),
			zap.Int("records_saved", ps.RecordsSaved),
			zap.Int("gaps_filled", ps.GapsFilled),
			zap.Int("restarts", ps.Restarts),
			zap.Bool("failed", ps.Failed),
		)
	}
	o.logger.Info("run finished",
		zap.String("run_id", s.RunID.String()),
		zap.String("mode", string(s.Mode)),
		zap.Duration("duration", s.Finished.Sub(s.Started)),
		zap.Bool("failed", s.Failed()),
	)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
