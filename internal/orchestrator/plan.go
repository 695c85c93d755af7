package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/aidosk/court-docket-crawler/internal/config"
	"github.com/aidosk/court-docket-crawler/internal/docket"
	"github.com/aidosk/court-docket-crawler/internal/store"
	"github.com/aidosk/court-docket-crawler/internal/worker"
)

// GapSet computes the missing sequence numbers in [1, last] given the
// persisted set. The result is sorted ascending. It is recomputed fresh
// for every pass and never stored: replaying it is idempotent because
// persistence upserts.
func GapSet(existing map[int]struct{}, last int) []int {
	var gaps []int
	for seq := 1; seq <= last; seq++ {
		if _, ok := existing[seq]; !ok {
			gaps = append(gaps, seq)
		}
	}
	return gaps
}

// updateItem is one persisted case due for a refresh.
type updateItem struct {
	caseNumber string
	seq        int
}

// partitionPlan is the mutable work cursor for one partition. It lives
// outside the worker so whole-worker restarts resume mid-plan.
type partitionPlan struct {
	mode Mode

	gaps   []int
	gapIdx int

	next                int
	maxNumber           int
	maxConsecutiveEmpty int
	consecutiveEmpty    int

	updates []updateItem
	updIdx  int
}

// buildPlan loads persisted state and lays out the work for one
// partition in the given mode.
func (o *Orchestrator) buildPlan(ctx context.Context, mode Mode, part docket.Partition) (*partitionPlan, error) {
	plan := &partitionPlan{
		mode:                mode,
		maxNumber:           o.cfg.MaxNumber,
		maxConsecutiveEmpty: o.cfg.MaxConsecutiveEmpty,
	}

	if mode == ModeUpdate {
		numbers, err := o.store.CaseNumbersForUpdate(ctx, store.UpdateFilter{
			IntervalDays:      o.update.IntervalDays,
			DefendantKeywords: o.update.DefendantKeywords,
			ExcludeEventTypes: o.update.ExcludeEventTypes,
		})
		if err != nil {
			return nil, err
		}
		yy := o.cfg.Year
		if len(yy) == 4 {
			yy = yy[2:]
		}
		for _, number := range numbers {
			cn, ok := docket.ParseCaseNumber(number)
			if !ok {
				continue
			}
			if cn.CourtCode != part.CourtCode() || cn.CaseType != part.CaseTypeCode || cn.YearShort != yy {
				continue
			}
			plan.updates = append(plan.updates, updateItem{caseNumber: number, seq: cn.Sequence})
		}
		return plan, nil
	}

	existing, err := o.store.ExistingSequenceNumbers(ctx, part, o.cfg.Year)
	if err != nil {
		return nil, err
	}
	last := 0
	for seq := range existing {
		if seq > last {
			last = seq
		}
	}
	plan.gaps = GapSet(existing, last)
	plan.next = last + 1
	if o.cfg.StartFrom > plan.next {
		plan.next = o.cfg.StartFrom
	}
	o.logger.Info("partition plan built",
		zap.String("partition", part.Key),
		zap.Int("last_persisted", last),
		zap.Int("gaps", len(plan.gaps)),
		zap.Int("forward_from", plan.next),
	)
	return plan, nil
}

// drainPlan executes the remaining plan on one worker. It returns nil
// when the plan is exhausted and the first error otherwise, leaving the
// cursor on the failed item so a restarted worker retries it.
func (o *Orchestrator) drainPlan(ctx context.Context, w Worker, plan *partitionPlan, ps *PartitionSummary) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		seq, item, done := plan.current()
		if done {
			return nil
		}

		outcome, err := w.SearchAndSave(ctx, seq)
		if err != nil {
			return err
		}
		ps.RecordsSaved += outcome.RecordsSaved

		hit := outcome.Kind == worker.OutcomeHit
		switch {
		case plan.inGaps():
			if hit {
				ps.Hits++
				ps.GapsFilled++
			} else {
				ps.Misses++
			}
		case plan.mode == ModeUpdate:
			if hit {
				ps.Hits++
				if err := o.store.MarkCaseUpdated(ctx, item.caseNumber); err != nil {
					return fmt.Errorf("mark case updated: %w", err)
				}
			} else {
				ps.Misses++
			}
		default: // forward scan
			if hit {
				ps.Hits++
				plan.consecutiveEmpty = 0
			} else {
				ps.Misses++
				plan.consecutiveEmpty++
			}
		}
		plan.advance()

		if err := o.sleep(ctx, o.cfg.RegionPacing()); err != nil {
			return err
		}
	}
}

// current returns the next sequence number to query, the update item if
// in update mode, and whether the plan is exhausted.
func (p *partitionPlan) current() (int, updateItem, bool) {
	if p.mode == ModeUpdate {
		if p.updIdx >= len(p.updates) {
			return 0, updateItem{}, true
		}
		item := p.updates[p.updIdx]
		return item.seq, item, false
	}
	if p.gapIdx < len(p.gaps) {
		return p.gaps[p.gapIdx], updateItem{}, false
	}
	if p.mode == ModeGaps {
		return 0, updateItem{}, true
	}
	if p.next > p.maxNumber || p.consecutiveEmpty >= p.maxConsecutiveEmpty {
		return 0, updateItem{}, true
	}
	return p.next, updateItem{}, false
}

// inGaps reports whether the cursor is still in the gap-fill phase.
func (p *partitionPlan) inGaps() bool {
	return p.mode != ModeUpdate && p.gapIdx < len(p.gaps)
}

func (p *partitionPlan) advance() {
	switch {
	case p.mode == ModeUpdate:
		p.updIdx++
	case p.gapIdx < len(p.gaps):
		p.gapIdx++
	default:
		p.next++
	}
}

// PartitionsFromConfig expands the configured regions into partitions,
// honoring the optional court-type and target-region filters. Order is
// deterministic by region key then court key.
func PartitionsFromConfig(cfg config.Config) []docket.Partition {
	targets := make(map[string]struct{}, len(cfg.Harvest.TargetRegions))
	for _, key := range cfg.Harvest.TargetRegions {
		targets[key] = struct{}{}
	}

	var parts []docket.Partition
	for regionKey, region := range cfg.Regions {
		if len(targets) > 0 {
			if _, ok := targets[regionKey]; !ok {
				continue
			}
		}
		for courtKey, court := range region.Courts {
			if cfg.CourtType != "" && courtKey != cfg.CourtType {
				continue
			}
			parts = append(parts, docket.Partition{
				Key:          regionKey,
				RegionID:     region.ID,
				CourtID:      court.ID,
				KATOCode:     region.KATOCode,
				InstanceCode: court.InstanceCode,
				CaseTypeCode: court.CaseTypeCode,
			})
		}
	}
	sort.Slice(parts, func(i, j int) bool {
		if parts[i].Key != parts[j].Key {
			return parts[i].Key < parts[j].Key
		}
		return parts[i].CourtID < parts[j].CourtID
	})
	return parts
}
