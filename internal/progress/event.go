// Package progress defines the events workers emit while harvesting and
// the reporter interface the orchestration layer injects. Reporting is
// an explicit dependency rather than a global flag so tests and quiet
// runs swap it freely.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the kind of milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart       Stage = "RUN_START"
	StageRunDone        Stage = "RUN_DONE"
	StagePartitionStart Stage = "PARTITION_START"
	StagePartitionDone  Stage = "PARTITION_DONE"
	StageSearchDone     Stage = "SEARCH_DONE"
	StageAuthDone       Stage = "AUTH_DONE"
)

// Event captures one unit of harvest progress.
type Event struct {
	// RunID ties events to one orchestrator run.
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Partition scopes the event to one territorial partition.
	Partition string
	// CaseNumber is the rendered identifier for search events.
	CaseNumber string
	// Outcome carries the result label (hit, miss, saved, failed, ...).
	Outcome string
	// Dur captures the latency of the reported operation.
	Dur time.Duration
	// Note attaches low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageAuthDone:
	case StagePartitionStart, StagePartitionDone:
		if e.Partition == "" {
			return errors.New("partition events require a partition")
		}
	case StageSearchDone:
		if e.Partition == "" || e.CaseNumber == "" {
			return errors.New("search events require partition and case number")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
