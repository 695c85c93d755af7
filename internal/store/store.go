// Package store persists harvested docket records. The interface keeps
// the orchestration layer free of database concerns; the Postgres
// implementation lives in this package alongside it.
package store

import (
	"context"

	"github.com/aidosk/court-docket-crawler/internal/docket"
)

// SaveStatus reports what SaveRecord did.
type SaveStatus string

// Save statuses.
const (
	StatusSaved   SaveStatus = "saved"
	StatusUpdated SaveStatus = "updated"
)

// UpdateFilter selects persisted cases due for a refresh pass.
type UpdateFilter struct {
	IntervalDays      int
	DefendantKeywords []string
	ExcludeEventTypes []string
}

// Store is the persistence contract. SaveRecord must be idempotent:
// calling it twice with the same record may not duplicate work or fail.
type Store interface {
	// ExistingSequenceNumbers returns the set of persisted sequence
	// numbers for one partition and year.
	ExistingSequenceNumbers(ctx context.Context, p docket.Partition, year string) (map[int]struct{}, error)
	// LastSequenceNumber returns the highest persisted sequence number,
	// 0 when the partition has no records yet.
	LastSequenceNumber(ctx context.Context, p docket.Partition, year string) (int, error)
	// SaveRecord upserts one record with its parties and events.
	SaveRecord(ctx context.Context, rec docket.Record) (SaveStatus, error)
	// CaseNumbersForUpdate lists persisted cases not refreshed within the
	// filter interval, oldest first.
	CaseNumbersForUpdate(ctx context.Context, f UpdateFilter) ([]string, error)
	// MarkCaseUpdated stamps the refresh time. Callers invoke it only
	// after a fully successful refresh cycle.
	MarkCaseUpdated(ctx context.Context, caseNumber string) error
}
