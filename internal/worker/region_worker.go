// Package worker implements the per-partition harvest unit: one fully
// isolated session, search protocol, and parser stack per territorial
// partition. Workers never share transports, tokens, or cached form
// state; the origin's server-side form model breaks under any sharing.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aidosk/court-docket-crawler/internal/docket"
	"github.com/aidosk/court-docket-crawler/internal/metrics"
	"github.com/aidosk/court-docket-crawler/internal/progress"
	"github.com/aidosk/court-docket-crawler/internal/protocol"
	"github.com/aidosk/court-docket-crawler/internal/resilience"
	"github.com/aidosk/court-docket-crawler/internal/store"
)

// Searcher runs one protocol query. Implemented by protocol.Client.
type Searcher interface {
	Search(ctx context.Context, q protocol.SearchQuery) (string, error)
	InvalidateCapabilities()
}

// Authenticator establishes the session. Implemented by session.Authenticator.
type Authenticator interface {
	Authenticate(ctx context.Context) error
}

// Parser extracts records from a results page.
type Parser interface {
	Parse(html string) ([]docket.Record, error)
}

// Closer releases the session transport.
type Closer interface {
	Close()
}

// OutcomeKind classifies what one search produced.
type OutcomeKind string

// Search outcomes.
const (
	OutcomeHit      OutcomeKind = "hit"       // target found and persisted
	OutcomeNotFound OutcomeKind = "not_found" // query answered, target absent
)

// Outcome summarizes one SearchAndSave call. RecordsSaved counts every
// persisted row, including non-target rows served alongside the target.
type Outcome struct {
	Kind         OutcomeKind
	Seq          int
	CaseNumber   string
	RecordsSaved int
}

// RegionWorker harvests one partition. Not safe for concurrent use: the
// origin serializes form state per session, so callers run one query at
// a time per worker.
type RegionWorker struct {
	partition docket.Partition
	year      string

	auth     Authenticator
	searcher Searcher
	parser   Parser
	session  Closer
	store    store.Store
	reporter progress.Reporter
	retry    *resilience.Strategy
	logger   *zap.Logger
	runID    uuid.UUID

	maxReauth   int
	reauthCount int
}

// Deps carries the collaborators for one RegionWorker.
type Deps struct {
	Partition     docket.Partition
	Year          string
	Authenticator Authenticator
	Searcher      Searcher
	Parser        Parser
	Session       Closer
	Store         store.Store
	Reporter      progress.Reporter
	// Retry is the breaker-less search-level policy; the per-request
	// layer below already reports to the breaker.
	Retry     *resilience.Strategy
	Logger    *zap.Logger
	RunID     uuid.UUID
	MaxReauth int
}

// New constructs a RegionWorker.
func New(d Deps) *RegionWorker {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reporter := d.Reporter
	if reporter == nil {
		reporter = progress.Nop{}
	}
	if d.MaxReauth <= 0 {
		d.MaxReauth = 2
	}
	return &RegionWorker{
		partition: d.Partition,
		year:      d.Year,
		auth:      d.Authenticator,
		searcher:  d.Searcher,
		parser:    d.Parser,
		session:   d.Session,
		store:     d.Store,
		reporter:  reporter,
		retry:     d.Retry,
		logger:    logger.With(zap.String("partition", d.Partition.Key)),
		runID:     d.RunID,
		maxReauth: d.MaxReauth,
	}
}

// Partition returns the worker's partition.
func (w *RegionWorker) Partition() docket.Partition { return w.partition }

// Initialize authenticates the session. It returns false rather than an
// error: a partition that cannot start is skipped, not fatal to the run.
func (w *RegionWorker) Initialize(ctx context.Context) bool {
	if err := w.auth.Authenticate(ctx); err != nil {
		w.logger.Error("worker initialization failed", zap.Error(err))
		return false
	}
	w.reporter.Report(progress.Event{
		RunID:     w.runID,
		TS:        time.Now().UTC(),
		Stage:     progress.StageAuthDone,
		Partition: w.partition.Key,
		Outcome:   "authenticated",
	})
	return true
}

// SearchAndSave queries one sequence number and persists every returned
// row belonging to this partition. An answered query whose rows do not
// include the target yields OutcomeNotFound, not an error.
func (w *RegionWorker) SearchAndSave(ctx context.Context, seq int) (Outcome, error) {
	target := docket.RenderCaseNumber(w.partition, w.year, seq)
	start := time.Now()

	var html string
	err := w.retry.Execute(ctx, "search "+w.partition.Key, func(ctx context.Context) error {
		var err error
		html, err = w.searchWithReauth(ctx, target)
		return err
	})
	if err != nil {
		metrics.ObserveSearch(w.partition.Key, "error")
		return Outcome{Seq: seq, CaseNumber: target}, err
	}

	records, err := w.parser.Parse(html)
	if err != nil {
		metrics.ObserveSearch(w.partition.Key, "error")
		return Outcome{Seq: seq, CaseNumber: target}, fmt.Errorf("parse results for %s: %w", target, err)
	}

	outcome := Outcome{Seq: seq, CaseNumber: target, Kind: OutcomeNotFound}
	for _, rec := range records {
		if !w.ownsRecord(rec) {
			w.logger.Debug("skipping foreign record", zap.String("case_number", rec.CaseNumber))
			continue
		}
		status, err := w.store.SaveRecord(ctx, rec)
		if err != nil {
			metrics.ObserveSearch(w.partition.Key, "error")
			return outcome, fmt.Errorf("save record %s: %w", rec.CaseNumber, err)
		}
		outcome.RecordsSaved++
		w.logger.Debug("record persisted",
			zap.String("case_number", rec.CaseNumber),
			zap.String("status", string(status)),
		)
		if docket.MatchesTarget(rec.CaseNumber, target) {
			outcome.Kind = OutcomeHit
		}
	}

	metrics.ObserveSearch(w.partition.Key, string(outcome.Kind))
	w.reporter.Report(progress.Event{
		RunID:      w.runID,
		TS:         time.Now().UTC(),
		Stage:      progress.StageSearchDone,
		Partition:  w.partition.Key,
		CaseNumber: target,
		Outcome:    string(outcome.Kind),
		Dur:        time.Since(start),
	})
	return outcome, nil
}

// searchWithReauth runs one protocol query, re-authenticating once per
// expired session up to the bounded limit. Re-authentication invalidates
// the cached form capabilities: the fresh session serves fresh ids.
func (w *RegionWorker) searchWithReauth(ctx context.Context, target string) (string, error) {
	html, err := w.searcher.Search(ctx, protocol.SearchQuery{
		RegionID: w.partition.RegionID,
		CourtID:  w.partition.CourtID,
		Year:     w.year,
		Number:   target,
	})
	if err == nil || !isSessionExpired(err) {
		return html, err
	}

	if w.reauthCount >= w.maxReauth {
		return "", fmt.Errorf("re-authentication limit (%d) reached: %w", w.maxReauth, err)
	}
	w.reauthCount++
	w.logger.Warn("session expired, re-authenticating",
		zap.Int("reauth", w.reauthCount),
		zap.Int("max_reauth", w.maxReauth),
	)
	if err := w.auth.Authenticate(ctx); err != nil {
		return "", fmt.Errorf("re-authentication failed: %w", err)
	}
	w.searcher.InvalidateCapabilities()

	return w.searcher.Search(ctx, protocol.SearchQuery{
		RegionID: w.partition.RegionID,
		CourtID:  w.partition.CourtID,
		Year:     w.year,
		Number:   target,
	})
}

// Close releases the session. Called unconditionally on every exit path.
func (w *RegionWorker) Close() {
	if w.session != nil {
		w.session.Close()
	}
}

// ownsRecord reports whether a parsed record belongs to this worker's
// partition and year. The origin can render rows from adjacent queries
// into the shared result view; foreign rows are never persisted here.
func (w *RegionWorker) ownsRecord(rec docket.Record) bool {
	cn, ok := docket.ParseCaseNumber(rec.CaseNumber)
	if !ok {
		return false
	}
	yy := w.year
	if len(yy) == 4 {
		yy = yy[2:]
	}
	return cn.CourtCode == w.partition.CourtCode() &&
		cn.CaseType == w.partition.CaseTypeCode &&
		cn.YearShort == yy
}

// isSessionExpired reports whether err is a 401-class rejection.
func isSessionExpired(err error) bool {
	var terminal *resilience.TerminalError
	if !errors.As(err, &terminal) {
		return false
	}
	return terminal.StatusCode == 401
}
