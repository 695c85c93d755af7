package progress

import (
	"go.uber.org/zap"
)

// Reporter consumes progress events. Implementations must be safe for
// concurrent use and must never block the harvest loop.
type Reporter interface {
	Report(e Event)
}

// ZapReporter logs events through zap. Quiet suppresses the per-search
// chatter during long runs while keeping run and partition milestones.
type ZapReporter struct {
	Logger *zap.Logger
	Quiet  bool
}

// NewZapReporter builds a ZapReporter.
func NewZapReporter(logger *zap.Logger, quiet bool) *ZapReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapReporter{Logger: logger, Quiet: quiet}
}

// Report logs one event.
func (r *ZapReporter) Report(e Event) {
	if err := e.Validate(); err != nil {
		r.Logger.Warn("dropping invalid progress event", zap.Error(err))
		return
	}
	if r.Quiet && e.Stage == StageSearchDone {
		return
	}
	fields := []zap.Field{
		zap.String("run_id", e.RunID.String()),
		zap.String("stage", string(e.Stage)),
	}
	if e.Partition != "" {
		fields = append(fields, zap.String("partition", e.Partition))
	}
	if e.CaseNumber != "" {
		fields = append(fields, zap.String("case_number", e.CaseNumber))
	}
	if e.Outcome != "" {
		fields = append(fields, zap.String("outcome", e.Outcome))
	}
	if e.Dur > 0 {
		fields = append(fields, zap.Duration("duration", e.Dur))
	}
	if e.Note != "" {
		fields = append(fields, zap.String("note", e.Note))
	}
	r.Logger.Info("progress", fields...)
}

// Nop discards all events.
type Nop struct{}

// Report implements Reporter.
func (Nop) Report(Event) {}
