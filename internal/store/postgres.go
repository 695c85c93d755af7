package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aidosk/court-docket-crawler/internal/config"
	"github.com/aidosk/court-docket-crawler/internal/docket"
	"github.com/aidosk/court-docket-crawler/internal/metrics"
)

// pgxPool is the subset of pgxpool.Pool the store uses; pgxmock
// implements it for tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore implements Store on a pgx connection pool.
type PostgresStore struct {
	pool   pgxPool
	logger *zap.Logger
}

// NewPostgres connects a pool and verifies it.
func NewPostgres(ctx context.Context, cfg config.DBConfig, logger *zap.Logger) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresWithPool(pool, logger), nil
}

// NewPostgresWithPool wraps an existing pool (primarily for testing).
func NewPostgresWithPool(pool pgxPool, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{pool: pool, logger: logger}
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// ExistingSequenceNumbers loads all persisted case numbers under the
// partition prefix and extracts their sequential components. Duplicate
// "(N)" variants collapse onto the same sequence number.
func (s *PostgresStore) ExistingSequenceNumbers(ctx context.Context, p docket.Partition, year string) (map[int]struct{}, error) {
	prefix := casePrefix(p, year)
	rows, err := s.pool.Query(ctx,
		`SELECT case_number FROM cases WHERE case_number LIKE $1`,
		prefix+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("query existing case numbers: %w", err)
	}
	defer rows.Close()

	existing := make(map[int]struct{})
	for rows.Next() {
		var caseNumber string
		if err := rows.Scan(&caseNumber); err != nil {
			return nil, fmt.Errorf("scan case number: %w", err)
		}
		cn, ok := docket.ParseCaseNumber(caseNumber)
		if !ok {
			s.logger.Warn("unparseable case number in store", zap.String("case_number", caseNumber))
			continue
		}
		existing[cn.Sequence] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate case numbers: %w", err)
	}
	return existing, nil
}

// LastSequenceNumber returns the highest persisted sequence for the
// partition, 0 when none exist.
func (s *PostgresStore) LastSequenceNumber(ctx context.Context, p docket.Partition, year string) (int, error) {
	existing, err := s.ExistingSequenceNumbers(ctx, p, year)
	if err != nil {
		return 0, err
	}
	last := 0
	for seq := range existing {
		if seq > last {
			last = seq
		}
	}
	return last, nil
}

// SaveRecord upserts the case, its parties, and its events in one
// transaction. The xmax trick distinguishes a fresh insert from an
// update of an existing row.
func (s *PostgresStore) SaveRecord(ctx context.Context, rec docket.Record) (SaveStatus, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var judgeID *int64
	if rec.Judge != "" {
		var id int64
		err := tx.QueryRow(ctx,
			`INSERT INTO judges (full_name) VALUES ($1)
			 ON CONFLICT (full_name) DO UPDATE SET full_name = EXCLUDED.full_name
			 RETURNING id`,
			rec.Judge,
		).Scan(&id)
		if err != nil {
			return "", fmt.Errorf("upsert judge: %w", err)
		}
		judgeID = &id
	}

	var caseID int64
	var inserted bool
	err = tx.QueryRow(ctx,
		`INSERT INTO cases (case_number, case_date, judge_id) VALUES ($1, $2, $3)
		 ON CONFLICT (case_number) DO UPDATE
		 SET case_date = EXCLUDED.case_date,
		     judge_id = COALESCE(EXCLUDED.judge_id, cases.judge_id),
		     updated_at = CURRENT_TIMESTAMP
		 RETURNING id, (xmax = 0) AS inserted`,
		rec.CaseNumber, rec.CaseDate, judgeID,
	).Scan(&caseID, &inserted)
	if err != nil {
		return "", fmt.Errorf("upsert case %s: %w", rec.CaseNumber, err)
	}

	if err := s.saveParties(ctx, tx, caseID, "plaintiff", rec.Plaintiffs); err != nil {
		return "", err
	}
	if err := s.saveParties(ctx, tx, caseID, "defendant", rec.Defendants); err != nil {
		return "", err
	}
	if err := s.saveEvents(ctx, tx, caseID, rec.Events); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit save: %w", err)
	}

	status := StatusUpdated
	if inserted {
		status = StatusSaved
	}
	metrics.ObserveRecordSaved(string(status))
	return status, nil
}

func (s *PostgresStore) saveParties(ctx context.Context, tx pgx.Tx, caseID int64, role string, names []string) error {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		var partyID int64
		err := tx.QueryRow(ctx,
			`INSERT INTO parties (name) VALUES ($1)
			 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			 RETURNING id`,
			name,
		).Scan(&partyID)
		if err != nil {
			return fmt.Errorf("upsert party: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO case_parties (case_id, party_id, party_role) VALUES ($1, $2, $3)
			 ON CONFLICT DO NOTHING`,
			caseID, partyID, role,
		)
		if err != nil {
			return fmt.Errorf("link party to case: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) saveEvents(ctx context.Context, tx pgx.Tx, caseID int64, events []docket.Event) error {
	for _, ev := range events {
		var typeID int64
		err := tx.QueryRow(ctx,
			`INSERT INTO event_types (name) VALUES ($1)
			 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
			 RETURNING id`,
			ev.Type,
		).Scan(&typeID)
		if err != nil {
			return fmt.Errorf("upsert event type: %w", err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO case_events (case_id, event_type_id, event_date) VALUES ($1, $2, $3)
			 ON CONFLICT DO NOTHING`,
			caseID, typeID, ev.Date,
		)
		if err != nil {
			return fmt.Errorf("insert case event: %w", err)
		}
	}
	return nil
}

// CaseNumbersForUpdate selects cases due for a refresh: matching the
// defendant keywords when given, lacking any excluded terminal event,
// and not stamped within the interval. Oldest cases come first.
func (s *PostgresStore) CaseNumbersForUpdate(ctx context.Context, f UpdateFilter) ([]string, error) {
	query := "SELECT DISTINCT c.case_number, c.case_date FROM cases c"
	var conditions []string
	var args []any

	if len(f.DefendantKeywords) > 0 {
		query += `
			JOIN case_parties cp ON c.id = cp.case_id AND cp.party_role = 'defendant'
			JOIN parties p ON cp.party_id = p.id`
		var keywordConds []string
		for _, keyword := range f.DefendantKeywords {
			args = append(args, "%"+keyword+"%")
			keywordConds = append(keywordConds, fmt.Sprintf("p.name ILIKE $%d", len(args)))
		}
		conditions = append(conditions, "("+strings.Join(keywordConds, " OR ")+")")
	}

	if len(f.ExcludeEventTypes) > 0 {
		var placeholders []string
		for _, name := range f.ExcludeEventTypes {
			args = append(args, name)
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		conditions = append(conditions, fmt.Sprintf(`NOT EXISTS (
			SELECT 1 FROM case_events ce
			JOIN event_types et ON ce.event_type_id = et.id
			WHERE ce.case_id = c.id AND et.name IN (%s)
		)`, strings.Join(placeholders, ", ")))
	}

	args = append(args, f.IntervalDays)
	conditions = append(conditions, fmt.Sprintf(
		"(c.last_updated_at IS NULL OR c.last_updated_at < NOW() - make_interval(days => $%d))",
		len(args),
	))

	query += " WHERE " + strings.Join(conditions, " AND ")
	query += " ORDER BY c.case_date ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cases for update: %w", err)
	}
	defer rows.Close()

	var caseNumbers []string
	for rows.Next() {
		var caseNumber string
		var caseDate any
		if err := rows.Scan(&caseNumber, &caseDate); err != nil {
			return nil, fmt.Errorf("scan case for update: %w", err)
		}
		caseNumbers = append(caseNumbers, caseNumber)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases for update: %w", err)
	}
	s.logger.Info("cases selected for update", zap.Int("count", len(caseNumbers)))
	return caseNumbers, nil
}

// MarkCaseUpdated stamps the refresh time for one case.
func (s *PostgresStore) MarkCaseUpdated(ctx context.Context, caseNumber string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE cases SET last_updated_at = CURRENT_TIMESTAMP WHERE case_number = $1`,
		caseNumber,
	)
	if err != nil {
		return fmt.Errorf("mark case updated: %w", err)
	}
	return nil
}

func casePrefix(p docket.Partition, year string) string {
	yy := year
	if len(yy) == 4 {
		yy = yy[2:]
	}
	return fmt.Sprintf("%s-%s-00-%s/", p.CourtCode(), yy, p.CaseTypeCode)
}
