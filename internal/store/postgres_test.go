package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aidosk/court-docket-crawler/internal/docket"
)

var testPartition = docket.Partition{
	Key:          "astana",
	RegionID:     "11",
	CourtID:      "1194",
	KATOCode:     "719",
	InstanceCode: "4",
	CaseTypeCode: "4",
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *PostgresStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewPostgresWithPool(mock, zap.NewNop())
}

func TestExistingSequenceNumbers(t *testing.T) {
	t.Parallel()
	mock, store := newMockStore(t)

	mock.ExpectQuery("SELECT case_number FROM cases").
		WithArgs("7194-25-00-4/%").
		WillReturnRows(pgxmock.NewRows([]string{"case_number"}).
			AddRow("7194-25-00-4/1").
			AddRow("7194-25-00-4/2").
			AddRow("7194-25-00-4/5(2)").
			AddRow("not-a-case-number"))

	existing, err := store.ExistingSequenceNumbers(context.Background(), testPartition, "2025")
	require.NoError(t, err)
	require.Equal(t, map[int]struct{}{1: {}, 2: {}, 5: {}}, existing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLastSequenceNumber(t *testing.T) {
	t.Parallel()
	mock, store := newMockStore(t)

	mock.ExpectQuery("SELECT case_number FROM cases").
		WithArgs("7194-25-00-4/%").
		WillReturnRows(pgxmock.NewRows([]string{"case_number"}).
			AddRow("7194-25-00-4/3").
			AddRow("7194-25-00-4/17"))

	last, err := store.LastSequenceNumber(context.Background(), testPartition, "2025")
	require.NoError(t, err)
	require.Equal(t, 17, last)

	mock.ExpectQuery("SELECT case_number FROM cases").
		WithArgs("7194-25-00-4/%").
		WillReturnRows(pgxmock.NewRows([]string{"case_number"}))

	last, err = store.LastSequenceNumber(context.Background(), testPartition, "2025")
	require.NoError(t, err)
	require.Zero(t, last, "empty partition starts at zero")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRecordInsertsNewCase(t *testing.T) {
	t.Parallel()
	mock, store := newMockStore(t)

	caseDate := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	rec := docket.Record{
		CaseNumber: "7194-25-00-4/215",
		CaseDate:   &caseDate,
		Judge:      "Петров П.П.",
		Plaintiffs: []string{"Иванов И.И."},
		Defendants: []string{"ГУ Налоговое управление"},
		Events: []docket.Event{
			{Type: "Дело принято к производству", Date: caseDate},
		},
	}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO judges").
		WithArgs(rec.Judge).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectQuery("INSERT INTO cases").
		WithArgs(rec.CaseNumber, rec.CaseDate, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted"}).AddRow(int64(42), true))
	mock.ExpectQuery("INSERT INTO parties").
		WithArgs("Иванов И.И.").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec("INSERT INTO case_parties").
		WithArgs(int64(42), int64(1), "plaintiff").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("INSERT INTO parties").
		WithArgs("ГУ Налоговое управление").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(2)))
	mock.ExpectExec("INSERT INTO case_parties").
		WithArgs(int64(42), int64(2), "defendant").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("INSERT INTO event_types").
		WithArgs("Дело принято к производству").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectExec("INSERT INTO case_events").
		WithArgs(int64(42), int64(3), caseDate).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	status, err := store.SaveRecord(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, StatusSaved, status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRecordUpdatesExistingCase(t *testing.T) {
	t.Parallel()
	mock, store := newMockStore(t)

	rec := docket.Record{CaseNumber: "7194-25-00-4/215"}

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO cases").
		WithArgs(rec.CaseNumber, rec.CaseDate, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted"}).AddRow(int64(42), false))
	mock.ExpectCommit()

	status, err := store.SaveRecord(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, StatusUpdated, status, "conflicting upsert reports updated")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCaseNumbersForUpdate(t *testing.T) {
	t.Parallel()
	mock, store := newMockStore(t)

	mock.ExpectQuery("SELECT DISTINCT c.case_number").
		WithArgs("%доход%", "Завершение дела", 2).
		WillReturnRows(pgxmock.NewRows([]string{"case_number", "case_date"}).
			AddRow("7194-25-00-4/5", time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)).
			AddRow("7194-25-00-4/9", time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)))

	numbers, err := store.CaseNumbersForUpdate(context.Background(), UpdateFilter{
		IntervalDays:      2,
		DefendantKeywords: []string{"доход"},
		ExcludeEventTypes: []string{"Завершение дела"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"7194-25-00-4/5", "7194-25-00-4/9"}, numbers)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCaseUpdated(t *testing.T) {
	t.Parallel()
	mock, store := newMockStore(t)

	mock.ExpectExec("UPDATE cases SET last_updated_at").
		WithArgs("7194-25-00-4/5").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.MarkCaseUpdated(context.Background(), "7194-25-00-4/5"))
	require.NoError(t, mock.ExpectationsWereMet())
}
