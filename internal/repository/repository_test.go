package repository

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/rfm/internal/domain"
)

func day(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func sampleReport(id string, generated time.Time) *domain.Report {
	return &domain.Report{
		RunID:         id,
		GeneratedAt:   generated,
		Window:        domain.AnalysisWindow{Start: day("2024-01-01"), End: day("2024-03-31")},
		ReferenceDate: day("2024-03-31"),
		QuantileCount: 5,
		Fingerprint:   "fp-" + id,
		Rows: []domain.ReportRow{
			{CustomerKey: "9000000003", Recency: 80, Frequency: 1, Monetary: 10, R: 1, F: 1, M: 1, Score: "111", Segment: domain.SegmentLost},
			{CustomerKey: "9000000001", Recency: 2, Frequency: 9, Monetary: 950.25, R: 5, F: 5, M: 5, Score: "555", Segment: domain.SegmentChampions},
			{CustomerKey: "9000000002", Recency: 60, Frequency: 2, Monetary: 70, R: 2, F: 2, M: 2, Score: "222", Segment: domain.SegmentLost},
		},
		Summary: []domain.SegmentSummary{
			{Segment: domain.SegmentChampions, Customers: 1, Share: 1.0 / 3, Monetary: 950.25},
			{Segment: domain.SegmentLost, Customers: 2, Share: 2.0 / 3, Monetary: 80},
		},
		Rejections: domain.RejectionSummary{
			Total: 20, Accepted: 18,
			ByReason: map[domain.RejectReason]int{domain.RejectDuplicate: 2},
		},
		Anomalies: []domain.InvoiceAnomaly{
			{CustomerKey: "9000000001", InvoiceNo: "A-1", Dates: []time.Time{day("2024-02-01"), day("2024-02-02")}, Resolved: day("2024-02-01")},
		},
		Stats: domain.RunStats{RawRows: 20, ValidRows: 18, Invoices: 12, Customers: 3, TotalMs: 42},
	}
}

func newSQLite(t *testing.T) *SQLRepository {
	t.Helper()
	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "rfm.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newSQLite(t)
	ctx := context.Background()

	first := sampleReport("run-1", time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC))
	second := sampleReport("run-2", time.Date(2024, 4, 2, 8, 0, 0, 0, time.UTC))
	require.NoError(t, repo.SaveReport(ctx, first))
	require.NoError(t, repo.SaveReport(ctx, second))

	t.Run("Ping", func(t *testing.T) {
		assert.NoError(t, repo.Ping(ctx))
	})

	t.Run("GetRun", func(t *testing.T) {
		got, err := repo.GetRun(ctx, "run-1")
		require.NoError(t, err)

		assert.Equal(t, first.GeneratedAt, got.GeneratedAt)
		assert.Equal(t, first.Window, got.Window)
		assert.Equal(t, first.ReferenceDate, got.ReferenceDate)
		assert.Equal(t, 5, got.QuantileCount)
		assert.Equal(t, "fp-run-1", got.Fingerprint)
		assert.Equal(t, first.Stats, got.Stats)
		assert.Equal(t, first.Summary, got.Summary)
		assert.Equal(t, 2, got.Rejections.ByReason[domain.RejectDuplicate])
		require.Len(t, got.Anomalies, 1)
		assert.Equal(t, "A-1", got.Anomalies[0].InvoiceNo)
		assert.Empty(t, got.Rows)
	})

	t.Run("GetRunNotFound", func(t *testing.T) {
		_, err := repo.GetRun(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("ListRunsNewestFirst", func(t *testing.T) {
		runs, err := repo.ListRuns(ctx, 10)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "run-2", runs[0].RunID)
		assert.Equal(t, "run-1", runs[1].RunID)

		runs, err = repo.ListRuns(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, runs, 1)
	})

	t.Run("ListRowsOrderedByKey", func(t *testing.T) {
		rows, err := repo.ListRows(ctx, "run-1", domain.RowFilter{})
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "9000000001", rows[0].CustomerKey)
		assert.Equal(t, "9000000003", rows[2].CustomerKey)
		assert.Equal(t, first.Rows[1], rows[0])
	})

	t.Run("ListRowsBySegment", func(t *testing.T) {
		rows, err := repo.ListRows(ctx, "run-1", domain.RowFilter{Segment: domain.SegmentLost})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		for _, row := range rows {
			assert.Equal(t, domain.SegmentLost, row.Segment)
		}
	})

	t.Run("ListRowsPaged", func(t *testing.T) {
		rows, err := repo.ListRows(ctx, "run-1", domain.RowFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "9000000002", rows[0].CustomerKey)

		rows, err = repo.ListRows(ctx, "run-1", domain.RowFilter{Offset: 2})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "9000000003", rows[0].CustomerKey)
	})

	t.Run("ListRowsEmptySegment", func(t *testing.T) {
		rows, err := repo.ListRows(ctx, "run-1", domain.RowFilter{Segment: domain.SegmentAtRisk})
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("ListRowsErrors", func(t *testing.T) {
		_, err := repo.ListRows(ctx, "missing", domain.RowFilter{})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = repo.ListRows(ctx, "run-1", domain.RowFilter{Limit: -1})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		_, err = repo.ListRows(ctx, "run-1", domain.RowFilter{Segment: "VIP"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("DuplicateRunIsAtomic", func(t *testing.T) {
		dup := sampleReport("run-3", time.Date(2024, 4, 3, 8, 0, 0, 0, time.UTC))
		dup.Rows = append(dup.Rows, dup.Rows[0])

		require.Error(t, repo.SaveReport(ctx, dup))

		_, err := repo.GetRun(ctx, "run-3")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("MissingRunID", func(t *testing.T) {
		err := repo.SaveReport(ctx, &domain.Report{})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestNewUnsupportedDriver(t *testing.T) {
	_, err := New(domain.RepositoryConfig{Driver: "oracle"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestRebind(t *testing.T) {
	pg := NewWithDB(nil, "postgres")
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	lite := NewWithDB(nil, "sqlite")
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}

func TestPostgresSaveReport(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewWithDB(db, "postgres")
	report := sampleReport("run-pg", time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO runs")).
		WithArgs("run-pg", "2024-04-01T08:00:00.000000Z", "2024-01-01", "2024-03-31", "2024-03-31",
			5, "fp-run-pg", 20, 18, 12, 3, 42,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare(regexp.QuoteMeta("VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)"))
	for _, row := range report.Rows {
		prep.ExpectExec().
			WithArgs("run-pg", row.CustomerKey, row.Recency, row.Frequency, row.Monetary,
				row.R, row.F, row.M, row.Score, string(row.Segment)).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	require.NoError(t, repo.SaveReport(context.Background(), report))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSaveReportRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewWithDB(db, "postgres")
	report := sampleReport("run-pg", time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare("INSERT INTO report_rows")
	prep.ExpectExec().WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err = repo.SaveReport(context.Background(), report)
	require.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetRunNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewWithDB(db, "postgres")
	mock.ExpectQuery(regexp.QuoteMeta("FROM runs WHERE id = $1")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = repo.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
