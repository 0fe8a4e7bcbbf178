// Package repository persists segmentation reports.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/opensource-finance/rfm/internal/domain"
)

// timeLayout is fixed width so generated_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New opens the configured database and applies the schema.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, domain.ConfigError("unsupported repository driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, eris.Wrap(err, "failed to open database")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := NewWithDB(db, cfg.Driver)
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "failed to run migrations")
	}

	zap.L().Info("repository ready", zap.String("driver", cfg.Driver))
	return repo, nil
}

// NewWithDB wraps an open database without touching its schema.
func NewWithDB(db *sql.DB, driver string) *SQLRepository {
	return &SQLRepository{db: db, driver: driver}
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveReport stores the run and every row in one transaction; on failure
// nothing is stored.
func (r *SQLRepository) SaveReport(ctx context.Context, report *domain.Report) (err error) {
	if report == nil || report.RunID == "" {
		return eris.Wrap(domain.ErrInvalidInput, "report needs a run id")
	}

	summary, err := json.Marshal(report.Summary)
	if err != nil {
		return eris.Wrap(err, "encode summary")
	}
	rejections, err := json.Marshal(report.Rejections)
	if err != nil {
		return eris.Wrap(err, "encode rejections")
	}
	anomalies, err := json.Marshal(report.Anomalies)
	if err != nil {
		return eris.Wrap(err, "encode anomalies")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `
		INSERT INTO runs (
			id, generated_at, window_start, window_end, reference_date,
			quantile_count, fingerprint, raw_rows, valid_rows, invoices,
			customers, total_ms, summary, rejections, anomalies
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, r.rebind(query),
		report.RunID,
		report.GeneratedAt.UTC().Format(timeLayout),
		report.Window.Start.Format(domain.DateLayout),
		report.Window.End.Format(domain.DateLayout),
		report.ReferenceDate.Format(domain.DateLayout),
		report.QuantileCount,
		report.Fingerprint,
		report.Stats.RawRows, report.Stats.ValidRows,
		report.Stats.Invoices, report.Stats.Customers,
		report.Stats.TotalMs,
		string(summary), string(rejections), string(anomalies),
	)
	if err != nil {
		return eris.Wrapf(err, "insert run %s", report.RunID)
	}

	stmt, err := tx.PrepareContext(ctx, r.rebind(`
		INSERT INTO report_rows (
			run_id, customer_key, recency, frequency, monetary,
			r, f, m, rfm_score, segment
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return eris.Wrap(err, "prepare row insert")
	}
	defer stmt.Close()

	for _, row := range report.Rows {
		if _, err = stmt.ExecContext(ctx,
			report.RunID, row.CustomerKey,
			row.Recency, row.Frequency, row.Monetary,
			row.R, row.F, row.M, row.Score, string(row.Segment),
		); err != nil {
			return eris.Wrapf(err, "insert row %s", row.CustomerKey)
		}
	}

	if err = tx.Commit(); err != nil {
		return eris.Wrap(err, "commit report")
	}
	return nil
}

const runColumns = `
	id, generated_at, window_start, window_end, reference_date,
	quantile_count, fingerprint, raw_rows, valid_rows, invoices,
	customers, total_ms, summary, rejections, anomalies
`

// GetRun returns run metadata and summary without rows.
func (r *SQLRepository) GetRun(ctx context.Context, runID string) (*domain.Report, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	report, err := scanRun(r.db.QueryRowContext(ctx, r.rebind(query), runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(domain.ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "get run %s", runID)
	}
	return report, nil
}

// ListRuns returns the most recent runs first.
func (r *SQLRepository) ListRuns(ctx context.Context, limit int) ([]*domain.Report, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY generated_at DESC, id LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, eris.Wrap(err, "list runs")
	}
	defer rows.Close()

	var reports []*domain.Report
	for rows.Next() {
		report, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan run")
		}
		reports = append(reports, report)
	}
	return reports, eris.Wrap(rows.Err(), "list runs")
}

// ListRows returns the customer rows of a run ordered by customer key,
// optionally restricted to one segment.
func (r *SQLRepository) ListRows(ctx context.Context, runID string, filter domain.RowFilter) ([]domain.ReportRow, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, eris.Wrap(domain.ErrInvalidInput, "limit and offset must not be negative")
	}
	if filter.Segment != "" && !filter.Segment.Valid() {
		return nil, eris.Wrapf(domain.ErrInvalidInput, "unknown segment %q", filter.Segment)
	}

	var b strings.Builder
	b.WriteString(`
		SELECT customer_key, recency, frequency, monetary, r, f, m, rfm_score, segment
		FROM report_rows
		WHERE run_id = ?`)
	args := []any{runID}
	if filter.Segment != "" {
		b.WriteString(` AND segment = ?`)
		args = append(args, string(filter.Segment))
	}
	b.WriteString(` ORDER BY customer_key LIMIT ? OFFSET ?`)
	limit := filter.Limit
	if limit == 0 {
		limit = math.MaxInt32
	}
	args = append(args, limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, r.rebind(b.String()), args...)
	if err != nil {
		return nil, eris.Wrapf(err, "list rows of run %s", runID)
	}
	defer rows.Close()

	var out []domain.ReportRow
	for rows.Next() {
		var row domain.ReportRow
		var segment string
		if err := rows.Scan(
			&row.CustomerKey, &row.Recency, &row.Frequency, &row.Monetary,
			&row.R, &row.F, &row.M, &row.Score, &segment,
		); err != nil {
			return nil, eris.Wrap(err, "scan row")
		}
		row.Segment = domain.Segment(segment)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "list rows of run %s", runID)
	}

	if len(out) == 0 {
		if _, err := r.GetRun(ctx, runID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*domain.Report, error) {
	var (
		report                           domain.Report
		generated, start, end, reference string
		summary, rejections, anomalies   string
	)
	err := s.Scan(
		&report.RunID, &generated, &start, &end, &reference,
		&report.QuantileCount, &report.Fingerprint,
		&report.Stats.RawRows, &report.Stats.ValidRows,
		&report.Stats.Invoices, &report.Stats.Customers,
		&report.Stats.TotalMs,
		&summary, &rejections, &anomalies,
	)
	if err != nil {
		return nil, err
	}

	if report.GeneratedAt, err = time.Parse(timeLayout, generated); err != nil {
		return nil, eris.Wrapf(err, "run %s: generated_at", report.RunID)
	}
	if report.Window.Start, err = time.Parse(domain.DateLayout, start); err != nil {
		return nil, eris.Wrapf(err, "run %s: window_start", report.RunID)
	}
	if report.Window.End, err = time.Parse(domain.DateLayout, end); err != nil {
		return nil, eris.Wrapf(err, "run %s: window_end", report.RunID)
	}
	if report.ReferenceDate, err = time.Parse(domain.DateLayout, reference); err != nil {
		return nil, eris.Wrapf(err, "run %s: reference_date", report.RunID)
	}
	if err := json.Unmarshal([]byte(summary), &report.Summary); err != nil {
		return nil, eris.Wrapf(err, "run %s: summary", report.RunID)
	}
	if err := json.Unmarshal([]byte(rejections), &report.Rejections); err != nil {
		return nil, eris.Wrapf(err, "run %s: rejections", report.RunID)
	}
	if err := json.Unmarshal([]byte(anomalies), &report.Anomalies); err != nil {
		return nil, eris.Wrapf(err, "run %s: anomalies", report.RunID)
	}
	return &report, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
