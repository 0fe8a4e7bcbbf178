package repository

// Schema for persisted reports. Compatible with both SQLite and PostgreSQL.

const schemaRuns = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    generated_at TEXT NOT NULL,
    window_start TEXT NOT NULL,
    window_end TEXT NOT NULL,
    reference_date TEXT NOT NULL,
    quantile_count INTEGER NOT NULL,
    fingerprint TEXT NOT NULL DEFAULT '',
    raw_rows INTEGER NOT NULL,
    valid_rows INTEGER NOT NULL,
    invoices INTEGER NOT NULL,
    customers INTEGER NOT NULL,
    total_ms INTEGER NOT NULL,
    summary TEXT NOT NULL,
    rejections TEXT NOT NULL,
    anomalies TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_generated ON runs(generated_at);
CREATE INDEX IF NOT EXISTS idx_runs_fingerprint ON runs(fingerprint);
`

const schemaReportRows = `
CREATE TABLE IF NOT EXISTS report_rows (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    customer_key TEXT NOT NULL,
    recency INTEGER NOT NULL,
    frequency INTEGER NOT NULL,
    monetary REAL NOT NULL,
    r INTEGER NOT NULL,
    f INTEGER NOT NULL,
    m INTEGER NOT NULL,
    rfm_score TEXT NOT NULL,
    segment TEXT NOT NULL,
    PRIMARY KEY (run_id, customer_key)
);

CREATE INDEX IF NOT EXISTS idx_report_rows_segment ON report_rows(run_id, segment);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRuns,
		schemaReportRows,
	}
}
