package domain

import (
	"time"
)

// Report is the segmentation table produced by one pipeline run together
// with the run metadata. It is the only contract with export, storage and
// dashboard collaborators.
type Report struct {
	RunID         string         `json:"runId"`
	GeneratedAt   time.Time      `json:"generatedAt"`
	Window        AnalysisWindow `json:"window"`
	ReferenceDate time.Time      `json:"referenceDate"`
	QuantileCount int            `json:"quantileCount"`
	Fingerprint   string         `json:"fingerprint,omitempty"`

	Rows       []ReportRow      `json:"rows,omitempty"`
	Summary    []SegmentSummary `json:"summary"`
	Rejections RejectionSummary `json:"rejections"`
	Anomalies  []InvoiceAnomaly `json:"anomalies,omitempty"`
	Stats      RunStats         `json:"stats"`
}

// ReportRow is one customer line of the segmentation table.
type ReportRow struct {
	CustomerKey string  `json:"customerKey"`
	Recency     int     `json:"recency"`
	Frequency   int     `json:"frequency"`
	Monetary    float64 `json:"monetary"`
	R           int     `json:"r"`
	F           int     `json:"f"`
	M           int     `json:"m"`
	Score       string  `json:"score"`
	Segment     Segment `json:"segment"`
}

// SegmentSummary describes one segment of a run.
type SegmentSummary struct {
	Segment       Segment `json:"segment"`
	Customers     int     `json:"customers"`
	Share         float64 `json:"share"`
	Monetary      float64 `json:"monetary"`
	MonetaryShare float64 `json:"monetaryShare"`
	AvgRecency    float64 `json:"avgRecency"`
	AvgFrequency  float64 `json:"avgFrequency"`
	AvgMonetary   float64 `json:"avgMonetary"`
}

// RunStats counts what flowed through each stage.
type RunStats struct {
	RawRows   int   `json:"rawRows"`
	ValidRows int   `json:"validRows"`
	Invoices  int   `json:"invoices"`
	Customers int   `json:"customers"`
	TotalMs   int64 `json:"totalMs"`
}

// RowFilter narrows ListRows results.
type RowFilter struct {
	Segment Segment
	Limit   int
	Offset  int
}

// Run event topics.
const (
	TopicRunRequested = "rfm.run.requested"
	TopicRunCompleted = "rfm.run.completed"
	TopicRunFailed    = "rfm.run.failed"
)

// RunRequest asks a worker to execute a segmentation run.
type RunRequest struct {
	Inputs []string `json:"inputs"`
	Format string   `json:"format,omitempty"`
	Sheets []string `json:"sheets,omitempty"`
}

// RunEvent is published when a run finishes.
type RunEvent struct {
	RunID     string           `json:"runId,omitempty"`
	Status    string           `json:"status"`
	Error     string           `json:"error,omitempty"`
	Cached    bool             `json:"cached,omitempty"`
	Stats     RunStats         `json:"stats"`
	Summary   []SegmentSummary `json:"summary,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Run statuses carried by RunEvent.
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)
