// Package pipeline runs the RFM stages over one batch of transaction lines:
// validate, aggregate, compute metrics, score and classify.
package pipeline

import (
	"cmp"
	"context"
	"iter"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/opensource-finance/rfm/internal/aggregate"
	"github.com/opensource-finance/rfm/internal/domain"
	"github.com/opensource-finance/rfm/internal/metrics"
	"github.com/opensource-finance/rfm/internal/rules"
	"github.com/opensource-finance/rfm/internal/scoring"
	"github.com/opensource-finance/rfm/internal/summary"
	"github.com/opensource-finance/rfm/internal/validate"
)

var tracer = otel.Tracer("rfm-pipeline")

// Pipeline holds everything a run needs that can be checked before any row
// is read. A Pipeline may run any number of batches.
type Pipeline struct {
	cfg    *domain.Config
	window domain.AnalysisWindow
	engine *rules.Engine
}

// New validates cfg and compiles its segment rules. Every configuration
// error surfaces here, before any input is touched.
func New(cfg *domain.Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	window, err := cfg.Window()
	if err != nil {
		return nil, err
	}

	set, err := rules.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	engine, err := rules.NewEngine(set, cfg.QuantileCount)
	if err != nil {
		return nil, err
	}

	return &Pipeline{cfg: cfg, window: window, engine: engine}, nil
}

// Engine returns the compiled rule engine.
func (p *Pipeline) Engine() *rules.Engine {
	return p.engine
}

// Window returns the parsed analysis window.
func (p *Pipeline) Window() domain.AnalysisWindow {
	return p.window
}

// Run consumes rows and produces the segmentation report. Nothing is
// returned when the context is cancelled or no customer survives.
func (p *Pipeline) Run(ctx context.Context, rows iter.Seq[domain.TransactionLine]) (*domain.Report, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "pipeline.run")
	defer span.End()

	validator, err := validate.New(p.cfg.Validation, p.window)
	if err != nil {
		return nil, err
	}

	// validation is lazy and runs inside the aggregation producer
	_, aggSpan := tracer.Start(ctx, "pipeline.aggregate")
	agg, err := aggregate.Invoices(ctx, validator.Validate(rows), aggregate.Options{Partitions: p.cfg.Partitions})
	rejections := validator.Summary()
	aggSpan.SetAttributes(
		attribute.Int("rows.raw", rejections.Total),
		attribute.Int("rows.valid", rejections.Accepted),
		attribute.Int("invoices", len(agg.Invoices)),
	)
	aggSpan.End()
	if err != nil {
		return nil, err
	}

	zap.L().Info("rows validated",
		zap.Int("total", rejections.Total),
		zap.Int("accepted", rejections.Accepted),
		zap.Int("rejected", rejections.Rejected()),
	)

	if len(agg.Invoices) == 0 {
		return nil, domain.ErrEmptyPopulation
	}

	reference, err := p.ReferenceDate(agg.Invoices)
	if err != nil {
		return nil, err
	}

	_, metricSpan := tracer.Start(ctx, "pipeline.metrics")
	customers := metrics.Compute(agg.Invoices, reference)
	metricSpan.SetAttributes(attribute.Int("customers", len(customers)))
	metricSpan.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, scoreSpan := tracer.Start(ctx, "pipeline.score")
	scores, err := scoring.Score(customers, p.cfg.QuantileCount)
	scoreSpan.End()
	if err != nil {
		return nil, err
	}

	_, classifySpan := tracer.Start(ctx, "pipeline.classify", trace.WithAttributes(attribute.Int("rules", len(p.engine.Rules()))))
	table := p.classify(customers, scores)
	classifySpan.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &domain.Report{
		RunID:         uuid.New().String(),
		GeneratedAt:   time.Now().UTC(),
		Window:        p.window,
		ReferenceDate: reference,
		QuantileCount: p.cfg.QuantileCount,
		Rows:          table,
		Summary:       summary.Build(table),
		Rejections:    rejections,
		Anomalies:     agg.Anomalies,
		Stats: domain.RunStats{
			RawRows:   rejections.Total,
			ValidRows: rejections.Accepted,
			Invoices:  len(agg.Invoices),
			Customers: len(table),
			TotalMs:   time.Since(start).Milliseconds(),
		},
	}

	span.SetAttributes(
		attribute.String("run.id", report.RunID),
		attribute.Int("customers", report.Stats.Customers),
	)
	zap.L().Info("segmentation complete",
		zap.String("run_id", report.RunID),
		zap.Int("customers", report.Stats.Customers),
		zap.Int("segments", len(report.Summary)),
		zap.Int64("duration_ms", report.Stats.TotalMs),
	)
	return report, nil
}

// ReferenceDate resolves the recency reference for a batch: the configured
// date, the latest invoice date, or the window end by default.
func (p *Pipeline) ReferenceDate(invoices []domain.Invoice) (time.Time, error) {
	switch p.cfg.ReferenceDate {
	case "":
		return p.window.End, nil
	case domain.ReferenceLastInvoice:
		return metrics.LastInvoiceDate(invoices), nil
	default:
		t, err := time.Parse(domain.DateLayout, p.cfg.ReferenceDate)
		if err != nil {
			return time.Time{}, domain.ConfigError("reference_date %q: %v", p.cfg.ReferenceDate, err)
		}
		return t, nil
	}
}

func (p *Pipeline) classify(customers []domain.CustomerMetrics, scores []domain.CustomerScore) []domain.ReportRow {
	out := make([]domain.ReportRow, len(customers))
	for i, c := range customers {
		s := scores[i]
		out[i] = domain.ReportRow{
			CustomerKey: c.CustomerKey,
			Recency:     c.Recency,
			Frequency:   c.Frequency,
			Monetary:    c.Monetary,
			R:           s.R,
			F:           s.F,
			M:           s.M,
			Score:       s.Code(),
			Segment:     p.engine.Classify(s.R, s.F, s.M),
		}
	}
	slices.SortFunc(out, func(a, b domain.ReportRow) int {
		return cmp.Compare(a.CustomerKey, b.CustomerKey)
	})
	return out
}
