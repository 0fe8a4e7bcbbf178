// Package job runs one segmentation end to end: load the extracts, run
// the pipeline, then persist, export and announce the report.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/opensource-finance/rfm/internal/cache"
	"github.com/opensource-finance/rfm/internal/domain"
	"github.com/opensource-finance/rfm/internal/export"
	"github.com/opensource-finance/rfm/internal/pipeline"
	"github.com/opensource-finance/rfm/internal/source"
)

var tracer = otel.Tracer("rfm-job")

// Deps are the optional collaborators of a job. Nil members are skipped.
type Deps struct {
	Repository domain.Repository
	Cache      domain.Cache
	Bus        domain.EventBus

	// Console receives the console export; nil means stdout.
	Console io.Writer
	// Progress receives source load progress; nil disables it.
	Progress io.Writer
}

// Job executes runs against one configuration.
type Job struct {
	cfg      *domain.Config
	pipeline *pipeline.Pipeline
	reports  *cache.Reports
	deps     Deps
}

// Result is the outcome of one run.
type Result struct {
	Report *domain.Report
	Cached bool
	Files  []string
}

// New validates cfg and compiles its rules.
func New(cfg *domain.Config, deps Deps) (*Job, error) {
	p, err := pipeline.New(cfg)
	if err != nil {
		return nil, err
	}
	return &Job{
		cfg:      cfg,
		pipeline: p,
		reports:  cache.NewReports(deps.Cache, cfg.Cache.TTL),
		deps:     deps,
	}, nil
}

// Pipeline returns the compiled pipeline.
func (j *Job) Pipeline() *pipeline.Pipeline {
	return j.pipeline
}

// SourceConfig applies the overrides of req to the configured source.
func (j *Job) SourceConfig(req domain.RunRequest) domain.SourceConfig {
	src := j.cfg.Source
	if len(req.Inputs) > 0 {
		src.Paths = req.Inputs
	}
	if req.Format != "" {
		src.Format = req.Format
	}
	if len(req.Sheets) > 0 {
		src.Sheets = req.Sheets
	}
	return src
}

// Execute runs req. On any error nothing is persisted or announced as
// completed; a failure event is published instead.
func (j *Job) Execute(ctx context.Context, req domain.RunRequest) (*Result, error) {
	ctx, span := tracer.Start(ctx, "job.execute")
	defer span.End()

	result, err := j.execute(ctx, req)
	if err != nil {
		span.RecordError(err)
		if !errors.Is(err, context.Canceled) {
			j.publish(context.WithoutCancel(ctx), domain.TopicRunFailed, domain.RunEvent{
				Status:    domain.RunStatusFailed,
				Error:     err.Error(),
				Timestamp: time.Now().UTC(),
			})
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.String("run.id", result.Report.RunID),
		attribute.Bool("run.cached", result.Cached),
	)
	j.publish(ctx, domain.TopicRunCompleted, domain.RunEvent{
		RunID:     result.Report.RunID,
		Status:    domain.RunStatusCompleted,
		Cached:    result.Cached,
		Stats:     result.Report.Stats,
		Summary:   result.Report.Summary,
		Timestamp: time.Now().UTC(),
	})
	return result, nil
}

func (j *Job) execute(ctx context.Context, req domain.RunRequest) (*Result, error) {
	srcCfg := j.SourceConfig(req)

	fingerprint, err := Fingerprint(j.cfg, j.pipeline.Engine().Rules(), srcCfg)
	if err != nil {
		return nil, err
	}

	cached, err := j.reports.Get(ctx, fingerprint)
	if err != nil {
		zap.L().Warn("report cache unavailable", zap.Error(err))
	}
	if cached != nil {
		zap.L().Info("serving cached report",
			zap.String("run_id", cached.RunID),
			zap.String("fingerprint", fingerprint),
		)
		files, err := export.All(cached, j.cfg.Output, j.deps.Console)
		if err != nil {
			return nil, err
		}
		return &Result{Report: cached, Cached: true, Files: files}, nil
	}

	report, err := j.run(ctx, srcCfg)
	if err != nil {
		return nil, err
	}
	report.Fingerprint = fingerprint

	// The run is stored and cached only once its files are in place.
	files, err := export.Files(report, j.cfg.Output)
	if err != nil {
		return nil, err
	}
	if j.cfg.Output.Persist && j.deps.Repository != nil {
		if err := j.deps.Repository.SaveReport(ctx, report); err != nil {
			export.Remove(files)
			return nil, eris.Wrap(err, "failed to persist report")
		}
	}
	if err := j.reports.Put(ctx, report); err != nil {
		zap.L().Warn("failed to cache report", zap.String("run_id", report.RunID), zap.Error(err))
	}

	if err := export.Print(report, j.cfg.Output, j.deps.Console); err != nil {
		return nil, err
	}
	return &Result{Report: report, Files: files}, nil
}

// run loads the source and runs the pipeline. A source failure aborts the
// run even when some lines were read.
func (j *Job) run(ctx context.Context, srcCfg domain.SourceConfig) (report *domain.Report, err error) {
	src, err := source.Open(srcCfg, source.Options{Progress: j.deps.Progress})
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil && err == nil {
			err = eris.Wrap(cerr, "failed to close source")
		}
	}()

	report, err = j.pipeline.Run(ctx, src.Lines(ctx))
	if serr := src.Err(); serr != nil {
		return nil, eris.Wrap(serr, "failed to read source")
	}
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (j *Job) publish(ctx context.Context, topic string, event domain.RunEvent) {
	if j.deps.Bus == nil || !j.cfg.Output.Publish {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		zap.L().Error("failed to encode run event", zap.Error(err))
		return
	}
	if err := j.deps.Bus.Publish(ctx, topic, payload); err != nil {
		zap.L().Warn("failed to publish run event",
			zap.String("topic", topic),
			zap.String("run_id", event.RunID),
			zap.Error(err),
		)
	}
}
