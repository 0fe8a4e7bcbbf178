// Package export writes segmentation reports for downstream tools.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/opensource-finance/rfm/internal/domain"
)

// Exporter writes a report in one format.
type Exporter interface {
	// Format names the output format.
	Format() string

	// Export writes the report and returns the file written, or "" when the
	// exporter writes to a stream.
	Export(report *domain.Report) (string, error)
}

// New creates the exporter for format. File exporters write into dir;
// the console exporter writes to w.
func New(format, dir string, w io.Writer) (Exporter, error) {
	switch strings.ToLower(format) {
	case "xlsx":
		return &XLSXExporter{Dir: dir}, nil
	case "csv":
		return &CSVExporter{Dir: dir}, nil
	case "json":
		return &JSONExporter{Dir: dir}, nil
	case "console":
		return NewConsole(w), nil
	default:
		return nil, domain.ConfigError("unknown output format %q", format)
	}
}

// All writes every configured file format and then renders the console
// formats to w. A failure leaves no report file behind.
func All(report *domain.Report, cfg domain.OutputConfig, w io.Writer) ([]string, error) {
	files, err := Files(report, cfg)
	if err != nil {
		return nil, err
	}
	if err := Print(report, cfg, w); err != nil {
		Remove(files)
		return nil, err
	}
	return files, nil
}

// Files writes the file formats of cfg. Every format is written into a
// staging folder under cfg.Dir first and the files are renamed into
// place only once all of them succeeded, so either every file is written
// or none is.
func Files(report *domain.Report, cfg domain.OutputConfig) ([]string, error) {
	var formats []string
	for _, format := range cfg.Formats {
		if _, err := New(format, cfg.Dir, nil); err != nil {
			return nil, err
		}
		if !isStream(format) {
			formats = append(formats, format)
		}
	}
	if len(formats) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "create folder %s", cfg.Dir)
	}
	staging, err := os.MkdirTemp(cfg.Dir, ".staging-*")
	if err != nil {
		return nil, eris.Wrap(err, "create staging folder")
	}
	defer func() {
		if rerr := os.RemoveAll(staging); rerr != nil {
			zap.L().Warn("failed to remove staging folder", zap.String("path", staging), zap.Error(rerr))
		}
	}()

	staged := make([]string, 0, len(formats))
	for _, format := range formats {
		exp, err := New(format, staging, nil)
		if err != nil {
			return nil, err
		}
		path, err := exp.Export(report)
		if err != nil {
			return nil, eris.Wrapf(err, "export %s", format)
		}
		staged = append(staged, path)
	}

	written := make([]string, 0, len(staged))
	for i, path := range staged {
		target := filepath.Join(cfg.Dir, filepath.Base(path))
		if err := os.Rename(path, target); err != nil {
			Remove(written)
			return nil, eris.Wrapf(err, "rename into %s", target)
		}
		zap.L().Info("report exported",
			zap.String("format", strings.ToLower(formats[i])),
			zap.String("path", target),
		)
		written = append(written, target)
	}
	return written, nil
}

// Print renders the stream formats of cfg to w.
func Print(report *domain.Report, cfg domain.OutputConfig, w io.Writer) error {
	for _, format := range cfg.Formats {
		if !isStream(format) {
			continue
		}
		exp, err := New(format, cfg.Dir, w)
		if err != nil {
			return err
		}
		if _, err := exp.Export(report); err != nil {
			return eris.Wrapf(err, "export %s", format)
		}
	}
	return nil
}

// Remove deletes report files written by Files.
func Remove(files []string) {
	for _, path := range files {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			zap.L().Warn("failed to remove report file", zap.String("path", path), zap.Error(err))
		}
	}
}

func isStream(format string) bool {
	return strings.EqualFold(format, "console")
}

// Filename builds the output path for a report, stamped with its
// generation time, e.g. reports/rfm_segments_20240131_093000.xlsx.
func Filename(dir string, report *domain.Report, ext string) string {
	stamp := report.GeneratedAt.Format("20060102_150405")
	return filepath.Join(dir, fmt.Sprintf("rfm_segments_%s.%s", stamp, ext))
}

// writeAtomic writes through a temp file in the target directory and
// renames it into place, so readers never see a partial report.
func writeAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "create folder %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return eris.Wrap(err, "create temp file")
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err := write(tmp); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return eris.Wrap(err, "sync temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrapf(err, "rename into %s", path)
	}
	return nil
}
