// Package source reads raw point-of-sale extracts (xlsx workbooks, csv files
// or a SQL table) into a single stream of transaction lines.
package source

import (
	"context"
	"errors"
	"io"
	"iter"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/opensource-finance/rfm/internal/domain"
)

// Source yields raw transaction lines. Lines may be ranged over once; when
// the sequence ends early because of a read failure, Err reports it.
type Source interface {
	Lines(ctx context.Context) iter.Seq[domain.TransactionLine]
	Err() error
	Close() error
}

// Options tunes how sources report progress.
type Options struct {
	// Progress receives a progress bar while lines are read. Nil disables it.
	Progress io.Writer
}

// Open opens every configured input. Paths are read in order and their
// lines concatenated. The caller must Close the returned source.
func Open(cfg domain.SourceConfig, opts Options) (Source, error) {
	format := strings.ToLower(cfg.Format)
	if format == "sql" {
		return OpenSQL(cfg.SQL, cfg.Columns, opts)
	}
	if len(cfg.Paths) == 0 {
		return nil, eris.Wrap(domain.ErrInvalidInput, "no input paths given")
	}

	var sources []Source
	closeAll := func() {
		for _, s := range sources {
			_ = s.Close()
		}
	}

	for _, path := range cfg.Paths {
		f := format
		if f == "" {
			f = FormatOf(path)
		}

		var (
			s   Source
			err error
		)
		switch f {
		case "xlsx":
			s, err = OpenXLSX(path, cfg.Sheets, cfg.Columns, opts)
		case "csv":
			s, err = OpenCSV(path, cfg, opts)
		default:
			err = eris.Wrapf(domain.ErrInvalidInput, "cannot tell the format of %s", path)
		}
		if err != nil {
			closeAll()
			return nil, err
		}
		sources = append(sources, s)
	}

	if len(sources) == 1 {
		return sources[0], nil
	}
	return &multiSource{sources: sources}, nil
}

// FormatOf guesses the input format from a file extension.
func FormatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return "xlsx"
	case ".csv", ".txt", ".tsv":
		return "csv"
	default:
		return ""
	}
}

// multiSource concatenates sources in order.
type multiSource struct {
	sources []Source
	err     error
}

func (m *multiSource) Lines(ctx context.Context) iter.Seq[domain.TransactionLine] {
	return func(yield func(domain.TransactionLine) bool) {
		for _, s := range m.sources {
			for line := range s.Lines(ctx) {
				if !yield(line) {
					return
				}
			}
			if err := s.Err(); err != nil {
				m.err = err
				return
			}
		}
	}
}

func (m *multiSource) Err() error {
	return m.err
}

func (m *multiSource) Close() error {
	var errs []error
	for _, s := range m.sources {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ReadAll drains a source into a slice.
func ReadAll(ctx context.Context, s Source) ([]domain.TransactionLine, error) {
	var out []domain.TransactionLine
	for line := range s.Lines(ctx) {
		out = append(out, line)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return out, ctx.Err()
}
