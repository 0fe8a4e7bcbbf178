package source

import (
	"context"
	"encoding/csv"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/opensource-finance/rfm/internal/domain"
)

// CSVSource streams one delimited text extract. The first record is the
// header row.
type CSVSource struct {
	path      string
	file      *os.File
	delimiter rune
	encoding  encoding.Encoding
	columns   domain.ColumnMapping
	opts      Options
	err       error
}

// OpenCSV opens a csv file using the delimiter, encoding and columns of
// cfg. An empty delimiter means a comma, except for .tsv files which
// default to a tab.
func OpenCSV(path string, cfg domain.SourceConfig, opts Options) (*CSVSource, error) {
	delimiter := cfg.Delimiter
	comma := ','
	switch {
	case delimiter == `\t`:
		comma = '\t'
	case delimiter != "":
		r, size := utf8.DecodeRuneInString(delimiter)
		if size != len(delimiter) {
			return nil, domain.ConfigError("source.delimiter %q must be a single character", delimiter)
		}
		comma = r
	case strings.EqualFold(filepath.Ext(path), ".tsv"):
		comma = '\t'
	}

	var enc encoding.Encoding
	if cfg.Encoding != "" {
		var err error
		if enc, err = htmlindex.Get(cfg.Encoding); err != nil {
			return nil, domain.ConfigError("source.encoding: unsupported charset %q", cfg.Encoding)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: open %s", path)
	}
	return &CSVSource{
		path:      path,
		file:      f,
		delimiter: comma,
		encoding:  enc,
		columns:   cfg.Columns,
		opts:      opts,
	}, nil
}

func (s *CSVSource) Lines(ctx context.Context) iter.Seq[domain.TransactionLine] {
	return func(yield func(domain.TransactionLine) bool) {
		var size int64 = -1
		if info, err := s.file.Stat(); err == nil {
			size = info.Size()
		}
		bar := newProgress(s.opts.Progress, size, "reading "+filepath.Base(s.path))
		defer bar.finish()

		var r io.Reader = &countingReader{r: s.file, bar: bar}
		if s.encoding != nil {
			r = s.encoding.NewDecoder().Reader(r)
		}
		reader := csv.NewReader(r)
		reader.Comma = s.delimiter
		reader.FieldsPerRecord = -1
		reader.LazyQuotes = true
		reader.ReuseRecord = true

		header, err := reader.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			s.err = eris.Wrapf(err, "csv: read header of %s", s.path)
			return
		}
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
		idx, err := newColumnIndex(header, s.columns)
		if err != nil {
			s.err = eris.Wrapf(err, "csv: %s", s.path)
			return
		}

		tag := filepath.Base(s.path)
		for {
			if err := ctx.Err(); err != nil {
				s.err = eris.Wrap(err, "csv: read cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				s.err = eris.Wrapf(err, "csv: read %s", s.path)
				return
			}
			if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
				continue
			}
			if !yield(idx.line(record, tag)) {
				return
			}
		}
	}
}

func (s *CSVSource) Err() error {
	return s.err
}

func (s *CSVSource) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return eris.Wrapf(err, "csv: close %s", s.path)
}

// countingReader advances the progress bar by bytes read.
type countingReader struct {
	r   io.Reader
	bar *progress
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.bar.add(n)
	return n, err
}
