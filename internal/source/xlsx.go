package source

import (
	"context"
	"iter"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/opensource-finance/rfm/internal/domain"
)

// maxExcelSerial bounds what is read as a serial date; larger numbers are
// more likely compact yyyymmdd text.
const maxExcelSerial = 100000

// XLSXSource reads every selected sheet of a workbook, one monthly extract
// per sheet. Each line is tagged with its sheet name.
type XLSXSource struct {
	path    string
	file    *xlsx.File
	sheets  []*xlsx.Sheet
	columns domain.ColumnMapping
	opts    Options
	err     error
}

// OpenXLSX loads a workbook. When sheets is empty every sheet is read.
func OpenXLSX(path string, sheets []string, columns domain.ColumnMapping, opts Options) (*XLSXSource, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "xlsx: open %s", path)
	}

	var selected []*xlsx.Sheet
	if len(sheets) == 0 {
		selected = f.Sheets
	} else {
		for _, name := range sheets {
			sheet, ok := f.Sheet[name]
			if !ok {
				return nil, eris.Wrapf(domain.ErrInvalidInput, "xlsx: sheet %q not found in %s", name, path)
			}
			selected = append(selected, sheet)
		}
	}

	return &XLSXSource{
		path:    path,
		file:    f,
		sheets:  selected,
		columns: columns,
		opts:    opts,
	}, nil
}

// SheetNames lists the sheets that will be read.
func (s *XLSXSource) SheetNames() []string {
	names := make([]string, len(s.sheets))
	for i, sheet := range s.sheets {
		names[i] = sheet.Name
	}
	return names
}

func (s *XLSXSource) Lines(ctx context.Context) iter.Seq[domain.TransactionLine] {
	return func(yield func(domain.TransactionLine) bool) {
		total := 0
		for _, sheet := range s.sheets {
			total += max(len(sheet.Rows)-1, 0)
		}
		bar := newProgress(s.opts.Progress, int64(total), "reading "+filepath.Base(s.path))
		defer bar.finish()

		for _, sheet := range s.sheets {
			if len(sheet.Rows) == 0 {
				continue
			}
			idx, err := newColumnIndex(cellStrings(sheet.Rows[0]), s.columns)
			if err != nil {
				// workbooks often carry notes or pivot sheets next to the data
				zap.L().Warn("skipping sheet without transaction columns",
					zap.String("file", s.path),
					zap.String("sheet", sheet.Name),
					zap.Error(err),
				)
				bar.add(len(sheet.Rows) - 1)
				continue
			}

			for _, row := range sheet.Rows[1:] {
				if err := ctx.Err(); err != nil {
					s.err = eris.Wrap(err, "xlsx: read cancelled")
					return
				}
				bar.add(1)
				if row == nil || isBlank(row) {
					continue
				}

				record := cellStrings(row)
				if idx.date >= 0 && idx.date < len(row.Cells) {
					record[idx.date] = s.dateCell(row.Cells[idx.date])
				}
				if !yield(idx.line(record, sheet.Name)) {
					return
				}
			}
		}
	}
}

// dateCell renders a date cell as text. Dates stored as Excel serial
// numbers are converted to calendar days.
func (s *XLSXSource) dateCell(cell *xlsx.Cell) string {
	raw := strings.TrimSpace(cell.Value)
	serial, err := strconv.ParseFloat(raw, 64)
	if err != nil || serial <= 0 || serial >= maxExcelSerial {
		return raw
	}
	return xlsx.TimeFromExcelTime(serial, s.file.Date1904).Format(domain.DateLayout)
}

func (s *XLSXSource) Err() error {
	return s.err
}

// Close releases the workbook. The file handle is closed once loaded.
func (s *XLSXSource) Close() error {
	s.file = nil
	s.sheets = nil
	return nil
}

// cellStrings returns the raw stored values. Formatted values would apply
// number formats to phone numbers and amounts.
func cellStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.Value
	}
	return cells
}

func isBlank(row *xlsx.Row) bool {
	return !slices.ContainsFunc(row.Cells, func(c *xlsx.Cell) bool {
		return strings.TrimSpace(c.Value) != ""
	})
}
