package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/opensource-finance/rfm/internal/domain"
)

var rowHeader = []string{"customer_key", "recency", "frequency", "monetary", "r", "f", "m", "rfm_score", "segment"}

// XLSXExporter writes a workbook with the customer table, the segment
// summary and the rejection tally on separate sheets.
type XLSXExporter struct {
	Dir string
}

func (e *XLSXExporter) Format() string { return "xlsx" }

func (e *XLSXExporter) Export(report *domain.Report) (string, error) {
	f := xlsx.NewFile()

	customers, err := f.AddSheet("Customers")
	if err != nil {
		return "", eris.Wrap(err, "xlsx: add sheet")
	}
	addStrings(customers.AddRow(), rowHeader...)
	for _, r := range report.Rows {
		row := customers.AddRow()
		row.AddCell().SetString(r.CustomerKey)
		row.AddCell().SetInt(r.Recency)
		row.AddCell().SetInt(r.Frequency)
		row.AddCell().SetFloat(r.Monetary)
		row.AddCell().SetInt(r.R)
		row.AddCell().SetInt(r.F)
		row.AddCell().SetInt(r.M)
		row.AddCell().SetString(r.Score)
		row.AddCell().SetString(string(r.Segment))
	}

	segments, err := f.AddSheet("Segments")
	if err != nil {
		return "", eris.Wrap(err, "xlsx: add sheet")
	}
	addStrings(segments.AddRow(), "segment", "customers", "share", "monetary", "monetary_share",
		"avg_recency", "avg_frequency", "avg_monetary")
	for _, s := range report.Summary {
		row := segments.AddRow()
		row.AddCell().SetString(string(s.Segment))
		row.AddCell().SetInt(s.Customers)
		row.AddCell().SetFloat(s.Share)
		row.AddCell().SetFloat(s.Monetary)
		row.AddCell().SetFloat(s.MonetaryShare)
		row.AddCell().SetFloat(s.AvgRecency)
		row.AddCell().SetFloat(s.AvgFrequency)
		row.AddCell().SetFloat(s.AvgMonetary)
	}

	rejections, err := f.AddSheet("Rejections")
	if err != nil {
		return "", eris.Wrap(err, "xlsx: add sheet")
	}
	addStrings(rejections.AddRow(), "reason", "rows")
	for _, reason := range domain.RejectReasons() {
		row := rejections.AddRow()
		row.AddCell().SetString(string(reason))
		row.AddCell().SetInt(report.Rejections.ByReason[reason])
	}

	path := Filename(e.Dir, report, "xlsx")
	err = writeAtomic(path, func(w io.Writer) error {
		return eris.Wrap(f.Write(w), "xlsx: write")
	})
	return path, err
}

func addStrings(row *xlsx.Row, values ...string) {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// CSVExporter writes the customer table as csv.
type CSVExporter struct {
	Dir string
}

func (e *CSVExporter) Format() string { return "csv" }

func (e *CSVExporter) Export(report *domain.Report) (string, error) {
	path := Filename(e.Dir, report, "csv")
	err := writeAtomic(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(rowHeader); err != nil {
			return eris.Wrap(err, "csv: write header")
		}
		for _, r := range report.Rows {
			record := []string{
				r.CustomerKey,
				strconv.Itoa(r.Recency),
				strconv.Itoa(r.Frequency),
				strconv.FormatFloat(r.Monetary, 'f', 2, 64),
				strconv.Itoa(r.R),
				strconv.Itoa(r.F),
				strconv.Itoa(r.M),
				r.Score,
				string(r.Segment),
			}
			if err := cw.Write(record); err != nil {
				return eris.Wrap(err, "csv: write row")
			}
		}
		cw.Flush()
		return eris.Wrap(cw.Error(), "csv: flush")
	})
	return path, err
}

// JSONExporter writes the whole report, metadata included.
type JSONExporter struct {
	Dir string
}

func (e *JSONExporter) Format() string { return "json" }

func (e *JSONExporter) Export(report *domain.Report) (string, error) {
	path := Filename(e.Dir, report, "json")
	err := writeAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(report), "failed to write JSON")
	})
	return path, err
}
