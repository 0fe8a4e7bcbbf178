package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/opensource-finance/rfm/internal/domain"
)

// Generator produces synthetic point-of-sale extracts. The same settings
// and seed always produce the same lines.
type Generator struct {
	Customers   int
	Invoices    int
	MaxLines    int
	Start       time.Time
	Months      int
	InvalidRate float64
	Seed        uint64
}

var items = []string{
	"Basmati Rice 5kg", "Sunflower Oil 1L", "Toor Dal 1kg", "Green Tea 100g", "Detergent 2kg",
	"Toothpaste", "Biscuits Family Pack", "Paneer 200g", "Atta 10kg", "Shampoo 340ml",
	"Instant Noodles x12", "Coffee 200g", "Ghee 1L", "Sugar 5kg", "Soap x4",
}

// Window returns the analysis window covering every generated month.
func (g Generator) Window() domain.WindowConfig {
	end := g.Start.AddDate(0, g.Months, -1)
	return domain.WindowConfig{
		Start: g.Start.Format(domain.DateLayout),
		End:   end.Format(domain.DateLayout),
	}
}

// Lines generates every line. Customer activity is skewed so a few
// customers hold most invoices, as in real retail data.
func (g Generator) Lines() []domain.TransactionLine {
	rng := rand.New(rand.NewPCG(g.Seed, g.Seed^0x9e3779b97f4a7c15))
	days := int(g.Start.AddDate(0, g.Months, 0).Sub(g.Start).Hours() / 24)
	maxLines := max(g.MaxLines, 1)

	lines := make([]domain.TransactionLine, 0, g.Invoices*(maxLines+1)/2)
	for inv := range g.Invoices {
		customer := int(float64(g.Customers) * math.Pow(rng.Float64(), 2))
		mobile := fmt.Sprintf("%d%09d", 7+customer%3, customer)
		date := g.Start.AddDate(0, 0, rng.IntN(days))
		invoiceNo := fmt.Sprintf("INV%08d", inv+1)
		store := fmt.Sprintf("S%03d", 1+rng.IntN(40))

		for n := range 1 + rng.IntN(maxLines) {
			line := domain.TransactionLine{
				Mobile:    mobile,
				InvoiceNo: invoiceNo,
				StoreID:   store,
				ItemName:  items[(inv+n)%len(items)],
				Date:      date.Format(domain.DateLayout),
				Amount:    fmt.Sprintf("%.2f", 20+rng.Float64()*1980),
				Source:    date.Format("Jan-2006"),
			}
			if rng.Float64() < g.InvalidRate {
				corrupt(&line, rng)
			}
			lines = append(lines, line)
		}
	}
	return lines
}

func corrupt(line *domain.TransactionLine, rng *rand.Rand) {
	switch rng.IntN(4) {
	case 0:
		line.Mobile = line.Mobile[:7]
	case 1:
		line.Amount = "n/a"
	case 2:
		line.Date = "31-31-2024"
	default:
		line.Amount = "-" + line.Amount
	}
}

var csvHeader = []string{"c_mobile", "invno", "store", "itemname", "invdate", "n_net_sales"}

func record(l domain.TransactionLine) []string {
	return []string{l.Mobile, l.InvoiceNo, l.StoreID, l.ItemName, l.Date, l.Amount}
}

// writeExtract writes lines as csv, or as a workbook with one sheet per
// month when path ends in .xlsx.
func writeExtract(path string, lines []domain.TransactionLine) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "create %s", dir)
		}
	}
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return writeXLSX(path, lines)
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create %s", path)
	}
	if err := writeCSV(f, lines); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrap(f.Close(), "close extract")
}

func writeCSV(w io.Writer, lines []domain.TransactionLine) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return eris.Wrap(err, "csv: write header")
	}
	for _, l := range lines {
		if err := cw.Write(record(l)); err != nil {
			return eris.Wrap(err, "csv: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "csv: flush")
}

func writeXLSX(path string, lines []domain.TransactionLine) error {
	f := xlsx.NewFile()
	sheets := map[string]*xlsx.Sheet{}
	for _, l := range lines {
		sheet, ok := sheets[l.Source]
		if !ok {
			var err error
			if sheet, err = f.AddSheet(l.Source); err != nil {
				return eris.Wrapf(err, "xlsx: add sheet %s", l.Source)
			}
			addRow(sheet, csvHeader)
			sheets[l.Source] = sheet
		}
		addRow(sheet, record(l))
	}
	return eris.Wrap(f.Save(path), "xlsx: save")
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
