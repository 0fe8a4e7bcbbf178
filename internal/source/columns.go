package source

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/opensource-finance/rfm/internal/domain"
)

// columnIndex locates the mapped columns inside a header row. Store and
// item columns are optional; -1 marks a missing column.
type columnIndex struct {
	mobile, invoice, store, item, date, amount int
}

func newColumnIndex(header []string, m domain.ColumnMapping) (columnIndex, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := pos[key]; !dup {
			pos[key] = i
		}
	}
	find := func(name string) int {
		if i, ok := pos[strings.ToLower(strings.TrimSpace(name))]; ok && name != "" {
			return i
		}
		return -1
	}

	idx := columnIndex{
		mobile:  find(m.Mobile),
		invoice: find(m.InvoiceNo),
		store:   find(m.StoreID),
		item:    find(m.ItemName),
		date:    find(m.Date),
		amount:  find(m.Amount),
	}

	var missing []string
	for _, req := range []struct {
		name string
		at   int
	}{
		{m.Mobile, idx.mobile},
		{m.InvoiceNo, idx.invoice},
		{m.Date, idx.date},
		{m.Amount, idx.amount},
	} {
		if req.at < 0 {
			missing = append(missing, req.name)
		}
	}
	if len(missing) > 0 {
		return idx, eris.Wrapf(domain.ErrInvalidInput, "missing columns %s", strings.Join(missing, ", "))
	}
	return idx, nil
}

// line builds a TransactionLine from one record. Short records yield empty
// fields, which the validator rejects.
func (c columnIndex) line(record []string, source string) domain.TransactionLine {
	get := func(i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return record[i]
	}
	return domain.TransactionLine{
		Mobile:    get(c.mobile),
		InvoiceNo: get(c.invoice),
		StoreID:   get(c.store),
		ItemName:  get(c.item),
		Date:      get(c.date),
		Amount:    get(c.amount),
		Source:    source,
	}
}
