// Package aggregate collapses validated line items into invoices.
//
// Lines are partitioned by customer key so every invoice is built by exactly
// one worker; partitions never share state and the merge only concatenates
// and sorts, so the result does not depend on the partition count.
package aggregate

import (
	"cmp"
	"context"
	"hash/fnv"
	"iter"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/rfm/internal/domain"
)

// Options tunes the aggregation.
type Options struct {
	// Partitions is the number of concurrent workers. Values below 1 mean 1.
	Partitions int

	// BufferSize is the per-partition channel depth.
	BufferSize int
}

// Result is the aggregated invoice set.
type Result struct {
	Invoices  []domain.Invoice
	Anomalies []domain.InvoiceAnomaly
	Lines     int
}

type invoiceKey struct {
	customer string
	invoice  string
}

type building struct {
	invoice domain.Invoice
	dates   []time.Time
}

type partition struct {
	open map[invoiceKey]*building
}

func (p *partition) add(line domain.ValidatedLine) {
	key := invoiceKey{customer: line.CustomerKey, invoice: line.InvoiceNo}
	b, ok := p.open[key]
	if !ok {
		p.open[key] = &building{
			invoice: domain.Invoice{
				CustomerKey: line.CustomerKey,
				InvoiceNo:   line.InvoiceNo,
				StoreID:     line.StoreID,
				Date:        line.Date,
				Total:       line.Amount,
				Lines:       1,
			},
			dates: []time.Time{line.Date},
		}
		return
	}

	b.invoice.Total += line.Amount
	b.invoice.Lines++
	if b.invoice.StoreID == "" {
		b.invoice.StoreID = line.StoreID
	}
	if !slices.ContainsFunc(b.dates, line.Date.Equal) {
		b.dates = append(b.dates, line.Date)
	}
	if line.Date.Before(b.invoice.Date) {
		b.invoice.Date = line.Date
	}
}

// Invoices groups lines by (customer key, invoice number). An invoice's
// total is the sum of its line amounts. When its lines disagree on the date
// the earliest one is kept and an anomaly is recorded.
//
// lines is consumed from a single goroutine.
func Invoices(ctx context.Context, lines iter.Seq[domain.ValidatedLine], opts Options) (Result, error) {
	n := opts.Partitions
	if n < 1 {
		n = 1
	}
	buffer := opts.BufferSize
	if buffer < 1 {
		buffer = 256
	}

	g, gctx := errgroup.WithContext(ctx)

	chans := make([]chan domain.ValidatedLine, n)
	parts := make([]*partition, n)
	for i := range n {
		ch := make(chan domain.ValidatedLine, buffer)
		part := &partition{open: make(map[invoiceKey]*building)}
		chans[i], parts[i] = ch, part

		g.Go(func() error {
			for line := range ch {
				part.add(line)
			}
			return nil
		})
	}

	var count int
	g.Go(func() error {
		defer func() {
			for _, ch := range chans {
				close(ch)
			}
		}()
		for line := range lines {
			count++
			select {
			case chans[partitionOf(line.CustomerKey, n)] <- line:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := merge(parts)
	res.Lines = count

	zap.L().Info("invoices aggregated",
		zap.Int("lines", res.Lines),
		zap.Int("invoices", len(res.Invoices)),
		zap.Int("anomalies", len(res.Anomalies)),
		zap.Int("partitions", n),
	)
	return res, nil
}

func merge(parts []*partition) Result {
	var res Result
	for _, p := range parts {
		for _, b := range p.open {
			res.Invoices = append(res.Invoices, b.invoice)
			if len(b.dates) > 1 {
				dates := slices.Clone(b.dates)
				slices.SortFunc(dates, time.Time.Compare)
				res.Anomalies = append(res.Anomalies, domain.InvoiceAnomaly{
					CustomerKey: b.invoice.CustomerKey,
					InvoiceNo:   b.invoice.InvoiceNo,
					Dates:       dates,
					Resolved:    b.invoice.Date,
				})
			}
		}
	}

	slices.SortFunc(res.Invoices, func(a, b domain.Invoice) int {
		return cmp.Or(cmp.Compare(a.CustomerKey, b.CustomerKey), cmp.Compare(a.InvoiceNo, b.InvoiceNo))
	})
	slices.SortFunc(res.Anomalies, func(a, b domain.InvoiceAnomaly) int {
		return cmp.Or(cmp.Compare(a.CustomerKey, b.CustomerKey), cmp.Compare(a.InvoiceNo, b.InvoiceNo))
	})

	for _, a := range res.Anomalies {
		zap.L().Warn("invoice lines disagree on date",
			zap.String("customer", a.CustomerKey),
			zap.String("invoice", a.InvoiceNo),
			zap.Int("dates", len(a.Dates)),
			zap.Time("resolved", a.Resolved),
		)
	}
	return res
}

func partitionOf(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
