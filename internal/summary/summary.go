// Package summary aggregates a segmentation table into per-segment figures.
package summary

import (
	"slices"

	"github.com/opensource-finance/rfm/internal/domain"
)

type accumulator struct {
	customers int
	monetary  float64
	recency   int
	frequency int
}

// Build returns one SegmentSummary per segment present in rows, in the
// enumeration order of domain.Segments. Segments without customers are
// omitted.
func Build(rows []domain.ReportRow) []domain.SegmentSummary {
	if len(rows) == 0 {
		return nil
	}

	acc := make(map[domain.Segment]*accumulator)
	var totalMonetary float64
	for _, row := range rows {
		a, ok := acc[row.Segment]
		if !ok {
			a = &accumulator{}
			acc[row.Segment] = a
		}
		a.customers++
		a.monetary += row.Monetary
		a.recency += row.Recency
		a.frequency += row.Frequency
		totalMonetary += row.Monetary
	}

	out := make([]domain.SegmentSummary, 0, len(acc))
	for _, seg := range domain.Segments() {
		a, ok := acc[seg]
		if !ok {
			continue
		}
		n := float64(a.customers)
		s := domain.SegmentSummary{
			Segment:      seg,
			Customers:    a.customers,
			Share:        n / float64(len(rows)),
			Monetary:     a.monetary,
			AvgRecency:   float64(a.recency) / n,
			AvgFrequency: float64(a.frequency) / n,
			AvgMonetary:  a.monetary / n,
		}
		if totalMonetary > 0 {
			s.MonetaryShare = a.monetary / totalMonetary
		}
		out = append(out, s)
	}
	return out
}

// Counts returns the customer count per segment.
func Counts(summary []domain.SegmentSummary) map[domain.Segment]int {
	out := make(map[domain.Segment]int, len(summary))
	for _, s := range summary {
		out[s.Segment] = s.Customers
	}
	return out
}

// Largest returns the summary entries ordered by customer count, largest
// first, ties kept in enumeration order.
func Largest(summary []domain.SegmentSummary) []domain.SegmentSummary {
	out := slices.Clone(summary)
	slices.SortStableFunc(out, func(a, b domain.SegmentSummary) int {
		return b.Customers - a.Customers
	})
	return out
}
