// Package metrics derives per-customer recency, frequency and monetary
// values from invoices.
package metrics

import (
	"cmp"
	"slices"
	"time"

	"github.com/opensource-finance/rfm/internal/domain"
)

// Compute returns one CustomerMetrics per customer owning at least one
// invoice, sorted by customer key. Recency is the number of whole days
// between reference and the customer's latest invoice, never negative.
func Compute(invoices []domain.Invoice, reference time.Time) []domain.CustomerMetrics {
	ref := domain.TruncateDay(reference)

	byKey := make(map[string]*domain.CustomerMetrics)
	for _, inv := range invoices {
		m, ok := byKey[inv.CustomerKey]
		if !ok {
			m = &domain.CustomerMetrics{CustomerKey: inv.CustomerKey, LastPurchase: inv.Date}
			byKey[inv.CustomerKey] = m
		}
		m.Frequency++
		m.Monetary += inv.Total
		if inv.Date.After(m.LastPurchase) {
			m.LastPurchase = inv.Date
		}
	}

	out := make([]domain.CustomerMetrics, 0, len(byKey))
	for _, m := range byKey {
		m.Recency = DaysBetween(m.LastPurchase, ref)
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b domain.CustomerMetrics) int {
		return cmp.Compare(a.CustomerKey, b.CustomerKey)
	})
	return out
}

// DaysBetween counts whole calendar days from 'from' to 'to', clamped at 0.
func DaysBetween(from, to time.Time) int {
	d := int(domain.TruncateDay(to).Sub(domain.TruncateDay(from)).Hours() / 24)
	return max(d, 0)
}

// LastInvoiceDate returns the latest invoice date, or the zero time when
// there are no invoices.
func LastInvoiceDate(invoices []domain.Invoice) time.Time {
	var last time.Time
	for _, inv := range invoices {
		if inv.Date.After(last) {
			last = inv.Date
		}
	}
	return last
}
