package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/rfm/internal/domain"
)

func day(d int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, d-1)
}

func TestComputeTwoInvoices(t *testing.T) {
	invoices := []domain.Invoice{
		{CustomerKey: "9000000001", InvoiceNo: "I1", Date: day(10), Total: 150},
		{CustomerKey: "9000000001", InvoiceNo: "I2", Date: day(40), Total: 200},
	}

	got := Compute(invoices, day(41))

	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Recency)
	assert.Equal(t, 2, got[0].Frequency)
	assert.Equal(t, 350.0, got[0].Monetary)
	assert.Equal(t, day(40), got[0].LastPurchase)
}

func TestComputeSortedAndComplete(t *testing.T) {
	invoices := []domain.Invoice{
		{CustomerKey: "9000000003", InvoiceNo: "A", Date: day(5), Total: 1},
		{CustomerKey: "9000000001", InvoiceNo: "B", Date: day(6), Total: 2},
		{CustomerKey: "9000000002", InvoiceNo: "C", Date: day(7), Total: 3},
	}

	got := Compute(invoices, day(10))

	require.Len(t, got, 3)
	assert.Equal(t, "9000000001", got[0].CustomerKey)
	assert.Equal(t, "9000000002", got[1].CustomerKey)
	assert.Equal(t, "9000000003", got[2].CustomerKey)
	for _, m := range got {
		assert.GreaterOrEqual(t, m.Frequency, 1)
	}
}

func TestComputeRecencyClamped(t *testing.T) {
	invoices := []domain.Invoice{
		{CustomerKey: "9000000001", InvoiceNo: "I1", Date: day(20), Total: 10},
	}

	got := Compute(invoices, day(15))

	require.Len(t, got, 1)
	assert.Zero(t, got[0].Recency)
}

func TestComputeEmpty(t *testing.T) {
	assert.Empty(t, Compute(nil, day(1)))
}

func TestDaysBetweenIgnoresTimeOfDay(t *testing.T) {
	from := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC)

	assert.Equal(t, 1, DaysBetween(from, to))
}

func TestLastInvoiceDate(t *testing.T) {
	invoices := []domain.Invoice{{Date: day(3)}, {Date: day(9)}, {Date: day(4)}}

	assert.Equal(t, day(9), LastInvoiceDate(invoices))
	assert.True(t, LastInvoiceDate(nil).IsZero())
}
