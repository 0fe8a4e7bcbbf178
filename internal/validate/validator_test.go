package validate

import (
	"iter"
	"slices"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/rfm/internal/domain"
)

func testWindow() domain.AnalysisWindow {
	return domain.AnalysisWindow{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}
}

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New(domain.ValidationConfig{}, testWindow())
	require.NoError(t, err)
	return v
}

func validLine() domain.TransactionLine {
	return domain.TransactionLine{
		Mobile:    "9999999999",
		InvoiceNo: "INV-1",
		StoreID:   "S1",
		ItemName:  "Shirt",
		Date:      "2024-03-10",
		Amount:    "150",
	}
}

func run(v *Validator, rows ...domain.TransactionLine) []domain.ValidatedLine {
	return slices.Collect(v.Validate(slices.Values(rows)))
}

func TestValidateAcceptsCleanLine(t *testing.T) {
	v := newValidator(t)

	out := run(v, validLine())

	require.Len(t, out, 1)
	assert.Equal(t, "9999999999", out[0].CustomerKey)
	assert.Equal(t, "INV-1", out[0].InvoiceNo)
	assert.Equal(t, 150.0, out[0].Amount)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), out[0].Date)

	s := v.Summary()
	assert.Equal(t, 1, s.Total)
	assert.Equal(t, 1, s.Accepted)
	assert.Zero(t, s.Rejected())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.TransactionLine)
		reason domain.RejectReason
	}{
		{"missing mobile", func(l *domain.TransactionLine) { l.Mobile = "" }, domain.RejectMissingField},
		{"missing invoice", func(l *domain.TransactionLine) { l.InvoiceNo = "  " }, domain.RejectMissingField},
		{"missing amount", func(l *domain.TransactionLine) { l.Amount = "" }, domain.RejectMissingField},
		{"missing date", func(l *domain.TransactionLine) { l.Date = "" }, domain.RejectMissingField},
		{"malformed amount", func(l *domain.TransactionLine) { l.Amount = "12abc" }, domain.RejectMalformedAmount},
		{"nan amount", func(l *domain.TransactionLine) { l.Amount = "NaN" }, domain.RejectMalformedAmount},
		{"negative amount", func(l *domain.TransactionLine) { l.Amount = "-5" }, domain.RejectNegativeAmount},
		{"seven digit phone", func(l *domain.TransactionLine) { l.Mobile = "1234567" }, domain.RejectInvalidCustomer},
		{"landline prefix", func(l *domain.TransactionLine) { l.Mobile = "2234567890" }, domain.RejectInvalidCustomer},
		{"six prefix", func(l *domain.TransactionLine) { l.Mobile = "6234567890" }, domain.RejectInvalidCustomer},
		{"malformed date", func(l *domain.TransactionLine) { l.Date = "tomorrow" }, domain.RejectMalformedDate},
		{"before window", func(l *domain.TransactionLine) { l.Date = "2023-12-31" }, domain.RejectOutOfWindow},
		{"after window", func(l *domain.TransactionLine) { l.Date = "2025-01-01" }, domain.RejectOutOfWindow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newValidator(t)
			line := validLine()
			tt.mutate(&line)

			out := run(v, line)

			assert.Empty(t, out)
			s := v.Summary()
			assert.Equal(t, 1, s.Total)
			assert.Equal(t, 1, s.ByReason[tt.reason])
		})
	}
}

func TestValidateZeroAmountAccepted(t *testing.T) {
	v := newValidator(t)
	line := validLine()
	line.Amount = "0"

	out := run(v, line)

	require.Len(t, out, 1)
	assert.Zero(t, out[0].Amount)
}

func TestValidateWindowBoundsInclusive(t *testing.T) {
	v := newValidator(t)
	first := validLine()
	first.Date = "2024-01-01"
	last := validLine()
	last.InvoiceNo = "INV-2"
	last.Date = "2024-12-31 23:59:59"

	out := run(v, first, last)

	assert.Len(t, out, 2)
}

func TestValidateDuplicates(t *testing.T) {
	v := newValidator(t)
	a := validLine()
	b := validLine()
	b.Mobile = "+91 99999-99999"
	c := validLine()
	c.ItemName = "Trousers"

	out := run(v, a, b, c)

	require.Len(t, out, 2)
	assert.Equal(t, "Shirt", out[0].ItemName)
	assert.Equal(t, "Trousers", out[1].ItemName)
	assert.Equal(t, 1, v.Summary().ByReason[domain.RejectDuplicate])
}

func TestValidateIsLazy(t *testing.T) {
	v := newValidator(t)
	pulled := 0
	rows := iter.Seq[domain.TransactionLine](func(yield func(domain.TransactionLine) bool) {
		for i := 0; i < 100; i++ {
			pulled++
			line := validLine()
			line.InvoiceNo = "INV-" + strconv.Itoa(i)
			if !yield(line) {
				return
			}
		}
	})

	for range v.Validate(rows) {
		break
	}

	assert.Equal(t, 1, pulled)
}

func TestValidateCustomPattern(t *testing.T) {
	v, err := New(domain.ValidationConfig{MobilePattern: `^\d{10}$`}, testWindow())
	require.NoError(t, err)
	line := validLine()
	line.Mobile = "2234567890"

	assert.Len(t, run(v, line), 1)
}

func TestNewRejectsBadPattern(t *testing.T) {
	_, err := New(domain.ValidationConfig{MobilePattern: "("}, testWindow())

	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestNormalizeMobile(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"9876543210", "9876543210"},
		{"+91 98765 43210", "9876543210"},
		{"0919876543210", "9876543210"},
		{"98765-43210", "9876543210"},
		{"9876543210.0", "9876543210"},
		{"9.87654321E9", "9876543210"},
		{"1234567", "1234567"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeMobile(tt.in))
		})
	}
}

func TestParseAmount(t *testing.T) {
	f, err := ParseAmount("1,250.50")
	require.NoError(t, err)
	assert.Equal(t, 1250.5, f)

	_, err = ParseAmount("Inf")
	assert.Error(t, err)
}
