// Package validate filters and normalises raw point-of-sale lines.
package validate

import (
	"iter"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/opensource-finance/rfm/internal/domain"
)

// Validator turns raw lines into validated lines and tallies every
// rejection by reason. A Validator is single-use: it remembers the lines it
// has accepted in order to drop duplicates.
type Validator struct {
	window  domain.AnalysisWindow
	mobile  *regexp.Regexp
	layouts []string

	seen    map[dedupKey]struct{}
	summary domain.RejectionSummary
}

type dedupKey struct {
	customer string
	invoice  string
	item     string
	amount   float64
	day      int64
}

var decimalSuffix = regexp.MustCompile(`^(\d+)\.0+$`)

// New creates a validator for the given window.
func New(cfg domain.ValidationConfig, window domain.AnalysisWindow) (*Validator, error) {
	pattern := cfg.MobilePattern
	if pattern == "" {
		pattern = domain.DefaultConfig().Validation.MobilePattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, eris.Wrapf(domain.ErrConfiguration, "mobile pattern %q: %v", pattern, err)
	}

	layouts := cfg.DateLayouts
	if len(layouts) == 0 {
		layouts = domain.DefaultConfig().Validation.DateLayouts
	}

	return &Validator{
		window:  window,
		mobile:  re,
		layouts: layouts,
		seen:    make(map[dedupKey]struct{}),
		summary: domain.RejectionSummary{ByReason: make(map[domain.RejectReason]int)},
	}, nil
}

// Validate lazily filters rows. Each raw row is inspected once, when the
// returned sequence is pulled; the summary is complete once it is drained.
func (v *Validator) Validate(rows iter.Seq[domain.TransactionLine]) iter.Seq[domain.ValidatedLine] {
	return func(yield func(domain.ValidatedLine) bool) {
		for row := range rows {
			v.summary.Total++

			line, reason := v.check(row)
			if reason != "" {
				v.summary.ByReason[reason]++
				zap.L().Debug("row rejected",
					zap.String("reason", string(reason)),
					zap.String("source", row.Source),
					zap.String("invoice", row.InvoiceNo),
				)
				continue
			}

			v.summary.Accepted++
			if !yield(line) {
				return
			}
		}
	}
}

// Summary returns a snapshot of the rejection tally.
func (v *Validator) Summary() domain.RejectionSummary {
	out := domain.RejectionSummary{
		Total:    v.summary.Total,
		Accepted: v.summary.Accepted,
		ByReason: make(map[domain.RejectReason]int, len(v.summary.ByReason)),
	}
	for reason, n := range v.summary.ByReason {
		out.ByReason[reason] = n
	}
	return out
}

// check returns the validated line or the reason the row was rejected.
func (v *Validator) check(row domain.TransactionLine) (domain.ValidatedLine, domain.RejectReason) {
	mobile := strings.TrimSpace(row.Mobile)
	invoice := strings.TrimSpace(row.InvoiceNo)
	rawAmount := strings.TrimSpace(row.Amount)
	rawDate := strings.TrimSpace(row.Date)

	if mobile == "" || invoice == "" || rawAmount == "" || rawDate == "" {
		return domain.ValidatedLine{}, domain.RejectMissingField
	}

	amount, err := ParseAmount(rawAmount)
	if err != nil {
		return domain.ValidatedLine{}, domain.RejectMalformedAmount
	}
	if amount < 0 {
		return domain.ValidatedLine{}, domain.RejectNegativeAmount
	}

	key := NormalizeMobile(mobile)
	if !v.mobile.MatchString(key) {
		return domain.ValidatedLine{}, domain.RejectInvalidCustomer
	}

	date, err := v.parseDate(rawDate)
	if err != nil {
		return domain.ValidatedLine{}, domain.RejectMalformedDate
	}
	if !v.window.Contains(date) {
		return domain.ValidatedLine{}, domain.RejectOutOfWindow
	}

	item := strings.TrimSpace(row.ItemName)
	dk := dedupKey{customer: key, invoice: invoice, item: item, amount: amount, day: date.Unix()}
	if _, dup := v.seen[dk]; dup {
		return domain.ValidatedLine{}, domain.RejectDuplicate
	}
	v.seen[dk] = struct{}{}

	return domain.ValidatedLine{
		CustomerKey: key,
		InvoiceNo:   invoice,
		StoreID:     strings.TrimSpace(row.StoreID),
		ItemName:    item,
		Date:        date,
		Amount:      amount,
		Source:      row.Source,
	}, ""
}

func (v *Validator) parseDate(raw string) (time.Time, error) {
	for _, layout := range v.layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return domain.TruncateDay(t), nil
		}
	}
	return time.Time{}, eris.Errorf("date %q matches no known layout", raw)
}

// NormalizeMobile reduces a phone number to its national digits: separators
// and spreadsheet artefacts are removed and a country-code prefix is cut by
// keeping the last ten digits.
func NormalizeMobile(raw string) string {
	s := strings.TrimSpace(raw)
	if m := decimalSuffix.FindStringSubmatch(s); m != nil {
		s = m[1]
	} else if strings.ContainsAny(s, "eE") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			s = strconv.FormatFloat(f, 'f', 0, 64)
		}
	}

	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	digits := b.String()
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	return digits
}

// ParseAmount parses a line amount, tolerating thousands separators.
func ParseAmount(raw string) (float64, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "amount %q", raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, eris.Errorf("amount %q is not finite", raw)
	}
	return f, nil
}
