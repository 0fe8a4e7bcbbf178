package main

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/opensource-finance/rfm/internal/domain"
	"github.com/opensource-finance/rfm/internal/rules"
)

// checkReport returns every invariant the report breaks.
func checkReport(report *domain.Report, engine *rules.Engine) []string {
	var violations []string
	fail := func(format string, args ...any) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	q := report.QuantileCount
	rows := report.Rows
	rej := report.Rejections

	if rej.Accepted+rej.Rejected() != rej.Total {
		fail("rejections: %d accepted + %d rejected != %d read", rej.Accepted, rej.Rejected(), rej.Total)
	}
	if rej.Total != report.Stats.RawRows {
		fail("stats: %d raw rows, rejection summary saw %d", report.Stats.RawRows, rej.Total)
	}
	if len(rows) != report.Stats.Customers {
		fail("stats: %d customers, report has %d rows", report.Stats.Customers, len(rows))
	}

	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		if seen[r.CustomerKey] {
			fail("customer %s appears twice", r.CustomerKey)
		}
		seen[r.CustomerKey] = true

		for _, s := range []int{r.R, r.F, r.M} {
			if s < 1 || s > q {
				fail("customer %s: score %d outside 1..%d", r.CustomerKey, s, q)
			}
		}
		if want := fmt.Sprintf("%d%d%d", r.R, r.F, r.M); r.Score != want {
			fail("customer %s: code %q, want %q", r.CustomerKey, r.Score, want)
		}
		if want := engine.Classify(r.R, r.F, r.M); r.Segment != want {
			fail("customer %s: segment %s, rules give %s", r.CustomerKey, r.Segment, want)
		}
	}

	checkBalance(rows, q, "R", func(r domain.ReportRow) int { return r.R }, fail)
	checkBalance(rows, q, "F", func(r domain.ReportRow) int { return r.F }, fail)
	checkBalance(rows, q, "M", func(r domain.ReportRow) int { return r.M }, fail)

	checkMonotone(rows, "frequency", func(a, b domain.ReportRow) int { return cmp.Compare(a.Frequency, b.Frequency) },
		func(r domain.ReportRow) int { return r.F }, fail)
	checkMonotone(rows, "monetary", func(a, b domain.ReportRow) int { return cmp.Compare(a.Monetary, b.Monetary) },
		func(r domain.ReportRow) int { return r.M }, fail)
	// recency is inverted: fewer days since the last purchase scores higher
	checkMonotone(rows, "recency", func(a, b domain.ReportRow) int { return cmp.Compare(b.Recency, a.Recency) },
		func(r domain.ReportRow) int { return r.R }, fail)

	total := 0
	for _, s := range report.Summary {
		total += s.Customers
	}
	if total != len(rows) {
		fail("summary: segments hold %d customers, report has %d", total, len(rows))
	}
	return violations
}

// checkBalance requires bin sizes to differ by at most one.
func checkBalance(rows []domain.ReportRow, q int, name string, score func(domain.ReportRow) int, fail func(string, ...any)) {
	counts := make([]int, q+1)
	for _, r := range rows {
		if s := score(r); s >= 1 && s <= q {
			counts[s]++
		}
	}
	lo, hi := slices.Min(counts[1:]), slices.Max(counts[1:])
	if hi-lo > 1 {
		fail("%s bins unbalanced: sizes %v", name, counts[1:])
	}
}

// checkMonotone requires a strictly better metric never to score lower.
func checkMonotone(rows []domain.ReportRow, name string, order func(a, b domain.ReportRow) int, score func(domain.ReportRow) int, fail func(string, ...any)) {
	sorted := slices.Clone(rows)
	slices.SortFunc(sorted, order)
	best, group := 0, 0
	for i, r := range sorted {
		if i > 0 && order(sorted[i-1], r) < 0 {
			best, group = max(best, group), 0
		}
		if score(r) < best {
			fail("%s not monotone: customer %s scores %d below %d", name, r.CustomerKey, score(r), best)
			return
		}
		group = max(group, score(r))
	}
}
