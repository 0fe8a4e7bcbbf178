// Package scoring maps raw RFM metrics onto ordinal quantile scores.
//
// Scoring needs the whole population: every score is a rank percentile, so
// a customer's score depends on every other customer's metric.
package scoring

import (
	"cmp"
	"slices"

	"go.uber.org/zap"

	"github.com/opensource-finance/rfm/internal/domain"
)

// Score assigns R, F and M scores in 1..quantiles. Customers are ranked per
// metric with ties broken by customer key, and the rank at index i of n gets
// score i*quantiles/n + 1, so bin sizes differ by at most one. Recency is
// ranked descending so the most recent buyers score highest.
//
// The result follows the order of metrics.
func Score(metrics []domain.CustomerMetrics, quantiles int) ([]domain.CustomerScore, error) {
	if err := domain.CheckQuantileCount(quantiles); err != nil {
		return nil, err
	}
	if len(metrics) == 0 {
		return nil, domain.ErrEmptyPopulation
	}

	r := Bins(metrics, quantiles, func(a, b domain.CustomerMetrics) int {
		return cmp.Compare(b.Recency, a.Recency)
	})
	f := Bins(metrics, quantiles, func(a, b domain.CustomerMetrics) int {
		return cmp.Compare(a.Frequency, b.Frequency)
	})
	m := Bins(metrics, quantiles, func(a, b domain.CustomerMetrics) int {
		return cmp.Compare(a.Monetary, b.Monetary)
	})

	out := make([]domain.CustomerScore, len(metrics))
	for i, cm := range metrics {
		out[i] = domain.CustomerScore{CustomerKey: cm.CustomerKey, R: r[i], F: f[i], M: m[i]}
	}

	zap.L().Info("customers scored",
		zap.Int("customers", len(out)),
		zap.Int("quantiles", quantiles),
	)
	return out, nil
}

// Bins ranks metrics by order, customer key breaking ties, and returns the
// quantile score of each input position.
func Bins(metrics []domain.CustomerMetrics, quantiles int, order func(a, b domain.CustomerMetrics) int) []int {
	n := len(metrics)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return cmp.Or(
			order(metrics[a], metrics[b]),
			cmp.Compare(metrics[a].CustomerKey, metrics[b].CustomerKey),
		)
	})

	scores := make([]int, n)
	for rank, pos := range idx {
		scores[pos] = rank*quantiles/n + 1
	}
	return scores
}
