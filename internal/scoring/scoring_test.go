package scoring

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/rfm/internal/domain"
)

func population(n int, seed uint64) []domain.CustomerMetrics {
	rng := rand.New(rand.NewPCG(seed, seed))
	out := make([]domain.CustomerMetrics, n)
	for i := range out {
		out[i] = domain.CustomerMetrics{
			CustomerKey: fmt.Sprintf("9%09d", i),
			Recency:     rng.IntN(365),
			Frequency:   1 + rng.IntN(12),
			Monetary:    float64(rng.IntN(50000)) / 10,
		}
	}
	return out
}

func TestScoreMonetaryQuintiles(t *testing.T) {
	var metrics []domain.CustomerMetrics
	for i, amount := range []float64{10, 20, 30, 40, 50} {
		metrics = append(metrics, domain.CustomerMetrics{
			CustomerKey: fmt.Sprintf("900000000%d", i),
			Recency:     1,
			Frequency:   1,
			Monetary:    amount,
		})
	}

	scores, err := Score(metrics, 5)
	require.NoError(t, err)

	var got []int
	for _, s := range scores {
		got = append(got, s.M)
	}
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
}

func TestScoreRange(t *testing.T) {
	for _, q := range []int{2, 3, 5, domain.MaxQuantileCount} {
		t.Run(fmt.Sprintf("q=%d", q), func(t *testing.T) {
			scores, err := Score(population(137, uint64(q)), q)
			require.NoError(t, err)
			for _, s := range scores {
				for _, v := range []int{s.R, s.F, s.M} {
					assert.GreaterOrEqual(t, v, 1)
					assert.LessOrEqual(t, v, q)
				}
			}
		})
	}
}

func TestScoreBinBalance(t *testing.T) {
	for _, n := range []int{5, 7, 23, 100, 101} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			scores, err := Score(population(n, uint64(n)), 5)
			require.NoError(t, err)

			counts := map[string][]int{"r": make([]int, 6), "f": make([]int, 6), "m": make([]int, 6)}
			for _, s := range scores {
				counts["r"][s.R]++
				counts["f"][s.F]++
				counts["m"][s.M]++
			}
			for metric, c := range counts {
				lo, hi := n, 0
				for _, v := range c[1:] {
					lo, hi = min(lo, v), max(hi, v)
				}
				assert.LessOrEqual(t, hi-lo, 1, "metric %s bins %v", metric, c[1:])
			}
		})
	}
}

func TestScoreMonotonic(t *testing.T) {
	metrics := population(200, 42)
	scores, err := Score(metrics, 5)
	require.NoError(t, err)

	for i := range metrics {
		for j := range metrics {
			a, b := metrics[i], metrics[j]
			if a.Frequency > b.Frequency {
				assert.GreaterOrEqual(t, scores[i].F, scores[j].F)
			}
			if a.Monetary > b.Monetary {
				assert.GreaterOrEqual(t, scores[i].M, scores[j].M)
			}
			if a.Recency < b.Recency {
				assert.GreaterOrEqual(t, scores[i].R, scores[j].R)
			}
		}
	}
}

func TestScoreRecencyInverted(t *testing.T) {
	metrics := []domain.CustomerMetrics{
		{CustomerKey: "9000000001", Recency: 1, Frequency: 1, Monetary: 1},
		{CustomerKey: "9000000002", Recency: 300, Frequency: 1, Monetary: 1},
	}

	scores, err := Score(metrics, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, scores[0].R)
	assert.Equal(t, 1, scores[1].R)
}

func TestScoreDeterministic(t *testing.T) {
	metrics := population(500, 7)
	for i := range metrics {
		metrics[i].Frequency = 3 // all tied
	}

	a, err := Score(metrics, 5)
	require.NoError(t, err)
	b, err := Score(metrics, 5)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	// ties resolve by key, and keys are ascending in population order
	assert.Equal(t, 1, a[0].F)
	assert.Equal(t, 5, a[len(a)-1].F)
}

func TestScoreErrors(t *testing.T) {
	_, err := Score(nil, 5)
	assert.ErrorIs(t, err, domain.ErrEmptyPopulation)

	_, err = Score(population(3, 1), 1)
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	_, err = Score(population(3, 1), domain.MaxQuantileCount+1)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}
