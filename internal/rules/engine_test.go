package rules

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/rfm/internal/domain"
)

func TestDefaultRulesCompile(t *testing.T) {
	engine, err := NewEngine(DefaultRules(), 5)
	require.NoError(t, err)

	assert.Equal(t, 5, engine.Quantiles())
	assert.Len(t, engine.Rules(), 6)
}

func TestClassifyTotal(t *testing.T) {
	engine, err := NewEngine(DefaultRules(), 5)
	require.NoError(t, err)

	seen := 0
	for r := 1; r <= 5; r++ {
		for f := 1; f <= 5; f++ {
			for m := 1; m <= 5; m++ {
				seg := engine.Classify(r, f, m)
				assert.True(t, seg.Valid(), "r=%d f=%d m=%d -> %q", r, f, m, seg)
				seen++
			}
		}
	}
	assert.Equal(t, 125, seen)
}

func TestClassifyDefaultRules(t *testing.T) {
	engine, err := NewEngine(DefaultRules(), 5)
	require.NoError(t, err)

	tests := []struct {
		r, f, m int
		want    domain.Segment
	}{
		{5, 5, 5, domain.SegmentChampions},
		{4, 4, 4, domain.SegmentChampions},
		{4, 4, 3, domain.SegmentLoyal},
		{3, 3, 1, domain.SegmentLoyal},
		{5, 1, 5, domain.SegmentNewCustomers},
		{4, 2, 1, domain.SegmentNewCustomers},
		{2, 5, 5, domain.SegmentAtRisk},
		{1, 3, 1, domain.SegmentAtRisk},
		{1, 1, 1, domain.SegmentLost},
		{2, 2, 5, domain.SegmentLost},
		{3, 2, 2, domain.SegmentPromising},
		{3, 1, 5, domain.SegmentPromising},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, engine.Classify(tt.r, tt.f, tt.m), "r=%d f=%d m=%d", tt.r, tt.f, tt.m)
	}
}

func TestFirstMatchWins(t *testing.T) {
	rules := []domain.SegmentRule{
		{Name: "broad", Label: domain.SegmentLoyal, Expression: "f >= 2"},
		{Name: "narrow", Label: domain.SegmentChampions, Expression: "f >= 3"},
		{Name: "rest", Label: domain.SegmentOthers, Expression: "true"},
	}
	engine, err := NewEngine(rules, 3)
	require.NoError(t, err)

	assert.Equal(t, domain.SegmentLoyal, engine.Classify(1, 3, 1))

	cov := engine.Coverage()
	require.Len(t, cov, 3)
	assert.Equal(t, 18, cov[0].Triples)
	assert.Equal(t, 0, cov[1].Triples)
	assert.Equal(t, 9, cov[2].Triples)
}

func TestCoverageSumsToGrid(t *testing.T) {
	for _, q := range []int{2, 3, 5, 7} {
		engine, err := NewEngine(DefaultRules(), q)
		require.NoError(t, err)

		total := 0
		for _, c := range engine.Coverage() {
			total += c.Triples
		}
		assert.Equal(t, q*q*q, total)
	}
}

func TestNewEngineConfigurationErrors(t *testing.T) {
	tests := []struct {
		name  string
		rules []domain.SegmentRule
	}{
		{"empty", nil},
		{"no catch-all", []domain.SegmentRule{
			{Name: "a", Label: domain.SegmentChampions, Expression: "r >= 4"},
		}},
		{"catch-all not last", []domain.SegmentRule{
			{Name: "all", Label: domain.SegmentOthers, Expression: "true"},
			{Name: "a", Label: domain.SegmentChampions, Expression: "r >= 4"},
		}},
		{"unknown label", []domain.SegmentRule{
			{Name: "vip", Label: "VIP", Expression: "true"},
		}},
		{"not bool", []domain.SegmentRule{
			{Name: "sum", Label: domain.SegmentOthers, Expression: "r + f"},
		}},
		{"bad syntax", []domain.SegmentRule{
			{Name: "broken", Label: domain.SegmentOthers, Expression: "r >>> 1"},
		}},
		{"unknown variable", []domain.SegmentRule{
			{Name: "amount", Label: domain.SegmentOthers, Expression: "amount > 1"},
		}},
		{"empty expression", []domain.SegmentRule{
			{Name: "blank", Label: domain.SegmentOthers, Expression: " "},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.rules, 5)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}

func TestCatchAllEquivalentAccepted(t *testing.T) {
	rules := []domain.SegmentRule{
		{Name: "top", Label: domain.SegmentChampions, Expression: "r == 5"},
		{Name: "rest", Label: domain.SegmentOthers, Expression: "r >= 1 || f >= 1"},
	}

	_, err := NewEngine(rules, 5)
	assert.NoError(t, err)
}

func TestNewEngineQuantileBounds(t *testing.T) {
	for _, q := range []int{0, 1, domain.MaxQuantileCount + 1, 100} {
		_, err := NewEngine(DefaultRules(), q)
		assert.ErrorIs(t, err, domain.ErrConfiguration, "q=%d", q)
	}

	engine, err := NewEngine(DefaultRules(), domain.MaxQuantileCount)
	require.NoError(t, err)
	assert.Equal(t, domain.MaxQuantileCount, engine.Quantiles())
}

func TestClassifyConcurrent(t *testing.T) {
	engine, err := NewEngine(DefaultRules(), 5)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 1000 {
				r, f := 1+(i+j)%5, 1+j%5
				_ = engine.Classify(r, f, 3)
			}
		}()
	}
	wg.Wait()
}

func TestRulesFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "rules.yaml")

	require.NoError(t, WriteFile(path, DefaultRules()))
	loaded, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultRules(), loaded)

	_, err = NewEngine(loaded, 5)
	assert.NoError(t, err)
}

func TestLoadFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, WriteFile(path, nil))

	_, err := LoadFile(path)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestFromConfig(t *testing.T) {
	cfg := domain.DefaultConfig()
	got, err := FromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), got)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	custom := []domain.SegmentRule{{Name: "all", Label: domain.SegmentOthers, Expression: "true"}}
	require.NoError(t, WriteFile(path, custom))
	cfg.RulesFile = path
	got, err = FromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, custom, got)

	inline := []domain.SegmentRule{{Name: "inline", Label: domain.SegmentLost, Expression: "true"}}
	cfg.SegmentRules = inline
	got, err = FromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, inline, got)
}
