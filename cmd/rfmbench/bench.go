package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/opensource-finance/rfm/internal/domain"
	"github.com/opensource-finance/rfm/internal/pipeline"
	"github.com/opensource-finance/rfm/internal/source"
)

var generateOut string

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a synthetic extract (csv, or xlsx with one sheet per month)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		lines := gen.Lines()
		if err := writeExtract(generateOut, lines); err != nil {
			return err
		}
		w := gen.Window()
		p := message.NewPrinter(language.English)
		p.Fprintf(cmd.OutOrStdout(), "wrote %d lines to %s (window %s..%s)\n", len(lines), generateOut, w.Start, w.End)
		return nil
	},
}

var benchFlags struct {
	input      string
	from       string
	to         string
	iterations int
	quantiles  int
	partitions int
}

// result is the outcome of one benchmark.
type result struct {
	Lines      int
	Customers  int
	Iterations int
	Durations  []time.Duration
	Violations []string
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run the pipeline repeatedly and check every report",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cfg := domain.DefaultConfig()
		cfg.AnalysisWindow = gen.Window()
		if benchFlags.from != "" {
			cfg.AnalysisWindow.Start = benchFlags.from
		}
		if benchFlags.to != "" {
			cfg.AnalysisWindow.End = benchFlags.to
		}
		cfg.QuantileCount = benchFlags.quantiles
		cfg.Partitions = benchFlags.partitions

		lines, err := loadLines(ctx, cfg)
		if err != nil {
			return err
		}

		p, err := pipeline.New(cfg)
		if err != nil {
			return err
		}

		res, err := runBench(ctx, p, lines, benchFlags.iterations, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		printBench(cmd.OutOrStdout(), res)
		if len(res.Violations) > 0 {
			return eris.Errorf("%d invariant violations", len(res.Violations))
		}
		return nil
	},
}

func loadLines(ctx context.Context, cfg *domain.Config) ([]domain.TransactionLine, error) {
	if benchFlags.input == "" {
		return gen.Lines(), nil
	}
	src := cfg.Source
	src.Paths = []string{benchFlags.input}
	s, err := source.Open(src, source.Options{Progress: os.Stderr})
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return source.ReadAll(ctx, s)
}

// runBench runs p over lines the given number of times. Every report is
// checked against the scoring invariants.
func runBench(ctx context.Context, p *pipeline.Pipeline, lines []domain.TransactionLine, iterations int, progress io.Writer) (*result, error) {
	iterations = max(iterations, 1)
	res := &result{Lines: len(lines), Iterations: iterations}

	bar := progressbar.NewOptions(iterations,
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription("pipeline"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	defer bar.Finish() //nolint:errcheck

	for range iterations {
		start := time.Now()
		report, err := p.Run(ctx, slices.Values(lines))
		if err != nil {
			return nil, err
		}
		res.Durations = append(res.Durations, time.Since(start))
		res.Customers = len(report.Rows)
		res.Violations = append(res.Violations, checkReport(report, p.Engine())...)
		_ = bar.Add(1)
	}
	return res, nil
}

func printBench(w io.Writer, r *result) {
	p := message.NewPrinter(language.English)
	sorted := slices.Clone(r.Durations)
	slices.Sort(sorted)

	var total time.Duration
	for _, d := range sorted {
		total += d
	}
	mean := total / time.Duration(len(sorted))

	p.Fprintf(w, "\nLines:       %d\n", r.Lines)
	p.Fprintf(w, "Customers:   %d\n", r.Customers)
	p.Fprintf(w, "Iterations:  %d\n", r.Iterations)
	p.Fprintf(w, "Fastest:     %v\n", sorted[0].Round(time.Millisecond))
	p.Fprintf(w, "Mean:        %v\n", mean.Round(time.Millisecond))
	p.Fprintf(w, "Slowest:     %v\n", sorted[len(sorted)-1].Round(time.Millisecond))
	if mean > 0 {
		p.Fprintf(w, "Throughput:  %.0f lines/sec\n", float64(r.Lines)/mean.Seconds())
	}

	if len(r.Violations) == 0 {
		fmt.Fprintln(w, "Invariants:  ok")
		return
	}
	fmt.Fprintf(w, "Invariants:  %d violations\n", len(r.Violations))
	for _, v := range r.Violations[:min(len(r.Violations), 20)] {
		fmt.Fprintf(w, "  - %s\n", v)
	}
}

func init() {
	generateCmd.Flags().StringVar(&generateOut, "out", "pos.xlsx", "output file (.xlsx or .csv)")

	f := benchCmd.Flags()
	f.StringVar(&benchFlags.input, "input", "", "benchmark an existing extract instead of generated data")
	f.StringVar(&benchFlags.from, "from", "", "analysis window start (default: generated window)")
	f.StringVar(&benchFlags.to, "to", "", "analysis window end (default: generated window)")
	f.IntVar(&benchFlags.iterations, "iterations", 3, "pipeline runs")
	f.IntVar(&benchFlags.quantiles, "quantiles", 5, "quantile count")
	f.IntVar(&benchFlags.partitions, "partitions", 4, "aggregation partitions")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(benchCmd)
}
