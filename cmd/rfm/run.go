package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/rfm/internal/domain"
	"github.com/opensource-finance/rfm/internal/job"
)

var runFlags struct {
	from      string
	to        string
	reference string
	format    string
	sheets    []string
	outputs   []string
	outDir    string
	noPersist bool
	quiet     bool
}

var runCmd = &cobra.Command{
	Use:   "run [input...]",
	Short: "Segment customers from one or more extracts",
	Long: "Reads the extracts (or the configured source), scores every customer and writes the report " +
		"to the configured outputs. Nothing is written when the run fails.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyRunFlags(cfg)

		env, err := openEnv(cfg, envOptions{
			repository: cfg.Output.Persist,
			cache:      true,
			bus:        cfg.Output.Publish,
		})
		if err != nil {
			return err
		}
		defer env.Close()

		deps := env.jobDeps()
		deps.Console = cmd.OutOrStdout()
		if !runFlags.quiet {
			deps.Progress = os.Stderr
		}

		j, err := job.New(cfg, deps)
		if err != nil {
			return err
		}

		result, err := j.Execute(ctx, domain.RunRequest{
			Inputs: args,
			Format: runFlags.format,
			Sheets: runFlags.sheets,
		})
		if err != nil {
			return err
		}

		printResult(cmd.ErrOrStderr(), result)
		return nil
	},
}

// applyRunFlags overrides configuration with the flags that were set.
func applyRunFlags(c *domain.Config) {
	if runFlags.from != "" {
		c.AnalysisWindow.Start = runFlags.from
	}
	if runFlags.to != "" {
		c.AnalysisWindow.End = runFlags.to
	}
	if runFlags.reference != "" {
		c.ReferenceDate = runFlags.reference
	}
	if len(runFlags.outputs) > 0 {
		c.Output.Formats = runFlags.outputs
	}
	if runFlags.outDir != "" {
		c.Output.Dir = runFlags.outDir
	}
	if runFlags.noPersist {
		c.Output.Persist = false
	}
}

func printResult(w io.Writer, result *job.Result) {
	if result.Cached {
		fmt.Fprintf(w, "Run %s served from cache\n", result.Report.RunID)
	} else {
		fmt.Fprintf(w, "Run %s completed in %dms\n", result.Report.RunID, result.Report.Stats.TotalMs)
	}
	for _, f := range result.Files {
		fmt.Fprintf(w, "  wrote %s\n", f)
	}
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.from, "from", "", "analysis window start (YYYY-MM-DD)")
	f.StringVar(&runFlags.to, "to", "", "analysis window end (YYYY-MM-DD)")
	f.StringVar(&runFlags.reference, "reference-date", "", `reference date (YYYY-MM-DD or "last_invoice")`)
	f.StringVar(&runFlags.format, "format", "", "input format: xlsx, csv or sql (default by extension)")
	f.StringSliceVar(&runFlags.sheets, "sheet", nil, "workbook sheet to read (repeatable, default every sheet)")
	f.StringSliceVar(&runFlags.outputs, "output", nil, "output format: xlsx, csv, json, console (repeatable)")
	f.StringVar(&runFlags.outDir, "out-dir", "", "directory for report files")
	f.BoolVar(&runFlags.noPersist, "no-persist", false, "do not store the run in the repository")
	f.BoolVarP(&runFlags.quiet, "quiet", "q", false, "hide the load progress bar")

	rootCmd.AddCommand(runCmd)
}
