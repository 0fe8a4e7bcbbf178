package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/opensource-finance/rfm/internal/domain"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored segmentation runs",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := openEnv(cfg, envOptions{repository: true})
		if err != nil {
			return err
		}
		defer env.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := env.repo.ListRuns(cmd.Context(), limit)
		if err != nil {
			return eris.Wrap(err, "runs list")
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "No runs found.")
			return nil
		}

		formatRunsList(cmd.OutOrStdout(), runs)
		return nil
	},
}

// -- runs show --

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := openEnv(cfg, envOptions{repository: true})
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.repo.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "runs show")
		}

		if withRows, _ := cmd.Flags().GetBool("rows"); withRows {
			segment, _ := cmd.Flags().GetString("segment")
			run.Rows, err = env.repo.ListRows(ctx, run.RunID, domain.RowFilter{Segment: domain.Segment(segment)})
			if err != nil {
				return eris.Wrap(err, "runs show")
			}
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func formatRunsList(w io.Writer, runs []*domain.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tGENERATED\tWINDOW\tCUSTOMERS\tROWS\tREJECTED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s..%s\t%d\t%d\t%d\n",
			r.RunID,
			r.GeneratedAt.Format("2006-01-02 15:04"),
			r.Window.Start.Format(domain.DateLayout),
			r.Window.End.Format(domain.DateLayout),
			r.Stats.Customers,
			r.Stats.RawRows,
			r.Rejections.Rejected(),
		)
	}
	_ = tw.Flush()
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "max number of runs to display")

	runsShowCmd.Flags().Bool("rows", false, "include customer rows")
	runsShowCmd.Flags().String("segment", "", "only rows of this segment (with --rows)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
