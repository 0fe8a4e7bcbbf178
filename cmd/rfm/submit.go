package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/opensource-finance/rfm/internal/domain"
)

var submitFlags struct {
	format string
	sheets []string
}

var submitCmd = &cobra.Command{
	Use:   "submit [input...]",
	Short: "Ask a running server to execute a run and wait for the outcome",
	Long: "Publishes a run request on the NATS bus and waits for the worker's reply. Inputs must be " +
		"paths the server can read.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.EventBus.Type != "nats" {
			return domain.ConfigError("submit needs event_bus.type nats, got %q", cfg.EventBus.Type)
		}

		env, err := openEnv(cfg, envOptions{bus: true})
		if err != nil {
			return err
		}
		defer env.Close()

		payload, err := json.Marshal(domain.RunRequest{
			Inputs: args,
			Format: submitFlags.format,
			Sheets: submitFlags.sheets,
		})
		if err != nil {
			return eris.Wrap(err, "encode run request")
		}

		reply, err := env.bus.Request(cmd.Context(), domain.TopicRunRequested, payload)
		if err != nil {
			return eris.Wrap(err, "run request")
		}
		return printEvent(cmd.OutOrStdout(), reply)
	},
}

// printEvent writes the reply and turns a failed run into an error.
func printEvent(w io.Writer, reply []byte) error {
	var event domain.RunEvent
	if err := json.Unmarshal(reply, &event); err != nil {
		return eris.Wrap(err, "decode run reply")
	}
	if event.Status != domain.RunStatusCompleted {
		return eris.Errorf("run failed: %s", event.Error)
	}

	fmt.Fprintf(w, "Run %s %s (cached: %t)\n", event.RunID, event.Status, event.Cached)
	fmt.Fprintf(w, "Customers: %d  Valid rows: %d of %d\n",
		event.Stats.Customers, event.Stats.ValidRows, event.Stats.RawRows)
	for _, s := range event.Summary {
		fmt.Fprintf(w, "  %-20s %6d  %5.1f%%\n", s.Segment, s.Customers, s.Share*100)
	}
	return nil
}

func init() {
	submitCmd.Flags().StringVar(&submitFlags.format, "format", "", "input format: xlsx, csv or sql")
	submitCmd.Flags().StringSliceVar(&submitFlags.sheets, "sheet", nil, "workbook sheet to read (repeatable)")
	rootCmd.AddCommand(submitCmd)
}
