package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/rfm/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and validate segment rules",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the active rules and how many score triples each claims",
	RunE: func(cmd *cobra.Command, _ []string) error {
		set, err := rules.FromConfig(cfg)
		if err != nil {
			return err
		}
		engine, err := rules.NewEngine(set, cfg.QuantileCount)
		if err != nil {
			return err
		}
		formatRules(cmd.OutOrStdout(), engine)
		return nil
	},
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check [rules-file]",
	Short: "Check that a rule set compiles and ends with a catch-all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := rules.FromConfig(cfg)
		if len(args) == 1 {
			set, err = rules.LoadFile(args[0])
		}
		if err != nil {
			return err
		}
		engine, err := rules.NewEngine(set, cfg.QuantileCount)
		if err != nil {
			return err
		}
		q := engine.Quantiles()
		fmt.Fprintf(cmd.OutOrStdout(), "ok: %d rules classify all %d score triples\n", len(engine.Rules()), q*q*q)
		return nil
	},
}

var rulesDumpCmd = &cobra.Command{
	Use:   "dump <path>",
	Short: "Write the active rule set to a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := rules.FromConfig(cfg)
		if err != nil {
			return err
		}
		if err := rules.WriteFile(args[0], set); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rules to %s\n", len(set), args[0])
		return nil
	},
}

func formatRules(w io.Writer, engine *rules.Engine) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tNAME\tLABEL\tTRIPLES\tEXPRESSION")
	coverage := engine.Coverage()
	for i, rule := range engine.Rules() {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", i+1, rule.Name, rule.Label, coverage[i].Triples, rule.Expression)
	}
	_ = tw.Flush()
}

func init() {
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesCheckCmd)
	rulesCmd.AddCommand(rulesDumpCmd)
	rootCmd.AddCommand(rulesCmd)
}
