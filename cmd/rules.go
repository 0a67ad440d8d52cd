package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/adalundhe/switchyard/core/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect rule tables",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the active rules in declaration order",
	Args:  cobra.NoArgs,
	RunE:  runRulesList,
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a rule table (the configured one when no file is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRulesValidate,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd, rulesValidateCmd)
}

func runRulesList(cmd *cobra.Command, _ []string) error {
	rs, err := rules.LoadOrDefault(currentConfig().Rules.Path)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tINTENT\tPRIORITY\tACTION\tURGENCY\tCONFIDENCE\tKEYWORDS")
	for _, r := range rs.Rules() {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%.2f\t%s\n",
			r.Name, r.Intent, r.Priority, r.Action, r.Urgency, r.Confidence, strings.Join(r.Keywords, ", "))
	}
	return tw.Flush()
}

func runRulesValidate(cmd *cobra.Command, args []string) error {
	path := currentConfig().Rules.Path
	if len(args) == 1 {
		path = args[0]
	}
	rs, err := rules.LoadOrDefault(path)
	if err != nil {
		return err
	}

	source := path
	if source == "" {
		source = "embedded table"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d rules, version %d, fingerprint %s\n",
		colorize(cmd.OutOrStdout(), colorGreen, "ok"), source, rs.Len(), rs.Version(), rs.Fingerprint())
	return nil
}
