package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	coreerrors "github.com/adalundhe/switchyard/core/errors"
	"github.com/adalundhe/switchyard/core/intent"
)

var classifyJSON bool

var classifyCmd = &cobra.Command{
	Use:   "classify <text>",
	Short: "Classify a message against the rule table",
	Long: `Classify a message and print the resolved intent.

Examples:
  switchyard classify "please delete role admin"
  switchyard classify --json "there is an outage in building C"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "Output the result as JSON")
}

func runClassify(cmd *cobra.Command, args []string) error {
	cl, err := newClassifier(currentConfig())
	if err != nil {
		return err
	}

	res, err := cl.Classify(strings.Join(args, " "))
	if err != nil && !errors.Is(err, coreerrors.ErrNoRuleMatched) {
		return err
	}

	if classifyJSON {
		return writeResultJSON(cmd.OutOrStdout(), res)
	}
	writeResultText(cmd.OutOrStdout(), res)
	return nil
}

func writeResultJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeResultText(w io.Writer, res intent.Result) {
	if !res.Resolved {
		fmt.Fprintln(w, colorize(w, colorYellow, "unresolved"))
		return
	}
	fmt.Fprintf(w, "%s %s\n", colorize(w, colorBold, res.Intent), colorize(w, colorGray, "("+res.Rule+")"))
	fmt.Fprintf(w, "  action:     %s\n", res.Action)
	fmt.Fprintf(w, "  urgency:    %s (%.2f)\n", res.Urgency, res.UrgencyConfidence)
	fmt.Fprintf(w, "  confidence: %.2f\n", res.Confidence)
	fmt.Fprintf(w, "  keyword:    %q\n", res.Keyword)
	fmt.Fprintf(w, "  candidates: %d\n", res.Candidates)
}
