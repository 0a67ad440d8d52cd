package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	coreerrors "github.com/adalundhe/switchyard/core/errors"
	"github.com/adalundhe/switchyard/core/intent"
)

var batchWorkers int

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Classify every line of a file",
	Long: `Classify each non-empty line of a file ("-" reads stdin) and print one
JSON object per line, in input order.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().IntVarP(&batchWorkers, "workers", "w", runtime.GOMAXPROCS(0), "Concurrent classifications")
}

type batchLine struct {
	Line   int           `json:"line"`
	Text   string        `json:"text"`
	Result intent.Result `json:"result"`
}

func runBatch(cmd *cobra.Command, args []string) error {
	var in io.Reader = cmd.InOrStdin()
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	lines, err := readLines(in)
	if err != nil {
		return err
	}

	cl, err := newClassifier(currentConfig())
	if err != nil {
		return err
	}

	out, err := classifyAll(cl, lines, batchWorkers)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, l := range out {
		if err := enc.Encode(l); err != nil {
			return err
		}
	}
	return nil
}

type numberedLine struct {
	n    int
	text string
}

func readLines(r io.Reader) ([]numberedLine, error) {
	var lines []numberedLine
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		if text := strings.TrimSpace(sc.Text()); text != "" {
			lines = append(lines, numberedLine{n: n, text: text})
		}
	}
	return lines, sc.Err()
}

// classifyAll keeps input order regardless of completion order.
func classifyAll(cl *intent.Classifier, lines []numberedLine, workers int) ([]batchLine, error) {
	out := make([]batchLine, len(lines))
	var g errgroup.Group
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, l := range lines {
		g.Go(func() error {
			res, err := cl.Classify(l.text)
			if err != nil && !errors.Is(err, coreerrors.ErrNoRuleMatched) {
				return fmt.Errorf("line %d: %w", l.n, err)
			}
			out[i] = batchLine{Line: l.n, Text: l.text, Result: res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
