package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/adalundhe/switchyard/core/orchestrator"
	"github.com/adalundhe/switchyard/core/session"
	"github.com/adalundhe/switchyard/core/storage"
)

var (
	turnSession    string
	turnAgent      string
	turnEntryPoint string
	turnJSON       bool
	turnNoPersist  bool
)

var turnCmd = &cobra.Command{
	Use:   "turn [text]",
	Short: "Run conversational turns through the agent pipeline",
	Long: `Run one turn for the given text. Without text, read one message per
line from stdin; on a terminal this is an interactive prompt.

Examples:
  switchyard turn "how many roles do we have"
  switchyard turn --session s1 --agent historian "summarise"
  switchyard turn --session s1`,
	RunE: runTurn,
}

func init() {
	rootCmd.AddCommand(turnCmd)
	turnCmd.Flags().StringVarP(&turnSession, "session", "s", "", "Session id; state is persisted across turns")
	turnCmd.Flags().StringVarP(&turnAgent, "agent", "a", "", "Force the first agent")
	turnCmd.Flags().StringVar(&turnEntryPoint, "entry", "", "Entry point used when --agent is empty")
	turnCmd.Flags().BoolVar(&turnJSON, "json", false, "Print the full turn result as JSON")
	turnCmd.Flags().BoolVar(&turnNoPersist, "no-persist", false, "Do not read or write the session store")
}

func isTerminalFd(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// turnRunner carries state between turns of one CLI invocation.
type turnRunner struct {
	ctrl  *orchestrator.Controller
	store *session.Store
	state map[string]any
	out   io.Writer
}

func runTurn(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	cfg := currentConfig()

	a, err := buildApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	r := &turnRunner{ctrl: a.controller, out: cmd.OutOrStdout()}
	if turnSession != "" && !turnNoPersist {
		if err := storage.EnsureParent(cfg.Session.Path); err != nil {
			return err
		}
		store, err := session.Open(cfg.Session.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		r.store = store
		if r.state, err = store.Load(ctx, turnSession); err != nil {
			return err
		}
	}

	if len(args) > 0 {
		return r.run(ctx, strings.Join(args, " "))
	}
	return r.loop(ctx, cmd.InOrStdin())
}

func (r *turnRunner) loop(ctx context.Context, in io.Reader) error {
	interactive := isTerminal(in)
	sc := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(r.out, colorize(r.out, colorBold, "> "))
		}
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := r.run(ctx, line); err != nil {
			if !interactive {
				return err
			}
			fmt.Fprintln(r.out, colorize(r.out, colorRed, "error: "+err.Error()))
		}
	}
}

func (r *turnRunner) run(ctx context.Context, message string) error {
	res, err := r.ctrl.RunTurn(ctx, orchestrator.TurnRequest{
		Message:    message,
		SessionID:  turnSession,
		AgentName:  turnAgent,
		EntryPoint: turnEntryPoint,
		State:      r.state,
	})
	if err != nil {
		return err
	}
	r.state = res.State
	if r.store != nil {
		if err := r.store.Save(ctx, turnSession, res.State); err != nil {
			return err
		}
	}

	if turnJSON {
		return writeResultJSON(r.out, res)
	}
	fmt.Fprintln(r.out, res.Reply)
	routes := make([]string, len(res.Routes))
	for i, tok := range res.Routes {
		routes[i] = string(tok)
	}
	fmt.Fprintln(r.out, colorize(r.out, colorGray, fmt.Sprintf("[%s via %s: %s]", res.Intent, res.Pattern, strings.Join(routes, " > "))))
	for _, e := range res.Errors {
		fmt.Fprintln(r.out, colorize(r.out, colorYellow, "warning: "+e))
	}
	return nil
}
