package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adalundhe/switchyard/core/api"
	"github.com/adalundhe/switchyard/core/session"
	"github.com/adalundhe/switchyard/core/storage"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := currentConfig()
	a, err := buildApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := storage.EnsureParent(cfg.Session.Path); err != nil {
		return err
	}
	store, err := session.Open(cfg.Session.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	h := api.NewHandler(api.Config{
		Controller: a.controller,
		Sessions:   store,
		Metrics:    a.metrics,
	})
	return api.ListenAndServe(ctx, addr, h)
}
