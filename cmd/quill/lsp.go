package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"quill/internal/lsp"
	"quill/internal/version"
)

var lspCmd = &cobra.Command{
	Use:   "lsp",
	Short: "Run the quill language server over stdio",
	Long: `Run the language server over stdio. Diagnostics are published after each
edit, feature-module tweaks are offered as code actions, and module bindings
are merged into the server capabilities at initialize.`,
	RunE: runLSP,
}

func init() {
	lspCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (overrides [lsp].metrics_addr)")
}

func runLSP(cmd *cobra.Command, _ []string) error {
	a, err := appFrom(cmd.Context())
	if err != nil {
		return err
	}
	metricsAddr, err := cmd.Flags().GetString("metrics-addr")
	if err != nil {
		return fmt.Errorf("failed to get metrics-addr flag: %w", err)
	}
	if metricsAddr == "" {
		metricsAddr = a.cfg.LSP.MetricsAddr
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	server := lsp.NewServer(os.Stdin, os.Stdout, lsp.ServerOptions{
		Registry: a.registry,
		Engine:   a.engine,
		Debounce: a.cfg.LSP.Debounce.Duration,
		Log:      a.log,
		Metrics:  a.metrics,
		Version:  version.Version,
	})
	if metricsAddr != "" {
		go func() {
			if err := lsp.ServeMetrics(ctx, metricsAddr, a.metrics, a.log); err != nil {
				a.log.Error().Err(err).Str("addr", metricsAddr).Msg("metrics endpoint stopped")
			}
		}()
	}

	if err := server.Run(ctx); err != nil {
		if errors.Is(err, lsp.ErrExit) {
			return nil
		}
		if errors.Is(err, lsp.ErrExitWithoutShutdown) {
			return fmt.Errorf("lsp exit without shutdown")
		}
		return err
	}
	return nil
}
