package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"labagent/internal/httpapi"
)

func (cc *cliContext) serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (chat, models, tools)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := cc.loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}

			// Cancelled on SIGINT/SIGTERM so downloads and in-flight
			// requests can wind down.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := cc.newState(ctx, cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := st.Close(); cerr != nil {
					fmt.Fprintln(os.Stderr, "shutdown:", cerr)
				}
			}()

			ln, err := net.Listen("tcp", cfg.Listen)
			if err != nil {
				return withExit(ExitBindFailure, fmt.Errorf("bind %s: %w", cfg.Listen, err))
			}

			s := newStyles(cmd.OutOrStdout(), cc.flags.JSON)
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, s.banner(cfg.App.Version))
			fmt.Fprintln(out, s.kv("Listening", s.URL.Render("http://"+ln.Addr().String())))
			fmt.Fprintln(out, s.kv("Tool server", cfg.MCP.URL))
			fmt.Fprintln(out, s.kv("Inference", cfg.Engine.BaseURL))
			fmt.Fprintln(out, s.kv("Models dir", cfg.Models.Dir))
			if cfg.Models.Default == "" {
				fmt.Fprintln(out, s.warnPrefix(), "no default model; load one with POST /models/load")
			}

			st.Startup(ctx)

			err = httpapi.New(st).Serve(ctx, ln)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config, 0.0.0.0:8000)")
	return cmd
}
