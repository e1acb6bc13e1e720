package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scrypster/rollcall/internal/api/mcp"
	"github.com/scrypster/rollcall/internal/roster"
)

// newMCPCommand serves the MCP tools over stdio. Stdout carries protocol
// frames only; the logger writes to stderr.
func newMCPCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve resolution tools to MCP clients over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			resolver, err := newResolver(cfg, store, logger)
			if err != nil {
				return err
			}

			rosters := roster.NewDirectory(cfg.Roster.Dir, logger)
			if err := rosters.Load(); err != nil {
				return err
			}
			if cfg.Roster.Watch {
				watcher := roster.NewWatcher(rosters, nil)
				if err := watcher.Start(); err != nil {
					logger.Warn("roster hot reload disabled", "error", err)
				} else {
					defer watcher.Stop()
				}
			}

			srv := mcp.NewServer(resolver,
				mcp.WithRosters(rosters),
				mcp.WithVersion(version),
				mcp.WithLogger(logger))
			logger.Info("mcp server ready", "session_id", srv.SessionID(), "scopes", rosters.Scopes())

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = mcp.NewStdioTransport(srv, cmd.InOrStdin(), cmd.OutOrStdout()).Serve(sigCtx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
