package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scrypster/rollcall/internal/config"
	"github.com/scrypster/rollcall/internal/roster"
	"github.com/scrypster/rollcall/internal/scheduler"
	"github.com/scrypster/rollcall/internal/server"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the resolution HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(sigCtx, cfg, logger, func(addr string) {
				fmt.Fprintf(cmd.OutOrStdout(), "rollcall listening on http://%s\n", addr)
			})
		},
	}
}

// runServe starts every long-lived component and blocks until ctx is done.
// ready is called with the listen address once the server accepts requests.
func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger, ready func(addr string)) error {
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
	logger.Info("rosters loaded", "dir", rosters.Dir(), "scopes", rosters.Scopes())

	if cfg.Roster.Watch {
		watcher := roster.NewWatcher(rosters, nil)
		if err := watcher.Start(); err != nil {
			logger.Warn("roster hot reload disabled", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	if spec := cfg.Schedule.ExpirePending; spec != "" {
		expiry, err := scheduler.NewExpiryScheduler(spec, resolver, logger)
		if err != nil {
			return err
		}
		expiry.Start()
		defer expiry.Stop()
	}

	if spec := cfg.Backup.Schedule; spec != "" {
		if cfg.Storage.StorageEngine != "sqlite" {
			logger.Info("scheduled backups disabled", "reason", "only the sqlite engine is snapshotted")
		} else {
			svc, err := newBackupService(cfg, logger)
			if err != nil {
				return err
			}
			backups, err := scheduler.NewBackupScheduler(spec, svc, backupTimeout, logger)
			if err != nil {
				return err
			}
			backups.Start()
			defer backups.Stop()
		}
	}

	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	addr, _, err := server.Start(serverCtx, cfg, server.Options{
		Resolver: resolver,
		Rosters:  rosters,
		Version:  version,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if ready != nil {
		ready(addr)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}
